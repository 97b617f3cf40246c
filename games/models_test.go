package games

import (
	"testing"

	"gorm.io/datatypes"
)

func TestResolveAuthorID(t *testing.T) {
	legacyID := "42"
	blank := "   "
	cases := []struct {
		name string
		game Game
		want string
	}{
		{"plain identifier", Game{Author: "7"}, "7"},
		{"object with id", Game{Author: `{"id":"7","name":"Alice"}`}, "7"},
		{"object with underscore id", Game{Author: `{"_id":"64b0c1"}`}, "64b0c1"},
		{"object with numeric id", Game{Author: `{"id":7}`}, "7"},
		{"legacy sibling column", Game{AuthorID: &legacyID}, "42"},
		{"object without id falls back", Game{Author: `{"name":"Alice"}`, AuthorID: &legacyID}, "42"},
		{"blank sibling", Game{AuthorID: &blank}, ""},
		{"nothing stored", Game{}, ""},
		{"whitespace author", Game{Author: "  7  "}, "7"},
		{"malformed object", Game{Author: "{not json"}, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.game.ResolveAuthorID(); got != tc.want {
				t.Errorf("ResolveAuthorID() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestFileRefsTolerateBadColumn(t *testing.T) {
	game := Game{Files: datatypes.JSON(`not json`)}
	refs := game.FileRefs()
	if refs.MainFile != "" || len(refs.AssetFiles) != 0 || len(refs.Thumbnails) != 0 {
		t.Errorf("corrupt files column should decode empty, got %+v", refs)
	}

	empty := Game{}
	refs = empty.FileRefs()
	if refs.AssetFiles == nil || refs.Thumbnails == nil {
		t.Error("missing files column should yield non-nil slices")
	}
}

func TestSettingsOrDefault(t *testing.T) {
	game := Game{}
	settings := game.SettingsOrDefault()
	if settings.Width != 800 || settings.Height != 600 || !settings.Fullscreen {
		t.Errorf("default settings = %+v", settings)
	}

	game.Settings = datatypes.JSON(`{"width":1024,"height":768,"fullscreen":false}`)
	settings = game.SettingsOrDefault()
	if settings.Width != 1024 || settings.Height != 768 || settings.Fullscreen {
		t.Errorf("stored settings = %+v", settings)
	}
}

func TestValidGameType(t *testing.T) {
	for _, valid := range []string{"webgl", "html5", "javascript", "unity", "phaser", "text", "pixel", "wasm"} {
		if !validGameType(valid) {
			t.Errorf("validGameType(%q) = false", valid)
		}
	}
	for _, invalid := range []string{"", "flash", "HTML5", "native"} {
		if validGameType(invalid) {
			t.Errorf("validGameType(%q) = true", invalid)
		}
	}
}

func TestIsPlaceholderImage(t *testing.T) {
	if !isPlaceholderImage(placeholderImageURL) {
		t.Error("default cover should be recognized as placeholder")
	}
	if !isPlaceholderImage("https://example.com/placeholder.png") {
		t.Error("placeholder path should be recognized")
	}
	if isPlaceholderImage("/uploads/games/game_1/cover.png") {
		t.Error("stored cover misdetected as placeholder")
	}
}
