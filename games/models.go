package games

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"
)

const (
	gameTypeWebGL      = "webgl"
	gameTypeHTML5      = "html5"
	gameTypeJavaScript = "javascript"
	gameTypeUnity      = "unity"
	gameTypePhaser     = "phaser"
	gameTypeText       = "text"
	gameTypePixel      = "pixel"
	gameTypeWasm       = "wasm"
)

// placeholderImageURL is the cover used when no thumbnail is uploaded.
// Covers matching isPlaceholderImage are never deleted from disk.
const placeholderImageURL = "https://picsum.photos/400/225"

func validGameType(gameType string) bool {
	switch gameType {
	case gameTypeWebGL, gameTypeHTML5, gameTypeJavaScript, gameTypeUnity,
		gameTypePhaser, gameTypeText, gameTypePixel, gameTypeWasm:
		return true
	default:
		return false
	}
}

func isPlaceholderImage(imageURL string) bool {
	return strings.Contains(imageURL, "placeholder") || strings.Contains(imageURL, "picsum")
}

// Game is one hosted game: metadata, ownership, counters and the file
// references tying the record to its directory under the asset store.
type Game struct {
	ID          string         `gorm:"primaryKey;size:64" json:"id"`
	Title       string         `gorm:"size:100;not null" json:"title"`
	Description string         `gorm:"size:500;not null" json:"description"`
	Content     string         `gorm:"type:text" json:"content,omitempty"`
	Category    string         `gorm:"size:64;not null" json:"category"`
	GameType    string         `gorm:"size:32;not null" json:"gameType"`
	Image       string         `gorm:"size:255" json:"image"`
	Author      string         `gorm:"size:255;index" json:"author"`
	AuthorID    *string        `gorm:"size:64" json:"authorId,omitempty"`
	Files       datatypes.JSON `gorm:"type:json" json:"files"`
	Settings    datatypes.JSON `gorm:"type:json" json:"settings"`
	Likes       int64          `gorm:"not null;default:0" json:"likes"`
	Plays       int64          `gorm:"not null;default:0" json:"plays"`
	GameDirName string         `gorm:"size:128" json:"gameDirName"`
	CreatedAt   time.Time      `json:"createdAt"`
	LastUpdated time.Time      `json:"lastUpdated"`
}

// TableName keeps the table name stable across driver defaults.
func (Game) TableName() string {
	return "games"
}

// GameFiles is the JSON shape of the Files column. Every path is a
// site-relative URL inside this game's directory.
type GameFiles struct {
	MainFile   string   `json:"mainFile"`
	AssetFiles []string `json:"assetFiles"`
	Thumbnails []string `json:"thumbnails"`
}

// GameSettings is the JSON shape of the Settings column.
type GameSettings struct {
	Width      int  `json:"width"`
	Height     int  `json:"height"`
	Fullscreen bool `json:"fullscreen"`
}

func defaultSettings() GameSettings {
	return GameSettings{Width: 800, Height: 600, Fullscreen: true}
}

// FileRefs decodes the Files column. A missing or corrupt column yields an
// empty reference set rather than an error so legacy rows stay readable.
func (g *Game) FileRefs() GameFiles {
	var refs GameFiles
	if len(g.Files) > 0 {
		_ = json.Unmarshal(g.Files, &refs)
	}
	if refs.AssetFiles == nil {
		refs.AssetFiles = []string{}
	}
	if refs.Thumbnails == nil {
		refs.Thumbnails = []string{}
	}
	return refs
}

// SetFileRefs encodes the given references into the Files column.
func (g *Game) SetFileRefs(refs GameFiles) error {
	encoded, err := encodeFileRefs(refs)
	if err != nil {
		return err
	}
	g.Files = encoded
	return nil
}

func encodeFileRefs(refs GameFiles) (datatypes.JSON, error) {
	if refs.AssetFiles == nil {
		refs.AssetFiles = []string{}
	}
	if refs.Thumbnails == nil {
		refs.Thumbnails = []string{}
	}
	data, err := json.Marshal(refs)
	if err != nil {
		return nil, fmt.Errorf("games: encode file refs: %w", err)
	}
	return datatypes.JSON(data), nil
}

// SettingsOrDefault decodes the Settings column, falling back to the default
// playback configuration.
func (g *Game) SettingsOrDefault() GameSettings {
	settings := defaultSettings()
	if len(g.Settings) > 0 {
		_ = json.Unmarshal(g.Settings, &settings)
	}
	return settings
}

func encodeSettings(settings GameSettings) (datatypes.JSON, error) {
	data, err := json.Marshal(settings)
	if err != nil {
		return nil, fmt.Errorf("games: encode settings: %w", err)
	}
	return datatypes.JSON(data), nil
}

// ResolveAuthorID normalizes the stored author identity to a single
// comparable string. The author column may hold a plain identifier, a JSON
// object from older records, or be empty with a sibling authorId column.
// No usable identity resolves to "", which never matches a caller.
func (g *Game) ResolveAuthorID() string {
	raw := strings.TrimSpace(g.Author)
	if raw != "" {
		if strings.HasPrefix(raw, "{") {
			if id := authorIDFromObject(raw); id != "" {
				return id
			}
		} else {
			return raw
		}
	}

	if g.AuthorID != nil {
		if id := strings.TrimSpace(*g.AuthorID); id != "" {
			return id
		}
	}
	return ""
}

func authorIDFromObject(raw string) string {
	var obj map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &obj); err != nil {
		return ""
	}
	for _, key := range []string{"id", "_id", "userId"} {
		value, ok := obj[key]
		if !ok {
			continue
		}
		switch v := value.(type) {
		case string:
			if trimmed := strings.TrimSpace(v); trimmed != "" {
				return trimmed
			}
		case float64:
			return fmt.Sprintf("%.0f", v)
		}
	}
	return ""
}

// Like records one user's like on one game; the unique index backs
// duplicate-like rejection.
type Like struct {
	ID        uint64    `gorm:"primaryKey" json:"id"`
	GameID    string    `gorm:"size:64;not null;index:idx_game_user,unique" json:"game_id"`
	UserID    string    `gorm:"size:64;not null;index:idx_game_user,unique" json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName matches the collection name used by earlier deployments.
func (Like) TableName() string {
	return "likes"
}
