package games

import (
	"bytes"
	"mime/multipart"
	"testing"
)

func buildForm(t *testing.T, fields map[string]string, files []formFile) *multipart.Form {
	t.Helper()
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			t.Fatalf("write field %s: %v", key, err)
		}
	}
	for _, file := range files {
		part, err := writer.CreateFormFile(file.field, file.name)
		if err != nil {
			t.Fatalf("create form file: %v", err)
		}
		if _, err := part.Write(file.content); err != nil {
			t.Fatalf("write form file: %v", err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}

	form, err := multipart.NewReader(&body, writer.Boundary()).ReadForm(32 << 20)
	if err != nil {
		t.Fatalf("read form: %v", err)
	}
	t.Cleanup(func() { form.RemoveAll() })
	return form
}

func TestParseSettingsField(t *testing.T) {
	form := buildForm(t, map[string]string{"settings": `{"width":640,"height":480,"fullscreen":false}`}, nil)
	settings, err := parseSettingsField(form)
	if err != nil {
		t.Fatalf("parse settings: %v", err)
	}
	if settings.Width != 640 || settings.Height != 480 || settings.Fullscreen {
		t.Errorf("settings = %+v", settings)
	}

	form = buildForm(t, nil, nil)
	if settings, err := parseSettingsField(form); err != nil || settings != nil {
		t.Errorf("absent settings = %+v, %v", settings, err)
	}

	for _, raw := range []string{"not json", `{"width":-1}`, `{"width":800,"height":0}`} {
		form = buildForm(t, map[string]string{"settings": raw}, nil)
		if _, err := parseSettingsField(form); err == nil {
			t.Errorf("settings %q accepted", raw)
		}
	}
}

func TestCollectAssetFilesWithCount(t *testing.T) {
	form := buildForm(t, map[string]string{"assetFilesCount": "2"}, []formFile{
		{field: "assetFile_0", name: "a.png", content: []byte("a")},
		{field: "assetFile_1", name: "b.png", content: []byte("b")},
		{field: "assetFile_9", name: "ignored.png", content: []byte("x")},
	})
	files := collectAssetFiles(form)
	if len(files) != 2 || files[0].Filename != "a.png" || files[1].Filename != "b.png" {
		t.Errorf("collected %d files", len(files))
	}
}

func TestCollectAssetFilesWithoutCount(t *testing.T) {
	form := buildForm(t, nil, []formFile{
		{field: "assetFile_10", name: "late.png", content: []byte("z")},
		{field: "assetFile_2", name: "early.png", content: []byte("a")},
	})
	files := collectAssetFiles(form)
	if len(files) != 2 || files[0].Filename != "early.png" || files[1].Filename != "late.png" {
		t.Errorf("collected files out of order: %d", len(files))
	}
}
