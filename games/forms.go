package games

import (
	"encoding/json"
	"fmt"
	"mime/multipart"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
)

const assetFieldPrefix = "assetFile_"

type uploadGameForm struct {
	Title       string
	Description string
	Category    string
	GameType    string
	Content     string
	Settings    *GameSettings
	Main        *multipart.FileHeader
	Thumbnail   *multipart.FileHeader
	Assets      []*multipart.FileHeader
}

type editGameForm struct {
	Title            *string
	Description      *string
	Category         *string
	GameType         *string
	Content          *string
	Settings         *GameSettings
	GameFile         *multipart.FileHeader
	Image            *multipart.FileHeader
	Assets           []*multipart.FileHeader
	RemoveGameFile   bool
	RemoveImageFile  bool
	RemoveAssetFiles []string
}

func bindUploadGameForm(c *gin.Context) (*uploadGameForm, error) {
	form, err := c.MultipartForm()
	if err != nil {
		return nil, fmt.Errorf("invalid multipart form: %w", err)
	}

	request := &uploadGameForm{
		Title:       strings.TrimSpace(firstFormValue(form, "title")),
		Description: strings.TrimSpace(firstFormValue(form, "description")),
		Category:    strings.TrimSpace(firstFormValue(form, "category")),
		GameType:    strings.TrimSpace(firstFormValue(form, "gameType")),
		Content:     firstFormValue(form, "content"),
		Main:        firstFormFile(form, "mainFile"),
		Thumbnail:   firstFormFile(form, "thumbnailFile"),
		Assets:      collectAssetFiles(form),
	}

	settings, err := parseSettingsField(form)
	if err != nil {
		return nil, err
	}
	request.Settings = settings

	if request.Title == "" || request.Description == "" || request.Category == "" || request.GameType == "" {
		return nil, fmt.Errorf("title, description, category and gameType are required")
	}
	if !validGameType(request.GameType) {
		return nil, fmt.Errorf("unsupported gameType %q", request.GameType)
	}
	if request.Main == nil {
		return nil, fmt.Errorf("mainFile is required")
	}
	return request, nil
}

func bindEditGameForm(c *gin.Context) (*editGameForm, error) {
	form, err := c.MultipartForm()
	if err != nil {
		return nil, fmt.Errorf("invalid multipart form: %w", err)
	}

	request := &editGameForm{
		Title:           optionalFormValue(form, "title"),
		Description:     optionalFormValue(form, "description"),
		Category:        optionalFormValue(form, "category"),
		GameType:        optionalFormValue(form, "gameType"),
		Content:         optionalFormValue(form, "content"),
		GameFile:        firstFormFile(form, "gameFile"),
		Image:           firstFormFile(form, "image"),
		Assets:          collectAssetFiles(form),
		RemoveGameFile:  boolFormValue(form, "removeGameFile"),
		RemoveImageFile: boolFormValue(form, "removeImageFile"),
	}

	if request.GameType != nil && !validGameType(*request.GameType) {
		return nil, fmt.Errorf("unsupported gameType %q", *request.GameType)
	}

	settings, err := parseSettingsField(form)
	if err != nil {
		return nil, err
	}
	request.Settings = settings

	if raw := strings.TrimSpace(firstFormValue(form, "removeAssetFiles")); raw != "" {
		var removals []string
		if err := json.Unmarshal([]byte(raw), &removals); err != nil {
			return nil, fmt.Errorf("removeAssetFiles must be a JSON array of URLs")
		}
		request.RemoveAssetFiles = removals
	}
	return request, nil
}

func parseSettingsField(form *multipart.Form) (*GameSettings, error) {
	raw := strings.TrimSpace(firstFormValue(form, "settings"))
	if raw == "" {
		return nil, nil
	}
	settings := defaultSettings()
	if err := json.Unmarshal([]byte(raw), &settings); err != nil {
		return nil, fmt.Errorf("settings must be a JSON object")
	}
	if settings.Width <= 0 || settings.Height <= 0 {
		return nil, fmt.Errorf("settings width and height must be positive")
	}
	return &settings, nil
}

// collectAssetFiles gathers every assetFile_{n} part. When the client sends
// assetFilesCount the indexed fields are read up to that count, otherwise
// every field with the prefix is taken in numeric order.
func collectAssetFiles(form *multipart.Form) []*multipart.FileHeader {
	if raw := strings.TrimSpace(firstFormValue(form, "assetFilesCount")); raw != "" {
		count, err := strconv.Atoi(raw)
		if err != nil || count <= 0 {
			return nil
		}
		files := make([]*multipart.FileHeader, 0, count)
		for i := 0; i < count; i++ {
			if header := firstFormFile(form, fmt.Sprintf("%s%d", assetFieldPrefix, i)); header != nil {
				files = append(files, header)
			}
		}
		return files
	}

	keys := make([]string, 0, len(form.File))
	for key := range form.File {
		if strings.HasPrefix(key, assetFieldPrefix) {
			keys = append(keys, key)
		}
	}
	if len(keys) == 0 {
		return nil
	}
	files := make([]*multipart.FileHeader, 0, len(keys))
	for _, key := range sortedAssetKeys(keys) {
		if header := firstFormFile(form, key); header != nil {
			files = append(files, header)
		}
	}
	return files
}

func firstFormValue(form *multipart.Form, key string) string {
	values, ok := form.Value[key]
	if !ok || len(values) == 0 {
		return ""
	}
	return values[0]
}

func optionalFormValue(form *multipart.Form, key string) *string {
	value := strings.TrimSpace(firstFormValue(form, key))
	if value == "" {
		return nil
	}
	return &value
}

func boolFormValue(form *multipart.Form, key string) bool {
	return strings.EqualFold(strings.TrimSpace(firstFormValue(form, key)), "true")
}

func firstFormFile(form *multipart.Form, key string) *multipart.FileHeader {
	files, ok := form.File[key]
	if !ok || len(files) == 0 {
		return nil
	}
	return files[0]
}
