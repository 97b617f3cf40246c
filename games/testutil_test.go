package games

import (
	"archive/zip"
	"bytes"
	"fmt"
	"mime/multipart"
	"net/http"
	"strings"
	"testing"
	"time"

	jwt "github.com/appleboy/gin-jwt/v2"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func newTestModule(t *testing.T) (*Module, *gin.Engine) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	if err := db.AutoMigrate(&Game{}, &Like{}); err != nil {
		t.Fatalf("migrate schema: %v", err)
	}

	store, err := newAssetStore(t.TempDir())
	if err != nil {
		t.Fatalf("create asset store: %v", err)
	}

	module := &Module{db: db, store: store}
	router := gin.New()
	module.mountRoutes(router, testAuth(false), testAuth(true))
	return module, router
}

// testAuth replays the claims the JWT middleware would set, driven by the
// X-Test-User and X-Test-Role request headers.
func testAuth(optional bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetHeader("X-Test-User")
		if userID == "" {
			if optional {
				c.Next()
				return
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}
		role := c.GetHeader("X-Test-Role")
		if role == "" {
			role = "user"
		}
		c.Set("JWT_PAYLOAD", jwt.MapClaims{
			"user_id": userID,
			"email":   userID + "@example.com",
			"role":    role,
		})
		c.Next()
	}
}

type formFile struct {
	field   string
	name    string
	content []byte
}

func multipartRequest(t *testing.T, method, target string, fields map[string]string, files []formFile) *http.Request {
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
			t.Fatalf("create form file %s: %v", file.field, err)
		}
		if _, err := part.Write(file.content); err != nil {
			t.Fatalf("write form file %s: %v", file.field, err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}

	request, err := http.NewRequest(method, target, &body)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	request.Header.Set("Content-Type", writer.FormDataContentType())
	return request
}

func fileHeaderFor(t *testing.T, fileName string, content []byte) *multipart.FileHeader {
	t.Helper()
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", fileName)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := part.Write(content); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}

	form, err := multipart.NewReader(&body, writer.Boundary()).ReadForm(32 << 20)
	if err != nil {
		t.Fatalf("read multipart form: %v", err)
	}
	t.Cleanup(func() { form.RemoveAll() })
	return form.File["file"][0]
}

func zipArchive(t *testing.T, entries map[string][]byte) []byte {
	t.Helper()
	var body bytes.Buffer
	writer := zip.NewWriter(&body)
	for name, content := range entries {
		entry, err := writer.Create(name)
		if err != nil {
			t.Fatalf("create zip entry %s: %v", name, err)
		}
		if _, err := entry.Write(content); err != nil {
			t.Fatalf("write zip entry %s: %v", name, err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close zip writer: %v", err)
	}
	return body.Bytes()
}

func createTestGame(t *testing.T, m *Module, author string, mutate func(*Game)) *Game {
	t.Helper()
	game := &Game{
		ID:          uuid.NewString(),
		Title:       "Test Game",
		Description: "A game for testing",
		Category:    "arcade",
		GameType:    gameTypeHTML5,
		Image:       placeholderImageURL,
		Author:      author,
		LastUpdated: time.Now().UTC(),
	}
	game.GameDirName = "game_" + game.ID
	if err := game.SetFileRefs(GameFiles{}); err != nil {
		t.Fatalf("encode file refs: %v", err)
	}
	settings, err := encodeSettings(defaultSettings())
	if err != nil {
		t.Fatalf("encode settings: %v", err)
	}
	game.Settings = settings

	if mutate != nil {
		mutate(game)
	}
	if err := m.db.Create(game).Error; err != nil {
		t.Fatalf("insert game: %v", err)
	}
	return game
}

func reloadGame(t *testing.T, m *Module, id string) *Game {
	t.Helper()
	var game Game
	if err := m.db.First(&game, "id = ?", id).Error; err != nil {
		t.Fatalf("reload game %s: %v", id, err)
	}
	return &game
}
