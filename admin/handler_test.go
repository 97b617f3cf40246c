package admin

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	jwt "github.com/appleboy/gin-jwt/v2"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"dggames_back/authorization"
	"dggames_back/games"
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
	if err := db.AutoMigrate(&authorization.User{}, &games.Game{}); err != nil {
		t.Fatalf("migrate schema: %v", err)
	}

	module := &Module{db: db, users: authorization.NewUserStore(db)}
	router := gin.New()
	module.mountRoutes(router, testAdminAuth())
	return module, router
}

// testAdminAuth stands in for the JWT guard plus the admin role check.
func testAdminAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetHeader("X-Test-User")
		if userID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}
		role := c.GetHeader("X-Test-Role")
		if role != authorization.RoleAdmin {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin role required"})
			return
		}
		c.Set("JWT_PAYLOAD", jwt.MapClaims{"user_id": userID, "role": role})
		c.Next()
	}
}

func seedUser(t *testing.T, m *Module, name, role string) *authorization.User {
	t.Helper()
	user := &authorization.User{
		Name:         name,
		Email:        strings.ToLower(name) + "@example.com",
		PasswordHash: "x",
		Role:         role,
	}
	if err := m.db.Create(user).Error; err != nil {
		t.Fatalf("seed user %s: %v", name, err)
	}
	return user
}

func seedGame(t *testing.T, m *Module, author string, likes, plays int64) *games.Game {
	t.Helper()
	game := &games.Game{
		ID:          uuid.NewString(),
		Title:       "Seeded",
		Description: "seed",
		Category:    "arcade",
		GameType:    "html5",
		Author:      author,
		Likes:       likes,
		Plays:       plays,
		LastUpdated: time.Now().UTC(),
	}
	if err := m.db.Create(game).Error; err != nil {
		t.Fatalf("seed game: %v", err)
	}
	return game
}

func asAdmin(request *http.Request, userID string) *http.Request {
	request.Header.Set("X-Test-User", userID)
	request.Header.Set("X-Test-Role", authorization.RoleAdmin)
	return request
}

func TestListUsersWithGameCounts(t *testing.T) {
	module, router := newTestModule(t)
	admin := seedUser(t, module, "Root", authorization.RoleAdmin)
	maker := seedUser(t, module, "Maker", authorization.RoleUser)
	makerID := fmt.Sprint(maker.ID)
	seedGame(t, module, makerID, 0, 0)
	seedGame(t, module, makerID, 0, 0)
	// legacy shapes count toward the same owner
	seedGame(t, module, fmt.Sprintf(`{"id":%q,"name":"Maker"}`, makerID), 0, 0)
	legacy := seedGame(t, module, "", 0, 0)
	if err := module.db.Model(legacy).Update("author_id", makerID).Error; err != nil {
		t.Fatalf("set legacy author: %v", err)
	}

	request, _ := http.NewRequest(http.MethodGet, "/admin/users", nil)
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, asAdmin(request, fmt.Sprint(admin.ID)))
	if recorder.Code != http.StatusOK {
		t.Fatalf("list returned %d: %s", recorder.Code, recorder.Body.String())
	}

	var response struct {
		Users []adminUser `json:"users"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &response); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(response.Users) != 2 {
		t.Fatalf("listed %d users", len(response.Users))
	}
	counts := make(map[string]int64, len(response.Users))
	for _, user := range response.Users {
		counts[user.Name] = user.GameCount
	}
	if counts["Maker"] != 4 || counts["Root"] != 0 {
		t.Errorf("game counts = %v", counts)
	}
}

func TestUpdateUserRole(t *testing.T) {
	module, router := newTestModule(t)
	admin := seedUser(t, module, "Root", authorization.RoleAdmin)
	target := seedUser(t, module, "Member", authorization.RoleUser)

	update := func(actor, targetID, role string) *httptest.ResponseRecorder {
		body, _ := json.Marshal(map[string]string{"role": role})
		request, _ := http.NewRequest(http.MethodPut, "/admin/users/"+targetID+"/role", bytes.NewReader(body))
		request.Header.Set("Content-Type", "application/json")
		recorder := httptest.NewRecorder()
		router.ServeHTTP(recorder, asAdmin(request, actor))
		return recorder
	}

	if recorder := update(fmt.Sprint(admin.ID), fmt.Sprint(target.ID), "pro"); recorder.Code != http.StatusOK {
		t.Fatalf("update returned %d: %s", recorder.Code, recorder.Body.String())
	}
	var stored authorization.User
	if err := module.db.First(&stored, "id = ?", target.ID).Error; err != nil {
		t.Fatalf("reload user: %v", err)
	}
	if stored.Role != authorization.RolePro {
		t.Errorf("role = %q, want pro", stored.Role)
	}

	if recorder := update(fmt.Sprint(admin.ID), fmt.Sprint(admin.ID), "user"); recorder.Code != http.StatusForbidden {
		t.Errorf("self demotion returned %d, want 403", recorder.Code)
	}
	if recorder := update(fmt.Sprint(admin.ID), fmt.Sprint(target.ID), "owner"); recorder.Code != http.StatusBadRequest {
		t.Errorf("unknown role returned %d, want 400", recorder.Code)
	}
	if recorder := update(fmt.Sprint(admin.ID), "9999", "pro"); recorder.Code != http.StatusNotFound {
		t.Errorf("missing user returned %d, want 404", recorder.Code)
	}
	if recorder := update(fmt.Sprint(admin.ID), "abc", "pro"); recorder.Code != http.StatusBadRequest {
		t.Errorf("bad id returned %d, want 400", recorder.Code)
	}
}

func TestAdminRoutesRequireAdminRole(t *testing.T) {
	_, router := newTestModule(t)

	request, _ := http.NewRequest(http.MethodGet, "/admin/stats", nil)
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, request)
	if recorder.Code != http.StatusUnauthorized {
		t.Errorf("anonymous returned %d, want 401", recorder.Code)
	}

	request, _ = http.NewRequest(http.MethodGet, "/admin/stats", nil)
	request.Header.Set("X-Test-User", "5")
	request.Header.Set("X-Test-Role", authorization.RoleUser)
	recorder = httptest.NewRecorder()
	router.ServeHTTP(recorder, request)
	if recorder.Code != http.StatusForbidden {
		t.Errorf("non-admin returned %d, want 403", recorder.Code)
	}
}

func TestStats(t *testing.T) {
	module, router := newTestModule(t)
	admin := seedUser(t, module, "Root", authorization.RoleAdmin)
	seedUser(t, module, "Maker", authorization.RoleUser)
	seedUser(t, module, "Pro", authorization.RolePro)
	seedGame(t, module, "2", 3, 10)
	seedGame(t, module, "2", 1, 5)

	request, _ := http.NewRequest(http.MethodGet, "/admin/stats", nil)
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, asAdmin(request, fmt.Sprint(admin.ID)))
	if recorder.Code != http.StatusOK {
		t.Fatalf("stats returned %d: %s", recorder.Code, recorder.Body.String())
	}

	var stats platformStats
	if err := json.Unmarshal(recorder.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	want := platformStats{TotalUsers: 3, AdminUsers: 1, ProUsers: 1, TotalGames: 2, TotalPlays: 15, TotalLikes: 4}
	if stats != want {
		t.Errorf("stats = %+v, want %+v", stats, want)
	}
}
