package admin

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	jwt "github.com/appleboy/gin-jwt/v2"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"dggames_back/authorization"
	"dggames_back/games"
)

// Module exposes the administrative surface: user management and
// platform-wide statistics.
type Module struct {
	db    *gorm.DB
	users *authorization.UserStore
}

// RegisterRoutes mounts the admin endpoints under /admin. Every route
// requires an authenticated caller holding the admin role.
func RegisterRoutes(router *gin.Engine, guard *authorization.Guard) (*Module, error) {
	db, err := openDatabaseFromEnv()
	if err != nil {
		return nil, err
	}

	module := &Module{db: db, users: authorization.NewUserStore(db)}
	module.mountRoutes(router, guard.RequireAuthenticated(), guard.RequireRole(authorization.RoleAdmin))
	return module, nil
}

func (m *Module) mountRoutes(router *gin.Engine, middleware ...gin.HandlerFunc) {
	admin := router.Group("/admin")
	admin.Use(middleware...)
	admin.GET("/users", m.handleListUsers)
	admin.PUT("/users/:id/role", m.handleUpdateUserRole)
	admin.GET("/stats", m.handleStats)
}

type adminUser struct {
	ID          uint       `json:"id"`
	Name        string     `json:"name"`
	Email       string     `json:"email"`
	Image       string     `json:"image"`
	Role        string     `json:"role"`
	GameCount   int64      `json:"gameCount"`
	LastLoginAt *time.Time `json:"lastLoginAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
}

func (m *Module) handleListUsers(c *gin.Context) {
	users, err := m.users.List(c.Request.Context())
	if err != nil {
		log.Printf("admin: list users: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list users"})
		return
	}

	counts, err := m.gameCountsByAuthor(c)
	if err != nil {
		log.Printf("admin: count games: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list users"})
		return
	}

	items := make([]adminUser, 0, len(users))
	for i := range users {
		user := &users[i]
		items = append(items, adminUser{
			ID:          user.ID,
			Name:        user.Name,
			Email:       user.Email,
			Image:       user.Image,
			Role:        user.Role,
			GameCount:   counts[fmt.Sprint(user.ID)],
			LastLoginAt: user.LastLoginAt,
			CreatedAt:   user.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"users": items})
}

// gameCountsByAuthor tallies games per owner. Ownership cannot be grouped in
// SQL because legacy rows keep the identity in an embedded author object or
// the sibling author_id column, so rows are normalized in Go.
func (m *Module) gameCountsByAuthor(c *gin.Context) (map[string]int64, error) {
	var rows []games.Game
	if err := m.db.WithContext(c.Request.Context()).
		Model(&games.Game{}).
		Select("author", "author_id").
		Find(&rows).Error; err != nil {
		return nil, err
	}

	counts := make(map[string]int64, len(rows))
	for i := range rows {
		if id := rows[i].ResolveAuthorID(); id != "" {
			counts[id]++
		}
	}
	return counts, nil
}

type updateRoleRequest struct {
	Role string `json:"role" binding:"required"`
}

func (m *Module) handleUpdateUserRole(c *gin.Context) {
	userID, err := strconv.ParseUint(strings.TrimSpace(c.Param("id")), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}

	var request updateRoleRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "role is required"})
		return
	}
	role := strings.ToLower(strings.TrimSpace(request.Role))

	// admins cannot change their own role, so the platform always keeps at
	// least the acting administrator
	caller := authorization.UserIDFromClaims(jwt.ExtractClaims(c))
	if caller == fmt.Sprint(userID) {
		c.JSON(http.StatusForbidden, gin.H{"error": "you cannot change your own role"})
		return
	}

	updated, err := m.users.UpdateRole(c.Request.Context(), uint(userID), role)
	if err != nil {
		switch {
		case errors.Is(err, authorization.ErrInvalidRole):
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("unknown role %q", role)})
		case errors.Is(err, gorm.ErrRecordNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		default:
			log.Printf("admin: update role for %d: %v", userID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update role"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Role updated successfully", "role": updated.Role})
}

type platformStats struct {
	TotalUsers int64 `json:"totalUsers"`
	AdminUsers int64 `json:"adminUsers"`
	ProUsers   int64 `json:"proUsers"`
	TotalGames int64 `json:"totalGames"`
	TotalPlays int64 `json:"totalPlays"`
	TotalLikes int64 `json:"totalLikes"`
}

func (m *Module) handleStats(c *gin.Context) {
	ctx := c.Request.Context()
	db := m.db.WithContext(ctx)
	var stats platformStats

	steps := []struct {
		name string
		run  func() error
	}{
		{"count users", func() error {
			total, err := m.users.CountByRole(ctx, "")
			stats.TotalUsers = total
			return err
		}},
		{"count admins", func() error {
			total, err := m.users.CountByRole(ctx, authorization.RoleAdmin)
			stats.AdminUsers = total
			return err
		}},
		{"count pro users", func() error {
			total, err := m.users.CountByRole(ctx, authorization.RolePro)
			stats.ProUsers = total
			return err
		}},
		{"count games", func() error {
			return db.Model(&games.Game{}).Count(&stats.TotalGames).Error
		}},
		{"sum plays", func() error {
			return db.Model(&games.Game{}).Select("COALESCE(SUM(plays), 0)").Scan(&stats.TotalPlays).Error
		}},
		{"sum likes", func() error {
			return db.Model(&games.Game{}).Select("COALESCE(SUM(likes), 0)").Scan(&stats.TotalLikes).Error
		}},
	}
	for _, step := range steps {
		if err := step.run(); err != nil {
			log.Printf("admin: %s: %v", step.name, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to compute stats"})
			return
		}
	}

	c.JSON(http.StatusOK, stats)
}
