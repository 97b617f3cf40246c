package authorization

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	jwt "github.com/appleboy/gin-jwt/v2"
	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const (
	identityKey    = "user_id"
	defaultTimeout = time.Hour
)

var (
	ErrEmailTaken   = errors.New("authorization: email already registered")
	ErrWeakPassword = errors.New("authorization: password must be at least 6 characters")
	ErrInvalidName  = errors.New("authorization: name cannot be empty")
	ErrInvalidRole  = errors.New("authorization: unknown role")
)

// Module wires together the JWT middleware and backing services.
type Module struct {
	db            *gorm.DB
	userStore     *UserStore
	jwtMiddleware *jwt.GinJWTMiddleware
	captcha       *CaptchaStore
	avatarStorage *AvatarStorage
}

// RegisterRoutes bootstraps the authentication endpoints under /auth.
func RegisterRoutes(router *gin.Engine) (*Module, error) {
	db, err := openDatabaseFromEnv()
	if err != nil {
		return nil, err
	}

	if err := db.AutoMigrate(&User{}); err != nil {
		return nil, fmt.Errorf("authorization: migrate models: %w", err)
	}

	userStore := &UserStore{db: db}

	var captchaStore *CaptchaStore
	if strings.EqualFold(strings.TrimSpace(os.Getenv("CAPTCHA_ENABLED")), "true") {
		captchaStore = NewCaptchaStore(3 * time.Minute)
	}

	avatarStore, err := NewAvatarStorageFromEnv()
	if err != nil {
		return nil, err
	}

	authService := &AuthService{users: userStore}

	middleware, err := buildJWTMiddleware(authService)
	if err != nil {
		return nil, err
	}

	module := &Module{
		db:            db,
		userStore:     userStore,
		jwtMiddleware: middleware,
		captcha:       captchaStore,
		avatarStorage: avatarStore,
	}

	authGroup := router.Group("/auth")
	authGroup.GET("/captcha", module.handleIssueCaptcha)
	authGroup.POST("/register", module.handleRegister)
	authGroup.POST("/login", module.handleLogin)
	authGroup.POST("/refresh", middleware.RefreshHandler)

	secured := authGroup.Group("")
	secured.Use(middleware.MiddlewareFunc())
	secured.GET("/profile", module.handleGetProfile)
	secured.PUT("/profile", module.handleUpdateProfile)
	secured.POST("/profile/avatar", module.handleUploadAvatar)

	return module, nil
}

func (m *Module) handleIssueCaptcha(c *gin.Context) {
	if m.captcha == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "captcha is not enabled"})
		return
	}

	challenge := m.captcha.Issue()
	expiresIn := int(challenge.TTL.Seconds())
	if expiresIn < 1 {
		expiresIn = 1
	}
	c.JSON(http.StatusOK, gin.H{
		"captcha_id": challenge.ID,
		"image":      challenge.ImageBase64,
		"expires_in": expiresIn,
		"expires_at": challenge.ExpiresAt.UTC(),
	})
}

func (m *Module) handleRegister(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request payload"})
		return
	}

	if m.captcha != nil && !m.captcha.Verify(req.CaptchaID, req.CaptchaAnswer) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid captcha"})
		return
	}

	ctx := c.Request.Context()
	user, err := (&AuthService{users: m.userStore}).Register(ctx, req.Name, req.Email, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrMissingLoginValues):
			c.JSON(http.StatusBadRequest, gin.H{"error": "name, email and password are required"})
		case errors.Is(err, ErrWeakPassword):
			c.JSON(http.StatusBadRequest, gin.H{"error": ErrWeakPassword.Error()})
		case errors.Is(err, ErrEmailTaken):
			c.JSON(http.StatusConflict, gin.H{"error": "email already registered"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to register"})
		}
		return
	}

	c.JSON(http.StatusCreated, gin.H{"user": buildUserPayload(user)})
}

func (m *Module) handleLogin(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil || len(body) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request payload"})
		return
	}

	var req LoginRequest
	if err := json.Unmarshal(body, &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request payload"})
		return
	}

	if m.captcha != nil && !m.captcha.Verify(req.CaptchaID, req.CaptchaAnswer) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid captcha"})
		return
	}

	c.Request.Body = io.NopCloser(bytes.NewReader(body))
	m.jwtMiddleware.LoginHandler(c)
}

func (m *Module) handleGetProfile(c *gin.Context) {
	userID := extractUserID(jwt.ExtractClaims(c))
	if userID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	user, err := m.userStore.FindByID(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load user"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"user": buildUserPayload(user)})
}

func (m *Module) handleUpdateProfile(c *gin.Context) {
	var req UpdateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request payload"})
		return
	}
	if req.Name == nil && req.Bio == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no fields to update"})
		return
	}

	userID := extractUserID(jwt.ExtractClaims(c))
	if userID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	updated, err := m.userStore.UpdateProfile(c.Request.Context(), userID, UpdateProfileParams{
		Name: req.Name,
		Bio:  req.Bio,
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidName):
			c.JSON(http.StatusBadRequest, gin.H{"error": "name is required"})
		case errors.Is(err, gorm.ErrRecordNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update profile"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"user": buildUserPayload(updated)})
}

func (m *Module) handleUploadAvatar(c *gin.Context) {
	if m.avatarStorage == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "avatar upload not configured"})
		return
	}

	userID := extractUserID(jwt.ExtractClaims(c))
	if userID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	file, err := c.FormFile("avatar")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "avatar file is required"})
		return
	}

	ctx := c.Request.Context()
	existing, err := m.userStore.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load user"})
		}
		return
	}

	uploaded, err := m.avatarStorage.Upload(file)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to upload avatar"})
		return
	}

	updated, err := m.userStore.UpdateProfile(ctx, userID, UpdateProfileParams{Image: &uploaded})
	if err != nil {
		_ = m.avatarStorage.Remove(uploaded)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update profile"})
		return
	}

	if old := strings.TrimSpace(existing.Image); old != "" && old != uploaded {
		_ = m.avatarStorage.Remove(old)
	}

	c.JSON(http.StatusOK, gin.H{"user": buildUserPayload(updated)})
}

func buildJWTMiddleware(service *AuthService) (*jwt.GinJWTMiddleware, error) {
	secret := strings.TrimSpace(os.Getenv("JWT_SECRET"))
	if secret == "" {
		return nil, errors.New("authorization: JWT_SECRET environment variable is required")
	}

	return jwt.New(&jwt.GinJWTMiddleware{
		Realm:       "dggames",
		Key:         []byte(secret),
		Timeout:     defaultTimeout,
		MaxRefresh:  24 * time.Hour,
		IdentityKey: identityKey,
		PayloadFunc: func(data interface{}) jwt.MapClaims {
			if user, ok := data.(*AuthenticatedUser); ok {
				return jwt.MapClaims{
					identityKey: user.ID,
					"email":     user.Email,
					"role":      user.Role,
				}
			}
			return jwt.MapClaims{}
		},
		IdentityHandler: func(c *gin.Context) interface{} {
			claims := jwt.ExtractClaims(c)
			email, _ := claims["email"].(string)
			role, _ := claims["role"].(string)
			return &AuthenticatedUser{ID: extractUserID(claims), Email: email, Role: role}
		},
		Authenticator: func(c *gin.Context) (interface{}, error) {
			var req LoginRequest
			if err := c.ShouldBindJSON(&req); err != nil {
				return nil, jwt.ErrMissingLoginValues
			}
			user, err := service.Authenticate(c.Request.Context(), req.Email, req.Password)
			if err != nil {
				return nil, err
			}
			c.Set("authenticated_user", user)
			return user, nil
		},
		Authorizator: func(data interface{}, c *gin.Context) bool {
			_, ok := data.(*AuthenticatedUser)
			return ok
		},
		Unauthorized: func(c *gin.Context, code int, message string) {
			c.JSON(code, gin.H{"error": message})
		},
		LoginResponse: func(c *gin.Context, code int, token string, expire time.Time) {
			response := gin.H{
				"token":  token,
				"expire": expire,
			}
			if value, ok := c.Get("authenticated_user"); ok {
				if authUser, ok := value.(*AuthenticatedUser); ok && authUser != nil {
					if user, err := service.users.FindByID(c.Request.Context(), authUser.ID); err == nil {
						response["user"] = buildUserPayload(user)
					}
				}
			}
			c.JSON(code, response)
		},
		RefreshResponse: func(c *gin.Context, code int, token string, expire time.Time) {
			c.JSON(code, gin.H{"token": token, "expire": expire})
		},
		TokenLookup:   "header: Authorization, cookie: jwt, cookie: token",
		TokenHeadName: "Bearer",
		TimeFunc:      time.Now,
	})
}

// LoginRequest represents the expected payload for the login endpoint.
type LoginRequest struct {
	Email         string `json:"email" binding:"required"`
	Password      string `json:"password" binding:"required"`
	CaptchaID     string `json:"captcha_id"`
	CaptchaAnswer string `json:"captcha_answer"`
}

// RegisterRequest captures the payload for account registration.
type RegisterRequest struct {
	Name          string `json:"name" binding:"required"`
	Email         string `json:"email" binding:"required"`
	Password      string `json:"password" binding:"required,min=6"`
	CaptchaID     string `json:"captcha_id"`
	CaptchaAnswer string `json:"captcha_answer"`
}

// UpdateProfileRequest captures profile update fields.
type UpdateProfileRequest struct {
	Name *string `json:"name"`
	Bio  *string `json:"bio"`
}

// AuthenticatedUser is the minimal identity stored inside JWT claims.
type AuthenticatedUser struct {
	ID    uint
	Email string
	Role  string
}

// AuthService handles authentication concerns.
type AuthService struct {
	users *UserStore
}

// Authenticate validates the given credentials and returns an authenticated user.
func (s *AuthService) Authenticate(ctx context.Context, email, password string) (*AuthenticatedUser, error) {
	if strings.TrimSpace(email) == "" || strings.TrimSpace(password) == "" {
		return nil, jwt.ErrMissingLoginValues
	}

	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, jwt.ErrFailedAuthentication
		}
		return nil, fmt.Errorf("authorization: authenticate user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, jwt.ErrFailedAuthentication
	}

	s.users.touchLastLogin(ctx, user.ID)

	return &AuthenticatedUser{ID: user.ID, Email: user.Email, Role: user.Role}, nil
}

// Register creates a new account with the provided credentials.
func (s *AuthService) Register(ctx context.Context, name, email, password string) (*User, error) {
	name = strings.TrimSpace(name)
	email = strings.ToLower(strings.TrimSpace(email))
	password = strings.TrimSpace(password)

	if name == "" || email == "" || password == "" {
		return nil, jwt.ErrMissingLoginValues
	}
	if len(password) < 6 {
		return nil, ErrWeakPassword
	}

	if _, err := s.users.FindByEmail(ctx, email); err == nil {
		return nil, ErrEmailTaken
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("authorization: lookup email: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("authorization: hash password: %w", err)
	}

	user := &User{
		Name:         name,
		Email:        email,
		PasswordHash: string(hash),
		Image:        defaultAvatarURL(email),
		Role:         RoleUser,
		Provider:     "credentials",
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("authorization: create user: %w", err)
	}

	return user, nil
}

// defaultAvatarURL generates a deterministic placeholder avatar for new accounts.
func defaultAvatarURL(email string) string {
	return "https://api.dicebear.com/7.x/avataaars/svg?seed=" + url.QueryEscape(email)
}

func extractUserID(claims jwt.MapClaims) uint {
	if claims == nil {
		return 0
	}
	idValue, ok := claims[identityKey]
	if !ok {
		return 0
	}

	switch v := idValue.(type) {
	case float64:
		return uint(v)
	case int64:
		return uint(v)
	case uint64:
		return uint(v)
	case int:
		return uint(v)
	case uint:
		return v
	case string:
		if parsed, err := strconv.ParseUint(v, 10, 64); err == nil {
			return uint(parsed)
		}
	case json.Number:
		if parsed, err := v.Int64(); err == nil {
			return uint(parsed)
		}
	}
	return 0
}

func buildUserPayload(user *User) gin.H {
	if user == nil {
		return gin.H{}
	}

	return gin.H{
		"id":            user.ID,
		"name":          user.Name,
		"email":         user.Email,
		"image":         user.Image,
		"bio":           user.Bio,
		"role":          user.Role,
		"last_login_at": user.LastLoginAt,
		"created_at":    user.CreatedAt,
		"updated_at":    user.UpdatedAt,
	}
}
