package authorization

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
)

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
	RolePro   = "pro"
)

// User represents a platform account. Games reference users through the
// string form of ID.
type User struct {
	ID                uint       `gorm:"primaryKey" json:"id"`
	Name              string     `gorm:"size:60;not null" json:"name"`
	Email             string     `gorm:"uniqueIndex;size:128;not null" json:"email"`
	PasswordHash      string     `gorm:"size:255;not null" json:"-"`
	Image             string     `gorm:"size:255;default:''" json:"image"`
	Bio               string     `gorm:"type:text" json:"bio"`
	Role              string     `gorm:"size:16;not null;default:'user'" json:"role"`
	Provider          string     `gorm:"size:32;default:'credentials'" json:"provider"`
	ProviderAccountID *string    `gorm:"size:128" json:"provider_account_id,omitempty"`
	LastLoginAt       *time.Time `json:"last_login_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// TableName keeps the table name stable across driver defaults.
func (User) TableName() string {
	return "users"
}

// ValidRole reports whether the given role is one of the known role names.
func ValidRole(role string) bool {
	switch role {
	case RoleUser, RoleAdmin, RolePro:
		return true
	default:
		return false
	}
}

// UserStore provides data access helpers backed by GORM.
type UserStore struct {
	db *gorm.DB
}

// NewUserStore wraps the given database handle.
func NewUserStore(db *gorm.DB) *UserStore {
	return &UserStore{db: db}
}

// UpdateProfileParams holds the fields eligible for profile updates.
type UpdateProfileParams struct {
	Name  *string
	Bio   *string
	Image *string
}

// FindByID loads a user by primary key.
func (s *UserStore) FindByID(ctx context.Context, id uint) (*User, error) {
	if s == nil {
		return nil, errors.New("authorization: user store not initialized")
	}
	var user User
	result := s.db.WithContext(ctx).Where("id = ?", id).First(&user)
	if result.Error != nil {
		return nil, result.Error
	}
	return &user, nil
}

// FindByEmail loads a user by unique, lowercased email.
func (s *UserStore) FindByEmail(ctx context.Context, email string) (*User, error) {
	var user User
	normalized := strings.ToLower(strings.TrimSpace(email))
	result := s.db.WithContext(ctx).Where("email = ?", normalized).First(&user)
	if result.Error != nil {
		return nil, result.Error
	}
	return &user, nil
}

// Create inserts a new user record.
func (s *UserStore) Create(ctx context.Context, user *User) error {
	return s.db.WithContext(ctx).Create(user).Error
}

// UpdateProfile persists profile related fields for the given user id.
func (s *UserStore) UpdateProfile(ctx context.Context, userID uint, params UpdateProfileParams) (*User, error) {
	if s == nil {
		return nil, errors.New("authorization: user store not initialized")
	}

	updates := make(map[string]interface{})

	if params.Name != nil {
		name := strings.TrimSpace(*params.Name)
		if name == "" {
			return nil, ErrInvalidName
		}
		updates["name"] = name
	}

	if params.Bio != nil {
		updates["bio"] = strings.TrimSpace(*params.Bio)
	}

	if params.Image != nil {
		updates["image"] = strings.TrimSpace(*params.Image)
	}

	if len(updates) == 0 {
		return s.FindByID(ctx, userID)
	}

	updates["updated_at"] = time.Now().UTC()
	result := s.db.WithContext(ctx).Model(&User{}).Where("id = ?", userID).Updates(updates)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, gorm.ErrRecordNotFound
	}

	return s.FindByID(ctx, userID)
}

// UpdateRole sets the role column for the given user.
func (s *UserStore) UpdateRole(ctx context.Context, userID uint, role string) (*User, error) {
	if !ValidRole(role) {
		return nil, ErrInvalidRole
	}

	result := s.db.WithContext(ctx).Model(&User{}).Where("id = ?", userID).
		Updates(map[string]interface{}{"role": role, "updated_at": time.Now().UTC()})
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, gorm.ErrRecordNotFound
	}

	return s.FindByID(ctx, userID)
}

// List returns all users ordered by creation time, newest first.
func (s *UserStore) List(ctx context.Context) ([]User, error) {
	var users []User
	if err := s.db.WithContext(ctx).Order("created_at desc").Find(&users).Error; err != nil {
		return nil, err
	}
	return users, nil
}

// CountByRole returns the number of users holding the given role. An empty
// role counts every account.
func (s *UserStore) CountByRole(ctx context.Context, role string) (int64, error) {
	var count int64
	query := s.db.WithContext(ctx).Model(&User{})
	if role != "" {
		query = query.Where("role = ?", role)
	}
	if err := query.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (s *UserStore) touchLastLogin(ctx context.Context, userID uint) {
	now := time.Now().UTC()
	_ = s.db.WithContext(ctx).Model(&User{}).Where("id = ?", userID).
		UpdateColumn("last_login_at", now).Error
}
