package entity

import "time"

const (
	UserRoleSuperAdmin = "super_admin"
	UserRoleAdmin      = "admin"
	UserRoleUser       = "user"
)

// DbUser represents a persisted user account together with its brand defaults.
type DbUser struct {
	ID           uint      `gorm:"primarykey" json:"id"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	Email        string    `gorm:"column:email;type:varchar(255);uniqueIndex;not null" json:"email"`
	PasswordHash string    `gorm:"column:password_hash;type:varchar(255);not null" json:"-"`
	DisplayName  string    `gorm:"column:display_name;type:varchar(255)" json:"display_name"`
	Role         string    `gorm:"column:role;type:varchar(50);index;not null" json:"role"`
	IsActive     bool      `gorm:"column:is_active;not null;default:true" json:"is_active"`

	// Brand defaults used as dispatch fallbacks when a request leaves them empty.
	BrandPrimaryColor   string `gorm:"column:brand_primary_color;type:varchar(32)" json:"brand_primary_color"`
	BrandSecondaryColor string `gorm:"column:brand_secondary_color;type:varchar(32)" json:"brand_secondary_color"`
	BrandSlogan         string `gorm:"column:brand_slogan;type:varchar(255)" json:"brand_slogan"`
}

// TableName overrides default pluralised name.
func (DbUser) TableName() string {
	return "users"
}

// UserQuery supports listing users with pagination.
type UserQuery struct {
	BaseParams
	Role    string `json:"role" form:"role" query:"role"`
	Keyword string `json:"keyword" form:"keyword" query:"keyword"`
}

type AuthLoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type AuthRegisterRequest struct {
	Email       string `json:"email" binding:"required,email"`
	Password    string `json:"password" binding:"required,min=8"`
	DisplayName string `json:"display_name"`
}

type UserCreateRequest struct {
	Email       string `json:"email" binding:"required,email"`
	Password    string `json:"password" binding:"required,min=8"`
	DisplayName string `json:"display_name"`
	Role        string `json:"role"`
	IsActive    *bool  `json:"is_active,omitempty"`
}

type UserUpdateRequest struct {
	DisplayName         *string `json:"display_name,omitempty"`
	Password            *string `json:"password,omitempty"`
	Role                *string `json:"role,omitempty"`
	IsActive            *bool   `json:"is_active,omitempty"`
	BrandPrimaryColor   *string `json:"brand_primary_color,omitempty"`
	BrandSecondaryColor *string `json:"brand_secondary_color,omitempty"`
	BrandSlogan         *string `json:"brand_slogan,omitempty"`
}

// UserSummary is the public view of a user.
type UserSummary struct {
	ID                  uint      `json:"id"`
	Email               string    `json:"email"`
	DisplayName         string    `json:"display_name"`
	Role                string    `json:"role"`
	IsActive            bool      `json:"is_active"`
	BrandPrimaryColor   string    `json:"brand_primary_color"`
	BrandSecondaryColor string    `json:"brand_secondary_color"`
	BrandSlogan         string    `json:"brand_slogan"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

type UserListResponse struct {
	Users []UserSummary `json:"users"`
	Meta  *Meta         `json:"meta"`
}

type AuthResponse struct {
	Token     string      `json:"token"`
	ExpiresAt time.Time   `json:"expires_at"`
	User      UserSummary `json:"user"`
	// Warnings lists signup side effects that did not complete.
	Warnings []string `json:"warnings,omitempty"`
}

type AuthStatusResponse struct {
	HasUser bool `json:"has_user"`
}
