package users

import (
	"time"

	"github.com/google/uuid"

	"github.com/sparehub/sparehub-backend/pkg/db/models"
	"github.com/sparehub/sparehub-backend/pkg/enums"
)

// UserDTO is the transport shape that omits credentials.
type UserDTO struct {
	ID           uuid.UUID      `json:"id"`
	Email        string         `json:"email"`
	FullName     string         `json:"full_name"`
	Phone        *string        `json:"phone,omitempty"`
	Role         enums.UserRole `json:"role"`
	BusinessName *string        `json:"business_name,omitempty"`
	Address      *string        `json:"address,omitempty"`
	IsActive     bool           `json:"is_active"`
	LastLoginAt  *time.Time     `json:"last_login_at,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// RegisterRequest contains the payload for onboarding a new account.
type RegisterRequest struct {
	Email        string  `json:"email" validate:"required,email"`
	Password     string  `json:"password" validate:"required,min=8"`
	FullName     string  `json:"full_name" validate:"required"`
	Phone        *string `json:"phone,omitempty"`
	Role         string  `json:"role" validate:"required"`
	BusinessName *string `json:"business_name,omitempty"`
	Address      *string `json:"address,omitempty"`
}

// LoginRequest carries login credentials.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// AuthResponse bundles the minted token with the authenticated user.
type AuthResponse struct {
	AccessToken string   `json:"access_token"`
	User        *UserDTO `json:"user"`
}

// FromModel converts the persisted user into its transport shape.
func FromModel(u *models.User) *UserDTO {
	if u == nil {
		return nil
	}
	return &UserDTO{
		ID:           u.ID,
		Email:        u.Email,
		FullName:     u.FullName,
		Phone:        u.Phone,
		Role:         u.Role,
		BusinessName: u.BusinessName,
		Address:      u.Address,
		IsActive:     u.IsActive,
		LastLoginAt:  u.LastLoginAt,
		CreatedAt:    u.CreatedAt,
		UpdatedAt:    u.UpdatedAt,
	}
}
