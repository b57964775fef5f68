package users

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/circulation-backend/pkg/db/models"
	"github.com/angelmondragon/circulation-backend/pkg/enums"
)

// UserDTO is the transport shape that omits credentials.
type UserDTO struct {
	ID        uuid.UUID      `json:"id"`
	Username  string         `json:"username"`
	FullName  string         `json:"full_name"`
	Email     *string        `json:"email,omitempty"`
	Role      enums.UserRole `json:"role"`
	CreatedAt time.Time      `json:"created_at"`
}

// CreateUserDTO holds the data required by the repo to persist a new user.
type CreateUserDTO struct {
	Username     string
	FullName     string
	Email        *string
	PasswordHash string
	Role         enums.UserRole
}

func FromModel(u *models.User) *UserDTO {
	if u == nil {
		return nil
	}
	return &UserDTO{
		ID:        u.ID,
		Username:  u.Username,
		FullName:  u.FullName,
		Email:     u.Email,
		Role:      u.Role,
		CreatedAt: u.CreatedAt,
	}
}

func (d CreateUserDTO) ToModel() *models.User {
	return &models.User{
		Username:     NormalizeUsername(d.Username),
		FullName:     strings.TrimSpace(d.FullName),
		Email:        d.Email,
		PasswordHash: d.PasswordHash,
		Role:         d.Role,
	}
}

// NormalizeUsername lowercases and trims so lookups are case-insensitive.
func NormalizeUsername(v string) string {
	return strings.ToLower(strings.TrimSpace(v))
}
