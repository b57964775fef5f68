package users

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/circulation-backend/pkg/auth"
	"github.com/angelmondragon/circulation-backend/pkg/db"
	"github.com/angelmondragon/circulation-backend/pkg/db/models"
	"github.com/angelmondragon/circulation-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/circulation-backend/pkg/errors"
	"github.com/angelmondragon/circulation-backend/pkg/security"
)

var validate = validator.New()

type userRepository interface {
	Create(ctx context.Context, dto CreateUserDTO) (*models.User, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	ListByRole(ctx context.Context, role enums.UserRole) ([]models.User, error)
}

type RegisterInput struct {
	Username string
	FullName string
	Email    string
	Password string
}

// Service manages library accounts. Self-registration always yields a Member;
// only an actor holding manage_users may create other roles.
type Service interface {
	Register(ctx context.Context, input RegisterInput) (*UserDTO, error)
	CreateWithRole(ctx context.Context, actor auth.Actor, input RegisterInput, role enums.UserRole) (*UserDTO, error)
	Get(ctx context.Context, id uuid.UUID) (*UserDTO, error)
	ListMembers(ctx context.Context, actor auth.Actor) ([]UserDTO, error)
}

type service struct {
	repo userRepository
}

func NewService(repo userRepository) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("user repository required")
	}
	return &service{repo: repo}, nil
}

func (s *service) Register(ctx context.Context, input RegisterInput) (*UserDTO, error) {
	return s.create(ctx, input, enums.UserRoleMember)
}

func (s *service) CreateWithRole(ctx context.Context, actor auth.Actor, input RegisterInput, role enums.UserRole) (*UserDTO, error) {
	if err := auth.RequireCapability(actor, auth.CapabilityManageUsers); err != nil {
		return nil, err
	}
	if !role.IsValid() {
		return nil, pkgerrors.Newf(pkgerrors.CodeValidation, "invalid role %q", role)
	}
	return s.create(ctx, input, role)
}

func (s *service) create(ctx context.Context, input RegisterInput, role enums.UserRole) (*UserDTO, error) {
	username := NormalizeUsername(input.Username)
	if username == "" || strings.TrimSpace(input.FullName) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "username and full name are required")
	}
	if len(input.Password) < security.MinPasswordLength {
		return nil, pkgerrors.Newf(pkgerrors.CodeValidation, "password must be at least %d characters", security.MinPasswordLength)
	}
	var email *string
	if e := strings.TrimSpace(input.Email); e != "" {
		if err := validate.Var(e, "email"); err != nil {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid email")
		}
		email = &e
	}

	hash, err := security.HashPassword(input.Password)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "hash password")
	}
	user, err := s.repo.Create(ctx, CreateUserDTO{
		Username:     username,
		FullName:     input.FullName,
		Email:        email,
		PasswordHash: hash,
		Role:         role,
	})
	if err != nil {
		if db.IsUniqueViolation(err, "ux_users_username") {
			return nil, pkgerrors.New(pkgerrors.CodeConflict, "username already taken")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create user")
	}
	return FromModel(user), nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*UserDTO, error) {
	user, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "user not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load user")
	}
	return FromModel(user), nil
}

func (s *service) ListMembers(ctx context.Context, actor auth.Actor) ([]UserDTO, error) {
	if err := auth.RequireCapability(actor, auth.CapabilityManageUsers); err != nil {
		return nil, err
	}
	rows, err := s.repo.ListByRole(ctx, enums.UserRoleMember)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list members")
	}
	out := make([]UserDTO, 0, len(rows))
	for i := range rows {
		out = append(out, *FromModel(&rows[i]))
	}
	return out, nil
}
