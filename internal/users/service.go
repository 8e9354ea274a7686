package users

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	pkgauth "github.com/sparehub/sparehub-backend/pkg/auth"
	"github.com/sparehub/sparehub-backend/pkg/config"
	"github.com/sparehub/sparehub-backend/pkg/db"
	"github.com/sparehub/sparehub-backend/pkg/db/models"
	"github.com/sparehub/sparehub-backend/pkg/enums"
	pkgerrors "github.com/sparehub/sparehub-backend/pkg/errors"
	"github.com/sparehub/sparehub-backend/pkg/security"
)

const invalidCredentialsMessage = "invalid credentials"

// Admin accounts are provisioned out of band, never through Register.
var registerableRoles = map[enums.UserRole]struct{}{
	enums.UserRoleClient:     {},
	enums.UserRoleVendor:     {},
	enums.UserRoleDispatcher: {},
}

var nigerianPhonePattern = regexp.MustCompile(`^\+234[0-9]{10}$`)

// Service defines registration and authentication behavior.
type Service interface {
	Register(ctx context.Context, req RegisterRequest) (*AuthResponse, error)
	Login(ctx context.Context, req LoginRequest) (*AuthResponse, error)
	Me(ctx context.Context, userID uuid.UUID) (*UserDTO, error)
}

// ServiceParams bundles the dependencies required to build a users service.
type ServiceParams struct {
	DB             *db.Client
	Repo           *Repository
	JWTConfig      config.JWTConfig
	PasswordConfig config.PasswordConfig
}

type service struct {
	db          *db.Client
	repo        *Repository
	jwtCfg      config.JWTConfig
	passwordCfg config.PasswordConfig
}

// NewService constructs a users service with the provided dependencies.
func NewService(params ServiceParams) (Service, error) {
	if params.DB == nil {
		return nil, fmt.Errorf("database client required")
	}
	if params.Repo == nil {
		return nil, fmt.Errorf("users repository required")
	}
	return &service{
		db:          params.DB,
		repo:        params.Repo,
		jwtCfg:      params.JWTConfig,
		passwordCfg: params.PasswordConfig,
	}, nil
}

// Register creates an account and signs the new user in.
func (s *service) Register(ctx context.Context, req RegisterRequest) (*AuthResponse, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "email is required")
	}
	if strings.TrimSpace(req.FullName) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "full_name is required")
	}
	if len(req.Password) < 8 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "password must be at least 8 characters")
	}

	role, err := enums.ParseUserRole(strings.ToLower(strings.TrimSpace(req.Role)))
	if err != nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid role")
	}
	if _, ok := registerableRoles[role]; !ok {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "role cannot be self-registered")
	}
	if role == enums.UserRoleVendor {
		if req.BusinessName == nil || strings.TrimSpace(*req.BusinessName) == "" {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "business_name is required for vendors")
		}
	}

	phone, err := normalizePhone(req.Phone)
	if err != nil {
		return nil, err
	}

	passwordHash, err := security.HashPassword(req.Password, s.passwordCfg)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "hash password")
	}

	var created *models.User
	err = s.db.WithTx(ctx, func(tx *gorm.DB) error {
		txRepo := s.repo.WithTx(tx)

		if _, err := txRepo.FindByEmail(ctx, email); err == nil {
			return pkgerrors.New(pkgerrors.CodeConflict, "email already registered")
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "check user email")
		}

		user := &models.User{
			Email:        email,
			PasswordHash: passwordHash,
			FullName:     strings.TrimSpace(req.FullName),
			Phone:        phone,
			Role:         role,
			BusinessName: req.BusinessName,
			Address:      req.Address,
			IsActive:     true,
		}
		created, err = txRepo.Create(ctx, user)
		if err != nil {
			if db.IsUniqueViolation(err, "") {
				return pkgerrors.New(pkgerrors.CodeConflict, "email already registered")
			}
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create user")
		}
		return nil
	})
	if err != nil {
		if pkgerrors.As(err) != nil {
			return nil, err
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "register user")
	}

	return s.issueToken(created, time.Now().UTC())
}

// Login authenticates the user and mints a fresh access token.
func (s *service) Login(ctx context.Context, req LoginRequest) (*AuthResponse, error) {
	user, err := s.authenticate(ctx, req.Email, req.Password)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if err := s.repo.UpdateLastLogin(ctx, user.ID, now); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "update last login")
	}
	user.LastLoginAt = &now

	return s.issueToken(user, now)
}

// Me returns the authenticated user's profile.
func (s *service) Me(ctx context.Context, userID uuid.UUID) (*UserDTO, error) {
	user, err := s.repo.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "user not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load user")
	}
	return FromModel(user), nil
}

func (s *service) authenticate(ctx context.Context, email, password string) (*models.User, error) {
	input := strings.TrimSpace(email)
	if input == "" {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, invalidCredentialsMessage)
	}
	user, err := s.repo.FindByEmail(ctx, strings.ToLower(input))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, invalidCredentialsMessage)
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lookup user")
	}

	valid, err := security.VerifyPassword(password, user.PasswordHash)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "verify password")
	}
	if !valid || !user.IsActive {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, invalidCredentialsMessage)
	}
	return user, nil
}

func (s *service) issueToken(user *models.User, now time.Time) (*AuthResponse, error) {
	token, err := pkgauth.MintAccessToken(s.jwtCfg, now, pkgauth.AccessTokenPayload{
		UserID:   user.ID,
		Role:     user.Role,
		FullName: user.FullName,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "mint jwt")
	}
	return &AuthResponse{AccessToken: token, User: FromModel(user)}, nil
}

// normalizePhone coerces local Nigerian formats into +234 E.164.
// "0803 555 0199" and "2348035550199" both become "+2348035550199".
func normalizePhone(phone *string) (*string, error) {
	if phone == nil {
		return nil, nil
	}
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '(', ')':
			return -1
		}
		return r
	}, strings.TrimSpace(*phone))
	if cleaned == "" {
		return nil, nil
	}

	switch {
	case strings.HasPrefix(cleaned, "+234"):
	case strings.HasPrefix(cleaned, "234"):
		cleaned = "+" + cleaned
	case strings.HasPrefix(cleaned, "0") && len(cleaned) == 11:
		cleaned = "+234" + cleaned[1:]
	}

	if !nigerianPhonePattern.MatchString(cleaned) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "phone must be a valid Nigerian number")
	}
	return &cleaned, nil
}
