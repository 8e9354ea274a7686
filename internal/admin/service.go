package admin

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/sparehub/sparehub-backend/internal/users"
	"github.com/sparehub/sparehub-backend/pkg/enums"
	pkgerrors "github.com/sparehub/sparehub-backend/pkg/errors"
	"github.com/sparehub/sparehub-backend/pkg/pagination"
)

// ListUsersInput filters the admin user listing.
type ListUsersInput struct {
	Limit  int
	Cursor string
	Role   string
	Query  string
}

// UserListResult is one page of users plus the next-page cursor.
type UserListResult struct {
	Items  []users.UserDTO `json:"items"`
	Cursor string          `json:"cursor"`
}

// Stats is the platform overview returned to admins.
type Stats struct {
	TotalUsers      int64            `json:"total_users"`
	UsersByRole     map[string]int64 `json:"users_by_role"`
	TotalOrders     int64            `json:"total_orders"`
	PendingOrders   int64            `json:"pending_orders"`
	PaidOrders      int64            `json:"paid_orders"`
	DeliveredOrders int64            `json:"delivered_orders"`
	CancelledOrders int64            `json:"cancelled_orders"`
	TotalParts      int64            `json:"total_parts"`
	RevenueKobo     int64            `json:"revenue_kobo"`
}

// Service exposes the admin moderation and reporting surface.
type Service interface {
	ListUsers(ctx context.Context, input ListUsersInput) (*UserListResult, error)
	Stats(ctx context.Context) (*Stats, error)
	SetUserStatus(ctx context.Context, actorID, userID uuid.UUID, active bool) (*users.UserDTO, error)
}

type userWriter interface {
	SetActive(ctx context.Context, id uuid.UUID, active bool) error
}

// ServiceParams bundles the admin service dependencies.
type ServiceParams struct {
	Repo     *Repository
	UserRepo userWriter
}

type service struct {
	repo     *Repository
	userRepo userWriter
}

// NewService constructs the admin service.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("admin repository required")
	}
	if params.UserRepo == nil {
		return nil, fmt.Errorf("user repository required")
	}
	return &service{repo: params.Repo, userRepo: params.UserRepo}, nil
}

func (s *service) ListUsers(ctx context.Context, input ListUsersInput) (*UserListResult, error) {
	query := userListQuery{
		Pagination: pagination.Params{Limit: input.Limit},
		Query:      input.Query,
	}
	if input.Role != "" {
		role, err := enums.ParseUserRole(input.Role)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid role filter")
		}
		query.Role = &role
	}
	if input.Cursor != "" {
		cursor, err := pagination.ParseCursor(input.Cursor)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
		}
		query.Cursor = cursor
	}

	rows, next, err := s.repo.ListUsers(ctx, query)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list users")
	}

	items := make([]users.UserDTO, 0, len(rows))
	for i := range rows {
		items = append(items, *users.FromModel(&rows[i]))
	}
	cursor := ""
	if next != nil {
		cursor = pagination.EncodeCursor(*next)
	}
	return &UserListResult{Items: items, Cursor: cursor}, nil
}

func (s *service) Stats(ctx context.Context) (*Stats, error) {
	counts, err := s.repo.Counts(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "gather platform counts")
	}

	byRole := make(map[string]int64, len(counts.UsersByRole))
	for role, count := range counts.UsersByRole {
		byRole[string(role)] = count
	}
	return &Stats{
		TotalUsers:      counts.TotalUsers,
		UsersByRole:     byRole,
		TotalOrders:     counts.TotalOrders,
		PendingOrders:   counts.PendingOrders,
		PaidOrders:      counts.PaidOrders,
		DeliveredOrders: counts.DeliveredOrders,
		CancelledOrders: counts.CancelledOrders,
		TotalParts:      counts.TotalParts,
		RevenueKobo:     counts.RevenueKobo,
	}, nil
}

// SetUserStatus flips a user's active flag. Admins cannot deactivate
// themselves so the platform always keeps at least the acting admin.
func (s *service) SetUserStatus(ctx context.Context, actorID, userID uuid.UUID, active bool) (*users.UserDTO, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}
	if !active && actorID == userID {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "admins cannot deactivate their own account")
	}

	if err := s.userRepo.SetActive(ctx, userID, active); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "user not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update user status")
	}

	user, err := s.repo.FindUser(ctx, userID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload user")
	}
	return users.FromModel(user), nil
}
