package admin

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/sparehub/sparehub-backend/pkg/db/models"
	"github.com/sparehub/sparehub-backend/pkg/enums"
	"github.com/sparehub/sparehub-backend/pkg/pagination"
)

// Repository aggregates the cross-table queries the admin surface needs.
type Repository struct {
	db *gorm.DB
}

// NewRepository constructs an admin repo bound to the provided GORM DB.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

type userListQuery struct {
	Pagination pagination.Params
	Cursor     *pagination.Cursor
	Role       *enums.UserRole
	Query      string
}

// ListUsers returns a keyset-paginated page of users, newest first.
func (r *Repository) ListUsers(ctx context.Context, query userListQuery) ([]models.User, *pagination.Cursor, error) {
	limit := pagination.LimitWithBuffer(query.Pagination.Limit)
	normalized := pagination.NormalizeLimit(query.Pagination.Limit)

	q := r.db.WithContext(ctx).Model(&models.User{})
	if query.Role != nil {
		q = q.Where("role = ?", *query.Role)
	}
	if query.Query != "" {
		pattern := "%" + query.Query + "%"
		q = q.Where("LOWER(full_name) LIKE LOWER(?) OR LOWER(email) LIKE LOWER(?)", pattern, pattern)
	}
	if query.Cursor != nil {
		q = q.Where("(created_at < ?) OR (created_at = ? AND id < ?)",
			query.Cursor.CreatedAt, query.Cursor.CreatedAt, query.Cursor.ID)
	}

	var users []models.User
	if err := q.Order("created_at DESC, id DESC").Limit(limit).Find(&users).Error; err != nil {
		return nil, nil, err
	}

	if len(users) > normalized {
		next := users[normalized]
		users = users[:normalized]
		return users, &pagination.Cursor{CreatedAt: next.CreatedAt, ID: next.ID}, nil
	}
	return users, nil, nil
}

type platformCounts struct {
	TotalUsers      int64
	UsersByRole     map[enums.UserRole]int64
	TotalOrders     int64
	PendingOrders   int64
	PaidOrders      int64
	DeliveredOrders int64
	CancelledOrders int64
	TotalParts      int64
	RevenueKobo     int64
}

// Counts gathers the platform-wide aggregates in one pass per table.
func (r *Repository) Counts(ctx context.Context) (*platformCounts, error) {
	counts := &platformCounts{UsersByRole: map[enums.UserRole]int64{}}

	if err := r.db.WithContext(ctx).Model(&models.User{}).Count(&counts.TotalUsers).Error; err != nil {
		return nil, err
	}

	type roleCount struct {
		Role  enums.UserRole
		Count int64
	}
	var roles []roleCount
	if err := r.db.WithContext(ctx).Model(&models.User{}).
		Select("role, COUNT(*) AS count").
		Group("role").
		Scan(&roles).Error; err != nil {
		return nil, err
	}
	for _, row := range roles {
		counts.UsersByRole[row.Role] = row.Count
	}

	type statusCount struct {
		Status enums.OrderStatus
		Count  int64
	}
	var statuses []statusCount
	if err := r.db.WithContext(ctx).Model(&models.Order{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&statuses).Error; err != nil {
		return nil, err
	}
	for _, row := range statuses {
		counts.TotalOrders += row.Count
		switch row.Status {
		case enums.OrderStatusPending:
			counts.PendingOrders = row.Count
		case enums.OrderStatusPaid:
			counts.PaidOrders = row.Count
		case enums.OrderStatusDelivered:
			counts.DeliveredOrders = row.Count
		case enums.OrderStatusCancelled:
			counts.CancelledOrders = row.Count
		}
	}

	if err := r.db.WithContext(ctx).Model(&models.Part{}).Count(&counts.TotalParts).Error; err != nil {
		return nil, err
	}

	var revenue *int64
	if err := r.db.WithContext(ctx).Model(&models.Order{}).
		Select("SUM(total_kobo)").
		Where("payment_status = ?", enums.PaymentStatusSuccess).
		Scan(&revenue).Error; err != nil {
		return nil, err
	}
	if revenue != nil {
		counts.RevenueKobo = *revenue
	}

	return counts, nil
}

// FindUser loads a single user by id.
func (r *Repository) FindUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).First(&user, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &user, nil
}
