package orders

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/sparehub/sparehub-backend/pkg/db/models"
	"github.com/sparehub/sparehub-backend/pkg/enums"
	"github.com/sparehub/sparehub-backend/pkg/pagination"
)

// Repository exposes order persistence operations.
type Repository struct {
	db *gorm.DB
}

// NewRepository constructs an orders repo bound to the provided GORM DB.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// WithTx returns a repository bound to the provided transaction.
func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	return &Repository{db: tx}
}

// Create inserts the order with its line items.
func (r *Repository) Create(ctx context.Context, order *models.Order) (*models.Order, error) {
	if order.ID == uuid.Nil {
		order.ID = uuid.New()
	}
	for i := range order.Items {
		if order.Items[i].ID == uuid.Nil {
			order.Items[i].ID = uuid.New()
		}
		order.Items[i].OrderID = order.ID
	}
	if err := r.db.WithContext(ctx).Create(order).Error; err != nil {
		return nil, err
	}
	return order, nil
}

// FindByID loads the order with its line items.
func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Preload("Items").
		First(&order, "id = ?", id).
		Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// FindByPaymentReference loads the order holding the payment reference.
func (r *Repository) FindByPaymentReference(ctx context.Context, reference string) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Preload("Items").
		First(&order, "payment_reference = ?", reference).
		Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// UpdateStatus performs the compare-and-set transition from one exact
// status to another. A zero row count means the guard failed.
func (r *Repository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to enums.OrderStatus) (int64, error) {
	res := r.db.WithContext(ctx).Model(&models.Order{}).
		Where("id = ? AND status = ?", id, from).
		Updates(map[string]any{
			"status":     to,
			"updated_at": time.Now().UTC(),
		})
	return res.RowsAffected, res.Error
}

// SetPaymentReference stamps the reference ahead of the gateway call.
// The guard keeps a settled order's reference immutable.
func (r *Repository) SetPaymentReference(ctx context.Context, id uuid.UUID, reference string) (int64, error) {
	res := r.db.WithContext(ctx).Model(&models.Order{}).
		Where("id = ? AND payment_status <> ?", id, enums.PaymentStatusSuccess).
		Updates(map[string]any{
			"payment_reference": reference,
			"updated_at":        time.Now().UTC(),
		})
	return res.RowsAffected, res.Error
}

// MarkPaid flips payment_status and status in one conditional update.
// Only orders still awaiting payment in a pre-paid status qualify, so a
// replayed verification can never apply twice.
func (r *Repository) MarkPaid(ctx context.Context, id uuid.UUID) (int64, error) {
	res := r.db.WithContext(ctx).Model(&models.Order{}).
		Where("id = ? AND payment_status <> ? AND status IN ?",
			id,
			enums.PaymentStatusSuccess,
			[]enums.OrderStatus{enums.OrderStatusPending, enums.OrderStatusConfirmed},
		).
		Updates(map[string]any{
			"payment_status": enums.PaymentStatusSuccess,
			"status":         enums.OrderStatusPaid,
			"updated_at":     time.Now().UTC(),
		})
	return res.RowsAffected, res.Error
}

// ClaimForDispatch is the dispatcher claim: paid and unassigned only.
// Exactly one concurrent claimer can win.
func (r *Repository) ClaimForDispatch(ctx context.Context, id, dispatcherID uuid.UUID, dispatcherName string) (int64, error) {
	res := r.db.WithContext(ctx).Model(&models.Order{}).
		Where("id = ? AND status = ? AND dispatcher_id IS NULL", id, enums.OrderStatusPaid).
		Updates(map[string]any{
			"dispatcher_id":   dispatcherID,
			"dispatcher_name": dispatcherName,
			"status":          enums.OrderStatusAssigned,
			"updated_at":      time.Now().UTC(),
		})
	return res.RowsAffected, res.Error
}

// ReassignDispatcher is the admin override: the unassigned guard is
// waived but the order must not have moved past assignment.
func (r *Repository) ReassignDispatcher(ctx context.Context, id, dispatcherID uuid.UUID, dispatcherName string) (int64, error) {
	res := r.db.WithContext(ctx).Model(&models.Order{}).
		Where("id = ? AND status IN ?", id, []enums.OrderStatus{enums.OrderStatusPaid, enums.OrderStatusAssigned}).
		Updates(map[string]any{
			"dispatcher_id":   dispatcherID,
			"dispatcher_name": dispatcherName,
			"status":          enums.OrderStatusAssigned,
			"updated_at":      time.Now().UTC(),
		})
	return res.RowsAffected, res.Error
}

// CancelStalePending cancels an order only while it is still an unpaid
// pending one. The guard re-validates staleness inside the update, so a
// payment that lands after the sweep's read keeps the order alive.
func (r *Repository) CancelStalePending(ctx context.Context, id uuid.UUID) (int64, error) {
	res := r.db.WithContext(ctx).Model(&models.Order{}).
		Where("id = ? AND status = ? AND payment_status <> ?",
			id, enums.OrderStatusPending, enums.PaymentStatusSuccess).
		Updates(map[string]any{
			"status":     enums.OrderStatusCancelled,
			"updated_at": time.Now().UTC(),
		})
	return res.RowsAffected, res.Error
}

// VendorHasLine reports whether the vendor supplied any line of the order.
func (r *Repository) VendorHasLine(ctx context.Context, orderID, vendorID uuid.UUID) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.OrderLineItem{}).
		Where("order_id = ? AND vendor_id = ?", orderID, vendorID).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// ListStalePending returns pending unpaid orders created before the
// cutoff, oldest first. The cron TTL job feeds these through the cancel
// path one at a time.
func (r *Repository) ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error) {
	var rows []models.Order
	err := r.db.WithContext(ctx).
		Preload("Items").
		Where("status = ? AND payment_status <> ? AND created_at < ?",
			enums.OrderStatusPending, enums.PaymentStatusSuccess, cutoff).
		Order("created_at ASC").
		Limit(limit).
		Find(&rows).
		Error
	return rows, err
}

type orderListQuery struct {
	Pagination pagination.Params
	Status     *enums.OrderStatus

	// Exactly one of the scopes below is set for non-admin callers.
	ClientID     *uuid.UUID
	VendorID     *uuid.UUID
	DispatcherID *uuid.UUID
}

// List pages orders newest first under the caller's scope. The
// dispatcher scope includes claimable orders: paid and unassigned.
func (r *Repository) List(ctx context.Context, query orderListQuery) (*OrderListResult, error) {
	pageSize := pagination.NormalizeLimit(query.Pagination.Limit)
	limitWithBuffer := pagination.LimitWithBuffer(query.Pagination.Limit)
	if limitWithBuffer <= pageSize {
		limitWithBuffer = pageSize + 1
	}

	cursor, err := pagination.ParseCursor(query.Pagination.Cursor)
	if err != nil {
		return nil, err
	}

	qb := r.db.WithContext(ctx).Model(&models.Order{}).Preload("Items")

	switch {
	case query.ClientID != nil:
		qb = qb.Where("client_id = ?", *query.ClientID)
	case query.VendorID != nil:
		qb = qb.Where("EXISTS (SELECT 1 FROM order_line_items li WHERE li.order_id = orders.id AND li.vendor_id = ?)", *query.VendorID)
	case query.DispatcherID != nil:
		qb = qb.Where("(dispatcher_id = ? OR (status = ? AND dispatcher_id IS NULL))",
			*query.DispatcherID, enums.OrderStatusPaid)
	}

	if query.Status != nil {
		qb = qb.Where("status = ?", *query.Status)
	}
	if cursor != nil {
		qb = qb.Where("(created_at < ?) OR (created_at = ? AND id < ?)", cursor.CreatedAt, cursor.CreatedAt, cursor.ID)
	}

	var rows []models.Order
	err = qb.Order("created_at DESC").Order("id DESC").Limit(limitWithBuffer).Find(&rows).Error
	if err != nil {
		return nil, err
	}

	nextCursor := ""
	if len(rows) > pageSize {
		rows = rows[:pageSize]
		last := rows[len(rows)-1]
		nextCursor = pagination.EncodeCursor(pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
	}

	dtos := make([]OrderDTO, 0, len(rows))
	for i := range rows {
		dtos = append(dtos, *NewOrderDTO(&rows[i]))
	}
	return &OrderListResult{Orders: dtos, NextCursor: nextCursor}, nil
}

// DistinctVendorIDs returns the unique vendor ids across the lines,
// preserving first-seen order.
func DistinctVendorIDs(items []models.OrderLineItem) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(items))
	ids := make([]uuid.UUID, 0, len(items))
	for _, item := range items {
		if _, ok := seen[item.VendorID]; ok {
			continue
		}
		seen[item.VendorID] = struct{}{}
		ids = append(ids, item.VendorID)
	}
	return ids
}
