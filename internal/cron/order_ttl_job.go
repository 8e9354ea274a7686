package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/sparehub/sparehub-backend/pkg/db/models"
	pkgerrors "github.com/sparehub/sparehub-backend/pkg/errors"
	"github.com/sparehub/sparehub-backend/pkg/logger"
	"github.com/sparehub/sparehub-backend/pkg/metrics"
)

const staleOrderBatchSize = 100

type staleOrderReader interface {
	ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error)
}

type staleOrderCanceller interface {
	CancelStale(ctx context.Context, orderID uuid.UUID) error
}

// OrderTTLJobParams configure the stale order sweep.
type OrderTTLJobParams struct {
	Logger    *logger.Logger
	Reader    staleOrderReader
	Canceller staleOrderCanceller
	Metrics   *metrics.CronJobMetrics
	TTL       time.Duration
}

// NewOrderTTLJob builds the job that cancels unpaid pending orders older
// than the configured TTL, releasing their reservations through the
// normal cancellation path.
func NewOrderTTLJob(params OrderTTLJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Reader == nil {
		return nil, fmt.Errorf("stale order reader required")
	}
	if params.Canceller == nil {
		return nil, fmt.Errorf("order canceller required")
	}
	if params.TTL <= 0 {
		return nil, fmt.Errorf("pending order ttl must be positive")
	}
	return &orderTTLJob{
		logg:      params.Logger,
		reader:    params.Reader,
		canceller: params.Canceller,
		metrics:   params.Metrics,
		ttl:       params.TTL,
		now:       time.Now,
	}, nil
}

type orderTTLJob struct {
	logg      *logger.Logger
	reader    staleOrderReader
	canceller staleOrderCanceller
	metrics   *metrics.CronJobMetrics
	ttl       time.Duration
	now       func() time.Time
}

func (j *orderTTLJob) Name() string { return "order-ttl" }

func (j *orderTTLJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.ttl)
	var (
		cancelled int64
		errs      []error
	)

	for {
		stale, err := j.reader.ListStalePending(ctx, cutoff, staleOrderBatchSize)
		if err != nil {
			errs = append(errs, fmt.Errorf("query stale orders: %w", err))
			break
		}
		if len(stale) == 0 {
			break
		}

		progressed := false
		for _, order := range stale {
			if err := j.cancelOrder(ctx, order.ID); err != nil {
				errs = append(errs, err)
				continue
			}
			cancelled++
			progressed = true
		}
		// Every remaining row failed; bail out instead of spinning on them.
		if !progressed {
			break
		}
		if len(stale) < staleOrderBatchSize {
			break
		}
	}

	if j.metrics != nil {
		j.metrics.AddRowsProcessed(j.Name(), cancelled)
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"cancelled": cancelled,
		"cutoff":    cutoff.Format(time.RFC3339),
	})
	j.logg.Info(logCtx, "stale order sweep complete")
	return multierr.Combine(errs...)
}

// cancelOrder treats a concurrent payment or cancellation as success: the
// order stopped being stale between the read and the cancel.
func (j *orderTTLJob) cancelOrder(ctx context.Context, orderID uuid.UUID) error {
	err := j.canceller.CancelStale(ctx, orderID)
	if err == nil {
		return nil
	}
	if appErr := pkgerrors.As(err); appErr != nil {
		switch appErr.Code() {
		case pkgerrors.CodeStateConflict, pkgerrors.CodeNotFound:
			return nil
		}
	}
	return fmt.Errorf("cancel stale order %s: %w", orderID, err)
}
