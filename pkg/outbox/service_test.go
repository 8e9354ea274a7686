package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/sparehub/sparehub-backend/pkg/db/models"
	"github.com/sparehub/sparehub-backend/pkg/enums"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:outbox_%s?mode=memory&cache=shared", uuid.NewString())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{SkipDefaultTransaction: true})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&models.OutboxEvent{}))
	return conn
}

func TestEmitWritesEnvelopeInsideTx(t *testing.T) {
	conn := newTestDB(t)
	svc := NewService(NewRepository(conn), nil)
	aggregateID := uuid.New()

	tx := conn.Begin()
	require.NoError(t, tx.Error)
	err := svc.Emit(context.Background(), tx, DomainEvent{
		EventType:     enums.EventOrderCreated,
		AggregateType: enums.AggregateOrder,
		AggregateID:   aggregateID,
		Actor:         &ActorRef{UserID: uuid.New(), Role: "client"},
		Data:          map[string]any{"total_kobo": 150000},
		Version:       1,
	})
	require.NoError(t, err)
	require.NoError(t, tx.Commit().Error)

	var row models.OutboxEvent
	require.NoError(t, conn.Where("aggregate_id = ?", aggregateID).First(&row).Error)
	assert.Equal(t, enums.EventOrderCreated, row.EventType)
	assert.Equal(t, enums.AggregateOrder, row.AggregateType)
	assert.Nil(t, row.PublishedAt)

	var envelope PayloadEnvelope
	require.NoError(t, json.Unmarshal(row.Payload, &envelope))
	assert.Equal(t, 1, envelope.Version)
	assert.NotEmpty(t, envelope.EventID)
	assert.False(t, envelope.OccurredAt.IsZero())
}

func TestEmitRequiresTransaction(t *testing.T) {
	conn := newTestDB(t)
	svc := NewService(NewRepository(conn), nil)

	err := svc.Emit(context.Background(), nil, DomainEvent{
		EventType:     enums.EventPaymentSucceeded,
		AggregateType: enums.AggregateOrder,
		AggregateID:   uuid.New(),
	})
	require.Error(t, err)
}

func TestEmitRollsBackWithBusinessWrite(t *testing.T) {
	conn := newTestDB(t)
	svc := NewService(NewRepository(conn), nil)

	tx := conn.Begin()
	require.NoError(t, tx.Error)
	require.NoError(t, svc.Emit(context.Background(), tx, DomainEvent{
		EventType:     enums.EventOrderStatusChanged,
		AggregateType: enums.AggregateOrder,
		AggregateID:   uuid.New(),
	}))
	require.NoError(t, tx.Rollback().Error)

	var count int64
	require.NoError(t, conn.Model(&models.OutboxEvent{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestMarkPublishedAndFailed(t *testing.T) {
	conn := newTestDB(t)
	repo := NewRepository(conn)

	event := models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     enums.EventOrderAssigned,
		AggregateType: enums.AggregateOrder,
		AggregateID:   uuid.New(),
		Payload:       json.RawMessage(`{}`),
	}
	require.NoError(t, conn.Create(&event).Error)

	rows, err := repo.FetchUnpublished(10, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	require.NoError(t, repo.MarkFailed(event.ID, errors.New("topic unavailable")))
	var failed models.OutboxEvent
	require.NoError(t, conn.First(&failed, "id = ?", event.ID).Error)
	assert.Equal(t, 1, failed.AttemptCount)
	require.NotNil(t, failed.LastError)
	assert.Contains(t, *failed.LastError, "topic unavailable")

	rows, err = repo.FetchUnpublished(10, 1)
	require.NoError(t, err)
	assert.Empty(t, rows, "exhausted events stay parked")

	require.NoError(t, repo.MarkPublished(event.ID))
	rows, err = repo.FetchUnpublished(10, 10)
	require.NoError(t, err)
	assert.Empty(t, rows)
}
