package locations

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/sparehub/sparehub-backend/pkg/db/models"
	"github.com/sparehub/sparehub-backend/pkg/enums"
	pkgerrors "github.com/sparehub/sparehub-backend/pkg/errors"
	"github.com/sparehub/sparehub-backend/pkg/redis"
)

// UpdateInput carries a dispatcher's reported coordinates.
type UpdateInput struct {
	Latitude  float64 `json:"latitude" validate:"required,latitude"`
	Longitude float64 `json:"longitude" validate:"required,longitude"`
}

// DispatcherLocation is the stored location snapshot.
type DispatcherLocation struct {
	DispatcherID   uuid.UUID `json:"dispatcher_id"`
	DispatcherName string    `json:"dispatcher_name"`
	Latitude       float64   `json:"latitude"`
	Longitude      float64   `json:"longitude"`
	RecordedAt     time.Time `json:"recorded_at"`
}

// Service tracks dispatcher live locations in Redis. Entries carry a TTL
// so dispatchers that stop reporting age out on their own.
type Service interface {
	Update(ctx context.Context, dispatcherID uuid.UUID, role enums.UserRole, name string, input UpdateInput) (*DispatcherLocation, error)
	Get(ctx context.Context, dispatcherID uuid.UUID) (*DispatcherLocation, error)
	ListActive(ctx context.Context) ([]DispatcherLocation, error)
}

type locationStore interface {
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, error)
	LocationKey(dispatcherID string) string
}

type dispatcherLister interface {
	ListActiveByRole(ctx context.Context, role enums.UserRole) ([]models.User, error)
}

// ServiceParams bundles the locations service dependencies.
type ServiceParams struct {
	Store    locationStore
	UserRepo dispatcherLister
	TTL      time.Duration
}

type service struct {
	store locationStore
	users dispatcherLister
	ttl   time.Duration
	now   func() time.Time
}

// NewService constructs the locations service.
func NewService(params ServiceParams) (Service, error) {
	if params.Store == nil {
		return nil, fmt.Errorf("location store required")
	}
	if params.UserRepo == nil {
		return nil, fmt.Errorf("user repository required")
	}
	if params.TTL <= 0 {
		return nil, fmt.Errorf("location ttl must be positive")
	}
	return &service{
		store: params.Store,
		users: params.UserRepo,
		ttl:   params.TTL,
		now:   func() time.Time { return time.Now().UTC() },
	}, nil
}

func (s *service) Update(ctx context.Context, dispatcherID uuid.UUID, role enums.UserRole, name string, input UpdateInput) (*DispatcherLocation, error) {
	if role != enums.UserRoleDispatcher {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only dispatchers report locations")
	}
	if input.Latitude < -90 || input.Latitude > 90 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "latitude out of range")
	}
	if input.Longitude < -180 || input.Longitude > 180 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "longitude out of range")
	}

	location := &DispatcherLocation{
		DispatcherID:   dispatcherID,
		DispatcherName: name,
		Latitude:       input.Latitude,
		Longitude:      input.Longitude,
		RecordedAt:     s.now(),
	}
	encoded, err := json.Marshal(location)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode location")
	}
	key := s.store.LocationKey(dispatcherID.String())
	if err := s.store.Set(ctx, key, string(encoded), s.ttl); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "store location")
	}
	return location, nil
}

func (s *service) Get(ctx context.Context, dispatcherID uuid.UUID) (*DispatcherLocation, error) {
	if dispatcherID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "dispatcher id required")
	}
	return s.load(ctx, dispatcherID)
}

// ListActive joins the active dispatcher roster against Redis, skipping
// dispatchers whose snapshot has expired.
func (s *service) ListActive(ctx context.Context) ([]DispatcherLocation, error) {
	dispatchers, err := s.users.ListActiveByRole(ctx, enums.UserRoleDispatcher)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list dispatchers")
	}

	locations := make([]DispatcherLocation, 0, len(dispatchers))
	for _, dispatcher := range dispatchers {
		location, err := s.load(ctx, dispatcher.ID)
		if err != nil {
			if pkgerrors.As(err) != nil && pkgerrors.As(err).Code() == pkgerrors.CodeNotFound {
				continue
			}
			return nil, err
		}
		locations = append(locations, *location)
	}
	return locations, nil
}

func (s *service) load(ctx context.Context, dispatcherID uuid.UUID) (*DispatcherLocation, error) {
	key := s.store.LocationKey(dispatcherID.String())
	raw, err := s.store.Get(ctx, key)
	if err != nil {
		if redis.IsNil(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "no recent location for dispatcher")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load location")
	}

	var location DispatcherLocation
	if err := json.Unmarshal([]byte(raw), &location); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "decode location")
	}
	return &location, nil
}
