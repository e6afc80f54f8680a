// Package order is the order store: a keyed collection of orders with
// create, get, patch, list and live subscribe operations over a pluggable
// backend. Every successful write publishes a change notification.
package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/printshop/internal/cache"
	"github.com/Additional-Code/printshop/internal/changefeed"
	"github.com/Additional-Code/printshop/internal/config"
	"github.com/Additional-Code/printshop/internal/entity"
	orderrepo "github.com/Additional-Code/printshop/internal/repository/order"
	"github.com/Additional-Code/printshop/internal/validation"
	"github.com/Additional-Code/printshop/pkg/errorbank"
)

var storeTracer = otel.Tracer("github.com/Additional-Code/printshop/store/order")

// Backend persists orders. Implemented by the bun repository and its
// in-memory counterpart.
type Backend interface {
	Insert(ctx context.Context, order *entity.Order) error
	GetByID(ctx context.Context, id string) (*entity.Order, error)
	Update(ctx context.Context, id string, mutate orderrepo.Mutator) (*entity.Order, error)
	List(ctx context.Context, filter entity.Filter) ([]entity.Order, error)
}

// Module provides the store, backed by the SQL repository.
var Module = fx.Provide(
	func(repo *orderrepo.Repository) Backend { return repo },
	New,
)

// Params collects the store dependencies.
type Params struct {
	fx.In

	Backend Backend
	Cache   cache.Store
	Feed    changefeed.Feed
	Config  config.Config
	Logger  *zap.Logger
	Clock   func() time.Time `name:"clock" optional:"true"`
}

// Store implements the order store operations.
type Store struct {
	backend  Backend
	cache    cache.Store
	feed     changefeed.Feed
	logger   *zap.Logger
	cacheTTL time.Duration
	origin   string
	now      func() time.Time
	newID    func() string
}

// New constructs a Store.
func New(p Params) *Store {
	now := p.Clock
	if now == nil {
		now = time.Now
	}
	c := p.Cache
	if c == nil {
		c = cache.NewMemory()
	}
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		backend:  p.Backend,
		cache:    c,
		feed:     p.Feed,
		logger:   logger,
		cacheTTL: p.Config.Cache.DefaultTTL,
		origin:   p.Config.Observability.InstanceID,
		now:      now,
		newID:    uuid.NewString,
	}
}

// Create validates draft, assigns id, timestamp, pending status and version 1,
// and persists the new order.
func (s *Store) Create(ctx context.Context, draft entity.Draft) (string, error) {
	order, err := s.CreateOrder(ctx, draft)
	if err != nil {
		return "", err
	}
	return order.ID, nil
}

// CreateOrder is Create returning the stored order itself. The order is also
// written to the cache, so an immediate Get does not depend on a replica
// having caught up.
func (s *Store) CreateOrder(ctx context.Context, draft entity.Draft) (*entity.Order, error) {
	ctx, span := storeTracer.Start(ctx, "OrderStore.Create")
	defer span.End()

	if err := validation.Struct(draft); err != nil {
		span.SetStatus(codes.Error, "validation failed")
		return nil, err
	}

	files := make([]entity.Attachment, len(draft.PDFFiles))
	copy(files, draft.PDFFiles)

	order := &entity.Order{
		ID:              s.newID(),
		Name:            draft.Name,
		Email:           draft.Email,
		ContactNo:       draft.ContactNo,
		PrintType:       draft.PrintType,
		SpecialFeatures: draft.SpecialFeatures,
		TotalPages:      draft.TotalPages,
		Price:           draft.Price,
		PricingVersion:  draft.PricingVersion,
		Status:          entity.StatusPending,
		Timestamp:       s.now().UTC(),
		PDFFiles:        files,
		Version:         1,
	}
	span.SetAttributes(attribute.String("order.id", order.ID))

	if err := s.backend.Insert(ctx, order); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "insert failed")
		return nil, errorbank.Transport("failed to create order", errorbank.WithCause(err))
	}

	s.changed(ctx, order)
	if err := cache.SetJSON(ctx, s.cache, cacheKey(order.ID), order, s.cacheTTL); err != nil {
		s.logger.Warn("order cache write failed", zap.String("order_id", order.ID), zap.Error(err))
	}
	return order.Clone(), nil
}

// Get returns the order with id, reading through the cache.
func (s *Store) Get(ctx context.Context, id string) (*entity.Order, error) {
	ctx, span := storeTracer.Start(ctx, "OrderStore.Get", trace.WithAttributes(attribute.String("order.id", id)))
	defer span.End()

	if id == "" {
		return nil, errorbank.NotFound("order not found", errorbank.WithDetail("id", id))
	}

	var cached entity.Order
	if err := cache.GetJSON(ctx, s.cache, cacheKey(id), &cached); err == nil {
		span.SetAttributes(attribute.Bool("cache.hit", true))
		return &cached, nil
	} else if !errors.Is(err, cache.ErrCacheMiss) {
		s.logger.Warn("order cache read failed", zap.String("order_id", id), zap.Error(err))
	}

	order, err := s.backend.GetByID(ctx, id)
	if err != nil {
		span.SetStatus(codes.Error, "get failed")
		return nil, mapBackendErr(err, id)
	}

	if err := cache.SetJSON(ctx, s.cache, cacheKey(id), order, s.cacheTTL); err != nil {
		s.logger.Warn("order cache write failed", zap.String("order_id", id), zap.Error(err))
	}
	return order, nil
}

// Update applies patch to the order with id and returns the stored result.
func (s *Store) Update(ctx context.Context, id string, patch Patch) (*entity.Order, error) {
	ctx, span := storeTracer.Start(ctx, "OrderStore.Update", trace.WithAttributes(attribute.String("order.id", id)))
	defer span.End()

	if err := patch.validate(); err != nil {
		span.SetStatus(codes.Error, "validation failed")
		return nil, err
	}
	if patch.Empty() {
		return s.read(ctx, id)
	}

	updated, err := s.backend.Update(ctx, id, func(o *entity.Order) error {
		if patch.ExpectedVersion != nil && *patch.ExpectedVersion != o.Version {
			return errorbank.Conflict(
				fmt.Sprintf("order %s changed concurrently", id),
				errorbank.WithDetail("expectedVersion", *patch.ExpectedVersion),
				errorbank.WithDetail("currentVersion", o.Version),
			)
		}
		patch.apply(o)
		return nil
	})
	if err != nil {
		span.SetStatus(codes.Error, "update failed")
		return nil, mapBackendErr(err, id)
	}

	span.SetAttributes(attribute.Int64("order.version", updated.Version))
	s.changed(ctx, updated)
	return updated, nil
}

// Mutate runs fn against the current order inside a single backend update, so
// a guard in fn sees the committed state rather than a cached copy.
// Errors returned by fn abort the write and are passed through unchanged.
// When fn reports no change the order is returned as read and nothing is written.
func (s *Store) Mutate(ctx context.Context, id string, fn func(*entity.Order) (bool, error)) (*entity.Order, error) {
	ctx, span := storeTracer.Start(ctx, "OrderStore.Mutate", trace.WithAttributes(attribute.String("order.id", id)))
	defer span.End()

	var unchanged *entity.Order
	updated, err := s.backend.Update(ctx, id, func(o *entity.Order) error {
		changed, err := fn(o)
		if err != nil {
			return err
		}
		if !changed {
			unchanged = o.Clone()
			return errNoChange
		}
		return nil
	})
	if errors.Is(err, errNoChange) {
		return unchanged, nil
	}
	if err != nil {
		span.SetStatus(codes.Error, "mutate failed")
		return nil, mapBackendErr(err, id)
	}

	s.changed(ctx, updated)
	return updated, nil
}

// Current reads the order from the primary under its row lock, bypassing the
// cache. Nothing is written.
func (s *Store) Current(ctx context.Context, id string) (*entity.Order, error) {
	return s.Mutate(ctx, id, func(*entity.Order) (bool, error) { return false, nil })
}

// List returns the orders matching filter in snapshot order.
func (s *Store) List(ctx context.Context, filter entity.Filter) ([]entity.Order, error) {
	ctx, span := storeTracer.Start(ctx, "OrderStore.List", trace.WithAttributes(attribute.String("order.filter", string(filter))))
	defer span.End()

	if !filter.Valid() {
		return nil, errorbank.Validation(fmt.Sprintf("unknown filter %q", filter), errorbank.WithField("status"))
	}

	orders, err := s.backend.List(ctx, filter)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "list failed")
		return nil, errorbank.Transport("failed to list orders", errorbank.WithCause(err))
	}
	entity.SortOrders(orders)
	return orders, nil
}

func (s *Store) read(ctx context.Context, id string) (*entity.Order, error) {
	order, err := s.backend.GetByID(ctx, id)
	if err != nil {
		return nil, mapBackendErr(err, id)
	}
	return order, nil
}

// changed invalidates the cached copy and notifies subscribers. Failures are
// logged only; the write itself already succeeded.
func (s *Store) changed(ctx context.Context, order *entity.Order) {
	if err := s.cache.Delete(ctx, cacheKey(order.ID)); err != nil {
		s.logger.Warn("order cache invalidation failed", zap.String("order_id", order.ID), zap.Error(err))
	}
	if s.feed == nil {
		return
	}
	change := changefeed.Change{OrderID: order.ID, Version: order.Version, Origin: s.origin}
	if err := s.feed.Publish(ctx, change); err != nil {
		s.logger.Warn("order change publish failed", zap.String("order_id", order.ID), zap.Error(err))
	}
}

var errNoChange = errors.New("no change")

func cacheKey(id string) string {
	return "orders:" + id
}

func mapBackendErr(err error, id string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, orderrepo.ErrNotFound) {
		return errorbank.NotFound(fmt.Sprintf("order %s not found", id), errorbank.WithDetail("id", id))
	}
	var appErr *errorbank.AppError
	if errors.As(err, &appErr) {
		return err
	}
	return errorbank.Transport("order store unavailable", errorbank.WithCause(err))
}
