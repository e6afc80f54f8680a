package order

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/uptrace/bun"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Additional-Code/printshop/internal/database"
	"github.com/Additional-Code/printshop/internal/entity"
)

var repoTracer = otel.Tracer("github.com/Additional-Code/printshop/repository/order")

// ErrNotFound is returned when an order is missing.
var ErrNotFound = errors.New("order not found")

// ErrDuplicate is returned when inserting an id that already exists.
var ErrDuplicate = errors.New("order already exists")

// Mutator edits an order in place inside an update. Returning an error aborts
// the update and leaves the row untouched.
type Mutator func(*entity.Order) error

// Repository encapsulates read/write access for orders.
type Repository struct {
	writer   *bun.DB
	reader   *bun.DB
	rowLocks bool
	now      func() time.Time
}

// NewRepository wires a repository backed by configured database connections.
func NewRepository(conns *database.Connections) *Repository {
	return &Repository{
		writer:   conns.Writer,
		reader:   conns.Reader,
		rowLocks: conns.SupportsRowLocks(),
		now:      time.Now,
	}
}

// Insert persists a new order using the write connection.
func (r *Repository) Insert(ctx context.Context, order *entity.Order) error {
	if order == nil {
		return errors.New("nil order")
	}
	ctx, span := repoTracer.Start(ctx, "OrderRepository.Insert", trace.WithAttributes(attribute.String("order.id", order.ID)))
	defer span.End()

	exists, err := r.writer.NewSelect().Model((*entity.Order)(nil)).Where("id = ?", order.ID).Exists(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "exists check failed")
		return err
	}
	if exists {
		span.SetStatus(codes.Error, "duplicate")
		return ErrDuplicate
	}

	if _, err := r.writer.NewInsert().Model(order).Exec(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "insert failed")
		return err
	}
	return nil
}

// GetByID fetches an order by primary key using the read replica when available.
func (r *Repository) GetByID(ctx context.Context, id string) (*entity.Order, error) {
	ctx, span := repoTracer.Start(ctx, "OrderRepository.GetByID", trace.WithAttributes(attribute.String("order.id", id)))
	defer span.End()

	order := new(entity.Order)
	err := r.reader.NewSelect().Model(order).Where("id = ?", id).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		span.SetStatus(codes.Error, "not found")
		return nil, ErrNotFound
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "select failed")
		return nil, err
	}
	return order, nil
}

// Update loads the order under a row lock, applies mutate and writes it back
// with the version incremented. Concurrent updates of one order serialise.
func (r *Repository) Update(ctx context.Context, id string, mutate Mutator) (*entity.Order, error) {
	ctx, span := repoTracer.Start(ctx, "OrderRepository.Update", trace.WithAttributes(attribute.String("order.id", id)))
	defer span.End()

	var updated *entity.Order
	err := r.writer.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		current := new(entity.Order)
		q := tx.NewSelect().Model(current).Where("id = ?", id)
		if r.rowLocks {
			q = q.For("UPDATE")
		}
		if err := q.Scan(ctx); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return err
		}

		next := current.Clone()
		if err := mutate(next); err != nil {
			return err
		}
		next.ID = current.ID
		next.Version = current.Version + 1
		next.UpdatedAt = r.now().UTC()

		if _, err := tx.NewUpdate().Model(next).WherePK().Exec(ctx); err != nil {
			return err
		}
		updated = next
		return nil
	})
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			span.RecordError(err)
		}
		span.SetStatus(codes.Error, "update failed")
		return nil, err
	}

	span.SetAttributes(attribute.Int64("order.version", updated.Version))
	return updated, nil
}

// List returns the orders matching filter, newest first with ties broken by id.
func (r *Repository) List(ctx context.Context, filter entity.Filter) ([]entity.Order, error) {
	ctx, span := repoTracer.Start(ctx, "OrderRepository.List", trace.WithAttributes(attribute.String("order.filter", string(filter))))
	defer span.End()

	var orders []entity.Order
	q := r.reader.NewSelect().
		Model(&orders).
		OrderExpr("? DESC", bun.Ident("timestamp")).
		OrderExpr("? ASC", bun.Ident("id"))
	if filter != entity.FilterAll {
		q = q.Where("status = ?", string(filter))
	}
	if err := q.Scan(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "select failed")
		return nil, err
	}

	span.SetAttributes(attribute.Int("order.count", len(orders)))
	return orders, nil
}
