package order

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/Additional-Code/printshop/internal/changefeed"
	"github.com/Additional-Code/printshop/internal/entity"
	"github.com/Additional-Code/printshop/pkg/errorbank"
)

// Snapshot is the full ordered result of a filter at one point in time.
// When the backend could not be queried Err is set and Orders is nil.
type Snapshot struct {
	Filter entity.Filter
	Orders []entity.Order
	Err    error
	// Seq increases by one for every snapshot produced by a subscription.
	Seq uint64
}

// Subscription is a live query. Snapshots are delivered latest-wins: a
// consumer that falls behind sees only the newest pending snapshot.
type Subscription struct {
	filter entity.Filter
	out    chan Snapshot
	cancel context.CancelFunc
	done   chan struct{}
}

// Snapshots returns the delivery channel. It is closed after Close.
func (sub *Subscription) Snapshots() <-chan Snapshot {
	return sub.out
}

// Filter returns the filter the subscription was opened with.
func (sub *Subscription) Filter() entity.Filter {
	return sub.filter
}

// Close stops the subscription and waits for its change-feed registration to
// be released. Safe to call any number of times from any goroutine.
func (sub *Subscription) Close() {
	sub.cancel()
	<-sub.done
}

// Done is closed once the subscription has fully stopped.
func (sub *Subscription) Done() <-chan struct{} {
	return sub.done
}

// Subscribe opens a live query over filter. The first snapshot reflects the
// state at subscription time; later ones follow every change that alters the
// result. Cancelling ctx closes the subscription.
func (s *Store) Subscribe(ctx context.Context, filter entity.Filter) (*Subscription, error) {
	if !filter.Valid() {
		return nil, errorbank.Validation(fmt.Sprintf("unknown filter %q", filter), errorbank.WithField("status"))
	}
	if s.feed == nil {
		return nil, errorbank.Internal("order store has no change feed")
	}

	runCtx, cancel := context.WithCancel(ctx)
	sub := &Subscription{
		filter: filter,
		out:    make(chan Snapshot, 1),
		cancel: cancel,
		done:   make(chan struct{}),
	}

	// Listen before the first query so no write in between is missed.
	changes, release := s.feed.Listen()

	go func() {
		defer close(sub.done)
		defer close(sub.out)
		defer release()
		s.runSubscription(runCtx, sub, changes)
	}()

	return sub, nil
}

func (s *Store) runSubscription(ctx context.Context, sub *Subscription, changes <-chan changefeed.Change) {
	var (
		seq    uint64
		last   string
		failed bool
	)

	emit := func() {
		orders, err := s.List(ctx, sub.filter)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			s.logger.Warn("live query refresh failed", zap.String("filter", string(sub.filter)), zap.Error(err))
			failed = true
			seq++
			offer(sub.out, Snapshot{Filter: sub.filter, Err: err, Seq: seq})
			return
		}
		fp := fingerprint(orders)
		if seq > 0 && !failed && fp == last {
			return
		}
		last, failed = fp, false
		seq++
		offer(sub.out, Snapshot{Filter: sub.filter, Orders: orders, Seq: seq})
	}

	emit()
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-changes:
			if !ok {
				return
			}
			drain(changes)
			emit()
		}
	}
}

// offer replaces any undelivered snapshot with snap. Only the subscription
// goroutine sends on out, so the second send never blocks.
func offer(out chan Snapshot, snap Snapshot) {
	select {
	case out <- snap:
		return
	default:
	}
	select {
	case <-out:
	default:
	}
	out <- snap
}

// drain discards queued notifications; one requery covers all of them.
func drain(changes <-chan changefeed.Change) {
	for {
		select {
		case _, ok := <-changes:
			if !ok {
				return
			}
		default:
			return
		}
	}
}

func fingerprint(orders []entity.Order) string {
	var b strings.Builder
	for i := range orders {
		fmt.Fprintf(&b, "%s@%d;", orders[i].ID, orders[i].Version)
	}
	return b.String()
}
