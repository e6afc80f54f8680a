// Package livequery shares one store subscription per filter between any
// number of listeners. Each listener narrows the shared result with its own
// search term, which can change without touching the upstream subscription.
package livequery

import (
	"context"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/printshop/internal/entity"
	"github.com/Additional-Code/printshop/internal/observability"
	orderstore "github.com/Additional-Code/printshop/internal/store/order"
	"github.com/Additional-Code/printshop/pkg/errorbank"
)

// Source opens upstream subscriptions. *orderstore.Store satisfies it.
type Source interface {
	Subscribe(ctx context.Context, filter entity.Filter) (*orderstore.Subscription, error)
}

// View is what a listener sees: the upstream snapshot narrowed by its search.
type View struct {
	Filter entity.Filter
	Search string
	Orders []entity.Order
	// Total is the number of orders in the unfiltered snapshot.
	Total int
	Err   error
	Seq   uint64
}

// Module provides the Hub and closes it on shutdown.
var Module = fx.Options(
	fx.Provide(
		func(s *orderstore.Store) Source { return s },
		NewHub,
	),
	fx.Invoke(func(lc fx.Lifecycle, h *Hub) {
		lc.Append(fx.Hook{OnStop: func(context.Context) error {
			h.Close()
			return nil
		}})
	}),
)

// Hub multiplexes listeners onto ref-counted upstream subscriptions.
type Hub struct {
	src     Source
	logger  *zap.Logger
	metrics *observability.Metrics

	mu        sync.Mutex
	upstreams map[entity.Filter]*upstream
	closed    bool
}

type upstream struct {
	filter    entity.Filter
	sub       *orderstore.Subscription
	listeners map[*Listener]struct{}
	latest    *orderstore.Snapshot
	done      chan struct{}
}

// NewHub constructs a Hub over src.
func NewHub(src Source, logger *zap.Logger, metrics *observability.Metrics) *Hub {
	return &Hub{
		src:       src,
		logger:    logger,
		metrics:   metrics,
		upstreams: make(map[entity.Filter]*upstream),
	}
}

// Listen attaches a listener to the upstream for filter, opening it if this
// is the first listener. If the upstream already has a snapshot the listener
// receives it immediately.
func (h *Hub) Listen(filter entity.Filter, search string) (*Listener, error) {
	if !filter.Valid() {
		return nil, errorbank.Validation("unknown status filter "+string(filter), errorbank.WithField("status"))
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, errorbank.Transport("live query hub is shut down")
	}

	up, ok := h.upstreams[filter]
	if !ok {
		sub, err := h.src.Subscribe(context.Background(), filter)
		if err != nil {
			h.mu.Unlock()
			return nil, err
		}
		up = &upstream{
			filter:    filter,
			sub:       sub,
			listeners: make(map[*Listener]struct{}),
			done:      make(chan struct{}),
		}
		h.upstreams[filter] = up
		h.metrics.LiveQueryUpstreams.Add(context.Background(), 1, filterAttr(filter))
		h.logger.Debug("live query upstream opened", zap.String("filter", string(filter)))
		go h.pump(up)
	}

	l := &Listener{
		hub:    h,
		up:     up,
		filter: filter,
		search: normaliseSearch(search),
		out:    make(chan View, 1),
	}
	up.listeners[l] = struct{}{}
	latest := up.latest
	h.mu.Unlock()

	h.metrics.LiveQueryListeners.Add(context.Background(), 1, filterAttr(filter))
	if latest != nil {
		l.update(*latest)
	}
	return l, nil
}

// ActiveUpstreams returns the number of open upstream subscriptions.
func (h *Hub) ActiveUpstreams() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.upstreams)
}

// Close shuts every upstream and closes every listener channel.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	ups := make([]*upstream, 0, len(h.upstreams))
	for f, up := range h.upstreams {
		delete(h.upstreams, f)
		h.metrics.LiveQueryUpstreams.Add(context.Background(), -1, filterAttr(f))
		ups = append(ups, up)
	}
	h.mu.Unlock()

	for _, up := range ups {
		up.sub.Close()
		<-up.done
	}
}

func (h *Hub) pump(up *upstream) {
	defer close(up.done)

	for snap := range up.sub.Snapshots() {
		h.mu.Lock()
		s := snap
		up.latest = &s
		targets := make([]*Listener, 0, len(up.listeners))
		for l := range up.listeners {
			targets = append(targets, l)
		}
		h.mu.Unlock()

		for _, l := range targets {
			l.update(snap)
		}
	}

	// Upstream ended: closed by the last listener, by Close, or by the feed.
	h.mu.Lock()
	if h.upstreams[up.filter] == up {
		delete(h.upstreams, up.filter)
		h.metrics.LiveQueryUpstreams.Add(context.Background(), -1, filterAttr(up.filter))
	}
	remaining := up.listeners
	up.listeners = nil
	h.mu.Unlock()

	for l := range remaining {
		l.shutdown()
	}
}

// release detaches l and closes the upstream if l was its last listener.
func (h *Hub) release(l *Listener) {
	h.mu.Lock()
	up := l.up
	if up.listeners != nil {
		delete(up.listeners, l)
	}
	var last bool
	if len(up.listeners) == 0 && h.upstreams[up.filter] == up {
		delete(h.upstreams, up.filter)
		h.metrics.LiveQueryUpstreams.Add(context.Background(), -1, filterAttr(up.filter))
		last = true
	}
	h.mu.Unlock()

	h.metrics.LiveQueryListeners.Add(context.Background(), -1, filterAttr(l.filter))
	if last {
		up.sub.Close()
		<-up.done
		h.logger.Debug("live query upstream closed", zap.String("filter", string(up.filter)))
	}
}

// Listener receives views of one filter narrowed by its search term.
type Listener struct {
	hub    *Hub
	up     *upstream
	filter entity.Filter

	mu      sync.Mutex
	search  string
	snap    *orderstore.Snapshot
	lastSeq uint64
	closed  bool
	out     chan View

	closeOnce sync.Once
}

// Views delivers the listener's views, latest-wins. It is closed by Close or
// when the hub shuts down.
func (l *Listener) Views() <-chan View {
	return l.out
}

// Filter returns the status filter the listener follows.
func (l *Listener) Filter() entity.Filter {
	return l.filter
}

// SetSearch changes the search term and re-renders the current snapshot.
func (l *Listener) SetSearch(search string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.search = normaliseSearch(search)
	if l.closed || l.snap == nil {
		return
	}
	l.offer(render(*l.snap, l.search))
}

// Close detaches the listener. Safe to call repeatedly and concurrently.
func (l *Listener) Close() {
	l.closeOnce.Do(func() {
		l.shutdown()
		l.hub.release(l)
	})
}

func (l *Listener) shutdown() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.closed = true
	close(l.out)
}

func (l *Listener) update(snap orderstore.Snapshot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed || snap.Seq <= l.lastSeq {
		return
	}
	l.lastSeq = snap.Seq
	l.snap = &snap
	l.offer(render(snap, l.search))
}

// offer must be called with l.mu held.
func (l *Listener) offer(v View) {
	select {
	case l.out <- v:
		return
	default:
	}
	select {
	case <-l.out:
	default:
	}
	l.out <- v
}

func render(snap orderstore.Snapshot, search string) View {
	v := View{
		Filter: snap.Filter,
		Search: search,
		Total:  len(snap.Orders),
		Err:    snap.Err,
		Seq:    snap.Seq,
	}
	if snap.Err != nil {
		return v
	}
	v.Orders = make([]entity.Order, 0, len(snap.Orders))
	for _, o := range snap.Orders {
		if Matches(&o, search) {
			v.Orders = append(v.Orders, o)
		}
	}
	return v
}

// Matches reports whether search is a case-insensitive substring of the
// order's name, email or contact number. An empty search matches everything.
func Matches(o *entity.Order, search string) bool {
	search = normaliseSearch(search)
	if search == "" {
		return true
	}
	for _, field := range []string{o.Name, o.Email, o.ContactNo} {
		if strings.Contains(strings.ToLower(field), search) {
			return true
		}
	}
	return false
}

func normaliseSearch(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func filterAttr(f entity.Filter) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("filter", string(f)))
}
