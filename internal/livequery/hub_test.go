package livequery

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Additional-Code/printshop/internal/changefeed"
	"github.com/Additional-Code/printshop/internal/entity"
	"github.com/Additional-Code/printshop/internal/observability"
	orderrepo "github.com/Additional-Code/printshop/internal/repository/order"
	orderstore "github.com/Additional-Code/printshop/internal/store/order"
	"github.com/Additional-Code/printshop/pkg/errorbank"
)

type countingSource struct {
	store *orderstore.Store
	opens atomic.Int32
}

func (c *countingSource) Subscribe(ctx context.Context, filter entity.Filter) (*orderstore.Subscription, error) {
	c.opens.Add(1)
	return c.store.Subscribe(ctx, filter)
}

type fixture struct {
	hub    *Hub
	store  *orderstore.Store
	feed   *changefeed.Local
	source *countingSource
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	feed := changefeed.NewLocal()
	store := orderstore.New(orderstore.Params{Backend: orderrepo.NewMemory(), Feed: feed, Logger: zap.NewNop()})
	src := &countingSource{store: store}
	hub := NewHub(src, zap.NewNop(), observability.NoopMetrics())
	t.Cleanup(func() {
		hub.Close()
		feed.Close()
	})
	return fixture{hub: hub, store: store, feed: feed, source: src}
}

func (f fixture) create(t *testing.T, name, email, contact string) string {
	t.Helper()
	id, err := f.store.Create(context.Background(), entity.Draft{
		Name:       name,
		Email:      email,
		ContactNo:  contact,
		PrintType:  entity.PrintColor,
		TotalPages: 1,
		Price:      8,
		PDFFiles:   []entity.Attachment{{Name: "a.pdf", URL: "u", PublicID: "a", Pages: 1}},
	})
	require.NoError(t, err)
	return id
}

func awaitView(t *testing.T, l *Listener, match func(View) bool) View {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case v, ok := <-l.Views():
			require.True(t, ok, "listener closed unexpectedly")
			if match(v) {
				return v
			}
		case <-deadline:
			require.FailNow(t, "timed out waiting for view")
		}
	}
}

func names(v View) []string {
	out := make([]string, len(v.Orders))
	for i, o := range v.Orders {
		out[i] = o.Name
	}
	return out
}

func TestListenersShareOneUpstreamPerFilter(t *testing.T) {
	f := newFixture(t)

	a, err := f.hub.Listen(entity.FilterAll, "")
	require.NoError(t, err)
	b, err := f.hub.Listen(entity.FilterAll, "")
	require.NoError(t, err)
	c, err := f.hub.Listen(entity.FilterFor(entity.StatusPending), "")
	require.NoError(t, err)

	assert.Equal(t, int32(2), f.source.opens.Load())
	assert.Equal(t, 2, f.hub.ActiveUpstreams())

	a.Close()
	assert.Equal(t, 2, f.hub.ActiveUpstreams(), "upstream stays while b listens")
	b.Close()
	assert.Equal(t, 1, f.hub.ActiveUpstreams())
	c.Close()
	assert.Equal(t, 0, f.hub.ActiveUpstreams())
	assert.Equal(t, 0, f.feed.Len(), "every store subscription released")
}

func TestLateListenerGetsLatestSnapshot(t *testing.T) {
	f := newFixture(t)
	f.create(t, "Asha", "asha@example.com", "0771")

	first, err := f.hub.Listen(entity.FilterAll, "")
	require.NoError(t, err)
	defer first.Close()
	awaitView(t, first, func(v View) bool { return len(v.Orders) == 1 })

	late, err := f.hub.Listen(entity.FilterAll, "")
	require.NoError(t, err)
	defer late.Close()

	v := awaitView(t, late, func(View) bool { return true })
	assert.Equal(t, []string{"Asha"}, names(v))
	assert.Equal(t, int32(1), f.source.opens.Load())
}

func TestSearchNarrowsEachListener(t *testing.T) {
	f := newFixture(t)
	f.create(t, "Asha", "asha@example.com", "0771111111")
	f.create(t, "Bruno", "bruno@example.com", "0772222222")

	all, err := f.hub.Listen(entity.FilterAll, "")
	require.NoError(t, err)
	defer all.Close()
	byName, err := f.hub.Listen(entity.FilterAll, "  ASHA ")
	require.NoError(t, err)
	defer byName.Close()

	v := awaitView(t, all, func(v View) bool { return len(v.Orders) == 2 })
	assert.Equal(t, []string{"Bruno", "Asha"}, names(v))

	v = awaitView(t, byName, func(v View) bool { return v.Total == 2 })
	assert.Equal(t, []string{"Asha"}, names(v))

	byName.SetSearch("2222")
	v = awaitView(t, byName, func(v View) bool { return v.Search == "2222" })
	assert.Equal(t, []string{"Bruno"}, names(v))

	byName.SetSearch("nobody")
	v = awaitView(t, byName, func(v View) bool { return v.Search == "nobody" })
	assert.Empty(t, v.Orders)
	assert.Equal(t, 2, v.Total)

	assert.Equal(t, int32(1), f.source.opens.Load(), "search changes never resubscribe")
}

func TestListenersFollowWrites(t *testing.T) {
	f := newFixture(t)

	l, err := f.hub.Listen(entity.FilterFor(entity.StatusPending), "")
	require.NoError(t, err)
	defer l.Close()
	awaitView(t, l, func(v View) bool { return v.Seq == 1 })

	id := f.create(t, "Asha", "asha@example.com", "0771")
	awaitView(t, l, func(v View) bool { return len(v.Orders) == 1 })

	status := entity.StatusCancelled
	_, err = f.store.Update(context.Background(), id, orderstore.Patch{Status: &status})
	require.NoError(t, err)
	awaitView(t, l, func(v View) bool { return len(v.Orders) == 0 })
}

func TestConcurrentCloseReleasesUpstreamOnce(t *testing.T) {
	f := newFixture(t)

	listeners := make([]*Listener, 10)
	for i := range listeners {
		l, err := f.hub.Listen(entity.FilterAll, "")
		require.NoError(t, err)
		listeners[i] = l
	}

	var wg sync.WaitGroup
	for _, l := range listeners {
		for j := 0; j < 3; j++ {
			wg.Add(1)
			go func(l *Listener) {
				defer wg.Done()
				l.Close()
			}(l)
		}
	}
	wg.Wait()

	assert.Equal(t, 0, f.hub.ActiveUpstreams())
	assert.Equal(t, 0, f.feed.Len())
	assert.Equal(t, int32(1), f.source.opens.Load())
	for _, l := range listeners {
		_, open := <-l.Views()
		for open {
			_, open = <-l.Views()
		}
	}
}

func TestHubCloseEndsListeners(t *testing.T) {
	f := newFixture(t)
	l, err := f.hub.Listen(entity.FilterAll, "")
	require.NoError(t, err)

	f.hub.Close()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-l.Views():
			if !ok {
				l.Close()
				_, err := f.hub.Listen(entity.FilterAll, "")
				assert.True(t, errorbank.Is(err, errorbank.KindTransport))
				return
			}
		case <-deadline:
			t.Fatal("listener not closed by hub shutdown")
		}
	}
}

func TestListenRejectsUnknownFilter(t *testing.T) {
	f := newFixture(t)

	_, err := f.hub.Listen(entity.Filter("archived"), "")
	assert.True(t, errorbank.Is(err, errorbank.KindValidation))
}

func TestMatches(t *testing.T) {
	o := &entity.Order{Name: "Asha Perera", Email: "asha@example.com", ContactNo: "+94 77 123"}

	assert.True(t, Matches(o, ""))
	assert.True(t, Matches(o, "perera"))
	assert.True(t, Matches(o, "EXAMPLE.COM"))
	assert.True(t, Matches(o, "77 1"))
	assert.False(t, Matches(o, "bruno"))
}
