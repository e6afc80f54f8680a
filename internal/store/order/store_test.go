package order

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Additional-Code/printshop/internal/cache"
	"github.com/Additional-Code/printshop/internal/changefeed"
	"github.com/Additional-Code/printshop/internal/entity"
	orderrepo "github.com/Additional-Code/printshop/internal/repository/order"
	"github.com/Additional-Code/printshop/pkg/errorbank"
)

type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

type fixture struct {
	store *Store
	repo  *orderrepo.Memory
	feed  *changefeed.Local
	cache cache.Store
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	repo := orderrepo.NewMemory()
	feed := changefeed.NewLocal()
	c := cache.NewMemory()
	clock := &stepClock{now: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)}
	s := New(Params{
		Backend: repo,
		Cache:   c,
		Feed:    feed,
		Logger:  zap.NewNop(),
		Clock:   clock.Now,
	})
	t.Cleanup(feed.Close)
	return fixture{store: s, repo: repo, feed: feed, cache: c}
}

func draft(name string) entity.Draft {
	return entity.Draft{
		Name:       name,
		Email:      "customer@example.com",
		ContactNo:  "0771234567",
		PrintType:  entity.PrintBW,
		TotalPages: 4,
		Price:      12,
		PDFFiles: []entity.Attachment{
			{Name: "notes.pdf", URL: "https://files.example/notes.pdf", PublicID: "p-1", Pages: 4},
		},
	}
}

func nextSnapshot(t *testing.T, sub *Subscription) Snapshot {
	t.Helper()
	select {
	case snap, ok := <-sub.Snapshots():
		require.True(t, ok, "subscription closed unexpectedly")
		return snap
	case <-time.After(2 * time.Second):
		require.FailNow(t, "timed out waiting for snapshot")
	}
	return Snapshot{}
}

func waitSnapshot(t *testing.T, sub *Subscription, match func(Snapshot) bool) Snapshot {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case snap, ok := <-sub.Snapshots():
			require.True(t, ok, "subscription closed unexpectedly")
			if match(snap) {
				return snap
			}
		case <-deadline:
			require.FailNow(t, "timed out waiting for matching snapshot")
		}
	}
}

func ids(orders []entity.Order) []string {
	out := make([]string, len(orders))
	for i, o := range orders {
		out[i] = o.ID
	}
	return out
}

func TestCreateAssignsServerFields(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id, err := f.store.Create(ctx, draft("Asha"))
	require.NoError(t, err)
	require.NotEmpty(t, id)

	got, err := f.store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, got.ID)
	assert.Equal(t, entity.StatusPending, got.Status)
	assert.Equal(t, int64(1), got.Version)
	assert.False(t, got.Timestamp.IsZero())
	assert.Equal(t, 12, got.Price)
	assert.Len(t, got.PDFFiles, 1)
}

func TestCreateRejectsInvalidDrafts(t *testing.T) {
	cases := map[string]struct {
		mutate func(*entity.Draft)
		field  string
	}{
		"missing name":     {func(d *entity.Draft) { d.Name = "" }, "name"},
		"malformed email":  {func(d *entity.Draft) { d.Email = "not-an-email" }, "email"},
		"missing contact":  {func(d *entity.Draft) { d.ContactNo = "" }, "contactNo"},
		"unknown type":     {func(d *entity.Draft) { d.PrintType = "sepia" }, "printType"},
		"zero pages":       {func(d *entity.Draft) { d.TotalPages = 0 }, "totalPages"},
		"negative price":   {func(d *entity.Draft) { d.Price = -1 }, "price"},
		"duplicate public": {func(d *entity.Draft) { d.PDFFiles = append(d.PDFFiles, d.PDFFiles[0]) }, "pdfFiles"},
		"too many files": {func(d *entity.Draft) {
			d.PDFFiles = nil
			for _, id := range []string{"a", "b", "c", "d", "e", "f"} {
				d.PDFFiles = append(d.PDFFiles, entity.Attachment{Name: id, URL: "u", PublicID: id, Pages: 1})
			}
		}, "pdfFiles"},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			d := draft("Asha")
			tc.mutate(&d)

			_, err := f.store.Create(context.Background(), d)
			require.Error(t, err)
			appErr := errorbank.From(err)
			assert.Equal(t, errorbank.KindValidation, appErr.Kind())
			assert.Equal(t, tc.field, appErr.Details()["field"])

			orders, err := f.store.List(context.Background(), entity.FilterAll)
			require.NoError(t, err)
			assert.Empty(t, orders)
		})
	}
}

func TestCreateBackendFailureIsTransport(t *testing.T) {
	f := newFixture(t)
	f.repo.FailNext = errors.New("connection reset")

	_, err := f.store.Create(context.Background(), draft("Asha"))
	assert.True(t, errorbank.Is(err, errorbank.KindTransport))
}

// laggingReplica never sees rows on reads, like a replica that has not
// caught up with the primary yet.
type laggingReplica struct {
	*orderrepo.Memory
}

func (laggingReplica) GetByID(context.Context, string) (*entity.Order, error) {
	return nil, orderrepo.ErrNotFound
}

func TestCreateOrderDoesNotDependOnReplica(t *testing.T) {
	feed := changefeed.NewLocal()
	t.Cleanup(feed.Close)
	s := New(Params{Backend: laggingReplica{orderrepo.NewMemory()}, Cache: cache.NewMemory(), Feed: feed, Logger: zap.NewNop()})
	ctx := context.Background()

	created, err := s.CreateOrder(ctx, draft("Asha"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), created.Version)
	assert.Equal(t, entity.StatusPending, created.Status)

	got, err := s.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)
	assert.Equal(t, 12, got.Price)
}

func TestCurrentAndMutateIgnoreStaleCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id, err := f.store.Create(ctx, draft("Asha"))
	require.NoError(t, err)

	stale, err := f.store.Get(ctx, id)
	require.NoError(t, err)
	status := entity.StatusCompleted
	_, err = f.store.Update(ctx, id, Patch{Status: &status})
	require.NoError(t, err)
	require.NoError(t, cache.SetJSON(ctx, f.cache, cacheKey(id), stale, time.Minute))

	cached, err := f.store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusPending, cached.Status, "cache still holds the old copy")

	current, err := f.store.Current(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusCompleted, current.Status)
	assert.Equal(t, int64(2), current.Version)

	var seen entity.Status
	updated, err := f.store.Mutate(ctx, id, func(o *entity.Order) (bool, error) {
		seen = o.Status
		o.Name = "Asha K"
		return true, nil
	})
	require.NoError(t, err)
	assert.Equal(t, entity.StatusCompleted, seen)
	assert.Equal(t, int64(3), updated.Version)

	got, err := f.store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Asha K", got.Name, "mutate drops the stale entry")
}

func TestGetUnknownIsNotFound(t *testing.T) {
	f := newFixture(t)

	_, err := f.store.Get(context.Background(), "missing")
	assert.True(t, errorbank.Is(err, errorbank.KindNotFound))
}

func TestGetServesFromCacheUntilWrite(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id, err := f.store.Create(ctx, draft("Asha"))
	require.NoError(t, err)

	_, err = f.store.Get(ctx, id)
	require.NoError(t, err)
	_, err = f.cache.Get(ctx, cacheKey(id))
	require.NoError(t, err, "create seeds the cache")

	name := "Asha K"
	_, err = f.store.Update(ctx, id, Patch{Name: &name})
	require.NoError(t, err)
	_, err = f.cache.Get(ctx, cacheKey(id))
	assert.ErrorIs(t, err, cache.ErrCacheMiss)

	got, err := f.store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Asha K", got.Name)
}

func TestUpdateRejectsWriteOnceFields(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id, err := f.store.Create(ctx, draft("Asha"))
	require.NoError(t, err)

	newID := "other"
	price := 1
	pages := 9
	ts := time.Now()
	for field, patch := range map[string]Patch{
		"id":         {ID: &newID},
		"price":      {Price: &price},
		"totalPages": {TotalPages: &pages},
		"timestamp":  {Timestamp: &ts},
	} {
		_, err := f.store.Update(ctx, id, patch)
		appErr := errorbank.From(err)
		require.NotNil(t, appErr, field)
		assert.Equal(t, errorbank.KindValidation, appErr.Kind(), field)
		assert.Equal(t, field, appErr.Details()["field"])
	}

	got, err := f.store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Version)
	assert.Equal(t, 12, got.Price)
}

func TestUpdateUnknownOrder(t *testing.T) {
	f := newFixture(t)
	name := "x"

	_, err := f.store.Update(context.Background(), "missing", Patch{Name: &name})
	assert.True(t, errorbank.Is(err, errorbank.KindNotFound))
}

func TestUpdateRejectsUnknownStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id, err := f.store.Create(ctx, draft("Asha"))
	require.NoError(t, err)

	status := entity.Status("archived")
	_, err = f.store.Update(ctx, id, Patch{Status: &status})
	assert.True(t, errorbank.Is(err, errorbank.KindValidation))
}

func TestUpdateEmptyPatchIsNoop(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id, err := f.store.Create(ctx, draft("Asha"))
	require.NoError(t, err)

	got, err := f.store.Update(ctx, id, Patch{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Version)
}

func TestUpdateExpectedVersionConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id, err := f.store.Create(ctx, draft("Asha"))
	require.NoError(t, err)

	first := "First"
	v1 := int64(1)
	updated, err := f.store.Update(ctx, id, Patch{Name: &first, ExpectedVersion: &v1})
	require.NoError(t, err)
	assert.Equal(t, int64(2), updated.Version)

	second := "Second"
	_, err = f.store.Update(ctx, id, Patch{Name: &second, ExpectedVersion: &v1})
	assert.True(t, errorbank.Is(err, errorbank.KindConflict))

	got, err := f.store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "First", got.Name)
}

func TestMutateWithoutChangeSkipsWrite(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id, err := f.store.Create(ctx, draft("Asha"))
	require.NoError(t, err)

	got, err := f.store.Mutate(ctx, id, func(*entity.Order) (bool, error) { return false, nil })
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Version)

	got, err = f.store.Mutate(ctx, id, func(o *entity.Order) (bool, error) {
		o.Name = "Changed"
		return true, nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Version)
}

func TestListOrdersNewestFirst(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a, err := f.store.Create(ctx, draft("A"))
	require.NoError(t, err)
	b, err := f.store.Create(ctx, draft("B"))
	require.NoError(t, err)

	orders, err := f.store.List(ctx, entity.FilterAll)
	require.NoError(t, err)
	assert.Equal(t, []string{b, a}, ids(orders))

	_, err = f.store.List(ctx, entity.Filter("archived"))
	assert.True(t, errorbank.Is(err, errorbank.KindValidation))
}

func TestSubscriptionsFollowCreateAndTransition(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pending, err := f.store.Subscribe(ctx, entity.FilterFor(entity.StatusPending))
	require.NoError(t, err)
	defer pending.Close()
	completed, err := f.store.Subscribe(ctx, entity.FilterFor(entity.StatusCompleted))
	require.NoError(t, err)
	defer completed.Close()

	assert.Empty(t, nextSnapshot(t, pending).Orders)
	assert.Empty(t, nextSnapshot(t, completed).Orders)

	id, err := f.store.Create(ctx, draft("Asha"))
	require.NoError(t, err)

	snap := waitSnapshot(t, pending, func(s Snapshot) bool { return len(s.Orders) == 1 })
	assert.Equal(t, id, snap.Orders[0].ID)

	status := entity.StatusCompleted
	_, err = f.store.Update(ctx, id, Patch{Status: &status})
	require.NoError(t, err)

	waitSnapshot(t, pending, func(s Snapshot) bool { return len(s.Orders) == 0 })
	snap = waitSnapshot(t, completed, func(s Snapshot) bool { return len(s.Orders) == 1 })
	assert.Equal(t, id, snap.Orders[0].ID)
	assert.Equal(t, entity.StatusCompleted, snap.Orders[0].Status)
}

func TestSubscriptionSkipsUnchangedResults(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sub, err := f.store.Subscribe(ctx, entity.FilterFor(entity.StatusCompleted))
	require.NoError(t, err)
	defer sub.Close()
	first := nextSnapshot(t, sub)
	assert.Equal(t, uint64(1), first.Seq)

	id, err := f.store.Create(ctx, draft("Asha"))
	require.NoError(t, err)

	select {
	case snap := <-sub.Snapshots():
		t.Fatalf("unexpected snapshot %d with %d orders", snap.Seq, len(snap.Orders))
	case <-time.After(150 * time.Millisecond):
	}

	status := entity.StatusCompleted
	_, err = f.store.Update(ctx, id, Patch{Status: &status})
	require.NoError(t, err)

	snap := nextSnapshot(t, sub)
	assert.Equal(t, uint64(2), snap.Seq)
	assert.Equal(t, []string{id}, ids(snap.Orders))
}

func TestSubscriptionDeliversTransportErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sub, err := f.store.Subscribe(ctx, entity.FilterAll)
	require.NoError(t, err)
	defer sub.Close()
	nextSnapshot(t, sub)

	f.repo.FailNext = errors.New("connection reset")
	require.NoError(t, f.feed.Publish(ctx, changefeed.Change{OrderID: "any"}))

	snap := nextSnapshot(t, sub)
	require.Error(t, snap.Err)
	assert.True(t, errorbank.Is(snap.Err, errorbank.KindTransport))

	_, err = f.store.Create(ctx, draft("Asha"))
	require.NoError(t, err)
	snap = waitSnapshot(t, sub, func(s Snapshot) bool { return s.Err == nil })
	assert.Len(t, snap.Orders, 1)
}

func TestSubscriptionRecoversToEmptyResult(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sub, err := f.store.Subscribe(ctx, entity.FilterFor(entity.StatusCompleted))
	require.NoError(t, err)
	defer sub.Close()
	assert.Empty(t, nextSnapshot(t, sub).Orders)

	f.repo.FailNext = errors.New("connection reset")
	require.NoError(t, f.feed.Publish(ctx, changefeed.Change{OrderID: "any"}))
	failed := nextSnapshot(t, sub)
	require.Error(t, failed.Err)

	// the result is still empty, but it replaces the error view
	_, err = f.store.Create(ctx, draft("Asha"))
	require.NoError(t, err)
	snap := nextSnapshot(t, sub)
	assert.NoError(t, snap.Err)
	assert.Empty(t, snap.Orders)
	assert.Equal(t, failed.Seq+1, snap.Seq)
}

func TestSubscriptionCloseIsIdempotent(t *testing.T) {
	f := newFixture(t)

	sub, err := f.store.Subscribe(context.Background(), entity.FilterAll)
	require.NoError(t, err)
	assert.Equal(t, 1, f.feed.Len())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sub.Close()
		}()
	}
	wg.Wait()
	sub.Close()

	assert.Equal(t, 0, f.feed.Len())
	for range sub.Snapshots() {
	}
}

func TestSubscriptionClosesWithContext(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())

	sub, err := f.store.Subscribe(ctx, entity.FilterAll)
	require.NoError(t, err)
	cancel()

	select {
	case <-sub.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("subscription did not stop after cancel")
	}
	assert.Equal(t, 0, f.feed.Len())
}

func TestSubscribeRejectsUnknownFilter(t *testing.T) {
	f := newFixture(t)

	_, err := f.store.Subscribe(context.Background(), entity.Filter("archived"))
	assert.True(t, errorbank.Is(err, errorbank.KindValidation))
}
