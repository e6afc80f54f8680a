package changefeed

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalFanOut(t *testing.T) {
	feed := NewLocal()
	t.Cleanup(feed.Close)

	a, releaseA := feed.Listen()
	b, releaseB := feed.Listen()
	defer releaseB()
	assert.Equal(t, 2, feed.Len())

	require.NoError(t, feed.Publish(context.Background(), Change{OrderID: "o-1", Version: 2}))
	assert.Equal(t, Change{OrderID: "o-1", Version: 2}, <-a)
	assert.Equal(t, Change{OrderID: "o-1", Version: 2}, <-b)

	releaseA()
	releaseA()
	_, open := <-a
	assert.False(t, open)
	assert.Equal(t, 1, feed.Len())
}

func TestLocalSlowListenerDoesNotBlock(t *testing.T) {
	feed := NewLocal()
	t.Cleanup(feed.Close)
	ch, release := feed.Listen()
	defer release()

	for i := 0; i < listenerBuffer*3; i++ {
		require.NoError(t, feed.Publish(context.Background(), Change{OrderID: "o-1", Version: int64(i + 1)}))
	}
	assert.Len(t, ch, listenerBuffer)
}

func TestLocalClose(t *testing.T) {
	feed := NewLocal()
	ch, release := feed.Listen()

	feed.Close()
	_, open := <-ch
	assert.False(t, open)
	assert.Zero(t, feed.Len())
	release()

	late, lateRelease := feed.Listen()
	_, open = <-late
	assert.False(t, open)
	lateRelease()
	feed.Close()
}
