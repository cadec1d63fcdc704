package camera

import (
	"context"
	"testing"
	"time"

	"guardian/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRingDropsOldest(t *testing.T) {
	r := NewRing(2)
	assert.False(t, r.Offer(models.Frame{Seq: 1}))
	assert.False(t, r.Offer(models.Frame{Seq: 2}))
	assert.True(t, r.Offer(models.Frame{Seq: 3}))
	assert.Equal(t, uint64(1), r.Evicted())
	assert.Equal(t, 2, r.Len())

	ctx := context.Background()
	f, err := r.Pop(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), f.Seq)
	f, err = r.Pop(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), f.Seq)
}

func TestRingPopWaits(t *testing.T) {
	r := NewRing(1)
	go func() {
		time.Sleep(10 * time.Millisecond)
		r.Offer(models.Frame{Seq: 7})
	}()

	f, err := r.Pop(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(7), f.Seq)
}

func TestRingPopTimeout(t *testing.T) {
	r := NewRing(1)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := r.Pop(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRingCloseWakesWaiters(t *testing.T) {
	r := NewRing(1)
	errc := make(chan error, 1)
	go func() {
		_, err := r.Pop(context.Background())
		errc <- err
	}()
	time.Sleep(10 * time.Millisecond)
	r.Close()

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, ErrSourceClosed)
	case <-time.After(time.Second):
		t.Fatal("Pop did not return after Close")
	}
	assert.False(t, r.Offer(models.Frame{}), "offers after close are ignored")
}

func TestRingZeroCapacity(t *testing.T) {
	assert.Equal(t, 1, NewRing(0).Cap())
}
