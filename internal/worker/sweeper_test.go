package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"carpihogar-assistant/internal/redisclient"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRetention pretends each table holds a fixed number of eligible rows
type fakeRetention struct {
	tokens  int64
	temps   int64
	cutoffs []time.Time
	limits  []int
	err     error
}

func (f *fakeRetention) DeleteStaleTokens(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	return f.take(&f.tokens, cutoff, limit)
}

func (f *fakeRetention) DeleteOrphanTemporaryOrders(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	return f.take(&f.temps, cutoff, limit)
}

func (f *fakeRetention) take(rows *int64, cutoff time.Time, limit int) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.cutoffs = append(f.cutoffs, cutoff)
	f.limits = append(f.limits, limit)
	n := *rows
	if n > int64(limit) {
		n = int64(limit)
	}
	*rows -= n
	return n, nil
}

func newLocker(t *testing.T) (*redisclient.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	return redisclient.NewFromRedis(redis.NewClient(&redis.Options{Addr: mr.Addr()})), mr
}

func TestSweepOnceDrainsInBatches(t *testing.T) {
	locker, mr := newLocker(t)
	store := &fakeRetention{tokens: 25, temps: 7}
	s := NewRetentionSweeper(store, locker, 30, time.Minute, 10)
	now := time.Date(2026, 3, 31, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	res, err := s.SweepOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(25), res.Tokens)
	assert.Equal(t, int64(7), res.TempOrders)
	assert.False(t, res.Skipped)

	// 10 + 10 + 5 tokens, then 7 temp orders
	assert.Len(t, store.cutoffs, 4)
	for _, c := range store.cutoffs {
		assert.Equal(t, now.Add(-30*24*time.Hour), c)
	}
	assert.False(t, mr.Exists("lock:"+sweepLockKey))
}

func TestSweepOnceSkipsWhenLocked(t *testing.T) {
	locker, _ := newLocker(t)
	ctx := context.Background()
	_, ok, err := locker.AcquireLock(ctx, sweepLockKey, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	store := &fakeRetention{tokens: 3}
	res, err := NewRetentionSweeper(store, locker, 30, time.Minute, 10).SweepOnce(ctx)
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Equal(t, int64(3), store.tokens)
}

func TestSweepOnceReportsStoreErrors(t *testing.T) {
	locker, mr := newLocker(t)
	store := &fakeRetention{err: errors.New("db down")}

	_, err := NewRetentionSweeper(store, locker, 30, time.Minute, 10).SweepOnce(context.Background())
	assert.ErrorContains(t, err, "purchase_tokens")
	assert.False(t, mr.Exists("lock:"+sweepLockKey))
}

func TestStartStopsOnCancel(t *testing.T) {
	locker, _ := newLocker(t)
	store := &fakeRetention{tokens: 1}
	s := NewRetentionSweeper(store, locker, 30, 10*time.Millisecond, 10)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	err := s.Start(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Zero(t, store.tokens)
}
