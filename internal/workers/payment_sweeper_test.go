package workers

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"propmarket_backend/internal/dto"
	"propmarket_backend/internal/locks"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingSweeper struct {
	calls atomic.Int32
	err   error
}

func (s *countingSweeper) SweepExpired(ctx context.Context) (*dto.SweepResponse, error) {
	s.calls.Add(1)
	if s.err != nil {
		return nil, s.err
	}
	return &dto.SweepResponse{Cancelled: 2}, nil
}

func TestPaymentSweeper_RunOnce(t *testing.T) {
	sweeper := &countingSweeper{}
	w := NewPaymentSweeper(sweeper, locks.NewLocalLocker(), time.Minute)

	res, ran, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, ran)
	assert.Equal(t, 2, res.Cancelled)

	// Блокировка освобождается после прохода
	_, ran, err = w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, ran)
	assert.EqualValues(t, 2, sweeper.calls.Load())
}

func TestPaymentSweeper_SkipsWhenLockHeld(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	// Две реплики с общим Redis
	sweeperA, sweeperB := &countingSweeper{}, &countingSweeper{}
	lockerA := locks.NewRedisLocker(client, "propmarket")
	replicaB := NewPaymentSweeper(sweeperB, locks.NewRedisLocker(client, "propmarket"), time.Minute)

	release, acquired, err := lockerA.TryAcquire(context.Background(), sweepLockKey, time.Minute)
	require.NoError(t, err)
	require.True(t, acquired)

	_, ran, err := replicaB.RunOnce(context.Background())
	require.NoError(t, err)
	assert.False(t, ran)
	assert.Zero(t, sweeperB.calls.Load())

	release()
	_, ran, err = replicaB.RunOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, ran)
	assert.Zero(t, sweeperA.calls.Load())
}

func TestPaymentSweeper_LockError(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	mr.Close()

	sweeper := &countingSweeper{}
	w := NewPaymentSweeper(sweeper, locks.NewRedisLocker(client, "propmarket"), time.Minute)

	_, ran, err := w.RunOnce(context.Background())
	assert.Error(t, err)
	assert.False(t, ran)
	assert.Zero(t, sweeper.calls.Load())
}

func TestPaymentSweeper_SweepError(t *testing.T) {
	sweeper := &countingSweeper{err: errors.New("db down")}
	w := NewPaymentSweeper(sweeper, locks.NewLocalLocker(), time.Minute)

	_, ran, err := w.RunOnce(context.Background())
	assert.Error(t, err)
	assert.True(t, ran)
}

func TestPaymentSweeper_Schedule(t *testing.T) {
	sweeper := &countingSweeper{}
	w := NewPaymentSweeper(sweeper, locks.NewLocalLocker(), time.Second)

	require.NoError(t, w.Start(context.Background()))
	assert.Error(t, w.Start(context.Background()), "повторный запуск запрещен")

	assert.Eventually(t, func() bool { return sweeper.calls.Load() >= 1 }, 5*time.Second, 50*time.Millisecond)
	w.Stop()
	w.Stop()
}
