package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	watcher "github.com/goliatone/go-watcher"
)

func TestAcquireIsExclusivePerWatch(t *testing.T) {
	service := NewService()

	first, err := service.Acquire(context.Background(), "w1")
	require.NoError(t, err)

	other, err := service.Acquire(context.Background(), "w2")
	require.NoError(t, err)
	other.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = service.Acquire(ctx, "w1")
	require.ErrorIs(t, err, context.DeadlineExceeded)

	first.Release()
	first.Release()

	again, err := service.Acquire(context.Background(), "w1")
	require.NoError(t, err)
	again.Release()
	assert.Equal(t, 0, service.Len())
	assert.Equal(t, uint64(3), service.AcquiredCount())
}

func TestMutualExclusionProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 25
	properties := gopter.NewProperties(parameters)

	properties.Property("holders of one watch never overlap", prop.ForAll(
		func(workers int, watches int) bool {
			service := NewService()
			active := make([]atomic.Int32, watches)
			var violated atomic.Bool
			var wg sync.WaitGroup
			for i := 0; i < workers; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					slot := i % watches
					l, err := service.Acquire(context.Background(), string(rune('a'+slot)))
					if err != nil {
						violated.Store(true)
						return
					}
					if active[slot].Add(1) > 1 {
						violated.Store(true)
					}
					time.Sleep(time.Microsecond * 50)
					active[slot].Add(-1)
					l.Release()
				}(i)
			}
			wg.Wait()
			return !violated.Load() && service.Len() == 0
		},
		gen.IntRange(1, 40),
		gen.IntRange(1, 5),
	))

	properties.TestingRun(t)
}

func TestSealAndAwaitEmpty(t *testing.T) {
	service := NewService()
	held, err := service.Acquire(context.Background(), "w1")
	require.NoError(t, err)

	assert.False(t, service.SealAndAwaitEmpty(20*time.Millisecond))
	assert.False(t, service.Running())

	_, err = service.Acquire(context.Background(), "w2")
	require.Error(t, err)
	assert.True(t, watcher.HasCode(err, watcher.ErrCodeLockSealed))

	go func() {
		time.Sleep(10 * time.Millisecond)
		held.Release()
	}()
	assert.True(t, service.SealAndAwaitEmpty(time.Second))

	service.Start()
	assert.True(t, service.Running())
	l, err := service.Acquire(context.Background(), "w2")
	require.NoError(t, err)
	l.Release()
}

func TestSealAndAwaitEmptyWhenIdle(t *testing.T) {
	service := NewService()
	assert.True(t, service.SealAndAwaitEmpty(0))
}
