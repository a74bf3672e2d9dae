package engine

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerPool_RunsSubmittedWork(t *testing.T) {
	p := NewWorkerPool(2)
	defer p.Shutdown()

	var done atomic.Int32
	for i := 0; i < 5; i++ {
		err := p.Submit(context.Background(), func(context.Context) error {
			done.Add(1)
			return nil
		})
		require.NoError(t, err)
	}
	p.Wait()

	assert.Equal(t, int32(5), done.Load())
	assert.Equal(t, int64(5), p.Metrics().Completed)
}

func TestWorkerPool_BoundsConcurrency(t *testing.T) {
	p := NewWorkerPool(2)
	defer p.Shutdown()

	var current, peak atomic.Int32
	for i := 0; i < 6; i++ {
		err := p.Submit(context.Background(), func(context.Context) error {
			n := current.Add(1)
			for {
				old := peak.Load()
				if n <= old || peak.CompareAndSwap(old, n) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			current.Add(-1)
			return nil
		})
		require.NoError(t, err)
	}
	p.Wait()

	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestWorkerPool_SubmitRespectsContext(t *testing.T) {
	p := NewWorkerPool(1)
	defer p.Shutdown()

	block := make(chan struct{})
	require.NoError(t, p.Submit(context.Background(), func(context.Context) error {
		<-block
		return nil
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	// Pool is full; the waiting submit aborts when the context expires.
	err := p.Submit(ctx, func(context.Context) error { return nil })
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(block)
}

func TestWorkerPool_SubmitAfterShutdown(t *testing.T) {
	p := NewWorkerPool(1)
	p.Shutdown()

	err := p.Submit(context.Background(), func(context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrPoolShutdown)
}

func TestWorkerPool_ShutdownWaitsForActiveWork(t *testing.T) {
	p := NewWorkerPool(1)

	var finished atomic.Bool
	require.NoError(t, p.Submit(context.Background(), func(context.Context) error {
		time.Sleep(30 * time.Millisecond)
		finished.Store(true)
		return nil
	}))

	p.Shutdown()
	assert.True(t, finished.Load())
}

func TestWorkerPool_CountsFailures(t *testing.T) {
	p := NewWorkerPool(1)
	defer p.Shutdown()

	require.NoError(t, p.Submit(context.Background(), func(context.Context) error {
		return errors.New("boom")
	}))
	p.Wait()

	m := p.Metrics()
	assert.Equal(t, int64(1), m.Failed)
	assert.Equal(t, int64(0), m.Completed)
}

func TestWorkerPool_RecoversPanics(t *testing.T) {
	p := NewWorkerPool(1)
	defer p.Shutdown()

	require.NoError(t, p.Submit(context.Background(), func(context.Context) error {
		panic("worker exploded")
	}))
	p.Wait()

	m := p.Metrics()
	assert.Equal(t, int64(1), m.Panics)
	assert.Equal(t, int64(1), m.Failed)

	// Pool still usable after a panic.
	var ran atomic.Bool
	require.NoError(t, p.Submit(context.Background(), func(context.Context) error {
		ran.Store(true)
		return nil
	}))
	p.Wait()
	assert.True(t, ran.Load())
}

func TestWorkerPool_ZeroSizeDefaultsToOne(t *testing.T) {
	p := NewWorkerPool(0)
	defer p.Shutdown()

	require.NoError(t, p.Submit(context.Background(), func(context.Context) error { return nil }))
	p.Wait()
	assert.Equal(t, int64(1), p.Metrics().Completed)
}
