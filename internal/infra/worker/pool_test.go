//go:build !integration

package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger() *zerolog.Logger {
	l := zerolog.Nop()
	return &l
}

func TestPool_RunsAndDrains(t *testing.T) {
	p := NewPool(3, 100, newTestLogger())
	p.Start(context.Background())

	var ran atomic.Int32
	for i := 0; i < 50; i++ {
		require.NoError(t, p.Submit(func(ctx context.Context) error {
			ran.Add(1)
			if ran.Load()%7 == 0 {
				return errors.New("flaky")
			}
			return nil
		}))
	}
	p.Stop()
	assert.EqualValues(t, 50, ran.Load())

	assert.ErrorIs(t, p.Submit(func(context.Context) error { return nil }), ErrStopped)
	p.Stop()
}

func TestPool_FullQueueRejects(t *testing.T) {
	p := NewPool(1, 1, newTestLogger())
	// not started: the single slot fills and the next submit is refused
	require.NoError(t, p.Submit(func(context.Context) error { return nil }))
	assert.ErrorIs(t, p.Submit(func(context.Context) error { return nil }), ErrQueueFull)
	assert.Error(t, p.Submit(nil))

	p.Start(context.Background())
	p.Stop()
}
