package notifier

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/cellrent/internal/lifecycle"
)

func TestNewScheduler_RejectsBadSpec(t *testing.T) {
	n := New(newMemStore(), &fakeSink{}, lifecycle.DefaultPolicy(), Config{}, nil)

	_, err := NewScheduler(n, "every day", time.UTC, time.Minute, nil)
	assert.Error(t, err)

	// Выражение без секунд не принимается: планировщик работает с секундным полем.
	_, err = NewScheduler(n, "0 9 * * *", time.UTC, time.Minute, nil)
	assert.Error(t, err)
}

func TestScheduler_StartStop(t *testing.T) {
	n := New(newMemStore(), &fakeSink{}, lifecycle.DefaultPolicy(), Config{}, nil)

	s, err := NewScheduler(n, "0 0 9 * * *", time.UTC, time.Minute, nil)
	require.NoError(t, err)

	s.Start()
	next := s.Next()
	s.Stop()

	require.False(t, next.IsZero())
	assert.Equal(t, 9, next.UTC().Hour())
	assert.Zero(t, next.Minute())
	assert.True(t, next.After(time.Now()))
}

func TestScheduler_TickSkipsWhenRunning(t *testing.T) {
	store := newMemStore(dueRental(1, 1, "a@example.com"))
	sink := &fakeSink{}
	n := New(store, sink, lifecycle.DefaultPolicy(), Config{}, nil)

	s, err := NewScheduler(n, "0 0 9 * * *", time.UTC, time.Minute, nil)
	require.NoError(t, err)

	n.mu.Lock()
	s.tick()
	n.mu.Unlock()

	assert.Empty(t, sink.sent)
}
