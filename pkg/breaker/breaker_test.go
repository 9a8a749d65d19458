package breaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager_OpensAfterFailureThreshold(t *testing.T) {
	m := NewManager(3, time.Minute, 10*time.Millisecond)
	ctx := context.Background()
	failing := func(ctx context.Context) error { return errors.New("boom") }

	for i := 0; i < 3; i++ {
		err := m.Call(ctx, "provider-a", failing)
		assert.Error(t, err)
		assert.NotErrorIs(t, err, ErrOpen, "failures below threshold must not short-circuit")
	}

	err := m.Call(ctx, "provider-a", func(ctx context.Context) error { return nil })
	require.ErrorIs(t, err, ErrOpen)

	rec := m.Record("provider-a")
	assert.Equal(t, "open", rec.State)
}

func TestManager_HalfOpenAllowsSingleProbe(t *testing.T) {
	m := NewManager(1, time.Minute, 20*time.Millisecond)
	ctx := context.Background()

	require.Error(t, m.Call(ctx, "provider-b", func(ctx context.Context) error { return errors.New("boom") }))
	require.ErrorIs(t, m.Call(ctx, "provider-b", func(ctx context.Context) error { return nil }), ErrOpen)

	time.Sleep(30 * time.Millisecond)

	err := m.Call(ctx, "provider-b", func(ctx context.Context) error { return nil })
	require.NoError(t, err, "half-open probe should be let through and succeed")

	rec := m.Record("provider-b")
	assert.Equal(t, "closed", rec.State)
}

func TestManager_ResetRecordsSourceAndReason(t *testing.T) {
	m := NewManager(1, time.Minute, time.Hour)
	ctx := context.Background()
	require.Error(t, m.Call(ctx, "provider-c", func(ctx context.Context) error { return errors.New("boom") }))

	m.Reset("provider-c", "operator override")

	rec := m.Record("provider-c")
	assert.Equal(t, "closed", rec.State)
	assert.Equal(t, "operator override", rec.LastResetReason)
}
