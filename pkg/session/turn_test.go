package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/mira/pkg/orchestrator"
)

func TestTurnLifecycle(t *testing.T) {
	cancelled := false
	turn := newTurn("turn-1", "sess-1", "scripted-1", orchestrator.Input{Text: "hi"}, func() {
		cancelled = true
	})

	assert.Equal(t, StatusPending, turn.Status())
	assert.False(t, turn.Status().Terminal())
	assert.False(t, turn.StartedAt().IsZero())
	assert.True(t, turn.EndedAt().IsZero())

	require.True(t, turn.transition(StatusStreaming))
	assert.Equal(t, StatusStreaming, turn.Status())

	require.True(t, turn.settle(StatusCompleted, "answer"))
	assert.Equal(t, StatusCompleted, turn.Status())
	assert.Equal(t, "answer", turn.Output())
	assert.True(t, turn.Status().Terminal())
	assert.False(t, turn.EndedAt().IsZero())

	assert.False(t, cancelled)
	turn.Cancel()
	assert.True(t, cancelled)
}

func TestTurnTransitionValidity(t *testing.T) {
	tests := []struct {
		name string
		from Status
		to   Status
		ok   bool
	}{
		{"pending to streaming", StatusPending, StatusStreaming, true},
		{"pending to failed", StatusPending, StatusFailed, true},
		{"pending to cancelled", StatusPending, StatusCancelled, true},
		{"pending to completed", StatusPending, StatusCompleted, false},
		{"streaming to completed", StatusStreaming, StatusCompleted, true},
		{"streaming to failed", StatusStreaming, StatusFailed, true},
		{"streaming to cancelled", StatusStreaming, StatusCancelled, true},
		{"streaming to pending", StatusStreaming, StatusPending, false},
		{"completed is frozen", StatusCompleted, StatusCancelled, false},
		{"failed is frozen", StatusFailed, StatusStreaming, false},
		{"cancelled is frozen", StatusCancelled, StatusCompleted, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			turn := newTurn("t", "s", "m", orchestrator.Input{}, func() {})
			turn.mu.Lock()
			turn.status = tt.from
			turn.mu.Unlock()

			assert.Equal(t, tt.ok, turn.transition(tt.to))
			if !tt.ok {
				assert.Equal(t, tt.from, turn.Status())
			}
		})
	}
}

func TestTurnSettleKeepsFirstTerminalState(t *testing.T) {
	turn := newTurn("t", "s", "m", orchestrator.Input{}, func() {})
	require.True(t, turn.transition(StatusStreaming))
	require.True(t, turn.settle(StatusCancelled, "partial"))

	// A late completion must not overwrite the cancellation.
	assert.False(t, turn.settle(StatusCompleted, "full"))
	assert.Equal(t, StatusCancelled, turn.Status())
	assert.Equal(t, "partial", turn.Output())
}
