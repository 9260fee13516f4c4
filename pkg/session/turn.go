package session

import (
	"context"
	"sync"
	"time"

	"github.com/harun/mira/pkg/orchestrator"
)

// Status is a turn's lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusStreaming Status = "streaming"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// validTransitions encodes the turn state machine: Pending to Streaming to
// Completed or Failed, with Cancelled reachable from Pending or Streaming.
var validTransitions = map[Status][]Status{
	StatusPending:   {StatusStreaming, StatusFailed, StatusCancelled},
	StatusStreaming: {StatusCompleted, StatusFailed, StatusCancelled},
}

// Turn is one request/response cycle within a session. Retained read-only
// after completion.
type Turn struct {
	ID        string
	SessionID string
	Model     string
	Input     orchestrator.Input

	mu        sync.Mutex
	status    Status
	output    string
	startedAt time.Time
	endedAt   time.Time
	cancel    context.CancelFunc
}

func newTurn(id, sessionID, model string, input orchestrator.Input, cancel context.CancelFunc) *Turn {
	return &Turn{
		ID:        id,
		SessionID: sessionID,
		Model:     model,
		Input:     input,
		status:    StatusPending,
		startedAt: time.Now(),
		cancel:    cancel,
	}
}

// Status returns the current state
func (t *Turn) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// Output returns the accumulated output, complete once the turn is terminal.
func (t *Turn) Output() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.output
}

// StartedAt returns when the turn was accepted
func (t *Turn) StartedAt() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.startedAt
}

// EndedAt returns when the turn reached a terminal state, zero before that.
func (t *Turn) EndedAt() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.endedAt
}

// transition moves the turn to the target state, refusing anything the
// state machine does not allow. Terminal states are frozen.
func (t *Turn) transition(to Status) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, allowed := range validTransitions[t.status] {
		if allowed == to {
			t.status = to
			if to.Terminal() {
				t.endedAt = time.Now()
			}
			return true
		}
	}
	return false
}

// settle records a terminal state and the final output in one step.
func (t *Turn) settle(to Status, output string) bool {
	if !t.transition(to) {
		return false
	}
	t.mu.Lock()
	t.output = output
	t.mu.Unlock()
	return true
}

// Cancel signals the running turn to stop. Safe to call repeatedly.
func (t *Turn) Cancel() {
	if t.cancel != nil {
		t.cancel()
	}
}
