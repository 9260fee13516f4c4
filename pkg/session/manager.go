// Package session owns the table of live sessions: creation under per-owner
// quotas, the at-most-one-active-turn invariant, admission control against a
// global backend concurrency limit, idle eviction, and turn dispatch to the
// orchestrator.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/harun/mira/internal/observability"
	"github.com/harun/mira/internal/tracing"
	"github.com/harun/mira/pkg/backend"
	"github.com/harun/mira/pkg/orchestrator"
	"github.com/harun/mira/pkg/stream"
)

// Session is one live conversation. All mutable state is guarded by mu;
// sessions never block on each other.
type Session struct {
	ID        string
	OwnerID   string
	Title     string
	CreatedAt time.Time

	mu            sync.Mutex
	model         string
	historyWindow int
	lastActiveAt  time.Time
	activeTurn    *Turn
	closed        bool
}

// Model returns the session's current model selector
func (s *Session) Model() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.model
}

// LastActiveAt returns the last admission or terminal-event time
func (s *Session) LastActiveAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActiveAt
}

// ActiveTurn returns the in-flight turn, or nil.
func (s *Session) ActiveTurn() *Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeTurn
}

// Config tunes the manager.
type Config struct {
	// MaxSessionsPerOwner caps concurrent sessions per owner id.
	MaxSessionsPerOwner int
	// MaxConcurrentBackend caps outstanding backend generations process-wide.
	MaxConcurrentBackend int
	// SessionIdleTimeout expires sessions with no activity.
	SessionIdleTimeout time.Duration
	// EvictSchedule is a cron spec for the idle sweep, e.g. "@every 1m".
	EvictSchedule string
	// DefaultModel is assigned to new sessions.
	DefaultModel string
}

// DefaultConfig returns manager defaults
func DefaultConfig() Config {
	return Config{
		MaxSessionsPerOwner:  8,
		MaxConcurrentBackend: 32,
		SessionIdleTimeout:   30 * time.Minute,
		EvictSchedule:        "@every 1m",
	}
}

// TurnHandle is returned from Submit: the accepted turn and its event stream.
type TurnHandle struct {
	TurnID    string
	SessionID string
	Events    <-chan stream.Event
}

// SubmitRequest is one inbound message for a session.
type SubmitRequest struct {
	SessionID string
	Input     orchestrator.Input
	// Model, when set, switches the session's model selector before this
	// turn is admitted.
	Model string
}

// Manager owns the session table.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	cfg      Config
	registry *backend.Registry
	runner   *orchestrator.Orchestrator

	// semaphore bounds outstanding backend calls; acquired non-blocking at
	// admission, released on the turn's terminal event.
	semaphore chan struct{}

	sweeper *cron.Cron
	logger  zerolog.Logger
}

// NewManager creates a session manager
func NewManager(cfg Config, registry *backend.Registry, runner *orchestrator.Orchestrator, logger zerolog.Logger) *Manager {
	observability.EnsureRegistered()

	def := DefaultConfig()
	if cfg.MaxSessionsPerOwner <= 0 {
		cfg.MaxSessionsPerOwner = def.MaxSessionsPerOwner
	}
	if cfg.MaxConcurrentBackend <= 0 {
		cfg.MaxConcurrentBackend = def.MaxConcurrentBackend
	}
	if cfg.SessionIdleTimeout <= 0 {
		cfg.SessionIdleTimeout = def.SessionIdleTimeout
	}
	if cfg.EvictSchedule == "" {
		cfg.EvictSchedule = def.EvictSchedule
	}

	return &Manager{
		sessions:  make(map[string]*Session),
		cfg:       cfg,
		registry:  registry,
		runner:    runner,
		semaphore: make(chan struct{}, cfg.MaxConcurrentBackend),
		logger:    logger,
	}
}

// Start launches the idle-eviction sweep.
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sweeper != nil {
		return fmt.Errorf("manager already started")
	}

	c := cron.New()
	if _, err := c.AddFunc(m.cfg.EvictSchedule, func() {
		m.EvictIdle()
	}); err != nil {
		return fmt.Errorf("invalid eviction schedule %q: %w", m.cfg.EvictSchedule, err)
	}
	c.Start()
	m.sweeper = c

	m.logger.Info().Str("schedule", m.cfg.EvictSchedule).Msg("Session manager started")
	return nil
}

// Stop halts the sweep and closes every session.
func (m *Manager) Stop() {
	m.mu.Lock()
	if m.sweeper != nil {
		m.sweeper.Stop()
		m.sweeper = nil
	}
	m.mu.Unlock()

	m.mu.RLock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	for _, id := range ids {
		m.Close(context.Background(), id)
	}

	m.logger.Info().Msg("Session manager stopped")
}

// Open creates a session for an owner, enforcing the per-owner quota.
func (m *Manager) Open(ctx context.Context, ownerID, title string) (*Session, error) {
	if ownerID == "" {
		return nil, fmt.Errorf("owner id cannot be empty")
	}

	logger := tracing.LoggerFromContext(ctx, m.logger)

	m.mu.Lock()
	defer m.mu.Unlock()

	owned := 0
	for _, s := range m.sessions {
		if s.OwnerID == ownerID {
			owned++
		}
	}
	if owned >= m.cfg.MaxSessionsPerOwner {
		return nil, fmt.Errorf("owner %s already holds %d sessions: %w", ownerID, owned, ErrQuotaExceeded)
	}

	now := time.Now()
	sess := &Session{
		ID:           uuid.NewString(),
		OwnerID:      ownerID,
		Title:        title,
		CreatedAt:    now,
		model:        m.cfg.DefaultModel,
		lastActiveAt: now,
	}
	m.sessions[sess.ID] = sess

	observability.RecordSessionOpened()
	observability.SetActiveSessions(len(m.sessions))

	logger.Info().
		Str("session_id", sess.ID).
		Str("owner_id", ownerID).
		Msg("Session opened")

	return sess, nil
}

// Get returns a live session.
func (m *Manager) Get(sessionID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sess, ok := m.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", sessionID, ErrSessionNotFound)
	}
	return sess, nil
}

// Submit admits one turn. The check for an existing active turn and the
// install of the new one happen under the session lock, so two concurrent
// submissions can never both be admitted.
func (m *Manager) Submit(ctx context.Context, req SubmitRequest) (*TurnHandle, error) {
	sess, err := m.Get(req.SessionID)
	if err != nil {
		return nil, err
	}

	ctx = tracing.WithSessionID(ctx, req.SessionID)
	ctx = tracing.WithOwnerID(ctx, sess.OwnerID)
	logger := tracing.LoggerFromContext(ctx, m.logger)

	sess.mu.Lock()

	if sess.closed {
		sess.mu.Unlock()
		return nil, fmt.Errorf("session %s: %w", req.SessionID, ErrSessionNotFound)
	}

	if sess.activeTurn == nil && time.Since(sess.lastActiveAt) > m.cfg.SessionIdleTimeout {
		sess.closed = true
		sess.mu.Unlock()
		m.remove(sess.ID)
		return nil, fmt.Errorf("session %s idle for %s: %w", req.SessionID, m.cfg.SessionIdleTimeout, ErrSessionExpired)
	}

	if sess.activeTurn != nil {
		sess.mu.Unlock()
		return nil, fmt.Errorf("session %s has turn %s in flight: %w", req.SessionID, sess.activeTurn.ID, ErrSessionBusy)
	}

	if req.Model != "" {
		sess.model = req.Model
	}
	model := sess.model

	// Unknown models fail fast here, never mid-stream.
	adapter, err := m.registry.Resolve(model)
	if err != nil {
		sess.mu.Unlock()
		return nil, err
	}

	select {
	case m.semaphore <- struct{}{}:
	default:
		sess.mu.Unlock()
		observability.RecordBackendReject()
		return nil, fmt.Errorf("%d backend calls in flight: %w", cap(m.semaphore), ErrBackendSaturated)
	}
	observability.SetBackendInflight(len(m.semaphore))

	turnID, err := gonanoid.New()
	if err != nil {
		<-m.semaphore
		sess.mu.Unlock()
		return nil, fmt.Errorf("failed to generate turn id: %w", err)
	}

	turnCtx, cancel := context.WithCancel(ctx)
	turn := newTurn(turnID, sess.ID, model, req.Input, cancel)
	sess.activeTurn = turn
	sess.lastActiveAt = time.Now()
	sess.mu.Unlock()

	turn.transition(StatusStreaming)

	events := m.runner.RunTurn(turnCtx, orchestrator.TurnRequest{
		SessionID: sess.ID,
		OwnerID:   sess.OwnerID,
		TurnID:    turnID,
		Model:     model,
		Adapter:   adapter,
		Input:     req.Input,
		OnResult: func(res orchestrator.Result) {
			m.finishTurn(sess, turn, res)
		},
	})

	logger.Info().
		Str("turn_id", turnID).
		Str("model", model).
		Msg("Turn admitted")

	return &TurnHandle{
		TurnID:    turnID,
		SessionID: sess.ID,
		Events:    events,
	}, nil
}

// finishTurn releases the active turn and the backend slot on any terminal
// outcome.
func (m *Manager) finishTurn(sess *Session, turn *Turn, res orchestrator.Result) {
	switch res.Outcome {
	case orchestrator.OutcomeCompleted:
		turn.settle(StatusCompleted, res.Output)
	case orchestrator.OutcomeCancelled:
		turn.settle(StatusCancelled, res.Output)
	default:
		turn.settle(StatusFailed, res.Output)
	}

	sess.mu.Lock()
	if sess.activeTurn == turn {
		sess.activeTurn = nil
	}
	sess.lastActiveAt = time.Now()
	sess.mu.Unlock()

	<-m.semaphore
	observability.SetBackendInflight(len(m.semaphore))

	m.logger.Debug().
		Str("session_id", sess.ID).
		Str("turn_id", turn.ID).
		Str("status", string(turn.Status())).
		Msg("Turn released")
}

// SetModel switches the session's model selector. Takes effect for turns
// submitted after the switch; an in-flight turn keeps its adapter.
func (m *Manager) SetModel(sessionID, model string) error {
	sess, err := m.Get(sessionID)
	if err != nil {
		return err
	}

	if _, err := m.registry.Resolve(model); err != nil {
		return err
	}

	sess.mu.Lock()
	sess.model = model
	sess.mu.Unlock()

	return nil
}

// Close cancels any active turn and removes the session.
func (m *Manager) Close(ctx context.Context, sessionID string) error {
	sess, err := m.Get(sessionID)
	if err != nil {
		return err
	}

	logger := tracing.LoggerFromContext(ctx, m.logger)

	sess.mu.Lock()
	sess.closed = true
	active := sess.activeTurn
	sess.mu.Unlock()

	if active != nil {
		active.Cancel()
	}

	m.remove(sessionID)

	logger.Info().Str("session_id", sessionID).Msg("Session closed")
	return nil
}

// EvictIdle closes sessions idle past the timeout. Sessions with an active
// turn are never evicted. Returns the number evicted.
func (m *Manager) EvictIdle() int {
	m.mu.RLock()
	candidates := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		candidates = append(candidates, s)
	}
	m.mu.RUnlock()

	evicted := 0
	for _, sess := range candidates {
		sess.mu.Lock()
		idle := sess.activeTurn == nil && time.Since(sess.lastActiveAt) > m.cfg.SessionIdleTimeout
		if idle {
			sess.closed = true
		}
		sess.mu.Unlock()

		if idle {
			m.remove(sess.ID)
			observability.RecordSessionEvicted()
			evicted++

			m.logger.Info().
				Str("session_id", sess.ID).
				Str("owner_id", sess.OwnerID).
				Msg("Idle session evicted")
		}
	}

	return evicted
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

func (m *Manager) remove(sessionID string) {
	m.mu.Lock()
	delete(m.sessions, sessionID)
	observability.SetActiveSessions(len(m.sessions))
	m.mu.Unlock()
}
