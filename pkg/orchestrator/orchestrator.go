// Package orchestrator drives one conversational turn: it assembles the
// prompt from fused context and the user input, invokes the resolved backend
// adapter, and relays normalized events downstream under the terminal-event
// contract: zero or more Delta/FinalText events followed by Done, or exactly
// one Error followed by Done.
package orchestrator

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/harun/mira/internal/observability"
	"github.com/harun/mira/internal/tracing"
	"github.com/harun/mira/pkg/backend"
	"github.com/harun/mira/pkg/fusion"
	"github.com/harun/mira/pkg/history"
	"github.com/harun/mira/pkg/stream"
)

// Attachment references non-text input carried alongside a message.
type Attachment struct {
	Kind string `json:"kind"`
	URI  string `json:"uri"`
}

// Input is the user side of one turn.
type Input struct {
	Text        string       `json:"text"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// terminalDrainTimeout bounds how long a terminal event waits on a
// reader that has stopped draining the stream.
const terminalDrainTimeout = 10 * time.Second

// Outcome is the terminal result of a turn.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeFailed    Outcome = "failed"
	OutcomeCancelled Outcome = "cancelled"
)

// Result is reported once a turn reaches a terminal state.
type Result struct {
	Outcome Outcome
	Output  string
}

// HistoryAppender is the slice of the history store the orchestrator needs.
type HistoryAppender interface {
	Append(ctx context.Context, sessionID string, entry history.Entry) error
}

// ContextBuilder is the fusion engine surface used per turn.
type ContextBuilder interface {
	BuildContext(ctx context.Context, sessionID, ownerID, input string) (fusion.ContextBlock, error)
}

// Config tunes turn execution.
type Config struct {
	// SystemPrompt is prepended to every turn's system instructions.
	SystemPrompt string
	// AdapterTimeout is the maximum wait for the next adapter event before
	// the turn fails with a backend timeout.
	AdapterTimeout time.Duration
	// KeepPartialTranscripts appends cancelled/failed partial output to
	// history instead of discarding it.
	KeepPartialTranscripts bool
	Temperature            float64
	MaxTokens              int
}

// TurnRequest carries everything needed to run one turn. The adapter is
// resolved at submission time so an in-flight turn always finishes on the
// model it started with.
type TurnRequest struct {
	SessionID string
	OwnerID   string
	TurnID    string
	Model     string
	Adapter   backend.Adapter
	Input     Input
	// OnResult is invoked exactly once, after the terminal event has been
	// emitted. May be nil.
	OnResult func(Result)
}

// Orchestrator runs turns.
type Orchestrator struct {
	fusionEngine ContextBuilder
	historyStore HistoryAppender
	cfg          Config
	logger       zerolog.Logger
}

// New creates an orchestrator
func New(fusionEngine ContextBuilder, historyStore HistoryAppender, cfg Config, logger zerolog.Logger) *Orchestrator {
	observability.EnsureRegistered()

	if cfg.AdapterTimeout <= 0 {
		cfg.AdapterTimeout = 30 * time.Second
	}

	return &Orchestrator{
		fusionEngine: fusionEngine,
		historyStore: historyStore,
		cfg:          cfg,
		logger:       logger,
	}
}

// RunTurn executes one turn and returns its event stream. Single use: one
// stream per turn. Cancel ctx to cancel the turn.
func (o *Orchestrator) RunTurn(ctx context.Context, req TurnRequest) <-chan stream.Event {
	out := make(chan stream.Event, 64)

	go func() {
		defer close(out)
		o.runTurn(ctx, req, out)
	}()

	return out
}

func (o *Orchestrator) runTurn(ctx context.Context, req TurnRequest, out chan<- stream.Event) {
	ctx = tracing.WithSessionID(ctx, req.SessionID)
	ctx = tracing.WithTurnID(ctx, req.TurnID)
	logger := tracing.LoggerFromContext(ctx, o.logger).With().Str("model", req.Model).Logger()

	start := time.Now()

	block, err := o.fusionEngine.BuildContext(ctx, req.SessionID, req.OwnerID, req.Input.Text)
	if err != nil {
		logger.Error().Err(err).Msg("Context assembly failed")
		o.finish(ctx, req, out, Result{Outcome: OutcomeFailed},
			stream.Errorf(stream.ErrCodeBackendError, "context assembly failed: %v", err), start)
		return
	}

	backendReq := backend.Request{
		Model:       req.Model,
		System:      o.buildSystem(block),
		Messages:    []backend.Message{{Role: "user", Content: o.renderInput(req.Input)}},
		Temperature: o.cfg.Temperature,
		MaxTokens:   o.cfg.MaxTokens,
	}

	adapterCtx, cancelAdapter := context.WithCancel(ctx)
	defer cancelAdapter()

	backendStart := time.Now()
	events := req.Adapter.Generate(adapterCtx, backendReq)
	recordBackend := func() {
		observability.RecordBackendCall(req.Adapter.Name(), time.Since(backendStart))
	}

	filter := newEchoFilter(req.Input.Text)
	var output strings.Builder

	relay := func(ev stream.Event) {
		for _, passed := range filter.push(ev) {
			if passed.Text == "" {
				continue
			}
			output.WriteString(passed.Text)
			o.emit(ctx, out, passed)
		}
	}

	timer := time.NewTimer(o.cfg.AdapterTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			cancelAdapter()
			recordBackend()
			logger.Info().Msg("Turn cancelled")
			o.finish(ctx, req, out, Result{Outcome: OutcomeCancelled, Output: output.String()},
				stream.Errorf(stream.ErrCodeCancelled, "turn cancelled"), start)
			return

		case <-timer.C:
			cancelAdapter()
			recordBackend()
			logger.Warn().Dur("timeout", o.cfg.AdapterTimeout).Msg("Adapter timed out")
			o.finish(ctx, req, out, Result{Outcome: OutcomeFailed, Output: output.String()},
				stream.Errorf(stream.ErrCodeBackendTimeout, "no adapter event within %s", o.cfg.AdapterTimeout), start)
			return

		case ev, ok := <-events:
			if !ok {
				recordBackend()
				if ctx.Err() != nil {
					// The adapter bailed on our cancellation before the
					// ctx.Done branch was observed.
					logger.Info().Msg("Turn cancelled")
					o.finish(ctx, req, out, Result{Outcome: OutcomeCancelled, Output: output.String()},
						stream.Errorf(stream.ErrCodeCancelled, "turn cancelled"), start)
					return
				}
				// Adapter closed without a terminal event; surface it
				// instead of truncating silently.
				logger.Warn().Msg("Adapter stream ended without terminal event")
				o.finish(ctx, req, out, Result{Outcome: OutcomeFailed, Output: output.String()},
					stream.Errorf(stream.ErrCodeBackendError, "backend stream ended unexpectedly"), start)
				return
			}

			if !timer.Stop() {
				<-timer.C
			}
			timer.Reset(o.cfg.AdapterTimeout)

			switch ev.Kind {
			case stream.KindDelta, stream.KindFinalText:
				relay(ev)

			case stream.KindError:
				cancelAdapter()
				recordBackend()
				logger.Warn().Str("code", string(ev.ErrCode)).Str("message", ev.ErrMessage).Msg("Backend error")
				o.finish(ctx, req, out, Result{Outcome: OutcomeFailed, Output: output.String()}, ev, start)
				return

			case stream.KindDone:
				recordBackend()
				for _, passed := range filter.flush() {
					if passed.Text == "" {
						continue
					}
					output.WriteString(passed.Text)
					o.emit(ctx, out, passed)
				}
				o.complete(ctx, req, out, output.String(), start)
				return
			}
		}
	}
}

// complete handles the normal completion path: history append, then Done.
func (o *Orchestrator) complete(ctx context.Context, req TurnRequest, out chan<- stream.Event, output string, start time.Time) {
	logger := tracing.LoggerFromContext(ctx, o.logger)

	if o.historyStore != nil {
		now := time.Now()
		if req.Input.Text != "" {
			if err := o.historyStore.Append(ctx, req.SessionID, history.Entry{
				TurnID:    req.TurnID,
				Role:      "user",
				Content:   req.Input.Text,
				Timestamp: now,
			}); err != nil {
				logger.Warn().Err(err).Msg("Failed to append user entry to history")
			}
		}
		if output != "" {
			if err := o.historyStore.Append(ctx, req.SessionID, history.Entry{
				TurnID:    req.TurnID,
				Role:      "assistant",
				Content:   output,
				Model:     req.Model,
				Timestamp: now,
			}); err != nil {
				logger.Warn().Err(err).Msg("Failed to append assistant entry to history")
			}
		}
	}

	o.emitTerminal(out, stream.Done())
	observability.RecordTurn(string(OutcomeCompleted), time.Since(start))
	logger.Info().Int("output_chars", len(output)).Msg("Turn completed")

	if req.OnResult != nil {
		req.OnResult(Result{Outcome: OutcomeCompleted, Output: output})
	}
}

// finish handles failure and cancellation: one Error event, then Done.
// Partial output is discarded unless KeepPartialTranscripts is set.
func (o *Orchestrator) finish(ctx context.Context, req TurnRequest, out chan<- stream.Event, res Result, errEv stream.Event, start time.Time) {
	logger := tracing.LoggerFromContext(ctx, o.logger)

	if o.cfg.KeepPartialTranscripts && res.Output != "" && o.historyStore != nil {
		if err := o.historyStore.Append(context.WithoutCancel(ctx), req.SessionID, history.Entry{
			TurnID:    req.TurnID,
			Role:      "assistant",
			Content:   res.Output,
			Model:     req.Model,
			Partial:   true,
			Timestamp: time.Now(),
		}); err != nil {
			logger.Warn().Err(err).Msg("Failed to append partial transcript")
		}
	}

	o.emitTerminal(out, errEv)
	o.emitTerminal(out, stream.Done())
	observability.RecordTurn(string(res.Outcome), time.Since(start))

	if req.OnResult != nil {
		req.OnResult(res)
	}
}

// emit relays one event, giving up on context cancellation.
func (o *Orchestrator) emit(ctx context.Context, out chan<- stream.Event, ev stream.Event) bool {
	select {
	case out <- ev:
		observability.RecordStreamEvent(string(ev.Kind))
		return true
	case <-ctx.Done():
		return false
	}
}

// emitTerminal delivers a terminal event even after cancellation. The
// stream must always end with Error/Done, so the send waits for a slow
// reader; only a reader gone past the drain deadline forfeits the event.
func (o *Orchestrator) emitTerminal(out chan<- stream.Event, ev stream.Event) {
	timer := time.NewTimer(terminalDrainTimeout)
	defer timer.Stop()
	select {
	case out <- ev:
		observability.RecordStreamEvent(string(ev.Kind))
	case <-timer.C:
	}
}

func (o *Orchestrator) buildSystem(block fusion.ContextBlock) string {
	rendered := block.Render()
	if rendered == "" {
		return o.cfg.SystemPrompt
	}
	if o.cfg.SystemPrompt == "" {
		return rendered
	}
	return o.cfg.SystemPrompt + "\n\n" + rendered
}

func (o *Orchestrator) renderInput(in Input) string {
	if len(in.Attachments) == 0 {
		return in.Text
	}

	var sb strings.Builder
	sb.WriteString(in.Text)
	for _, att := range in.Attachments {
		sb.WriteString("\n[attachment ")
		sb.WriteString(att.Kind)
		sb.WriteString(": ")
		sb.WriteString(att.URI)
		sb.WriteString("]")
	}
	return sb.String()
}
