package backend

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/harun/mira/pkg/stream"
)

// ScriptedAdapter is an in-process adapter with canned completions. It serves
// as the local/dev backend and as the deterministic backend for tests. It can
// reproduce backend quirks on demand: echoing the input before generation,
// stalling, or failing mid-stream.
type ScriptedAdapter struct {
	name      string
	responses map[string]string

	// ChunkSize controls how many runes each delta carries; <=0 sends the
	// whole response as one FinalText event.
	ChunkSize int

	// EchoInput reproduces the upstream quirk of re-emitting the user input
	// as the first delta before generated content.
	EchoInput bool

	// Delay is inserted before every emitted event.
	Delay time.Duration

	// FailAfter, when >=0, aborts the stream with a backend error after that
	// many deltas. Negative disables.
	FailAfter int
}

// NewScriptedAdapter creates a scripted adapter streaming in small chunks
func NewScriptedAdapter(name string) *ScriptedAdapter {
	if name == "" {
		name = "scripted"
	}
	return &ScriptedAdapter{
		name:      name,
		responses: make(map[string]string),
		ChunkSize: 8,
		FailAfter: -1,
	}
}

// Name returns the adapter name
func (a *ScriptedAdapter) Name() string {
	return a.name
}

// AddResponse registers a canned completion for an exact user input
func (a *ScriptedAdapter) AddResponse(input, response string) {
	a.responses[input] = response
}

// Generate implements Adapter
func (a *ScriptedAdapter) Generate(ctx context.Context, req Request) <-chan stream.Event {
	out := make(chan stream.Event, 32)

	go func() {
		defer close(out)

		input := lastUserText(req.Messages)
		full, ok := a.responses[input]
		if !ok {
			full = fmt.Sprintf("Scripted response to: %s", input)
		}

		if a.EchoInput && input != "" {
			if !a.pace(ctx) || !emit(ctx, out, stream.Delta(input)) {
				return
			}
		}

		if a.ChunkSize <= 0 {
			if !a.pace(ctx) || !emit(ctx, out, stream.FinalText(full)) {
				return
			}
			a.pace(ctx)
			emit(ctx, out, stream.Done())
			return
		}

		sent := 0
		runes := []rune(full)
		for start := 0; start < len(runes); start += a.ChunkSize {
			if a.FailAfter >= 0 && sent >= a.FailAfter {
				if a.pace(ctx) {
					emit(ctx, out, stream.Errorf(stream.ErrCodeBackendError, "scripted failure"))
					emit(ctx, out, stream.Done())
				}
				return
			}

			end := start + a.ChunkSize
			if end > len(runes) {
				end = len(runes)
			}
			if !a.pace(ctx) || !emit(ctx, out, stream.Delta(string(runes[start:end]))) {
				return
			}
			sent++
		}

		if !a.pace(ctx) {
			return
		}
		emit(ctx, out, stream.Done())
	}()

	return out
}

// pace applies the configured per-event delay, honoring cancellation.
func (a *ScriptedAdapter) pace(ctx context.Context) bool {
	if a.Delay <= 0 {
		select {
		case <-ctx.Done():
			return false
		default:
			return true
		}
	}

	select {
	case <-ctx.Done():
		return false
	case <-time.After(a.Delay):
		return true
	}
}

func lastUserText(messages []Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			return strings.TrimSpace(messages[i].Content)
		}
	}
	return ""
}
