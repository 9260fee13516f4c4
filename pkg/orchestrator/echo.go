package orchestrator

import (
	"strings"

	"github.com/harun/mira/pkg/stream"
)

// echoFilter strips a backend quirk: some backends re-emit the literal input
// text before generated content begins. Filtering is exact-match only.
// Events are buffered while the accumulated stream head remains a prefix of
// the input; a full match drops the buffer, any divergence replays it
// untouched. Real answers that merely resemble the input are never cut.
type echoFilter struct {
	echo    string
	pending string
	active  bool
	buffer  []stream.Event
}

func newEchoFilter(input string) *echoFilter {
	return &echoFilter{
		echo:   input,
		active: input != "",
	}
}

// push feeds one text event through the filter and returns the events to
// relay downstream, possibly none while matching is still undecided.
func (f *echoFilter) push(ev stream.Event) []stream.Event {
	if !f.active {
		return []stream.Event{ev}
	}

	candidate := f.pending + ev.Text

	switch {
	case candidate == f.echo:
		// Echo confirmed in full; swallow it.
		f.reset()
		return nil

	case strings.HasPrefix(f.echo, candidate):
		// Still a prefix of the echo; keep buffering.
		f.pending = candidate
		f.buffer = append(f.buffer, ev)
		return nil

	case strings.HasPrefix(candidate, f.echo):
		// This event crossed the echo boundary: swallow the echo part,
		// relay the remainder with the event's original kind.
		remainder := ev
		remainder.Text = candidate[len(f.echo):]
		f.reset()
		return []stream.Event{remainder}

	default:
		// Divergence: this was never the echo, replay everything.
		out := append(f.buffer, ev)
		f.reset()
		return out
	}
}

// flush releases a buffered partial match when the stream ends before the
// echo could be confirmed.
func (f *echoFilter) flush() []stream.Event {
	if !f.active {
		return nil
	}
	out := f.buffer
	f.reset()
	return out
}

func (f *echoFilter) reset() {
	f.active = false
	f.pending = ""
	f.buffer = nil
}
