package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/mira/pkg/stream"
)

func textOf(events []stream.Event) string {
	var s string
	for _, ev := range events {
		s += ev.Text
	}
	return s
}

func TestEchoFilter_SwallowsExactEcho(t *testing.T) {
	f := newEchoFilter("hello world")

	var out []stream.Event
	out = append(out, f.push(stream.Delta("hello "))...)
	out = append(out, f.push(stream.Delta("world"))...)
	out = append(out, f.push(stream.Delta("The answer is 42."))...)
	out = append(out, f.flush()...)

	assert.Equal(t, "The answer is 42.", textOf(out))
}

func TestEchoFilter_EchoAndAnswerInOneDelta(t *testing.T) {
	f := newEchoFilter("ping")

	out := f.push(stream.Delta("pingpong"))
	require.Len(t, out, 1)
	assert.Equal(t, "pong", out[0].Text)
	assert.Equal(t, stream.KindDelta, out[0].Kind)
}

func TestEchoFilter_DivergenceReplaysBuffer(t *testing.T) {
	f := newEchoFilter("hello world")

	var out []stream.Event
	out = append(out, f.push(stream.Delta("hello "))...)
	out = append(out, f.push(stream.Delta("there"))...)
	out = append(out, f.flush()...)

	assert.Equal(t, "hello there", textOf(out))
}

func TestEchoFilter_StreamEndsMidMatch(t *testing.T) {
	// The answer happens to be a strict prefix of the input; it must not
	// be lost when the stream ends.
	f := newEchoFilter("hello world")

	var out []stream.Event
	out = append(out, f.push(stream.Delta("hello"))...)
	assert.Empty(t, out)

	out = append(out, f.flush()...)
	assert.Equal(t, "hello", textOf(out))
}

func TestEchoFilter_EmptyInputPassesThrough(t *testing.T) {
	f := newEchoFilter("")

	out := f.push(stream.Delta("anything"))
	require.Len(t, out, 1)
	assert.Equal(t, "anything", out[0].Text)
}

func TestEchoFilter_InactiveAfterResolution(t *testing.T) {
	f := newEchoFilter("hi")

	f.push(stream.Delta("hi"))

	// A later occurrence of the input text is real content.
	out := f.push(stream.Delta("hi again"))
	require.Len(t, out, 1)
	assert.Equal(t, "hi again", out[0].Text)
}

func TestEchoFilter_FinalTextKindPreserved(t *testing.T) {
	f := newEchoFilter("q")

	out := f.push(stream.FinalText("qfull answer"))
	require.Len(t, out, 1)
	assert.Equal(t, stream.KindFinalText, out[0].Kind)
	assert.Equal(t, "full answer", out[0].Text)
}
