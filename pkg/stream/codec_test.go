package stream

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodec_RoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		event Event
	}{
		{"delta", Delta("hello")},
		{"empty delta", Delta("")},
		{"multiline delta", Delta("line one\nline two\n\nline four")},
		{"delta with sentinel text", Delta("[DONE]")},
		{"final text", FinalText("the full answer")},
		{"multiline final", FinalText("a\nb")},
		{"error", Errorf(ErrCodeBackendTimeout, "no event within 30s")},
		{"error with colon", Errorf(ErrCodeBackendError, "upstream: 502 bad gateway")},
		{"done", Done()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame, err := Encode(tt.event)
			require.NoError(t, err)

			decoded, err := Decode(frame)
			require.NoError(t, err)
			assert.Equal(t, tt.event, decoded)
		})
	}
}

func TestCodec_DoneIsDistinguishedSentinel(t *testing.T) {
	frame, err := Encode(Done())
	require.NoError(t, err)
	assert.Equal(t, "data: [DONE]\n\n", string(frame))
}

func TestCodec_DeltaCarriesRawText(t *testing.T) {
	frame, err := Encode(Delta("hi there"))
	require.NoError(t, err)

	// No structural wrapping beyond the framing prefix.
	assert.Equal(t, "event: delta\ndata: hi there\n\n", string(frame))
}

func TestCodec_ConsecutiveDeltasAreNotCoalesced(t *testing.T) {
	var wire strings.Builder
	for _, text := range []string{"a", "b", "c"} {
		frame, err := Encode(Delta(text))
		require.NoError(t, err)
		wire.Write(frame)
	}

	frames := strings.SplitAfter(wire.String(), "\n\n")
	// SplitAfter leaves a trailing empty element.
	frames = frames[:len(frames)-1]
	require.Len(t, frames, 3)

	for i, text := range []string{"a", "b", "c"} {
		ev, err := Decode([]byte(frames[i]))
		require.NoError(t, err)
		assert.Equal(t, Delta(text), ev)
	}
}

func TestDecode_Malformed(t *testing.T) {
	tests := []struct {
		name  string
		frame string
	}{
		{"empty", ""},
		{"garbage", "not a frame\n\n"},
		{"unknown kind", "event: bogus\ndata: x\n\n"},
		{"bare data without sentinel", "data: something\n\n"},
		{"duplicate event line", "event: delta\nevent: delta\ndata: x\n\n"},
		{"unparseable error payload", "event: error\ndata: not-json\n\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.frame))
			assert.Error(t, err)
		})
	}
}

func TestEvent_Terminal(t *testing.T) {
	assert.False(t, Delta("x").Terminal())
	assert.False(t, FinalText("x").Terminal())
	assert.True(t, Errorf(ErrCodeBackendError, "boom").Terminal())
	assert.True(t, Done().Terminal())
}
