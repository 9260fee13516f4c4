package stream

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Wire framing: one event per frame, SSE-style.
//
//	event: delta\n
//	data: <line>\n
//	data: <line>\n
//	\n
//
// The terminal sentinel frame is "data: [DONE]\n\n" with no event line.
// Multi-line payloads repeat the data prefix per line; decoding joins them
// back with newlines, so Encode and Decode are exact inverses for every
// event kind. The codec never coalesces consecutive delta frames.

const (
	eventPrefix  = "event: "
	dataPrefix   = "data: "
	doneSentinel = "[DONE]"
)

type errorPayload struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// Encode serializes a single event into one wire frame.
func Encode(e Event) ([]byte, error) {
	var b strings.Builder

	switch e.Kind {
	case KindDelta, KindFinalText:
		b.WriteString(eventPrefix)
		b.WriteString(string(e.Kind))
		b.WriteByte('\n')
		for _, line := range strings.Split(e.Text, "\n") {
			b.WriteString(dataPrefix)
			b.WriteString(line)
			b.WriteByte('\n')
		}
	case KindError:
		payload, err := json.Marshal(errorPayload{Code: e.ErrCode, Message: e.ErrMessage})
		if err != nil {
			return nil, fmt.Errorf("failed to marshal error payload: %w", err)
		}
		b.WriteString(eventPrefix)
		b.WriteString(string(KindError))
		b.WriteByte('\n')
		b.WriteString(dataPrefix)
		b.Write(payload)
		b.WriteByte('\n')
	case KindDone:
		b.WriteString(dataPrefix)
		b.WriteString(doneSentinel)
		b.WriteByte('\n')
	default:
		return nil, fmt.Errorf("unknown event kind: %q", e.Kind)
	}

	b.WriteByte('\n')
	return []byte(b.String()), nil
}

// Decode parses one wire frame back into an event.
func Decode(frame []byte) (Event, error) {
	body := strings.TrimSuffix(string(frame), "\n\n")
	lines := strings.Split(body, "\n")
	if len(lines) == 0 || body == "" {
		return Event{}, fmt.Errorf("empty frame")
	}

	kind := ""
	dataLines := []string{}
	for _, line := range lines {
		switch {
		case strings.HasPrefix(line, eventPrefix):
			if kind != "" {
				return Event{}, fmt.Errorf("duplicate event line in frame")
			}
			kind = strings.TrimPrefix(line, eventPrefix)
		case strings.HasPrefix(line, dataPrefix):
			dataLines = append(dataLines, strings.TrimPrefix(line, dataPrefix))
		case line == "data:":
			// A data line carrying an empty string.
			dataLines = append(dataLines, "")
		default:
			return Event{}, fmt.Errorf("malformed frame line: %q", line)
		}
	}
	data := strings.Join(dataLines, "\n")

	if kind == "" {
		if data != doneSentinel {
			return Event{}, fmt.Errorf("frame without event line is not the done sentinel: %q", data)
		}
		return Done(), nil
	}

	switch EventKind(kind) {
	case KindDelta:
		return Delta(data), nil
	case KindFinalText:
		return FinalText(data), nil
	case KindError:
		var payload errorPayload
		if err := json.Unmarshal([]byte(data), &payload); err != nil {
			return Event{}, fmt.Errorf("failed to parse error payload: %w", err)
		}
		return Errorf(payload.Code, "%s", payload.Message), nil
	default:
		return Event{}, fmt.Errorf("unknown event kind: %q", kind)
	}
}
