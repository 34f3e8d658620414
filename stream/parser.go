// Package stream reads chat-completion output as it is generated.
//
// The provider frames a streamed completion as server-sent events. Only a
// narrow subset of that format is understood:
//
//	stream     = *( line LF )          ; CR before LF is tolerated
//	line       = data-line / other
//	data-line  = "data:" [ SP ] payload
//	payload    = "[DONE]" / json-chunk
//	json-chunk = {"choices":[{"delta":{"content":"..."}}]}
//	           / {"error":{"message":"..."}}
//
// Every other line (blank separators, ": comments", "event:" / "id:" fields)
// carries nothing and is skipped. A data line whose JSON cannot be decoded is
// skipped too, so one bad fragment never aborts a stream.
package stream

import (
	"encoding/json"
	"strings"
)

const (
	dataPrefix   = "data:"
	doneSentinel = "[DONE]"
)

// Kind tells what a parsed line carries.
type Kind int

const (
	KindDelta Kind = iota + 1
	KindDone
	KindError
)

// Event is the meaning of one data line.
type Event struct {
	Kind  Kind
	Delta string // KindDelta
	Err   string // KindError
}

type chunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// ParseLine interprets one line without its trailing newline. ok is false when
// the line carries nothing usable.
func ParseLine(line string) (ev Event, ok bool) {
	line = strings.TrimSuffix(line, "\r")
	if !strings.HasPrefix(line, dataPrefix) {
		return Event{}, false
	}
	payload := strings.TrimSpace(line[len(dataPrefix):])
	if payload == "" {
		return Event{}, false
	}
	if payload == doneSentinel {
		return Event{Kind: KindDone}, true
	}

	var c chunk
	if err := json.Unmarshal([]byte(payload), &c); err != nil {
		return Event{}, false
	}
	if c.Error != nil {
		msg := c.Error.Message
		if msg == "" {
			msg = "unknown stream error"
		}
		return Event{Kind: KindError, Err: msg}, true
	}
	if len(c.Choices) == 0 || c.Choices[0].Delta.Content == "" {
		return Event{}, false
	}
	return Event{Kind: KindDelta, Delta: c.Choices[0].Delta.Content}, true
}
