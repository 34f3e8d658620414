package stream

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// TransportError means the stream broke before it finished. Content already
// handed to the callback stays valid.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("stream transport: %v", e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// StreamError is an error the provider reported inside the stream.
type StreamError struct {
	Message string
}

func (e *StreamError) Error() string {
	return "stream error: " + e.Message
}

// utf8Reader decodes UTF-8 statefully: a rune split across two reads is held
// back until its remaining bytes arrive.
func utf8Reader(r io.Reader) io.Reader {
	return transform.NewReader(r, unicode.UTF8.NewDecoder())
}

// Consume reads provider-framed events from r, calls onDelta for every content
// delta in arrival order and returns the concatenation of all deltas. It stops
// at the [DONE] sentinel or at EOF.
//
// On a read failure the content gathered so far is returned along with a
// *TransportError.
func Consume(r io.Reader, onDelta func(string)) (string, error) {
	br := bufio.NewReaderSize(utf8Reader(r), 32<<10)
	var sb strings.Builder

	for {
		line, readErr := br.ReadString('\n')
		if line != "" {
			ev, ok := ParseLine(strings.TrimSuffix(line, "\n"))
			if ok {
				switch ev.Kind {
				case KindDone:
					return sb.String(), nil
				case KindError:
					return sb.String(), &StreamError{Message: ev.Err}
				case KindDelta:
					sb.WriteString(ev.Delta)
					if onDelta != nil {
						onDelta(ev.Delta)
					}
				}
			}
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				return sb.String(), nil
			}
			return sb.String(), &TransportError{Err: readErr}
		}
	}
}

// ReadText consumes an unframed text stream, such as the proxy's relay of
// content deltas. Each read becomes one delta; runes are never split.
func ReadText(r io.Reader, onDelta func(string)) (string, error) {
	dec := utf8Reader(r)
	// Larger than the transformer's own buffer, so a decoded rune is never
	// split between two Reads.
	buf := make([]byte, 8192)
	var sb strings.Builder

	for {
		n, readErr := dec.Read(buf)
		if n > 0 {
			delta := string(buf[:n])
			sb.WriteString(delta)
			if onDelta != nil {
				onDelta(delta)
			}
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				return sb.String(), nil
			}
			return sb.String(), &TransportError{Err: readErr}
		}
	}
}
