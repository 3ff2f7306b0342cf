// ABOUTME: Minimal server-sent events reader and writer
// ABOUTME: Dispatches (event, data) pairs on blank lines; comments are skipped

package sse

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const maxLine = 1 << 20

// ErrLineTooLong is returned when a single line exceeds 1 MiB.
var ErrLineTooLong = errors.New("sse: line too long")

// Read parses an event stream from r and calls onEvent for every event
// that carries data. Multi-line data is joined with newlines. A trailing
// event without a blank line is still delivered at EOF. An error from
// onEvent stops reading and is returned.
func Read(r io.Reader, onEvent func(event, data string) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLine)
	var (
		eventName string
		dataLines []string
	)

	flush := func() error {
		if len(dataLines) == 0 {
			eventName = ""
			return nil
		}
		data := strings.Join(dataLines, "\n")
		ev := eventName
		dataLines = nil
		eventName = ""
		return onEvent(ev, data)
	}

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			if err := flush(); err != nil {
				return err
			}
			continue
		}
		parseLine(line, &eventName, &dataLines)
	}
	if err := scanner.Err(); err != nil {
		if errors.Is(err, bufio.ErrTooLong) {
			return ErrLineTooLong
		}
		return err
	}
	return flush()
}

func parseLine(line string, eventName *string, dataLines *[]string) {
	switch {
	case strings.HasPrefix(line, ":"):
	case strings.HasPrefix(line, "event:"):
		*eventName = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
	case strings.HasPrefix(line, "data:"):
		*dataLines = append(*dataLines, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
	}
}

// SetHeaders prepares w for an event stream.
func SetHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

// WriteJSON writes one event whose data is the JSON encoding of v.
func WriteJSON(w io.Writer, event string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("sse: encoding %s: %w", event, err)
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}
