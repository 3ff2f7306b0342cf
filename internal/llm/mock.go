// ABOUTME: Scripted provider for local runs and tests
// ABOUTME: Streams a canned or computed response in fixed-size chunks and can inject failures

package llm

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"
)

// Mock is a deterministic provider. With no Respond function it echoes a
// short paragraph derived from the request so local runs produce content.
type Mock struct {
	ProviderName string
	// Respond returns the full text to stream, an error, or both; with both,
	// the text is streamed before the error is returned.
	Respond   func(call int, req Request) (string, error)
	ChunkSize int           // runes per increment; zero streams the whole text at once
	Delay     time.Duration // pause before each increment

	calls atomic.Int32
}

// Name returns the provider name.
func (m *Mock) Name() string {
	if m.ProviderName == "" {
		return "mock"
	}
	return m.ProviderName
}

// Calls reports how many times Stream has been invoked.
func (m *Mock) Calls() int { return int(m.calls.Load()) }

// Stream emits the scripted response.
func (m *Mock) Stream(ctx context.Context, req Request, onDelta func(string) error) error {
	call := int(m.calls.Add(1))

	var (
		text string
		err  error
	)
	if m.Respond != nil {
		text, err = m.Respond(call, req)
	} else {
		text = fmt.Sprintf("This section was drafted from the supplied protocol context. %s", req.User)
	}

	runes := []rune(text)
	size := m.ChunkSize
	if size <= 0 {
		size = len(runes)
	}
	for start := 0; start < len(runes); start += size {
		if m.Delay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(m.Delay):
			}
		} else if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		end := min(start+size, len(runes))
		if dErr := onDelta(string(runes[start:end])); dErr != nil {
			return dErr
		}
	}
	return err
}
