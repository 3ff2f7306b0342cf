// ABOUTME: Error taxonomy for language-model providers and the failover gateway
// ABOUTME: Transient classification drives retries; ExhaustedError carries every recorded attempt

package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
)

// ErrProviderExhausted is returned when every configured provider has failed.
var ErrProviderExhausted = errors.New("all providers exhausted")

// ErrStreamInterrupted is returned when a provider fails after text was already delivered.
var ErrStreamInterrupted = errors.New("stream interrupted")

// ProviderError is a failure reported by one provider call.
type ProviderError struct {
	Provider   string
	StatusCode int  // HTTP status when known, 0 otherwise
	Transient  bool // worth retrying on the same provider
	Err        error
}

func (e *ProviderError) Error() string {
	var b strings.Builder
	b.WriteString(e.Provider)
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, ": status=%d", e.StatusCode)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *ProviderError) Unwrap() error { return e.Err }

// ExhaustedError reports the attempts made before giving up.
type ExhaustedError struct {
	Attempts []Attempt
}

func (e *ExhaustedError) Error() string {
	if len(e.Attempts) == 0 {
		return ErrProviderExhausted.Error()
	}
	last := e.Attempts[len(e.Attempts)-1]
	return fmt.Sprintf("%s after %d attempts (last: %s: %v)", ErrProviderExhausted, len(e.Attempts), last.Provider, last.Err)
}

func (e *ExhaustedError) Unwrap() error { return ErrProviderExhausted }

// IsTransient reports whether err is worth retrying on the same provider.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Transient
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne)
}

// transientStatus reports whether an HTTP status signals overload, rate limiting or a gateway fault.
func transientStatus(code int) bool {
	switch code {
	case http.StatusRequestTimeout,
		http.StatusTooEarly,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout,
		529: // Anthropic "overloaded"
		return true
	}
	return false
}

// statusError builds a ProviderError from a non-2xx response body.
func statusError(provider string, status int, body []byte) *ProviderError {
	msg := strings.TrimSpace(string(body))
	var env struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &env); err == nil && env.Error.Message != "" {
		msg = env.Error.Message
		if env.Error.Type != "" {
			msg = env.Error.Type + ": " + msg
		}
	}
	if msg == "" {
		msg = http.StatusText(status)
	}
	return &ProviderError{
		Provider:   provider,
		StatusCode: status,
		Transient:  transientStatus(status),
		Err:        errors.New(msg),
	}
}

// transportError wraps a failure to reach the provider at all.
func transportError(provider string, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	return &ProviderError{Provider: provider, Transient: true, Err: err}
}
