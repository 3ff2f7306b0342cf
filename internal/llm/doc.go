// ABOUTME: Package documentation for language-model providers and the provider gateway
// ABOUTME: Explains the streaming contract and the retry/failover policy

// Package llm streams text from language-model backends.
//
// Every backend implements Provider: a single Stream call that hands text
// increments to a callback in order. Gateway wraps an ordered list of
// providers. It retries transient failures (timeouts, rate limits, 5xx) on
// the same provider with exponential backoff, then moves to the next
// provider with a fresh schedule. Non-transient failures move on at once.
// A failure after text has reached the caller is not retried, since the
// caller has already seen it; Stream returns ErrStreamInterrupted instead.
//
// Every attempt is reported in Outcome.Attempts or ExhaustedError.Attempts
// so callers can persist a provider-attempt ledger.
package llm
