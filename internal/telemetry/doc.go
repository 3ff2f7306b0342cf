// ABOUTME: Package documentation for tracing setup
// ABOUTME: One call installs the global tracer provider used by every instrumented package

// Package telemetry installs the OpenTelemetry tracer provider. Packages
// create their tracers with otel.Tracer at init and pick up whatever
// provider Setup installs.
package telemetry
