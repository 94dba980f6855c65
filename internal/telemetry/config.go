// Package telemetry wraps OpenTelemetry tracing setup: an OTLP/gRPC
// exporter, a sampler derived from a 0.0-1.0 rate, and span helpers that
// fall back to a no-op tracer when disabled.
//
// Grounded on the teacher's internal/telemetry package, renamed from
// dittofs's service identity to this server's.
package telemetry

// Config holds the tracer's setup parameters (spec.md §3.1 Telemetry section).
type Config struct {
	Enabled        bool
	ServiceName    string
	ServiceVersion string
	Endpoint       string
	Insecure       bool
	SampleRate     float64
}

// DefaultConfig returns a disabled-by-default configuration.
func DefaultConfig() Config {
	return Config{
		Enabled:        false,
		ServiceName:    "xrootd-core",
		ServiceVersion: "dev",
		Endpoint:       "localhost:4317",
		Insecure:       true,
		SampleRate:     1.0,
	}
}
