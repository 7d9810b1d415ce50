// Package otel exposes sessionauth metrics as OpenTelemetry observable
// instruments.
//
// Operation counters map to Int64ObservableCounter and histogram buckets to
// Int64ObservableGauge. Engine-level values such as dropped audit events and
// the token lifetime are reported through Float64 observables. The caller
// supplies the Meter and owns the provider.
package otel
