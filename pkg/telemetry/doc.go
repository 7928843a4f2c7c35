// Package telemetry wires OpenTelemetry tracing and run metrics for the
// binding generator.
//
// It sets up the trace provider, opens one span per pipeline stage, records
// stage instruments on the global meter provider and keeps a private
// Prometheus registry of run, rule and symbol metrics that can be written to
// a node_exporter textfile or served over HTTP.
package telemetry
