// Package telemetry installs a process-wide OpenTelemetry TracerProvider
// and exposes the tracer used to instrument RSM transitions, NO mesh
// lifecycle, and SSDP dispatch with spans. Grounded on cmd/ployzd/main.go's
// tracer-provider bootstrap; no exporter is wired here — that is a
// deployment concern, not this daemon's.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "fastsetupd"

// Install sets the global TracerProvider and returns a shutdown func.
func Install() func(context.Context) error {
	tp := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(tp)
	return tp.Shutdown
}

// Tracer returns the package-wide tracer every component uses to start spans.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}
