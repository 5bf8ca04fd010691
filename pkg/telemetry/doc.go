// Package telemetry provides observability instrumentation for the automax
// workflow runner: structured logging (zerolog), distributed tracing
// (OpenTelemetry), Prometheus metrics, and run lifecycle events.
//
// Initialize telemetry at startup and hand it to the engine:
//
//	tel, err := telemetry.New(telemetry.DefaultConfig())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tel.Shutdown(context.Background())
package telemetry
