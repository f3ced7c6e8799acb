// Package telemetry provides OpenTelemetry instrumentation for braind.
//
// It manages the global TracerProvider and MeterProvider, exporting over
// OTLP gRPC to a collector. Telemetry failures never crash the daemon:
// initialization errors degrade the instance to no-op providers and mark
// it degraded for the health endpoint.
//
//	tel, err := telemetry.New(ctx, cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tel.Shutdown(ctx)
//
// Services obtain tracers and meters through the otel globals, which New
// installs, so they need no handle on this package.
package telemetry
