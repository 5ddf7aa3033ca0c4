// Package middleware provides dispatch middleware for Hypercube scopes.
//
// This package includes:
//   - Prometheus metrics middleware and a session collector
//   - OpenTelemetry tracing middleware
//   - Structured logging middleware
//
// Middleware is installed through hypercube.Config and wraps the routing
// of every inbound text frame, outermost first:
//
//	reg := prometheus.NewRegistry()
//	cfg := hypercube.DefaultConfig()
//	cfg.Middleware = []hypercube.Middleware{
//	    middleware.OpenTelemetry(),
//	    middleware.Prometheus(middleware.WithRegistry(reg)),
//	    middleware.Logging(logger),
//	}
//	sc := hypercube.Mount(r, "/ws", cfg, setup)
//	reg.MustRegister(middleware.NewSessionCollector("hypercube", sc))
//
// # Prometheus Metrics
//
// Prometheus records frame counts by outcome, routing latency and frame
// sizes. SessionCollector exports each scope's Registry statistics at
// scrape time.
//
// # OpenTelemetry
//
// OpenTelemetry starts one server span per frame, stores it in the
// dispatch context and marks frames that were not handled as errors.
package middleware
