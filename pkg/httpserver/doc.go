// Package httpserver runs the service's HTTP surface with graceful shutdown
// and exposes liveness and readiness handlers.
//
// Run blocks until its context is cancelled, then drains in-flight requests
// within the shutdown timeout. Signal handling belongs to the caller, usually
// signal.NotifyContext in main. Listen failures are wrapped with ErrStart and
// shutdown failures with ErrShutdown.
//
// # Usage
//
//	r := chi.NewRouter()
//	r.Get("/health/live", httpserver.Liveness())
//	r.Get("/health/ready", httpserver.Readiness(log, map[string]httpserver.Check{
//	    "postgres": pg.Healthcheck(pool),
//	    "redis":    redis.Healthcheck(client),
//	}))
//
//	srv := httpserver.NewFromConfig(cfg, httpserver.WithLogger(log))
//	if err := srv.Run(ctx, r); err != nil {
//	    return err
//	}
package httpserver
