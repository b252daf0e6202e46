package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"golang.org/x/sync/errgroup"
)

// Serve runs the HTTP server, the expiration scheduler and the event
// emitter until ctx is canceled or one of them fails.
func Serve(ctx context.Context, deps *Dependencies) error {
	srv := &http.Server{
		Addr:         deps.Config.Server.Addr(),
		Handler:      SetupRouter(deps),
		ReadTimeout:  deps.Config.Server.ReadTimeout,
		WriteTimeout: deps.Config.Server.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	// The emitter stops only after the HTTP server has drained, so events
	// queued by in-flight requests are still flushed.
	emitterCtx, stopEmitter := context.WithCancel(context.WithoutCancel(ctx))

	g.Go(func() error {
		deps.Logger.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), deps.Config.Server.ShutdownTimeout)
		defer cancel()
		defer stopEmitter()
		deps.Logger.Info("shutting down http server")
		return srv.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		return deps.Scheduler.Run(gctx)
	})

	g.Go(func() error {
		return deps.Emitter.Run(emitterCtx)
	})

	return g.Wait()
}
