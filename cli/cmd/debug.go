package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/pithecene-io/conduit/log"
	"github.com/pithecene-io/conduit/registry"
)

// debugShutdownTimeout bounds the debug server shutdown.
const debugShutdownTimeout = 2 * time.Second

// serveDebug serves registry snapshots as JSON on addr until the returned
// stop func is called. Listening happens before return so address errors
// surface immediately.
func serveDebug(addr string, reg *registry.Registry, logger *log.Logger) (func() error, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("debug server: %w", err)
	}

	srv := &http.Server{
		Handler:           reg.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("debug server stopped", map[string]any{"error": err.Error()})
		}
	}()
	logger.Info("debug server listening", map[string]any{"addr": ln.Addr().String()})

	return func() error {
		ctx, cancel := context.WithTimeout(context.Background(), debugShutdownTimeout)
		defer cancel()
		return srv.Shutdown(ctx)
	}, nil
}
