package observability

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// ShutdownFunc is a function to call during shutdown
type ShutdownFunc func(context.Context) error

// ShutdownManager stops HTTP servers first and then releases the registered
// resources (database pools, redis clients, telemetry exporters)
type ShutdownManager struct {
	logger          *Logger
	servers         []*http.Server
	shutdownFuncs   []ShutdownFunc
	shutdownTimeout time.Duration
	mu              sync.Mutex
}

// NewShutdownManager creates a new shutdown manager
func NewShutdownManager(logger *Logger, timeout time.Duration) *ShutdownManager {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &ShutdownManager{
		logger:          logger,
		shutdownTimeout: timeout,
	}
}

// RegisterServer adds a server that is drained before the shutdown funcs run
func (sm *ShutdownManager) RegisterServer(server *http.Server) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.servers = append(sm.servers, server)
}

// RegisterShutdownFunc registers a function to call during shutdown
func (sm *ShutdownManager) RegisterShutdownFunc(fn ShutdownFunc) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.shutdownFuncs = append(sm.shutdownFuncs, fn)
}

// Shutdown drains the servers and runs the shutdown funcs concurrently,
// bounded by the manager's timeout
func (sm *ShutdownManager) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, sm.shutdownTimeout)
	defer cancel()

	sm.mu.Lock()
	servers := append([]*http.Server(nil), sm.servers...)
	funcs := append([]ShutdownFunc(nil), sm.shutdownFuncs...)
	sm.mu.Unlock()

	var errs []error

	sg, sctx := errgroup.WithContext(ctx)
	for _, server := range servers {
		server := server
		sg.Go(func() error {
			sm.logger.Infof("Shutting down HTTP server on %s", server.Addr)
			if err := server.Shutdown(sctx); err != nil {
				return fmt.Errorf("server %s shutdown: %w", server.Addr, err)
			}
			return nil
		})
	}
	if err := sg.Wait(); err != nil {
		sm.logger.WithError(err).Error("HTTP server shutdown error")
		errs = append(errs, err)
	}

	var mu sync.Mutex
	var fg errgroup.Group
	for i, fn := range funcs {
		i, fn := i, fn
		fg.Go(func() error {
			if err := fn(ctx); err != nil {
				sm.logger.WithError(err).Errorf("Shutdown function %d failed", i)
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = fg.Wait()

	if ctx.Err() != nil {
		errs = append(errs, fmt.Errorf("shutdown timeout reached: %w", ctx.Err()))
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	sm.logger.Info("Graceful shutdown complete")
	return nil
}
