package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"
)

const shutdownTimeout = 15 * time.Second

// Process runs the API HTTP server and owns the shutdown order of its
// backends: drain HTTP, then close the registry and transport.
type Process struct {
	Bind      string
	Port      int
	Handler   http.Handler
	Registry  Registry
	Transport Transport

	httpServer *http.Server
	listener   net.Listener
	serveErr   chan error
}

// Start binds the listen address and begins serving in the background.
// Port 0 binds an ephemeral port; Addr reports the bound address.
func (p *Process) Start() error {
	addr := net.JoinHostPort(p.Bind, strconv.Itoa(p.Port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	p.listener = listener
	p.httpServer = &http.Server{
		Handler:           p.Handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	p.serveErr = make(chan error, 1)

	go func() {
		if err := p.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			p.serveErr <- err
		}
	}()

	slog.Info("api listening", "address", listener.Addr().String())
	return nil
}

// Addr returns the bound listen address. Valid after Start.
func (p *Process) Addr() string {
	if p.listener == nil {
		return ""
	}
	return p.listener.Addr().String()
}

// Stop drains in-flight requests, then closes the backend connections.
func (p *Process) Stop(ctx context.Context) error {
	var errs []error
	if p.httpServer != nil {
		if err := p.httpServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown http server: %w", err))
		}
	}
	if p.Registry != nil {
		if err := p.Registry.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close registry: %w", err))
		}
	}
	if p.Transport != nil {
		if err := p.Transport.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close transport: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Run serves until the context is canceled or the server fails, then stops
// with a bounded timeout.
func (p *Process) Run(ctx context.Context) error {
	if err := p.Start(); err != nil {
		return err
	}

	var serveErr error
	select {
	case <-ctx.Done():
		slog.Info("shutting down api")
	case serveErr = <-p.serveErr:
		slog.Error("api server failed", "error", serveErr)
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return errors.Join(serveErr, p.Stop(stopCtx))
}
