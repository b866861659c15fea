package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"ensemble/internal/logging"
)

const defaultShutdownTimeout = 5 * time.Second

// ManagedServer is a blocking Serve loop paired with its graceful Shutdown.
type ManagedServer struct {
	Name     string
	Serve    func() error
	Shutdown func(context.Context) error
}

// ServerRunner runs servers until one fails or stop is done, then shuts all
// of them down within ShutdownTimeout.
type ServerRunner struct {
	Logger          *logging.Logger
	ShutdownTimeout time.Duration
}

type serverError struct {
	name string
	err  error
}

func (e *serverError) Error() string {
	return e.name + ": " + e.err.Error()
}

func (e *serverError) Unwrap() error {
	return e.err
}

// Run returns the first serve error that is not http.ErrServerClosed.
func (runner *ServerRunner) Run(stop context.Context, servers ...ManagedServer) error {
	started := 0
	results := make(chan serverError, len(servers))
	for _, server := range servers {
		if server.Serve == nil {
			continue
		}
		started++
		go func(server ManagedServer) {
			results <- serverError{name: server.Name, err: server.Serve()}
		}(server)
	}
	if started == 0 {
		return nil
	}

	var first *serverError
	select {
	case result := <-results:
		first = &result
		started--
	case <-stop.Done():
	}
	runner.logServerError(first)

	timeout := runner.timeout()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	for _, server := range servers {
		if server.Shutdown == nil {
			continue
		}
		if err := server.Shutdown(shutdownCtx); err != nil {
			runner.Logger.Warn("server shutdown failed", map[string]string{
				"ensemble.category": "server",
				"server":            server.Name,
				"error":             err.Error(),
			})
		}
	}

	runner.drain(results, started, timeout)
	if first == nil || first.err == nil || errors.Is(first.err, http.ErrServerClosed) {
		return nil
	}
	return first
}

func (runner *ServerRunner) timeout() time.Duration {
	if runner.ShutdownTimeout <= 0 {
		return defaultShutdownTimeout
	}
	return runner.ShutdownTimeout
}

func (runner *ServerRunner) logServerError(result *serverError) {
	if result == nil || result.err == nil || errors.Is(result.err, http.ErrServerClosed) {
		return
	}
	runner.Logger.Error("server stopped", map[string]string{
		"ensemble.category": "server",
		"server":            result.name,
		"error":             result.err.Error(),
	})
}

func (runner *ServerRunner) drain(results <-chan serverError, pending int, timeout time.Duration) {
	deadline := time.After(timeout)
	for ; pending > 0; pending-- {
		select {
		case result := <-results:
			runner.logServerError(&result)
		case <-deadline:
			return
		}
	}
}
