// Package process defines the contract between the orchestrator and the host
// that owns interactive processes, plus the registry used to stop them.
package process

import (
	"context"
	"errors"
)

var (
	// ErrServiceUnavailable marks a host that cannot allocate processes at
	// all. Callers treat it as a degraded, handle-less outcome.
	ErrServiceUnavailable = errors.New("process service unavailable")
	ErrHandleNotFound     = errors.New("process handle not found")
)

// Handle is an opaque reference to a live interactive process.
type Handle string

type Config struct {
	Name       string
	Command    string
	WorkingDir string
	Env        map[string]string
}

// Service is implemented by the host owning interactive processes. Methods
// that take a Handle return ErrHandleNotFound for unknown handles.
type Service interface {
	CreateProcess(ctx context.Context, cfg Config) (Handle, error)
	CreatePersistentProcess(ctx context.Context, cwd string) (Handle, error)
	RunCommand(ctx context.Context, command string, target Handle) error
	Focus(ctx context.Context, target Handle) error
	GetHandle(id string) (Handle, bool)
	SendInput(ctx context.Context, target Handle, text string, submit bool) error
	ReadOutput(ctx context.Context, target Handle) (string, error)
	Kill(ctx context.Context, target Handle) error
}

type envKey struct{}

// WithEnv attaches extra environment variables for processes created with ctx.
func WithEnv(ctx context.Context, env map[string]string) context.Context {
	if len(env) == 0 {
		return ctx
	}
	merged := make(map[string]string, len(env))
	for key, value := range EnvFromContext(ctx) {
		merged[key] = value
	}
	for key, value := range env {
		merged[key] = value
	}
	return context.WithValue(ctx, envKey{}, merged)
}

// EnvFromContext returns the variables attached with WithEnv. The map must
// not be modified.
func EnvFromContext(ctx context.Context) map[string]string {
	if ctx == nil {
		return nil
	}
	env, _ := ctx.Value(envKey{}).(map[string]string)
	return env
}
