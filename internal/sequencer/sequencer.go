// Package sequencer drives an interactive process through the timed startup
// choreography and delivers follow-up messages and confirmation keys.
package sequencer

import (
	"context"
	"strings"
	"time"

	"ensemble/internal/clock"
	"ensemble/internal/logging"
	"ensemble/internal/metrics"
	"ensemble/internal/process"
	"ensemble/internal/role"
)

const DefaultLaunchCommand = "claude"

type Step string

const (
	StepLaunch Step = "launch"
	StepFocus  Step = "focus"
	StepPrompt Step = "prompt"
	StepSubmit Step = "submit"
)

// Liveness reports whether the target instance is still active. The pipeline
// checks it before every step and stops once it returns false.
type Liveness func() bool

type Options struct {
	Service       process.Service
	Clock         clock.Clock
	Timings       Timings
	LaunchCommand string
	Logger        *logging.Logger
	Metrics       *metrics.Registry
}

type Sequencer struct {
	service       process.Service
	clock         clock.Clock
	timings       Timings
	launchCommand string
	logger        *logging.Logger
	metrics       *metrics.Registry
}

func New(opts Options) *Sequencer {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if strings.TrimSpace(opts.LaunchCommand) == "" {
		opts.LaunchCommand = DefaultLaunchCommand
	}
	return &Sequencer{
		service:       opts.Service,
		clock:         opts.Clock,
		timings:       opts.Timings.WithDefaults(),
		launchCommand: opts.LaunchCommand,
		logger:        opts.Logger,
		metrics:       opts.Metrics,
	}
}

func (s *Sequencer) Timings() Timings {
	return s.timings
}

// Target is the process a pipeline runs against.
type Target struct {
	InstanceID string
	Handle     process.Handle
	Role       role.Role
}

type StepResult struct {
	Step Step
	At   time.Time
	Err  error
}

type Result struct {
	Steps []StepResult
	// Stopped is set when the liveness check or the context ended the
	// pipeline before every step was attempted.
	Stopped bool
	Errors  int
}

// Completed reports whether every step was attempted.
func (r Result) Completed() bool {
	return !r.Stopped
}

type stage struct {
	step   Step
	action func(context.Context) error
	settle time.Duration
}

// Run executes launch, focus, prompt and submit against target, waiting the
// configured settle time after each. A failing step is logged and the next
// step is still attempted. observe, when set, sees every step result as it
// happens.
func (s *Sequencer) Run(ctx context.Context, target Target, alive Liveness, observe func(StepResult)) Result {
	logger := s.logger.With(map[string]string{
		"instance.id": target.InstanceID,
		"role.id":     target.Role.ID,
	})
	stages := []stage{
		{
			step:   StepLaunch,
			action: func(ctx context.Context) error { return s.service.RunCommand(ctx, s.launchCommand, target.Handle) },
			settle: s.timings.LaunchGrace,
		},
		{
			step:   StepFocus,
			action: func(ctx context.Context) error { return s.service.Focus(ctx, target.Handle) },
			settle: s.timings.FocusSettle,
		},
		{
			step:   StepPrompt,
			action: func(ctx context.Context) error { return s.service.SendInput(ctx, target.Handle, target.Role.Prompt, false) },
			settle: s.timings.PromptSettle,
		},
		{
			step:   StepSubmit,
			action: func(ctx context.Context) error { return s.service.SendInput(ctx, target.Handle, "", true) },
		},
	}

	var result Result
	for i, stage := range stages {
		if ctx.Err() != nil || (alive != nil && !alive()) {
			result.Stopped = true
			logger.Info("setup stopped", map[string]string{"step": string(stage.step)})
			return result
		}

		err := stage.action(ctx)
		step := StepResult{Step: stage.step, At: s.clock.Now(), Err: err}
		result.Steps = append(result.Steps, step)
		s.metrics.RecordSequencerStep(string(stage.step), err)
		if err != nil {
			result.Errors++
			logger.Warn("setup step failed", map[string]string{
				"step":  string(stage.step),
				"error": err.Error(),
			})
		} else {
			logger.Debug("setup step done", map[string]string{"step": string(stage.step)})
		}
		if observe != nil {
			observe(step)
		}

		if i < len(stages)-1 && stage.settle > 0 {
			if err := s.clock.Sleep(ctx, stage.settle); err != nil {
				result.Stopped = true
				logger.Info("setup canceled", map[string]string{"step": string(stage.step)})
				return result
			}
		}
	}
	return result
}

// SendInteractiveMessage types text, waits MessageSettle and submits it.
func (s *Sequencer) SendInteractiveMessage(ctx context.Context, handle process.Handle, text string) error {
	if err := s.service.SendInput(ctx, handle, text, false); err != nil {
		return err
	}
	if err := s.clock.Sleep(ctx, s.timings.MessageSettle); err != nil {
		return err
	}
	return s.service.SendInput(ctx, handle, "", true)
}

// SendConfirmationKey focuses the process and answers a confirmation prompt
// with key. A failed focus is logged and the key is still sent.
func (s *Sequencer) SendConfirmationKey(ctx context.Context, handle process.Handle, key string) error {
	if err := s.service.Focus(ctx, handle); err != nil {
		s.logger.Warn("focus before confirmation failed", map[string]string{
			"handle": string(handle),
			"error":  err.Error(),
		})
	}
	return s.SendInteractiveMessage(ctx, handle, key)
}
