package sequencer

import "time"

// Timings are the fixed waits between pipeline steps. The launched program
// gives no readiness signal, so each wait is a guess at how long the previous
// step takes to settle. They are tunable through configuration.
type Timings struct {
	// LaunchGrace follows the launch command while the program starts up.
	LaunchGrace time.Duration
	// FocusSettle follows the focus request.
	FocusSettle time.Duration
	// PromptSettle follows the unsubmitted role prompt.
	PromptSettle time.Duration
	// MessageSettle separates typed text from its submit keystroke.
	MessageSettle time.Duration
}

func DefaultTimings() Timings {
	return Timings{
		LaunchGrace:   5000 * time.Millisecond,
		FocusSettle:   2000 * time.Millisecond,
		PromptSettle:  3000 * time.Millisecond,
		MessageSettle: 50 * time.Millisecond,
	}
}

// WithDefaults fills zero durations from DefaultTimings.
func (t Timings) WithDefaults() Timings {
	defaults := DefaultTimings()
	if t.LaunchGrace <= 0 {
		t.LaunchGrace = defaults.LaunchGrace
	}
	if t.FocusSettle <= 0 {
		t.FocusSettle = defaults.FocusSettle
	}
	if t.PromptSettle <= 0 {
		t.PromptSettle = defaults.PromptSettle
	}
	if t.MessageSettle <= 0 {
		t.MessageSettle = defaults.MessageSettle
	}
	return t
}
