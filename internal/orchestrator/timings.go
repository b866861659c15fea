package orchestrator

import "time"

type Timings struct {
	// InitialHistoryDelay is when the first history snapshot is taken after
	// a backed instance becomes active.
	InitialHistoryDelay time.Duration
	// TeamSpacing separates consecutive instance creations within a team.
	TeamSpacing time.Duration
	// RemovalGrace keeps a terminated record visible before removal.
	RemovalGrace time.Duration
	PollInterval time.Duration
}

func DefaultTimings() Timings {
	return Timings{
		InitialHistoryDelay: 3000 * time.Millisecond,
		TeamSpacing:         500 * time.Millisecond,
		RemovalGrace:        1000 * time.Millisecond,
		PollInterval:        2000 * time.Millisecond,
	}
}

func (t Timings) WithDefaults() Timings {
	defaults := DefaultTimings()
	if t.InitialHistoryDelay <= 0 {
		t.InitialHistoryDelay = defaults.InitialHistoryDelay
	}
	if t.TeamSpacing <= 0 {
		t.TeamSpacing = defaults.TeamSpacing
	}
	if t.RemovalGrace <= 0 {
		t.RemovalGrace = defaults.RemovalGrace
	}
	if t.PollInterval <= 0 {
		t.PollInterval = defaults.PollInterval
	}
	return t
}
