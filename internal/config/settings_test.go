package config

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"ensemble"
	"ensemble/internal/logging"
)

func readDefaults(t *testing.T) []byte {
	t.Helper()
	payload, err := fs.ReadFile(ensemble.EmbeddedConfigFS, DefaultsFile)
	if err != nil {
		t.Fatalf("read defaults: %v", err)
	}
	return payload
}

func TestLoadDefaults(t *testing.T) {
	settings, err := Load(NewViper(), readDefaults(t), "")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if settings.Addr != ":8787" {
		t.Fatalf("expected default addr, got %q", settings.Addr)
	}
	if settings.LaunchCommand != "claude" {
		t.Fatalf("expected claude launch command, got %q", settings.LaunchCommand)
	}
	if settings.LogLevel != logging.LevelInfo {
		t.Fatalf("expected info level, got %q", settings.LogLevel)
	}
	if !settings.WatchConfig {
		t.Fatalf("expected watch_config default true")
	}
	if len(settings.AllowedOrigins) != 1 || settings.AllowedOrigins[0] != "*" {
		t.Fatalf("unexpected origins %v", settings.AllowedOrigins)
	}

	seq := settings.SequencerTimings()
	if seq.LaunchGrace != 5*time.Second || seq.FocusSettle != 2*time.Second ||
		seq.PromptSettle != 3*time.Second || seq.MessageSettle != 50*time.Millisecond {
		t.Fatalf("unexpected sequencer timings %+v", seq)
	}
	orch := settings.OrchestratorTimings()
	if orch.InitialHistoryDelay != 3*time.Second || orch.TeamSpacing != 500*time.Millisecond ||
		orch.RemovalGrace != time.Second || orch.PollInterval != 2*time.Second {
		t.Fatalf("unexpected orchestrator timings %+v", orch)
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ensemble.yaml")
	payload := "addr: 127.0.0.1:9000\nlog_level: debug\ntimings:\n  team_spacing: 750ms\n"
	if err := os.WriteFile(path, []byte(payload), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	settings, err := Load(NewViper(), readDefaults(t), path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if settings.Addr != "127.0.0.1:9000" {
		t.Fatalf("expected file addr, got %q", settings.Addr)
	}
	if settings.LogLevel != logging.LevelDebug {
		t.Fatalf("expected debug level, got %q", settings.LogLevel)
	}
	if settings.Timings.TeamSpacing != 750*time.Millisecond {
		t.Fatalf("expected team spacing override, got %s", settings.Timings.TeamSpacing)
	}
	if settings.Timings.RemovalGrace != time.Second {
		t.Fatalf("expected untouched default, got %s", settings.Timings.RemovalGrace)
	}
	if settings.ConfigFile != path {
		t.Fatalf("expected config file recorded, got %q", settings.ConfigFile)
	}
}

func TestLoadEnvironmentOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ensemble.toml")
	if err := os.WriteFile(path, []byte("addr = \":7000\"\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("ENSEMBLE_ADDR", ":7100")
	t.Setenv("ENSEMBLE_TIMINGS_LAUNCH_GRACE", "1s")
	t.Setenv("ENSEMBLE_ALLOWED_ORIGINS", "http://a.test, http://b.test")

	settings, err := Load(NewViper(), readDefaults(t), path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if settings.Addr != ":7100" {
		t.Fatalf("expected env addr, got %q", settings.Addr)
	}
	if settings.Timings.LaunchGrace != time.Second {
		t.Fatalf("expected env launch grace, got %s", settings.Timings.LaunchGrace)
	}
	if strings.Join(settings.AllowedOrigins, "|") != "http://a.test|http://b.test" {
		t.Fatalf("unexpected origins %v", settings.AllowedOrigins)
	}
}

func TestLoadExplicitOverridesWin(t *testing.T) {
	t.Setenv("ENSEMBLE_SHELL", "/bin/zsh")
	v := NewViper()
	v.Set("shell", "/bin/sh")

	settings, err := Load(v, readDefaults(t), "")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if settings.Shell != "/bin/sh" {
		t.Fatalf("expected explicit override, got %q", settings.Shell)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"log level": "log_level = \"loud\"\n",
		"negative":  "[timings]\npoll_interval = \"-1s\"\n",
		"lines":     "buffer_lines = -5\n",
		"addr":      "addr = \" \"\n",
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "ensemble.toml")
			if err := os.WriteFile(path, []byte(payload), 0o644); err != nil {
				t.Fatalf("write config: %v", err)
			}
			if _, err := Load(NewViper(), readDefaults(t), path); err == nil {
				t.Fatalf("expected error for %q", payload)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(NewViper(), readDefaults(t), filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Fatalf("expected missing config file error")
	}
}

func TestZeroTimingsFallBackToDefaults(t *testing.T) {
	settings := Settings{}
	if got := settings.SequencerTimings().LaunchGrace; got != 5*time.Second {
		t.Fatalf("expected default launch grace, got %s", got)
	}
	if got := settings.OrchestratorTimings().PollInterval; got != 2*time.Second {
		t.Fatalf("expected default poll interval, got %s", got)
	}
}

func TestSplitList(t *testing.T) {
	cases := []struct {
		in   any
		want string
	}{
		{in: nil, want: ""},
		{in: "a, b,,c", want: "a|b|c"},
		{in: []any{"x", " y "}, want: "x|y"},
		{in: []string{"z"}, want: "z"},
	}
	for _, c := range cases {
		if got := strings.Join(splitList(c.in), "|"); got != c.want {
			t.Fatalf("splitList(%v): expected %q, got %q", c.in, c.want, got)
		}
	}
}
