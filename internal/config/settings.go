// Package config resolves runtime settings from the embedded defaults, an
// optional config file, ENSEMBLE_* environment variables and CLI flags.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"ensemble/internal/logging"
	"ensemble/internal/orchestrator"
	"ensemble/internal/sequencer"

	"github.com/spf13/viper"
)

const (
	EnvPrefix    = "ENSEMBLE"
	DefaultsFile = "config/ensemble.toml"
)

type Settings struct {
	Addr            string
	Token           string
	Shell           string
	RolesDir        string
	TeamsFile       string
	WorkDir         string
	LaunchCommand   string
	BufferLines     int
	HistoryLines    int
	LogLevel        logging.Level
	LogBuffer       int
	WatchConfig     bool
	AllowedOrigins  []string
	ShutdownTimeout time.Duration
	ConfigFile      string
	Timings         TimingSettings
}

type TimingSettings struct {
	LaunchGrace         time.Duration
	FocusSettle         time.Duration
	PromptSettle        time.Duration
	MessageSettle       time.Duration
	InitialHistoryDelay time.Duration
	TeamSpacing         time.Duration
	RemovalGrace        time.Duration
	PollInterval        time.Duration
}

// NewViper returns a viper instance reading ENSEMBLE_* variables, where
// nested keys use underscores (ENSEMBLE_TIMINGS_LAUNCH_GRACE).
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return v
}

// Load layers defaults and the config file at path (skipped when empty) into
// v and decodes the result. Flags must already be bound to v.
func Load(v *viper.Viper, defaults []byte, path string) (Settings, error) {
	if v == nil {
		v = NewViper()
	}
	if len(defaults) > 0 {
		v.SetConfigType("toml")
		if err := v.ReadConfig(bytes.NewReader(defaults)); err != nil {
			return Settings{}, fmt.Errorf("read default settings: %w", err)
		}
	}
	if path = strings.TrimSpace(path); path != "" {
		v.SetConfigFile(path)
		if ext := strings.TrimPrefix(filepath.Ext(path), "."); ext != "" {
			v.SetConfigType(strings.ToLower(ext))
		}
		if err := v.MergeInConfig(); err != nil {
			return Settings{}, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	level, ok := logging.ParseLevel(v.GetString("log_level"))
	if !ok {
		return Settings{}, fmt.Errorf("invalid log_level %q", v.GetString("log_level"))
	}

	settings := Settings{
		Addr:            strings.TrimSpace(v.GetString("addr")),
		Token:           v.GetString("token"),
		Shell:           strings.TrimSpace(v.GetString("shell")),
		RolesDir:        strings.TrimSpace(v.GetString("roles_dir")),
		TeamsFile:       strings.TrimSpace(v.GetString("teams_file")),
		WorkDir:         strings.TrimSpace(v.GetString("workdir")),
		LaunchCommand:   strings.TrimSpace(v.GetString("launch_command")),
		BufferLines:     v.GetInt("buffer_lines"),
		HistoryLines:    v.GetInt("history_lines"),
		LogLevel:        level,
		LogBuffer:       v.GetInt("log_buffer"),
		WatchConfig:     v.GetBool("watch_config"),
		AllowedOrigins:  splitList(v.Get("allowed_origins")),
		ShutdownTimeout: v.GetDuration("shutdown_timeout"),
		ConfigFile:      path,
		Timings: TimingSettings{
			LaunchGrace:         v.GetDuration("timings.launch_grace"),
			FocusSettle:         v.GetDuration("timings.focus_settle"),
			PromptSettle:        v.GetDuration("timings.prompt_settle"),
			MessageSettle:       v.GetDuration("timings.message_settle"),
			InitialHistoryDelay: v.GetDuration("timings.initial_history_delay"),
			TeamSpacing:         v.GetDuration("timings.team_spacing"),
			RemovalGrace:        v.GetDuration("timings.removal_grace"),
			PollInterval:        v.GetDuration("timings.poll_interval"),
		},
	}
	if err := settings.Validate(); err != nil {
		return Settings{}, err
	}
	return settings, nil
}

func (s Settings) Validate() error {
	var errs []error
	if s.Addr == "" {
		errs = append(errs, errors.New("addr is required"))
	}
	if s.BufferLines < 0 {
		errs = append(errs, fmt.Errorf("buffer_lines must not be negative, got %d", s.BufferLines))
	}
	if s.HistoryLines < 0 {
		errs = append(errs, fmt.Errorf("history_lines must not be negative, got %d", s.HistoryLines))
	}
	for name, value := range map[string]time.Duration{
		"timings.launch_grace":          s.Timings.LaunchGrace,
		"timings.focus_settle":          s.Timings.FocusSettle,
		"timings.prompt_settle":         s.Timings.PromptSettle,
		"timings.message_settle":        s.Timings.MessageSettle,
		"timings.initial_history_delay": s.Timings.InitialHistoryDelay,
		"timings.team_spacing":          s.Timings.TeamSpacing,
		"timings.removal_grace":         s.Timings.RemovalGrace,
		"timings.poll_interval":         s.Timings.PollInterval,
		"shutdown_timeout":              s.ShutdownTimeout,
	} {
		if value < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative, got %s", name, value))
		}
	}
	return errors.Join(errs...)
}

func (s Settings) SequencerTimings() sequencer.Timings {
	return sequencer.Timings{
		LaunchGrace:   s.Timings.LaunchGrace,
		FocusSettle:   s.Timings.FocusSettle,
		PromptSettle:  s.Timings.PromptSettle,
		MessageSettle: s.Timings.MessageSettle,
	}.WithDefaults()
}

func (s Settings) OrchestratorTimings() orchestrator.Timings {
	return orchestrator.Timings{
		InitialHistoryDelay: s.Timings.InitialHistoryDelay,
		TeamSpacing:         s.Timings.TeamSpacing,
		RemovalGrace:        s.Timings.RemovalGrace,
		PollInterval:        s.Timings.PollInterval,
	}.WithDefaults()
}

// splitList accepts a TOML/YAML list or a comma separated string.
func splitList(value any) []string {
	var raw []string
	switch typed := value.(type) {
	case nil:
		return nil
	case string:
		raw = strings.Split(typed, ",")
	case []string:
		raw = typed
	case []any:
		for _, item := range typed {
			raw = append(raw, fmt.Sprint(item))
		}
	default:
		raw = []string{fmt.Sprint(typed)}
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
