package main

import (
	"fmt"
	"io"

	"ensemble"
	"ensemble/internal/config"
	"ensemble/internal/role"
	"ensemble/internal/version"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// cli holds state shared by every subcommand.
type cli struct {
	v          *viper.Viper
	configPath string
	stdout     io.Writer
	stderr     io.Writer
}

func newCLI(stdout, stderr io.Writer) *cli {
	return &cli{
		v:      config.NewViper(),
		stdout: stdout,
		stderr: stderr,
	}
}

func newRootCmd(app *cli) *cobra.Command {
	root := &cobra.Command{
		Use:           "ensemble",
		Short:         "Run and coordinate role-based agent sessions",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version.GetVersionInfo().String(),
	}
	root.SetOut(app.stdout)
	root.SetErr(app.stderr)
	root.SetVersionTemplate("{{.Version}}\n")

	flags := root.PersistentFlags()
	flags.StringVar(&app.configPath, "config", "", "config file (toml, yaml or json); env "+config.EnvPrefix+"_CONFIG")
	flags.String("log-level", "", "log level: debug, info, warning, error")
	flags.String("roles-dir", "", "directory of role definition files (default: embedded roles)")
	flags.String("teams-file", "", "team template file (default: embedded teams)")
	app.bind("log_level", flags, "log-level")
	app.bind("roles_dir", flags, "roles-dir")
	app.bind("teams_file", flags, "teams-file")

	serve := newServeCmd(app)
	root.RunE = serve.RunE
	root.Flags().AddFlagSet(serve.Flags())

	root.AddCommand(serve)
	root.AddCommand(newRolesCmd(app))
	root.AddCommand(newTeamsCmd(app))
	root.AddCommand(newVersionCmd(app))
	addRemoteCommands(root, app)
	return root
}

// bind ties a viper key to a flag; a flag only wins once it is set.
func (app *cli) bind(key string, flags *pflag.FlagSet, name string) {
	_ = app.v.BindPFlag(key, flags.Lookup(name))
}

// settings resolves flags, environment, the config file and the embedded
// defaults, in that order of precedence.
func (app *cli) settings() (config.Settings, error) {
	defaults, err := ensemble.EmbeddedConfigFS.ReadFile(config.DefaultsFile)
	if err != nil {
		return config.Settings{}, fmt.Errorf("read embedded defaults: %w", err)
	}
	path := app.configPath
	if path == "" {
		path = app.v.GetString("config")
	}
	return config.Load(app.v, defaults, path)
}

func (app *cli) catalog(settings config.Settings) (*role.Catalog, error) {
	catalog, err := role.Load(role.LoadOptions{
		RolesDir:  settings.RolesDir,
		TeamsFile: settings.TeamsFile,
		Defaults:  ensemble.EmbeddedConfigFS,
	})
	if err != nil {
		return nil, fmt.Errorf("load role catalog: %w", err)
	}
	return catalog, nil
}
