package main

import (
	"fmt"
	"io"
	"net"
	"strings"

	"ensemble/internal/client"
	"ensemble/internal/instance"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

// remote builds an API client for a running server. Without --server the
// configured listen address is used on the loopback interface.
func (app *cli) remote() (*client.Client, error) {
	settings, err := app.settings()
	if err != nil {
		return nil, err
	}
	server := strings.TrimSpace(app.v.GetString("server"))
	if server == "" {
		server = serverURLFromAddr(settings.Addr)
	}
	return client.New(server, settings.Token), nil
}

func serverURLFromAddr(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "http://" + addr
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port)
}

func addRemoteCommands(root *cobra.Command, app *cli) {
	root.PersistentFlags().String("server", "", "URL of a running server for remote commands")
	app.bind("server", root.PersistentFlags(), "server")

	root.AddCommand(newPsCmd(app))
	root.AddCommand(newSpawnCmd(app))
	root.AddCommand(newSendCmd(app))
	root.AddCommand(newConfirmCmd(app))
	root.AddCommand(newKillCmd(app))
}

func newPsCmd(app *cli) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "ps",
		Short: "List instances of a running server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			remote, err := app.remote()
			if err != nil {
				return err
			}
			records, err := remote.Instances(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), records)
			}
			renderInstances(cmd.OutOrStdout(), records)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")
	return cmd
}

func newSpawnCmd(app *cli) *cobra.Command {
	var team string
	cmd := &cobra.Command{
		Use:   "spawn [role]",
		Short: "Create an instance of a role, or a whole team with --team",
		Args: func(cmd *cobra.Command, args []string) error {
			if team != "" {
				return cobra.NoArgs(cmd, args)
			}
			return cobra.ExactArgs(1)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			remote, err := app.remote()
			if err != nil {
				return err
			}
			var records []instance.Instance
			if team != "" {
				records, err = remote.CreateTeam(cmd.Context(), team)
			} else {
				var record instance.Instance
				record, err = remote.CreateInstance(cmd.Context(), args[0])
				records = []instance.Instance{record}
			}
			if err != nil {
				return err
			}
			renderInstances(cmd.OutOrStdout(), records)
			return nil
		},
	}
	cmd.Flags().StringVar(&team, "team", "", "team template to spawn")
	return cmd
}

func newSendCmd(app *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "send <instance> <text>...",
		Short: "Type a message into an instance and submit it",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			remote, err := app.remote()
			if err != nil {
				return err
			}
			return remote.SendMessage(cmd.Context(), args[0], strings.Join(args[1:], " "))
		},
	}
}

func newConfirmCmd(app *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "confirm <instance> <1|2|3>",
		Short: "Answer a confirmation prompt: 1 yes, 2 yes and don't ask again, 3 no",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			remote, err := app.remote()
			if err != nil {
				return err
			}
			return remote.Confirm(cmd.Context(), args[0], args[1])
		},
	}
}

func newKillCmd(app *cli) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "kill [instance]",
		Short: "Terminate an instance, or every instance with --all",
		Args: func(cmd *cobra.Command, args []string) error {
			if all {
				return cobra.NoArgs(cmd, args)
			}
			return cobra.ExactArgs(1)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			remote, err := app.remote()
			if err != nil {
				return err
			}
			if all {
				return remote.TerminateAll(cmd.Context())
			}
			if err := remote.Terminate(cmd.Context(), args[0]); err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "terminated %s\n", args[0])
			return err
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "terminate every active instance")
	return cmd
}

func renderInstances(out io.Writer, records []instance.Instance) {
	tw := table.NewWriter()
	tw.SetOutputMirror(out)
	tw.SetStyle(table.StyleLight)
	tw.AppendHeader(table.Row{"ID", "Name", "Status", "Setup", "Handle", "Created"})
	for _, record := range records {
		handle := string(record.Handle)
		if handle == "" {
			handle = "-"
		}
		tw.AppendRow(table.Row{
			record.ID,
			record.Name,
			record.Status,
			record.Setup,
			handle,
			record.CreatedAt.Local().Format("15:04:05"),
		})
	}
	tw.Render()
}
