package main

import (
	"encoding/json"
	"io"
	"strings"

	"ensemble/internal/role"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func newRolesCmd(app *cli) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "roles",
		Short: "List the roles instances can be created from",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := app.settings()
			if err != nil {
				return err
			}
			catalog, err := app.catalog(settings)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), catalog.Roles())
			}
			renderRoles(cmd.OutOrStdout(), catalog.Roles())
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")
	return cmd
}

func newTeamsCmd(app *cli) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "teams",
		Short: "List the team templates",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := app.settings()
			if err != nil {
				return err
			}
			catalog, err := app.catalog(settings)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), catalog.Teams())
			}
			renderTeams(cmd.OutOrStdout(), catalog.Teams())
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")
	return cmd
}

func renderRoles(out io.Writer, roles []role.Role) {
	tw := table.NewWriter()
	tw.SetOutputMirror(out)
	tw.SetStyle(table.StyleLight)
	tw.AppendHeader(table.Row{"ID", "Name", "Tools", "Description"})
	for _, r := range roles {
		tw.AppendRow(table.Row{r.ID, r.DisplayName(), strings.Join(r.AllowedTools, ", "), r.Description})
	}
	tw.Render()
}

func renderTeams(out io.Writer, teams []role.TeamTemplate) {
	tw := table.NewWriter()
	tw.SetOutputMirror(out)
	tw.SetStyle(table.StyleLight)
	tw.AppendHeader(table.Row{"ID", "Name", "Members", "Roles"})
	for _, team := range teams {
		name := strings.TrimSpace(team.Icon + " " + team.Name)
		tw.AppendRow(table.Row{team.ID, name, len(team.Roles), strings.Join(team.Roles, ", ")})
	}
	tw.Render()
}

func printJSON(out io.Writer, value any) error {
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}
