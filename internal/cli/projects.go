package cli

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Paintersrp/devrun/internal/project"
)

func newAddCmd(ctx *context) *cobra.Command {
	return &cobra.Command{
		Use:   "add <dir>...",
		Short: "Register project directories",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.openStore()
			if err != nil {
				return err
			}
			for _, dir := range args {
				p, err := store.Add(dir)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Added %s (%s) %s\n", p.Name, p.Type.Label(), p.ID.Short())
			}
			return nil
		},
	}
}

func newRemoveCmd(ctx *context) *cobra.Command {
	return &cobra.Command{
		Use:     "remove <ref>",
		Aliases: []string{"rm"},
		Short:   "Unregister a project by name, id or id prefix",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.openStore()
			if err != nil {
				return err
			}
			p, err := store.Remove(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %s %s\n", p.Name, p.ID.Short())
			return nil
		},
	}
}

type projectListing struct {
	project.Project
	Command string `json:"command,omitempty"`
}

func newListCmd(ctx *context) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List registered projects and their run commands",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.openStore()
			if err != nil {
				return err
			}
			resolver := project.ManifestResolver{}
			projects := store.List()
			listings := make([]projectListing, 0, len(projects))
			for _, p := range projects {
				command, _ := resolver.Resolve(p.Type, p.Dir())
				listings = append(listings, projectListing{Project: p, Command: command})
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(listings)
			}
			if len(listings) == 0 {
				fmt.Fprintf(out, "No projects registered in %s. Use `devrun add <dir>`.\n", store.Path())
				return nil
			}
			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tTYPE\tPATH\tCOMMAND")
			for _, l := range listings {
				command := l.Command
				if command == "" {
					command = "-"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", l.ID.Short(), l.Name, l.Type.Label(), l.Path, command)
			}
			return w.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print projects as JSON")
	return cmd
}
