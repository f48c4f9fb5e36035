package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Paintersrp/devrun/internal/cliutil"
	"github.com/Paintersrp/devrun/internal/config"
	"github.com/Paintersrp/devrun/internal/project"
)

func newConfigCmd(ctx *context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Work with devrun settings and the project registry",
	}
	cmd.AddCommand(newConfigLintCmd(ctx))
	cmd.AddCommand(newConfigShowCmd(ctx))
	return cmd
}

func newConfigLintCmd(ctx *context) *cobra.Command {
	cmd := &cobra.Command{
		Use:         "lint",
		Short:       "Validate the settings file and the project registry",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{annotationLenientSettings: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			var errs []error
			if ctx.settingsErr != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), ctx.settingsErr)
				errs = append(errs, ctx.settingsErr)
			} else if ctx.settings.Source != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: OK\n", ctx.settings.Source)
			}

			projectsPath := ctx.settings.Projects
			if projectsPath == "" {
				defaultPath, err := project.DefaultStorePath()
				if err != nil {
					return err
				}
				projectsPath = defaultPath
			}
			if err := config.LintProjects(projectsPath); err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), err)
				errs = append(errs, err)
			} else if _, err := project.OpenStore(projectsPath); err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), err)
				errs = append(errs, err)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: OK\n", projectsPath)
			}

			if len(errs) > 0 {
				return fmt.Errorf("config lint: %w", errors.Join(errs...))
			}
			return nil
		},
	}
	return cmd
}

func newConfigShowCmd(ctx *context) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective settings with secrets redacted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s := *ctx.settings
			env := make(map[string]string, len(s.ResolvedEnv))
			for _, kv := range cliutil.RedactEnv(s.ResolvedEnv) {
				k, v, _ := strings.Cut(kv, "=")
				env[k] = v
			}
			s.Env = env
			s.EnvFile = ""
			if s.Source != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "# %s\n", s.Source)
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(&s); err != nil {
				return fmt.Errorf("encode settings: %w", err)
			}
			return enc.Close()
		},
	}
}
