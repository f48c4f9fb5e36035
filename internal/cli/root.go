package cli

import (
	stdcontext "context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Paintersrp/devrun/internal/config"
	"github.com/Paintersrp/devrun/internal/engine"
	"github.com/Paintersrp/devrun/internal/logging"
	"github.com/Paintersrp/devrun/internal/project"
	"github.com/Paintersrp/devrun/internal/runtime/process"
)

func NewRootCmd() *cobra.Command {
	root, _ := newRootCommand()
	return root
}

func newRootCommand() (*cobra.Command, *context) {
	ctx := &context{}

	root := &cobra.Command{
		Use:   "devrun",
		Short: "Run and supervise local development servers",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return ctx.init(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			ctx.close()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&ctx.configPath, "config", "", "path to the settings file (default ~/.config/devrun/config.yaml)")
	flags.StringVar(&ctx.projectsPath, "projects", "", "path to the project registry (default ~/.config/devrun/projects.yaml)")
	flags.StringVar(&ctx.logLevel, "log-level", "", "diagnostic log level: debug, info, warn, error")
	flags.StringVar(&ctx.logFile, "log-file", "", "append diagnostic logs to this file instead of stderr")

	root.AddCommand(newAddCmd(ctx))
	root.AddCommand(newListCmd(ctx))
	root.AddCommand(newRemoveCmd(ctx))
	root.AddCommand(newRunCmd(ctx))
	root.AddCommand(newStatusCmd(ctx))
	root.AddCommand(newServeCmd(ctx))
	root.AddCommand(newTuiCmd(ctx))
	root.AddCommand(newConfigCmd(ctx))

	root.SilenceUsage = true
	root.SilenceErrors = true

	return root, ctx
}

// Execute runs the CLI entrypoint.
func Execute() {
	ctx, stop := signal.NotifyContext(stdcontext.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := NewRootCmd()
	root.SetContext(ctx)

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// annotationLenientSettings marks commands that run with default settings
// when the settings file fails to load, so they can report the failure.
const annotationLenientSettings = "devrun/lenient-settings"

// context carries state shared by every command invocation.
type context struct {
	configPath   string
	projectsPath string
	logLevel     string
	logFile      string

	settings     *config.Settings
	settingsPath string
	settingsErr  error
	logger       *slog.Logger
	closeLog     func()

	storeOnce sync.Once
	store     *project.Store
	storeErr  error
}

func (c *context) init(cmd *cobra.Command) error {
	path := c.configPath
	required := path != ""
	if path == "" {
		defaultPath, err := config.DefaultPath()
		if err != nil {
			return err
		}
		path = defaultPath
	}
	c.settingsPath = path
	settings, err := config.Load(path, required)
	if err != nil {
		if cmd.Annotations[annotationLenientSettings] == "" {
			return err
		}
		c.settingsErr = err
		settings = config.Defaults()
	}
	if c.projectsPath != "" {
		settings.Projects = project.ExpandHome(c.projectsPath)
	}
	if c.logLevel != "" {
		settings.Log.Level = c.logLevel
	}
	if c.logFile != "" {
		settings.Log.File = project.ExpandHome(c.logFile)
	}
	c.settings = settings

	var fallback io.Writer = cmd.ErrOrStderr()
	if cmd.Name() == "tui" {
		fallback = io.Discard
	}
	logger, closeLog, err := logging.Setup(settings.Log.File, logging.ParseLevel(settings.Log.Level), fallback)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	c.logger = logger
	c.closeLog = closeLog
	return nil
}

func (c *context) close() {
	if c.closeLog != nil {
		c.closeLog()
		c.closeLog = nil
	}
}

// openStore loads the project registry once per invocation.
func (c *context) openStore() (*project.Store, error) {
	c.storeOnce.Do(func() {
		path := c.settings.Projects
		if path == "" {
			path, c.storeErr = project.DefaultStorePath()
			if c.storeErr != nil {
				return
			}
		}
		c.store, c.storeErr = project.OpenStore(path)
	})
	return c.store, c.storeErr
}

// newSupervisor builds a supervisor over local processes. events may be nil.
func (c *context) newSupervisor(events chan<- engine.Event) *engine.Supervisor {
	s := c.settings
	launcher := process.New(process.Options{
		Shell: process.ShellOptions{
			Enabled: s.Shell.Enabled,
			Path:    s.Shell.Path,
			Profile: s.Shell.Profile,
		},
		DrainTimeout: s.Stop.DrainTimeout.Duration,
		Logger:       c.logger,
	})
	terminator := process.NewTerminator(
		process.WithTerminatorLogger(c.logger),
		process.WithLookupTimeout(s.Stop.LookupTimeout.Duration),
	)
	home, _ := os.UserHomeDir()
	envOpts := process.EnvOptions{
		Home:       home,
		ExtraPaths: s.Paths,
		Overrides:  s.ResolvedEnv,
	}

	opts := []engine.Option{
		engine.WithLogger(c.logger),
		engine.WithOutputLimit(s.Output.Lines),
		engine.WithSweepDelay(s.Stop.SweepDelay.Duration),
		engine.WithEnvironment(func() []string {
			return process.BuildEnv(os.Environ(), envOpts)
		}),
	}
	if events != nil {
		opts = append(opts, engine.WithEvents(events))
	}
	return engine.NewSupervisor(launcher, terminator, project.ManifestResolver{}, opts...)
}

// resolveProjects looks up every reference, failing on the first miss.
func (c *context) resolveProjects(refs []string) ([]project.Project, error) {
	store, err := c.openStore()
	if err != nil {
		return nil, err
	}
	projects := make([]project.Project, 0, len(refs))
	seen := make(map[project.ID]bool, len(refs))
	for _, ref := range refs {
		p, err := store.Find(ref)
		if err != nil {
			return nil, err
		}
		if seen[p.ID] {
			continue
		}
		seen[p.ID] = true
		projects = append(projects, p)
	}
	return projects, nil
}
