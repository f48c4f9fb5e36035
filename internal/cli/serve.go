package cli

import (
	stdcontext "context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/Paintersrp/devrun/internal/api"
	apihttp "github.com/Paintersrp/devrun/internal/api/http"
	"github.com/Paintersrp/devrun/internal/engine"
	"github.com/Paintersrp/devrun/internal/logmux"
)

var newAPIServer = apihttp.NewServer

func newServeCmd(ctx *context) *cobra.Command {
	var apiAddr string
	cmd := &cobra.Command{
		Use:   "serve [ref...]",
		Short: "Supervise projects behind the HTTP control API",
		RunE: func(cmd *cobra.Command, args []string) error {
			addr := ctx.settings.API.Addr
			if cmd.Flags().Changed("api") {
				addr = apiAddr
			}
			initial, err := ctx.resolveProjects(args)
			if err != nil {
				return err
			}
			store, err := ctx.openStore()
			if err != nil {
				return err
			}

			events := make(chan engine.Event, eventBuffer)
			sup := ctx.newSupervisor(events)
			defer sup.StopAll()

			mux := logmux.New(eventBuffer)
			mux.Add(events)
			go logEvents(ctx, mux.Output())

			ctrl, err := api.NewController(store, sup)
			if err != nil {
				return err
			}
			server, err := newAPIServer(apihttp.Config{
				Addr:       addr,
				Controller: ctrl,
			})
			if err != nil {
				return err
			}

			runCtx := cmd.Context()
			for _, p := range initial {
				sup.Run(runCtx, p)
			}

			errCh := make(chan error, 1)
			go func() {
				errCh <- server.Run(runCtx)
			}()
			readyTimer := time.NewTimer(200 * time.Millisecond)
			defer readyTimer.Stop()
			select {
			case err := <-errCh:
				return serveErr(err)
			case <-readyTimer.C:
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Control API listening on %s\n", server.Addr())
			return serveErr(<-errCh)
		},
	}
	cmd.Flags().StringVar(&apiAddr, "api", "", "address for the HTTP control API (default from settings, 127.0.0.1:7664)")
	return cmd
}

func serveErr(err error) error {
	if err != nil && !errors.Is(err, stdcontext.Canceled) && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// logEvents records lifecycle events in the diagnostic log. Output lines stay
// in the supervisor's buffers, reachable through the API.
func logEvents(ctx *context, events <-chan engine.Event) {
	for evt := range events {
		if evt.Type == engine.EventTypeLog {
			continue
		}
		attrs := []any{"project", evt.Project, "name", evt.Name, "type", evt.Type}
		if evt.Reason != "" {
			attrs = append(attrs, "reason", evt.Reason)
		}
		if evt.Err != nil {
			attrs = append(attrs, "err", evt.Err)
		}
		if evt.Type == engine.EventTypeFailed {
			ctx.logger.Warn(evt.Message, attrs...)
			continue
		}
		ctx.logger.Info(evt.Message, attrs...)
	}
}
