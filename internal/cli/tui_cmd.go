package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Paintersrp/devrun/internal/cliutil"
	"github.com/Paintersrp/devrun/internal/engine"
	"github.com/Paintersrp/devrun/internal/logmux"
	"github.com/Paintersrp/devrun/internal/tui"
)

func newTuiCmd(ctx *context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tui",
		Short: "Launch the interactive project interface",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cliutil.IsInteractive(cmd.OutOrStdout()) {
				return fmt.Errorf("tui requires an interactive terminal")
			}
			store, err := ctx.openStore()
			if err != nil {
				return err
			}

			events := make(chan engine.Event, eventBuffer)
			sup := ctx.newSupervisor(events)
			defer sup.StopAll()

			ui := tui.New(store.List(), sup, tui.WithMaxEvents(ctx.settings.Output.Lines))

			mux := logmux.New(eventBuffer)
			mux.Add(events)
			go func() {
				// Keep draining once the UI is gone so StopAll never blocks on
				// a full event channel.
				defer func() {
					for range mux.Output() {
					}
				}()
				sink := ui.EventSink()
				for {
					select {
					case evt := <-mux.Output():
						select {
						case sink <- evt:
						case <-ui.Done():
							return
						}
					case <-ui.Done():
						return
					}
				}
			}()

			return ui.Run(cmd.Context())
		},
	}

	return cmd
}
