package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"flowcraft/backend/internal/hub"
	"flowcraft/backend/internal/metrics"
	"flowcraft/backend/internal/models"
	"flowcraft/backend/internal/replay"
)

// progressPrinter reports replay progress on the console.
type progressPrinter struct {
	w    io.Writer
	mu   sync.Mutex
	last int
}

func (p *progressPrinter) Broadcast(msgType string, data interface{}) {
	st, ok := data.(replay.Status)
	if msgType != hub.TypePlaybackStatus || !ok || st.Step == 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if st.Step == p.last {
		return
	}
	p.last = st.Step
	infoColor.Fprintf(p.w, "  step %d/%d\n", st.Step, st.TotalSteps)
}

func readWorkflowFile(fs afero.Fs, path string) (models.Workflow, error) {
	var wf models.Workflow
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return wf, err
	}
	if err := json.Unmarshal(data, &wf); err != nil {
		return wf, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return wf, nil
}

func newReplayCommand(flags *globalFlags) *cobra.Command {
	var workflowID string
	cmd := &cobra.Command{
		Use:   "replay [workflow.json]",
		Short: "Replay a workflow file or a stored workflow and report the result",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if (len(args) == 0) == (workflowID == "") {
				return fmt.Errorf("pass either a workflow file or --id")
			}
			cfg, log, err := flags.setup()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			var wf models.Workflow
			if workflowID != "" {
				st, closeStore, err := openStore(cfg, log)
				if err != nil {
					return err
				}
				wf, err = st.Workflow(ctx, workflowID)
				closeStore()
				if err != nil {
					return err
				}
			} else if wf, err = readWorkflowFile(afero.NewOsFs(), args[0]); err != nil {
				return err
			}

			browser, err := startBrowser(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer browser.Close()

			out := cmd.OutOrStdout()
			player := newPlayer(cfg, browser, log, metrics.New(), &progressPrinter{w: out})
			infoColor.Fprintf(out, "▶ %s (%d steps)\n", wf.Name, len(wf.Steps))
			if err := player.StartPlayback(ctx, wf); err != nil {
				failColor.Fprintf(out, "✗ FAIL %s\n", err)
				return fmt.Errorf("replay failed")
			}
			okColor.Fprintln(out, "✓ PASS")
			return nil
		},
	}
	cmd.Flags().StringVar(&workflowID, "id", "", "id of a stored workflow")
	return cmd
}
