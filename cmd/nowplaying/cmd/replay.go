package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/np-widget/backend/internal/app"
	"github.com/np-widget/backend/internal/monitor"
	"github.com/np-widget/backend/internal/session"
	"github.com/np-widget/backend/internal/source"
)

var (
	replayRealtime bool
	replayJSON     bool
)

var replayCmd = &cobra.Command{
	Use:   "replay <scenario.yaml>",
	Short: "Run a scenario offline and print the resulting registry",
	Long: `Feed a scenario file through the listener, collect the unified events
and replay them into an empty registry. Nothing is served. Step delays are
skipped unless --realtime is set.`,
	Args: cobra.ExactArgs(1),
	RunE: runReplay,
}

func init() {
	replayCmd.Flags().BoolVar(&replayRealtime, "realtime", false, "honor step delays")
	replayCmd.Flags().BoolVar(&replayJSON, "json", false, "print the registry as JSON")
	rootCmd.AddCommand(replayCmd)
}

func runReplay(cmd *cobra.Command, args []string) error {
	path := args[0]
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading scenario: %w", err)
	}
	sc, err := source.ParseScenario(data, filepath.Dir(path))
	if err != nil {
		return err
	}
	if !replayRealtime {
		for i := range sc.Steps {
			sc.Steps[i].Delay = 0
		}
	}

	events, err := collectEvents(cmd.Context(), sc, slog.Default())
	if err != nil {
		return err
	}
	final := session.Snapshot(session.Replay(events, time.Now))

	out := cmd.OutOrStdout()
	if replayJSON {
		data, err := json.MarshalIndent(final, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(out, string(data))
		return err
	}
	fmt.Fprintf(out, "%d events, %d sessions\n\n", len(events), len(final))
	fmt.Fprintln(out, app.RenderSessions(session.SortByPriority(final, nil), time.Now()))
	return nil
}

// collectEvents runs sc through a listener and returns the unified events
// in the order the registry would have consumed them.
func collectEvents(ctx context.Context, sc *source.Scenario, logger *slog.Logger) ([]session.Event, error) {
	src := source.NewScenarioSourceFrom(sc, false, logger)
	notifications, err := src.Start(ctx)
	if err != nil {
		return nil, err
	}

	stream := session.NewStream(len(sc.Steps) + 1)
	defer stream.Close()
	listener := monitor.NewListener(stream, logger)
	done := make(chan error, 1)
	go func() { done <- listener.Run(ctx, notifications) }()

	var events []session.Event
	for {
		select {
		case ev := <-stream.Events():
			events = append(events, ev)
		case err := <-done:
			for {
				select {
				case ev := <-stream.Events():
					events = append(events, ev)
				default:
					return events, err
				}
			}
		}
	}
}
