package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/np-widget/backend/internal/bridge"
	"github.com/np-widget/backend/internal/config"
	"github.com/np-widget/backend/internal/monitor"
	"github.com/np-widget/backend/internal/observability"
	"github.com/np-widget/backend/internal/session"
	"github.com/np-widget/backend/internal/source"
	"github.com/np-widget/backend/internal/version"
	"github.com/np-widget/backend/internal/ws"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the session bridge and widget server",
	Long: `Start the session source, the listener, the registry and the HTTP
server. The process runs until interrupted or until a component fails.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("host", "127.0.0.1", "listen host")
	serveCmd.Flags().Int("port", 8080, "listen port")
	serveCmd.Flags().String("source", "mock", "session source (mock, process, scenario)")
	serveCmd.Flags().String("scenario", "", "scenario file for the scenario source")
	serveCmd.Flags().Bool("loop", false, "replay the scenario forever")
	serveCmd.Flags().String("auth-token", "", "token required on /ws and /api")

	mustBindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	mustBindPFlag("server.port", serveCmd.Flags().Lookup("port"))
	mustBindPFlag("source.kind", serveCmd.Flags().Lookup("source"))
	mustBindPFlag("source.scenario.path", serveCmd.Flags().Lookup("scenario"))
	mustBindPFlag("source.scenario.loop", serveCmd.Flags().Lookup("loop"))
	mustBindPFlag("server.auth_token", serveCmd.Flags().Lookup("auth-token"))

	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger := observability.NewLogger(cfg.Logging, cfg.Server.AuthToken)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return serve(ctx, cfg, logger)
}

// serve wires the pipeline and supervises it until ctx ends or any
// component returns an error.
func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	src, err := source.Open(cfg.Source, logger)
	if err != nil {
		return fmt.Errorf("opening source: %w", err)
	}

	store := session.NewStore()
	stream := session.NewStream(cfg.Registry.Buffer)
	emitter := bridge.NewEmitter(logger)
	registry := session.NewRegistry(store, emitter, logger)

	broadcaster := ws.NewBroadcaster(registry.Snapshot, cfg.Bridge.ClientBuffer, cfg.Server.MaxClients, logger)
	broadcaster.SetPrivacyFilter(privacyFilter(cfg.Bridge))
	emitter.Attach(broadcaster)
	if err := broadcaster.StartResync(cfg.Bridge.ResyncSchedule); err != nil {
		return err
	}
	defer broadcaster.Stop()

	listener := monitor.NewListener(stream, logger)
	listener.SetDrainTimeout(cfg.Registry.DrainTimeout)

	server := ws.NewServer(cfg.Server, registry, broadcaster, logger)
	server.SetPriorities(cfg.Bridge.SourcePriority)
	server.SetSourceName(src.Name())
	server.SetHealthHook(listener.Health)

	g, gctx := errgroup.WithContext(ctx)

	notifications, err := src.Start(gctx)
	if err != nil {
		return fmt.Errorf("starting %s source: %w", src.Name(), err)
	}

	logger.Info("starting nowplaying",
		slog.String("version", version.Version),
		slog.String("source", src.Name()),
		slog.String("address", cfg.Server.Address()))

	g.Go(func() error { return registry.Run(gctx, stream) })
	g.Go(func() error { return listener.Run(gctx, notifications) })
	g.Go(func() error { return server.ListenAndServe(gctx) })
	g.Go(func() error {
		<-gctx.Done()
		broadcaster.Stop()
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("shutdown complete", slog.Int64("events_applied", registry.Applied()))
	return nil
}

func privacyFilter(cfg config.BridgeConfig) *session.PrivacyFilter {
	return &session.PrivacyFilter{
		AllowedSources: cfg.AllowedSources,
		BlockedSources: cfg.BlockedSources,
		MaskSources:    cfg.MaskSources,
		StripArtwork:   cfg.StripArtwork,
	}
}
