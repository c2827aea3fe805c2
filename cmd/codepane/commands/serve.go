package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/livetemplate/codepane/internal/config"
	"github.com/livetemplate/codepane/internal/logging"
	"github.com/livetemplate/codepane/internal/persist"
	"github.com/livetemplate/codepane/internal/server"
)

const flushTimeout = 10 * time.Second

func newServeCommand(g *globalFlags) *cobra.Command {
	var o config.Overrides
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the IDE server",
		Long: `Start the IDE server and open the saved workspace.

Examples:
  codepane serve                        # http://localhost:8080, file storage in .codepane
  codepane serve -p 3000 --host 0.0.0.0
  codepane serve --storage sqlite --storage-path codepane.db
  codepane serve --watch                # reload when another process saves`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.loadConfig(o)
			if err != nil {
				return err
			}
			defer func() { _ = logging.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cmd, cfg)
		},
	}

	cmd.Flags().IntVarP(&o.Port, "port", "p", 0, "Port to listen on")
	cmd.Flags().StringVar(&o.Host, "host", "", "Interface to bind")
	cmd.Flags().BoolVarP(&o.Watch, "watch", "w", false, "Reload when the stored snapshot changes on disk (file storage)")
	cmd.Flags().BoolVar(&o.Debug, "debug", false, "Enable debug logging")
	cmd.Flags().StringVar(&o.ConflictPolicy, "conflict", "", "Name clash policy for imports: suffix or reject")
	cmd.Flags().BoolVar(&o.NoAssistant, "no-assistant", false, "Disable the AI code helper")
	return cmd
}

func serve(ctx context.Context, cmd *cobra.Command, cfg *config.Config) error {
	log := logging.Named("serve")
	gen := newAssistant(cfg)

	p, err := openProject(ctx, cfg, gen)
	if err != nil {
		return err
	}
	srv := server.New(server.Options{
		Config:    cfg,
		Workspace: p.ws,
		Assistant: gen != nil,
		Logger:    logging.Named("server"),
	})

	if cfg.Storage.Watch {
		if fs, ok := p.slot.(*persist.FileSlot); ok {
			if err := srv.EnableWatch(fs); err != nil {
				log.Warn("watch disabled", zap.Error(err))
			}
		}
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "codepane\n\n")
	if cfg.Storage.Path != "" && (cfg.Storage.Driver == "file" || cfg.Storage.Driver == "sqlite") {
		fmt.Fprintf(out, "Storage:   %s (%s)\n", p.slot.Name(), cfg.Storage.Path)
	} else {
		fmt.Fprintf(out, "Storage:   %s\n", p.slot.Name())
	}
	fmt.Fprintf(out, "Server:    http://%s\n", cfg.Server.Addr())
	if gen != nil {
		fmt.Fprintf(out, "Assistant: %s\n", cfg.Assistant.ClientConfig().Model)
	}
	if cfg.Server.IsAuthEnabled() {
		fmt.Fprintf(out, "API key required on /api (header %s)\n", cfg.Server.Auth.GetHeaderName())
	}
	fmt.Fprintf(out, "Press Ctrl+C to stop\n\n")

	serveErr := srv.ListenAndServe(ctx)

	// Best-effort flush on shutdown.
	if err := srv.Close(); err != nil {
		log.Warn("failed to stop watcher", zap.Error(err))
	}
	if err := p.Close(flushTimeout); err != nil {
		log.Error("final save failed", zap.Error(err))
		if serveErr == nil {
			serveErr = fmt.Errorf("final save failed: %w", err)
		}
	}
	if serveErr != nil {
		return fmt.Errorf("server error: %w", serveErr)
	}
	log.Info("workspace saved, bye")
	return nil
}
