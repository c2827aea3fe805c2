// Package commands implements the codepane CLI.
package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/livetemplate/codepane/internal/assistant"
	"github.com/livetemplate/codepane/internal/config"
	"github.com/livetemplate/codepane/internal/logging"
	"github.com/livetemplate/codepane/internal/persist"
	"github.com/livetemplate/codepane/internal/workspace"
)

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath  string
	dir         string
	storage     string
	storagePath string
	logLevel    string
}

// NewRootCommand builds the command tree.
func NewRootCommand(version string) *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:   "codepane",
		Short: "A browser mini IDE with live preview",
		Long: `codepane serves a small web IDE: HTML, CSS, JavaScript and data editors,
a live preview, a virtual file explorer and an optional AI code helper.

Workspace state is saved to the configured storage driver (file, sqlite,
postgres, s3 or memory) and restored on the next start.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&g.configPath, "config", "c", "", "Config file (default: codepane.yaml in --dir)")
	root.PersistentFlags().StringVarP(&g.dir, "dir", "d", ".", "Project directory")
	root.PersistentFlags().StringVar(&g.storage, "storage", "", "Storage driver: memory, file, sqlite, postgres, s3")
	root.PersistentFlags().StringVar(&g.storagePath, "storage-path", "", "Storage directory or sqlite database")
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "Log level: debug, info, warn, error")

	root.AddCommand(
		newServeCommand(g),
		newExportCommand(g),
		newImportCommand(g),
		newVersionCommand(version),
	)
	return root
}

// loadConfig reads the config file and applies the global flags plus any
// command-specific overrides.
func (g *globalFlags) loadConfig(o config.Overrides) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if g.configPath != "" {
		cfg, err = config.Load(g.configPath)
	} else {
		cfg, err = config.LoadFromDir(g.dir)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if o.StorageDriver == "" {
		o.StorageDriver = g.storage
	}
	if o.StoragePath == "" {
		o.StoragePath = g.storagePath
	}
	if o.LogLevel == "" {
		o.LogLevel = g.logLevel
	}
	if err := cfg.Apply(o); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if err := logging.Init(cfg.Logging.LoggerConfig(cfg.Server.Debug)); err != nil {
		return nil, fmt.Errorf("failed to initialize logging: %w", err)
	}
	return cfg, nil
}

// project is an opened workspace and the slot behind it.
type project struct {
	ws   *workspace.Workspace
	slot persist.Slot
}

// openProject connects to storage and restores the saved workspace.
func openProject(ctx context.Context, cfg *config.Config, gen workspace.Generator) (*project, error) {
	slot, err := persist.OpenSlot(ctx, cfg.Storage.PersistOptions())
	if err != nil {
		return nil, fmt.Errorf("failed to open %s storage: %w", cfg.Storage.Driver, err)
	}

	log := logging.Named("workspace")
	ws := workspace.New(workspace.Options{
		Gateway:        persist.NewGateway(slot, logging.Named("persist")),
		RenderDelay:    cfg.Editor.GetRenderDebounce(),
		SaveDelay:      cfg.Editor.GetSaveDebounce(),
		HistorySize:    cfg.Editor.GetHistorySize(),
		ConsoleLimit:   cfg.Editor.GetConsoleLimit(),
		ConflictPolicy: cfg.Files.GetConflictPolicy(),
		Assistant:      gen,
		Logger:         log,
	})
	ws.Start()
	if err := ws.Load(ctx); err != nil {
		// A failed first render is reported in the panel; state is usable.
		log.Warn("initial render failed", zap.Error(err))
	}
	return &project{ws: ws, slot: slot}, nil
}

// Close flushes the workspace and releases storage.
func (p *project) Close(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	err := p.ws.Close(ctx)
	if cerr := p.slot.Close(); err == nil {
		err = cerr
	}
	return err
}

// newAssistant returns the code generator, or nil when it is disabled.
func newAssistant(cfg *config.Config) workspace.Generator {
	if !cfg.Assistant.IsEnabled() {
		return nil
	}
	return assistant.New(cfg.Assistant.ClientConfig(), logging.Named("assistant"))
}

func newVersionCommand(version string) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the codepane version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "codepane version %s\n", version)
		},
	}
}
