package commands

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/livetemplate/codepane/internal/config"
	"github.com/livetemplate/codepane/internal/export"
	"github.com/livetemplate/codepane/internal/logging"
	"github.com/livetemplate/codepane/internal/persist"
	"github.com/livetemplate/codepane/internal/workspace"
)

func newExportCommand(g *globalFlags) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "export <html|zip>",
		Short: "Export the saved workspace",
		Long: `Export the saved workspace without starting the server.

  html  one document with the CSS and JavaScript inlined
  zip   index.html, style.css, script.js, README.md and every folder

The file is written to the current directory under a timestamped name
unless --output is given. Use --output - to write to stdout.`,
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"html", "zip"},
		RunE: func(cmd *cobra.Command, args []string) error {
			format := args[0]
			if format != "html" && format != "zip" {
				return fmt.Errorf("unknown export format %q (expected html or zip)", format)
			}
			cfg, err := g.loadConfig(config.Overrides{})
			if err != nil {
				return err
			}
			defer func() { _ = logging.Sync() }()

			snap, err := storedSnapshot(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			return writeExport(cmd, snap, format, output, time.Now())
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file, or - for stdout")
	return cmd
}

// storedSnapshot reads the saved snapshot. Storage is never written; when
// nothing usable is stored the default project is exported.
func storedSnapshot(ctx context.Context, cfg *config.Config) (*persist.Snapshot, error) {
	slot, err := persist.OpenSlot(ctx, cfg.Storage.PersistOptions())
	if err != nil {
		return nil, fmt.Errorf("failed to open %s storage: %w", cfg.Storage.Driver, err)
	}
	defer slot.Close()

	snap, err := persist.NewGateway(slot, logging.Named("persist")).Load(ctx)
	if err != nil {
		logging.Warn("stored state is unreadable, exporting the default project", zap.Error(err))
	}
	if snap != nil {
		return snap, nil
	}

	ws := workspace.New(workspace.Options{Logger: zap.NewNop()})
	ws.Start()
	defer ws.Close(ctx)
	if err := ws.Load(ctx); err != nil {
		return nil, err
	}
	return ws.Snapshot(ctx)
}

func writeExport(cmd *cobra.Command, snap *persist.Snapshot, format, output string, now time.Time) error {
	var buf bytes.Buffer
	name := export.BundleName(now)
	if format == "zip" {
		name = export.ZipName(now)
		if err := export.Zip(&buf, snap, now); err != nil {
			return fmt.Errorf("zip export failed: %w", err)
		}
	} else if err := export.Bundle(&buf, snap); err != nil {
		return fmt.Errorf("html export failed: %w", err)
	}

	if output == "-" {
		_, err := io.Copy(cmd.OutOrStdout(), &buf)
		return err
	}
	if output == "" {
		output = name
	}
	size := buf.Len()
	if err := os.WriteFile(output, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", output, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Exported %s (%s)\n", output, humanize.Bytes(uint64(size)))
	return nil
}
