package commands

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/livetemplate/codepane/internal/config"
	"github.com/livetemplate/codepane/internal/logging"
	"github.com/livetemplate/codepane/internal/workspace"
)

// maxImportFile skips files too large to edit in the browser.
const maxImportFile = 8 << 20

func newImportCommand(g *globalFlags) *cobra.Command {
	var (
		overwrite bool
		conflict  string
	)
	cmd := &cobra.Command{
		Use:   "import <dir>",
		Short: "Add the files of a directory to the saved workspace",
		Long: `Add every file under a directory to the saved workspace. Each file goes
to the folder of its kind (html, css, javascript or assets); images are
stored as data URIs. Hidden files and directories are skipped.

Name clashes follow the conflict policy unless --overwrite is set.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.loadConfig(config.Overrides{ConflictPolicy: conflict})
			if err != nil {
				return err
			}
			defer func() { _ = logging.Sync() }()

			uploads, err := readImportDir(args[0])
			if err != nil {
				return err
			}
			if len(uploads) == 0 {
				return fmt.Errorf("no files to import in %s", args[0])
			}

			p, err := openProject(cmd.Context(), cfg, nil)
			if err != nil {
				return err
			}
			recs, importErr := p.ws.Import(cmd.Context(), uploads, workspace.UploadOptions{
				Overwrite: overwrite,
				NoSelect:  true,
			})
			// Close saves whatever was imported before a failure.
			if err := p.Close(flushTimeout); err != nil {
				return fmt.Errorf("failed to save workspace: %w", err)
			}
			if importErr != nil {
				return fmt.Errorf("import stopped after %d files: %w", len(recs), importErr)
			}

			out := cmd.OutOrStdout()
			for _, rec := range recs {
				fmt.Fprintf(out, "  %s/%s  %s\n", rec.Kind.Folder(), rec.Name, rec.HumanSize())
			}
			fmt.Fprintf(out, "Imported %d files\n", len(recs))
			return nil
		},
	}
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "Replace files with the same name")
	cmd.Flags().StringVar(&conflict, "conflict", "", "Name clash policy: suffix or reject")
	return cmd
}

// readImportDir collects the regular files under dir in lexical order.
func readImportDir(dir string) ([]workspace.Upload, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", dir)
	}

	var uploads []workspace.Upload
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path != dir && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			return err
		}
		if fi.Size() > maxImportFile {
			logging.Warn("skipping large file", logging.String("path", path), logging.Int("bytes", int(fi.Size())))
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		uploads = append(uploads, workspace.Upload{Name: d.Name(), Data: data})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", dir, err)
	}
	return uploads, nil
}
