package main

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/eduparlema/llmproxy-chatbot/internal/knowledge"
	"github.com/eduparlema/llmproxy-chatbot/internal/llm"
)

// ingestExts are the file types ingest picks up when walking a directory.
var ingestExts = map[string]bool{".md": true, ".markdown": true, ".txt": true}

func newIngestCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "ingest <file-or-dir>...",
		Short: "Seed the knowledge store with markdown or text documents",
		Long: `Seed the knowledge store with advising documents.

Each file becomes one document. Directories are walked for .md,
.markdown and .txt files. Documents already stored are skipped.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr(), g.configPath, args)
		},
	}
}

func runIngest(ctx context.Context, stdout, stderr io.Writer, configPath string, paths []string) error {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger, err := cfg.NewLogger(stderr)
	if err != nil {
		return err
	}
	if cfg.Knowledge.Backend == "none" {
		return fmt.Errorf("ingest: knowledge.backend is none")
	}

	var proxy *llm.ProxyClient
	if cfg.Generation.Provider == "llmproxy" {
		proxy = llm.NewProxyClient(cfg.Generation.BaseURL, cfg.Generation.APIKey, seconds(cfg.Generation.TimeoutSec), logger)
	}
	store, closer, err := openKnowledge(cfg, proxy, logger)
	if err != nil {
		return err
	}
	if closer != nil {
		defer closer.Close()
	}

	files, err := collectFiles(paths)
	if err != nil {
		return err
	}

	for _, path := range files {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		if err := store.Store(ctx, string(data)); err != nil {
			return fmt.Errorf("ingest %s: %w", path, err)
		}
		logger.Info("document ingested", "file", path, "bytes", len(data))
	}

	fmt.Fprintf(stdout, "Ingested %d document(s)", len(files))
	if local, ok := store.(*knowledge.SQLiteStore); ok {
		fmt.Fprintf(stdout, "; knowledge store now holds %d", local.Count())
	}
	fmt.Fprintln(stdout)
	return nil
}

// collectFiles expands directories into the ingestible files beneath
// them. Files named explicitly are kept regardless of extension.
func collectFiles(paths []string) ([]string, error) {
	var files []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			files = append(files, p)
			continue
		}
		err = filepath.WalkDir(p, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if path != p && strings.HasPrefix(d.Name(), ".") {
					return filepath.SkipDir
				}
				return nil
			}
			if ingestExts[strings.ToLower(filepath.Ext(path))] {
				files = append(files, path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walk %s: %w", p, err)
		}
	}
	return files, nil
}
