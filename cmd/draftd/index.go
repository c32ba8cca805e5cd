package main

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"unicode/utf8"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/draftd/internal/ignore"
	"github.com/fyrsmithlabs/draftd/internal/logging"
)

var indexCmd = &cobra.Command{
	Use:   "index <project-id> <path>...",
	Short: "Index local files into a project",
	Long: `Chunk, embed and index local files into a project's document store
without starting the server. Directory arguments are walked recursively;
entries matching .draftdignore or .gitignore patterns at the directory
root are skipped, as are hidden and binary files. Re-indexing an existing
filename replaces its content and chunks.

Examples:
  # Index two files
  draftd index 2f6b3c0e notes.txt runbook.md

  # Index a whole directory tree
  draftd index 2f6b3c0e ./docs`,
	Args: cobra.MinimumNArgs(2),
	RunE: runIndex,
}

func runIndex(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	deps, err := buildServices(cfg, logger)
	if err != nil {
		return err
	}
	defer deps.close(logger)

	ctx := cmd.Context()
	projectID := args[0]

	if _, err := deps.store.Project(ctx, projectID); err != nil {
		return fmt.Errorf("project %s: %w", projectID, err)
	}

	for _, path := range args[1:] {
		info, err := os.Stat(path)
		if err != nil {
			return fmt.Errorf("stat %s: %w", path, err)
		}

		if info.IsDir() {
			if err := indexTree(ctx, deps, logger, projectID, path); err != nil {
				return err
			}
			continue
		}

		if err := indexFile(ctx, deps, logger, projectID, path, filepath.Base(path)); err != nil {
			return err
		}
	}

	return nil
}

// indexTree walks root and indexes every regular file the tree's ignore
// patterns allow. Document filenames are slash-separated paths relative
// to root, so nested files stay distinguishable within the project.
func indexTree(ctx context.Context, deps *services, logger *zap.Logger, projectID, root string) error {
	matcher, err := ignore.Load(root)
	if err != nil {
		return fmt.Errorf("loading ignore patterns for %s: %w", root, err)
	}

	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}

		rel = filepath.ToSlash(rel)
		if matcher.Skip(rel, d.IsDir()) {
			logger.Debug("skipping ignored entry", zap.String("path", rel))
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}

		return indexFile(ctx, deps, logger, projectID, path, rel)
	})
}

func indexFile(ctx context.Context, deps *services, logger *zap.Logger, projectID, path, filename string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	if !utf8.Valid(content) {
		logger.Warn("skipping non-text file", zap.String("path", path))
		return nil
	}

	doc, err := deps.indexer.IndexDocument(ctx, projectID, filename, string(content))
	if err != nil {
		return fmt.Errorf("indexing %s: %w", path, err)
	}

	logger.Info("indexed file",
		zap.String("file", path),
		zap.String("document_id", doc.ID),
		zap.Int("word_count", doc.WordCount))
	fmt.Printf("indexed %s (%d words)\n", filename, doc.WordCount)
	return nil
}
