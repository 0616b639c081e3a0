package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/hyperjump/shiori/internal/cli"
	"github.com/hyperjump/shiori/internal/indexer"
	"github.com/hyperjump/shiori/internal/models"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newChunkCmd(a *app) *cobra.Command {
	var outDir string
	cmd := &cobra.Command{
		Use:   "chunk [path]",
		Short: "Chunk notes into per-note chunk files",
		Long: `Chunk reads notes, splits them into chunks with stable ids and writes one
<note>.chunks.jsonl file per note. With no path the whole vault is chunked; a
directory replaces the vault root and a file chunks that note alone.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root := a.cfg.Vault.Root
			var single string
			if len(args) == 1 {
				info, err := os.Stat(args[0])
				if err != nil {
					return fmt.Errorf("failed to stat %s: %w", args[0], err)
				}
				if info.IsDir() {
					root = args[0]
				} else {
					single = args[0]
				}
			}
			if outDir == "" {
				outDir = a.cfg.Chunking.OutDir
			}

			idx := newIndexer(a.cfg, root, a.logger)
			var (
				recs  []models.ChunkRecord
				files int
				err   error
			)
			if single != "" {
				recs, err = idx.IndexFile(single)
				files = 1
			} else {
				recs, files, err = idx.IndexVault(cmd.Context())
			}
			if err != nil {
				return err
			}
			if err := indexer.ValidateBatch(recs); err != nil {
				return err
			}
			written, err := indexer.WriteChunks(outDir, recs)
			if err != nil {
				return err
			}
			a.logger.Info("chunk files written",
				zap.String("out_dir", outDir),
				zap.Int("files", len(written)),
				zap.Int("chunks", len(recs)))
			return cli.WriteChunkSummary(cmd.OutOrStdout(), cli.ChunkSummary{
				Files:  files,
				Chunks: len(recs),
				OutDir: outDir,
				Output: relativeTo(outDir, written),
			}, a.format())
		},
	}
	cmd.Flags().StringVar(&outDir, "out", "", "directory for chunk files (default chunking.out_dir)")
	return cmd
}

// relativeTo shortens paths under dir for display.
func relativeTo(dir string, paths []string) []string {
	out := make([]string, len(paths))
	for i, p := range paths {
		if rel, err := filepath.Rel(dir, p); err == nil {
			out[i] = rel
		} else {
			out[i] = p
		}
	}
	return out
}
