package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/hyperjump/shiori/internal/cli"
	"github.com/hyperjump/shiori/internal/config"
	"github.com/hyperjump/shiori/internal/indexer"
	"github.com/hyperjump/shiori/internal/models"
	"github.com/hyperjump/shiori/internal/planner"
	"github.com/hyperjump/shiori/internal/watcher"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// syncHandler keeps the collection in step with single notes as they change.
type syncHandler struct {
	idx     *indexer.Indexer
	planner *planner.Planner
	logger  *zap.Logger
}

// Index re-chunks the note at path, upserts its chunks and removes any stored
// chunk of the same rel_path that the note no longer produces. A doc_id still
// stored for another note in the vault rejects the sync; chunks of a note that
// has left the vault are dropped first.
func (h *syncHandler) Index(ctx context.Context, path string) error {
	rel, err := h.idx.RelPath(path)
	if err != nil {
		return err
	}
	recs, err := h.idx.IndexFile(path)
	if err != nil {
		return err
	}
	keep := make([]string, len(recs))
	for i, rec := range recs {
		keep[i] = rec.Metadata.ChunkID
	}
	if len(recs) > 0 {
		stale, err := h.planner.CheckOwner(ctx, recs[0].Metadata.DocID, rel, h.present)
		if err != nil {
			return err
		}
		for _, old := range stale {
			if _, err := h.planner.RemoveWhere(ctx, models.FieldRelPath, old); err != nil {
				return err
			}
		}
		report, err := h.planner.Run(ctx, recs)
		if err != nil {
			return err
		}
		h.logger.Info("note synced",
			zap.String("rel_path", rel),
			zap.Int("written", report.Written),
			zap.Int("skipped", report.Skipped),
			zap.Int("pruned", report.Pruned))
	}
	_, err = h.planner.RemoveWhere(ctx, models.FieldRelPath, rel, keep...)
	return err
}

// present reports whether the vault still holds a note at rel.
func (h *syncHandler) present(rel string) bool {
	_, err := os.Stat(filepath.Join(h.idx.Root(), filepath.FromSlash(rel)))
	return err == nil
}

// Remove deletes every stored chunk of the note at path.
func (h *syncHandler) Remove(ctx context.Context, path string) error {
	rel, err := h.idx.RelPath(path)
	if err != nil {
		return err
	}
	_, err = h.planner.RemoveWhere(ctx, models.FieldRelPath, rel)
	return err
}

func newWatchCmd(a *app) *cobra.Command {
	var initial bool
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Sync the vault, then keep syncing notes as they change",
		Long: `Watch runs an upsert sync of the whole vault, then watches vault.root and
re-syncs each note after it settles (watch.debounce). Deleted notes have their
chunks removed. Every watch sync is an upsert with pruning.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if a.cfg.Vault.Root == "" {
				return fmt.Errorf("vault.root is not set (config or %s)", config.EnvVaultRoot)
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			components, err := initializeComponents(ctx, a.cfg, a.logger, true)
			if err != nil {
				return err
			}
			defer components.Close()

			opts := plannerOptions(a.cfg, a.cfg.Vault.Root)
			opts.Mode = planner.ModeUpsert
			opts.Reset = false
			opts.PruneStale = true
			p, err := components.NewPlanner(opts, a.logger)
			if err != nil {
				return err
			}
			idx := newIndexer(a.cfg, a.cfg.Vault.Root, a.logger)

			if initial {
				recs, _, err := idx.IndexVault(ctx)
				if err != nil {
					return err
				}
				report, err := p.Run(ctx, recs)
				if report != nil {
					_ = cli.WriteReport(cmd.OutOrStdout(), report, a.format())
				}
				if err != nil {
					return err
				}
			}

			w := watcher.New(a.cfg.Vault.Root, &syncHandler{idx: idx, planner: p, logger: a.logger},
				watcher.WithLogger(a.logger),
				watcher.WithDebounce(a.cfg.Watch.Debounce),
				watcher.WithRecursive(a.cfg.Vault.RecursiveOrDefault()),
				watcher.WithFilter(idx.Accepts),
			)
			return w.Run(ctx)
		},
	}
	cmd.Flags().BoolVar(&initial, "initial-sync", true, "sync the whole vault before watching")
	return cmd
}
