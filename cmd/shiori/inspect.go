package main

import (
	"github.com/hyperjump/shiori/internal/cli"
	"github.com/hyperjump/shiori/internal/storage"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newInspectCmd(a *app) *cobra.Command {
	var collection string
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Show the store's collections and the fingerprint of one",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if collection == "" {
				collection = a.cfg.Store.Collection
			}
			components, err := initializeComponents(ctx, a.cfg, a.logger, false)
			if err != nil {
				return err
			}
			defer components.Close()

			names, err := components.Store.ListCollections(ctx)
			if err != nil {
				return err
			}
			status := cli.CollectionStatus{
				Backend:     a.cfg.Store.Backend,
				Location:    components.StoreOptions.Location(),
				Collections: names,
			}
			exists, err := storage.Exists(ctx, components.Store, collection)
			if err != nil {
				return err
			}
			if exists {
				if status.Collection, err = storage.Info(ctx, components.Store, collection); err != nil {
					return err
				}
			}
			if storage.Backend(a.cfg.Store.Backend) == storage.BackendSQLite {
				if n, err := storage.DiskUsageBytes(a.cfg.Store.PersistDir); err == nil {
					status.DiskUsageBytes = &n
				} else {
					a.logger.Debug("disk usage unavailable", zap.Error(err))
				}
			}
			return cli.WriteCollectionStatus(cmd.OutOrStdout(), status, a.format())
		},
	}
	cmd.PersistentFlags().StringVar(&collection, "collection", "", "collection name (default store.collection)")
	cmd.AddCommand(newInspectDocCmd(a, &collection))
	return cmd
}

func newInspectDocCmd(a *app, collection *string) *cobra.Command {
	return &cobra.Command{
		Use:   "doc <doc_id>",
		Short: "List the stored chunk ids of one document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			name := *collection
			if name == "" {
				name = a.cfg.Store.Collection
			}
			components, err := initializeComponents(ctx, a.cfg, a.logger, false)
			if err != nil {
				return err
			}
			defer components.Close()

			ids, err := storage.DocumentChunkIDs(ctx, components.Store, name, args[0])
			if err != nil {
				return err
			}
			return cli.WriteDocumentStatus(cmd.OutOrStdout(), cli.DocumentStatus{
				Collection: name,
				DocID:      args[0],
				Count:      len(ids),
				ChunkIDs:   ids,
			}, a.format())
		},
	}
}
