package main

import (
	"github.com/spf13/cobra"
)

func newRunCmd(a *app) *cobra.Command {
	var flags syncFlags
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Chunk the vault and sync it in one pass",
		Long: `Run chunks every note under vault.root in memory and syncs the records to the
collection, without writing chunk files.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			idx := newIndexer(a.cfg, a.cfg.Vault.Root, a.logger)
			recs, _, err := idx.IndexVault(cmd.Context())
			if err != nil {
				return err
			}
			return a.syncRecords(cmd, &flags, recs, a.cfg.Vault.Root)
		},
	}
	flags.register(cmd)
	return cmd
}
