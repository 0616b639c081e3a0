package main

import (
	"errors"
	"fmt"

	"github.com/hyperjump/shiori/internal/cli"
	"github.com/hyperjump/shiori/internal/models"
	"github.com/hyperjump/shiori/internal/planner"
	"github.com/hyperjump/shiori/internal/records"
	"github.com/spf13/cobra"
)

// syncFlags override the sync section of the config for one run.
type syncFlags struct {
	mode          string
	reset         bool
	skipUnchanged bool
	prune         bool
	dryRun        bool
}

func (f *syncFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.mode, "mode", "", "write mode: rebuild, append or upsert (default sync.mode)")
	cmd.Flags().BoolVar(&f.reset, "reset", false, "drop the collection before a rebuild")
	cmd.Flags().BoolVar(&f.skipUnchanged, "skip-unchanged", true, "skip chunks whose content hash is already stored (upsert)")
	cmd.Flags().BoolVar(&f.prune, "prune", false, "delete stored chunks of the batch's documents that the batch no longer has (upsert)")
	cmd.Flags().BoolVar(&f.dryRun, "dry-run", false, "plan the run without writing")
}

// apply overrides opts with the flags that were set on cmd.
func (f *syncFlags) apply(cmd *cobra.Command, opts *planner.Options) error {
	flags := cmd.Flags()
	if flags.Changed("mode") {
		mode, err := planner.ParseMode(f.mode)
		if err != nil {
			return err
		}
		opts.Mode = mode
	}
	if flags.Changed("reset") {
		opts.Reset = f.reset
	}
	if flags.Changed("skip-unchanged") {
		opts.SkipUnchanged = f.skipUnchanged
	}
	if flags.Changed("prune") {
		opts.PruneStale = f.prune
	}
	opts.DryRun = f.dryRun
	return nil
}

func newSyncCmd(a *app) *cobra.Command {
	var (
		flags     syncFlags
		chunks    string
		chunksDir string
	)
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Embed chunk files and write them to the collection",
		Long: `Sync reads chunk records from a merged file (--chunks) or from the per-note
files in a directory (--chunks-dir, default chunking.out_dir), validates them and
writes them to the collection according to the write mode.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if chunks != "" && chunksDir != "" {
				return fmt.Errorf("--chunks and --chunks-dir are mutually exclusive")
			}
			var (
				recs  []models.ChunkRecord
				input string
				err   error
			)
			if chunks != "" {
				input = chunks
				recs, err = records.ReadFile(chunks)
			} else {
				if chunksDir == "" {
					chunksDir = a.cfg.Chunking.OutDir
				}
				input = chunksDir
				var files []string
				files, err = records.CollectFiles(chunksDir, records.DefaultPattern)
				if err == nil {
					recs, err = records.ReadFiles(files)
				}
			}
			if err != nil {
				return err
			}
			return a.syncRecords(cmd, &flags, recs, input)
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&chunks, "chunks", "", "merged chunk file to sync")
	cmd.Flags().StringVar(&chunksDir, "chunks-dir", "", "directory of per-note chunk files (default chunking.out_dir)")
	return cmd
}

// syncRecords runs the planner over recs and prints the report. The report is
// printed for rejected and failed runs too.
func (a *app) syncRecords(cmd *cobra.Command, flags *syncFlags, recs []models.ChunkRecord, input string) error {
	opts := plannerOptions(a.cfg, input)
	if err := flags.apply(cmd, &opts); err != nil {
		return err
	}
	components, err := initializeComponents(cmd.Context(), a.cfg, a.logger, true)
	if err != nil {
		return err
	}
	defer components.Close()

	p, err := components.NewPlanner(opts, a.logger)
	if err != nil {
		return err
	}
	report, runErr := p.Run(cmd.Context(), recs)
	if report != nil {
		if err := cli.WriteReport(cmd.OutOrStdout(), report, a.format()); err != nil {
			return errors.Join(runErr, err)
		}
	}
	return runErr
}
