package main

import (
	"fmt"
	"path/filepath"

	"github.com/hyperjump/shiori/internal/cli"
	"github.com/hyperjump/shiori/internal/records"
	"github.com/spf13/cobra"
)

// mergedFileName does not match records.DefaultPattern, so merging twice is stable.
const mergedFileName = "all_chunks.jsonl"

func newMergeCmd(a *app) *cobra.Command {
	var dir, pattern, out string
	cmd := &cobra.Command{
		Use:   "merge",
		Short: "Concatenate per-note chunk files into one file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if dir == "" {
				dir = a.cfg.Chunking.OutDir
			}
			if out == "" {
				out = filepath.Join(dir, mergedFileName)
			}
			files, err := records.CollectFiles(dir, pattern)
			if err != nil {
				return err
			}
			if len(files) == 0 {
				return fmt.Errorf("no files matching %q in %s", pattern, dir)
			}
			n, err := records.Merge(out, files)
			if err != nil {
				return err
			}
			return cli.WriteMergeSummary(cmd.OutOrStdout(), cli.MergeSummary{
				Inputs:  relativeTo(dir, files),
				Output:  out,
				Records: n,
			}, a.format())
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "directory holding chunk files (default chunking.out_dir)")
	cmd.Flags().StringVar(&pattern, "pattern", records.DefaultPattern, "glob for chunk files")
	cmd.Flags().StringVarP(&out, "out", "o", "", "merged output file (default <dir>/"+mergedFileName+")")
	return cmd
}
