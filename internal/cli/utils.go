// Package cli renders shiori command output as text or JSON.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/hyperjump/shiori/internal/models"
	"github.com/hyperjump/shiori/internal/planner"
	"github.com/hyperjump/shiori/pkg/utils"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// FormatFor returns OutputJSON when asJSON is set.
func FormatFor(asJSON bool) OutputFormat {
	if asJSON {
		return OutputJSON
	}
	return OutputText
}

// maxPathWidth caps file paths in text output.
const maxPathWidth = 96

// ChunkSummary describes a chunk (stage 2) run.
type ChunkSummary struct {
	Files  int      `json:"files"`
	Chunks int      `json:"chunks"`
	OutDir string   `json:"out_dir,omitempty"`
	Output []string `json:"output,omitempty"`
}

// MergeSummary describes a merge of chunk files.
type MergeSummary struct {
	Inputs  []string `json:"inputs"`
	Output  string   `json:"output"`
	Records int      `json:"records"`
}

// CollectionStatus is the inspect output for one collection.
type CollectionStatus struct {
	Backend        string                 `json:"backend"`
	Location       string                 `json:"location"`
	Collection     *models.CollectionInfo `json:"collection,omitempty"`
	Collections    []string               `json:"collections"`
	DiskUsageBytes *int64                 `json:"disk_usage_bytes,omitempty"`
}

// DocumentStatus is the inspect output for one document.
type DocumentStatus struct {
	Collection string   `json:"collection"`
	DocID      string   `json:"doc_id"`
	Count      int      `json:"count"`
	ChunkIDs   []string `json:"chunk_ids"`
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteReport writes a sync report.
func WriteReport(w io.Writer, r *planner.Report, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, r)
	}
	prefix := ""
	if r.DryRun {
		prefix = "dry run: "
	}
	fmt.Fprintf(w, "%ssync %s into %s (%s) in %s\n", prefix, r.Mode, r.Collection, r.FinalState, FormatDuration(r.Duration))
	fmt.Fprintf(w, "run_id:         %s\n", r.RunID)
	fmt.Fprintf(w, "settings_hash:  %s\n", r.SettingsHash)
	fmt.Fprintf(w, "chunks:         %d\n", r.Chunks)
	if r.DryRun {
		fmt.Fprintf(w, "would write:    %d\n", r.Written)
	} else {
		fmt.Fprintf(w, "written:        %d   # in %d batches\n", r.Written, r.Batches)
	}
	fmt.Fprintf(w, "skipped:        %d   # unchanged content_hash\n", r.Skipped)
	if r.Pruned > 0 {
		fmt.Fprintf(w, "pruned:         %d\n", r.Pruned)
	}
	if r.Created {
		fmt.Fprintln(w, "created collection")
	}
	if r.ManifestPath != "" {
		fmt.Fprintf(w, "manifest:       %s\n", utils.Truncate(r.ManifestPath, maxPathWidth))
	}
	return nil
}

// WriteChunkSummary writes the result of chunking a vault or note.
func WriteChunkSummary(w io.Writer, s ChunkSummary, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, s)
	}
	fmt.Fprintf(w, "Chunked %d file(s) into %d chunk(s)\n", s.Files, s.Chunks)
	if s.OutDir != "" {
		fmt.Fprintf(w, "wrote %d chunk file(s) to %s\n", len(s.Output), utils.Truncate(s.OutDir, maxPathWidth))
	}
	return nil
}

// WriteMergeSummary writes the result of a merge.
func WriteMergeSummary(w io.Writer, s MergeSummary, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, s)
	}
	fmt.Fprintf(w, "Merged %d file(s), %d record(s) into %s\n", len(s.Inputs), s.Records, utils.Truncate(s.Output, maxPathWidth))
	return nil
}

// WriteCollectionStatus writes inspect output.
func WriteCollectionStatus(w io.Writer, s CollectionStatus, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, s)
	}
	fmt.Fprintf(w, "backend:           %s\n", s.Backend)
	fmt.Fprintf(w, "location:          %s\n", utils.Truncate(s.Location, maxPathWidth))
	fmt.Fprintf(w, "collections:       %s\n", strings.Join(s.Collections, ", "))
	if s.DiskUsageBytes != nil {
		fmt.Fprintf(w, "disk_usage:        %s   # %d bytes\n", FormatBytes(*s.DiskUsageBytes), *s.DiskUsageBytes)
	}
	if c := s.Collection; c != nil {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "# %s\n", c.Name)
		fmt.Fprintf(w, "count:             %d\n", c.Count)
		fmt.Fprintf(w, "native_upsert:     %t\n", c.NativeUpsert)
		fmt.Fprintf(w, "embed_model:       %s\n", c.Metadata.EmbedModel)
		fmt.Fprintf(w, "embed_dim:         %d\n", c.Metadata.EmbedDim)
		fmt.Fprintf(w, "device:            %s\n", c.Metadata.Device)
		fmt.Fprintf(w, "settings_hash:     %s\n", c.Metadata.SettingsHash)
		fmt.Fprintf(w, "pipeline_version:  %s\n", c.Metadata.PipelineVersion)
		fmt.Fprintf(w, "stage_version:     %s\n", c.Metadata.StageVersion)
	}
	return nil
}

// WriteDocumentStatus writes the chunk ids stored for a document.
func WriteDocumentStatus(w io.Writer, s DocumentStatus, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, s)
	}
	fmt.Fprintf(w, "%s: %d chunk(s) in %s\n", s.DocID, s.Count, s.Collection)
	for _, id := range s.ChunkIDs {
		fmt.Fprintf(w, "  %s\n", id)
	}
	return nil
}

// FormatBytes renders n with a binary unit suffix.
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

// FormatDuration renders d rounded to milliseconds below a second and to seconds above a minute.
func FormatDuration(d time.Duration) string {
	switch {
	case d < time.Second:
		return d.Round(time.Millisecond).String()
	case d < time.Minute:
		return d.Round(10 * time.Millisecond).String()
	default:
		return d.Round(time.Second).String()
	}
}
