package models

import "time"

// CollectionMetadata is stamped on a collection when it is created and checked on reuse.
type CollectionMetadata struct {
	EmbedModel      string `json:"embed_model"`
	EmbedDim        int    `json:"embed_dim"`
	SettingsHash    string `json:"settings_hash"`
	Device          string `json:"device"`
	PipelineVersion string `json:"pipeline_version"`
	StageVersion    string `json:"stage_version"`
}

// Flatten returns the collection metadata as scalar key/values.
func (c CollectionMetadata) Flatten() map[string]any {
	return map[string]any{
		"embed_model":      c.EmbedModel,
		"embed_dim":        c.EmbedDim,
		"settings_hash":    c.SettingsHash,
		"device":           c.Device,
		"pipeline_version": c.PipelineVersion,
		"stage_version":    c.StageVersion,
	}
}

// CollectionMetadataFromFlat reads collection metadata from a scalar map. Unknown keys are ignored.
func CollectionMetadataFromFlat(flat map[string]any) (CollectionMetadata, error) {
	dim, err := intField(flat, "embed_dim")
	if err != nil {
		return CollectionMetadata{}, err
	}
	return CollectionMetadata{
		EmbedModel:      stringField(flat, "embed_model"),
		EmbedDim:        dim,
		SettingsHash:    stringField(flat, "settings_hash"),
		Device:          stringField(flat, "device"),
		PipelineVersion: stringField(flat, "pipeline_version"),
		StageVersion:    stringField(flat, "stage_version"),
	}, nil
}

// CollectionInfo describes a collection for inspection output.
type CollectionInfo struct {
	Name         string             `json:"name"`
	Metadata     CollectionMetadata `json:"metadata"`
	Count        int                `json:"count"`
	NativeUpsert bool               `json:"native_upsert"`
}

// ManifestCounts are the per-run counters recorded in a manifest.
type ManifestCounts struct {
	Chunks  int `json:"chunks"`
	Added   int `json:"added"`
	Skipped int `json:"skipped"`
	Pruned  int `json:"pruned"`
}

// Manifest is the audit record written at the end of a sync run.
type Manifest struct {
	RunID           string            `json:"run_id"`
	PipelineVersion string            `json:"pipeline_version"`
	StageVersion    string            `json:"stage_version"`
	StartedAt       time.Time         `json:"started_at"`
	FinishedAt      time.Time         `json:"finished_at"`
	Settings        map[string]string `json:"settings"`
	SettingsHash    string            `json:"settings_hash"`
	Counts          ManifestCounts    `json:"counts"`
	FinalState      string            `json:"final_state"`
}
