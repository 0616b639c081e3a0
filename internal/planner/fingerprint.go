package planner

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strconv"
)

// fingerprintLength is the number of hex characters kept from the settings digest.
const fingerprintLength = 16

// Settings is the run configuration recorded on collections and in manifests.
type Settings map[string]string

// Fingerprint returns sha256 over the JSON form of s (keys sorted), truncated to 16 hex characters.
func Fingerprint(s Settings) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	// map keys are marshaled in sorted order
	_ = enc.Encode(map[string]string(s))
	sum := sha256.Sum256(bytes.TrimSuffix(buf.Bytes(), []byte("\n")))
	return hex.EncodeToString(sum[:])[:fingerprintLength]
}

// FingerprintSettings are the settings that decide whether two runs may share a
// collection. Mode, reset and input paths are left out so a rebuilt collection
// accepts later upserts from any batch file.
func (o Options) FingerprintSettings() Settings {
	return Settings{
		"pipeline_version": o.PipelineVersion,
		"stage_version":    o.StageVersion,
		"embed_model":      o.EmbedModel,
		"embed_dim":        strconv.Itoa(o.EmbedDim),
		"device":           o.Device,
		"batch_size":       strconv.Itoa(o.BatchSize),
		"collection":       o.Collection,
		"store_backend":    o.StoreBackend,
		"store_location":   o.StoreLocation,
	}
}

// ManifestSettings are the fingerprint settings plus the per-run flags.
func (o Options) ManifestSettings() Settings {
	s := o.FingerprintSettings()
	s["mode"] = string(o.Mode)
	s["reset"] = strconv.FormatBool(o.Reset)
	s["skip_unchanged"] = strconv.FormatBool(o.SkipUnchanged)
	s["prune_stale"] = strconv.FormatBool(o.PruneStale)
	s["input"] = o.InputPath
	return s
}
