package planner

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/shiori/internal/embedding"
	"github.com/hyperjump/shiori/internal/fileid"
	"github.com/hyperjump/shiori/internal/indexer"
	"github.com/hyperjump/shiori/internal/models"
	"github.com/hyperjump/shiori/internal/storage"
	"github.com/hyperjump/shiori/pkg/utils"
)

const (
	testDim   = 16
	testModel = "hash-test"
)

const journalBody = "## Intro\nFirst paragraph.\n\nSecond paragraph with [[Link]].\n\nThird paragraph.\n"

type embeddingReader interface {
	Embedding(ctx context.Context, id string) ([]float32, error)
}

// recordingEmbedder counts embed calls and can scale or fail its output.
type recordingEmbedder struct {
	*embedding.HashEmbedder
	calls int
	texts int
	scale float32
	zero  bool
	err   error
}

func newRecordingEmbedder() *recordingEmbedder {
	return &recordingEmbedder{HashEmbedder: embedding.NewHashEmbedder(testDim)}
}

func (e *recordingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.calls++
	e.texts += len(texts)
	if e.err != nil {
		return nil, e.err
	}
	out, err := e.HashEmbedder.EmbedBatch(ctx, texts)
	if err != nil || (e.scale == 0 && !e.zero) {
		return out, err
	}
	for _, v := range out {
		for i := range v {
			v[i] *= e.scale
		}
	}
	return out, nil
}

func records(t *testing.T, model, docID, body string) []models.ChunkRecord {
	t.Helper()
	doc := &models.Document{
		DocID:      docID,
		SourceHash: fileid.SourceHash([]byte(body)),
		RelPath:    docID + ".md",
		Body:       body,
	}
	recs := indexer.NewChunker(2500, indexer.Stamp{EmbedModel: model, EmbedDim: testDim, ChunkerVersion: "v0.1"}).ChunkDocument(doc)
	require.NotEmpty(t, recs)
	return recs
}

func testOptions(mode Mode) Options {
	return Options{
		Collection:      "v1_chunks",
		Mode:            mode,
		BatchSize:       2,
		PipelineVersion: "v1",
		StageVersion:    "v0.1",
		EmbedModel:      testModel,
		EmbedDim:        testDim,
		Device:          "cpu",
		StoreBackend:    "memory",
		StoreLocation:   "memory",
	}
}

func newPlanner(t *testing.T, store storage.Store, emb embedding.Embedder, opts Options) *Planner {
	t.Helper()
	p, err := New(store, emb, opts)
	require.NoError(t, err)
	return p
}

func count(t *testing.T, store storage.Store, name string) int {
	t.Helper()
	coll, err := store.GetCollection(context.Background(), name)
	require.NoError(t, err)
	n, err := coll.Count(context.Background())
	require.NoError(t, err)
	return n
}

func TestRun_idempotentUpsert(t *testing.T) {
	ctx := context.Background()
	store, err := storage.NewSQLiteStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	recs := append(records(t, testModel, "doc-a", journalBody), records(t, testModel, "doc-b", "Just a preamble note.\n")...)
	require.Len(t, recs, 4)

	opts := testOptions(ModeUpsert)
	opts.SkipUnchanged = true
	emb := newRecordingEmbedder()
	p := newPlanner(t, store, emb, opts)

	first, err := p.Run(ctx, recs)
	require.NoError(t, err)
	assert.Equal(t, StateDone, first.FinalState)
	assert.True(t, first.Created)
	assert.Equal(t, 4, first.Written)
	assert.Equal(t, 2, first.Batches)

	second, err := p.Run(ctx, recs)
	require.NoError(t, err)
	assert.Equal(t, 0, second.Written)
	assert.Equal(t, 4, second.Skipped)
	assert.False(t, second.Created)
	assert.Equal(t, 4, emb.texts, "second run must not embed anything")
	assert.Equal(t, 4, count(t, store, "v1_chunks"))
}

func TestRun_changeDetection(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	opts := testOptions(ModeUpsert)
	opts.SkipUnchanged = true
	emb := newRecordingEmbedder()
	p := newPlanner(t, store, emb, opts)

	before := records(t, testModel, "doc-a", journalBody)
	_, err := p.Run(ctx, before)
	require.NoError(t, err)

	after := records(t, testModel, "doc-a", "## Intro\nFirst paragraph.\n\nSecond paragraph, edited.\n\nThird paragraph.\n")
	require.Equal(t, before[0].Metadata.ContentHash, after[0].Metadata.ContentHash)
	require.NotEqual(t, before[1].Metadata.ContentHash, after[1].Metadata.ContentHash)

	emb.texts = 0
	report, err := p.Run(ctx, after)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Written)
	assert.Equal(t, 2, report.Skipped)
	assert.Equal(t, 1, emb.texts)

	coll, _ := store.GetCollection(ctx, "v1_chunks")
	got, err := coll.Get(ctx, []string{"doc-a::intro::1"})
	require.NoError(t, err)
	assert.Equal(t, after[1].Metadata.ContentHash, got["doc-a::intro::1"].ContentHash)
}

func TestRun_appendSafety(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	emb := newRecordingEmbedder()
	p := newPlanner(t, store, emb, testOptions(ModeAppend))
	recs := records(t, testModel, "doc-a", journalBody)

	_, err := p.Run(ctx, recs)
	require.NoError(t, err)
	embedded := emb.texts

	report, err := p.Run(ctx, recs)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRejected)
	var dup *DuplicateIDsError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, 3, dup.Count)
	assert.Equal(t, "doc-a::intro::0", dup.Sample[0])
	assert.Equal(t, StateRejected, report.FinalState)
	assert.Equal(t, 0, report.Written)
	assert.Equal(t, embedded, emb.texts, "rejected run must not embed")
	assert.Equal(t, 3, count(t, store, "v1_chunks"))
}

func TestRun_appendNewIDs(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	p := newPlanner(t, store, newRecordingEmbedder(), testOptions(ModeAppend))

	_, err := p.Run(ctx, records(t, testModel, "doc-a", journalBody))
	require.NoError(t, err)
	report, err := p.Run(ctx, records(t, testModel, "doc-b", "Another note.\n"))
	require.NoError(t, err)
	assert.Equal(t, 1, report.Written)
	assert.Equal(t, 4, count(t, store, "v1_chunks"))
}

func TestRun_fingerprintGuard(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	_, err := newPlanner(t, store, newRecordingEmbedder(), testOptions(ModeUpsert)).Run(ctx, records(t, testModel, "doc-a", journalBody))
	require.NoError(t, err)

	t.Run("different embed model", func(t *testing.T) {
		opts := testOptions(ModeUpsert)
		opts.EmbedModel = "other-model"
		emb := newRecordingEmbedder()
		report, err := newPlanner(t, store, emb, opts).Run(ctx, records(t, "other-model", "doc-a", journalBody))
		var mismatch *FingerprintMismatchError
		require.ErrorAs(t, err, &mismatch)
		assert.ErrorIs(t, err, ErrRejected)
		assert.Equal(t, "embed_model", mismatch.Field)
		assert.Equal(t, testModel, mismatch.Stored)
		assert.Equal(t, StateRejected, report.FinalState)
		assert.Zero(t, emb.calls)
	})

	t.Run("different settings", func(t *testing.T) {
		opts := testOptions(ModeAppend)
		opts.BatchSize = 8
		emb := newRecordingEmbedder()
		_, err := newPlanner(t, store, emb, opts).Run(ctx, records(t, testModel, "doc-b", "x\n"))
		var mismatch *FingerprintMismatchError
		require.ErrorAs(t, err, &mismatch)
		assert.Equal(t, "settings_hash", mismatch.Field)
		assert.Zero(t, emb.calls)
	})

	t.Run("mode is not part of the fingerprint", func(t *testing.T) {
		_, err := newPlanner(t, store, newRecordingEmbedder(), testOptions(ModeAppend)).Run(ctx, records(t, testModel, "doc-c", "x\n"))
		require.NoError(t, err)
	})
}

func TestRun_rebuild(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()

	old := testOptions(ModeUpsert)
	old.Device = "cuda"
	_, err := newPlanner(t, store, newRecordingEmbedder(), old).Run(ctx, records(t, testModel, "doc-a", journalBody))
	require.NoError(t, err)
	_, err = store.CreateCollection(ctx, "unrelated", models.CollectionMetadata{EmbedModel: "x", EmbedDim: 1})
	require.NoError(t, err)

	report, err := newPlanner(t, store, newRecordingEmbedder(), testOptions(ModeRebuild)).Run(ctx, records(t, testModel, "doc-b", "Only note.\n"))
	require.NoError(t, err)
	assert.True(t, report.Created)
	assert.Equal(t, 1, count(t, store, "v1_chunks"))
	coll, _ := store.GetCollection(ctx, "v1_chunks")
	assert.Equal(t, report.SettingsHash, coll.Metadata().SettingsHash)
	assert.Equal(t, "cpu", coll.Metadata().Device)

	ok, err := storage.Exists(ctx, store, "unrelated")
	require.NoError(t, err)
	assert.True(t, ok, "rebuild without reset keeps other collections")

	reset := testOptions(ModeRebuild)
	reset.Reset = true
	_, err = newPlanner(t, store, newRecordingEmbedder(), reset).Run(ctx, records(t, testModel, "doc-b", "Only note.\n"))
	require.NoError(t, err)
	ok, _ = storage.Exists(ctx, store, "unrelated")
	assert.False(t, ok, "reset drops every collection")
	assert.Equal(t, 1, count(t, store, "v1_chunks"))
}

func TestRun_resetIgnoredOutsideRebuild(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	_, err := store.CreateCollection(ctx, "unrelated", models.CollectionMetadata{EmbedModel: "x", EmbedDim: 1})
	require.NoError(t, err)

	opts := testOptions(ModeUpsert)
	opts.Reset = true
	_, err = newPlanner(t, store, newRecordingEmbedder(), opts).Run(ctx, records(t, testModel, "doc-a", journalBody))
	require.NoError(t, err)
	ok, _ := storage.Exists(ctx, store, "unrelated")
	assert.True(t, ok)
}

func TestRun_validation(t *testing.T) {
	ctx := context.Background()

	t.Run("duplicate chunk ids", func(t *testing.T) {
		store := storage.NewMemoryStore()
		emb := newRecordingEmbedder()
		recs := records(t, testModel, "doc-a", journalBody)
		recs = append(recs, recs[0])
		report, err := newPlanner(t, store, emb, testOptions(ModeUpsert)).Run(ctx, recs)
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		assert.ErrorIs(t, err, ErrRejected)
		assert.Equal(t, []string{"doc-a::intro::0"}, verr.Duplicates)
		assert.Equal(t, StateRejected, report.FinalState)
		assert.Zero(t, emb.calls)
		ok, _ := storage.Exists(ctx, store, "v1_chunks")
		assert.False(t, ok, "nothing is created for a rejected batch")
	})

	t.Run("missing field", func(t *testing.T) {
		recs := records(t, testModel, "doc-a", journalBody)
		recs[1].Metadata.RelPath = ""
		_, err := newPlanner(t, storage.NewMemoryStore(), newRecordingEmbedder(), testOptions(ModeRebuild)).Run(ctx, recs)
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		require.Len(t, verr.Problems, 1)
		assert.Equal(t, 1, verr.Problems[0].Row)
		var batchErr *indexer.BatchError
		assert.ErrorAs(t, err, &batchErr)
	})

	t.Run("records stamped for another model", func(t *testing.T) {
		_, err := newPlanner(t, storage.NewMemoryStore(), newRecordingEmbedder(), testOptions(ModeUpsert)).
			Run(ctx, records(t, "another-model", "doc-a", journalBody))
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Len(t, verr.Problems, 3)
		assert.Contains(t, verr.Error(), "embed_model")
	})
}

func TestRun_upsertFallbackOnMemoryStore(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	p := newPlanner(t, store, newRecordingEmbedder(), testOptions(ModeUpsert))
	recs := records(t, testModel, "doc-a", journalBody)

	coll, err := store.CreateCollection(ctx, "scratch", models.CollectionMetadata{})
	require.NoError(t, err)
	require.False(t, storage.SupportsUpsert(coll))

	for i := 0; i < 2; i++ {
		report, err := p.Run(ctx, recs)
		require.NoError(t, err)
		assert.Equal(t, 3, report.Written)
	}
	assert.Equal(t, 3, count(t, store, "v1_chunks"))
}

func TestRun_pruneStale(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	opts := testOptions(ModeUpsert)
	opts.SkipUnchanged = true
	opts.PruneStale = true
	p := newPlanner(t, store, newRecordingEmbedder(), opts)

	_, err := p.Run(ctx, append(records(t, testModel, "doc-a", journalBody), records(t, testModel, "doc-b", "Other.\n")...))
	require.NoError(t, err)

	report, err := p.Run(ctx, records(t, testModel, "doc-a", "## Intro\nFirst paragraph.\n\nSecond paragraph with [[Link]].\n"))
	require.NoError(t, err)
	assert.Equal(t, 1, report.Pruned)
	assert.Equal(t, 0, report.Written)

	coll, _ := store.GetCollection(ctx, "v1_chunks")
	got, err := coll.Get(ctx, []string{"doc-a::intro::2", "doc-b::preamble::0"})
	require.NoError(t, err)
	assert.NotContains(t, got, "doc-a::intro::2")
	assert.Contains(t, got, "doc-b::preamble::0", "documents outside the batch are untouched")
}

func TestRun_dryRun(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	emb := newRecordingEmbedder()
	opts := testOptions(ModeUpsert)
	opts.DryRun = true
	opts.ManifestPath = filepath.Join(t.TempDir(), "run_manifest.json")

	report, err := newPlanner(t, store, emb, opts).Run(ctx, records(t, testModel, "doc-a", journalBody))
	require.NoError(t, err)
	assert.True(t, report.DryRun)
	assert.Equal(t, 3, report.Written)
	assert.Zero(t, emb.calls)
	assert.Empty(t, report.ManifestPath)
	ok, _ := storage.Exists(ctx, store, "v1_chunks")
	assert.False(t, ok)
	assert.NoFileExists(t, opts.ManifestPath)

	// against an existing collection the diff is computed read-only
	live := opts
	live.DryRun = false
	live.SkipUnchanged = true
	_, err = newPlanner(t, store, emb, live).Run(ctx, records(t, testModel, "doc-a", journalBody))
	require.NoError(t, err)
	calls := emb.calls

	opts.SkipUnchanged = true
	report, err = newPlanner(t, store, emb, opts).Run(ctx, records(t, testModel, "doc-a", "## Intro\nFirst paragraph.\n"))
	require.NoError(t, err)
	assert.Equal(t, 0, report.Written)
	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, calls, emb.calls)
}

func TestRun_manifest(t *testing.T) {
	ctx := context.Background()
	opts := testOptions(ModeUpsert)
	opts.ManifestPath = filepath.Join(t.TempDir(), "store", "run_manifest.json")
	opts.InputPath = "stage_2_chunks.jsonl"

	report, err := newPlanner(t, storage.NewMemoryStore(), newRecordingEmbedder(), opts).Run(ctx, records(t, testModel, "doc-a", journalBody))
	require.NoError(t, err)
	assert.Equal(t, opts.ManifestPath, report.ManifestPath)

	m, err := ReadManifest(opts.ManifestPath)
	require.NoError(t, err)
	assert.Equal(t, report.RunID, m.RunID)
	assert.Equal(t, report.SettingsHash, m.SettingsHash)
	assert.Equal(t, models.ManifestCounts{Chunks: 3, Added: 3}, m.Counts)
	assert.Equal(t, "upsert", m.Settings["mode"])
	assert.Equal(t, "stage_2_chunks.jsonl", m.Settings["input"])
	assert.Equal(t, string(StateDone), m.FinalState)
	assert.False(t, m.FinishedAt.Before(m.StartedAt))
}

func TestRun_normalizesVectors(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	emb := newRecordingEmbedder()
	emb.scale = 7
	_, err := newPlanner(t, store, emb, testOptions(ModeRebuild)).Run(ctx, records(t, testModel, "doc-a", journalBody))
	require.NoError(t, err)

	coll, _ := store.GetCollection(ctx, "v1_chunks")
	vec, err := coll.(embeddingReader).Embedding(ctx, "doc-a::intro::0")
	require.NoError(t, err)
	assert.InDelta(t, 1.0, utils.L2Norm(vec), 1e-5)
}

func TestRun_zeroVectorFails(t *testing.T) {
	emb := newRecordingEmbedder()
	emb.zero = true
	report, err := newPlanner(t, storage.NewMemoryStore(), emb, testOptions(ModeUpsert)).Run(context.Background(), records(t, testModel, "doc-a", journalBody))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "zero or not finite")
	assert.Equal(t, StateFailed, report.FinalState)
}

func TestRun_embedFailureHalts(t *testing.T) {
	ctx := context.Background()
	emb := newRecordingEmbedder()
	emb.err = errors.New("model unavailable")
	report, err := newPlanner(t, storage.NewMemoryStore(), emb, testOptions(ModeUpsert)).Run(ctx, records(t, testModel, "doc-a", journalBody))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrRejected)
	assert.Equal(t, StateFailed, report.FinalState)
	assert.Equal(t, 1, emb.calls, "no retry after a failed batch")
}

func TestRun_emptyBatch(t *testing.T) {
	report, err := newPlanner(t, storage.NewMemoryStore(), newRecordingEmbedder(), testOptions(ModeUpsert)).Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, StateDone, report.FinalState)
	assert.Zero(t, report.Written)
}

func TestRemoveWhere(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	p := newPlanner(t, store, newRecordingEmbedder(), testOptions(ModeUpsert))

	n, err := p.RemoveWhere(ctx, models.FieldRelPath, "doc-a.md")
	require.NoError(t, err)
	assert.Zero(t, n, "missing collection removes nothing")

	_, err = p.Run(ctx, append(records(t, testModel, "doc-a", journalBody), records(t, testModel, "doc-b", "Other.\n")...))
	require.NoError(t, err)
	n, err = p.RemoveWhere(ctx, models.FieldRelPath, "doc-a.md", "doc-a::intro::0")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, count(t, store, "v1_chunks"))

	n, err = p.RemoveWhere(ctx, models.FieldRelPath, "doc-a.md")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, count(t, store, "v1_chunks"))
}

func TestCheckOwner(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	p := newPlanner(t, store, newRecordingEmbedder(), testOptions(ModeUpsert))
	present := func(string) bool { return true }

	stale, err := p.CheckOwner(ctx, "doc-a", "copy.md", present)
	require.NoError(t, err, "missing collection has no owners")
	assert.Empty(t, stale)

	_, err = p.Run(ctx, records(t, testModel, "doc-a", journalBody))
	require.NoError(t, err)

	_, err = p.CheckOwner(ctx, "doc-a", "copy.md", present)
	require.ErrorIs(t, err, ErrRejected)
	var owner *DocumentOwnerError
	require.ErrorAs(t, err, &owner)
	assert.Equal(t, "doc-a.md", owner.Owner)

	stale, err = p.CheckOwner(ctx, "doc-a", "doc-a.md", present)
	require.NoError(t, err)
	assert.Empty(t, stale)

	stale, err = p.CheckOwner(ctx, "doc-a", "moved.md", func(string) bool { return false })
	require.NoError(t, err)
	assert.Equal(t, []string{"doc-a.md"}, stale)

	stale, err = p.CheckOwner(ctx, "doc-b", "copy.md", present)
	require.NoError(t, err)
	assert.Empty(t, stale)
}

func TestNew_validation(t *testing.T) {
	store := storage.NewMemoryStore()
	_, err := New(store, embedding.NewHashEmbedder(8), testOptions(ModeUpsert))
	assert.Error(t, err, "embedder dimension must match")

	opts := testOptions("merge")
	_, err = New(store, newRecordingEmbedder(), opts)
	assert.Error(t, err)

	opts = testOptions(ModeUpsert)
	opts.Collection = ""
	_, err = New(store, newRecordingEmbedder(), opts)
	assert.Error(t, err)
}

func TestFingerprint(t *testing.T) {
	opts := testOptions(ModeUpsert)
	fp := Fingerprint(opts.FingerprintSettings())
	assert.Len(t, fp, 16)
	assert.Equal(t, fp, Fingerprint(opts.FingerprintSettings()))

	other := opts
	other.Mode = ModeRebuild
	other.InputPath = "elsewhere.jsonl"
	assert.Equal(t, fp, Fingerprint(other.FingerprintSettings()))

	other = opts
	other.EmbedModel = "m2"
	assert.NotEqual(t, fp, Fingerprint(other.FingerprintSettings()))

	assert.Equal(t, "upsert", opts.ManifestSettings()["mode"])
	assert.NotContains(t, opts.FingerprintSettings(), "mode")
}

func TestParseMode(t *testing.T) {
	for _, s := range []string{"rebuild", "append", "upsert"} {
		m, err := ParseMode(s)
		require.NoError(t, err)
		assert.Equal(t, Mode(s), m)
	}
	_, err := ParseMode("replace")
	assert.Error(t, err)
}
