// Package planner reconciles a batch of chunk records with a collection.
//
// A run is a small state machine:
//
//	validate -> [reset] -> ensure_collection -> diff -> embed_and_write -> [prune] -> manifest -> done
//
// Any check that fails before embed_and_write ends the run in the rejected state
// with nothing written. Embedding and store errors end it in the failed state;
// batches written before the failure stay committed.
package planner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/shiori/internal/embedding"
	"github.com/hyperjump/shiori/internal/indexer"
	"github.com/hyperjump/shiori/internal/models"
	"github.com/hyperjump/shiori/internal/storage"
	"github.com/hyperjump/shiori/pkg/utils"
)

// Options configures a run. Version tags and model settings come from config.
type Options struct {
	Collection    string
	Mode          Mode
	Reset         bool
	SkipUnchanged bool
	PruneStale    bool
	DryRun        bool
	BatchSize     int

	PipelineVersion string
	StageVersion    string
	EmbedModel      string
	EmbedDim        int
	Device          string
	StoreBackend    string
	StoreLocation   string

	// ManifestPath is where the run manifest is written; empty disables it.
	ManifestPath string
	// InputPath names the batch source in the manifest.
	InputPath string
}

func (o Options) validate() error {
	if o.Collection == "" {
		return fmt.Errorf("collection name is empty")
	}
	if _, err := ParseMode(string(o.Mode)); err != nil {
		return err
	}
	if o.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive")
	}
	if o.EmbedModel == "" || o.EmbedDim <= 0 {
		return fmt.Errorf("embed model and a positive embed dimension are required")
	}
	return nil
}

// Report summarizes a run.
type Report struct {
	RunID        string        `json:"run_id"`
	Collection   string        `json:"collection"`
	Mode         Mode          `json:"mode"`
	DryRun       bool          `json:"dry_run"`
	FinalState   State         `json:"final_state"`
	SettingsHash string        `json:"settings_hash"`
	Created      bool          `json:"created"`
	Chunks       int           `json:"chunks"`
	Written      int           `json:"written"`
	Skipped      int           `json:"skipped"`
	Pruned       int           `json:"pruned"`
	Batches      int           `json:"batches"`
	ManifestPath string        `json:"manifest_path,omitempty"`
	Duration     time.Duration `json:"duration"`
}

// Planner runs syncs against one store with one embedder.
type Planner struct {
	store    storage.Store
	embedder embedding.Embedder
	opts     Options
	logger   *zap.Logger
	now      func() time.Time
}

// Option configures a Planner.
type Option func(*Planner)

// WithLogger sets the planner logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *Planner) {
		if l != nil {
			p.logger = l
		}
	}
}

// New returns a planner. The embedder's dimension must match opts.EmbedDim.
func New(store storage.Store, embedder embedding.Embedder, opts Options, options ...Option) (*Planner, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if embedder.Dimensions() != opts.EmbedDim {
		return nil, fmt.Errorf("embedder dimension %d does not match embed_dim %d", embedder.Dimensions(), opts.EmbedDim)
	}
	p := &Planner{store: store, embedder: embedder, opts: opts, logger: zap.NewNop(), now: time.Now}
	for _, o := range options {
		o(p)
	}
	return p, nil
}

// Options returns the planner's run options.
func (p *Planner) Options() Options {
	return p.opts
}

// run carries the state of one Run call between steps.
type run struct {
	opts    Options
	recs    []models.ChunkRecord
	coll    storage.Collection
	plan    *plan
	report  *Report
	started time.Time
}

type stepFunc func(ctx context.Context, r *run) (State, error)

// Run reconciles recs with the collection. A rejected run returns an error matching ErrRejected.
func (p *Planner) Run(ctx context.Context, recs []models.ChunkRecord) (*Report, error) {
	opts := p.opts
	r := &run{
		opts:    opts,
		recs:    recs,
		started: p.now(),
		report: &Report{
			RunID:        uuid.NewString(),
			Collection:   opts.Collection,
			Mode:         opts.Mode,
			DryRun:       opts.DryRun,
			SettingsHash: Fingerprint(opts.FingerprintSettings()),
			Chunks:       len(recs),
		},
	}
	p.warnIgnoredFlags(opts)

	steps := map[State]stepFunc{
		StateValidate:         p.validate,
		StateReset:            p.reset,
		StateEnsureCollection: p.ensureCollection,
		StateDiff:             p.diff,
		StateEmbedAndWrite:    p.embedAndWrite,
		StatePrune:            p.prune,
		StateManifest:         p.manifest,
	}

	state := StateValidate
	for !state.Terminal() {
		p.logger.Info("sync state",
			zap.String("state", string(state)),
			zap.String("collection", opts.Collection),
			zap.String("run_id", r.report.RunID))
		next, err := steps[state](ctx, r)
		if err != nil {
			r.report.FinalState = StateFailed
			if errors.Is(err, ErrRejected) {
				r.report.FinalState = StateRejected
				p.logger.Warn("sync rejected", zap.String("state", string(state)), zap.Error(err))
			}
			r.report.Duration = p.now().Sub(r.started)
			return r.report, err
		}
		state = next
	}
	r.report.FinalState = state
	r.report.Duration = p.now().Sub(r.started)
	p.logger.Info("sync finished",
		zap.String("collection", opts.Collection),
		zap.Int("chunks", r.report.Chunks),
		zap.Int("written", r.report.Written),
		zap.Int("skipped", r.report.Skipped),
		zap.Int("pruned", r.report.Pruned),
		zap.Bool("dry_run", opts.DryRun))
	return r.report, nil
}

func (p *Planner) warnIgnoredFlags(o Options) {
	if o.Reset && o.Mode != ModeRebuild {
		p.logger.Warn("reset only applies to rebuild mode; ignoring", zap.String("mode", string(o.Mode)))
	}
	if o.SkipUnchanged && o.Mode != ModeUpsert {
		p.logger.Debug("skip_unchanged only applies to upsert mode", zap.String("mode", string(o.Mode)))
	}
	if o.PruneStale && o.Mode != ModeUpsert {
		p.logger.Warn("prune only applies to upsert mode; ignoring", zap.String("mode", string(o.Mode)))
	}
}

func (p *Planner) validate(_ context.Context, r *run) (State, error) {
	batchErr := &indexer.BatchError{}
	if err := indexer.ValidateBatch(r.recs); err != nil && !errors.As(err, &batchErr) {
		return StateFailed, err
	}
	for i, rec := range r.recs {
		m := rec.Metadata
		if m == nil {
			continue
		}
		if m.EmbedModel != r.opts.EmbedModel {
			batchErr.Problems = append(batchErr.Problems, indexer.RowProblem{
				Row: i, ChunkID: m.ChunkID,
				Reason: fmt.Sprintf("embed_model %q does not match run model %q", m.EmbedModel, r.opts.EmbedModel),
			})
		} else if m.EmbedDim != r.opts.EmbedDim {
			batchErr.Problems = append(batchErr.Problems, indexer.RowProblem{
				Row: i, ChunkID: m.ChunkID,
				Reason: fmt.Sprintf("embed_dim %d does not match run dimension %d", m.EmbedDim, r.opts.EmbedDim),
			})
		}
	}
	if len(batchErr.Problems) > 0 || len(batchErr.Duplicates) > 0 {
		return StateRejected, &ValidationError{BatchError: batchErr}
	}
	if r.opts.Mode == ModeRebuild && r.opts.Reset && !r.opts.DryRun {
		return StateReset, nil
	}
	return StateEnsureCollection, nil
}

func (p *Planner) reset(ctx context.Context, _ *run) (State, error) {
	if err := p.store.Reset(ctx); err != nil {
		return StateFailed, fmt.Errorf("failed to reset store: %w", err)
	}
	return StateEnsureCollection, nil
}

func (p *Planner) ensureCollection(ctx context.Context, r *run) (State, error) {
	name := r.opts.Collection
	existing, err := p.store.GetCollection(ctx, name)
	if err != nil && !errors.Is(err, storage.ErrCollectionNotFound) {
		return StateFailed, fmt.Errorf("failed to get collection: %w", err)
	}

	if r.opts.Mode == ModeRebuild {
		if r.opts.DryRun {
			return StateDiff, nil
		}
		if existing != nil {
			if err := p.store.DeleteCollection(ctx, name); err != nil {
				return StateFailed, fmt.Errorf("failed to delete collection: %w", err)
			}
			p.logger.Info("deleted existing collection", zap.String("collection", name))
		}
		return p.create(ctx, r)
	}

	if existing == nil {
		if r.opts.DryRun {
			return StateDiff, nil
		}
		return p.create(ctx, r)
	}
	if err := checkFingerprint(existing, r); err != nil {
		return StateRejected, err
	}
	r.coll = existing
	return StateDiff, nil
}

func checkFingerprint(coll storage.Collection, r *run) error {
	stored := coll.Metadata()
	if stored.EmbedModel != r.opts.EmbedModel {
		return &FingerprintMismatchError{Collection: coll.Name(), Field: "embed_model", Stored: stored.EmbedModel, Current: r.opts.EmbedModel}
	}
	if stored.SettingsHash != r.report.SettingsHash {
		return &FingerprintMismatchError{Collection: coll.Name(), Field: "settings_hash", Stored: stored.SettingsHash, Current: r.report.SettingsHash}
	}
	return nil
}

func (p *Planner) create(ctx context.Context, r *run) (State, error) {
	coll, err := p.store.CreateCollection(ctx, r.opts.Collection, models.CollectionMetadata{
		EmbedModel:      r.opts.EmbedModel,
		EmbedDim:        r.opts.EmbedDim,
		SettingsHash:    r.report.SettingsHash,
		Device:          r.opts.Device,
		PipelineVersion: r.opts.PipelineVersion,
		StageVersion:    r.opts.StageVersion,
	})
	if err != nil {
		return StateFailed, fmt.Errorf("failed to create collection: %w", err)
	}
	p.logger.Info("created collection",
		zap.String("collection", r.opts.Collection),
		zap.String("settings_hash", r.report.SettingsHash))
	r.coll = coll
	r.report.Created = true
	return StateDiff, nil
}

func (p *Planner) diff(ctx context.Context, r *run) (State, error) {
	lookupBatch := min(r.opts.BatchSize, maxLookupBatch)
	pl, err := strategyFor(r.opts).diff(ctx, r.coll, r.recs, lookupBatch)
	if err != nil {
		if errors.Is(err, ErrRejected) {
			return StateRejected, err
		}
		return StateFailed, err
	}
	r.plan = pl
	r.report.Skipped = pl.skipped
	p.logger.Info("diff computed",
		zap.String("mode", string(r.opts.Mode)),
		zap.Int("writes", len(pl.writes)),
		zap.Int("skipped", pl.skipped))
	if r.opts.DryRun {
		r.report.Written = len(pl.writes)
		return p.afterWrite(r), nil
	}
	return StateEmbedAndWrite, nil
}

func (p *Planner) afterWrite(r *run) State {
	if r.opts.Mode == ModeUpsert && r.opts.PruneStale {
		return StatePrune
	}
	if r.opts.DryRun {
		return StateDone
	}
	return StateManifest
}

func (p *Planner) embedAndWrite(ctx context.Context, r *run) (State, error) {
	writes := r.plan.writes
	for start := 0; start < len(writes); start += r.opts.BatchSize {
		batch := writes[start:min(start+r.opts.BatchSize, len(writes))]
		entries, err := p.embed(ctx, batch, r.opts.EmbedDim)
		if err != nil {
			return StateFailed, err
		}
		if r.opts.Mode == ModeUpsert {
			err = storage.Upsert(ctx, r.coll, entries)
		} else {
			err = r.coll.Add(ctx, entries)
		}
		if err != nil {
			return StateFailed, fmt.Errorf("failed to write batch at %d: %w", start, err)
		}
		r.report.Written += len(entries)
		r.report.Batches++
		p.logger.Debug("wrote batch",
			zap.Int("offset", start),
			zap.Int("size", len(entries)),
			zap.Int("written", r.report.Written))
	}
	return p.afterWrite(r), nil
}

// embed turns one write batch into store entries with unit-length vectors.
func (p *Planner) embed(ctx context.Context, batch []models.ChunkRecord, dim int) ([]storage.Entry, error) {
	texts := make([]string, len(batch))
	for i, rec := range batch {
		texts[i] = rec.Text
	}
	vectors, err := p.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("failed to embed batch: %w", err)
	}
	if len(vectors) != len(batch) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(vectors), len(batch))
	}
	entries := make([]storage.Entry, len(batch))
	for i, rec := range batch {
		v := vectors[i]
		if len(v) != dim {
			return nil, fmt.Errorf("embedding for %s has dimension %d", rec.Metadata.ChunkID, len(v))
		}
		v = append([]float32(nil), v...)
		if !utils.NormalizeL2(v) {
			return nil, fmt.Errorf("embedding for %s is zero or not finite", rec.Metadata.ChunkID)
		}
		entries[i] = storage.Entry{
			ID:        rec.Metadata.ChunkID,
			Text:      rec.Text,
			Metadata:  rec.Metadata,
			Embedding: v,
		}
	}
	return entries, nil
}

// prune deletes stored chunks of the batch's documents that the batch no longer contains.
func (p *Planner) prune(ctx context.Context, r *run) (State, error) {
	next := StateManifest
	if r.opts.DryRun {
		next = StateDone
	}
	if r.coll == nil {
		return next, nil
	}
	keep := make(map[string]struct{}, len(r.recs))
	var docIDs []string
	seenDoc := make(map[string]struct{})
	for _, rec := range r.recs {
		keep[rec.Metadata.ChunkID] = struct{}{}
		if _, ok := seenDoc[rec.Metadata.DocID]; !ok {
			seenDoc[rec.Metadata.DocID] = struct{}{}
			docIDs = append(docIDs, rec.Metadata.DocID)
		}
	}
	for _, docID := range docIDs {
		stored, err := r.coll.GetWhere(ctx, models.FieldDocID, docID)
		if err != nil {
			return StateFailed, fmt.Errorf("failed to list chunks of %s: %w", docID, err)
		}
		var stale []string
		for _, id := range storage.SortedKeys(stored) {
			if _, ok := keep[id]; !ok {
				stale = append(stale, id)
			}
		}
		if len(stale) == 0 {
			continue
		}
		if !r.opts.DryRun {
			if err := r.coll.Delete(ctx, stale); err != nil {
				return StateFailed, fmt.Errorf("failed to prune chunks of %s: %w", docID, err)
			}
		}
		r.report.Pruned += len(stale)
		p.logger.Debug("pruned stale chunks", zap.String("doc_id", docID), zap.Int("count", len(stale)))
	}
	return next, nil
}

func (p *Planner) manifest(_ context.Context, r *run) (State, error) {
	if r.opts.ManifestPath == "" {
		return StateDone, nil
	}
	m := &models.Manifest{
		RunID:           r.report.RunID,
		PipelineVersion: r.opts.PipelineVersion,
		StageVersion:    r.opts.StageVersion,
		StartedAt:       r.started.UTC(),
		FinishedAt:      p.now().UTC(),
		Settings:        r.opts.ManifestSettings(),
		SettingsHash:    r.report.SettingsHash,
		Counts: models.ManifestCounts{
			Chunks:  r.report.Chunks,
			Added:   r.report.Written,
			Skipped: r.report.Skipped,
			Pruned:  r.report.Pruned,
		},
		FinalState: string(StateDone),
	}
	if err := WriteManifest(r.opts.ManifestPath, m); err != nil {
		return StateFailed, err
	}
	r.report.ManifestPath = r.opts.ManifestPath
	return StateDone, nil
}

// RemoveWhere deletes every stored chunk whose metadata field equals value,
// except the ids in keep. A missing collection removes nothing.
func (p *Planner) RemoveWhere(ctx context.Context, field, value string, keep ...string) (int, error) {
	coll, err := p.store.GetCollection(ctx, p.opts.Collection)
	if errors.Is(err, storage.ErrCollectionNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get collection: %w", err)
	}
	stored, err := coll.GetWhere(ctx, field, value)
	if err != nil {
		return 0, fmt.Errorf("failed to find chunks where %s=%s: %w", field, value, err)
	}
	for _, id := range keep {
		delete(stored, id)
	}
	if len(stored) == 0 {
		return 0, nil
	}
	if err := coll.Delete(ctx, storage.SortedKeys(stored)); err != nil {
		return 0, fmt.Errorf("failed to delete chunks: %w", err)
	}
	p.logger.Info("removed chunks", zap.String(field, value), zap.Int("count", len(stored)))
	return len(stored), nil
}

// CheckOwner rejects a single-note sync whose doc_id is already stored under
// another rel_path that live still reports as present. Chunks left by a moved
// or deleted note do not block the claim; their rel_paths are returned sorted.
func (p *Planner) CheckOwner(ctx context.Context, docID, relPath string, live func(relPath string) bool) ([]string, error) {
	coll, err := p.store.GetCollection(ctx, p.opts.Collection)
	if errors.Is(err, storage.ErrCollectionNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get collection: %w", err)
	}
	stored, err := coll.GetWhere(ctx, models.FieldDocID, docID)
	if err != nil {
		return nil, fmt.Errorf("failed to find chunks of %s: %w", docID, err)
	}
	stale := map[string]struct{}{}
	for _, id := range storage.SortedKeys(stored) {
		owner := stored[id].RelPath
		if owner == relPath {
			continue
		}
		if live(owner) {
			return nil, &DocumentOwnerError{DocID: docID, RelPath: relPath, Owner: owner}
		}
		stale[owner] = struct{}{}
	}
	return storage.SortedKeys(stale), nil
}
