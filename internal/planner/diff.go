package planner

import (
	"context"
	"fmt"

	"github.com/hyperjump/shiori/internal/models"
	"github.com/hyperjump/shiori/internal/storage"
)

// maxLookupBatch caps the ids sent in one existence lookup.
const maxLookupBatch = 256

// plan is the outcome of the diff step.
type plan struct {
	writes  []models.ChunkRecord
	skipped int
}

// diffStrategy decides which records of a validated batch are written.
// coll is nil when the collection does not exist yet (dry runs only).
type diffStrategy interface {
	diff(ctx context.Context, coll storage.Collection, recs []models.ChunkRecord, lookupBatch int) (*plan, error)
}

func strategyFor(o Options) diffStrategy {
	switch o.Mode {
	case ModeAppend:
		return appendStrategy{}
	case ModeUpsert:
		return upsertStrategy{skipUnchanged: o.SkipUnchanged}
	default:
		return rebuildStrategy{}
	}
}

type rebuildStrategy struct{}

func (rebuildStrategy) diff(_ context.Context, _ storage.Collection, recs []models.ChunkRecord, _ int) (*plan, error) {
	return &plan{writes: recs}, nil
}

type appendStrategy struct{}

func (appendStrategy) diff(ctx context.Context, coll storage.Collection, recs []models.ChunkRecord, lookupBatch int) (*plan, error) {
	if coll == nil {
		return &plan{writes: recs}, nil
	}
	existing, err := lookup(ctx, coll, recs, lookupBatch)
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		var dups []string
		for _, rec := range recs {
			if _, ok := existing[rec.Metadata.ChunkID]; ok {
				dups = append(dups, rec.Metadata.ChunkID)
			}
		}
		return nil, newDuplicateIDsError(dups)
	}
	return &plan{writes: recs}, nil
}

type upsertStrategy struct {
	skipUnchanged bool
}

func (s upsertStrategy) diff(ctx context.Context, coll storage.Collection, recs []models.ChunkRecord, lookupBatch int) (*plan, error) {
	if !s.skipUnchanged || coll == nil {
		return &plan{writes: recs}, nil
	}
	existing, err := lookup(ctx, coll, recs, lookupBatch)
	if err != nil {
		return nil, err
	}
	p := &plan{writes: make([]models.ChunkRecord, 0, len(recs))}
	for _, rec := range recs {
		if stored, ok := existing[rec.Metadata.ChunkID]; ok && stored.ContentHash == rec.Metadata.ContentHash {
			p.skipped++
			continue
		}
		p.writes = append(p.writes, rec)
	}
	return p, nil
}

// lookup fetches stored metadata for the batch ids in slices of lookupBatch.
func lookup(ctx context.Context, coll storage.Collection, recs []models.ChunkRecord, lookupBatch int) (map[string]*models.Metadata, error) {
	out := make(map[string]*models.Metadata)
	for start := 0; start < len(recs); start += lookupBatch {
		end := min(start+lookupBatch, len(recs))
		ids := make([]string, 0, end-start)
		for _, rec := range recs[start:end] {
			ids = append(ids, rec.Metadata.ChunkID)
		}
		found, err := coll.Get(ctx, ids)
		if err != nil {
			return nil, fmt.Errorf("failed to look up existing ids: %w", err)
		}
		for id, m := range found {
			out[id] = m
		}
	}
	return out, nil
}
