package planner

import "fmt"

// State is a step of a sync run.
type State string

const (
	StateValidate         State = "validate"
	StateReset            State = "reset"
	StateEnsureCollection State = "ensure_collection"
	StateDiff             State = "diff"
	StateEmbedAndWrite    State = "embed_and_write"
	StatePrune            State = "prune"
	StateManifest         State = "manifest"
	StateDone             State = "done"
	StateRejected         State = "rejected"
	StateFailed           State = "failed"
)

// Terminal reports whether no further step follows s.
func (s State) Terminal() bool {
	return s == StateDone || s == StateRejected || s == StateFailed
}

// Mode selects how a batch is reconciled with the collection.
type Mode string

const (
	// ModeRebuild drops and recreates the collection, then writes every chunk.
	ModeRebuild Mode = "rebuild"
	// ModeAppend writes every chunk and rejects the run if any id already exists.
	ModeAppend Mode = "append"
	// ModeUpsert writes every chunk, replacing existing ids.
	ModeUpsert Mode = "upsert"
)

// ParseMode validates a mode name.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case ModeRebuild, ModeAppend, ModeUpsert:
		return m, nil
	default:
		return "", fmt.Errorf("unknown sync mode %q (supported: rebuild, append, upsert)", s)
	}
}
