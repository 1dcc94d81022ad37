package model

import (
	"time"

	"github.com/cronxco/tapestry/pkg/domain/types"
)

// Block is a sub-measurement attached to an event: one sleep stage, one
// contributor score, one exercise set, one extracted task.
type Block struct {
	ID      types.BlockID
	EventID types.EventID
	UserID  types.UserID

	BlockType       string
	Title           string
	Value           *int64
	ValueMultiplier *int64
	ValueUnit       string
	Metadata        map[string]any
	Time            time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt *time.Time
}

// BlockDraft carries the fields of a block to create under an event.
// Reconciliation identity within one event is (BlockType, Title).
type BlockDraft struct {
	BlockType       string
	Title           string
	Value           *int64
	ValueMultiplier *int64
	ValueUnit       string
	Metadata        map[string]any
	Time            time.Time
}

// ReconcileKey returns the identity under which a block is matched during
// reconciliation
func (d *BlockDraft) ReconcileKey() string {
	return d.BlockType + "\x00" + d.Title
}

// ReconcileKey returns the identity under which the block is matched during
// reconciliation
func (b *Block) ReconcileKey() string {
	return b.BlockType + "\x00" + b.Title
}

// MarkRemoved soft-removes the block, recording the removal marker in
// metadata so downstream consumers can distinguish "gone from source" from
// user deletion
func (b *Block) MarkRemoved(now time.Time) {
	if b.Metadata == nil {
		b.Metadata = map[string]any{}
	}
	b.Metadata["removed"] = true
	b.Metadata["removed_at"] = now.UTC().Format(time.RFC3339)
	b.DeletedAt = &now
	b.UpdatedAt = now
}

// Removed reports whether the block carries a removal marker
func (b *Block) Removed() bool {
	if b.Metadata == nil {
		return false
	}
	removed, ok := b.Metadata["removed"].(bool)
	return ok && removed
}
