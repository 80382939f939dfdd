// Package score holds the server-side authoritative match score.
package score

import "sync"

// Snapshot is an immutable copy of the score state.
type Snapshot struct {
	AI1   int `json:"ai1"`
	AI2   int `json:"ai2"`
	Match int `json:"match"`
}

// Update describes a partial score change; nil fields are left untouched.
type Update struct {
	AI1   *int
	AI2   *int
	Match *int
}

// Board is the shared score state. Mutations go through Apply only.
type Board struct {
	mu    sync.Mutex
	ai1   int
	ai2   int
	match int
}

// NewBoard creates a board at 0-0 in match 1.
func NewBoard() *Board {
	return &Board{match: 1}
}

// Snapshot returns the current score.
func (b *Board) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Snapshot{AI1: b.ai1, AI2: b.ai2, Match: b.match}
}

// Apply updates the provided fields and returns the resulting state.
func (b *Board) Apply(u Update) Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	if u.AI1 != nil {
		b.ai1 = *u.AI1
	}
	if u.AI2 != nil {
		b.ai2 = *u.AI2
	}
	if u.Match != nil {
		b.match = *u.Match
	}
	return Snapshot{AI1: b.ai1, AI2: b.ai2, Match: b.match}
}
