package domain

import "time"

// Checkpoint is the persisted read position of a tailed source file.
type Checkpoint struct {
	// Path is the source file the offset refers to.
	Path string `json:"path"`

	// Offset is the byte offset of the first unread line.
	Offset int64 `json:"offset"`

	// Lines is the number of lines read from Path so far.
	Lines uint64 `json:"lines"`

	// UpdatedAt is when the checkpoint was last advanced.
	UpdatedAt time.Time `json:"updated_at"`
}

// IsZero reports whether no position has been recorded.
func (c Checkpoint) IsZero() bool {
	return c.Path == "" && c.Offset == 0
}

// For returns the checkpoint if it refers to path, or a fresh one
// starting at the beginning of path otherwise.
func (c Checkpoint) For(path string) Checkpoint {
	if c.Path != path {
		return Checkpoint{Path: path}
	}
	return c
}
