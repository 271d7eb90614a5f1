package domain

import "time"

type ChangeKind string

const (
	ChangeInsert  ChangeKind = "insert"
	ChangeDelete  ChangeKind = "delete"
	ChangeReplace ChangeKind = "replace"
	ChangeFormat  ChangeKind = "format"
)

// DocumentChange is the atomic edit operation. Immutable once created; the
// OT engine returns adjusted copies rather than mutating in place.
type DocumentChange struct {
	ID              string     `json:"id"`
	DocumentID      string     `json:"document_id"`
	ParticipantID   string     `json:"participant_id"`
	ParticipantName string     `json:"participant_name"`
	Kind            ChangeKind `json:"kind"`
	Position        int        `json:"position"`
	Content         string     `json:"content,omitempty"`
	PreviousContent string     `json:"previous_content,omitempty"`
	Length          int        `json:"length,omitempty"`
	Version         int64      `json:"version"`
	CreatedAt       time.Time  `json:"created_at"`
}

// Span returns the half-open character range [start, end) the change affects.
// Inserts touch a single point, so their span is empty at Position.
func (c *DocumentChange) Span() (start, end int) {
	switch c.Kind {
	case ChangeDelete, ChangeReplace:
		return c.Position, c.Position + c.Length
	default:
		return c.Position, c.Position
	}
}

// Overlaps reports whether two changes touch intersecting character ranges.
// A zero-width span only overlaps a range that strictly contains its point.
func (c *DocumentChange) Overlaps(other *DocumentChange) bool {
	aStart, aEnd := c.Span()
	bStart, bEnd := other.Span()
	if aStart == aEnd {
		return bStart <= aStart && aStart < bEnd
	}
	if bStart == bEnd {
		return aStart <= bStart && bStart < aEnd
	}
	return aStart < bEnd && bStart < aEnd
}

// Destructive reports whether the change removes existing text.
func (c *DocumentChange) Destructive() bool {
	return c.Kind == ChangeDelete || c.Kind == ChangeReplace
}

type SubmitChangeRequest struct {
	Kind     ChangeKind `json:"kind" validate:"required,oneof=insert delete replace format"`
	Position int        `json:"position" validate:"gte=0"`
	Content  string     `json:"content"`
	Length   int        `json:"length" validate:"gte=0"`
}
