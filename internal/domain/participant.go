package domain

import "time"

type ActivityStatus string

const (
	StatusActive ActivityStatus = "active"
	StatusIdle   ActivityStatus = "idle"
	StatusAway   ActivityStatus = "away"
)

type Selection struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

type Participant struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	Email      string         `json:"email,omitempty"`
	Color      string         `json:"color"`
	Cursor     *int           `json:"cursor,omitempty"`
	Selection  *Selection     `json:"selection,omitempty"`
	Status     ActivityStatus `json:"status"`
	LastActive time.Time      `json:"last_active"`
	CanEdit    bool           `json:"can_edit"`
	CanComment bool           `json:"can_comment"`
	CanDelete  bool           `json:"can_delete"`
}

// Clone returns a deep copy safe to encode outside the session mutex.
func (p *Participant) Clone() *Participant {
	c := *p
	if p.Cursor != nil {
		cur := *p.Cursor
		c.Cursor = &cur
	}
	if p.Selection != nil {
		sel := *p.Selection
		c.Selection = &sel
	}
	return &c
}

// EditorState is one participant's materialized view of the document. Only
// the session coordinator mutates it.
type EditorState struct {
	Content     string     `json:"content"`
	Caret       int        `json:"caret"`
	Selection   *Selection `json:"selection,omitempty"`
	Dirty       bool       `json:"dirty"`
	LastSavedAt time.Time  `json:"last_saved_at"`
}

type JoinRequest struct {
	DocumentID   string       `json:"document_id" validate:"required"`
	DocumentKind DocumentKind `json:"document_kind" validate:"required,oneof=content template campaign"`
	Name         string       `json:"name" validate:"required"`
	Email        string       `json:"email"`
	Content      string       `json:"content"`
}

type CursorUpdate struct {
	Position int `json:"position" validate:"gte=0"`
}

type SelectionUpdate struct {
	Start int `json:"start" validate:"gte=0"`
	End   int `json:"end" validate:"gtefield=Start"`
}
