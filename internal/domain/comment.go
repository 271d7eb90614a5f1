package domain

import "time"

// CollaborativeComment is a position-anchored comment thread. Replies are a
// single level deep; Reactions maps a symbol to the participants who used it.
type CollaborativeComment struct {
	ID         string                  `json:"id"`
	DocumentID string                  `json:"document_id"`
	AuthorID   string                  `json:"author_id"`
	AuthorName string                  `json:"author_name"`
	Body       string                  `json:"body"`
	Anchor     *int                    `json:"anchor,omitempty"`
	AnchorSel  *Selection              `json:"anchor_selection,omitempty"`
	Resolved   bool                    `json:"resolved"`
	Replies    []*CollaborativeComment `json:"replies,omitempty"`
	Reactions  map[string][]string     `json:"reactions,omitempty"`
	CreatedAt  time.Time               `json:"created_at"`
	UpdatedAt  time.Time               `json:"updated_at"`
}

// Clone returns a deep copy of the thread safe to encode outside the
// comment mutex.
func (c *CollaborativeComment) Clone() *CollaborativeComment {
	out := *c
	if c.Anchor != nil {
		anchor := *c.Anchor
		out.Anchor = &anchor
	}
	if c.AnchorSel != nil {
		sel := *c.AnchorSel
		out.AnchorSel = &sel
	}
	if c.Replies != nil {
		out.Replies = make([]*CollaborativeComment, len(c.Replies))
		for i, r := range c.Replies {
			out.Replies[i] = r.Clone()
		}
	}
	if c.Reactions != nil {
		out.Reactions = make(map[string][]string, len(c.Reactions))
		for symbol, ids := range c.Reactions {
			out.Reactions[symbol] = append([]string(nil), ids...)
		}
	}
	return &out
}

type CommentAction string

const (
	CommentAdd     CommentAction = "add"
	CommentReply   CommentAction = "reply"
	CommentReact   CommentAction = "react"
	CommentResolve CommentAction = "resolve"
)

type AddCommentRequest struct {
	Body      string     `json:"body" validate:"required"`
	Anchor    *int       `json:"anchor,omitempty"`
	AnchorSel *Selection `json:"anchor_selection,omitempty"`
}

type ReplyCommentRequest struct {
	Body string `json:"body" validate:"required"`
}

type ReactCommentRequest struct {
	Symbol string `json:"symbol" validate:"required"`
}
