package ot

import (
	"sort"

	"collabdraft-server/internal/domain"
)

// Transform adjusts the position of an incoming change to account for local
// changes already applied. Only changes authored strictly before the incoming
// one qualify; inserts at or before the running position shift it right,
// deletes strictly before it shift it left. Replace and format changes do not
// shift positions. Returns an adjusted copy, never mutating the input.
func Transform(incoming *domain.DocumentChange, prior []*domain.DocumentChange) *domain.DocumentChange {
	ordered := make([]*domain.DocumentChange, len(prior))
	copy(ordered, prior)
	sort.SliceStable(ordered, func(i, j int) bool {
		return Before(ordered[i].CreatedAt, ordered[j].CreatedAt)
	})

	pos := incoming.Position
	for _, local := range ordered {
		if !Before(local.CreatedAt, incoming.CreatedAt) {
			continue
		}
		pos = shift(pos, local)
	}

	out := *incoming
	out.Position = pos
	return &out
}

// ShiftPosition moves a standalone index (cursor, comment anchor) through one
// applied change using the same rules Transform applies to changes.
func ShiftPosition(pos int, applied *domain.DocumentChange) int {
	return shift(pos, applied)
}

func shift(pos int, ch *domain.DocumentChange) int {
	switch ch.Kind {
	case domain.ChangeInsert:
		if ch.Position <= pos {
			pos += len(ch.Content)
		}
	case domain.ChangeDelete:
		if ch.Position < pos {
			pos -= ch.Length
		}
	}
	if pos < 0 {
		pos = 0
	}
	return pos
}
