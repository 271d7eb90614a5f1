package ot

import "collabdraft-server/internal/domain"

// Apply splices a change into content. Out-of-range positions and lengths
// clamp to the current content bounds instead of failing; every participant
// must clamp identically or replicas diverge, so this behavior is
// authoritative.
func Apply(content string, ch *domain.DocumentChange) string {
	pos := clamp(ch.Position, 0, len(content))

	switch ch.Kind {
	case domain.ChangeInsert:
		return content[:pos] + ch.Content + content[pos:]

	case domain.ChangeDelete:
		end := clamp(pos+ch.Length, pos, len(content))
		return content[:pos] + content[end:]

	case domain.ChangeReplace:
		end := clamp(pos+ch.Length, pos, len(content))
		return content[:pos] + ch.Content + content[end:]

	case domain.ChangeFormat:
		// Attribute-only change; recorded in history for ordering but the
		// text is untouched.
		return content

	default:
		return content
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
