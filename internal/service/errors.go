package service

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionNotFound signals an operation against a document with no
	// active session.
	ErrSessionNotFound = errors.New("session not found")

	// ErrParticipantStateMissing signals an event referencing a participant
	// with no editor state in the session. Callers no-op rather than tear
	// down the session over one bad event.
	ErrParticipantStateMissing = errors.New("participant state missing")

	ErrPermissionDenied  = errors.New("permission denied")
	ErrPendingNotFound   = errors.New("pending conflict not found")
	ErrCommentNotFound   = errors.New("comment not found")
	ErrSessionClosing    = errors.New("session is closing")
)

// LockHeldError is returned when an edit or acquisition runs into a live
// lock owned by another participant. It carries the holder's display name
// for user-facing messaging.
type LockHeldError struct {
	HolderID   string
	HolderName string
}

func (e *LockHeldError) Error() string {
	return fmt.Sprintf("section is being edited by %s", e.HolderName)
}
