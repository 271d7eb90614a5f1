package domain

import "time"

type LockKind string

const (
	LockEdit   LockKind = "edit"
	LockDelete LockKind = "delete"
	LockFormat LockKind = "format"
)

// DocumentLock is a time-bounded exclusive claim over a half-open character
// range [StartIndex, EndIndex). No two live locks held by different
// participants may overlap.
type DocumentLock struct {
	ID            string    `json:"id"`
	DocumentID    string    `json:"document_id"`
	ParticipantID string    `json:"participant_id"`
	Section       string    `json:"section,omitempty"`
	StartIndex    int       `json:"start_index"`
	EndIndex      int       `json:"end_index"`
	Kind          LockKind  `json:"kind"`
	AcquiredAt    time.Time `json:"acquired_at"`
	ExpiresAt     time.Time `json:"expires_at"`
}

// Clone returns a copy safe to encode outside the session mutex (the lease
// expiry is mutated in place on renewal).
func (l *DocumentLock) Clone() *DocumentLock {
	c := *l
	return &c
}

// Expired reports whether the lease has lapsed at time now.
func (l *DocumentLock) Expired(now time.Time) bool {
	return !now.Before(l.ExpiresAt)
}

// Intersects tests the half-open range [start, end) against the lock's range.
func (l *DocumentLock) Intersects(start, end int) bool {
	return l.StartIndex < end && start < l.EndIndex
}

// Covers reports whether the lock's range contains [start, end).
func (l *DocumentLock) Covers(start, end int) bool {
	return l.StartIndex <= start && end <= l.EndIndex
}

type AcquireLockRequest struct {
	StartIndex int      `json:"start_index" validate:"gte=0"`
	EndIndex   int      `json:"end_index" validate:"gtfield=StartIndex"`
	Kind       LockKind `json:"kind" validate:"required,oneof=edit delete format"`
	Section    string   `json:"section"`
}
