package domain

import "time"

type ResolutionStrategy string

const (
	ResolutionMerge    ResolutionStrategy = "merge"
	ResolutionOverride ResolutionStrategy = "override"
	ResolutionManual   ResolutionStrategy = "manual"
)

// ConflictResolution records how a detected conflict was settled. It is an
// audit record, not a persisted entity.
type ConflictResolution struct {
	ID          string             `json:"id"`
	DocumentID  string             `json:"document_id"`
	Strategy    ResolutionStrategy `json:"strategy"`
	Conflicting []*DocumentChange  `json:"conflicting"`
	Resolved    *DocumentChange    `json:"resolved,omitempty"`
	ResolvedBy  string             `json:"resolved_by"`
	ResolvedAt  time.Time          `json:"resolved_at"`
}

// PendingConflict is a candidate change parked for manual resolution. It
// stays queued until an explicit resolution arrives, the fallback timer
// fires, or its author leaves the session.
type PendingConflict struct {
	ID          string            `json:"id"`
	Candidate   *DocumentChange   `json:"candidate"`
	Conflicting []*DocumentChange `json:"conflicting"`
	DetectedAt  time.Time         `json:"detected_at"`
}

// Manual is not a terminal strategy; a resolution request must settle the
// conflict one way or the other.
type ResolveConflictRequest struct {
	Strategy ResolutionStrategy `json:"strategy" validate:"required,oneof=merge override"`
}
