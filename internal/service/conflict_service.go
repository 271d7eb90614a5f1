package service

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"collabdraft-server/internal/channel"
	"collabdraft-server/internal/domain"
	"collabdraft-server/internal/ot"
)

// ConflictService decides whether a candidate change conflicts with recent
// history and settles detected conflicts. Manual resolutions are parked in a
// pending queue; each pending entry falls back to merge when the fallback
// timer fires so a session can never stall on an unanswered conflict.
type ConflictService struct {
	window      time.Duration
	fallback    time.Duration
	broadcaster Broadcaster

	mu      sync.Mutex
	pending map[string]*pendingEntry
}

type pendingEntry struct {
	documentID string
	conflict   *domain.PendingConflict
	timer      *time.Timer
	apply      func(*domain.DocumentChange)
}

func NewConflictService(window, fallback time.Duration, broadcaster Broadcaster) *ConflictService {
	return &ConflictService{
		window:      window,
		fallback:    fallback,
		broadcaster: broadcaster,
		pending:     make(map[string]*pendingEntry),
	}
}

// Detect returns the history entries that conflict with candidate: authored
// by a different participant, within the conflict window, where at least one
// side is destructive and the affected ranges overlap. Concurrent pure
// inserts are never flagged.
func (s *ConflictService) Detect(session *domain.CollaborativeSession, candidate *domain.DocumentChange) []*domain.DocumentChange {
	var conflicting []*domain.DocumentChange
	for _, ch := range session.RecentChanges(candidate.CreatedAt, s.window) {
		if ch.ParticipantID == candidate.ParticipantID {
			continue
		}
		if !ch.Destructive() && !candidate.Destructive() {
			continue
		}
		if ch.Overlaps(candidate) {
			conflicting = append(conflicting, ch)
		}
	}
	return conflicting
}

// Resolve settles a conflict with the given strategy. For merge and override
// the returned resolution carries the change to apply; for manual it carries
// no change and the caller is expected to queue the candidate.
func (s *ConflictService) Resolve(documentID string, candidate *domain.DocumentChange, conflicting []*domain.DocumentChange, strategy domain.ResolutionStrategy, resolvedBy string) (*domain.ConflictResolution, error) {
	res := &domain.ConflictResolution{
		ID:          uuid.New().String(),
		DocumentID:  documentID,
		Strategy:    strategy,
		Conflicting: conflicting,
		ResolvedBy:  resolvedBy,
		ResolvedAt:  time.Now(),
	}

	switch strategy {
	case domain.ResolutionMerge:
		res.Resolved = ot.Transform(candidate, conflicting)
	case domain.ResolutionOverride:
		res.Resolved = candidate
	case domain.ResolutionManual:
		// No change produced; the candidate stays queued until resolved.
	default:
		return nil, fmt.Errorf("unknown resolution strategy: %s", strategy)
	}

	return res, nil
}

// QueuePending parks a candidate awaiting manual resolution, broadcasts the
// conflict to the channel, and arms the merge fallback timer. apply is
// invoked with the resolved change once a resolution is produced.
func (s *ConflictService) QueuePending(documentID string, candidate *domain.DocumentChange, conflicting []*domain.DocumentChange, apply func(*domain.DocumentChange)) (*domain.PendingConflict, error) {
	pc := &domain.PendingConflict{
		ID:          uuid.New().String(),
		Candidate:   candidate,
		Conflicting: conflicting,
		DetectedAt:  time.Now(),
	}

	entry := &pendingEntry{
		documentID: documentID,
		conflict:   pc,
		apply:      apply,
	}

	// Arm the timer and publish the entry under the same lock: the fallback
	// runs in its own goroutine and blocks on the mutex until the entry is
	// in the map, so even a tiny fallback cannot strand the conflict.
	s.mu.Lock()
	entry.timer = time.AfterFunc(s.fallback, func() {
		if _, err := s.ResolvePending(pc.ID, domain.ResolutionMerge, "fallback"); err != nil {
			log.Printf("conflict fallback for %s failed: %v", pc.ID, err)
		}
	})
	s.pending[pc.ID] = entry
	s.mu.Unlock()

	event, err := channel.NewEvent(channel.EventConflict, documentID, &channel.ConflictPayload{
		PendingID:   pc.ID,
		Candidate:   candidate,
		Conflicting: conflicting,
	})
	if err != nil {
		return nil, err
	}
	if err := s.broadcaster.BroadcastToDocument(documentID, event, ""); err != nil {
		log.Printf("broadcast conflict for %s failed: %v", documentID, err)
	}

	return pc, nil
}

// ResolvePending settles a queued conflict. Requesting manual again is
// rejected; merge and override produce a change that is handed to the apply
// callback registered at queue time.
func (s *ConflictService) ResolvePending(pendingID string, strategy domain.ResolutionStrategy, resolvedBy string) (*domain.ConflictResolution, error) {
	if strategy == domain.ResolutionManual {
		return nil, fmt.Errorf("pending conflict %s: manual is not a terminal strategy", pendingID)
	}

	s.mu.Lock()
	entry, ok := s.pending[pendingID]
	if ok {
		delete(s.pending, pendingID)
	}
	s.mu.Unlock()

	if !ok {
		return nil, ErrPendingNotFound
	}
	entry.timer.Stop()

	res, err := s.Resolve(entry.documentID, entry.conflict.Candidate, entry.conflict.Conflicting, strategy, resolvedBy)
	if err != nil {
		return nil, err
	}

	if res.Resolved != nil && entry.apply != nil {
		entry.apply(res.Resolved)
	}

	return res, nil
}

// DiscardForParticipant drops every pending conflict authored by a departing
// participant. The candidates are discarded, not applied, and logged.
func (s *ConflictService) DiscardForParticipant(documentID, participantID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, entry := range s.pending {
		if entry.documentID != documentID || entry.conflict.Candidate.ParticipantID != participantID {
			continue
		}
		entry.timer.Stop()
		delete(s.pending, id)
		log.Printf("discarding pending conflict %s: author %s left document %s", id, participantID, documentID)
	}
}

// PendingCount reports the number of queued manual conflicts for a document.
func (s *ConflictService) PendingCount(documentID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, entry := range s.pending {
		if entry.documentID == documentID {
			n++
		}
	}
	return n
}
