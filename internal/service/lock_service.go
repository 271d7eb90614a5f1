package service

import (
	"time"

	"github.com/google/uuid"

	"collabdraft-server/internal/domain"
)

// LockService manages exclusive editing leases over character ranges. It
// mutates session lock state only; the coordinator holds the session mutex
// and broadcasts the resulting lock events.
type LockService struct {
	lease time.Duration
}

func NewLockService(lease time.Duration) *LockService {
	return &LockService{lease: lease}
}

// Acquire grants a lease over [startIndex, endIndex) or returns nil when a
// live lock held by another participant intersects the range. Re-acquisition
// by the current holder over the same or a sub-range renews the existing
// lease instead of stacking a second lock.
func (s *LockService) Acquire(session *domain.CollaborativeSession, participantID string, req *domain.AcquireLockRequest) *domain.DocumentLock {
	now := time.Now()

	var own []*domain.DocumentLock
	for _, lock := range session.Locks {
		if lock.Expired(now) || !lock.Intersects(req.StartIndex, req.EndIndex) {
			continue
		}
		if lock.ParticipantID != participantID {
			return nil
		}
		own = append(own, lock)
	}

	for _, lock := range own {
		if lock.Covers(req.StartIndex, req.EndIndex) {
			lock.ExpiresAt = now.Add(s.lease)
			return lock
		}
	}
	// Holder widening past what they hold: still exclusive against others,
	// so the old leases are replaced by the new one.
	for _, lock := range own {
		delete(session.Locks, lock.ID)
	}

	lock := &domain.DocumentLock{
		ID:            uuid.New().String(),
		DocumentID:    session.DocumentID,
		ParticipantID: participantID,
		Section:       req.Section,
		StartIndex:    req.StartIndex,
		EndIndex:      req.EndIndex,
		Kind:          req.Kind,
		AcquiredAt:    now,
		ExpiresAt:     now.Add(s.lease),
	}
	session.Locks[lock.ID] = lock

	return lock
}

// Release removes a lock by id. Releasing an unknown or already-expired lock
// is a no-op; contention and double-release are expected outcomes, not
// failures.
func (s *LockService) Release(session *domain.CollaborativeSession, lockID string) bool {
	if _, ok := session.Locks[lockID]; !ok {
		return false
	}
	delete(session.Locks, lockID)
	return true
}

// ReleaseAllFor drops every lock owned by a departing participant and
// returns the released locks.
func (s *LockService) ReleaseAllFor(session *domain.CollaborativeSession, participantID string) []*domain.DocumentLock {
	var released []*domain.DocumentLock
	for id, lock := range session.Locks {
		if lock.ParticipantID == participantID {
			released = append(released, lock)
			delete(session.Locks, id)
		}
	}
	return released
}

// Sweep removes lapsed leases and returns them so the coordinator can
// broadcast the releases.
func (s *LockService) Sweep(session *domain.CollaborativeSession) []*domain.DocumentLock {
	now := time.Now()
	var expired []*domain.DocumentLock
	for id, lock := range session.Locks {
		if lock.Expired(now) {
			expired = append(expired, lock)
			delete(session.Locks, id)
		}
	}
	return expired
}

// Blocking returns the live lock held by another participant that intersects
// [start, end), or nil.
func (s *LockService) Blocking(session *domain.CollaborativeSession, participantID string, start, end int) *domain.DocumentLock {
	now := time.Now()
	for _, lock := range session.Locks {
		if lock.Expired(now) {
			continue
		}
		if lock.ParticipantID != participantID && lock.Intersects(start, end) {
			return lock
		}
	}
	return nil
}

// Live returns copies of the non-expired locks for a session. Copies because
// callers encode them after the session mutex is released, while renewals
// keep mutating the originals.
func (s *LockService) Live(session *domain.CollaborativeSession) []*domain.DocumentLock {
	now := time.Now()
	var live []*domain.DocumentLock
	for _, lock := range session.Locks {
		if !lock.Expired(now) {
			live = append(live, lock.Clone())
		}
	}
	return live
}
