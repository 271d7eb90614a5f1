package service

import (
	"testing"
	"time"

	"collabdraft-server/internal/domain"
)

func lockSession() *domain.CollaborativeSession {
	return &domain.CollaborativeSession{
		DocumentID:   "doc1",
		EditorStates: make(map[string]*domain.EditorState),
		Locks:        make(map[string]*domain.DocumentLock),
	}
}

func TestAcquireGrantsLease(t *testing.T) {
	s := NewLockService(30 * time.Second)
	session := lockSession()

	lock := s.Acquire(session, "alice", &domain.AcquireLockRequest{StartIndex: 0, EndIndex: 10, Kind: domain.LockEdit})
	if lock == nil {
		t.Fatal("expected lock to be granted")
	}
	if lock.ParticipantID != "alice" {
		t.Errorf("owner = %s, want alice", lock.ParticipantID)
	}
	if !lock.ExpiresAt.After(lock.AcquiredAt) {
		t.Error("lease must expire after acquisition")
	}
}

func TestAcquireOverlappingRangeFails(t *testing.T) {
	s := NewLockService(30 * time.Second)
	session := lockSession()

	if s.Acquire(session, "alice", &domain.AcquireLockRequest{StartIndex: 0, EndIndex: 10, Kind: domain.LockEdit}) == nil {
		t.Fatal("first acquisition should succeed")
	}

	tests := []struct {
		name       string
		start, end int
		want       bool
	}{
		{"fully inside", 2, 5, false},
		{"overlapping tail", 8, 15, false},
		{"overlapping head", -0, 1, false},
		{"adjacent after is free", 10, 20, true},
		{"disjoint is free", 25, 30, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lock := s.Acquire(session, "bob", &domain.AcquireLockRequest{StartIndex: tt.start, EndIndex: tt.end, Kind: domain.LockEdit})
			if (lock != nil) != tt.want {
				t.Errorf("acquire [%d,%d) by bob: granted=%v, want %v", tt.start, tt.end, lock != nil, tt.want)
			}
		})
	}
}

func TestLockExclusivityInvariant(t *testing.T) {
	s := NewLockService(30 * time.Second)
	session := lockSession()

	s.Acquire(session, "alice", &domain.AcquireLockRequest{StartIndex: 0, EndIndex: 10, Kind: domain.LockEdit})
	s.Acquire(session, "bob", &domain.AcquireLockRequest{StartIndex: 10, EndIndex: 20, Kind: domain.LockEdit})
	s.Acquire(session, "bob", &domain.AcquireLockRequest{StartIndex: 5, EndIndex: 15, Kind: domain.LockEdit})

	live := s.Live(session)
	for i, a := range live {
		for _, b := range live[i+1:] {
			if a.ParticipantID != b.ParticipantID && a.Intersects(b.StartIndex, b.EndIndex) {
				t.Errorf("live locks %s and %s overlap", a.ID, b.ID)
			}
		}
	}
}

func TestSameHolderRenewal(t *testing.T) {
	s := NewLockService(30 * time.Second)
	session := lockSession()

	first := s.Acquire(session, "alice", &domain.AcquireLockRequest{StartIndex: 0, EndIndex: 10, Kind: domain.LockEdit})
	if first == nil {
		t.Fatal("first acquisition should succeed")
	}
	firstExpiry := first.ExpiresAt

	time.Sleep(5 * time.Millisecond)
	renewed := s.Acquire(session, "alice", &domain.AcquireLockRequest{StartIndex: 2, EndIndex: 8, Kind: domain.LockEdit})
	if renewed == nil {
		t.Fatal("sub-range re-acquisition by the holder should succeed")
	}
	if renewed.ID != first.ID {
		t.Error("sub-range re-acquisition should renew the existing lock, not stack a new one")
	}
	if !renewed.ExpiresAt.After(firstExpiry) {
		t.Error("renewal should extend the lease")
	}
	if len(session.Locks) != 1 {
		t.Errorf("expected 1 lock after renewal, got %d", len(session.Locks))
	}
}

func TestReleaseIsIdempotent(t *testing.T) {
	s := NewLockService(30 * time.Second)
	session := lockSession()

	lock := s.Acquire(session, "alice", &domain.AcquireLockRequest{StartIndex: 0, EndIndex: 10, Kind: domain.LockEdit})
	other := s.Acquire(session, "bob", &domain.AcquireLockRequest{StartIndex: 20, EndIndex: 30, Kind: domain.LockEdit})

	if !s.Release(session, lock.ID) {
		t.Error("first release should report true")
	}
	if s.Release(session, lock.ID) {
		t.Error("second release should be a no-op")
	}
	if s.Release(session, "no-such-lock") {
		t.Error("releasing an unknown lock should be a no-op")
	}

	if _, ok := session.Locks[other.ID]; !ok {
		t.Error("releasing one lock must not affect others")
	}
}

func TestLeaseExpiry(t *testing.T) {
	s := NewLockService(20 * time.Millisecond)
	session := lockSession()

	lock := s.Acquire(session, "alice", &domain.AcquireLockRequest{StartIndex: 0, EndIndex: 10, Kind: domain.LockEdit})
	if lock == nil {
		t.Fatal("acquisition should succeed")
	}

	time.Sleep(30 * time.Millisecond)

	expired := s.Sweep(session)
	if len(expired) != 1 {
		t.Fatalf("expected 1 expired lock, got %d", len(expired))
	}
	if len(s.Live(session)) != 0 {
		t.Error("expired lock still reported live")
	}

	// The range is free for someone else once the lease lapses.
	if s.Acquire(session, "bob", &domain.AcquireLockRequest{StartIndex: 0, EndIndex: 10, Kind: domain.LockEdit}) == nil {
		t.Error("range should be acquirable after expiry")
	}
}

func TestExpiredLockDoesNotBlock(t *testing.T) {
	s := NewLockService(10 * time.Millisecond)
	session := lockSession()

	s.Acquire(session, "alice", &domain.AcquireLockRequest{StartIndex: 0, EndIndex: 10, Kind: domain.LockEdit})
	time.Sleep(20 * time.Millisecond)

	// No sweep has run; Blocking must still ignore the lapsed lease.
	if b := s.Blocking(session, "bob", 0, 5); b != nil {
		t.Errorf("expired lock %s still blocking", b.ID)
	}
}

func TestReleaseAllFor(t *testing.T) {
	s := NewLockService(30 * time.Second)
	session := lockSession()

	s.Acquire(session, "alice", &domain.AcquireLockRequest{StartIndex: 0, EndIndex: 5, Kind: domain.LockEdit})
	s.Acquire(session, "alice", &domain.AcquireLockRequest{StartIndex: 10, EndIndex: 15, Kind: domain.LockDelete})
	bobs := s.Acquire(session, "bob", &domain.AcquireLockRequest{StartIndex: 20, EndIndex: 25, Kind: domain.LockEdit})

	released := s.ReleaseAllFor(session, "alice")
	if len(released) != 2 {
		t.Errorf("expected 2 released locks, got %d", len(released))
	}
	if len(session.Locks) != 1 {
		t.Errorf("expected 1 remaining lock, got %d", len(session.Locks))
	}
	if _, ok := session.Locks[bobs.ID]; !ok {
		t.Error("bob's lock should survive alice's departure")
	}
}
