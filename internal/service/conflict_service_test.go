package service

import (
	"testing"
	"time"

	"collabdraft-server/internal/domain"
)

func historySession(changes ...*domain.DocumentChange) *domain.CollaborativeSession {
	return &domain.CollaborativeSession{
		DocumentID:   "doc1",
		EditorStates: make(map[string]*domain.EditorState),
		Locks:        make(map[string]*domain.DocumentLock),
		History:      changes,
	}
}

func TestDetectOverlappingDeletesWithinWindow(t *testing.T) {
	broadcaster := &mockBroadcaster{}
	s := NewConflictService(100*time.Millisecond, time.Hour, broadcaster)

	base := time.Now()
	prior := &domain.DocumentChange{
		ID: "c1", ParticipantID: "alice", Kind: domain.ChangeDelete,
		Position: 5, Length: 4, CreatedAt: base,
	}
	candidate := &domain.DocumentChange{
		ID: "c2", ParticipantID: "bob", Kind: domain.ChangeDelete,
		Position: 7, Length: 4, CreatedAt: base.Add(50 * time.Millisecond),
	}

	conflicting := s.Detect(historySession(prior), candidate)
	if len(conflicting) != 1 {
		t.Fatalf("expected 1 conflicting change, got %d", len(conflicting))
	}
	if conflicting[0].ID != "c1" {
		t.Errorf("expected c1 to conflict, got %s", conflicting[0].ID)
	}
}

func TestDetectWindowBoundary(t *testing.T) {
	broadcaster := &mockBroadcaster{}
	s := NewConflictService(100*time.Millisecond, time.Hour, broadcaster)

	base := time.Now()
	prior := &domain.DocumentChange{
		ID: "c1", ParticipantID: "alice", Kind: domain.ChangeDelete,
		Position: 5, Length: 4, CreatedAt: base,
	}

	tests := []struct {
		name  string
		delta time.Duration
		want  int
	}{
		{"just inside the window", 99 * time.Millisecond, 1},
		{"exactly at the window", 100 * time.Millisecond, 0},
		{"outside the window", 200 * time.Millisecond, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			candidate := &domain.DocumentChange{
				ID: "c2", ParticipantID: "bob", Kind: domain.ChangeDelete,
				Position: 6, Length: 2, CreatedAt: base.Add(tt.delta),
			}
			got := s.Detect(historySession(prior), candidate)
			if len(got) != tt.want {
				t.Errorf("got %d conflicts, want %d", len(got), tt.want)
			}
		})
	}
}

func TestDetectIgnoresSameAuthor(t *testing.T) {
	broadcaster := &mockBroadcaster{}
	s := NewConflictService(100*time.Millisecond, time.Hour, broadcaster)

	base := time.Now()
	prior := &domain.DocumentChange{
		ID: "c1", ParticipantID: "alice", Kind: domain.ChangeDelete,
		Position: 5, Length: 4, CreatedAt: base,
	}
	candidate := &domain.DocumentChange{
		ID: "c2", ParticipantID: "alice", Kind: domain.ChangeDelete,
		Position: 6, Length: 2, CreatedAt: base.Add(10 * time.Millisecond),
	}

	if got := s.Detect(historySession(prior), candidate); len(got) != 0 {
		t.Errorf("changes by the same author must not conflict, got %d", len(got))
	}
}

func TestDetectConcurrentInsertsNeverConflict(t *testing.T) {
	broadcaster := &mockBroadcaster{}
	s := NewConflictService(100*time.Millisecond, time.Hour, broadcaster)

	base := time.Now()
	prior := &domain.DocumentChange{
		ID: "c1", ParticipantID: "alice", Kind: domain.ChangeInsert,
		Position: 5, Content: "abc", CreatedAt: base,
	}
	candidate := &domain.DocumentChange{
		ID: "c2", ParticipantID: "bob", Kind: domain.ChangeInsert,
		Position: 5, Content: "xyz", CreatedAt: base.Add(10 * time.Millisecond),
	}

	if got := s.Detect(historySession(prior), candidate); len(got) != 0 {
		t.Errorf("concurrent inserts must not conflict, got %d", len(got))
	}
}

func TestDetectNonOverlappingDeletes(t *testing.T) {
	broadcaster := &mockBroadcaster{}
	s := NewConflictService(100*time.Millisecond, time.Hour, broadcaster)

	base := time.Now()
	prior := &domain.DocumentChange{
		ID: "c1", ParticipantID: "alice", Kind: domain.ChangeDelete,
		Position: 0, Length: 3, CreatedAt: base,
	}
	candidate := &domain.DocumentChange{
		ID: "c2", ParticipantID: "bob", Kind: domain.ChangeDelete,
		Position: 10, Length: 3, CreatedAt: base.Add(10 * time.Millisecond),
	}

	if got := s.Detect(historySession(prior), candidate); len(got) != 0 {
		t.Errorf("non-overlapping deletes must not conflict, got %d", len(got))
	}
}

func TestResolveMergeTransformsCandidate(t *testing.T) {
	broadcaster := &mockBroadcaster{}
	s := NewConflictService(100*time.Millisecond, time.Hour, broadcaster)

	base := time.Now()
	conflicting := []*domain.DocumentChange{
		{ID: "c1", ParticipantID: "alice", Kind: domain.ChangeInsert, Position: 2, Content: "ab", CreatedAt: base},
	}
	candidate := &domain.DocumentChange{
		ID: "c2", ParticipantID: "bob", Kind: domain.ChangeDelete,
		Position: 5, Length: 2, CreatedAt: base.Add(10 * time.Millisecond),
	}

	res, err := s.Resolve("doc1", candidate, conflicting, domain.ResolutionMerge, "bob")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if res.Resolved == nil {
		t.Fatal("merge must produce a resolved change")
	}
	if res.Resolved.Position != 7 {
		t.Errorf("resolved position = %d, want 7", res.Resolved.Position)
	}
	if res.Strategy != domain.ResolutionMerge {
		t.Errorf("strategy = %s, want merge", res.Strategy)
	}
}

func TestResolveOverrideKeepsCandidateVerbatim(t *testing.T) {
	broadcaster := &mockBroadcaster{}
	s := NewConflictService(100*time.Millisecond, time.Hour, broadcaster)

	candidate := &domain.DocumentChange{ID: "c2", Kind: domain.ChangeDelete, Position: 5, Length: 2, CreatedAt: time.Now()}

	res, err := s.Resolve("doc1", candidate, nil, domain.ResolutionOverride, "bob")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if res.Resolved != candidate {
		t.Error("override must keep the candidate verbatim")
	}
}

func TestManualQueueAndExplicitResolve(t *testing.T) {
	broadcaster := &mockBroadcaster{}
	s := NewConflictService(100*time.Millisecond, time.Hour, broadcaster)

	candidate := &domain.DocumentChange{
		ID: "c2", ParticipantID: "bob", Kind: domain.ChangeDelete,
		Position: 5, Length: 2, CreatedAt: time.Now(),
	}

	var applied *domain.DocumentChange
	pending, err := s.QueuePending("doc1", candidate, nil, func(resolved *domain.DocumentChange) {
		applied = resolved
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if got := broadcaster.eventsOfType("conflict"); len(got) != 1 {
		t.Fatalf("expected 1 conflict event broadcast, got %d", len(got))
	}
	if s.PendingCount("doc1") != 1 {
		t.Fatalf("expected 1 pending conflict")
	}

	res, err := s.ResolvePending(pending.ID, domain.ResolutionOverride, "carol")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if applied == nil || applied.ID != candidate.ID {
		t.Error("apply callback did not receive the resolved change")
	}
	if res.ResolvedBy != "carol" {
		t.Errorf("resolved by = %s, want carol", res.ResolvedBy)
	}
	if s.PendingCount("doc1") != 0 {
		t.Error("pending conflict not removed after resolution")
	}

	if _, err := s.ResolvePending(pending.ID, domain.ResolutionMerge, "carol"); err != ErrPendingNotFound {
		t.Errorf("second resolve should return ErrPendingNotFound, got %v", err)
	}
}

func TestManualFallbackMergesAfterTimeout(t *testing.T) {
	broadcaster := &mockBroadcaster{}
	s := NewConflictService(100*time.Millisecond, 20*time.Millisecond, broadcaster)

	candidate := &domain.DocumentChange{
		ID: "c2", ParticipantID: "bob", Kind: domain.ChangeDelete,
		Position: 5, Length: 2, CreatedAt: time.Now(),
	}

	done := make(chan *domain.DocumentChange, 1)
	if _, err := s.QueuePending("doc1", candidate, nil, func(resolved *domain.DocumentChange) {
		done <- resolved
	}); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	select {
	case resolved := <-done:
		if resolved == nil {
			t.Fatal("fallback applied a nil change")
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("fallback merge did not fire")
	}

	if s.PendingCount("doc1") != 0 {
		t.Error("pending conflict not removed after fallback")
	}
}

func TestImmediateFallbackStillResolves(t *testing.T) {
	broadcaster := &mockBroadcaster{}
	s := NewConflictService(100*time.Millisecond, time.Nanosecond, broadcaster)

	candidate := &domain.DocumentChange{
		ID: "c2", ParticipantID: "bob", Kind: domain.ChangeDelete,
		Position: 5, Length: 2, CreatedAt: time.Now(),
	}

	// A fallback shorter than the queueing itself must still find the
	// pending entry and merge it, never strand it.
	done := make(chan *domain.DocumentChange, 1)
	if _, err := s.QueuePending("doc1", candidate, nil, func(resolved *domain.DocumentChange) {
		done <- resolved
	}); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	select {
	case resolved := <-done:
		if resolved == nil {
			t.Fatal("fallback produced no change")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("pending conflict was stranded")
	}

	if s.PendingCount("doc1") != 0 {
		t.Error("pending conflict not removed after fallback")
	}
}

func TestDiscardForParticipant(t *testing.T) {
	broadcaster := &mockBroadcaster{}
	s := NewConflictService(100*time.Millisecond, time.Hour, broadcaster)

	candidate := &domain.DocumentChange{
		ID: "c2", ParticipantID: "bob", Kind: domain.ChangeDelete,
		Position: 5, Length: 2, CreatedAt: time.Now(),
	}

	if _, err := s.QueuePending("doc1", candidate, nil, nil); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	s.DiscardForParticipant("doc1", "bob")
	if s.PendingCount("doc1") != 0 {
		t.Error("pending conflicts for departed participant not discarded")
	}
}
