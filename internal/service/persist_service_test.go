package service

import (
	"context"
	"testing"
	"time"

	"collabdraft-server/internal/domain"
)

func bufferedChange(id, documentID string) *domain.DocumentChange {
	return &domain.DocumentChange{
		ID:         id,
		DocumentID: documentID,
		Kind:       domain.ChangeInsert,
		Content:    "x",
		CreatedAt:  time.Now(),
	}
}

func TestFlushWritesBatch(t *testing.T) {
	repo := &mockChangeRepo{}
	s := NewPersistService(repo, time.Hour)

	s.Buffer(bufferedChange("c1", "doc1"))
	s.Buffer(bufferedChange("c2", "doc1"))

	if err := s.Flush(context.Background(), "doc1"); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if got := len(repo.persisted()); got != 2 {
		t.Errorf("persisted %d changes, want 2", got)
	}
	if s.Buffered("doc1") != 0 {
		t.Error("buffer not cleared after successful flush")
	}
}

func TestFlushRetainsOnFailure(t *testing.T) {
	repo := &mockChangeRepo{failures: 1}
	s := NewPersistService(repo, time.Hour)

	s.Buffer(bufferedChange("c1", "doc1"))

	if err := s.Flush(context.Background(), "doc1"); err == nil {
		t.Fatal("expected flush to fail")
	}
	if s.Buffered("doc1") != 1 {
		t.Fatal("failed flush must retain the buffered changes")
	}

	if err := s.Flush(context.Background(), "doc1"); err != nil {
		t.Fatalf("retry should succeed, got %v", err)
	}
	if got := len(repo.persisted()); got != 1 {
		t.Errorf("persisted %d changes, want 1", got)
	}
}

// N failed attempts followed by one success: every change lands exactly once,
// in submission order.
func TestRepeatedFailuresThenSuccessLosesNothing(t *testing.T) {
	const failures = 5
	repo := &mockChangeRepo{failures: failures}
	s := NewPersistService(repo, time.Hour)

	var want []string
	for i := 0; i < failures; i++ {
		id := string(rune('a' + i))
		s.Buffer(bufferedChange(id, "doc1"))
		want = append(want, id)
		s.Flush(context.Background(), "doc1")
	}

	if err := s.Flush(context.Background(), "doc1"); err != nil {
		t.Fatalf("final flush should succeed, got %v", err)
	}

	persisted := repo.persisted()
	if len(persisted) != failures {
		t.Fatalf("persisted %d changes, want %d", len(persisted), failures)
	}

	seen := make(map[string]int)
	for _, ch := range persisted {
		seen[ch.ID]++
	}
	for i, id := range want {
		if seen[id] != 1 {
			t.Errorf("change %s persisted %d times, want exactly once", id, seen[id])
		}
		if persisted[i].ID != id {
			t.Errorf("position %d: got %s, want %s (order not preserved)", i, persisted[i].ID, id)
		}
	}
}

func TestFlushAllCoversEveryDocument(t *testing.T) {
	repo := &mockChangeRepo{}
	s := NewPersistService(repo, time.Hour)

	s.Buffer(bufferedChange("c1", "doc1"))
	s.Buffer(bufferedChange("c2", "doc2"))

	s.FlushAll(context.Background())

	if got := len(repo.persisted()); got != 2 {
		t.Errorf("persisted %d changes, want 2", got)
	}
	if s.Buffered("doc1") != 0 || s.Buffered("doc2") != 0 {
		t.Error("buffers not cleared after FlushAll")
	}
}

func TestFlushEmptyBufferIsNoop(t *testing.T) {
	repo := &mockChangeRepo{}
	s := NewPersistService(repo, time.Hour)

	if err := s.Flush(context.Background(), "doc1"); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if repo.callCount != 0 {
		t.Error("empty flush must not hit storage")
	}
}
