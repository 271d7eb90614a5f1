package service

import (
	"context"
	"log"
	"sync"
	"time"

	"collabdraft-server/internal/domain"
	"collabdraft-server/internal/repository"
	"collabdraft-server/pkg/digest"
)

// PersistService buffers locally-authored changes per document and flushes
// them to durable storage on a timer. A failed flush retains the batch for
// the next tick; dropping buffered changes is a correctness defect, not an
// acceptable degradation.
type PersistService struct {
	repo     repository.ChangeRepository
	interval time.Duration

	mu      sync.Mutex
	buffers map[string][]*domain.DocumentChange
}

func NewPersistService(repo repository.ChangeRepository, interval time.Duration) *PersistService {
	return &PersistService{
		repo:     repo,
		interval: interval,
		buffers:  make(map[string][]*domain.DocumentChange),
	}
}

// Buffer queues a change for the next flush of its document.
func (s *PersistService) Buffer(ch *domain.DocumentChange) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buffers[ch.DocumentID] = append(s.buffers[ch.DocumentID], ch)
}

// Buffered reports how many changes are waiting for a document.
func (s *PersistService) Buffered(documentID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buffers[documentID])
}

// Flush writes the document's buffered changes as one batch. On failure the
// batch is put back at the head of the buffer, ahead of anything buffered in
// the meantime, preserving per-document order for the retry.
func (s *PersistService) Flush(ctx context.Context, documentID string) error {
	s.mu.Lock()
	batch := s.buffers[documentID]
	delete(s.buffers, documentID)
	s.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	if err := s.repo.BulkInsert(ctx, batch); err != nil {
		s.mu.Lock()
		s.buffers[documentID] = append(batch, s.buffers[documentID]...)
		s.mu.Unlock()
		log.Printf("flush failed for document %s, retaining %d changes: %v", documentID, len(batch), err)
		return err
	}

	log.Printf("flushed %d changes for document %s (batch %s)", len(batch), documentID, digest.Batch(batch))
	return nil
}

// FlushAll flushes every document with buffered changes.
func (s *PersistService) FlushAll(ctx context.Context) {
	s.mu.Lock()
	ids := make([]string, 0, len(s.buffers))
	for id := range s.buffers {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	for _, id := range ids {
		if err := s.Flush(ctx, id); err != nil {
			continue
		}
	}
}

// Run flushes on the configured interval until ctx is cancelled, then makes
// one final pass.
func (s *PersistService) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.FlushAll(context.Background())
			return
		case <-ticker.C:
			s.FlushAll(ctx)
		}
	}
}
