package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"collabdraft-server/internal/channel"
	"collabdraft-server/internal/domain"
	"collabdraft-server/internal/repository"
)

type recordedEvent struct {
	DocumentID string
	Event      *channel.Event
	Exclude    string
}

type mockBroadcaster struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (m *mockBroadcaster) BroadcastToDocument(documentID string, event *channel.Event, excludeParticipant string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, recordedEvent{DocumentID: documentID, Event: event, Exclude: excludeParticipant})
	return nil
}

func (m *mockBroadcaster) SendToParticipant(documentID, participantID string, event *channel.Event) error {
	return m.BroadcastToDocument(documentID, event, "")
}

func (m *mockBroadcaster) eventsOfType(t channel.EventType) []recordedEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []recordedEvent
	for _, e := range m.events {
		if e.Event.Type == t {
			out = append(out, e)
		}
	}
	return out
}

type mockChangeRepo struct {
	mu        sync.Mutex
	inserted  []*domain.DocumentChange
	failures  int
	callCount int
}

func (m *mockChangeRepo) BulkInsert(ctx context.Context, changes []*domain.DocumentChange) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callCount++
	if m.failures > 0 {
		m.failures--
		return errors.New("storage unavailable")
	}
	m.inserted = append(m.inserted, changes...)
	return nil
}

func (m *mockChangeRepo) ListByDocument(ctx context.Context, documentID string) ([]*domain.DocumentChange, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.DocumentChange
	for _, ch := range m.inserted {
		if ch.DocumentID == documentID {
			out = append(out, ch)
		}
	}
	return out, nil
}

func (m *mockChangeRepo) ListSince(ctx context.Context, documentID string, since time.Time) ([]*domain.DocumentChange, error) {
	return m.ListByDocument(ctx, documentID)
}

func (m *mockChangeRepo) persisted() []*domain.DocumentChange {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*domain.DocumentChange, len(m.inserted))
	copy(out, m.inserted)
	return out
}

type mockCommentRepo struct {
	mu       sync.Mutex
	comments map[string]*domain.CollaborativeComment
}

func newMockCommentRepo() *mockCommentRepo {
	return &mockCommentRepo{comments: make(map[string]*domain.CollaborativeComment)}
}

func (m *mockCommentRepo) Insert(ctx context.Context, comment *domain.CollaborativeComment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.comments[comment.ID] = comment
	return nil
}

func (m *mockCommentRepo) Update(ctx context.Context, comment *domain.CollaborativeComment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.comments[comment.ID]; !ok {
		return errors.New("comment not found")
	}
	m.comments[comment.ID] = comment
	return nil
}

func (m *mockCommentRepo) ListByDocument(ctx context.Context, documentID string) ([]*domain.CollaborativeComment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.CollaborativeComment
	for _, c := range m.comments {
		if c.DocumentID == documentID {
			out = append(out, c)
		}
	}
	return out, nil
}

// gatedChangeRepo blocks BulkInsert until released, signalling entry; used to
// hold a teardown flush open while something else races it.
type gatedChangeRepo struct {
	mockChangeRepo
	entered chan struct{}
	release chan struct{}
}

func newGatedChangeRepo() *gatedChangeRepo {
	return &gatedChangeRepo{
		entered: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
}

func (g *gatedChangeRepo) BulkInsert(ctx context.Context, changes []*domain.DocumentChange) error {
	g.entered <- struct{}{}
	<-g.release
	return g.mockChangeRepo.BulkInsert(ctx, changes)
}

func newTestSessionService(broadcaster *mockBroadcaster, changeRepo *mockChangeRepo) *SessionService {
	return newTestSessionServiceWith(broadcaster, changeRepo)
}

func newTestSessionServiceWith(broadcaster *mockBroadcaster, changeRepo repository.ChangeRepository) *SessionService {
	conflicts := NewConflictService(100*time.Millisecond, 30*time.Second, broadcaster)
	locks := NewLockService(30 * time.Second)
	persist := NewPersistService(changeRepo, time.Hour)
	comments := NewCommentService(newMockCommentRepo(), broadcaster)
	return NewSessionService(broadcaster, conflicts, locks, persist, comments)
}

func joinTwo(s *SessionService, documentID, content string) error {
	if _, err := s.Join("alice", &domain.JoinRequest{
		DocumentID:   documentID,
		DocumentKind: domain.DocumentContent,
		Name:         "Alice",
		Content:      content,
	}); err != nil {
		return err
	}
	_, err := s.Join("bob", &domain.JoinRequest{
		DocumentID:   documentID,
		DocumentKind: domain.DocumentContent,
		Name:         "Bob",
	})
	return err
}
