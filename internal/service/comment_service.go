package service

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"collabdraft-server/internal/channel"
	"collabdraft-server/internal/domain"
	"collabdraft-server/internal/ot"
	"collabdraft-server/internal/repository"
)

// CommentService owns threaded, position-anchored comments. Mutations are
// persisted immediately and broadcast; comments never enter the conflict or
// lock machinery since they do not touch document content.
type CommentService struct {
	repo        repository.CommentRepository
	broadcaster Broadcaster

	mu       sync.Mutex
	comments map[string]map[string]*domain.CollaborativeComment
}

func NewCommentService(repo repository.CommentRepository, broadcaster Broadcaster) *CommentService {
	return &CommentService{
		repo:        repo,
		broadcaster: broadcaster,
		comments:    make(map[string]map[string]*domain.CollaborativeComment),
	}
}

func (s *CommentService) Add(ctx context.Context, documentID string, author *domain.Participant, req *domain.AddCommentRequest) (*domain.CollaborativeComment, error) {
	if !author.CanComment {
		return nil, ErrPermissionDenied
	}

	now := time.Now()
	comment := &domain.CollaborativeComment{
		ID:         uuid.New().String(),
		DocumentID: documentID,
		AuthorID:   author.ID,
		AuthorName: author.Name,
		Body:       req.Body,
		Anchor:     req.Anchor,
		AnchorSel:  req.AnchorSel,
		Reactions:  make(map[string][]string),
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := s.repo.Insert(ctx, comment); err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.comments[documentID] == nil {
		s.comments[documentID] = make(map[string]*domain.CollaborativeComment)
	}
	s.comments[documentID][comment.ID] = comment
	out := comment.Clone()
	s.mu.Unlock()

	s.broadcast(documentID, domain.CommentAdd, out)
	return out, nil
}

func (s *CommentService) Reply(ctx context.Context, documentID, commentID string, author *domain.Participant, req *domain.ReplyCommentRequest) (*domain.CollaborativeComment, error) {
	if !author.CanComment {
		return nil, ErrPermissionDenied
	}

	s.mu.Lock()
	parent, ok := s.comments[documentID][commentID]
	if !ok {
		s.mu.Unlock()
		return nil, ErrCommentNotFound
	}

	now := time.Now()
	reply := &domain.CollaborativeComment{
		ID:         uuid.New().String(),
		DocumentID: documentID,
		AuthorID:   author.ID,
		AuthorName: author.Name,
		Body:       req.Body,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	parent.Replies = append(parent.Replies, reply)
	parent.UpdatedAt = now
	out := parent.Clone()
	s.mu.Unlock()

	if err := s.repo.Update(ctx, out); err != nil {
		return nil, err
	}

	s.broadcast(documentID, domain.CommentReply, out)
	return out, nil
}

// React toggles the participant's membership in the symbol's reaction set.
func (s *CommentService) React(ctx context.Context, documentID, commentID, participantID, symbol string) (*domain.CollaborativeComment, error) {
	s.mu.Lock()
	comment, ok := s.comments[documentID][commentID]
	if !ok {
		s.mu.Unlock()
		return nil, ErrCommentNotFound
	}

	if comment.Reactions == nil {
		comment.Reactions = make(map[string][]string)
	}
	users := comment.Reactions[symbol]
	removed := false
	for i, id := range users {
		if id == participantID {
			comment.Reactions[symbol] = append(users[:i], users[i+1:]...)
			removed = true
			break
		}
	}
	if !removed {
		comment.Reactions[symbol] = append(users, participantID)
	}
	if len(comment.Reactions[symbol]) == 0 {
		delete(comment.Reactions, symbol)
	}
	comment.UpdatedAt = time.Now()
	out := comment.Clone()
	s.mu.Unlock()

	if err := s.repo.Update(ctx, out); err != nil {
		return nil, err
	}

	s.broadcast(documentID, domain.CommentReact, out)
	return out, nil
}

func (s *CommentService) Resolve(ctx context.Context, documentID, commentID string) (*domain.CollaborativeComment, error) {
	s.mu.Lock()
	comment, ok := s.comments[documentID][commentID]
	if !ok {
		s.mu.Unlock()
		return nil, ErrCommentNotFound
	}
	comment.Resolved = true
	comment.UpdatedAt = time.Now()
	out := comment.Clone()
	s.mu.Unlock()

	if err := s.repo.Update(ctx, out); err != nil {
		return nil, err
	}

	s.broadcast(documentID, domain.CommentResolve, out)
	return out, nil
}

// List returns detached copies; live threads keep changing under later
// reactions and re-anchoring.
func (s *CommentService) List(ctx context.Context, documentID string) ([]*domain.CollaborativeComment, error) {
	s.mu.Lock()
	live := s.comments[documentID]
	if len(live) > 0 {
		out := make([]*domain.CollaborativeComment, 0, len(live))
		for _, c := range live {
			out = append(out, c.Clone())
		}
		s.mu.Unlock()
		return out, nil
	}
	s.mu.Unlock()

	comments, err := s.repo.ListByDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.comments[documentID] == nil {
		s.comments[documentID] = make(map[string]*domain.CollaborativeComment, len(comments))
	}
	out := make([]*domain.CollaborativeComment, 0, len(comments))
	for _, c := range comments {
		s.comments[documentID][c.ID] = c
		out = append(out, c.Clone())
	}
	s.mu.Unlock()

	return out, nil
}

// Reanchor shifts every live anchor through an applied change so comments
// track the text they annotate. Re-anchored positions are persisted on the
// comment's next mutation, not on every keystroke.
func (s *CommentService) Reanchor(documentID string, applied *domain.DocumentChange) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, comment := range s.comments[documentID] {
		if comment.Anchor != nil {
			shifted := ot.ShiftPosition(*comment.Anchor, applied)
			comment.Anchor = &shifted
		}
		if comment.AnchorSel != nil {
			comment.AnchorSel.Start = ot.ShiftPosition(comment.AnchorSel.Start, applied)
			comment.AnchorSel.End = ot.ShiftPosition(comment.AnchorSel.End, applied)
		}
	}
}

// Drop releases the in-memory thread cache for a closed document session.
func (s *CommentService) Drop(documentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.comments, documentID)
}

func (s *CommentService) broadcast(documentID string, action domain.CommentAction, comment *domain.CollaborativeComment) {
	event, err := channel.NewEvent(channel.EventComment, documentID, &channel.CommentPayload{
		Action:  action,
		Comment: comment,
	})
	if err != nil {
		log.Printf("encode comment event failed: %v", err)
		return
	}
	if err := s.broadcaster.BroadcastToDocument(documentID, event, ""); err != nil {
		log.Printf("broadcast comment event for %s failed: %v", documentID, err)
	}
}
