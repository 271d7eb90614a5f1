package service

import (
	"context"
	"fmt"
	"log"
	"time"

	"collabdraft-server/internal/channel"
	"collabdraft-server/internal/domain"
)

// HandleChannelEvent is the ingestion boundary for inbound channel events.
// The event set is closed and matched exhaustively; an unknown kind is an
// error rather than a silent drop.
func (s *SessionService) HandleChannelEvent(participantID, documentID string, event *channel.Event) error {
	payload, err := event.DecodePayload()
	if err != nil {
		return err
	}

	switch p := payload.(type) {
	case *channel.ChangePayload:
		if p.Change == nil {
			return fmt.Errorf("change event without change")
		}
		if p.Change.ParticipantID == "" {
			p.Change.ParticipantID = participantID
		}
		return s.IngestChange(documentID, p.Change)

	case *channel.CursorPayload:
		return s.UpdateCursor(documentID, participantID, p.Position)

	case *channel.SelectionPayload:
		return s.UpdateSelection(documentID, participantID, p.Selection)

	case *channel.LockPayload:
		switch p.Action {
		case channel.LockAcquire:
			if p.Lock == nil {
				return fmt.Errorf("lock acquire event without lock")
			}
			lock, err := s.AcquireLock(documentID, participantID, &domain.AcquireLockRequest{
				StartIndex: p.Lock.StartIndex,
				EndIndex:   p.Lock.EndIndex,
				Kind:       p.Lock.Kind,
				Section:    p.Lock.Section,
			})
			if err != nil {
				return err
			}
			if lock == nil {
				log.Printf("lock acquire on %s by %s blocked", documentID, participantID)
			}
			return nil
		case channel.LockRelease:
			return s.ReleaseLock(documentID, p.LockID)
		default:
			return fmt.Errorf("unknown lock action: %s", p.Action)
		}

	case *channel.CommentPayload:
		return s.ingestComment(documentID, participantID, p)

	case *channel.ConflictPayload:
		// Conflict events are emitted by the resolver; resolutions arrive
		// through ResolvePending, so an inbound one is a protocol error.
		return fmt.Errorf("conflict events are outbound only")

	case *channel.PresencePayload:
		return s.updatePresence(documentID, participantID, p)

	default:
		return fmt.Errorf("unhandled event type: %s", event.Type)
	}
}

func (s *SessionService) ingestComment(documentID, participantID string, p *channel.CommentPayload) error {
	if p.Comment == nil {
		return fmt.Errorf("comment event without comment")
	}

	entry, err := s.entry(documentID)
	if err != nil {
		return err
	}
	entry.mu.Lock()
	author := entry.session.Participant(participantID)
	entry.mu.Unlock()
	if author == nil {
		return ErrParticipantStateMissing
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch p.Action {
	case domain.CommentAdd:
		_, err = s.comments.Add(ctx, documentID, author, &domain.AddCommentRequest{
			Body:      p.Comment.Body,
			Anchor:    p.Comment.Anchor,
			AnchorSel: p.Comment.AnchorSel,
		})
	case domain.CommentReply:
		var body string
		if n := len(p.Comment.Replies); n > 0 {
			body = p.Comment.Replies[n-1].Body
		}
		_, err = s.comments.Reply(ctx, documentID, p.Comment.ID, author, &domain.ReplyCommentRequest{Body: body})
	case domain.CommentResolve:
		_, err = s.comments.Resolve(ctx, documentID, p.Comment.ID)
	case domain.CommentReact:
		for symbol := range p.Comment.Reactions {
			_, err = s.comments.React(ctx, documentID, p.Comment.ID, participantID, symbol)
			break
		}
	default:
		return fmt.Errorf("unknown comment action: %s", p.Action)
	}

	if err != nil {
		return err
	}

	s.observersMu.RLock()
	for _, o := range s.observers {
		o.CommentUpdated(documentID, p.Comment)
	}
	s.observersMu.RUnlock()
	return nil
}

func (s *SessionService) updatePresence(documentID, participantID string, p *channel.PresencePayload) error {
	entry, err := s.entry(documentID)
	if err != nil {
		return err
	}

	entry.mu.Lock()
	session := entry.session
	for _, incoming := range p.Participants {
		if incoming.ID != participantID {
			continue
		}
		if existing := session.Participant(participantID); existing != nil {
			existing.Status = incoming.Status
			existing.LastActive = time.Now()
		}
	}
	roster := rosterCopy(session)
	entry.mu.Unlock()

	s.broadcastPresence(documentID, roster)
	s.notifyParticipants(documentID, roster)
	return nil
}

// ParticipantDisconnected handles the loss of a participant's last connection
// to a document the same way as an explicit leave. The hub reports it only
// once no connection for that participant remains in the room.
func (s *SessionService) ParticipantDisconnected(participantID, documentID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.Leave(ctx, documentID, participantID); err != nil && err != ErrSessionNotFound {
		log.Printf("leave after disconnect failed for %s on %s: %v", participantID, documentID, err)
	}
}
