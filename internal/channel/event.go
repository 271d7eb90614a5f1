package channel

import (
	"encoding/json"
	"fmt"
	"time"

	"collabdraft-server/internal/domain"
)

type EventType string

const (
	EventChange    EventType = "change"
	EventCursor    EventType = "cursor"
	EventSelection EventType = "selection"
	EventLock      EventType = "lock"
	EventComment   EventType = "comment"
	EventConflict  EventType = "conflict"
	EventPresence  EventType = "presence"
)

// Event is the envelope carried on the per-document channel. The set of
// event types is closed; DecodePayload matches it exhaustively so a new kind
// cannot be added without handling it at the ingestion boundary.
type Event struct {
	Type       EventType       `json:"type"`
	DocumentID string          `json:"document_id"`
	Origin     string          `json:"origin,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

type ChangePayload struct {
	Change *domain.DocumentChange `json:"change"`
}

type CursorPayload struct {
	ParticipantID string `json:"participant_id"`
	Position      int    `json:"position"`
}

type SelectionPayload struct {
	ParticipantID string            `json:"participant_id"`
	Selection     *domain.Selection `json:"selection"`
}

type LockAction string

const (
	LockAcquire LockAction = "acquire"
	LockRelease LockAction = "release"
)

type LockPayload struct {
	Action LockAction           `json:"action"`
	Lock   *domain.DocumentLock `json:"lock,omitempty"`
	LockID string               `json:"lock_id,omitempty"`
}

type CommentPayload struct {
	Action  domain.CommentAction         `json:"action"`
	Comment *domain.CollaborativeComment `json:"comment"`
}

type ConflictPayload struct {
	PendingID   string                   `json:"pending_id"`
	Candidate   *domain.DocumentChange   `json:"candidate"`
	Conflicting []*domain.DocumentChange `json:"conflicting"`
}

type PresencePayload struct {
	Participants []*domain.Participant `json:"participants"`
}

func NewEvent(t EventType, documentID string, payload interface{}) (*Event, error) {
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		raw = data
	}
	return &Event{
		Type:       t,
		DocumentID: documentID,
		Timestamp:  time.Now(),
		Payload:    raw,
	}, nil
}

// DecodePayload unmarshals the payload into its typed struct. Unknown event
// types are an error, not a silent drop.
func (e *Event) DecodePayload() (interface{}, error) {
	switch e.Type {
	case EventChange:
		var p ChangePayload
		return &p, json.Unmarshal(e.Payload, &p)
	case EventCursor:
		var p CursorPayload
		return &p, json.Unmarshal(e.Payload, &p)
	case EventSelection:
		var p SelectionPayload
		return &p, json.Unmarshal(e.Payload, &p)
	case EventLock:
		var p LockPayload
		return &p, json.Unmarshal(e.Payload, &p)
	case EventComment:
		var p CommentPayload
		return &p, json.Unmarshal(e.Payload, &p)
	case EventConflict:
		var p ConflictPayload
		return &p, json.Unmarshal(e.Payload, &p)
	case EventPresence:
		var p PresencePayload
		return &p, json.Unmarshal(e.Payload, &p)
	default:
		return nil, fmt.Errorf("unknown event type: %s", e.Type)
	}
}
