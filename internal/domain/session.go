package domain

import "time"

type DocumentKind string

const (
	DocumentContent  DocumentKind = "content"
	DocumentTemplate DocumentKind = "template"
	DocumentCampaign DocumentKind = "campaign"
)

type SessionState string

const (
	SessionUninitialized SessionState = "uninitialized"
	SessionActive        SessionState = "active"
	SessionClosing       SessionState = "closing"
	SessionClosed        SessionState = "closed"
)

// CollaborativeSession is the live in-memory state for one open document.
// The change history is append-only and is the authoritative replay log;
// Version never decreases and is >= the version of every change in History.
type CollaborativeSession struct {
	DocumentID   string                  `json:"document_id"`
	DocumentKind DocumentKind            `json:"document_kind"`
	State        SessionState            `json:"state"`
	Participants []*Participant          `json:"participants"`
	EditorStates map[string]*EditorState `json:"editor_states"`
	History      []*DocumentChange       `json:"history"`
	Locks        map[string]*DocumentLock `json:"locks"`
	Version      int64                   `json:"version"`
	CreatedAt    time.Time               `json:"created_at"`
	UpdatedAt    time.Time               `json:"updated_at"`
}

// Participant returns the roster entry for id, or nil.
func (s *CollaborativeSession) Participant(id string) *Participant {
	for _, p := range s.Participants {
		if p.ID == id {
			return p
		}
	}
	return nil
}

// RecentChanges returns history entries authored within window of t.
func (s *CollaborativeSession) RecentChanges(t time.Time, window time.Duration) []*DocumentChange {
	var out []*DocumentChange
	for _, ch := range s.History {
		d := t.Sub(ch.CreatedAt)
		if d < 0 {
			d = -d
		}
		if d < window {
			out = append(out, ch)
		}
	}
	return out
}

// SessionSnapshot is the REST view of a session; History is truncated to the
// most recent entries so the payload stays bounded.
type SessionSnapshot struct {
	DocumentID   string            `json:"document_id"`
	DocumentKind DocumentKind      `json:"document_kind"`
	State        SessionState      `json:"state"`
	Participants []*Participant    `json:"participants"`
	Content      string            `json:"content"`
	Version      int64             `json:"version"`
	Locks        []*DocumentLock   `json:"locks"`
	History      []*DocumentChange `json:"history"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}
