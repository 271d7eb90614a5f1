package service

import "collabdraft-server/internal/channel"

// Broadcaster is the generic pub/sub seam toward the transport. The
// websocket manager implements it; tests substitute a recorder.
type Broadcaster interface {
	BroadcastToDocument(documentID string, event *channel.Event, excludeParticipant string) error
	SendToParticipant(documentID, participantID string, event *channel.Event) error
}
