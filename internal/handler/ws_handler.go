package handler

import (
	"log"
	"net/http"

	"github.com/google/uuid"
	ws "github.com/gorilla/websocket"

	"collabdraft-server/internal/websocket"
	"collabdraft-server/pkg/token"
)

type WebSocketHandler struct {
	manager   *websocket.Manager
	jwtSecret string
	upgrader  ws.Upgrader
}

func NewWebSocketHandler(manager *websocket.Manager, jwtSecret string) *WebSocketHandler {
	return &WebSocketHandler{
		manager:   manager,
		jwtSecret: jwtSecret,
		upgrader: ws.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// HandleConnection authenticates the participant, binds the connection to
// one document room, and starts the pumps. Joining the session itself
// happens over REST; the socket is the event channel only.
func (h *WebSocketHandler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	rawToken := r.URL.Query().Get("token")
	if rawToken == "" {
		rawToken = r.Header.Get("Authorization")
		if len(rawToken) > 7 && rawToken[:7] == "Bearer " {
			rawToken = rawToken[7:]
		}
	}

	if rawToken == "" {
		log.Printf("[WebSocket] Missing authorization token")
		http.Error(w, "missing authorization token", http.StatusUnauthorized)
		return
	}

	claims, err := token.Validate(rawToken, h.jwtSecret)
	if err != nil {
		log.Printf("[WebSocket] Token validation failed: %v", err)
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	documentID := r.URL.Query().Get("doc")
	if documentID == "" {
		http.Error(w, "missing doc parameter", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[WebSocket] Failed to upgrade connection: %v", err)
		return
	}

	log.Printf("[WebSocket] Connection upgraded for participant %s on document %s", claims.ParticipantID, documentID)

	client := websocket.NewClient(uuid.New().String(), claims.ParticipantID, documentID, conn, h.manager)
	h.manager.Register <- client

	go client.WritePump()
	go client.ReadPump()
}
