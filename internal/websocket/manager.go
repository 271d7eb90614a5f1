package websocket

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"collabdraft-server/internal/channel"
)

type ClientMessage struct {
	Client  *Client
	Message []byte
}

// EventHandler receives every decoded inbound event alongside the client that
// produced it. The session coordinator implements it.
type EventHandler interface {
	HandleChannelEvent(participantID, documentID string, event *channel.Event) error
	ParticipantDisconnected(participantID, documentID string)
}

// Manager is the in-process hub: clients are indexed by document so a
// broadcast reaches everyone with that document open. When a relay is
// attached, broadcasts are also published across processes.
type Manager struct {
	clients       map[string]*Client
	rooms         map[string]map[string]bool
	clientsMutex  sync.RWMutex
	Register      chan *Client
	Unregister    chan *Client
	HandleMessage chan *ClientMessage
	maxConnPerDoc int
	writeWait     time.Duration
	pongWait      time.Duration
	pingPeriod    time.Duration
	eventHandler  EventHandler
	relay         *Relay
	instanceID    string
}

func NewManager(instanceID string, maxConnPerDoc int, writeWait, pongWait, pingPeriod time.Duration) *Manager {
	return &Manager{
		clients:       make(map[string]*Client),
		rooms:         make(map[string]map[string]bool),
		Register:      make(chan *Client),
		Unregister:    make(chan *Client),
		HandleMessage: make(chan *ClientMessage),
		maxConnPerDoc: maxConnPerDoc,
		writeWait:     writeWait,
		pongWait:      pongWait,
		pingPeriod:    pingPeriod,
		instanceID:    instanceID,
	}
}

func (m *Manager) SetEventHandler(handler EventHandler) {
	m.eventHandler = handler
}

func (m *Manager) SetRelay(relay *Relay) {
	m.relay = relay
}

func (m *Manager) InstanceID() string {
	return m.instanceID
}

func (m *Manager) Run() {
	for {
		select {
		case client := <-m.Register:
			m.registerClient(client)

		case client := <-m.Unregister:
			m.unregisterClient(client)

		case clientMsg := <-m.HandleMessage:
			m.processMessage(clientMsg)
		}
	}
}

func (m *Manager) registerClient(client *Client) {
	m.clientsMutex.Lock()
	defer m.clientsMutex.Unlock()

	if m.rooms[client.DocumentID] == nil {
		m.rooms[client.DocumentID] = make(map[string]bool)
	}

	if len(m.rooms[client.DocumentID]) >= m.maxConnPerDoc {
		log.Printf("max connections reached for document %s", client.DocumentID)
		close(client.Send)
		return
	}

	m.clients[client.ID] = client
	m.rooms[client.DocumentID][client.ID] = true

	log.Printf("client registered: %s (participant: %s, document: %s)", client.ID, client.ParticipantID, client.DocumentID)
}

func (m *Manager) unregisterClient(client *Client) {
	m.clientsMutex.Lock()
	removed := false
	lastForParticipant := false
	if _, ok := m.clients[client.ID]; ok {
		delete(m.clients, client.ID)
		delete(m.rooms[client.DocumentID], client.ID)

		if len(m.rooms[client.DocumentID]) == 0 {
			delete(m.rooms, client.DocumentID)
		}

		close(client.Send)
		removed = true
		log.Printf("client unregistered: %s", client.ID)

		// A participant may hold several connections to the same document
		// (extra tabs, reconnects). Only their last connection counts as a
		// departure.
		lastForParticipant = true
		for otherID := range m.rooms[client.DocumentID] {
			if m.clients[otherID].ParticipantID == client.ParticipantID {
				lastForParticipant = false
				break
			}
		}
	}
	m.clientsMutex.Unlock()

	if removed && lastForParticipant && m.eventHandler != nil {
		m.eventHandler.ParticipantDisconnected(client.ParticipantID, client.DocumentID)
	}
}

func (m *Manager) processMessage(clientMsg *ClientMessage) {
	var event channel.Event
	if err := json.Unmarshal(clientMsg.Message, &event); err != nil {
		log.Printf("error unmarshaling event: %v", err)
		return
	}
	if event.DocumentID == "" {
		event.DocumentID = clientMsg.Client.DocumentID
	}

	if m.eventHandler != nil {
		if err := m.eventHandler.HandleChannelEvent(clientMsg.Client.ParticipantID, event.DocumentID, &event); err != nil {
			log.Printf("error handling %s event: %v", event.Type, err)
		}
	}
}

// BroadcastToDocument fans an event out to every client in the document's
// room except the excluded participant, and hands it to the relay for other
// server instances. Events arriving from the relay carry a foreign origin and
// are fanned out locally only.
func (m *Manager) BroadcastToDocument(documentID string, event *channel.Event, excludeParticipant string) error {
	fromRelay := event.Origin != "" && event.Origin != m.instanceID
	if event.Origin == "" {
		event.Origin = m.instanceID
	}

	messageBytes, err := json.Marshal(event)
	if err != nil {
		return err
	}

	m.clientsMutex.RLock()
	clientIDs := m.rooms[documentID]
	for clientID := range clientIDs {
		client := m.clients[clientID]
		if client.ParticipantID == excludeParticipant {
			continue
		}
		select {
		case client.Send <- messageBytes:
		default:
			log.Printf("client %s send buffer full, closing connection", clientID)
			go func(c *Client) { m.Unregister <- c }(client)
		}
	}
	m.clientsMutex.RUnlock()

	if m.relay != nil && !fromRelay {
		if err := m.relay.Publish(documentID, messageBytes); err != nil {
			log.Printf("relay publish failed for document %s: %v", documentID, err)
		}
	}

	return nil
}

// SendToParticipant delivers an event to one participant's connections in a
// document room only.
func (m *Manager) SendToParticipant(documentID, participantID string, event *channel.Event) error {
	if event.Origin == "" {
		event.Origin = m.instanceID
	}

	messageBytes, err := json.Marshal(event)
	if err != nil {
		return err
	}

	m.clientsMutex.RLock()
	defer m.clientsMutex.RUnlock()

	for clientID := range m.rooms[documentID] {
		client := m.clients[clientID]
		if client.ParticipantID != participantID {
			continue
		}
		select {
		case client.Send <- messageBytes:
		default:
			log.Printf("client %s send buffer full", clientID)
		}
	}

	return nil
}

// DocumentConnections returns how many clients currently have the document
// open on this instance.
func (m *Manager) DocumentConnections(documentID string) int {
	m.clientsMutex.RLock()
	defer m.clientsMutex.RUnlock()
	return len(m.rooms[documentID])
}
