package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/redis/go-redis/v9"

	"collabdraft-server/internal/channel"
)

const relayPrefix = "collab:doc:"

// Relay bridges document rooms across server instances over Redis pub/sub.
// Each instance publishes its broadcasts and re-fans subscribed events into
// its own rooms; the event Origin field suppresses echo.
type Relay struct {
	rdb     *redis.Client
	manager *Manager
}

func NewRelay(rdb *redis.Client, manager *Manager) *Relay {
	return &Relay{rdb: rdb, manager: manager}
}

func (r *Relay) Publish(documentID string, message []byte) error {
	return r.rdb.Publish(context.Background(), relayPrefix+documentID, message).Err()
}

// Run subscribes to every document channel and pumps remote events into the
// local rooms until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) {
	pubsub := r.rdb.PSubscribe(ctx, relayPrefix+"*")
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			r.dispatch(msg)
		}
	}
}

func (r *Relay) dispatch(msg *redis.Message) {
	documentID := strings.TrimPrefix(msg.Channel, relayPrefix)

	var event channel.Event
	if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
		log.Printf("relay: dropping malformed event on %s: %v", msg.Channel, err)
		return
	}

	if event.Origin == r.manager.InstanceID() {
		return
	}

	if err := r.manager.BroadcastToDocument(documentID, &event, ""); err != nil {
		log.Printf("relay: local fan-out failed for document %s: %v", documentID, err)
	}
}

// Ping verifies the Redis connection at startup.
func (r *Relay) Ping(ctx context.Context) error {
	if err := r.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis unreachable: %w", err)
	}
	return nil
}
