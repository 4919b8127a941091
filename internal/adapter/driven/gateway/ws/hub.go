package ws

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/Wyydra/ya-sfu/internal/core/domain"
	"github.com/Wyydra/ya-sfu/internal/core/port"
)

const broadcastBuffer = 64

var _ port.EventGateway = (*Hub)(nil)

// Hub fans entity events out to every registered client. The client set
// is owned by Run.
type Hub struct {
	clients    map[Client]bool
	broadcast  chan domain.Event
	register   chan Client
	unregister chan Client
	quit       chan struct{}
	done       chan struct{}
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[Client]bool),
		broadcast:  make(chan domain.Event, broadcastBuffer),
		register:   make(chan Client),
		unregister: make(chan Client),
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// PublishEvent queues event for every client. It drops the event when the
// queue is full rather than block the caller.
func (h *Hub) PublishEvent(ctx context.Context, event domain.Event) error {
	select {
	case h.broadcast <- event:
	case <-h.quit:
	default:
		log.Warn().Str("event", string(event.Type)).Msg("Broadcast channel full, dropping event")
	}
	return nil
}

func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.quit:
			for client := range h.clients {
				client.Close()
				delete(h.clients, client)
			}
			return

		case client := <-h.register:
			h.clients[client] = true
			log.Info().Str("client_id", client.ID()).Int("count", len(h.clients)).Msg("Client registered")

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.Close()
				log.Info().Str("client_id", client.ID()).Int("count", len(h.clients)).Msg("Client unregistered")
			}

		case event := <-h.broadcast:
			for client := range h.clients {
				if err := client.SendEvent(event); err != nil {
					log.Error().Err(err).Str("client_id", client.ID()).Msg("Error sending event")
					client.Close()
					delete(h.clients, client)
				}
			}
		}
	}
}

func (h *Hub) Register(c Client) {
	select {
	case h.register <- c:
	case <-h.quit:
		c.Close()
	}
}

func (h *Hub) Unregister(c Client) {
	select {
	case h.unregister <- c:
	case <-h.quit:
	}
}

// Stop closes every client and waits for Run to return.
func (h *Hub) Stop() {
	close(h.quit)
	<-h.done
}
