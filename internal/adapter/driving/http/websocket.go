package http

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/Wyydra/ya-sfu/internal/core/domain"
)

const writeWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// TODO: restrict to the admin UI origin once it has a fixed host
	CheckOrigin: func(r *http.Request) bool { return true },
}

// WSClient streams entity events to one websocket connection.
type WSClient struct {
	id   string
	conn *websocket.Conn

	mu sync.Mutex
}

func (c *WSClient) ID() string {
	return c.id
}

func (c *WSClient) SendEvent(event domain.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteJSON(event)
}

func (c *WSClient) Close() error {
	return c.conn.Close()
}

// ServeWS subscribes the connection to entity events until it closes.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("Error while upgrading ws")
		return
	}

	client := &WSClient{
		id:   uuid.NewString(),
		conn: conn,
	}

	l := log.With().Str("client_id", client.id).Logger()
	l.Info().Msg("New client connected")

	h.Hub.Register(client)

	defer func() {
		l.Info().Msg("Client disconnected")
		h.Hub.Unregister(client)
		conn.Close()
	}()

	// the stream is one way; reading only detects the close
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				l.Error().Err(err).Msg("Unexpected close error")
			}
			return
		}
	}
}
