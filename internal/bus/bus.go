// Package bus is the client end of the event bus: a websocket carrying named
// events with JSON payloads. Delivery is at-least-once and in order per
// connection; nothing is guaranteed across reconnects, which is why every
// (re)connect surfaces a synthetic "connect" event so the orchestrator can
// re-anchor from a snapshot.
package bus

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/websocket"

	"convo/internal/apperr"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 16 << 20 // avatars travel inline as base64

	maxBackoff = 30 * time.Second
)

// EvtConnect is injected locally whenever a connection is (re)established. It
// never comes from the server.
const EvtConnect = "connect"

// Event is the wire envelope for both directions.
type Event struct {
	Name string          `json:"event"`
	Data json.RawMessage `json:"data"`
}

type Client struct {
	url    string
	token  string
	dialer *websocket.Dialer
	logger *log.Logger

	events chan Event
	send   chan Event
}

func New(url, token string) *Client {
	return &Client{
		url:    url,
		token:  token,
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		logger: log.New(os.Stdout, "[BUS] ", log.LstdFlags|log.Lshortfile),
		events: make(chan Event, 64),
		send:   make(chan Event, 256),
	}
}

// Events is the single ordered stream the orchestrator consumes.
func (c *Client) Events() <-chan Event { return c.events }

// Emit queues an outbound command. The payload must already carry the bearer
// token inline; the bus does not inspect it.
func (c *Client) Emit(event string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return apperr.Wrap(apperr.CodeInternal, "marshal command", err)
	}
	select {
	case c.send <- Event{Name: event, Data: data}:
		return nil
	default:
		return apperr.Transient("outbound queue full", nil)
	}
}

// Run dials and keeps the connection alive until ctx is cancelled,
// reconnecting with capped backoff. Inbound events are pushed to Events() in
// delivery order.
func (c *Client) Run(ctx context.Context) {
	backoff := time.Second
	for {
		if ctx.Err() != nil {
			close(c.events)
			return
		}

		header := http.Header{}
		header.Set("Authorization", "Bearer "+c.token)
		conn, _, err := c.dialer.DialContext(ctx, c.url, header)
		if err != nil {
			c.logger.Printf("dial %s failed: %v (retrying in %v)", c.url, err, backoff)
			select {
			case <-ctx.Done():
				close(c.events)
				return
			case <-time.After(backoff):
			}
			if backoff *= 2; backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = time.Second
		c.logger.Printf("connected to %s", c.url)

		// Re-anchor before any incremental event of the new session.
		c.events <- Event{Name: EvtConnect}

		done := make(chan struct{})
		go c.writePump(conn, done)
		c.readLoop(ctx, conn)
		close(done)
		conn.Close()
	}
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) {
	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil && websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Printf("read error: %v", err)
			}
			return
		}

		var evt Event
		if err := json.Unmarshal(raw, &evt); err != nil {
			c.logger.Printf("dropping malformed frame: %v", err)
			continue
		}
		if evt.Name == "" {
			continue
		}
		select {
		case c.events <- evt:
		case <-ctx.Done():
			return
		}
	}
}

func (c *Client) writePump(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case evt := <-c.send:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(evt); err != nil {
				c.logger.Printf("write %s failed: %v", evt.Name, err)
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

// Decode unmarshals an event payload into dst.
func Decode(evt Event, dst interface{}) error {
	if len(evt.Data) == 0 {
		return errors.New("empty payload")
	}
	return json.Unmarshal(evt.Data, dst)
}
