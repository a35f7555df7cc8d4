package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mcdev12/auctionsync/go/internal/auction/auctionerrors"
	"github.com/mcdev12/auctionsync/go/internal/auction/events"
)

// Conn is one established transport session.
type Conn interface {
	Send(env *events.Envelope) error
	// Receive blocks until the next frame arrives or the session fails.
	Receive() (*events.Envelope, error)
	Close() error
}

// Dialer opens transport sessions.
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

// DialerFactory builds a fresh dialer. The agent calls it again after repeated
// failures so no state from the failing session carries over.
type DialerFactory func() Dialer

// WebsocketDialer connects to the gateway's /ws/auction endpoint.
type WebsocketDialer struct {
	url          string
	header       http.Header
	dialer       *websocket.Dialer
	writeTimeout time.Duration
}

// NewWebsocketDialerFactory returns a factory of gorilla dialers for url.
func NewWebsocketDialerFactory(url string, header http.Header) DialerFactory {
	return func() Dialer {
		return &WebsocketDialer{
			url:    url,
			header: header,
			dialer: &websocket.Dialer{
				Proxy:            http.ProxyFromEnvironment,
				HandshakeTimeout: 10 * time.Second,
			},
			writeTimeout: 5 * time.Second,
		}
	}
}

func (d *WebsocketDialer) Dial(ctx context.Context) (Conn, error) {
	conn, _, err := d.dialer.DialContext(ctx, d.url, d.header)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", auctionerrors.ErrConnection, d.url, err)
	}
	return &websocketConn{conn: conn, writeTimeout: d.writeTimeout}, nil
}

type websocketConn struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
	writeMu      sync.Mutex
}

func (c *websocketConn) Send(env *events.Envelope) error {
	frame, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal %s envelope: %w", env.Type, err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return fmt.Errorf("%w: write: %v", auctionerrors.ErrConnection, err)
	}
	return nil
}

func (c *websocketConn) Receive() (*events.Envelope, error) {
	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			return nil, fmt.Errorf("%w: read: %v", auctionerrors.ErrConnection, err)
		}
		env, err := events.DecodeEnvelope(frame)
		if err != nil {
			// A frame we cannot parse is skipped; the next snapshot covers anything it carried.
			continue
		}
		return env, nil
	}
}

func (c *websocketConn) Close() error {
	c.writeMu.Lock()
	c.conn.SetWriteDeadline(time.Now().Add(time.Second))
	c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()
	return c.conn.Close()
}
