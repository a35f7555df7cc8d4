package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/mcdev12/auctionsync/go/internal/auction/events"
	"github.com/rs/zerolog/log"
)

// InboundHandler processes frames read from a connection.
type InboundHandler interface {
	HandleMessage(ctx context.Context, conn *Connection, frame []byte)
	HandleDisconnect(ctx context.Context, conn *Connection)
}

// ConnectionManager manages WebSocket connections for auction viewers
type ConnectionManager struct {
	connections map[string]*Connection
	mu          sync.RWMutex

	upgrader websocket.Upgrader
	config   ConnectionConfig
	handler  InboundHandler

	broadcastCh chan BroadcastMessage

	ctx    context.Context
	cancel context.CancelFunc
	pumps  sync.WaitGroup
}

// Connection represents a WebSocket connection to a viewer
type Connection struct {
	ID          string
	RemoteAddr  string
	ConnectedAt time.Time

	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	manager   *ConnectionManager
	lastPong  atomic.Int64
}

// ConnectionConfig holds configuration for WebSocket connections
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	SendBufferSize  int
	BroadcastBuffer int
	CheckOrigin     func(r *http.Request) bool
}

// BroadcastMessage is one frame addressed to a set of connections in a room
type BroadcastMessage struct {
	AuctionID uuid.UUID
	Type      events.MessageType
	Targets   []string
	Frame     []byte
}

// DefaultConnectionConfig returns default WebSocket configuration
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  4096,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		SendBufferSize:  256,
		BroadcastBuffer: 1024,
		CheckOrigin: func(r *http.Request) bool {
			// Origins are enforced by the CORS layer in front of the mux.
			return true
		},
	}
}

// NewConnectionManager creates a new WebSocket connection manager
func NewConnectionManager(config ConnectionConfig, handler InboundHandler) *ConnectionManager {
	ctx, cancel := context.WithCancel(context.Background())
	return &ConnectionManager{
		connections: make(map[string]*Connection),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:      config,
		handler:     handler,
		broadcastCh: make(chan BroadcastMessage, config.BroadcastBuffer),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Start processes broadcast messages until ctx is cancelled. A single loop keeps
// per-auction frames in the order they were enqueued.
func (cm *ConnectionManager) Start(ctx context.Context) {
	log.Info().Msg("connection manager started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("connection manager shutting down")
			return
		case message := <-cm.broadcastCh:
			cm.handleBroadcast(message)
		}
	}
}

// UpgradeConnection upgrades an HTTP connection to WebSocket and greets the viewer
func (cm *ConnectionManager) UpgradeConnection(w http.ResponseWriter, r *http.Request) (*Connection, error) {
	if cm.ctx.Err() != nil {
		return nil, fmt.Errorf("connection manager is shut down")
	}

	conn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to upgrade connection: %w", err)
	}

	now := time.Now()
	connection := &Connection{
		ID:          uuid.NewString(),
		RemoteAddr:  r.RemoteAddr,
		ConnectedAt: now,
		conn:        conn,
		send:        make(chan []byte, cm.config.SendBufferSize),
		done:        make(chan struct{}),
		manager:     cm,
	}
	connection.lastPong.Store(now.UnixNano())

	cm.registerConnection(connection)

	if err := connection.SendEnvelope(events.MessageWelcome, "", "", events.WelcomeData{
		ConnectionID:    connection.ID,
		ServerTimestamp: now.UTC(),
	}); err != nil {
		log.Warn().Err(err).Str("connection_id", connection.ID).Msg("failed to queue welcome")
	}

	cm.pumps.Add(2)
	go connection.writePump()
	go connection.readPump()

	log.Info().
		Str("connection_id", connection.ID).
		Str("remote_addr", connection.RemoteAddr).
		Msg("WebSocket connection established")

	return connection, nil
}

func (cm *ConnectionManager) registerConnection(conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	cm.connections[conn.ID] = conn

	log.Debug().
		Str("connection_id", conn.ID).
		Int("total_connections", len(cm.connections)).
		Msg("connection registered")
}

// unregisterConnection removes a connection from the manager. It reports whether it was registered.
func (cm *ConnectionManager) unregisterConnection(conn *Connection) bool {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if existing, ok := cm.connections[conn.ID]; !ok || existing != conn {
		return false
	}
	delete(cm.connections, conn.ID)

	log.Info().
		Str("connection_id", conn.ID).
		Dur("connected_for", time.Since(conn.ConnectedAt)).
		Msg("connection unregistered")
	return true
}

// Broadcast queues a frame for the given connections. It never blocks; when the queue
// is full the frame is dropped and viewers catch up on the next snapshot.
func (cm *ConnectionManager) Broadcast(message BroadcastMessage) {
	if len(message.Targets) == 0 {
		return
	}
	select {
	case cm.broadcastCh <- message:
	default:
		log.Warn().
			Str("auction_id", message.AuctionID.String()).
			Str("type", string(message.Type)).
			Msg("broadcast channel full, dropping message")
	}
}

func (cm *ConnectionManager) handleBroadcast(message BroadcastMessage) {
	cm.mu.RLock()
	targets := make([]*Connection, 0, len(message.Targets))
	for _, id := range message.Targets {
		if c, ok := cm.connections[id]; ok {
			targets = append(targets, c)
		}
	}
	cm.mu.RUnlock()

	delivered := 0
	for _, c := range targets {
		if c.enqueue(message.Frame) {
			delivered++
		}
	}

	log.Debug().
		Str("type", string(message.Type)).
		Str("auction_id", message.AuctionID.String()).
		Int("connections", delivered).
		Msg("frame broadcast")
}

// GetConnectionStats returns statistics about active connections
func (cm *ConnectionManager) GetConnectionStats() map[string]any {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	// Age of the least recent pong across all viewers.
	var stalest time.Duration
	now := time.Now()
	for _, c := range cm.connections {
		if age := now.Sub(c.LastPong()); age > stalest {
			stalest = age
		}
	}

	return map[string]any{
		"total_connections":    len(cm.connections),
		"broadcast_backlog":    len(cm.broadcastCh),
		"stalest_pong_seconds": stalest.Seconds(),
	}
}

// Shutdown closes every connection and waits for their pumps to exit.
func (cm *ConnectionManager) Shutdown(ctx context.Context) error {
	cm.cancel()

	cm.mu.RLock()
	open := make([]*Connection, 0, len(cm.connections))
	for _, c := range cm.connections {
		open = append(open, c)
	}
	cm.mu.RUnlock()

	for _, c := range open {
		c.Close()
	}

	finished := make(chan struct{})
	go func() {
		cm.pumps.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for connections to close: %w", ctx.Err())
	}
}

// SendEnvelope queues one v1 frame for this connection only.
func (c *Connection) SendEnvelope(msgType events.MessageType, id, auctionID string, data any) error {
	frame, err := encodeFrame(msgType, id, auctionID, data)
	if err != nil {
		return err
	}
	if !c.enqueue(frame) {
		return fmt.Errorf("connection %s is closed", c.ID)
	}
	return nil
}

// Close stops the connection; the pumps tear down the socket.
func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

// enqueue hands a frame to the write pump. A full buffer marks the viewer as too slow
// and the connection is closed; it reconnects and reconciles from a snapshot.
func (c *Connection) enqueue(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- frame:
		return true
	case <-c.done:
		return false
	default:
		log.Warn().
			Str("connection_id", c.ID).
			Msg("connection send buffer full, closing connection")
		c.Close()
		return false
	}
}

func encodeFrame(msgType events.MessageType, id, auctionID string, data any) ([]byte, error) {
	env, err := events.NewEnvelope(msgType, id, auctionID, data)
	if err != nil {
		return nil, err
	}
	frame, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal %s envelope: %w", msgType, err)
	}
	return frame, nil
}

// writePump handles sending messages to the WebSocket connection
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.manager.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.manager.pumps.Done()
	}()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.manager.config.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Debug().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to write message to WebSocket")
				c.Close()
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.manager.config.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Debug().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to send ping")
				c.Close()
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(c.manager.config.WriteTimeout))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// readPump reads frames until the socket fails, then releases the viewer's memberships.
func (c *Connection) readPump() {
	defer func() {
		c.Close()
		c.conn.Close()
		if c.manager.unregisterConnection(c) && c.manager.handler != nil {
			c.manager.handler.HandleDisconnect(context.Background(), c)
		}
		c.manager.pumps.Done()
	}()

	c.conn.SetReadLimit(c.manager.config.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.manager.config.ReadTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.manager.config.ReadTimeout))
		c.lastPong.Store(time.Now().UnixNano())
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				log.Warn().
					Err(err).
					Str("connection_id", c.ID).
					Msg("unexpected WebSocket close error")
			}
			return
		}

		if c.manager.handler != nil {
			c.manager.handler.HandleMessage(c.manager.ctx, c, message)
		}
		c.conn.SetReadDeadline(time.Now().Add(c.manager.config.ReadTimeout))
	}
}

// LastPong reports when the viewer last answered a ping.
func (c *Connection) LastPong() time.Time {
	return time.Unix(0, c.lastPong.Load())
}
