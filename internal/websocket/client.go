package websocket

import (
	"errors"
	"sync"
	"time"

	"chat-relay/internal/models"
	"chat-relay/pkg/logger"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

var (
	ErrClientClosed   = errors.New("client connection closed")
	ErrSendBufferFull = errors.New("client send buffer full")
)

type Options struct {
	SendBuffer      int
	MaxMessageBytes int64
	FramesPerSecond float64
	FrameBurst      int
}

func DefaultOptions() Options {
	return Options{
		SendBuffer:      256,
		MaxMessageBytes: 8192,
		FramesPerSecond: 20,
		FrameBurst:      40,
	}
}

// Client is one websocket connection. It satisfies registry.Handle.
type Client struct {
	hub      *Hub
	conn     *websocket.Conn
	send     chan []byte
	id       string
	userID   string
	username string
	frames   *rate.Limiter
	maxBytes int64

	mu     sync.Mutex
	closed bool
}

func NewClient(hub *Hub, conn *websocket.Conn, userID, username string, opts Options) *Client {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = DefaultOptions().SendBuffer
	}
	limit := rate.Inf
	if opts.FramesPerSecond > 0 {
		limit = rate.Limit(opts.FramesPerSecond)
	}
	return &Client{
		hub:      hub,
		conn:     conn,
		send:     make(chan []byte, opts.SendBuffer),
		id:       uuid.NewString(),
		userID:   userID,
		username: username,
		frames:   rate.NewLimiter(limit, opts.FrameBurst),
		maxBytes: opts.MaxMessageBytes,
	}
}

func (c *Client) ID() string       { return c.id }
func (c *Client) UserID() string   { return c.userID }
func (c *Client) Username() string { return c.username }

func (c *Client) enqueue(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClientClosed
	}
	select {
	case c.send <- data:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// close stops the write pump. It reports false if already closed.
func (c *Client) close() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.closed = true
	close(c.send)
	return true
}

// ReadPump hands each text frame to onMessage until the connection fails,
// then detaches the client from the hub and calls onClose.
func (c *Client) ReadPump(onMessage func(data []byte), onClose func()) {
	defer func() {
		c.hub.Disconnect(c)
		if onClose != nil {
			onClose()
		}
		c.conn.Close()
	}()

	if c.maxBytes > 0 {
		c.conn.SetReadLimit(c.maxBytes)
	}
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Error("WebSocket error for %s: %v", c.userID, err)
			}
			return
		}

		if !c.frames.Allow() {
			logger.Warn("Dropping frame from %s: too many frames", c.userID)
			c.hub.Send(c, models.EventError, models.ErrorPayload{Reason: "too many frames"})
			continue
		}
		onMessage(data)
	}
}

func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				logger.Error("Write error for %s: %v", c.userID, err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
