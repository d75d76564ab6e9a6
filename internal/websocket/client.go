package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	ws "github.com/coder/websocket"

	"github.com/flacronsport/daily/internal/premium"
	"github.com/flacronsport/daily/internal/worker"
)

const (
	sendBufferSize = 16
	pingInterval   = 30 * time.Second
	checkTimeout   = 10 * time.Second
)

// Client is a single connection owned by one subject.
type Client struct {
	hub     *Hub
	conn    *ws.Conn
	subject string
	checker premium.Checker
	logger  *slog.Logger
	send    chan []byte
}

// NewClient creates a Client tied to the given hub and connection.
func NewClient(hub *Hub, conn *ws.Conn, subject string, checker premium.Checker, logger *slog.Logger) *Client {
	return &Client{
		hub:     hub,
		conn:    conn,
		subject: subject,
		checker: checker,
		logger:  logger,
		send:    make(chan []byte, sendBufferSize),
	}
}

// Run registers the client, sends the current status, starts the write pump
// and runs the read pump. It blocks until the connection is closed.
func (c *Client) Run(ctx context.Context) {
	c.hub.Register(c)
	defer c.hub.Unregister(c)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go c.writePump(ctx)
	c.reply(ctx)
	c.readPump(ctx)
}

// readPump answers status requests and ignores everything else. It returns
// on error (connection close), which triggers cleanup.
func (c *Client) readPump(ctx context.Context) {
	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			return
		}
		msg, ok, err := worker.ParseMessage(data)
		if err != nil || !ok {
			continue
		}
		if msg.Type == worker.TypeRequestStatus {
			c.reply(ctx)
		}
	}
}

// reply resolves the subject's entitlement and queues a status update.
func (c *Client) reply(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	isPremium, err := c.checker.Premium(ctx, c.subject)
	if err != nil {
		c.logger.Warn("websocket entitlement check", "subject", c.subject, "error", err)
		isPremium = false
	}
	data, err := json.Marshal(worker.StatusUpdate(premium.State{Premium: isPremium}))
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

// writePump drains the send channel and writes messages to the connection.
// It also sends periodic pings to detect stale connections.
func (c *Client) writePump(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.Write(ctx, ws.MessageText, msg); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.Ping(ctx); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}
