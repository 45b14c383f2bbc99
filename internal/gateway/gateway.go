// Package gateway terminates live websocket connections, subscribes each
// to its user's pub/sub channel and pushes matching published events down
// the socket. Delivery here is at-most-once per live connection; durable
// delivery for offline users is the notification queue's job.
package gateway

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"tickerpulse/internal/store"
	"tickerpulse/internal/subscription"
)

const (
	writeTimeout = 10 * time.Second
	pongTimeout  = 60 * time.Second
	pingInterval = 45 * time.Second
)

// clientMessage is the client->server protocol frame.
type clientMessage struct {
	Type    string `json:"type"`
	Payload struct {
		Tickers []string `json:"tickers"`
	} `json:"payload"`
}

// ackMessage is the server->client acknowledgement frame.
type ackMessage struct {
	Type    string `json:"type"`
	Payload struct {
		Tickers []string `json:"tickers"`
	} `json:"payload"`
}

type Gateway struct {
	store    store.Store
	registry *subscription.Registry
	logger   *logrus.Logger
	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns map[string]*client
}

type client struct {
	id      string
	userID  int64
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func New(s store.Store, registry *subscription.Registry, logger *logrus.Logger) *Gateway {
	return &Gateway{
		store:    s,
		registry: registry,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Authentication happens upstream; origin policy is not this
			// layer's concern.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		conns: make(map[string]*client),
	}
}

// HandleWS upgrades the connection and runs its read loop until close.
func (g *Gateway) HandleWS(c *gin.Context) {
	userID, err := strconv.ParseInt(c.Query("user_id"), 10, 64)
	if err != nil || userID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "valid user_id is required"})
		return
	}

	conn, err := g.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		g.logger.Warnf("WebSocket upgrade failed: %v", err)
		return
	}

	g.serve(c.Request.Context(), conn, userID)
}

func (g *Gateway) serve(ctx context.Context, conn *websocket.Conn, userID int64) {
	cl := &client{id: uuid.New().String(), userID: userID, conn: conn}

	if err := g.registry.Register(ctx, cl.id, userID); err != nil {
		g.logger.Errorf("Connection register failed for user %d: %v", userID, err)
		_ = conn.Close()
		return
	}

	// Dedicated subscriber connection for this socket's user channel.
	sub, err := g.store.Subscribe(ctx, subscription.UserChannel(userID))
	if err != nil {
		g.logger.Errorf("Channel subscribe failed for user %d: %v", userID, err)
		_ = g.registry.Cleanup(context.WithoutCancel(ctx), cl.id)
		_ = conn.Close()
		return
	}

	g.mu.Lock()
	g.conns[cl.id] = cl
	g.mu.Unlock()
	g.logger.Infof("Connection %s opened for user %d", cl.id, userID)

	done := make(chan struct{})
	pushDone := make(chan struct{})
	go func() {
		g.pushLoop(cl, sub)
		close(pushDone)
	}()
	go g.pingLoop(cl, done)

	g.readLoop(ctx, cl)

	// Teardown order matters: clean the registry first, release the
	// subscriber connection last, so a concurrently published message
	// cannot land between registry removal and channel release. The push
	// loop keeps running until the subscription closes, so anything
	// published during that window is still written to the socket.
	close(done)
	cleanupCtx := context.WithoutCancel(ctx)
	if err := g.registry.Cleanup(cleanupCtx, cl.id); err != nil {
		g.logger.Warnf("Cleanup failed for connection %s: %v", cl.id, err)
	}
	g.mu.Lock()
	delete(g.conns, cl.id)
	g.mu.Unlock()
	_ = sub.Close()
	<-pushDone
	_ = conn.Close()
	g.logger.Infof("Connection %s closed for user %d", cl.id, userID)
}

// pushLoop copies published channel messages to the socket until the
// subscription closes. A write error stops writing but not draining; the
// notification queue is the durability path for anything dropped.
func (g *Gateway) pushLoop(cl *client, sub store.Subscription) {
	writeFailed := false
	for msg := range sub.Messages() {
		if writeFailed {
			continue
		}
		if err := cl.write(websocket.TextMessage, []byte(msg.Payload)); err != nil {
			writeFailed = true
		}
	}
}

func (g *Gateway) pingLoop(cl *client, done <-chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := cl.write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readLoop handles subscribe/unsubscribe frames until the socket closes.
// Malformed frames are ignored per-message; the connection stays open.
func (g *Gateway) readLoop(ctx context.Context, cl *client) {
	cl.conn.SetReadLimit(4096)
	_ = cl.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	cl.conn.SetPongHandler(func(string) error {
		return cl.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	})

	for {
		_, raw, err := cl.conn.ReadMessage()
		if err != nil {
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			g.logger.Debugf("Ignoring malformed frame on %s: %v", cl.id, err)
			continue
		}

		switch msg.Type {
		case "subscribe":
			if len(msg.Payload.Tickers) == 0 {
				continue
			}
			topics := make([]string, len(msg.Payload.Tickers))
			for i, t := range msg.Payload.Tickers {
				topics[i] = subscription.TickerTopic(t)
			}
			if err := g.registry.Subscribe(ctx, cl.id, topics); err != nil {
				g.logger.Warnf("Subscribe failed on %s: %v", cl.id, err)
				continue
			}
			g.ack(cl, "subscribed", msg.Payload.Tickers)
		case "unsubscribe":
			if len(msg.Payload.Tickers) == 0 {
				continue
			}
			topics := make([]string, len(msg.Payload.Tickers))
			for i, t := range msg.Payload.Tickers {
				topics[i] = subscription.TickerTopic(t)
			}
			if err := g.registry.Unsubscribe(ctx, cl.id, topics); err != nil {
				g.logger.Warnf("Unsubscribe failed on %s: %v", cl.id, err)
				continue
			}
			g.ack(cl, "unsubscribed", msg.Payload.Tickers)
		default:
			g.logger.Debugf("Ignoring unknown frame type %q on %s", msg.Type, cl.id)
		}
	}
}

func (g *Gateway) ack(cl *client, ackType string, tickers []string) {
	var ack ackMessage
	ack.Type = ackType
	ack.Payload.Tickers = tickers
	data, err := json.Marshal(ack)
	if err != nil {
		return
	}
	_ = cl.write(websocket.TextMessage, data)
}

func (cl *client) write(messageType int, data []byte) error {
	cl.writeMu.Lock()
	defer cl.writeMu.Unlock()
	_ = cl.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return cl.conn.WriteMessage(messageType, data)
}

// Close drops every live connection; used during graceful shutdown.
func (g *Gateway) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, cl := range g.conns {
		_ = cl.conn.Close()
	}
}
