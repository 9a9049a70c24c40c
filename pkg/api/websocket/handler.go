package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/aescanero/modjob/internal/application/jobs"
	apihttp "github.com/aescanero/modjob/pkg/api/http"
	"github.com/aescanero/modjob/pkg/domain"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBuffer     = 32
)

// Message types exchanged with clients
const (
	TypeConnected = "connected"
	TypeSubmit    = "submit"
	TypeAccepted  = "accepted"
	TypeResult    = "result"
	TypeError     = "error"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Message is the JSON frame sent in both directions
type Message struct {
	Type          string         `json:"type"`
	ConnectionID  string         `json:"connection_id,omitempty"`
	JobID         string         `json:"job_id,omitempty"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	Module        string         `json:"module,omitempty"`
	Operation     string         `json:"operation,omitempty"`
	Payload       domain.Payload `json:"payload,omitempty"`
	Priority      *int           `json:"priority,omitempty"`
	Error         string         `json:"error,omitempty"`
	Event         *domain.Event  `json:"event,omitempty"`
}

// Submitter queues jobs on behalf of connected clients
type Submitter interface {
	Submit(ctx context.Context, module, operation string, payload domain.Payload, opts ...jobs.Option) (*jobs.Handle, error)
}

// Config holds hub configuration
type Config struct {
	Jobs      Submitter
	RateLimit float64
	RateBurst int
	Logger    *zap.Logger
}

// Hub tracks websocket connections. Clients submit jobs over their
// connection and receive results routed back by connection id.
type Hub struct {
	jobs      Submitter
	rateLimit float64
	rateBurst int
	logger    *zap.Logger

	mu      sync.RWMutex
	clients map[string]*client
}

// NewHub creates a new connection hub
func NewHub(cfg *Config) *Hub {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		jobs:      cfg.Jobs,
		rateLimit: cfg.RateLimit,
		rateBurst: cfg.RateBurst,
		logger:    logger,
		clients:   make(map[string]*client),
	}
}

type client struct {
	id        string
	conn      *websocket.Conn
	requester domain.Requester
	limiter   *rate.Limiter
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func (c *client) enqueue(data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

// HandleConnection upgrades the request and serves the connection until the
// client goes away
func (h *Hub) HandleConnection(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("failed to upgrade connection", zap.Error(err))
		return
	}

	cl := &client{
		id:      uuid.New().String(),
		conn:    conn,
		limiter: rate.NewLimiter(rate.Inf, 0),
		send:    make(chan []byte, sendBuffer),
		done:    make(chan struct{}),
	}
	if h.rateLimit > 0 {
		cl.limiter = rate.NewLimiter(rate.Limit(h.rateLimit), h.rateBurst)
	}
	if r := apihttp.RequesterFromContext(c.Request.Context()); r != nil {
		cl.requester = *r
	}
	cl.requester.ConnectionID = cl.id

	h.mu.Lock()
	h.clients[cl.id] = cl
	h.mu.Unlock()

	h.logger.Info("WebSocket connection established",
		zap.String("connection_id", cl.id),
		zap.String("client", c.ClientIP()))

	defer func() {
		h.mu.Lock()
		delete(h.clients, cl.id)
		h.mu.Unlock()
		cl.close()
		h.logger.Info("WebSocket connection closed", zap.String("connection_id", cl.id))
	}()

	go h.writePump(cl)

	h.reply(cl, Message{Type: TypeConnected, ConnectionID: cl.id})
	h.readPump(c.Request.Context(), cl)
}

func (h *Hub) readPump(ctx context.Context, cl *client) {
	cl.conn.SetReadLimit(maxMessageSize)
	_ = cl.conn.SetReadDeadline(time.Now().Add(pongWait))
	cl.conn.SetPongHandler(func(string) error {
		return cl.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := cl.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("unexpected websocket close",
					zap.String("connection_id", cl.id),
					zap.Error(err))
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			h.reply(cl, Message{Type: TypeError, Error: "invalid message: " + err.Error()})
			continue
		}

		switch msg.Type {
		case TypeSubmit:
			h.submit(ctx, cl, msg)
		default:
			h.reply(cl, Message{
				Type:          TypeError,
				CorrelationID: msg.CorrelationID,
				Error:         "unknown message type: " + msg.Type,
			})
		}
	}
}

func (h *Hub) submit(ctx context.Context, cl *client, msg Message) {
	if !cl.limiter.Allow() {
		h.reply(cl, Message{Type: TypeError, CorrelationID: msg.CorrelationID, Error: "rate limit exceeded"})
		return
	}

	requester := cl.requester
	requester.CorrelationID = msg.CorrelationID

	opts := []jobs.Option{jobs.WithRequester(&requester)}
	if msg.Priority != nil {
		opts = append(opts, jobs.WithPriority(*msg.Priority))
	}

	handle, err := h.jobs.Submit(ctx, msg.Module, msg.Operation, msg.Payload, opts...)
	if err != nil {
		h.reply(cl, Message{Type: TypeError, CorrelationID: msg.CorrelationID, Error: err.Error()})
		return
	}

	h.reply(cl, Message{Type: TypeAccepted, JobID: handle.ID(), CorrelationID: msg.CorrelationID})
}

func (h *Hub) writePump(cl *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		cl.close()
	}()

	for {
		select {
		case data := <-cl.send:
			_ = cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := cl.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				h.logger.Error("failed to write message",
					zap.String("connection_id", cl.id),
					zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := cl.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-cl.done:
			return
		}
	}
}

func (h *Hub) reply(cl *client, msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("failed to marshal message", zap.Error(err))
		return
	}
	if !cl.enqueue(data) {
		h.logger.Warn("send buffer full, dropping message",
			zap.String("connection_id", cl.id),
			zap.String("type", msg.Type))
	}
}

// HandleEvent routes a job event to the connection named by its target.
// Events without a target are broadcast. Events for connections that are
// gone are dropped.
func (h *Hub) HandleEvent(ctx context.Context, event domain.Event) error {
	msg := Message{
		Type:  TypeResult,
		JobID: event.JobID,
		Event: &event,
	}
	if id, ok := event.Data["correlation_id"].(string); ok {
		msg.CorrelationID = id
	}

	h.mu.RLock()
	var targets []*client
	if event.Target == "" {
		targets = make([]*client, 0, len(h.clients))
		for _, cl := range h.clients {
			targets = append(targets, cl)
		}
	} else if cl, ok := h.clients[event.Target]; ok {
		targets = append(targets, cl)
	}
	h.mu.RUnlock()

	if len(targets) == 0 && event.Target != "" {
		h.logger.Debug("no connection for job result",
			zap.String("job_id", event.JobID),
			zap.String("connection_id", event.Target))
		return nil
	}

	for _, cl := range targets {
		h.reply(cl, msg)
	}
	return nil
}

// Connections returns the number of open connections
func (h *Hub) Connections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close closes every open connection
func (h *Hub) Close() {
	h.mu.RLock()
	clients := make([]*client, 0, len(h.clients))
	for _, cl := range h.clients {
		clients = append(clients, cl)
	}
	h.mu.RUnlock()

	for _, cl := range clients {
		_ = cl.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(writeWait))
		cl.close()
	}
}
