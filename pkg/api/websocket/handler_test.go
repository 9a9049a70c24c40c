package websocket

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aescanero/modjob/internal/application/jobs"
	"github.com/aescanero/modjob/internal/application/orchestrator"
	"github.com/aescanero/modjob/internal/application/system"
	"github.com/aescanero/modjob/pkg/adapters/events/memory"
	"github.com/aescanero/modjob/pkg/domain"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestHub(t *testing.T, limit float64, burst int) (*Hub, *httptest.Server) {
	t.Helper()

	bus := memory.NewEventBus(zap.NewNop())
	mgr := orchestrator.NewManager(orchestrator.NewValidator(), zap.NewNop())
	queue := jobs.NewQueue(&jobs.Config{Resolver: mgr, Events: bus, Logger: zap.NewNop()})
	mgr.SetScheduler(queue)
	require.NoError(t, mgr.Register(system.NewUtils(mgr, queue)))

	hub := NewHub(&Config{Jobs: queue, RateLimit: limit, RateBurst: burst, Logger: zap.NewNop()})

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, bus.Subscribe(ctx, jobs.DefaultTopic, hub.HandleEvent))
	require.NoError(t, mgr.Startup(context.Background()))

	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/ws", hub.HandleConnection)
	srv := httptest.NewServer(router)

	t.Cleanup(func() {
		hub.Close()
		srv.Close()
		_ = mgr.Shutdown(context.Background())
		cancel()
		_ = bus.Close()
	})
	return hub, srv
}

func dial(t *testing.T, srv *httptest.Server) (*websocket.Conn, string) {
	t.Helper()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	msg := read(t, conn)
	require.Equal(t, TypeConnected, msg.Type)
	require.NotEmpty(t, msg.ConnectionID)
	return conn, msg.ConnectionID
}

func read(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg Message
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestHub_SubmitAndResult(t *testing.T) {
	hub, srv := newTestHub(t, 0, 0)
	conn, id := dial(t, srv)

	require.Eventually(t, func() bool { return hub.Connections() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, conn.WriteJSON(Message{
		Type:          TypeSubmit,
		Module:        "utils",
		Operation:     "ping",
		CorrelationID: "req-1",
	}))

	accepted := read(t, conn)
	require.Equal(t, TypeAccepted, accepted.Type, accepted.Error)
	assert.Equal(t, "req-1", accepted.CorrelationID)
	require.NotEmpty(t, accepted.JobID)

	result := read(t, conn)
	require.Equal(t, TypeResult, result.Type)
	assert.Equal(t, accepted.JobID, result.JobID)
	assert.Equal(t, "req-1", result.CorrelationID)
	require.NotNil(t, result.Event)
	assert.Equal(t, domain.EventTypeJobCompleted, result.Event.Type)
	assert.Equal(t, id, result.Event.Target)
}

func TestHub_Errors(t *testing.T) {
	_, srv := newTestHub(t, 0, 0)
	conn, _ := dial(t, srv)

	tests := []struct {
		name    string
		send    func() error
		wantErr string
	}{
		{
			name:    "malformed json",
			send:    func() error { return conn.WriteMessage(websocket.TextMessage, []byte("{")) },
			wantErr: "invalid message",
		},
		{
			name:    "unknown type",
			send:    func() error { return conn.WriteJSON(Message{Type: "dance"}) },
			wantErr: "unknown message type",
		},
		{
			name: "unknown module",
			send: func() error {
				return conn.WriteJSON(Message{Type: TypeSubmit, Module: "ghost", Operation: "ping"})
			},
			wantErr: "module not found",
		},
		{
			name: "unknown operation",
			send: func() error {
				return conn.WriteJSON(Message{Type: TypeSubmit, Module: "utils", Operation: "ghost"})
			},
			wantErr: "operation not found",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, tt.send())
			msg := read(t, conn)
			assert.Equal(t, TypeError, msg.Type)
			assert.Contains(t, msg.Error, tt.wantErr)
		})
	}
}

func TestHub_FailedJobIsDelivered(t *testing.T) {
	_, srv := newTestHub(t, 0, 0)
	conn, _ := dial(t, srv)

	// anonymous connections cannot run admin operations
	require.NoError(t, conn.WriteJSON(Message{Type: TypeSubmit, Module: "utils", Operation: "getStats"}))
	require.Equal(t, TypeAccepted, read(t, conn).Type)

	result := read(t, conn)
	require.NotNil(t, result.Event)
	assert.Equal(t, domain.EventTypeJobFailed, result.Event.Type)
}

func TestHub_RateLimit(t *testing.T) {
	_, srv := newTestHub(t, 0.001, 1)
	conn, _ := dial(t, srv)

	require.NoError(t, conn.WriteJSON(Message{Type: TypeSubmit, Module: "utils", Operation: "sleep", Payload: domain.Payload{"ms": 50}}))
	assert.Equal(t, TypeAccepted, read(t, conn).Type)

	require.NoError(t, conn.WriteJSON(Message{Type: TypeSubmit, Module: "utils", Operation: "ping", CorrelationID: "second"}))
	msg := read(t, conn)
	assert.Equal(t, TypeError, msg.Type)
	assert.Equal(t, "second", msg.CorrelationID)
	assert.Equal(t, "rate limit exceeded", msg.Error)
}

func TestHub_HandleEvent(t *testing.T) {
	hub, srv := newTestHub(t, 0, 0)
	first, firstID := dial(t, srv)
	second, _ := dial(t, srv)

	t.Run("unknown target is dropped", func(t *testing.T) {
		assert.NoError(t, hub.HandleEvent(context.Background(), domain.Event{JobID: "j1", Target: "gone"}))
	})

	t.Run("targeted", func(t *testing.T) {
		require.NoError(t, hub.HandleEvent(context.Background(), domain.Event{JobID: "j2", Target: firstID}))
		assert.Equal(t, "j2", read(t, first).JobID)
	})

	t.Run("broadcast", func(t *testing.T) {
		require.NoError(t, hub.HandleEvent(context.Background(), domain.Event{JobID: "j3"}))
		assert.Equal(t, "j3", read(t, first).JobID)
		assert.Equal(t, "j3", read(t, second).JobID)
	})
}

func TestHub_Close(t *testing.T) {
	hub, srv := newTestHub(t, 0, 0)
	conn, _ := dial(t, srv)

	hub.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway) || strings.Contains(err.Error(), "EOF") || strings.Contains(err.Error(), "reset"))

	require.Eventually(t, func() bool { return hub.Connections() == 0 }, time.Second, 5*time.Millisecond)
}
