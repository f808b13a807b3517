package realtime

import (
	"bufio"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"medsupply/internal/metrics"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHub() *Hub {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return NewHub(log, metrics.NewRegistry())
}

func recv(t *testing.T, c *Conn) Message {
	t.Helper()
	select {
	case m := <-c.Messages():
		return m
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
		return Message{}
	}
}

func assertEmpty(t *testing.T, c *Conn) {
	t.Helper()
	select {
	case m := <-c.Messages():
		t.Fatalf("unexpected message %q", m.Name)
	default:
	}
}

func TestHub_NotStarted(t *testing.T) {
	h := newTestHub()
	assert.ErrorIs(t, h.BroadcastGlobal("x", nil), ErrNotStarted)
	assert.ErrorIs(t, h.BroadcastToRoom(RoomAdmin, "x", nil), ErrNotStarted)
	_, err := h.Connect(RoomAdmin)
	assert.ErrorIs(t, err, ErrNotStarted)
}

func TestHub_RoomRouting(t *testing.T) {
	h := newTestHub()
	h.Start()
	h.Start()

	admin, err := h.Connect("admin-1", "admin", RoomAdmin)
	require.NoError(t, err)
	hosp, err := h.Connect("hosp-1", "hospital", RoomHospitals)
	require.NoError(t, err)

	require.NoError(t, h.BroadcastToRoom(RoomAdmin, "ADMIN_NEW_ORDER", map[string]string{"type": "NEW_ORDER"}))
	m := recv(t, admin)
	assert.Equal(t, "ADMIN_NEW_ORDER", m.Name)
	assert.Equal(t, RoomAdmin, m.Room)
	assertEmpty(t, hosp)

	require.NoError(t, h.BroadcastToRoom("hosp-1", "orderUpdated", nil))
	assert.Equal(t, "orderUpdated", recv(t, hosp).Name)
	assertEmpty(t, admin)

	require.NoError(t, h.BroadcastGlobal("orderStatusChanged", nil))
	assert.Equal(t, "orderStatusChanged", recv(t, admin).Name)
	assert.Equal(t, "orderStatusChanged", recv(t, hosp).Name)

	require.NoError(t, h.BroadcastToRoom("nobody", "x", nil))
}

func TestHub_JoinLeaveDisconnect(t *testing.T) {
	h := newTestHub()
	h.Start()

	c, err := h.Connect()
	require.NoError(t, err)
	require.NoError(t, h.Join(c.ID, RoomAdmin))
	assert.Equal(t, 1, h.RoomSize(RoomAdmin))

	require.NoError(t, h.Leave(c.ID, RoomAdmin))
	assert.Equal(t, 0, h.RoomSize(RoomAdmin))

	h.Disconnect(c.ID)
	h.Disconnect(c.ID)
	_, ok := <-c.Messages()
	assert.False(t, ok)
	assert.ErrorIs(t, h.Join(c.ID, RoomAdmin), ErrUnknownConn)
}

func TestHub_SlowConsumerDropsInsteadOfBlocking(t *testing.T) {
	h := newTestHub()
	h.buffer = 1
	h.Start()

	c, err := h.Connect(RoomAdmin)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			_ = h.BroadcastToRoom(RoomAdmin, "x", i)
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("broadcast blocked on a full connection")
	}
	assert.Equal(t, 0, recv(t, c).Payload)
}

func TestHub_ObserverSeesBroadcasts(t *testing.T) {
	h := newTestHub()
	var seen []Message
	h.Observe(func(m Message) { seen = append(seen, m) })
	h.Start()

	require.NoError(t, h.BroadcastToRoom(RoomAdmin, "lowStock", nil))
	require.NoError(t, h.BroadcastGlobal("lowStock", nil))
	require.Len(t, seen, 2)
	assert.Equal(t, RoomAdmin, seen[0].Room)
	assert.Empty(t, seen[1].Room)
	assert.NotEqual(t, seen[0].ID, seen[1].ID)
}

func TestHub_StopClosesConnections(t *testing.T) {
	h := newTestHub()
	h.Start()
	c, err := h.Connect(RoomAdmin)
	require.NoError(t, err)

	h.Stop()
	_, ok := <-c.Messages()
	assert.False(t, ok)
	assert.ErrorIs(t, h.BroadcastGlobal("x", nil), ErrNotStarted)
}

func TestServeSSE(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := newTestHub()
	h.Start()

	r := gin.New()
	r.GET("/events", h.ServeSSE(func(*gin.Context) []string { return []string{"u1"} }))
	srv := httptest.NewServer(r)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	lines := bufio.NewScanner(resp.Body)
	waitEvent := func(name string) {
		for lines.Scan() {
			line := lines.Text()
			if strings.HasPrefix(line, "event:") && strings.TrimSpace(strings.TrimPrefix(line, "event:")) == name {
				return
			}
		}
		t.Fatalf("stream ended before event %q", name)
	}

	waitEvent("ready")
	require.Eventually(t, func() bool { return h.RoomSize("u1") == 1 }, time.Second, 10*time.Millisecond)
	require.NoError(t, h.BroadcastToRoom("u1", "orderUpdated", map[string]string{"order_id": "1234"}))
	waitEvent("orderUpdated")
}

func TestServeSSE_NotStarted(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := newTestHub()

	r := gin.New()
	r.GET("/events", h.ServeSSE(func(*gin.Context) []string { return nil }))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/events", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
