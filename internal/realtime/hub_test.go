package realtime_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koopa0/system-design/14-procurement-hub/internal/auth"
	"github.com/koopa0/system-design/14-procurement-hub/internal/realtime"
	"github.com/koopa0/system-design/14-procurement-hub/internal/session"
	"github.com/koopa0/system-design/14-procurement-hub/pkg/logger"
)

type received struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type fixture struct {
	hub      *realtime.Hub
	server   *httptest.Server
	sessions *session.MemoryStore
	gone     chan string
}

func newFixture(t *testing.T, maxConnections int) *fixture {
	t.Helper()

	sessions := session.NewMemoryStore(session.Lifetime{
		InactivityTimeout: 30 * time.Minute,
		MaxLifetime:       8 * time.Hour,
	})
	resolver := auth.NewResolver("super_admin", map[string]map[string]bool{
		"clerk": {"supply:read": true},
	}, nil, logger.Discard())

	f := &fixture{sessions: sessions, gone: make(chan string, 8)}
	f.hub = realtime.NewHub(sessions, resolver, realtime.Options{
		MaxConnections: maxConnections,
		RetryAfter:     5 * time.Second,
		OnDisconnect:   func(username string) { f.gone <- username },
	}, logger.Discard())

	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", f.hub.ServeWS)
	f.server = httptest.NewServer(mux)

	t.Cleanup(func() {
		f.hub.Stop()
		f.server.Close()
	})
	return f
}

func (f *fixture) login(t *testing.T, username, role string) string {
	t.Helper()
	s, err := f.sessions.Create(context.Background(), username, role)
	require.NoError(t, err)
	return s.ID
}

func (f *fixture) dial(t *testing.T, sessionID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws"
	if sessionID != "" {
		url += "?session_id=" + sessionID
	}
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func read(t *testing.T, ws *websocket.Conn) received {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg received
	require.NoError(t, ws.ReadJSON(&msg))
	return msg
}

func connect(t *testing.T, f *fixture, sessionID string) (*websocket.Conn, map[string]string) {
	t.Helper()
	ws := f.dial(t, sessionID)
	msg := read(t, ws)
	require.Equal(t, realtime.EventConnected, msg.Event)

	var data map[string]string
	require.NoError(t, json.Unmarshal(msg.Data, &data))
	return ws, data
}

func send(t *testing.T, ws *websocket.Conn, typ, room string) {
	t.Helper()
	require.NoError(t, ws.WriteJSON(map[string]string{"type": typ, "room": room}))
}

// TestHub_PublicConnection 未登入連線只能收全域事件
func TestHub_PublicConnection(t *testing.T) {
	f := newFixture(t, 10)

	ws, info := connect(t, f, "")
	assert.Equal(t, string(realtime.ClassPublic), info["class"])

	send(t, ws, "join-room", "supply-2024")
	msg := read(t, ws)
	assert.Equal(t, realtime.EventRoomError, msg.Event)

	send(t, ws, "join-room", "gaming-room")
	assert.Equal(t, realtime.EventRoomError, read(t, ws).Event)

	f.hub.EmitToAll("homepage-data-update", map[string]string{"type": "supply"})
	msg = read(t, ws)
	assert.Equal(t, "homepage-data-update", msg.Event)
	assert.JSONEq(t, `{"type":"supply"}`, string(msg.Data))

	// 無效的 session 也視為 public
	_, info = connect(t, f, "no-such-session")
	assert.Equal(t, string(realtime.ClassPublic), info["class"])
}

// TestHub_RoomPermissions 加入房間需要讀取權限
func TestHub_RoomPermissions(t *testing.T) {
	f := newFixture(t, 10)

	ws, info := connect(t, f, f.login(t, "alice", "clerk"))
	assert.Equal(t, string(realtime.ClassAuthenticated), info["class"])
	assert.Equal(t, "alice", info["username"])

	send(t, ws, "join-room", "bill-2024")
	msg := read(t, ws)
	assert.Equal(t, realtime.EventRoomError, msg.Event)
	assert.Contains(t, string(msg.Data), "FORBIDDEN")

	send(t, ws, "join-room", "supply-2024")
	assert.Equal(t, realtime.EventRoomJoin, read(t, ws).Event)

	send(t, ws, "join-room", "gaming-room")
	assert.Equal(t, realtime.EventRoomJoin, read(t, ws).Event)

	f.hub.EmitToRoom("demand-2024", "data-change", "not for alice")
	f.hub.EmitToRoom("supply-2024", "data-change", map[string]string{"action": "created"})
	msg = read(t, ws)
	assert.Equal(t, "data-change", msg.Event)
	assert.JSONEq(t, `{"action":"created"}`, string(msg.Data))

	send(t, ws, "leave-room", "supply-2024")
	assert.Equal(t, realtime.EventRoomLeft, read(t, ws).Event)
	f.hub.EmitToRoom("supply-2024", "data-change", "after leave")
	send(t, ws, "ping", "")
	assert.Equal(t, realtime.EventPong, read(t, ws).Event, "left room receives nothing")

	// 最高權限角色不受限制
	admin, _ := connect(t, f, f.login(t, "root", "super_admin"))
	send(t, admin, "join-room", "bill-2024")
	assert.Equal(t, realtime.EventRoomJoin, read(t, admin).Event)
}

// TestHub_Admission 超過上限送出拒絕事件並關閉
func TestHub_Admission(t *testing.T) {
	f := newFixture(t, 1)

	first, _ := connect(t, f, "")

	second := f.dial(t, "")
	msg := read(t, second)
	require.Equal(t, realtime.EventRejected, msg.Event)

	var data struct {
		Reason     string `json:"reason"`
		RetryAfter int64  `json:"retryAfter"`
	}
	require.NoError(t, json.Unmarshal(msg.Data, &data))
	assert.Equal(t, int64(5000), data.RetryAfter)
	assert.NotEmpty(t, data.Reason)

	_, _, err := second.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.ClosePolicyViolation), "got %v", err)

	// 第一條關閉後名額釋放
	require.NoError(t, first.Close())
	require.Eventually(t, func() bool {
		stats := f.hub.Stats()["admission"].(realtime.AdmissionStats)
		return stats.Active == 0
	}, 2*time.Second, 10*time.Millisecond)

	_, info := connect(t, f, "")
	assert.Equal(t, string(realtime.ClassPublic), info["class"])
}

// TestHub_OnDisconnect 使用者最後一條連線關閉才觸發
func TestHub_OnDisconnect(t *testing.T) {
	f := newFixture(t, 10)
	sid := f.login(t, "bob", "clerk")

	a, _ := connect(t, f, sid)
	b, _ := connect(t, f, sid)

	require.NoError(t, a.Close())
	select {
	case name := <-f.gone:
		t.Fatalf("unexpected disconnect for %s", name)
	case <-time.After(200 * time.Millisecond):
	}

	require.NoError(t, b.Close())
	select {
	case name := <-f.gone:
		assert.Equal(t, "bob", name)
	case <-time.After(2 * time.Second):
		t.Fatal("OnDisconnect not called")
	}
}
