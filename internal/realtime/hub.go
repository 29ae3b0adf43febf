// Package realtime 提供 WebSocket 即時推送。
//
// 系統設計問題：
//
//	資料變更與遊戲狀態要即時送到瀏覽器，同時不能讓連線數無限成長。
//
// 設計方案：
//   - Hub 集中管理連線與房間：map[room]map[*Connection]
//   - 每條連線一個緩衝 channel，寫入端非阻塞，慢客戶端的訊息直接丟棄
//   - Ping/Pong 心跳偵測死連線（54s/60s）
//   - 准入控制：超過上限先送 connection-rejected 再關閉
//
// 房間：
//   - {kind}-{financialYear}：需登入且有 <kind>:read 權限
//   - gaming-room：需登入
//   - 全域事件（homepage-data-update）送給所有連線，包含未登入的
package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/koopa0/system-design/14-procurement-hub/internal/auth"
	"github.com/koopa0/system-design/14-procurement-hub/internal/broadcast"
	"github.com/koopa0/system-design/14-procurement-hub/internal/game"
	"github.com/koopa0/system-design/14-procurement-hub/internal/session"
	apperrors "github.com/koopa0/system-design/14-procurement-hub/pkg/errors"
)

// 推送給客戶端的事件
const (
	EventConnected = "connected"
	EventRejected  = "connection-rejected"
	EventRoomJoin  = "room-joined"
	EventRoomLeft  = "room-left"
	EventRoomError = "room-error"
	EventPong      = "pong"
)

// SessionLookup 以 session id 查身分（由 session.Store 實作）
type SessionLookup interface {
	Get(ctx context.Context, id string) (*session.Session, error)
}

// Authorizer 權限判斷（由 auth.Resolver 實作）
type Authorizer interface {
	Allowed(role, perm string) bool
}

// Message 推送訊息格式
type Message struct {
	Event     string `json:"event"`
	Data      any    `json:"data,omitempty"`
	Timestamp string `json:"timestamp"`
}

// Options Hub 設定
type Options struct {
	MaxConnections int
	RetryAfter     time.Duration
	AllowedOrigins []string
	CookieName     string
	// OnDisconnect 使用者最後一條連線關閉時呼叫
	OnDisconnect func(username string)
}

// Hub WebSocket 連線中心
type Hub struct {
	sessions  SessionLookup
	perms     Authorizer
	admission *Admission
	logger    *slog.Logger
	upgrader  websocket.Upgrader
	opts      Options

	conns map[*Connection]struct{}
	rooms map[string]map[*Connection]struct{}
	users map[string]int // username -> 連線數
	mu    sync.RWMutex

	dropped atomic.Int64
}

// NewHub 創建 Hub
func NewHub(sessions SessionLookup, perms Authorizer, opts Options, logger *slog.Logger) *Hub {
	if opts.CookieName == "" {
		opts.CookieName = "sid"
	}

	hub := &Hub{
		sessions:  sessions,
		perms:     perms,
		admission: NewAdmission(opts.MaxConnections, opts.RetryAfter),
		logger:    logger,
		opts:      opts,
		conns:     make(map[*Connection]struct{}),
		rooms:     make(map[string]map[*Connection]struct{}),
		users:     make(map[string]int),
	}
	hub.upgrader = websocket.Upgrader{
		CheckOrigin:     hub.checkOrigin,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}
	return hub
}

// checkOrigin 未設定白名單時允許所有來源
func (hub *Hub) checkOrigin(r *http.Request) bool {
	if len(hub.opts.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	return origin == "" || slices.Contains(hub.opts.AllowedOrigins, origin)
}

// identify 以 query 的 session_id 或 cookie 找出身分；找不到視為 public
func (hub *Hub) identify(r *http.Request) (*session.Session, Class) {
	sid := r.URL.Query().Get("session_id")
	if sid == "" {
		if cookie, err := r.Cookie(hub.opts.CookieName); err == nil {
			sid = cookie.Value
		}
	}
	if sid == "" || hub.sessions == nil {
		return nil, ClassPublic
	}

	sess, err := hub.sessions.Get(r.Context(), sid)
	if err != nil {
		if apperrors.IsUpstream(err) {
			hub.logger.Warn("查詢 session 失敗，以 public 連線處理", "error", err)
		}
		return nil, ClassPublic
	}
	return sess, ClassAuthenticated
}

// ServeWS 處理 WebSocket 連線
func (hub *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	sess, class := hub.identify(r)

	ws, err := hub.upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.logger.Error("升級 WebSocket 失敗", "error", err)
		return
	}

	ticket, ok := hub.admission.Admit(class)
	if !ok {
		hub.reject(ws)
		return
	}

	c := &Connection{
		Class:  class,
		Conn:   ws,
		Send:   make(chan []byte, 256),
		hub:    hub,
		ticket: ticket,
		rooms:  make(map[string]struct{}),
	}
	if sess != nil {
		c.Username = sess.Username
		c.Role = sess.Role
	}

	// 註冊前先放入 connected，確保它是第一則訊息
	if msg, ok := hub.encode(EventConnected, map[string]any{
		"class":    class,
		"username": c.Username,
	}); ok {
		c.Send <- msg
	}

	hub.register(c)

	go c.writePump()
	go c.readPump()

	hub.logger.Debug("WebSocket 連接建立", "class", class, "username", c.Username)
}

// reject 超過上限：送出拒絕事件後關閉
func (hub *Hub) reject(ws *websocket.Conn) {
	retryAfter := hub.admission.RetryAfter()
	hub.logger.Warn("連線數已達上限，拒絕連線", "retry_after", retryAfter)

	deadline := time.Now().Add(time.Second)
	_ = ws.SetWriteDeadline(deadline)
	_ = ws.WriteJSON(Message{
		Event: EventRejected,
		Data: map[string]any{
			"reason":     "server at capacity",
			"retryAfter": retryAfter.Milliseconds(),
		},
		Timestamp: now(),
	})
	_ = ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "server at capacity"), deadline)
	_ = ws.Close()
}

// register 註冊連線
func (hub *Hub) register(c *Connection) {
	hub.mu.Lock()
	defer hub.mu.Unlock()

	hub.conns[c] = struct{}{}
	if c.Username != "" {
		hub.users[c.Username]++
	}
}

// unregister 取消註冊；使用者最後一條連線關閉時觸發 OnDisconnect
func (hub *Hub) unregister(c *Connection) {
	c.ticket.Release()

	hub.mu.Lock()
	if _, exists := hub.conns[c]; !exists {
		hub.mu.Unlock()
		return
	}

	delete(hub.conns, c)
	for room := range c.rooms {
		hub.leaveLocked(c, room)
	}
	c.closeSend()

	last := false
	if c.Username != "" {
		hub.users[c.Username]--
		if hub.users[c.Username] <= 0 {
			delete(hub.users, c.Username)
			last = true
		}
	}
	hub.mu.Unlock()

	if last && hub.opts.OnDisconnect != nil {
		hub.opts.OnDisconnect(c.Username)
	}
}

// authorize 判斷連線能否加入房間
func (hub *Hub) authorize(c *Connection, room string) error {
	if c.Class != ClassAuthenticated {
		return apperrors.ErrSessionNotFound
	}
	if room == game.GamingRoom {
		return nil
	}

	kind, fy := broadcast.SplitTopic(room)
	if fy == "" {
		return apperrors.Invalid("unknown room: %s", room)
	}
	if hub.perms == nil || !hub.perms.Allowed(c.Role, auth.ReadPermission(kind)) {
		return apperrors.ErrPermissionDenied
	}
	return nil
}

// join 加入房間
func (hub *Hub) join(c *Connection, room string) error {
	if err := hub.authorize(c, room); err != nil {
		return err
	}

	hub.mu.Lock()
	defer hub.mu.Unlock()

	if _, exists := hub.conns[c]; !exists {
		return nil
	}
	if hub.rooms[room] == nil {
		hub.rooms[room] = make(map[*Connection]struct{})
	}
	hub.rooms[room][c] = struct{}{}
	c.rooms[room] = struct{}{}
	return nil
}

// leave 離開房間
func (hub *Hub) leave(c *Connection, room string) {
	hub.mu.Lock()
	defer hub.mu.Unlock()
	hub.leaveLocked(c, room)
}

func (hub *Hub) leaveLocked(c *Connection, room string) {
	delete(c.rooms, room)
	if members, exists := hub.rooms[room]; exists {
		delete(members, c)
		if len(members) == 0 {
			delete(hub.rooms, room)
		}
	}
}

// EmitToRoom 推送事件到房間
func (hub *Hub) EmitToRoom(room, event string, payload any) {
	msg, ok := hub.encode(event, payload)
	if !ok {
		return
	}

	hub.mu.RLock()
	defer hub.mu.RUnlock()

	for c := range hub.rooms[room] {
		hub.deliverLocked(c, msg)
	}
}

// EmitToAll 推送事件到所有連線
func (hub *Hub) EmitToAll(event string, payload any) {
	msg, ok := hub.encode(event, payload)
	if !ok {
		return
	}

	hub.mu.RLock()
	defer hub.mu.RUnlock()

	for c := range hub.conns {
		hub.deliverLocked(c, msg)
	}
}

func (hub *Hub) encode(event string, payload any) ([]byte, bool) {
	msg, err := json.Marshal(Message{Event: event, Data: payload, Timestamp: now()})
	if err != nil {
		hub.logger.Error("序列化事件失敗", "event", event, "error", err)
		return nil, false
	}
	return msg, true
}

// deliverLocked 非阻塞寫入；呼叫者至少持有讀鎖
func (hub *Hub) deliverLocked(c *Connection, msg []byte) {
	select {
	case c.Send <- msg:
	default:
		hub.dropped.Add(1)
		hub.logger.Warn("連接緩衝區滿，丟棄訊息", "username", c.Username)
	}
}

// Stop 關閉所有連線
func (hub *Hub) Stop() {
	hub.mu.Lock()
	for c := range hub.conns {
		c.closeSend()
		_ = c.Conn.Close()
	}
	hub.conns = make(map[*Connection]struct{})
	hub.rooms = make(map[string]map[*Connection]struct{})
	hub.users = make(map[string]int)
	hub.mu.Unlock()

	hub.logger.Info("WebSocket Hub 已停止")
}

// Stats 連線統計
func (hub *Hub) Stats() map[string]any {
	hub.mu.RLock()
	defer hub.mu.RUnlock()

	rooms := make(map[string]int, len(hub.rooms))
	for room, members := range hub.rooms {
		rooms[room] = len(members)
	}

	return map[string]any{
		"admission": hub.admission.Stats(),
		"rooms":     rooms,
		"users":     len(hub.users),
		"dropped":   hub.dropped.Load(),
	}
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
