package realtime

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	apperrors "github.com/koopa0/system-design/14-procurement-hub/pkg/errors"
)

// 心跳設定：writePump 每 54 秒 Ping，readPump 60 秒內沒收到任何訊息就斷線
const (
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	writeWait      = 10 * time.Second
	maxMessageSize = 4096
)

// Connection WebSocket 連線
type Connection struct {
	Username string
	Role     string
	Class    Class
	Conn     *websocket.Conn
	Send     chan []byte

	hub       *Hub
	ticket    *Ticket
	rooms     map[string]struct{} // 由 hub.mu 保護
	closeOnce sync.Once           // 確保 channel 只關閉一次
}

// clientMessage 客戶端訊息
type clientMessage struct {
	Type string `json:"type"`
	Room string `json:"room"`
}

func (c *Connection) closeSend() {
	c.closeOnce.Do(func() {
		close(c.Send)
	})
}

// send 推送給這條連線；已註銷的連線直接忽略
func (c *Connection) send(event string, data any) {
	msg, ok := c.hub.encode(event, data)
	if !ok {
		return
	}

	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()

	if _, exists := c.hub.conns[c]; exists {
		c.hub.deliverLocked(c, msg)
	}
}

// readPump 讀取客戶端訊息；結束時註銷連線
func (c *Connection) readPump() {
	defer func() {
		c.hub.unregister(c)
		_ = c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	if err := c.Conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.hub.logger.Error("設置讀取期限失敗", "error", err)
	}
	c.Conn.SetPongHandler(func(string) error {
		return c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		messageType, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.hub.logger.Warn("WebSocket 讀取錯誤", "error", err, "username", c.Username)
			}
			return
		}

		if messageType == websocket.TextMessage {
			c.handleMessage(message)
		}
	}
}

// writePump 將 Send 中的訊息寫到客戶端，並定期送出 Ping
func (c *Connection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub 關閉了通道
				_ = c.Conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}

			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

			// 批量發送隊列中的訊息
			n := len(c.Send)
			for range n {
				msg, ok := <-c.Send
				if !ok {
					return
				}
				if err := c.Conn.WriteMessage(websocket.TextMessage, msg); err != nil {
					return
				}
			}

		case <-ticker.C:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage 處理 join-room / leave-room / ping
func (c *Connection) handleMessage(message []byte) {
	var msg clientMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		c.send(EventRoomError, map[string]string{"reason": "malformed message"})
		return
	}

	switch msg.Type {
	case "join-room":
		if err := c.hub.join(c, msg.Room); err != nil {
			c.send(EventRoomError, map[string]string{
				"room":   msg.Room,
				"code":   apperrors.Code(err),
				"reason": apperrors.PublicMessage(err),
			})
			return
		}
		c.send(EventRoomJoin, map[string]string{"room": msg.Room})

	case "leave-room":
		c.hub.leave(c, msg.Room)
		c.send(EventRoomLeft, map[string]string{"room": msg.Room})

	case "ping":
		c.send(EventPong, nil)

	default:
		c.hub.logger.Debug("收到未知訊息類型", "type", msg.Type, "username", c.Username)
	}
}
