package broadcast

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// NATSRelay 以 NATS core pub/sub 在多個實例間轉送變更事件。
//
// 為什麼用 Core NATS 而非 JetStream？
//   - 廣播本身就是最多一次、盡力而為
//   - 實例離線期間的事件不需要補送（資料庫才是真相來源）
//
// Subject：{prefix}.{topic}，例如 procurement.changes.supply-2024
type NATSRelay struct {
	conn     *nats.Conn
	prefix   string
	instance string
	logger   *slog.Logger
	sub      *nats.Subscription
}

// envelope 跨實例訊息格式
type envelope struct {
	Origin string      `json:"origin"`
	Topic  string      `json:"topic"`
	Event  ChangeEvent `json:"event"`
}

// NewNATSRelay 連接 NATS
func NewNATSRelay(url, prefix string, logger *slog.Logger) (*NATSRelay, error) {
	instance := uuid.NewString()

	conn, err := nats.Connect(url,
		nats.Name("procurement-hub-"+instance[:8]),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("連接 NATS 失敗: %w", err)
	}

	return &NATSRelay{
		conn:     conn,
		prefix:   prefix,
		instance: instance,
		logger:   logger,
	}, nil
}

// Instance 本實例的 id
func (r *NATSRelay) Instance() string {
	return r.instance
}

// Relay 轉送事件到其他實例
func (r *NATSRelay) Relay(topic string, ev ChangeEvent) error {
	data, err := json.Marshal(envelope{Origin: r.instance, Topic: topic, Event: ev})
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	return r.conn.Publish(r.prefix+"."+topic, data)
}

// Subscribe 接收其他實例的事件；自己發出的會被略過
func (r *NATSRelay) Subscribe(deliver func(topic string, ev ChangeEvent)) error {
	sub, err := r.conn.Subscribe(r.prefix+".>", func(msg *nats.Msg) {
		var env envelope
		if err := json.Unmarshal(msg.Data, &env); err != nil {
			r.logger.Warn("drop malformed relay message", "subject", msg.Subject, "error", err)
			return
		}
		if env.Origin == r.instance {
			return
		}
		deliver(env.Topic, env.Event)
	})
	if err != nil {
		return fmt.Errorf("subscribe relay: %w", err)
	}
	r.sub = sub
	return nil
}

// Close 取消訂閱並關閉連線
func (r *NATSRelay) Close() error {
	if r.sub != nil {
		_ = r.sub.Unsubscribe()
	}
	return r.conn.Drain()
}
