// Package broadcast 實作資料變更廣播與快取失效。
//
// 系統設計問題：
//
//	一筆紀錄被修改後，如何讓所有看著相同資料的客戶端立即更新，
//	同時確保快取不會再回傳舊資料？
//
// 設計方案：
//   - 發佈 = 失效快取 + 推送房間事件 + 推送全域事件（三者視為同時發生）
//   - 房間名稱即 topic：{type}-{financialYear}
//   - 單一 topic 內由發佈者同步入列，保持 FIFO；跨 topic 不保證順序
//   - 最多一次、盡力而為：斷線的客戶端直接丟棄，不重試
package broadcast

import (
	"log/slog"
	"time"
)

// 事件名稱
const (
	EventDataChange     = "data-change"
	EventHomepageUpdate = "homepage-data-update"
)

// Emitter 將事件送到連線（由 realtime.Hub 實作）
type Emitter interface {
	EmitToRoom(room, event string, payload any)
	EmitToAll(event string, payload any)
}

// Invalidator 快取失效（由 cache.TwoTier 實作）
type Invalidator interface {
	Invalidate(keys ...string)
}

// Relay 跨實例轉送（可選）
type Relay interface {
	Relay(topic string, ev ChangeEvent) error
	Subscribe(deliver func(topic string, ev ChangeEvent)) error
	Close() error
}

// ChangeEvent 資料變更事件
type ChangeEvent struct {
	Type          string `json:"type"`
	FinancialYear string `json:"financialYear"`
	Action        string `json:"action"`
	Data          any    `json:"data,omitempty"`
	Timestamp     string `json:"timestamp"`
}

// Bus 變更廣播匯流排
type Bus struct {
	emitter Emitter
	cache   Invalidator
	relay   Relay
	logger  *slog.Logger
	now     func() time.Time
}

// NewBus 建立匯流排；relay 可為 nil
func NewBus(emitter Emitter, cache Invalidator, relay Relay, logger *slog.Logger) *Bus {
	return &Bus{
		emitter: emitter,
		cache:   cache,
		relay:   relay,
		logger:  logger,
		now:     time.Now,
	}
}

// Start 開始接收其他實例轉送的事件
func (b *Bus) Start() error {
	if b.relay == nil {
		return nil
	}
	return b.relay.Subscribe(b.deliver)
}

// Close 關閉轉送
func (b *Bus) Close() error {
	if b.relay == nil {
		return nil
	}
	return b.relay.Close()
}

// Publish 發佈資料變更。
//
// topic 格式為 {type}-{financialYear}，例如 supply-2024、sanction-code-2024-25。
func (b *Bus) Publish(topic, action string, payload any) ChangeEvent {
	kind, fy := SplitTopic(topic)
	ev := ChangeEvent{
		Type:          kind,
		FinancialYear: fy,
		Action:        action,
		Data:          payload,
		Timestamp:     b.now().UTC().Format(time.RFC3339Nano),
	}

	b.deliver(topic, ev)

	if b.relay != nil {
		if err := b.relay.Relay(topic, ev); err != nil {
			// 轉送失敗只影響其他實例的即時性
			b.logger.Warn("relay change event failed", "topic", topic, "error", err)
		}
	}

	return ev
}

// deliver 在本機失效快取並推送事件
func (b *Bus) deliver(topic string, ev ChangeEvent) {
	if b.cache != nil {
		b.cache.Invalidate(DerivedKeys(topic)...)
	}

	if b.emitter != nil {
		b.emitter.EmitToRoom(topic, EventDataChange, ev)
		b.emitter.EmitToAll(EventHomepageUpdate, ev)
	}

	b.logger.Debug("change published", "topic", topic, "action", ev.Action)
}

// SplitTopic 拆出紀錄種類與會計年度。
// 年度從第一個「-後接數字」的位置開始。
func SplitTopic(topic string) (kind, financialYear string) {
	for i := 0; i < len(topic)-1; i++ {
		if topic[i] == '-' && topic[i+1] >= '0' && topic[i+1] <= '9' {
			return topic[:i], topic[i+1:]
		}
	}
	return topic, ""
}

// Topic 組合 topic 名稱
func Topic(kind, financialYear string) string {
	return kind + "-" + financialYear
}

// DashboardKey 儀表板快取鍵
func DashboardKey(financialYear string) string {
	return "dashboard-overview-" + financialYear
}

// HomepageKey 首頁快取鍵
func HomepageKey(financialYear string) string {
	return "homepage-overview-" + financialYear
}

// DerivedKeys 由 topic 推導出需要失效的快取鍵
func DerivedKeys(topic string) []string {
	_, fy := SplitTopic(topic)
	if fy == "" {
		return []string{topic}
	}
	return []string{topic, DashboardKey(fy), HomepageKey(fy)}
}
