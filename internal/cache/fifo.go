// Package cache 實作兩層時效快取（一般資料 / 首頁公開資料）。
package cache

import (
	"container/list"
	"sync"
	"sync/atomic"
	"time"
)

// FIFO 是帶有時效視窗、依插入順序淘汰的快取層。
//
// 與 LRU 的差異：
//   - 淘汰順序只看插入時間，Get 不會改變順序
//   - 覆寫既有 key 只更新內容與時間戳，不改變其插入位置
//
// 過期是惰性的：Get 發現過期只回傳未命中，不刪除；
// 真正的清除由定期的 Sweep 負責（housekeeping）。
type FIFO struct {
	window   time.Duration
	capacity int
	now      func() time.Time

	mu    sync.Mutex
	items map[string]*list.Element
	order *list.List // 前端最舊

	hits   atomic.Int64
	misses atomic.Int64
}

// entry 是鏈表節點儲存的資料。
type entry struct {
	key       string
	payload   any
	timestamp time.Time
}

// NewFIFO 建立快取層。
func NewFIFO(window time.Duration, capacity int) *FIFO {
	if capacity <= 0 {
		capacity = 1
	}
	return &FIFO{
		window:   window,
		capacity: capacity,
		now:      time.Now,
		items:    make(map[string]*list.Element),
		order:    list.New(),
	}
}

// WithClock 替換時間來源（測試用）。
func (c *FIFO) WithClock(now func() time.Time) *FIFO {
	c.now = now
	return c
}

// Get 取得快取值；超過時效視窗視為未命中。
func (c *FIFO) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		c.misses.Add(1)
		return nil, false
	}

	e := elem.Value.(*entry)
	if c.now().Sub(e.timestamp) >= c.window {
		c.misses.Add(1)
		return nil, false
	}

	c.hits.Add(1)
	return e.payload, true
}

// Set 設定快取值。
//
// 新 key 超出容量時，淘汰最早插入的一筆。
func (c *FIFO) Set(key string, payload any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if elem, ok := c.items[key]; ok {
		e := elem.Value.(*entry)
		e.payload = payload
		e.timestamp = now
		return
	}

	c.items[key] = c.order.PushBack(&entry{key: key, payload: payload, timestamp: now})

	if c.order.Len() > c.capacity {
		oldest := c.order.Front()
		c.order.Remove(oldest)
		delete(c.items, oldest.Value.(*entry).key)
	}
}

// Invalidate 刪除快取項目（不存在時無動作）。
func (c *FIFO) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		c.order.Remove(elem)
		delete(c.items, key)
	}
}

// Sweep 移除所有過期項目，回傳移除數量。
func (c *FIFO) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for elem := c.order.Front(); elem != nil; {
		next := elem.Next()
		e := elem.Value.(*entry)
		if now.Sub(e.timestamp) >= c.window {
			c.order.Remove(elem)
			delete(c.items, e.key)
			removed++
		}
		elem = next
	}
	return removed
}

// Len 返回當前快取項目數量（含尚未清除的過期項目）。
func (c *FIFO) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Keys 依插入順序返回所有 key（最舊在前）。
func (c *FIFO) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]string, 0, c.order.Len())
	for elem := c.order.Front(); elem != nil; elem = elem.Next() {
		keys = append(keys, elem.Value.(*entry).key)
	}
	return keys
}

// Stats 快取統計
type Stats struct {
	Entries  int   `json:"entries"`
	Capacity int   `json:"capacity"`
	Hits     int64 `json:"hits"`
	Misses   int64 `json:"misses"`
}

// Stats 返回命中統計。
func (c *FIFO) Stats() Stats {
	return Stats{
		Entries:  c.Len(),
		Capacity: c.capacity,
		Hits:     c.hits.Load(),
		Misses:   c.misses.Load(),
	}
}
