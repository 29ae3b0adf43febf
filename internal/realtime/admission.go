package realtime

import (
	"sync"
	"time"
)

// Class 連線類別
type Class string

const (
	// ClassPublic 未登入（或 session 無效）的連線，只收全域事件
	ClassPublic Class = "public"
	// ClassAuthenticated 已登入的連線
	ClassAuthenticated Class = "authenticated"
)

// Admission 連線准入控制。
//
// 超過上限直接拒絕，不排隊；被拒絕的客戶端依 RetryAfter 自行重試。
type Admission struct {
	mu         sync.Mutex
	max        int
	retryAfter time.Duration
	active     map[Class]int
	rejected   int64
}

// AdmissionStats 准入統計
type AdmissionStats struct {
	Active        int   `json:"active"`
	Public        int   `json:"public"`
	Authenticated int   `json:"authenticated"`
	Max           int   `json:"max"`
	Rejected      int64 `json:"rejected"`
}

// NewAdmission 創建准入控制
func NewAdmission(maxConnections int, retryAfter time.Duration) *Admission {
	return &Admission{
		max:        maxConnections,
		retryAfter: retryAfter,
		active:     make(map[Class]int),
	}
}

// Ticket 一個已准入的名額，Release 可重複呼叫
type Ticket struct {
	a     *Admission
	class Class
	once  sync.Once
}

// Release 歸還名額
func (t *Ticket) Release() {
	t.once.Do(func() {
		t.a.mu.Lock()
		t.a.active[t.class]--
		t.a.mu.Unlock()
	})
}

// Admit 嘗試取得名額，超過上限回傳 false
func (a *Admission) Admit(class Class) (*Ticket, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.total() >= a.max {
		a.rejected++
		return nil, false
	}
	a.active[class]++
	return &Ticket{a: a, class: class}, true
}

// RetryAfter 建議的重試間隔
func (a *Admission) RetryAfter() time.Duration {
	return a.retryAfter
}

func (a *Admission) total() int {
	n := 0
	for _, c := range a.active {
		n += c
	}
	return n
}

// Stats 取得統計
func (a *Admission) Stats() AdmissionStats {
	a.mu.Lock()
	defer a.mu.Unlock()

	return AdmissionStats{
		Active:        a.total(),
		Public:        a.active[ClassPublic],
		Authenticated: a.active[ClassAuthenticated],
		Max:           a.max,
		Rejected:      a.rejected,
	}
}
