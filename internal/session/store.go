// Package session 管理登入 session（不透明 id → 使用者身分）。
//
// 生命週期：
//   - 登入時建立
//   - 每次讀取延長閒置期限（rolling）
//   - 超過閒置期限或絕對壽命即失效
//   - 登出時刪除，或由定期清理移除
package session

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Session 已驗證的身分
type Session struct {
	ID        string    `json:"session_id"`
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
	LastSeen  time.Time `json:"last_seen"`
}

// Store session 儲存介面
//
// Get 找不到或已過期時回傳 apperrors.ErrSessionNotFound。
type Store interface {
	Create(ctx context.Context, username, role string) (*Session, error)
	Get(ctx context.Context, id string) (*Session, error)
	Delete(ctx context.Context, id string) error
	// Sweep 清除過期 session，回傳移除數量
	Sweep(ctx context.Context) (int, error)
}

// Lifetime session 時效設定
type Lifetime struct {
	InactivityTimeout time.Duration
	MaxLifetime       time.Duration
}

// expired 依閒置與絕對壽命判斷是否過期
func (l Lifetime) expired(s *Session, now time.Time) bool {
	if now.Sub(s.LastSeen) >= l.InactivityTimeout {
		return true
	}
	return now.Sub(s.CreatedAt) >= l.MaxLifetime
}

// newID 產生 session id
func newID() string {
	return uuid.NewString()
}
