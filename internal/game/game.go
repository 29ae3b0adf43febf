// Package game 管理遊戲室中的四種小遊戲（西洋棋、飛行棋、井字棋、UNO）。
//
// 系統設計問題：
//
//	多個 HTTP 請求可能同時操作同一局遊戲，如何避免狀態遺失更新？
//
// 設計方案：
//   - Registry 持有 map[id]*entry（RWMutex），每局遊戲各自一把 Mutex
//   - 先驗證、再套用：任何規則違反都在寫入前回傳錯誤，不會留下半套狀態
//   - 狀態變更事件在持有該局鎖時送出，保證同一局的事件順序
//
// 狀態機：
//
//	waiting → playing → finished / draw
//	   └─────────┴──→ abandoned（玩家斷線）
//
// 結束後（finished / draw / abandoned）的遊戲不再變動，只等待延遲刪除。
package game

import (
	"time"

	apperrors "github.com/koopa0/system-design/14-procurement-hub/pkg/errors"
)

// Kind 遊戲種類
type Kind string

const (
	KindChess     Kind = "chess"
	KindLudo      Kind = "ludo"
	KindTicTacToe Kind = "tictactoe"
	KindUno       Kind = "uno"
)

// ParseKind 解析遊戲種類
func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case KindChess, KindLudo, KindTicTacToe, KindUno:
		return k, nil
	}
	return "", apperrors.Invalid("unknown game kind: %s", s)
}

// Status 遊戲狀態
type Status string

const (
	StatusWaiting   Status = "waiting"
	StatusPlaying   Status = "playing"
	StatusFinished  Status = "finished"
	StatusDraw      Status = "draw"
	StatusAbandoned Status = "abandoned"
)

// Terminal 是否為結束狀態
func (s Status) Terminal() bool {
	return s == StatusFinished || s == StatusDraw || s == StatusAbandoned
}

// Player 玩家
type Player struct {
	Name       string `json:"name"`
	Bot        bool   `json:"bot,omitempty"`
	Difficulty string `json:"difficulty,omitempty"`
}

// Session 各遊戲共用的欄位
type Session struct {
	ID            string    `json:"id"`
	Kind          Kind      `json:"kind"`
	Players       []Player  `json:"players"`
	MaxPlayers    int       `json:"max_players"`
	Status        Status    `json:"status"`
	CurrentPlayer int       `json:"current_player"`
	Direction     int       `json:"direction"`
	Winner        string    `json:"winner,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	EndedAt       time.Time `json:"ended_at,omitzero"`
}

func newSession(id string, kind Kind, creator string, maxPlayers int, now time.Time) Session {
	return Session{
		ID:         id,
		Kind:       kind,
		Players:    []Player{{Name: creator}},
		MaxPlayers: maxPlayers,
		Status:     StatusWaiting,
		Direction:  1,
		CreatedAt:  now,
	}
}

// header 讓 Registry 透過介面取得共用欄位
func (s *Session) header() *Session { return s }

// indexOf 玩家在列表中的位置，不存在回傳 -1
func (s *Session) indexOf(name string) int {
	for i, p := range s.Players {
		if p.Name == name {
			return i
		}
	}
	return -1
}

// current 目前輪到的玩家
func (s *Session) current() Player {
	return s.Players[s.CurrentPlayer]
}

// requireTurn 遊戲進行中且輪到該玩家
func (s *Session) requireTurn(player string) error {
	if s.Status != StatusPlaying {
		return apperrors.ErrNotPlaying
	}
	if s.indexOf(player) < 0 {
		return apperrors.Forbidden("%s is not a player in this game", player)
	}
	if s.current().Name != player {
		return apperrors.ErrNotYourTurn
	}
	return nil
}

// advance 依方向前進 steps 位玩家
func (s *Session) advance(steps int) {
	n := len(s.Players)
	if n == 0 {
		return
	}
	next := (s.CurrentPlayer + s.Direction*steps) % n
	if next < 0 {
		next += n
	}
	s.CurrentPlayer = next
}

// finish 以勝利結束
func (s *Session) finish(winner string, now time.Time) {
	s.Status = StatusFinished
	s.Winner = winner
	s.EndedAt = now
}

// draw 以和局結束
func (s *Session) draw(now time.Time) {
	s.Status = StatusDraw
	s.EndedAt = now
}

// Event 遊戲狀態變更事件
type Event struct {
	Name string
	Data any
}

// 事件名稱
const (
	EventGameCreated    = "game-created"
	EventPlayerJoined   = "player-joined"
	EventGameStarted    = "game-started"
	EventMoveMade       = "move-made"
	EventLudoDiceRolled = "ludo-dice-rolled"
	EventLudoPieceMoved = "ludo-piece-moved"
	EventUnoCardPlayed  = "uno-card-played"
	EventUnoCardDrawn   = "uno-card-drawn"
	EventGameOver       = "game-over"
	EventGameAbandoned  = "game-abandoned"
)

// StartOptions 開始遊戲的選項（飛行棋可補電腦玩家）
type StartOptions struct {
	FillWithBots bool   `json:"fill_with_bots"`
	Difficulty   string `json:"difficulty"`
	MaxPlayers   int    `json:"max_players"`
}

// Game 各遊戲的共同介面（只在本套件內實作）
type Game interface {
	header() *Session
	// view 針對觀看者產生快照；viewer 為空代表公開視角
	view(viewer string) any
	// joined 新玩家加入後的處理（例如兩人到齊自動開始）
	joined(now time.Time) []Event
	// start 手動開始
	start(opts StartOptions, now time.Time) ([]Event, error)
}
