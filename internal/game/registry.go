package game

import (
	"fmt"
	"log/slog"
	"math/rand/v2"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	apperrors "github.com/koopa0/system-design/14-procurement-hub/pkg/errors"
)

// GamingRoom 遊戲事件推送的房間
const GamingRoom = "gaming-room"

// Emitter 推送事件（由 realtime.Hub 實作）
type Emitter interface {
	EmitToRoom(room, event string, payload any)
}

// Notice 推送到遊戲室的事件內容
type Notice struct {
	GameID    string `json:"gameId"`
	Kind      Kind   `json:"kind"`
	Data      any    `json:"data,omitempty"`
	State     any    `json:"state"`
	Timestamp string `json:"timestamp"`
}

// entry 一局遊戲與它的鎖
type entry struct {
	mu   sync.Mutex
	game Game
}

// Registry 遊戲管理器
type Registry struct {
	games   map[string]*entry
	mu      sync.RWMutex
	seq     atomic.Uint64
	emitter Emitter
	logger  *slog.Logger
	grace   time.Duration
	now     func() time.Time
	newRand func() *rand.Rand
}

// Option 設定 Registry
type Option func(*Registry)

// WithClock 替換時間來源（測試用）
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithRand 替換亂數來源，每局遊戲呼叫一次
func WithRand(newRand func() *rand.Rand) Option {
	return func(r *Registry) { r.newRand = newRand }
}

// WithAbandonGrace 結束後保留多久才刪除
func WithAbandonGrace(d time.Duration) Option {
	return func(r *Registry) { r.grace = d }
}

// NewRegistry 創建遊戲管理器；emitter 可為 nil
func NewRegistry(emitter Emitter, logger *slog.Logger, opts ...Option) *Registry {
	r := &Registry{
		games:   make(map[string]*entry),
		emitter: emitter,
		logger:  logger,
		grace:   5 * time.Minute,
		now:     time.Now,
	}
	r.newRand = func() *rand.Rand {
		return rand.New(rand.NewPCG(uint64(r.now().UnixNano()), r.seq.Add(1)))
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// generateID 生成 {kind}_{unixnano}_{seq}
func (r *Registry) generateID(kind Kind) string {
	return fmt.Sprintf("%s_%d_%d", kind, r.now().UnixNano(), r.seq.Add(1))
}

// Create 建立新遊戲，建立者為第一位玩家
func (r *Registry) Create(kind Kind, creator string) (any, error) {
	if creator == "" {
		return nil, apperrors.Invalid("player name is required")
	}

	id := r.generateID(kind)
	now := r.now()

	var g Game
	switch kind {
	case KindChess:
		g = newChess(id, creator, now)
	case KindTicTacToe:
		g = newTicTacToe(id, creator, now)
	case KindLudo:
		g = newLudo(id, creator, now, r.newRand())
	case KindUno:
		g = newUno(id, creator, now, r.newRand())
	default:
		return nil, apperrors.Invalid("unknown game kind: %s", kind)
	}

	// 先鎖住再放進 map，確保 game-created 是這局的第一個事件
	e := &entry{game: g}
	e.mu.Lock()
	defer e.mu.Unlock()

	r.mu.Lock()
	r.games[id] = e
	r.mu.Unlock()

	r.logger.Info("遊戲已創建", "game_id", id, "kind", kind, "creator", creator)
	r.emit(g, []Event{{Name: EventGameCreated, Data: map[string]string{"player": creator}}})

	return g.view(creator), nil
}

// Get 取得遊戲快照（依觀看者遮蔽他人手牌）
func (r *Registry) Get(kind Kind, id, viewer string) (any, error) {
	var out any
	err := r.with(kind, id, func(g Game) ([]Event, error) {
		out = g.view(viewer)
		return nil, nil
	})
	return out, err
}

// List 列出某種遊戲，依建立時間排序
func (r *Registry) List(kind Kind) []any {
	entries := r.snapshotEntries()

	type item struct {
		created time.Time
		view    any
	}
	var items []item
	for _, e := range entries {
		e.mu.Lock()
		h := e.game.header()
		if h.Kind == kind {
			items = append(items, item{created: h.CreatedAt, view: e.game.view("")})
		}
		e.mu.Unlock()
	}

	slices.SortFunc(items, func(a, b item) int { return a.created.Compare(b.created) })

	out := make([]any, 0, len(items))
	for _, it := range items {
		out = append(out, it.view)
	}
	return out
}

// Join 加入遊戲
func (r *Registry) Join(kind Kind, id, player string) (any, error) {
	if player == "" {
		return nil, apperrors.Invalid("player name is required")
	}

	var out any
	err := r.with(kind, id, func(g Game) ([]Event, error) {
		h := g.header()
		if h.indexOf(player) >= 0 {
			return nil, apperrors.ErrAlreadyJoined
		}
		if h.Status != StatusWaiting {
			return nil, apperrors.Conflict("game is %s and no longer accepts players", h.Status)
		}
		if len(h.Players) >= h.MaxPlayers {
			return nil, apperrors.ErrGameFull
		}

		h.Players = append(h.Players, Player{Name: player})
		events := []Event{{Name: EventPlayerJoined, Data: map[string]any{
			"player":  player,
			"players": len(h.Players),
		}}}
		events = append(events, g.joined(r.now())...)

		out = g.view(player)
		return events, nil
	})
	if err != nil {
		return nil, err
	}

	r.logger.Info("玩家加入遊戲", "game_id", id, "player", player)
	return out, nil
}

// Start 手動開始遊戲，只有建立者可以開始
func (r *Registry) Start(kind Kind, id, player string, opts StartOptions) (any, error) {
	var out any
	err := r.with(kind, id, func(g Game) ([]Event, error) {
		h := g.header()
		if h.indexOf(player) < 0 {
			return nil, apperrors.Forbidden("%s is not a player in this game", player)
		}
		if h.Players[0].Name != player {
			return nil, apperrors.Forbidden("only the creator can start the game")
		}
		if h.Status != StatusWaiting {
			return nil, apperrors.Conflict("game is already %s", h.Status)
		}

		events, err := g.start(opts, r.now())
		if err != nil {
			return nil, err
		}
		out = g.view(player)
		return events, nil
	})
	return out, err
}

// Abandon 將玩家所在的一局遊戲標記為 abandoned
func (r *Registry) Abandon(kind Kind, id, player string) error {
	return r.with(kind, id, func(g Game) ([]Event, error) {
		h := g.header()
		if h.indexOf(player) < 0 {
			return nil, apperrors.Forbidden("%s is not a player in this game", player)
		}
		return r.abandon(h, player), nil
	})
}

// AbandonPlayer 玩家斷線：所有未結束且包含該玩家的遊戲標記為 abandoned
func (r *Registry) AbandonPlayer(player string) int {
	count := 0
	for _, e := range r.snapshotEntries() {
		e.mu.Lock()
		h := e.game.header()
		if h.indexOf(player) >= 0 {
			if events := r.abandon(h, player); len(events) > 0 {
				r.emit(e.game, events)
				count++
			}
		}
		e.mu.Unlock()
	}

	if count > 0 {
		r.logger.Info("玩家斷線，遊戲已放棄", "player", player, "games", count)
	}
	return count
}

// abandon 結束狀態不受影響
func (r *Registry) abandon(h *Session, player string) []Event {
	if h.Status.Terminal() {
		return nil
	}
	h.Status = StatusAbandoned
	h.EndedAt = r.now()
	return []Event{{Name: EventGameAbandoned, Data: map[string]string{"player": player}}}
}

// Sweep 刪除結束超過保留時間的遊戲
func (r *Registry) Sweep() int {
	now := r.now()

	var toRemove []string
	for _, e := range r.snapshotEntries() {
		e.mu.Lock()
		h := e.game.header()
		if h.Status.Terminal() && now.Sub(h.EndedAt) >= r.grace {
			toRemove = append(toRemove, h.ID)
		}
		e.mu.Unlock()
	}

	if len(toRemove) == 0 {
		return 0
	}

	r.mu.Lock()
	for _, id := range toRemove {
		delete(r.games, id)
	}
	r.mu.Unlock()

	r.logger.Debug("已清理結束的遊戲", "count", len(toRemove))
	return len(toRemove)
}

// Stats 統計資訊
func (r *Registry) Stats() map[string]any {
	byKind := make(map[Kind]int)
	byStatus := make(map[Status]int)

	entries := r.snapshotEntries()
	for _, e := range entries {
		e.mu.Lock()
		h := e.game.header()
		byKind[h.Kind]++
		byStatus[h.Status]++
		e.mu.Unlock()
	}

	return map[string]any{
		"total_games": len(entries),
		"by_kind":     byKind,
		"by_status":   byStatus,
	}
}

// ChessMove 西洋棋走子
func (r *Registry) ChessMove(id, player string, from, to Square) (any, error) {
	return r.act(KindChess, id, player, func(g Game) ([]Event, error) {
		return g.(*Chess).move(player, from, to, r.now())
	})
}

// TicTacToeMove 井字棋落子
func (r *Registry) TicTacToeMove(id, player string, position int) (any, error) {
	return r.act(KindTicTacToe, id, player, func(g Game) ([]Event, error) {
		return g.(*TicTacToe).move(player, position, r.now())
	})
}

// LudoRoll 飛行棋擲骰
func (r *Registry) LudoRoll(id, player string) (any, error) {
	return r.act(KindLudo, id, player, func(g Game) ([]Event, error) {
		return g.(*Ludo).roll(player, r.now())
	})
}

// LudoMove 飛行棋移動棋子
func (r *Registry) LudoMove(id, player string, piece int) (any, error) {
	return r.act(KindLudo, id, player, func(g Game) ([]Event, error) {
		return g.(*Ludo).move(player, piece, r.now())
	})
}

// UnoPlay 出牌；wild 牌可指定顏色
func (r *Registry) UnoPlay(id, player string, cardIndex int, color string) (any, error) {
	return r.act(KindUno, id, player, func(g Game) ([]Event, error) {
		return g.(*Uno).play(player, cardIndex, color, r.now())
	})
}

// UnoDraw 抽牌
func (r *Registry) UnoDraw(id, player string) (any, error) {
	return r.act(KindUno, id, player, func(g Game) ([]Event, error) {
		return g.(*Uno).drawCard(player)
	})
}

// act 執行玩家動作並回傳該玩家視角的快照
func (r *Registry) act(kind Kind, id, player string, fn func(Game) ([]Event, error)) (any, error) {
	var out any
	err := r.with(kind, id, func(g Game) ([]Event, error) {
		events, err := fn(g)
		if err != nil {
			return nil, err
		}
		out = g.view(player)
		return events, nil
	})
	return out, err
}

// with 取得遊戲並在持有鎖時執行 fn，成功後送出事件
func (r *Registry) with(kind Kind, id string, fn func(Game) ([]Event, error)) error {
	r.mu.RLock()
	e, exists := r.games[id]
	r.mu.RUnlock()
	if !exists {
		return apperrors.ErrGameNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.game.header().Kind != kind {
		return apperrors.ErrGameNotFound
	}

	events, err := fn(e.game)
	if err != nil {
		return err
	}
	r.emit(e.game, events)
	return nil
}

// emit 推送事件；呼叫者持有該局的鎖
func (r *Registry) emit(g Game, events []Event) {
	if r.emitter == nil || len(events) == 0 {
		return
	}

	h := g.header()
	state := g.view("")
	ts := r.now().UTC().Format(time.RFC3339Nano)
	for _, ev := range events {
		r.emitter.EmitToRoom(GamingRoom, ev.Name, Notice{
			GameID:    h.ID,
			Kind:      h.Kind,
			Data:      ev.Data,
			State:     state,
			Timestamp: ts,
		})
	}
}

// snapshotEntries 複製目前所有 entry，避免持有 map 鎖時鎖遊戲
func (r *Registry) snapshotEntries() []*entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := make([]*entry, 0, len(r.games))
	for _, e := range r.games {
		entries = append(entries, e)
	}
	return entries
}
