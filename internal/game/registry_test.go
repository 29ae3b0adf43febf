package game_test

import (
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/koopa0/system-design/14-procurement-hub/internal/game"
	apperrors "github.com/koopa0/system-design/14-procurement-hub/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 創建測試用的 logger
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

// fakeClock 可手動推進的時鐘
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// recorder 記錄推送到遊戲室的事件
type recorder struct {
	mu     sync.Mutex
	events []string
	rooms  []string
}

func (r *recorder) EmitToRoom(room, event string, _ any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rooms = append(r.rooms, room)
	r.events = append(r.events, event)
}

func (r *recorder) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func newRegistry(t *testing.T) (*game.Registry, *recorder, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2024, 4, 1, 10, 0, 0, 0, time.UTC)}
	rec := &recorder{}
	var seed atomic.Uint64
	reg := game.NewRegistry(rec, testLogger(),
		game.WithClock(clock.Now),
		game.WithRand(func() *rand.Rand { return rand.New(rand.NewPCG(42, seed.Add(1))) }),
		game.WithAbandonGrace(5*time.Minute),
	)
	return reg, rec, clock
}

func createGame(t *testing.T, reg *game.Registry, kind game.Kind, creator string) string {
	t.Helper()
	v, err := reg.Create(kind, creator)
	require.NoError(t, err)

	switch s := v.(type) {
	case game.ChessView:
		return s.ID
	case game.TicTacToe:
		return s.ID
	case game.LudoView:
		return s.ID
	case game.UnoView:
		return s.ID
	}
	t.Fatalf("unexpected view type %T", v)
	return ""
}

// TestTicTacToe_XWins 完整的一局：X 連成一線獲勝
func TestTicTacToe_XWins(t *testing.T) {
	reg, rec, _ := newRegistry(t)

	id := createGame(t, reg, game.KindTicTacToe, "alice")
	v, err := reg.Join(game.KindTicTacToe, id, "bob")
	require.NoError(t, err)
	assert.Equal(t, game.StatusPlaying, v.(game.TicTacToe).Status)

	moves := []struct {
		player   string
		position int
	}{
		{"alice", 4}, {"bob", 0}, {"alice", 1}, {"bob", 8}, {"alice", 7},
	}
	for _, m := range moves {
		v, err = reg.TicTacToeMove(id, m.player, m.position)
		require.NoError(t, err, "%s -> %d", m.player, m.position)
	}

	final := v.(game.TicTacToe)
	assert.Equal(t, game.StatusFinished, final.Status)
	assert.Equal(t, "X", final.WinnerSymbol)
	assert.Equal(t, "alice", final.Winner)
	assert.False(t, final.EndedAt.IsZero())

	assert.Equal(t, []string{
		game.EventGameCreated, game.EventPlayerJoined, game.EventGameStarted,
		game.EventMoveMade, game.EventMoveMade, game.EventMoveMade, game.EventMoveMade, game.EventMoveMade,
		game.EventGameOver,
	}, rec.names())
	for _, room := range rec.rooms {
		assert.Equal(t, game.GamingRoom, room)
	}

	// 結束後不可再下
	_, err = reg.TicTacToeMove(id, "bob", 2)
	assert.True(t, apperrors.IsConflict(err))
}

// TestTicTacToe_Draw 下滿無人連線為和局
func TestTicTacToe_Draw(t *testing.T) {
	reg, _, _ := newRegistry(t)
	id := createGame(t, reg, game.KindTicTacToe, "alice")
	_, err := reg.Join(game.KindTicTacToe, id, "bob")
	require.NoError(t, err)

	var v any
	for i, pos := range []int{0, 1, 2, 4, 3, 5, 7, 6, 8} {
		player := "alice"
		if i%2 == 1 {
			player = "bob"
		}
		v, err = reg.TicTacToeMove(id, player, pos)
		require.NoError(t, err)
	}

	final := v.(game.TicTacToe)
	assert.Equal(t, game.StatusDraw, final.Status)
	assert.Empty(t, final.Winner)
}

// TestTicTacToe_Rejections 測試各種被拒絕的落子
func TestTicTacToe_Rejections(t *testing.T) {
	reg, _, _ := newRegistry(t)
	id := createGame(t, reg, game.KindTicTacToe, "alice")

	_, err := reg.TicTacToeMove(id, "alice", 0)
	assert.True(t, apperrors.IsConflict(err), "not started yet")

	_, err = reg.Join(game.KindTicTacToe, id, "bob")
	require.NoError(t, err)

	_, err = reg.TicTacToeMove(id, "bob", 0)
	assert.ErrorIs(t, err, apperrors.ErrNotYourTurn)
	assert.ErrorContains(t, err, apperrors.ErrNotYourTurn.Message)

	_, err = reg.TicTacToeMove(id, "mallory", 0)
	assert.True(t, apperrors.IsForbidden(err))
	assert.NotContains(t, err.Error(), apperrors.ErrNotYourTurn.Message, "outsider is not a turn violation")

	_, err = reg.TicTacToeMove(id, "alice", 9)
	assert.True(t, apperrors.IsInvalid(err))

	_, err = reg.TicTacToeMove(id, "alice", 4)
	require.NoError(t, err)
	_, err = reg.TicTacToeMove(id, "bob", 4)
	assert.True(t, apperrors.IsConflict(err), "occupied")

	v, err := reg.Get(game.KindTicTacToe, id, "bob")
	require.NoError(t, err)
	ttt := v.(game.TicTacToe)
	assert.Equal(t, 1, ttt.CurrentPlayer, "rejected move leaves the turn unchanged")
	assert.Equal(t, "X", ttt.Board[4])
}

// TestChess_Move 測試座標與棋子所屬驗證
func TestChess_Move(t *testing.T) {
	reg, _, _ := newRegistry(t)
	id := createGame(t, reg, game.KindChess, "white")
	_, err := reg.Join(game.KindChess, id, "black")
	require.NoError(t, err)

	tests := []struct {
		name    string
		player  string
		from    game.Square
		to      game.Square
		wantErr func(error) bool
	}{
		{"black moves first", "black", game.Square{Row: 1, Col: 0}, game.Square{Row: 2, Col: 0}, apperrors.IsForbidden},
		{"out of bounds", "white", game.Square{Row: 6, Col: 0}, game.Square{Row: 8, Col: 0}, apperrors.IsInvalid},
		{"same square", "white", game.Square{Row: 6, Col: 0}, game.Square{Row: 6, Col: 0}, apperrors.IsInvalid},
		{"empty origin", "white", game.Square{Row: 4, Col: 4}, game.Square{Row: 3, Col: 4}, apperrors.IsInvalid},
		{"opponent piece", "white", game.Square{Row: 1, Col: 4}, game.Square{Row: 3, Col: 4}, apperrors.IsForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := reg.ChessMove(id, tt.player, tt.from, tt.to)
			assert.True(t, tt.wantErr(err), "got %v", err)
		})
	}

	v, err := reg.ChessMove(id, "white", game.Square{Row: 6, Col: 4}, game.Square{Row: 4, Col: 4})
	require.NoError(t, err)
	c := v.(game.ChessView)
	assert.Equal(t, "wP", c.Board[4][4])
	assert.Empty(t, c.Board[6][4])
	assert.Equal(t, "black", c.Turn)
	require.Len(t, c.Moves, 1)
	assert.Equal(t, "wP", c.Moves[0].Piece)

	// 沒有走法規則：黑方可以直接吃掉白王
	v, err = reg.ChessMove(id, "black", game.Square{Row: 0, Col: 3}, game.Square{Row: 7, Col: 4})
	require.NoError(t, err)
	c = v.(game.ChessView)
	assert.Equal(t, "wK", c.Moves[1].Captured)
	assert.Equal(t, game.StatusPlaying, c.Status, "conclusion detection is not implemented")
	assert.Equal(t, "white", c.Turn)
}

// TestRegistry_Join 測試加入的錯誤情況
func TestRegistry_Join(t *testing.T) {
	reg, _, _ := newRegistry(t)

	_, err := reg.Join(game.KindUno, "uno_missing", "bob")
	assert.ErrorIs(t, err, apperrors.ErrGameNotFound)

	id := createGame(t, reg, game.KindUno, "alice")

	_, err = reg.Join(game.KindChess, id, "bob")
	assert.True(t, apperrors.IsNotFound(err), "kind must match")

	_, err = reg.Join(game.KindUno, id, "alice")
	assert.ErrorIs(t, err, apperrors.ErrAlreadyJoined)
	assert.ErrorContains(t, err, apperrors.ErrAlreadyJoined.Message)

	for i := 1; i < 10; i++ {
		_, err = reg.Join(game.KindUno, id, fmt.Sprintf("p%d", i))
		require.NoError(t, err)
	}
	_, err = reg.Join(game.KindUno, id, "late")
	assert.ErrorIs(t, err, apperrors.ErrGameFull)
	assert.NotContains(t, err.Error(), apperrors.ErrAlreadyJoined.Message)
	assert.ErrorContains(t, err, apperrors.ErrGameFull.Message)

	_, err = reg.Start(game.KindUno, id, "p1", game.StartOptions{})
	assert.True(t, apperrors.IsForbidden(err), "only the creator starts")

	v, err := reg.Start(game.KindUno, id, "alice", game.StartOptions{})
	require.NoError(t, err)
	u := v.(game.UnoView)
	assert.Equal(t, game.StatusPlaying, u.Status)
	assert.Len(t, u.Hand, 7)
	assert.Len(t, u.HandCounts, 10)
	assert.Equal(t, game.UnoDeckSize-70-1, u.DrawPile)
	require.NotNil(t, u.TopCard)
	assert.False(t, u.TopCard.IsWild())

	// 別人看不到 alice 的手牌
	v, err = reg.Get(game.KindUno, id, "p1")
	require.NoError(t, err)
	other := v.(game.UnoView)
	assert.Len(t, other.Hand, 7)
	assert.NotEqual(t, u.Hand, other.Hand)

	_, err = reg.Start(game.KindUno, id, "alice", game.StartOptions{})
	assert.True(t, apperrors.IsConflict(err))
}

// TestRegistry_ConcurrentJoin 同時加入不會超過人數上限
func TestRegistry_ConcurrentJoin(t *testing.T) {
	reg, _, _ := newRegistry(t)
	id := createGame(t, reg, game.KindUno, "host")

	var wg sync.WaitGroup
	var joined, full atomic.Int32
	for i := range 50 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := reg.Join(game.KindUno, id, fmt.Sprintf("player-%d", i))
			switch {
			case err == nil:
				joined.Add(1)
			case apperrors.IsConflict(err):
				full.Add(1)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(9), joined.Load())
	assert.Equal(t, int32(41), full.Load())

	v, err := reg.Get(game.KindUno, id, "")
	require.NoError(t, err)
	assert.Len(t, v.(game.UnoView).Players, 10)
}

// TestRegistry_AbandonAndSweep 斷線後標記 abandoned，寬限期後刪除
func TestRegistry_AbandonAndSweep(t *testing.T) {
	reg, rec, clock := newRegistry(t)

	chessID := createGame(t, reg, game.KindChess, "alice")
	_, err := reg.Join(game.KindChess, chessID, "bob")
	require.NoError(t, err)

	unoID := createGame(t, reg, game.KindUno, "bob")

	// 已結束的井字棋不受影響
	tttID := createGame(t, reg, game.KindTicTacToe, "bob")
	_, err = reg.Join(game.KindTicTacToe, tttID, "carol")
	require.NoError(t, err)
	for i, pos := range []int{0, 3, 1, 4, 2} {
		player := "bob"
		if i%2 == 1 {
			player = "carol"
		}
		_, err = reg.TicTacToeMove(tttID, player, pos)
		require.NoError(t, err)
	}

	assert.Equal(t, 2, reg.AbandonPlayer("bob"))
	assert.Contains(t, rec.names(), game.EventGameAbandoned)

	v, err := reg.Get(game.KindChess, chessID, "")
	require.NoError(t, err)
	assert.Equal(t, game.StatusAbandoned, v.(game.ChessView).Status)

	_, err = reg.ChessMove(chessID, "alice", game.Square{Row: 6, Col: 0}, game.Square{Row: 5, Col: 0})
	assert.True(t, apperrors.IsConflict(err), "abandoned games are immutable")

	clock.Advance(4 * time.Minute)
	assert.Equal(t, 0, reg.Sweep())

	clock.Advance(time.Minute)
	assert.Equal(t, 3, reg.Sweep())

	for _, g := range []struct {
		kind game.Kind
		id   string
	}{{game.KindChess, chessID}, {game.KindUno, unoID}, {game.KindTicTacToe, tttID}} {
		_, err = reg.Get(g.kind, g.id, "")
		assert.True(t, apperrors.IsNotFound(err))
	}
}

// TestRegistry_Abandon 只有參與者能放棄
func TestRegistry_Abandon(t *testing.T) {
	reg, _, _ := newRegistry(t)
	id := createGame(t, reg, game.KindLudo, "alice")

	err := reg.Abandon(game.KindLudo, id, "mallory")
	assert.True(t, apperrors.IsForbidden(err))

	require.NoError(t, reg.Abandon(game.KindLudo, id, "alice"))
	v, err := reg.Get(game.KindLudo, id, "")
	require.NoError(t, err)
	assert.Equal(t, game.StatusAbandoned, v.(game.LudoView).Status)
}

// TestRegistry_List 依建立時間排序，只列出同種遊戲
func TestRegistry_List(t *testing.T) {
	reg, _, clock := newRegistry(t)

	first := createGame(t, reg, game.KindTicTacToe, "a")
	clock.Advance(time.Second)
	createGame(t, reg, game.KindChess, "b")
	clock.Advance(time.Second)
	second := createGame(t, reg, game.KindTicTacToe, "c")

	list := reg.List(game.KindTicTacToe)
	require.Len(t, list, 2)
	assert.Equal(t, first, list[0].(game.TicTacToe).ID)
	assert.Equal(t, second, list[1].(game.TicTacToe).ID)

	stats := reg.Stats()
	assert.Equal(t, 3, stats["total_games"])
}

// TestLudo_PlayAgainstBots 與電腦對戰直到分出勝負
func TestLudo_PlayAgainstBots(t *testing.T) {
	reg, _, _ := newRegistry(t)
	id := createGame(t, reg, game.KindLudo, "alice")

	v, err := reg.Start(game.KindLudo, id, "alice", game.StartOptions{
		FillWithBots: true,
		Difficulty:   game.DifficultyHard,
		MaxPlayers:   4,
	})
	require.NoError(t, err)
	l := v.(game.LudoView)
	require.Len(t, l.Players, 4)
	assert.Equal(t, "alice", l.Players[0].Name)
	for _, p := range l.Players[1:] {
		assert.True(t, p.Bot)
	}

	for range 5000 {
		if l.Status != game.StatusPlaying {
			break
		}
		checkLudoInvariants(t, l)
		require.Equal(t, 0, l.CurrentPlayer, "bots finish their turns within the request")

		if !l.Rolled {
			v, err = reg.LudoRoll(id, "alice")
		} else {
			v, err = reg.LudoMove(id, "alice", firstMovable(l))
		}
		require.NoError(t, err)
		l = v.(game.LudoView)
	}

	checkLudoInvariants(t, l)
	require.Equal(t, game.StatusFinished, l.Status)
	winner := l.Players[indexOf(l.Players, l.Winner)]
	assert.Equal(t, 4, l.Seats[indexOf(l.Players, winner.Name)].InGoal)
}

// TestLudo_StartRequiresPlayers 不補電腦時至少要兩人
func TestLudo_StartRequiresPlayers(t *testing.T) {
	reg, _, _ := newRegistry(t)
	id := createGame(t, reg, game.KindLudo, "alice")

	_, err := reg.Start(game.KindLudo, id, "alice", game.StartOptions{})
	assert.True(t, apperrors.IsInvalid(err))

	_, err = reg.Start(game.KindLudo, id, "alice", game.StartOptions{FillWithBots: true, Difficulty: "impossible"})
	assert.True(t, apperrors.IsInvalid(err))

	v, err := reg.Get(game.KindLudo, id, "")
	require.NoError(t, err)
	assert.Equal(t, game.StatusWaiting, v.(game.LudoView).Status)
	assert.Len(t, v.(game.LudoView).Players, 1, "failed start adds no bots")

	v, err = reg.Start(game.KindLudo, id, "alice", game.StartOptions{FillWithBots: true, MaxPlayers: 20})
	require.NoError(t, err)
	assert.Equal(t, 8, v.(game.LudoView).MaxPlayers)
	assert.Len(t, v.(game.LudoView).Players, 8)
}

func checkLudoInvariants(t *testing.T, l game.LudoView) {
	t.Helper()
	require.Len(t, l.Seats, len(l.Players))
	for _, seat := range l.Seats {
		goals := 0
		for _, pos := range seat.Pieces {
			require.True(t, pos == game.LudoHome || (pos >= 0 && pos <= game.LudoGoal), "position %d", pos)
			if pos == game.LudoGoal {
				goals++
			}
		}
		require.Equal(t, goals, seat.InGoal)
	}
}

func firstMovable(l game.LudoView) int {
	for i, pos := range l.Seats[l.CurrentPlayer].Pieces {
		if pos == game.LudoHome && l.Dice == 6 {
			return i
		}
		if pos != game.LudoHome && pos < game.LudoGoal {
			return i
		}
	}
	return -1
}

func indexOf(players []game.Player, name string) int {
	for i, p := range players {
		if p.Name == name {
			return i
		}
	}
	return -1
}
