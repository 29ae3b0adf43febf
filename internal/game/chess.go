package game

import (
	"time"

	apperrors "github.com/koopa0/system-design/14-procurement-hub/pkg/errors"
)

// Square 棋盤座標，row 0 為黑方底線
type Square struct {
	Row int `json:"row"`
	Col int `json:"col"`
}

func (s Square) valid() bool {
	return s.Row >= 0 && s.Row < 8 && s.Col >= 0 && s.Col < 8
}

// ChessMove 走子紀錄
type ChessMove struct {
	Player   string `json:"player"`
	From     Square `json:"from"`
	To       Square `json:"to"`
	Piece    string `json:"piece"`
	Captured string `json:"captured,omitempty"`
}

// Chess 西洋棋。
//
// 只驗證座標與棋子所屬，不檢查各棋子的走法。
// 建立者執白，第二位玩家加入時自動開始。
type Chess struct {
	Session
	Board [8][8]string `json:"board"`
	Moves []ChessMove  `json:"moves"`
}

func newChess(id, creator string, now time.Time) *Chess {
	c := &Chess{Session: newSession(id, KindChess, creator, 2, now)}

	back := [8]string{"R", "N", "B", "Q", "K", "B", "N", "R"}
	for col := range 8 {
		c.Board[0][col] = "b" + back[col]
		c.Board[1][col] = "bP"
		c.Board[6][col] = "wP"
		c.Board[7][col] = "w" + back[col]
	}
	return c
}

// side 玩家所執的顏色前綴
func (c *Chess) side(index int) byte {
	if index == 0 {
		return 'w'
	}
	return 'b'
}

func (c *Chess) joined(time.Time) []Event {
	if len(c.Players) < 2 {
		return nil
	}
	c.Status = StatusPlaying
	c.CurrentPlayer = 0
	return []Event{{Name: EventGameStarted, Data: map[string]string{
		"white": c.Players[0].Name,
		"black": c.Players[1].Name,
	}}}
}

func (c *Chess) start(StartOptions, time.Time) ([]Event, error) {
	return nil, apperrors.Conflict("chess starts when the second player joins")
}

func (c *Chess) move(player string, from, to Square, now time.Time) ([]Event, error) {
	if err := c.requireTurn(player); err != nil {
		return nil, err
	}
	if !from.valid() || !to.valid() {
		return nil, apperrors.Invalid("square out of bounds")
	}
	if from == to {
		return nil, apperrors.Invalid("origin and destination are the same square")
	}

	piece := c.Board[from.Row][from.Col]
	if piece == "" {
		return nil, apperrors.Invalid("no piece at origin")
	}
	if piece[0] != c.side(c.CurrentPlayer) {
		return nil, apperrors.Forbidden("piece does not belong to %s", player)
	}
	captured := c.Board[to.Row][to.Col]

	c.Board[to.Row][to.Col] = piece
	c.Board[from.Row][from.Col] = ""
	m := ChessMove{Player: player, From: from, To: to, Piece: piece, Captured: captured}
	c.Moves = append(c.Moves, m)

	events := []Event{{Name: EventMoveMade, Data: m}}
	if c.concluded() {
		c.finish(player, now)
		return append(events, Event{Name: EventGameOver, Data: map[string]string{"winner": player}}), nil
	}

	c.advance(1)
	return events, nil
}

// concluded 判斷將死或和棋。
// 將死與逼和判定未實作，恆回傳 false；對局只會因玩家離開而結束。
func (c *Chess) concluded() bool {
	return false
}

// ChessView 西洋棋快照
type ChessView struct {
	Session
	Board [8][8]string `json:"board"`
	Turn  string       `json:"turn"`
	Moves []ChessMove  `json:"moves"`
}

func (c *Chess) view(string) any {
	turn := "white"
	if c.CurrentPlayer == 1 {
		turn = "black"
	}
	v := ChessView{
		Session: c.Session,
		Board:   c.Board,
		Turn:    turn,
		Moves:   append([]ChessMove(nil), c.Moves...),
	}
	v.Players = append([]Player(nil), c.Players...)
	return v
}
