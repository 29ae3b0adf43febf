package game

import (
	"time"

	apperrors "github.com/koopa0/system-design/14-procurement-hub/pkg/errors"
)

// 八條連線
var tttLines = [8][3]int{
	{0, 1, 2}, {3, 4, 5}, {6, 7, 8},
	{0, 3, 6}, {1, 4, 7}, {2, 5, 8},
	{0, 4, 8}, {2, 4, 6},
}

// TicTacToe 井字棋，建立者為 X
type TicTacToe struct {
	Session
	Board        [9]string `json:"board"`
	WinnerSymbol string    `json:"winner_symbol,omitempty"`
}

func newTicTacToe(id, creator string, now time.Time) *TicTacToe {
	return &TicTacToe{Session: newSession(id, KindTicTacToe, creator, 2, now)}
}

func (t *TicTacToe) symbol(index int) string {
	if index == 0 {
		return "X"
	}
	return "O"
}

func (t *TicTacToe) joined(time.Time) []Event {
	if len(t.Players) < 2 {
		return nil
	}
	t.Status = StatusPlaying
	t.CurrentPlayer = 0
	return []Event{{Name: EventGameStarted, Data: map[string]string{
		"X": t.Players[0].Name,
		"O": t.Players[1].Name,
	}}}
}

func (t *TicTacToe) start(StartOptions, time.Time) ([]Event, error) {
	return nil, apperrors.Conflict("tic-tac-toe starts when the second player joins")
}

func (t *TicTacToe) move(player string, position int, now time.Time) ([]Event, error) {
	if err := t.requireTurn(player); err != nil {
		return nil, err
	}
	if position < 0 || position > 8 {
		return nil, apperrors.Invalid("position must be between 0 and 8")
	}
	if t.Board[position] != "" {
		return nil, apperrors.Conflict("position %d is taken", position)
	}

	sym := t.symbol(t.CurrentPlayer)
	t.Board[position] = sym
	events := []Event{{Name: EventMoveMade, Data: map[string]any{
		"player":   player,
		"position": position,
		"symbol":   sym,
	}}}

	if t.wins(sym) {
		t.WinnerSymbol = sym
		t.finish(player, now)
		return append(events, Event{Name: EventGameOver, Data: map[string]string{
			"winner": player,
			"symbol": sym,
		}}), nil
	}

	if t.full() {
		t.draw(now)
		return append(events, Event{Name: EventGameOver, Data: map[string]string{"result": "draw"}}), nil
	}

	t.advance(1)
	return events, nil
}

func (t *TicTacToe) wins(sym string) bool {
	for _, line := range tttLines {
		if t.Board[line[0]] == sym && t.Board[line[1]] == sym && t.Board[line[2]] == sym {
			return true
		}
	}
	return false
}

func (t *TicTacToe) full() bool {
	for _, cell := range t.Board {
		if cell == "" {
			return false
		}
	}
	return true
}

func (t *TicTacToe) view(string) any {
	v := *t
	v.Players = append([]Player(nil), t.Players...)
	return v
}
