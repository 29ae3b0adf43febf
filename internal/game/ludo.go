package game

import (
	"fmt"
	"math/rand/v2"
	"time"

	apperrors "github.com/koopa0/system-design/14-procurement-hub/pkg/errors"
)

// 飛行棋常數
const (
	LudoHome      = -1
	LudoGoal      = 56
	LudoPieces    = 4
	ludoMinPlayer = 2
	ludoMaxPlayer = 8

	// 電腦玩家連續行動的上限，避免全是電腦時無限迴圈
	ludoBotTurnLimit = 2000
)

// 電腦難度
const (
	DifficultyEasy   = "easy"
	DifficultyMedium = "medium"
	DifficultyHard   = "hard"
)

var ludoColors = [ludoMaxPlayer]string{"red", "green", "yellow", "blue", "purple", "orange", "cyan", "pink"}

// LudoSeat 玩家的棋子狀態
type LudoSeat struct {
	Color  string          `json:"color"`
	Pieces [LudoPieces]int `json:"pieces"`
	InGoal int             `json:"in_goal"`
}

// Ludo 飛行棋。
//
// 回合只由擲骰與移動推進：
//   - 擲骰後沒有可移動的棋子，直接換人
//   - 移動後擲出 6 可再擲一次，否則換人
//
// 輪到電腦玩家時，在同一個請求內同步替它行動，直到輪回真人或遊戲結束。
type Ludo struct {
	Session
	Seats  []LudoSeat `json:"seats"`
	Dice   int        `json:"dice"`
	Rolled bool       `json:"rolled"`
	rng    *rand.Rand
}

func newLudo(id, creator string, now time.Time, rng *rand.Rand) *Ludo {
	l := &Ludo{
		Session: newSession(id, KindLudo, creator, 4, now),
		rng:     rng,
	}
	l.Seats = append(l.Seats, newLudoSeat(0))
	return l
}

func newLudoSeat(index int) LudoSeat {
	return LudoSeat{
		Color:  ludoColors[index%ludoMaxPlayer],
		Pieces: [LudoPieces]int{LudoHome, LudoHome, LudoHome, LudoHome},
	}
}

func (l *Ludo) joined(time.Time) []Event {
	for len(l.Seats) < len(l.Players) {
		l.Seats = append(l.Seats, newLudoSeat(len(l.Seats)))
	}
	return nil
}

func (l *Ludo) start(opts StartOptions, now time.Time) ([]Event, error) {
	difficulty := opts.Difficulty
	switch difficulty {
	case "":
		difficulty = DifficultyMedium
	case DifficultyEasy, DifficultyMedium, DifficultyHard:
	default:
		return nil, apperrors.Invalid("unknown difficulty: %s", opts.Difficulty)
	}

	maxPlayers := opts.MaxPlayers
	if maxPlayers == 0 {
		maxPlayers = l.MaxPlayers
	}
	maxPlayers = min(max(maxPlayers, ludoMinPlayer, len(l.Players)), ludoMaxPlayer)

	// 先算出結果再寫入，人數不足時不留下電腦玩家
	players := len(l.Players)
	if opts.FillWithBots {
		players = maxPlayers
	}
	if players < ludoMinPlayer {
		return nil, apperrors.Invalid("ludo needs at least %d players", ludoMinPlayer)
	}

	l.MaxPlayers = maxPlayers
	for n := 1; len(l.Players) < players; n++ {
		name := fmt.Sprintf("Bot %d", n)
		if l.indexOf(name) >= 0 {
			continue
		}
		l.Players = append(l.Players, Player{Name: name, Bot: true, Difficulty: difficulty})
	}
	l.joined(now)

	l.Status = StatusPlaying
	l.CurrentPlayer = 0
	l.Dice = 0
	l.Rolled = false

	events := []Event{{Name: EventGameStarted, Data: map[string]any{
		"players":     len(l.Players),
		"max_players": l.MaxPlayers,
	}}}
	return append(events, l.runBots(now)...), nil
}

// movable 目前骰子點數下可移動的棋子
func (l *Ludo) movable(seat int) []int {
	var out []int
	for i, pos := range l.Seats[seat].Pieces {
		if l.canMove(pos) {
			out = append(out, i)
		}
	}
	return out
}

func (l *Ludo) canMove(pos int) bool {
	switch {
	case pos == LudoHome:
		return l.Dice == 6
	case pos >= LudoGoal:
		return false
	default:
		return true
	}
}

func (l *Ludo) roll(player string, now time.Time) ([]Event, error) {
	if err := l.requireTurn(player); err != nil {
		return nil, err
	}
	if l.Rolled {
		return nil, apperrors.Conflict("dice already rolled, move a piece")
	}

	events := l.doRoll()
	return append(events, l.runBots(now)...), nil
}

// doRoll 擲骰；沒有可移動的棋子時換人
func (l *Ludo) doRoll() []Event {
	player := l.current().Name
	l.Dice = l.rng.IntN(6) + 1
	l.Rolled = true

	movable := l.movable(l.CurrentPlayer)
	passed := len(movable) == 0
	if passed {
		l.Rolled = false
		l.advance(1)
	}

	return []Event{{Name: EventLudoDiceRolled, Data: map[string]any{
		"player":      player,
		"value":       l.Dice,
		"movable":     movable,
		"turn_passed": passed,
	}}}
}

func (l *Ludo) move(player string, piece int, now time.Time) ([]Event, error) {
	if err := l.requireTurn(player); err != nil {
		return nil, err
	}
	if !l.Rolled {
		return nil, apperrors.Conflict("roll the dice first")
	}
	if piece < 0 || piece >= LudoPieces {
		return nil, apperrors.Invalid("piece must be between 0 and %d", LudoPieces-1)
	}
	if !l.canMove(l.Seats[l.CurrentPlayer].Pieces[piece]) {
		return nil, apperrors.Invalid("piece %d cannot move with a roll of %d", piece, l.Dice)
	}

	events := l.doMove(piece, now)
	return append(events, l.runBots(now)...), nil
}

// doMove 移動棋子；呼叫前已確認可移動
func (l *Ludo) doMove(piece int, now time.Time) []Event {
	player := l.current().Name
	seat := &l.Seats[l.CurrentPlayer]

	from := seat.Pieces[piece]
	to := 0
	if from != LudoHome {
		to = min(from+l.Dice, LudoGoal)
	}
	seat.Pieces[piece] = to
	if to == LudoGoal {
		seat.InGoal++
	}
	l.Rolled = false

	events := []Event{{Name: EventLudoPieceMoved, Data: map[string]any{
		"player": player,
		"piece":  piece,
		"from":   from,
		"to":     to,
		"dice":   l.Dice,
	}}}

	if seat.InGoal == LudoPieces {
		l.finish(player, now)
		return append(events, Event{Name: EventGameOver, Data: map[string]string{"winner": player}})
	}

	if l.Dice != 6 {
		l.advance(1)
	}
	return events
}

// runBots 輪到電腦玩家時替它擲骰與移動
func (l *Ludo) runBots(now time.Time) []Event {
	var events []Event
	for range ludoBotTurnLimit {
		if l.Status != StatusPlaying || !l.current().Bot {
			break
		}
		if !l.Rolled {
			events = append(events, l.doRoll()...)
			continue
		}
		events = append(events, l.doMove(l.choose(), now)...)
	}
	return events
}

// choose 電腦依難度選擇要移動的棋子；呼叫前至少有一顆可移動
func (l *Ludo) choose() int {
	movable := l.movable(l.CurrentPlayer)
	pieces := l.Seats[l.CurrentPlayer].Pieces

	switch l.current().Difficulty {
	case DifficultyEasy:
		return movable[l.rng.IntN(len(movable))]

	case DifficultyHard:
		// 能進終點優先，其次出家門，最後推進最前面的棋子
		for _, i := range movable {
			if pieces[i] != LudoHome && pieces[i]+l.Dice >= LudoGoal {
				return i
			}
		}
		for _, i := range movable {
			if pieces[i] == LudoHome {
				return i
			}
		}
		best := movable[0]
		for _, i := range movable[1:] {
			if pieces[i] > pieces[best] {
				best = i
			}
		}
		return best

	default:
		return movable[0]
	}
}

// LudoView 飛行棋快照
type LudoView struct {
	Session
	Seats  []LudoSeat `json:"seats"`
	Dice   int        `json:"dice"`
	Rolled bool       `json:"rolled"`
}

func (l *Ludo) view(string) any {
	v := LudoView{
		Session: l.Session,
		Seats:   append([]LudoSeat(nil), l.Seats...),
		Dice:    l.Dice,
		Rolled:  l.Rolled,
	}
	v.Players = append([]Player(nil), l.Players...)
	return v
}
