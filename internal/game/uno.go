package game

import (
	"math/rand/v2"
	"slices"
	"strconv"
	"time"

	apperrors "github.com/koopa0/system-design/14-procurement-hub/pkg/errors"
)

// UNO 常數
const (
	UnoDeckSize   = 108
	unoHandSize   = 7
	unoMaxPlayers = 10

	ColorWild = "wild"

	ValueSkip      = "skip"
	ValueReverse   = "reverse"
	ValueDrawTwo   = "draw2"
	ValueWild      = "wild"
	ValueWildDraw4 = "wild4"
)

// UnoColors 四種顏色
var UnoColors = []string{"red", "yellow", "green", "blue"}

// Card UNO 牌
type Card struct {
	Color string `json:"color"`
	Value string `json:"value"`
}

// IsWild 是否為萬用牌
func (c Card) IsWild() bool {
	return c.Color == ColorWild
}

// NewUnoDeck 建立一副 108 張的牌（未洗牌）。
//
// 每色一張 0、1~9 各兩張、skip/reverse/draw2 各兩張，加上 wild 與 wild4 各四張。
func NewUnoDeck() []Card {
	deck := make([]Card, 0, UnoDeckSize)
	for _, color := range UnoColors {
		deck = append(deck, Card{Color: color, Value: "0"})
		for range 2 {
			for n := 1; n <= 9; n++ {
				deck = append(deck, Card{Color: color, Value: strconv.Itoa(n)})
			}
			deck = append(deck,
				Card{Color: color, Value: ValueSkip},
				Card{Color: color, Value: ValueReverse},
				Card{Color: color, Value: ValueDrawTwo},
			)
		}
	}
	for range 4 {
		deck = append(deck, Card{Color: ColorWild, Value: ValueWild}, Card{Color: ColorWild, Value: ValueWildDraw4})
	}
	return deck
}

// Uno 出牌遊戲。
//
// 牌只會在抽牌堆、棄牌堆、手牌之間移動，總數永遠是 108。
// 抽牌堆的頂端是 slice 的最後一張。
type Uno struct {
	Session
	drawPile     []Card
	discard      []Card
	hands        [][]Card
	currentColor string
	currentValue string
	rng          *rand.Rand
}

func newUno(id, creator string, now time.Time, rng *rand.Rand) *Uno {
	return &Uno{
		Session: newSession(id, KindUno, creator, unoMaxPlayers, now),
		rng:     rng,
	}
}

func (u *Uno) joined(time.Time) []Event { return nil }

func (u *Uno) start(_ StartOptions, _ time.Time) ([]Event, error) {
	if len(u.Players) < 2 {
		return nil, apperrors.Invalid("uno needs at least 2 players")
	}

	deck := NewUnoDeck()
	u.rng.Shuffle(len(deck), func(i, j int) { deck[i], deck[j] = deck[j], deck[i] })
	u.drawPile = deck

	u.hands = make([][]Card, len(u.Players))
	for i := range u.hands {
		u.hands[i] = u.pop(unoHandSize)
	}

	// 翻牌直到非萬用牌，翻過的萬用牌放回牌堆底
	var skipped []Card
	for {
		c := u.pop(1)[0]
		if !c.IsWild() {
			u.discard = []Card{c}
			u.currentColor = c.Color
			u.currentValue = c.Value
			break
		}
		skipped = append(skipped, c)
	}
	u.drawPile = append(skipped, u.drawPile...)

	u.Status = StatusPlaying
	u.CurrentPlayer = 0
	u.Direction = 1

	return []Event{{Name: EventGameStarted, Data: map[string]any{
		"players":  len(u.Players),
		"top_card": u.discard[0],
	}}}, nil
}

// pop 從抽牌堆頂端取 n 張；呼叫者確認數量足夠
func (u *Uno) pop(n int) []Card {
	cut := len(u.drawPile) - n
	cards := slices.Clone(u.drawPile[cut:])
	u.drawPile = u.drawPile[:cut]
	slices.Reverse(cards)
	return cards
}

// reshuffle 把棄牌堆頂端以外的牌洗回抽牌堆
func (u *Uno) reshuffle() {
	if len(u.discard) <= 1 {
		return
	}
	top := u.discard[len(u.discard)-1]
	rest := slices.Clone(u.discard[:len(u.discard)-1])
	u.rng.Shuffle(len(rest), func(i, j int) { rest[i], rest[j] = rest[j], rest[i] })

	u.drawPile = append(rest, u.drawPile...)
	u.discard = []Card{top}
}

// deal 讓某位玩家抽 n 張；牌不夠時先重洗，仍不夠就能抽多少抽多少
func (u *Uno) deal(seat, n int) int {
	if len(u.drawPile) < n {
		u.reshuffle()
	}
	n = min(n, len(u.drawPile))
	u.hands[seat] = append(u.hands[seat], u.pop(n)...)
	return n
}

// next 依方向的下一位玩家
func (u *Uno) next() int {
	n := len(u.Players)
	return ((u.CurrentPlayer+u.Direction)%n + n) % n
}

func (u *Uno) playable(c Card) bool {
	return c.IsWild() || c.Color == u.currentColor || c.Value == u.currentValue
}

func (u *Uno) play(player string, index int, color string, now time.Time) ([]Event, error) {
	if err := u.requireTurn(player); err != nil {
		return nil, err
	}
	seat := u.CurrentPlayer
	hand := u.hands[seat]
	if index < 0 || index >= len(hand) {
		return nil, apperrors.Invalid("card index %d out of range", index)
	}
	card := hand[index]
	if !u.playable(card) {
		return nil, apperrors.Invalid("%s %s does not match %s %s", card.Color, card.Value, u.currentColor, u.currentValue)
	}

	chosen := card.Color
	if card.IsWild() {
		switch {
		case color == "":
			chosen = UnoColors[0]
		case slices.Contains(UnoColors, color):
			chosen = color
		default:
			return nil, apperrors.Invalid("unknown color: %s", color)
		}
	}

	u.hands[seat] = slices.Delete(hand, index, index+1)
	u.discard = append(u.discard, card)
	u.currentColor = chosen
	u.currentValue = card.Value

	events := []Event{{Name: EventUnoCardPlayed, Data: map[string]any{
		"player": player,
		"card":   card,
		"color":  chosen,
		"left":   len(u.hands[seat]),
	}}}

	if len(u.hands[seat]) == 0 {
		u.finish(player, now)
		return append(events, Event{Name: EventGameOver, Data: map[string]string{"winner": player}}), nil
	}

	switch card.Value {
	case ValueSkip:
		u.advance(2)
	case ValueReverse:
		u.Direction = -u.Direction
		if len(u.Players) == 2 {
			u.advance(2)
		} else {
			u.advance(1)
		}
	case ValueDrawTwo, ValueWildDraw4:
		count := 2
		if card.Value == ValueWildDraw4 {
			count = 4
		}
		target := u.next()
		drawn := u.deal(target, count)
		events = append(events, Event{Name: EventUnoCardDrawn, Data: map[string]any{
			"player": u.Players[target].Name,
			"count":  drawn,
			"forced": true,
		}})
		u.advance(2)
	default:
		u.advance(1)
	}

	return events, nil
}

func (u *Uno) drawCard(player string) ([]Event, error) {
	if err := u.requireTurn(player); err != nil {
		return nil, err
	}
	seat := u.CurrentPlayer
	if u.deal(seat, 1) == 0 {
		return nil, apperrors.Conflict("no cards left to draw")
	}
	u.advance(1)

	return []Event{{Name: EventUnoCardDrawn, Data: map[string]any{
		"player": player,
		"count":  1,
	}}}, nil
}

// UnoView UNO 快照；只有觀看者本人的手牌可見
type UnoView struct {
	Session
	Hand         []Card         `json:"hand,omitempty"`
	HandCounts   map[string]int `json:"hand_counts"`
	TopCard      *Card          `json:"top_card,omitempty"`
	CurrentColor string         `json:"current_color,omitempty"`
	CurrentValue string         `json:"current_value,omitempty"`
	DrawPile     int            `json:"draw_pile"`
}

func (u *Uno) view(viewer string) any {
	v := UnoView{
		Session:      u.Session,
		HandCounts:   make(map[string]int, len(u.hands)),
		CurrentColor: u.currentColor,
		CurrentValue: u.currentValue,
		DrawPile:     len(u.drawPile),
	}
	v.Players = append([]Player(nil), u.Players...)

	for i, hand := range u.hands {
		name := u.Players[i].Name
		v.HandCounts[name] = len(hand)
		if name == viewer {
			v.Hand = slices.Clone(hand)
		}
	}
	if len(u.discard) > 0 {
		top := u.discard[len(u.discard)-1]
		v.TopCard = &top
	}
	return v
}
