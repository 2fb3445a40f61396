package game

import (
	"fmt"
	"math/rand/v2"
)

type Color string

const (
	Red    Color = "red"
	Blue   Color = "blue"
	Green  Color = "green"
	Yellow Color = "yellow"
	Wild   Color = "wild"
)

// Colors are the four playable colors, in deck-building order.
var Colors = []Color{Red, Blue, Green, Yellow}

func (c Color) IsPlayable() bool {
	return c == Red || c == Blue || c == Green || c == Yellow
}

type Value string

const (
	Zero    Value = "0"
	One     Value = "1"
	Two     Value = "2"
	Three   Value = "3"
	Four    Value = "4"
	Five    Value = "5"
	Six     Value = "6"
	Seven   Value = "7"
	Eight   Value = "8"
	Nine    Value = "9"
	Skip    Value = "skip"
	Reverse Value = "reverse"
	Draw2   Value = "draw2"
	WildAny Value = "wild"
	Draw4   Value = "draw4"
)

var numericValues = map[Value]bool{
	Zero: true, One: true, Two: true, Three: true, Four: true,
	Five: true, Six: true, Seven: true, Eight: true, Nine: true,
}

// coloredValues excludes Zero, which appears once per color instead of twice.
var coloredValues = []Value{One, Two, Three, Four, Five, Six, Seven, Eight, Nine, Skip, Reverse, Draw2}

func (v Value) IsNumeric() bool {
	return numericValues[v]
}

func (v Value) IsWild() bool {
	return v == WildAny || v == Draw4
}

// Card is one physical card. Two red fives are different cards; ID tells them apart.
type Card struct {
	ID    int   `json:"id"`
	Color Color `json:"color"`
	Value Value `json:"value"`
}

func (c Card) IsWild() bool {
	return c.Color == Wild
}

// Valid reports whether the card respects the color/value pairing rule:
// wild and draw4 are always colorless, everything else always has a color.
func (c Card) Valid() bool {
	if c.Value.IsWild() {
		return c.Color == Wild
	}
	if !c.Value.IsNumeric() && c.Value != Skip && c.Value != Reverse && c.Value != Draw2 {
		return false
	}
	return c.Color.IsPlayable()
}

func (c Card) String() string {
	if c.IsWild() {
		return string(c.Value)
	}
	return fmt.Sprintf("%s %s", c.Color, c.Value)
}

// DeckSize is the number of cards in a standard deck.
const DeckSize = 108

// NewDeck builds the standard 108-card deck in a fixed order. IDs run 0..107.
func NewDeck() []Card {
	cards := make([]Card, 0, DeckSize)
	add := func(color Color, value Value) {
		cards = append(cards, Card{ID: len(cards), Color: color, Value: value})
	}

	for _, color := range Colors {
		add(color, Zero)
		for range 2 {
			for _, value := range coloredValues {
				add(color, value)
			}
		}
	}
	for range 4 {
		add(Wild, WildAny)
		add(Wild, Draw4)
	}

	return cards
}

// Shuffler permutes a slice of cards in place.
type Shuffler func(cards []Card)

// DefaultShuffler is a uniform Fisher-Yates permutation.
func DefaultShuffler(cards []Card) {
	rand.Shuffle(len(cards), func(i, j int) {
		cards[i], cards[j] = cards[j], cards[i]
	})
}

// SeededShuffler returns a deterministic Fisher-Yates shuffler, used by tests and replays.
func SeededShuffler(seed uint64) Shuffler {
	r := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	return func(cards []Card) {
		r.Shuffle(len(cards), func(i, j int) {
			cards[i], cards[j] = cards[j], cards[i]
		})
	}
}

// Shuffle returns a shuffled copy; the input is left untouched.
func Shuffle(cards []Card, shuffle Shuffler) []Card {
	out := make([]Card, len(cards))
	copy(out, cards)
	if shuffle == nil {
		shuffle = DefaultShuffler
	}
	shuffle(out)
	return out
}
