package uno

import (
	"encoding/json"
	"fmt"
	"testing"

	"uno-server/internal/game"
)

func c(color game.Color, value game.Value) game.Card {
	return game.Card{Color: color, Value: value}
}

// riggedMatch builds a playing match whose hands and top card are fixed. Cards
// are taken from a real deck so every physical card is accounted for; whatever
// is not dealt becomes the draw pile.
func riggedMatch(t *testing.T, hands [][]game.Card, top game.Card) *Match {
	t.Helper()

	pool := game.NewDeck()
	take := func(want game.Card) game.Card {
		for i, card := range pool {
			if card.Color == want.Color && card.Value == want.Value {
				pool = append(pool[:i:i], pool[i+1:]...)
				return card
			}
		}
		t.Fatalf("deck has no %s left", want)
		return game.Card{}
	}

	m := &Match{
		RoomID:    "1234",
		Status:    StatusPlaying,
		Direction: Clockwise,
		Version:   1,
	}
	for i, hand := range hands {
		p := &Player{
			ID:          fmt.Sprintf("p%d", i),
			DisplayName: string(rune('A' + i)),
			Hand:        []game.Card{},
		}
		for _, want := range hand {
			p.Hand = append(p.Hand, take(want))
		}
		m.Players = append(m.Players, p)
	}

	topCard := take(top)
	m.TopCard = &topCard
	m.DiscardPile = []game.Card{topCard}
	m.DrawPile = pool
	return m
}

func lobbyWith(t *testing.T, n int, opts ...Option) *Match {
	t.Helper()
	m, err := NewMatch("1234", Profile{ID: "p0", DisplayName: "A"}, opts...)
	if err != nil {
		t.Fatalf("NewMatch: %v", err)
	}
	for i := 1; i < n; i++ {
		if err := m.Join(Profile{ID: fmt.Sprintf("p%d", i), DisplayName: string(rune('A' + i))}); err != nil {
			t.Fatalf("Join %d: %v", i, err)
		}
	}
	return m
}

// assertInvariants checks the structural rules that must hold in every state.
func assertInvariants(t *testing.T, m *Match) {
	t.Helper()

	if m.Status == StatusLobby {
		return
	}

	seen := make(map[int]int)
	count := func(cards []game.Card) {
		for _, card := range cards {
			seen[card.ID]++
		}
	}
	count(m.DrawPile)
	count(m.DiscardPile)
	for _, p := range m.Players {
		count(p.Hand)
	}
	if len(seen) != game.DeckSize {
		t.Fatalf("expected %d distinct cards, found %d", game.DeckSize, len(seen))
	}
	for id, n := range seen {
		if n != 1 || id < 0 || id >= game.DeckSize {
			t.Fatalf("card %d seen %d times", id, n)
		}
	}

	if m.TurnIndex < 0 || m.TurnIndex >= len(m.Players) {
		t.Fatalf("turn index %d out of range", m.TurnIndex)
	}
	if m.PendingPenalty < 0 {
		t.Fatalf("negative pending penalty %d", m.PendingPenalty)
	}
	if m.TopCard == nil || len(m.DiscardPile) == 0 || *m.TopCard != m.DiscardPile[0] {
		t.Fatalf("top card %v does not match discard head", m.TopCard)
	}
	if (m.WinnerID != "") != (m.Status == StatusEnded) {
		t.Fatalf("winner %q with status %s", m.WinnerID, m.Status)
	}
}

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return string(data)
}
