package uno

import "uno-server/internal/game"

// DrawCards takes n cards from the head of the draw pile.
//
// When the draw pile holds n cards or fewer, the discard pile minus its head (the
// card in play) is shuffled and placed beneath what is left of the draw pile. If
// both piles together still cannot cover n, every available card is handed out
// and the shortfall is forgiven. Inputs are never modified.
func DrawCards(n int, drawPile, discardPile []game.Card, shuffle game.Shuffler) (cards, newDraw, newDiscard []game.Card) {
	newDraw = clonePile(drawPile)
	newDiscard = clonePile(discardPile)

	if len(newDraw) <= n && len(newDiscard) > 1 {
		rest := game.Shuffle(newDiscard[1:], shuffle)
		newDraw = append(newDraw, rest...)
		newDiscard = newDiscard[:1]
	}

	if n > len(newDraw) {
		n = len(newDraw)
	}
	if n < 0 {
		n = 0
	}

	cards = clonePile(newDraw[:n])
	newDraw = newDraw[n:]
	return cards, newDraw, newDiscard
}

func clonePile(cards []game.Card) []game.Card {
	out := make([]game.Card, len(cards))
	copy(out, cards)
	return out
}
