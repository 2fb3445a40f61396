package uno

import "uno-server/internal/game"

// IsLegalPlay decides whether card may be played on top.
//
// While a penalty is pending nothing is playable: the only way to clear it is to
// draw. Stacking draw2/draw4 on a pending penalty is deliberately not allowed.
func IsLegalPlay(card, top game.Card, override game.Color, pendingPenalty int) bool {
	if pendingPenalty > 0 {
		return false
	}
	if card.IsWild() {
		return true
	}

	color := top.Color
	if override != "" {
		color = override
	}

	return card.Color == color || card.Value == top.Value
}

type PlayEffect struct {
	TurnsToSkip   int
	DirectionFlip bool
	PenaltyDelta  int
}

func ResolvePlayEffect(card game.Card) PlayEffect {
	switch card.Value {
	case game.Skip:
		return PlayEffect{TurnsToSkip: 1}
	case game.Reverse:
		return PlayEffect{DirectionFlip: true}
	case game.Draw2:
		return PlayEffect{PenaltyDelta: 2}
	case game.Draw4:
		return PlayEffect{PenaltyDelta: 4}
	default:
		return PlayEffect{}
	}
}

// RequiresColorChoice reports whether playing card obliges the player to name a color.
func RequiresColorChoice(card game.Card) bool {
	return card.Value.IsWild()
}
