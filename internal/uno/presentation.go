package uno

import "uno-server/internal/game"

// ClientState is one observer's view of the match: their own hand in full,
// everyone else reduced to a card count.
type ClientState struct {
	RoomID              string             `json:"roomId"`
	Version             int64              `json:"version"`
	Status              Status             `json:"status"`
	You                 string             `json:"you"`
	Hand                []game.Card        `json:"hand"`
	UnoDeclared         bool               `json:"unoDeclared"`
	Players             []OtherPlayerState `json:"players"`
	DrawCount           int                `json:"drawCount"`
	DiscardCount        int                `json:"discardCount"`
	TopCard             *game.Card         `json:"topCard"` // nil while in the lobby
	TurnPlayerID        string             `json:"turnPlayerId,omitempty"`
	IsYourTurn          bool               `json:"isYourTurn"`
	Direction           Direction          `json:"direction"`
	PendingPenalty      int                `json:"pendingPenalty"`
	ActiveColorOverride game.Color         `json:"activeColorOverride,omitempty"`
	WinnerID            string             `json:"winnerId,omitempty"`
	PlayableIndexes     []int              `json:"playableIndexes"`
	Log                 []LogEntry         `json:"log"`
}

type OtherPlayerState struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	AvatarRef   string `json:"avatarRef"`
	HandLength  int    `json:"handLength"`
	UnoDeclared bool   `json:"unoDeclared"`
	Seat        int    `json:"seat"`
}

// ClientStateFor projects the match for playerID. Unknown ids get a view with an
// empty hand.
func (m *Match) ClientStateFor(playerID string) *ClientState {
	state := &ClientState{
		RoomID:              m.RoomID,
		Version:             m.Version,
		Status:              m.Status,
		You:                 playerID,
		Hand:                []game.Card{},
		Players:             make([]OtherPlayerState, 0, len(m.Players)),
		DrawCount:           len(m.DrawPile),
		DiscardCount:        len(m.DiscardPile),
		Direction:           m.Direction,
		PendingPenalty:      m.PendingPenalty,
		ActiveColorOverride: m.ActiveColorOverride,
		WinnerID:            m.WinnerID,
		PlayableIndexes:     []int{},
		Log:                 append([]LogEntry(nil), m.Log...),
	}

	if m.TopCard != nil {
		top := *m.TopCard
		state.TopCard = &top
	}

	for seat, p := range m.Players {
		state.Players = append(state.Players, OtherPlayerState{
			ID:          p.ID,
			DisplayName: p.DisplayName,
			AvatarRef:   p.AvatarRef,
			HandLength:  len(p.Hand),
			UnoDeclared: p.UnoDeclared,
			Seat:        seat,
		})
		if p.ID == playerID {
			state.Hand = clonePile(p.Hand)
			state.UnoDeclared = p.UnoDeclared
		}
	}

	if m.Status == StatusPlaying {
		current := m.Players[m.TurnIndex]
		state.TurnPlayerID = current.ID
		state.IsYourTurn = current.ID == playerID
		if state.IsYourTurn {
			for i, card := range current.Hand {
				if IsLegalPlay(card, *m.TopCard, m.ActiveColorOverride, m.PendingPenalty) {
					state.PlayableIndexes = append(state.PlayableIndexes, i)
				}
			}
		}
	}

	return state
}
