package server

import (
	"time"

	"uno-server/internal/game"
	"uno-server/internal/uno"
)

// ============================================================================
// ERROR RESPONSES
// ============================================================================
// tygo:generate
type ErrorMessage struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// ============================================================================
// CREATE ROOM (create_room)
// ============================================================================
// tygo:generate
type CreateRoomRequest struct {
	PlayerID    string `json:"playerId,omitempty"`
	DisplayName string `json:"displayName"`
	AvatarRef   string `json:"avatarRef,omitempty"`
}

// tygo:generate
type RoomJoinedResponse struct {
	RoomID   string `json:"roomId"`
	PlayerID string `json:"playerId"`
}

// ============================================================================
// JOIN ROOM (join_room)
// ============================================================================
// tygo:generate
type JoinRoomRequest struct {
	RoomID      string `json:"roomId"`
	PlayerID    string `json:"playerId,omitempty"`
	DisplayName string `json:"displayName"`
	AvatarRef   string `json:"avatarRef,omitempty"`
}

// ============================================================================
// MATCH COMMANDS (start_game, play_card, draw_card, declare_uno)
// ============================================================================
// Version is optional. When set it must equal the current match version or the
// command is rejected with STALE_STATE.
// tygo:generate
type CommandRequest struct {
	Version int64 `json:"version,omitempty"`
}

// Version is required on play_card: CardIndex is a hand position and only
// means something against the version the client was looking at.
// tygo:generate
type PlayCardRequest struct {
	CardIndex   int        `json:"cardIndex"`
	ChosenColor game.Color `json:"chosenColor,omitempty"`
	Version     int64      `json:"version"`
}

// ============================================================================
// MATCH UPDATED (match_updated broadcast)
// ============================================================================
// tygo:generate
type MatchUpdated struct {
	RoomID  string           `json:"roomId"`
	Version int64            `json:"version"`
	State   *uno.ClientState `json:"state"`
}

// ============================================================================
// HTTP
// ============================================================================
// tygo:generate
type RoomSummary struct {
	RoomID    string     `json:"roomId"`
	Status    uno.Status `json:"status"`
	Version   int64      `json:"version"`
	Players   []RoomSeat `json:"players"`
	MaxSeats  int        `json:"maxSeats"`
	Joinable  bool       `json:"joinable"`
	WinnerID  string     `json:"winnerId,omitempty"`
	UpdatedAt time.Time  `json:"updatedAt"`

	// Connections counts the sockets currently seated in the room.
	Connections int `json:"connections"`
}

// tygo:generate
type RoomSeat struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	AvatarRef   string `json:"avatarRef"`
	Seat        int    `json:"seat"`
	HandLength  int    `json:"handLength"`
}

func summarize(m *uno.Match) RoomSummary {
	seats := make([]RoomSeat, len(m.Players))
	for i, p := range m.Players {
		seats[i] = RoomSeat{
			ID:          p.ID,
			DisplayName: p.DisplayName,
			AvatarRef:   p.AvatarRef,
			Seat:        i,
			HandLength:  len(p.Hand),
		}
	}
	return RoomSummary{
		RoomID:    m.RoomID,
		Status:    m.Status,
		Version:   m.Version,
		Players:   seats,
		MaxSeats:  uno.MaxPlayers,
		Joinable:  m.Status == uno.StatusLobby && len(m.Players) < uno.MaxPlayers,
		WinnerID:  m.WinnerID,
		UpdatedAt: m.UpdatedAt,
	}
}

// tygo:generate
type EventsResponse struct {
	RoomID string         `json:"roomId"`
	Events []uno.LogEntry `json:"events"`
}
