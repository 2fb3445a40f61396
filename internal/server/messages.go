package server

import (
	"encoding/json"
	"strings"
)

// Inbound message types.
const (
	MsgPing       = "ping"
	MsgCreateRoom = "create_room"
	MsgJoinRoom   = "join_room"
	MsgStartGame  = "start_game"
	MsgPlayCard   = "play_card"
	MsgDrawCard   = "draw_card"
	MsgDeclareUno = "declare_uno"
)

// Outbound message types.
const (
	MsgPong           = "pong"
	MsgRoomCreated    = "room_created"
	MsgRoomJoined     = "room_joined"
	MsgMatchUpdated   = "match_updated"
	MsgError          = "error"
	MsgServerShutdown = "server_shutdown"
)

type ClientMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type ServerMessage struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// splitCodedError reads errors written as "CODE: message".
func splitCodedError(err error) (code, message string, ok bool) {
	code, message, found := strings.Cut(err.Error(), ": ")
	if !found || code == "" || strings.ContainsAny(code, " abcdefghijklmnopqrstuvwxyz") {
		return "", "", false
	}
	return code, message, true
}
