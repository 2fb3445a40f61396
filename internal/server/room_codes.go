package server

import (
	"errors"
	"math/rand/v2"
	"strconv"
	"strings"
)

const (
	minRoomCode = 1000
	maxRoomCode = 9999
)

var ErrNoRoomCodes = errors.New("ROOM_LIMIT: No room codes left")

// GenerateRoomCode picks a free four-digit code. Random picks are tried first;
// a crowded space falls back to a scan.
func GenerateRoomCode(inUse func(code string) bool) (string, error) {
	for range 64 {
		code := strconv.Itoa(minRoomCode + rand.IntN(maxRoomCode-minRoomCode+1))
		if !inUse(code) {
			return code, nil
		}
	}

	start := rand.IntN(maxRoomCode - minRoomCode + 1)
	for i := range maxRoomCode - minRoomCode + 1 {
		code := strconv.Itoa(minRoomCode + (start+i)%(maxRoomCode-minRoomCode+1))
		if !inUse(code) {
			return code, nil
		}
	}
	return "", ErrNoRoomCodes
}

func ValidateRoomCode(code string) error {
	if len(code) != 4 {
		return errors.New("Room code must be exactly 4 digits")
	}

	for _, ch := range code {
		if ch < '0' || ch > '9' {
			return errors.New("Room code must contain only digits")
		}
	}
	if code[0] == '0' {
		return errors.New("Room code cannot start with 0")
	}

	return nil
}

func NormalizeRoomCode(code string) string {
	return strings.TrimSpace(code)
}
