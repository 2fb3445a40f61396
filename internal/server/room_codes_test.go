package server_test

import (
	"strconv"
	"testing"

	"uno-server/internal/server"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func usedIn(codes map[string]bool) func(string) bool {
	return func(code string) bool { return codes[code] }
}

func TestGenerateRoomCodeFormat(t *testing.T) {
	assert := assert.New(t)
	usedCodes := make(map[string]bool)

	for range 100 {
		code, err := server.GenerateRoomCode(usedIn(usedCodes))
		require.NoError(t, err)

		assert.NoError(server.ValidateRoomCode(code))
		n, err := strconv.Atoi(code)
		assert.NoError(err)
		assert.True(n >= 1000 && n <= 9999)
	}
}

func TestGenerateRoomCodeUniqueness(t *testing.T) {
	usedCodes := make(map[string]bool)

	for range 1000 {
		code, err := server.GenerateRoomCode(usedIn(usedCodes))
		require.NoError(t, err)

		assert.False(t, usedCodes[code], "Code %s was generated twice", code)
		usedCodes[code] = true
	}

	assert.Equal(t, 1000, len(usedCodes))
}

func TestGenerateRoomCodeFindsLastFreeCode(t *testing.T) {
	usedCodes := make(map[string]bool)
	for n := 1000; n <= 9999; n++ {
		usedCodes[strconv.Itoa(n)] = true
	}
	delete(usedCodes, "4242")

	code, err := server.GenerateRoomCode(usedIn(usedCodes))
	require.NoError(t, err)
	assert.Equal(t, "4242", code)

	usedCodes["4242"] = true
	_, err = server.GenerateRoomCode(usedIn(usedCodes))
	assert.ErrorIs(t, err, server.ErrNoRoomCodes)
}

func TestValidateRoomCodeValidCodes(t *testing.T) {
	for _, code := range []string{"1000", "4821", "9999"} {
		assert.NoError(t, server.ValidateRoomCode(code), "Code %s should be valid", code)
	}
}

func TestValidateRoomCodeInvalidLength(t *testing.T) {
	for _, code := range []string{"", "1", "12", "123", "12345"} {
		err := server.ValidateRoomCode(code)
		assert.Error(t, err, "Code %s should be invalid (wrong length)", code)
		assert.Contains(t, err.Error(), "exactly 4 digits")
	}
}

func TestValidateRoomCodeInvalidCharacters(t *testing.T) {
	for _, code := range []string{"ABCD", "12A4", "1-23", " 123", "0123"} {
		assert.Error(t, server.ValidateRoomCode(code), "Code %q should be invalid", code)
	}
}

func TestNormalizeRoomCode(t *testing.T) {
	assert.Equal(t, "4821", server.NormalizeRoomCode("  4821 "))
}
