package server

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"uno-server/internal/database"
	"uno-server/internal/uno"
)

func newTestDB(t *testing.T) database.Service {
	t.Helper()
	db, err := database.New(context.Background(), database.Config{Driver: database.DriverSQLite, DSN: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func newTestPersistence(t *testing.T) *PersistenceManager {
	t.Helper()
	db := newTestDB(t)
	return NewPersistenceManager(db.DB(), db.Driver())
}

func TestPersistence_SaveAndLoad(t *testing.T) {
	pm := newTestPersistence(t)
	ctx := context.Background()

	m := startedMatch(t)
	require.NoError(t, pm.SaveSnapshot(ctx, m))

	loaded, err := pm.LoadSnapshot(ctx, "4821")
	require.NoError(t, err)
	assert.Equal(t, m.Version, loaded.Version)
	assert.Equal(t, m.Status, loaded.Status)
	assert.Equal(t, m.DrawPile, loaded.DrawPile)
	assert.Equal(t, m.Players[0].Hand, loaded.Players[0].Hand)
	assert.Equal(t, *m.TopCard, *loaded.TopCard)
	assert.Equal(t, m.LogSeq, loaded.LogSeq)

	_, err = pm.LoadSnapshot(ctx, "9999")
	assert.ErrorIs(t, err, uno.ErrRoomNotFound)
}

func TestPersistence_OlderVersionNeverOverwrites(t *testing.T) {
	pm := newTestPersistence(t)
	ctx := context.Background()

	m := startedMatch(t)
	old := m.Snapshot()
	require.NoError(t, m.Draw("alice"))

	require.NoError(t, pm.SaveSnapshot(ctx, m))
	require.NoError(t, pm.SaveSnapshot(ctx, old), "a late write is ignored, not an error")

	loaded, err := pm.LoadSnapshot(ctx, "4821")
	require.NoError(t, err)
	assert.Equal(t, m.Version, loaded.Version)
	assert.Len(t, loaded.Players[0].Hand, 8)
}

func TestPersistence_LoadActiveSnapshots(t *testing.T) {
	pm := newTestPersistence(t)
	ctx := context.Background()

	playing := startedMatch(t)
	lobby := lobbyMatch(t)
	lobby.RoomID = "7310"
	ended := startedMatch(t)
	ended.RoomID = "5555"
	ended.Status = uno.StatusEnded

	for _, m := range []*uno.Match{playing, lobby, ended} {
		require.NoError(t, pm.SaveSnapshot(ctx, m))
	}
	_, err := pm.db.ExecContext(ctx,
		`INSERT INTO matches (room_id, status, version, snapshot, created_at, updated_at) VALUES ('6666', 'playing', 1, '{broken', 0, 0)`)
	require.NoError(t, err)

	matches, skipped, err := pm.LoadActiveSnapshots(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"6666"}, skipped)

	ids := make([]string, 0, len(matches))
	for _, m := range matches {
		ids = append(ids, m.RoomID)
	}
	assert.ElementsMatch(t, []string{"4821", "7310"}, ids)
}

func TestPersistence_Events(t *testing.T) {
	pm := newTestPersistence(t)
	ctx := context.Background()

	m := startedMatch(t)
	require.NoError(t, pm.AppendEvents(ctx, "4821", m.LogSince(0)))

	require.NoError(t, m.Draw("alice"))
	require.NoError(t, m.Draw("bob"))
	require.NoError(t, pm.AppendEvents(ctx, "4821", m.LogSince(2)), "overlapping lines are skipped")
	require.NoError(t, pm.AppendEvents(ctx, "4821", nil))

	events, err := pm.LoadEvents(ctx, "4821", 0, 100)
	require.NoError(t, err)
	require.Len(t, events, 5)
	for i, e := range events {
		assert.Equal(t, int64(i+1), e.Seq)
		assert.Equal(t, m.Log[i].Message, e.Message)
		assert.Equal(t, m.Log[i].At.UnixMilli(), e.At.UnixMilli())
	}

	events, err = pm.LoadEvents(ctx, "4821", 3, 1)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, int64(4), events[0].Seq)

	events, err = pm.LoadEvents(ctx, "9999", 0, 100)
	require.NoError(t, err)
	assert.NotNil(t, events)
	assert.Empty(t, events)
}

func TestPersistence_DeleteSnapshot(t *testing.T) {
	pm := newTestPersistence(t)
	ctx := context.Background()

	m := startedMatch(t)
	require.NoError(t, pm.SaveSnapshot(ctx, m))
	require.NoError(t, pm.AppendEvents(ctx, "4821", m.LogSince(0)))

	require.NoError(t, pm.DeleteSnapshot(ctx, "4821"))

	_, err := pm.LoadSnapshot(ctx, "4821")
	assert.ErrorIs(t, err, uno.ErrRoomNotFound)
	events, err := pm.LoadEvents(ctx, "4821", 0, 100)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestPersistence_CleanupOldMatches(t *testing.T) {
	pm := newTestPersistence(t)
	ctx := context.Background()

	stale := startedMatch(t)
	stale.UpdatedAt = time.Now().Add(-48 * time.Hour)
	fresh := lobbyMatch(t)
	fresh.RoomID = "7310"

	require.NoError(t, pm.SaveSnapshot(ctx, stale))
	require.NoError(t, pm.AppendEvents(ctx, stale.RoomID, stale.LogSince(0)))
	require.NoError(t, pm.SaveSnapshot(ctx, fresh))

	deleted, err := pm.CleanupOldMatches(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	_, err = pm.LoadSnapshot(ctx, stale.RoomID)
	assert.ErrorIs(t, err, uno.ErrRoomNotFound)
	events, err := pm.LoadEvents(ctx, stale.RoomID, 0, 100)
	require.NoError(t, err)
	assert.Empty(t, events)

	_, err = pm.LoadSnapshot(ctx, fresh.RoomID)
	assert.NoError(t, err)
}

func TestPersistence_RoomWritesThrough(t *testing.T) {
	pm := newTestPersistence(t)
	ctx := context.Background()

	room := startTestRoom(t, startedMatch(t), pm, RoomConfig{})
	last, err := room.Submit(ctx, drawFor("alice"))
	require.NoError(t, err)
	require.NoError(t, room.Stop(ctx))

	loaded, err := pm.LoadSnapshot(ctx, "4821")
	require.NoError(t, err)
	assert.Equal(t, last.Version, loaded.Version)

	events, err := pm.LoadEvents(ctx, "4821", 0, 100)
	require.NoError(t, err)
	assert.Len(t, events, int(last.LogSeq))
}

func TestPersistence_NewRoomOverStoredCode(t *testing.T) {
	pm := newTestPersistence(t)
	ctx := context.Background()

	old := startedMatch(t)
	for _, player := range []string{"alice", "bob", "alice", "bob", "alice", "bob"} {
		require.NoError(t, old.Draw(player))
	}
	require.NoError(t, pm.SaveSnapshot(ctx, old))
	require.NoError(t, pm.AppendEvents(ctx, old.RoomID, old.LogSince(0)))

	fresh, err := uno.NewMatch("4821", uno.Profile{ID: "carol", DisplayName: "Carol"})
	require.NoError(t, err)
	room := startTestRoom(t, fresh, pm, RoomConfig{})
	last, err := room.Submit(ctx, func(m *uno.Match) error {
		return m.Join(uno.Profile{ID: "dave", DisplayName: "Dave"})
	})
	require.NoError(t, err)
	require.NoError(t, room.Stop(ctx))

	loaded, err := pm.LoadSnapshot(ctx, "4821")
	require.NoError(t, err)
	assert.Equal(t, last.Version, loaded.Version)
	assert.Equal(t, uno.StatusLobby, loaded.Status)
	assert.Equal(t, "carol", loaded.Players[0].ID)

	events, err := pm.LoadEvents(ctx, "4821", 0, 100)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "Carol created match 4821", events[0].Message)
	assert.Equal(t, "Dave joined", events[1].Message)
}
