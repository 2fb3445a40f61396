package server

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"uno-server/internal/game"
	"uno-server/internal/uno"
)

// fakeStore is an in-memory SnapshotStore that can be told to fail.
type fakeStore struct {
	mu        sync.Mutex
	snapshots map[string]*uno.Match
	events    map[string][]uno.LogEntry
	deletes   []string
	saves     int
	failSaves int // fail this many SaveSnapshot calls first; -1 fails forever
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		snapshots: make(map[string]*uno.Match),
		events:    make(map[string][]uno.LogEntry),
	}
}

func (s *fakeStore) SaveSnapshot(ctx context.Context, m *uno.Match) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.saves++
	if s.failSaves != 0 {
		if s.failSaves > 0 {
			s.failSaves--
		}
		return errors.New("disk full")
	}
	if prev, ok := s.snapshots[m.RoomID]; ok && prev.Version > m.Version {
		return nil
	}
	s.snapshots[m.RoomID] = m
	return nil
}

func (s *fakeStore) AppendEvents(ctx context.Context, roomID string, entries []uno.LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	have := s.events[roomID]
	for _, e := range entries {
		if len(have) > 0 && e.Seq <= have[len(have)-1].Seq {
			continue
		}
		have = append(have, e)
	}
	s.events[roomID] = have
	return nil
}

func (s *fakeStore) DeleteSnapshot(ctx context.Context, roomID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.deletes = append(s.deletes, roomID)
	delete(s.snapshots, roomID)
	delete(s.events, roomID)
	return nil
}

func (s *fakeStore) deleted() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.deletes...)
}

func (s *fakeStore) saved(roomID string) (*uno.Match, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.snapshots[roomID]
	return m, ok
}

func (s *fakeStore) eventSeqs(roomID string) []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	seqs := make([]int64, 0, len(s.events[roomID]))
	for _, e := range s.events[roomID] {
		seqs = append(seqs, e.Seq)
	}
	return seqs
}

func (s *fakeStore) saveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

// startedMatch returns a two-player match in play with alice to move.
func startedMatch(t *testing.T) *uno.Match {
	t.Helper()
	m, err := uno.NewMatch("4821", uno.Profile{ID: "alice", DisplayName: "Alice"},
		uno.WithShuffler(game.SeededShuffler(7)))
	require.NoError(t, err)
	require.NoError(t, m.Join(uno.Profile{ID: "bob", DisplayName: "Bob"}))
	require.NoError(t, m.Start("alice"))
	return m
}

func lobbyMatch(t *testing.T) *uno.Match {
	t.Helper()
	m, err := uno.NewMatch("4821", uno.Profile{ID: "alice", DisplayName: "Alice"})
	require.NoError(t, err)
	return m
}

func startTestRoom(t *testing.T, m *uno.Match, store SnapshotStore, cfg RoomConfig) *Room {
	t.Helper()
	if cfg.NewBackOff == nil {
		cfg.NewBackOff = func() backoff.BackOff {
			return backoff.WithMaxRetries(backoff.NewConstantBackOff(time.Millisecond), 3)
		}
	}
	room := newRoom(m, store, cfg, zaptest.NewLogger(t), nil)
	room.start(true)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		room.Stop(ctx)
	})
	return room
}

func drawFor(playerID string) Command {
	return func(m *uno.Match) error { return m.Draw(playerID) }
}

func TestRoom_ConcurrentCommandsAreSerialized(t *testing.T) {
	room := startTestRoom(t, startedMatch(t), nil, RoomConfig{})
	ctx := context.Background()

	const attempts = 20
	var accepted, notYourTurn atomic.Int32
	var wg sync.WaitGroup
	for range attempts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := room.Submit(ctx, drawFor("alice"))
			switch {
			case err == nil:
				accepted.Add(1)
			case errors.Is(err, uno.ErrNotYourTurn):
				notYourTurn.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), accepted.Load(), "only the first draw finds alice on turn")
	assert.Equal(t, int32(attempts-1), notYourTurn.Load())

	snapshot, err := room.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), snapshot.Version, "created, joined, started, one draw")
	assert.Equal(t, 1, snapshot.TurnIndex)
	assert.Len(t, snapshot.Players[0].Hand, 8)
}

func TestRoom_RejectedCommandChangesNothing(t *testing.T) {
	room := startTestRoom(t, startedMatch(t), nil, RoomConfig{})
	ctx := context.Background()

	before, err := room.Snapshot(ctx)
	require.NoError(t, err)

	_, err = room.Submit(ctx, drawFor("bob"))
	assert.ErrorIs(t, err, uno.ErrNotYourTurn)

	after, err := room.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, before.Version, after.Version)
	assert.Equal(t, before.TurnIndex, after.TurnIndex)
	assert.Equal(t, before.Players[1].Hand, after.Players[1].Hand)
	assert.Equal(t, before.DrawPile, after.DrawPile)
}

func TestRoom_SnapshotsAreDetached(t *testing.T) {
	room := startTestRoom(t, startedMatch(t), nil, RoomConfig{})
	ctx := context.Background()

	snapshot, err := room.Snapshot(ctx)
	require.NoError(t, err)
	snapshot.Players[0].Hand = nil
	snapshot.Version = 99

	again, err := room.Snapshot(ctx)
	require.NoError(t, err)
	assert.Len(t, again.Players[0].Hand, uno.HandSize)
	assert.Equal(t, int64(3), again.Version)
}

func TestRoom_ObserverSeesIncreasingVersions(t *testing.T) {
	room := startTestRoom(t, startedMatch(t), nil, RoomConfig{})
	ctx := context.Background()

	observer, err := room.Subscribe(ctx)
	require.NoError(t, err)

	first := <-observer.Updates()
	assert.Equal(t, int64(3), first.Version, "current state is delivered on subscribe")

	var versions []int64
	received := make(chan struct{})
	go func() {
		defer close(received)
		for m := range observer.Updates() {
			versions = append(versions, m.Version)
		}
	}()

	var last *uno.Match
	for i := range 30 {
		player := "alice"
		if i%2 == 1 {
			player = "bob"
		}
		last, err = room.Submit(ctx, drawFor(player))
		require.NoError(t, err)
	}
	observer.Close()
	<-received

	require.NotEmpty(t, versions)
	for i := 1; i < len(versions); i++ {
		assert.Greater(t, versions[i], versions[i-1], "versions never go backwards")
	}
	assert.Equal(t, last.Version, versions[len(versions)-1], "the newest state always arrives")
}

func TestRoom_RejectedCommandsAreNotBroadcast(t *testing.T) {
	room := startTestRoom(t, startedMatch(t), nil, RoomConfig{})
	ctx := context.Background()

	observer, err := room.Subscribe(ctx)
	require.NoError(t, err)
	<-observer.Updates()

	_, err = room.Submit(ctx, drawFor("bob"))
	require.ErrorIs(t, err, uno.ErrNotYourTurn)
	_, err = room.Snapshot(ctx)
	require.NoError(t, err)

	select {
	case m := <-observer.Updates():
		t.Fatalf("unexpected update to version %d", m.Version)
	default:
	}
}

func TestRoom_IdleTeardown(t *testing.T) {
	closed := make(chan *Room, 1)
	room := newRoom(lobbyMatch(t), nil, RoomConfig{IdleTimeout: 50 * time.Millisecond}, zaptest.NewLogger(t),
		func(r *Room) { closed <- r })
	room.start(true)

	select {
	case <-room.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("room did not shut down while idle")
	}
	assert.Same(t, room, <-closed)

	_, err := room.Submit(context.Background(), drawFor("alice"))
	assert.ErrorIs(t, err, uno.ErrRoomNotFound)
	_, err = room.Subscribe(context.Background())
	assert.ErrorIs(t, err, uno.ErrRoomNotFound)
}

func TestRoom_ObservedRoomStaysOpen(t *testing.T) {
	room := startTestRoom(t, lobbyMatch(t), nil, RoomConfig{IdleTimeout: 50 * time.Millisecond})

	observer, err := room.Subscribe(context.Background())
	require.NoError(t, err)

	time.Sleep(150 * time.Millisecond)
	select {
	case <-room.Done():
		t.Fatal("room closed with an observer attached")
	default:
	}

	observer.Close()
	assert.Eventually(t, func() bool {
		select {
		case <-room.Done():
			return true
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)

	for range observer.Updates() {
	}
}

func TestRoom_StopFlushesToStore(t *testing.T) {
	store := newFakeStore()
	room := startTestRoom(t, startedMatch(t), store, RoomConfig{})
	ctx := context.Background()

	var last *uno.Match
	var err error
	for _, player := range []string{"alice", "bob", "alice"} {
		last, err = room.Submit(ctx, drawFor(player))
		require.NoError(t, err)
	}

	require.NoError(t, room.Stop(ctx))

	saved, ok := store.saved("4821")
	require.True(t, ok)
	assert.Equal(t, last.Version, saved.Version)

	seqs := store.eventSeqs("4821")
	require.Len(t, seqs, int(last.LogSeq))
	for i, seq := range seqs {
		assert.Equal(t, int64(i+1), seq)
	}

	_, err = room.Submit(ctx, drawFor("bob"))
	assert.ErrorIs(t, err, uno.ErrRoomNotFound)
}

func TestRoom_PersistRetriesWithBackoff(t *testing.T) {
	store := newFakeStore()
	store.failSaves = 2

	room := startTestRoom(t, lobbyMatch(t), store, RoomConfig{
		NewBackOff: func() backoff.BackOff {
			return backoff.WithMaxRetries(backoff.NewConstantBackOff(time.Millisecond), 5)
		},
	})
	require.NoError(t, room.Stop(context.Background()))

	saved, ok := store.saved("4821")
	require.True(t, ok)
	assert.Equal(t, int64(1), saved.Version)
	assert.Equal(t, 3, store.saveCount())
}

func TestRoom_PersistGivesUp(t *testing.T) {
	store := newFakeStore()
	store.failSaves = -1

	room := startTestRoom(t, lobbyMatch(t), store, RoomConfig{
		NewBackOff: func() backoff.BackOff {
			return backoff.WithMaxRetries(backoff.NewConstantBackOff(time.Millisecond), 2)
		},
	})
	require.NoError(t, room.Stop(context.Background()), "a failing store does not block shutdown")

	_, ok := store.saved("4821")
	assert.False(t, ok)
	assert.Equal(t, 3, store.saveCount())
}

func TestOffer_KeepsNewest(t *testing.T) {
	ch := make(chan *uno.Match, 1)
	offer(ch, &uno.Match{Version: 1})
	offer(ch, &uno.Match{Version: 2})
	offer(ch, &uno.Match{Version: 3})

	assert.Equal(t, int64(3), (<-ch).Version)
	select {
	case <-ch:
		t.Fatal("channel should be empty")
	default:
	}
}

func TestRoom_FreshRoomReplacesStoredCode(t *testing.T) {
	store := newFakeStore()
	old := startedMatch(t)
	old.Version = 9
	require.NoError(t, store.SaveSnapshot(context.Background(), old))
	require.NoError(t, store.AppendEvents(context.Background(), "4821", old.LogSince(0)))

	fresh, err := uno.NewMatch("4821", uno.Profile{ID: "carol", DisplayName: "Carol"})
	require.NoError(t, err)
	room := startTestRoom(t, fresh, store, RoomConfig{})
	_, err = room.Submit(context.Background(), func(m *uno.Match) error {
		return m.Join(uno.Profile{ID: "dave", DisplayName: "Dave"})
	})
	require.NoError(t, err)
	require.NoError(t, room.Stop(context.Background()))

	assert.Equal(t, []string{"4821"}, store.deleted())
	saved, ok := store.saved("4821")
	require.True(t, ok)
	assert.Equal(t, int64(2), saved.Version)
	assert.Equal(t, "carol", saved.Players[0].ID)
	assert.Equal(t, []int64{1, 2}, store.eventSeqs("4821"))
}

func TestRoom_RestoredRoomKeepsStoredState(t *testing.T) {
	store := newFakeStore()
	m := startedMatch(t)
	require.NoError(t, store.SaveSnapshot(context.Background(), m))

	room := newRoom(m, store, RoomConfig{}, zaptest.NewLogger(t), nil)
	room.start(false)
	_, err := room.Submit(context.Background(), drawFor("alice"))
	require.NoError(t, err)
	require.NoError(t, room.Stop(context.Background()))

	assert.Empty(t, store.deleted())
	saved, ok := store.saved("4821")
	require.True(t, ok)
	assert.Equal(t, int64(4), saved.Version)
}
