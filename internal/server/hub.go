package server

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"uno-server/internal/game"
	"uno-server/internal/uno"
)

// Hub owns the live rooms and routes commands to them. It never touches a
// match itself; every change goes through the room's queue.
type Hub struct {
	mu     sync.RWMutex
	rooms  map[string]*Room
	store  SnapshotStore
	cfg    RoomConfig
	logger *zap.Logger

	matchOpts []uno.Option
}

type HubOption func(*Hub)

// WithMatchOptions applies opts to every match the hub creates or restores.
func WithMatchOptions(opts ...uno.Option) HubOption {
	return func(h *Hub) { h.matchOpts = append(h.matchOpts, opts...) }
}

func WithRoomConfig(cfg RoomConfig) HubOption {
	return func(h *Hub) { h.cfg = cfg }
}

// NewHub builds a hub. store may be nil, in which case nothing is persisted.
func NewHub(store SnapshotStore, logger *zap.Logger, opts ...HubOption) *Hub {
	h := &Hub{
		rooms:  make(map[string]*Room),
		store:  store,
		cfg:    RoomConfig{IdleTimeout: 10 * time.Minute},
		logger: logger,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// CreateRoom opens a lobby seated with the creator. A profile without an id is
// given a fresh one; the returned match says which.
func (h *Hub) CreateRoom(ctx context.Context, profile uno.Profile) (*Room, *uno.Match, error) {
	if profile.ID == "" {
		profile.ID = uuid.NewString()
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	roomID, err := GenerateRoomCode(func(code string) bool {
		_, taken := h.rooms[code]
		return taken
	})
	if err != nil {
		return nil, nil, err
	}

	m, err := uno.NewMatch(roomID, profile, h.matchOpts...)
	if err != nil {
		return nil, nil, err
	}

	snapshot := m.Snapshot()
	room := h.addLocked(m, true)

	h.logger.Info("room created",
		zap.String("room", roomID),
		zap.String("player", profile.ID))
	return room, snapshot, nil
}

func (h *Hub) JoinRoom(ctx context.Context, roomID string, profile uno.Profile) (*uno.Match, error) {
	if profile.ID == "" {
		profile.ID = uuid.NewString()
	}
	return h.submit(ctx, roomID, 0, func(m *uno.Match) error {
		return m.Join(profile)
	})
}

func (h *Hub) StartGame(ctx context.Context, roomID, playerID string, version int64) (*uno.Match, error) {
	return h.submit(ctx, roomID, version, func(m *uno.Match) error {
		return m.Start(playerID)
	})
}

// PlayCard always checks version. A missing version is rejected as stale, so a
// replayed play_card can never pick up whatever card has moved into cardIndex.
func (h *Hub) PlayCard(ctx context.Context, roomID, playerID string, cardIndex int, chosenColor game.Color, version int64) (*uno.Match, error) {
	return h.submit(ctx, roomID, 0, func(m *uno.Match) error {
		if err := m.Expect(version); err != nil {
			return err
		}
		return m.Play(playerID, cardIndex, chosenColor)
	})
}

func (h *Hub) DrawCard(ctx context.Context, roomID, playerID string, version int64) (*uno.Match, error) {
	return h.submit(ctx, roomID, version, func(m *uno.Match) error {
		return m.Draw(playerID)
	})
}

func (h *Hub) DeclareUno(ctx context.Context, roomID, playerID string, version int64) (*uno.Match, error) {
	return h.submit(ctx, roomID, version, func(m *uno.Match) error {
		return m.DeclareUno(playerID)
	})
}

// Subscribe attaches an observer to a live room.
func (h *Hub) Subscribe(ctx context.Context, roomID string) (*Observer, error) {
	room, ok := h.Room(roomID)
	if !ok {
		return nil, uno.ErrRoomNotFound
	}
	return room.Subscribe(ctx)
}

// Snapshot reads a live room's match.
func (h *Hub) Snapshot(ctx context.Context, roomID string) (*uno.Match, error) {
	room, ok := h.Room(roomID)
	if !ok {
		return nil, uno.ErrRoomNotFound
	}
	return room.Snapshot(ctx)
}

func (h *Hub) Room(roomID string) (*Room, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	room, ok := h.rooms[NormalizeRoomCode(roomID)]
	return room, ok
}

func (h *Hub) RoomCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms)
}

// Restore brings persisted matches back to life. Rooms whose id is already live
// are skipped.
func (h *Hub) Restore(matches []*uno.Match) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	restored := 0
	for _, m := range matches {
		if _, exists := h.rooms[m.RoomID]; exists {
			continue
		}
		m.Configure(h.matchOpts...)
		h.addLocked(m, false)
		restored++
		h.logger.Info("room restored",
			zap.String("room", m.RoomID),
			zap.String("status", string(m.Status)),
			zap.Int64("version", m.Version))
	}
	return restored
}

// SaveAll writes the current snapshot of every live room to store.
func (h *Hub) SaveAll(ctx context.Context, store SnapshotStore) (int, error) {
	var errs []error
	saved := 0
	for _, room := range h.liveRooms() {
		snapshot, err := room.Snapshot(ctx)
		if errors.Is(err, uno.ErrRoomNotFound) {
			continue
		}
		if err == nil {
			err = store.SaveSnapshot(ctx, snapshot)
		}
		if err != nil {
			errs = append(errs, err)
			continue
		}
		saved++
	}
	return saved, errors.Join(errs...)
}

// Shutdown stops every room and waits for their last snapshots to be written.
func (h *Hub) Shutdown(ctx context.Context) error {
	rooms := h.liveRooms()
	errs := make(chan error, len(rooms))

	var wg sync.WaitGroup
	for _, room := range rooms {
		wg.Add(1)
		go func(room *Room) {
			defer wg.Done()
			if err := room.Stop(ctx); err != nil {
				errs <- err
			}
		}(room)
	}
	wg.Wait()
	close(errs)

	var all []error
	for err := range errs {
		all = append(all, err)
	}
	return errors.Join(all...)
}

func (h *Hub) submit(ctx context.Context, roomID string, version int64, cmd Command) (*uno.Match, error) {
	room, ok := h.Room(roomID)
	if !ok {
		return nil, uno.ErrRoomNotFound
	}

	return room.Submit(ctx, func(m *uno.Match) error {
		if version != 0 {
			if err := m.Expect(version); err != nil {
				return err
			}
		}
		return cmd(m)
	})
}

func (h *Hub) liveRooms() []*Room {
	h.mu.RLock()
	defer h.mu.RUnlock()

	rooms := make([]*Room, 0, len(h.rooms))
	for _, room := range h.rooms {
		rooms = append(rooms, room)
	}
	return rooms
}

func (h *Hub) addLocked(m *uno.Match, fresh bool) *Room {
	room := newRoom(m, h.store, h.cfg, h.logger, h.remove)
	h.rooms[m.RoomID] = room
	room.start(fresh)
	return room
}

func (h *Hub) remove(room *Room) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.rooms[room.id] == room {
		delete(h.rooms, room.id)
		h.logger.Info("room removed", zap.String("room", room.id))
	}
}
