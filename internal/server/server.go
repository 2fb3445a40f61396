package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"uno-server/internal/database"
)

type Server struct {
	cfg    Config
	logger *zap.Logger

	db                database.Service
	persistence       *PersistenceManager
	hub               *Hub
	connectionManager *ConnectionManager
	rateLimiter       *RateLimiter
	connectionHealth  *ConnectionHealth
	originPatterns    []string

	stop     chan struct{}
	stopOnce sync.Once
	tasks    sync.WaitGroup
}

// NewServer opens the database, restores unfinished matches and starts the
// background tasks. The returned http.Server is ready to ListenAndServe.
func NewServer(ctx context.Context, cfg Config, logger *zap.Logger) (*Server, *http.Server, error) {
	db, err := database.New(ctx, database.Config{Driver: cfg.DBDriver, DSN: cfg.DBDSN})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}
	logger.Info("database ready", zap.String("driver", db.Driver()))

	s := newServer(cfg, db, logger)

	if err := s.loadPersistedState(ctx); err != nil {
		// Start with an empty hub rather than not at all.
		logger.Warn("failed to load persisted state", zap.Error(err))
	}

	s.startTasks()

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.RegisterRoutes(),
		IdleTimeout:  time.Minute,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	return s, httpServer, nil
}

// newServer wires a server around db, which may be nil for a memory-only server.
func newServer(cfg Config, db database.Service, logger *zap.Logger) *Server {
	var store SnapshotStore
	var persistence *PersistenceManager
	if db != nil {
		persistence = NewPersistenceManager(db.DB(), db.Driver())
		store = persistence
	}

	return &Server{
		cfg:               cfg,
		logger:            logger,
		db:                db,
		persistence:       persistence,
		hub:               NewHub(store, logger, WithRoomConfig(RoomConfig{IdleTimeout: cfg.RoomIdleTimeout})),
		connectionManager: NewConnectionManager(),
		rateLimiter:       NewRateLimiter(cfg.RateLimit, time.Second),
		connectionHealth:  NewConnectionHealth(),
		originPatterns:    []string{"*"},
		stop:              make(chan struct{}),
	}
}

// loadPersistedState brings every unfinished match back as a live room.
func (s *Server) loadPersistedState(ctx context.Context) error {
	if s.persistence == nil {
		return nil
	}

	matches, skipped, err := s.persistence.LoadActiveSnapshots(ctx)
	if err != nil {
		return fmt.Errorf("failed to load matches: %w", err)
	}
	for _, roomID := range skipped {
		s.logger.Warn("skipping unreadable snapshot", zap.String("room", roomID))
	}

	restored := s.hub.Restore(matches)
	s.logger.Info("persisted state loaded", zap.Int("rooms", restored))
	return nil
}

func (s *Server) startTasks() {
	s.runEvery(s.cfg.SaveInterval, s.periodicSave)
	s.runEvery(time.Hour, s.cleanupOldMatches)
	s.runEvery(30*time.Second, s.sweepConnections)
}

func (s *Server) runEvery(interval time.Duration, task func()) {
	s.tasks.Add(1)
	go func() {
		defer s.tasks.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				task()
			case <-s.stop:
				return
			}
		}
	}()
}

// periodicSave persists every live room, catching anything the per-room
// writers gave up on.
func (s *Server) periodicSave() {
	if s.persistence == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.SaveInterval)
	defer cancel()

	saved, err := s.hub.SaveAll(ctx, s.persistence)
	if err != nil {
		s.logger.Warn("periodic save incomplete", zap.Int("saved", saved), zap.Error(err))
		return
	}
	s.logger.Debug("periodic save completed", zap.Int("saved", saved))
}

func (s *Server) cleanupOldMatches() {
	if s.persistence == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	deleted, err := s.persistence.CleanupOldMatches(ctx, s.cfg.CleanupAge)
	if err != nil {
		s.logger.Error("cleanup failed", zap.Error(err))
		return
	}
	if deleted > 0 {
		s.logger.Info("cleanup removed old matches", zap.Int("deleted", deleted))
	}
}

// sweepConnections closes sockets that have gone quiet and forgets rate-limit
// windows that have emptied.
func (s *Server) sweepConnections() {
	for _, connID := range s.connectionHealth.GetInactiveConnections(s.cfg.ConnectionTimeout) {
		if conn := s.connectionManager.GetConnection(connID); conn != nil {
			s.logger.Info("closing inactive connection", zap.String("connection", connID))
			conn.Close(websocket.StatusPolicyViolation, "Inactive")
		}
		s.connectionHealth.RemoveConnection(connID)
	}
	s.rateLimiter.Cleanup()
}

// Shutdown tells connected players, stops every room and waits for their final
// snapshots to be written.
func (s *Server) Shutdown(ctx context.Context) error {
	s.stopOnce.Do(func() { close(s.stop) })
	s.tasks.Wait()

	for connID, conn := range s.connectionManager.All() {
		err := s.sendMessage(ctx, conn, ServerMessage{
			Type:    MsgServerShutdown,
			Payload: ErrorMessage{Message: "Server is shutting down"},
		})
		if err != nil {
			s.logger.Debug("failed to notify connection", zap.String("connection", connID), zap.Error(err))
		}
	}

	if err := s.hub.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to stop rooms: %w", err)
	}
	s.logger.Info("all rooms stopped")
	return nil
}

// Close releases the database. Call it after Shutdown.
func (s *Server) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
