package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"uno-server/internal/uno"
)

const (
	writeTimeout      = 5 * time.Second
	defaultEventLimit = 100
	maxEventLimit     = 500
)

func (s *Server) RegisterRoutes() http.Handler {
	r := chi.NewRouter()
	// Why this order: the request id must exist before the logger reads it, and
	// Recoverer sits outside the handlers so a panic still gets logged.
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)
	r.Use(s.corsMiddleware)

	r.Get("/health", s.healthHandler)
	r.Get("/api/rooms/{roomID}", s.roomHandler)
	r.Get("/api/rooms/{roomID}/events", s.roomEventsHandler)
	r.Get("/websocket", s.websocketHandler)

	return r
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	resp, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "Failed to marshal response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(resp); err != nil {
		s.logger.Warn("failed to write response", zap.Error(err))
	}
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	stats := map[string]string{"status": "up"}
	if s.db != nil {
		stats = s.db.Health()
	}
	stats["rooms"] = strconv.Itoa(s.hub.RoomCount())
	stats["connections"] = strconv.Itoa(s.connectionManager.Count())

	status := http.StatusOK
	if stats["status"] != "up" {
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, stats)
}

// roomHandler describes a room: live rooms from memory, finished or idle ones
// from storage.
func (s *Server) roomHandler(w http.ResponseWriter, r *http.Request) {
	roomID := NormalizeRoomCode(chi.URLParam(r, "roomID"))
	if err := ValidateRoomCode(roomID); err != nil {
		s.writeJSON(w, http.StatusBadRequest, ErrorMessage{Code: "INVALID_ROOM_CODE", Message: err.Error()})
		return
	}

	// Why live first: the stored snapshot may lag the room by a pending write.
	m, err := s.hub.Snapshot(r.Context(), roomID)
	if errors.Is(err, uno.ErrRoomNotFound) && s.persistence != nil {
		m, err = s.persistence.LoadSnapshot(r.Context(), roomID)
	}
	if err != nil {
		s.writeError(w, err)
		return
	}

	summary := summarize(m)
	summary.Connections = len(s.connectionManager.ConnectionsInRoom(roomID))
	s.writeJSON(w, http.StatusOK, summary)
}

// roomEventsHandler pages through a room's full event history.
func (s *Server) roomEventsHandler(w http.ResponseWriter, r *http.Request) {
	roomID := NormalizeRoomCode(chi.URLParam(r, "roomID"))
	if err := ValidateRoomCode(roomID); err != nil {
		s.writeJSON(w, http.StatusBadRequest, ErrorMessage{Code: "INVALID_ROOM_CODE", Message: err.Error()})
		return
	}

	after, _ := strconv.ParseInt(r.URL.Query().Get("after"), 10, 64)
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 {
		limit = defaultEventLimit
	}
	limit = min(limit, maxEventLimit)

	var events []uno.LogEntry
	if s.persistence != nil {
		events, err = s.persistence.LoadEvents(r.Context(), roomID, after, limit)
	} else {
		var m *uno.Match
		m, err = s.hub.Snapshot(r.Context(), roomID)
		if err == nil {
			events = m.LogSince(after)
			if len(events) > limit {
				events = events[:limit]
			}
		}
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	if events == nil {
		events = []uno.LogEntry{}
	}

	s.writeJSON(w, http.StatusOK, EventsResponse{RoomID: roomID, Events: events})
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	if rej, ok := uno.AsRejection(err); ok {
		status := http.StatusBadRequest
		if errors.Is(rej, uno.ErrRoomNotFound) {
			status = http.StatusNotFound
		}
		s.writeJSON(w, status, ErrorMessage{Code: rej.Code, Message: rej.Message})
		return
	}

	s.logger.Error("request failed", zap.Error(err))
	s.writeJSON(w, http.StatusInternalServerError, ErrorMessage{Code: "INTERNAL", Message: "Something went wrong"})
}

// wsClient is one websocket connection and the room it is watching.
// Only the read loop touches it.
type wsClient struct {
	id     string
	socket *websocket.Conn
	logger *zap.Logger
	watch  *roomWatch
}

type roomWatch struct {
	observer *Observer
	done     chan struct{}
}

func (s *Server) websocketHandler(w http.ResponseWriter, r *http.Request) {
	socket, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.originPatterns,
	})
	if err != nil {
		s.logger.Warn("failed to open websocket", zap.Error(err))
		return
	}
	defer socket.Close(websocket.StatusGoingAway, "Server closing")

	ctx := r.Context()

	c := &wsClient{
		id:     uuid.New().String(),
		socket: socket,
	}
	c.logger = s.logger.With(zap.String("connection", c.id))
	c.logger.Info("new connection")

	s.connectionManager.AddConnection(c.id, socket)
	s.connectionHealth.UpdateActivity(c.id)
	defer func() {
		s.unwatch(c)
		s.connectionManager.RemoveConnection(c.id)
		s.connectionHealth.RemoveConnection(c.id)
		s.rateLimiter.RemoveConnection(c.id)
		c.logger.Info("connection closed")
	}()

	for {
		msgType, data, err := socket.Read(ctx)
		if err != nil {
			c.logger.Debug("read ended", zap.Error(err))
			return
		}

		// Why before the rate limit: a throttled client is still alive, and the
		// sweep must not close it for being chatty.
		s.connectionHealth.UpdateActivity(c.id)

		if msgType != websocket.MessageText {
			c.logger.Debug("non-text input ignored")
			continue
		}

		// Why before parsing: a flood of garbage should cost as little as a
		// flood of valid messages.
		if !s.rateLimiter.Allow(c.id) {
			s.sendError(ctx, c, "RATE_LIMITED", "Too many messages, slow down")
			continue
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.sendError(ctx, c, "INVALID_JSON", "Invalid JSON")
			continue
		}

		if err := ValidateMessageType(msg.Type); err != nil {
			c.logger.Debug("unknown message type", zap.String("type", msg.Type))
			s.sendFailure(ctx, c, err)
			continue
		}

		c.logger.Debug("message", zap.String("type", msg.Type))

		switch msg.Type {
		case MsgPing:
			s.send(ctx, c, ServerMessage{Type: MsgPong, Payload: struct{}{}})

		case MsgCreateRoom:
			s.handleCreateRoom(ctx, c, msg.Payload)

		case MsgJoinRoom:
			s.handleJoinRoom(ctx, c, msg.Payload)

		case MsgStartGame, MsgDrawCard, MsgDeclareUno:
			s.handleSeatCommand(ctx, c, msg.Type, msg.Payload)

		case MsgPlayCard:
			s.handlePlayCard(ctx, c, msg.Payload)
		}
	}
}

func (s *Server) handleCreateRoom(ctx context.Context, c *wsClient, payload json.RawMessage) {
	var req CreateRoomRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		s.sendError(ctx, c, "INVALID_PAYLOAD", "Invalid create_room payload")
		return
	}

	profile := uno.Profile{ID: strings.TrimSpace(req.PlayerID), DisplayName: req.DisplayName, AvatarRef: req.AvatarRef}
	if profile.ID == "" {
		profile.ID = uuid.NewString()
	}

	room, _, err := s.hub.CreateRoom(ctx, profile)
	if err != nil {
		s.sendFailure(ctx, c, err)
		return
	}

	s.seat(ctx, c, MsgRoomCreated, PlayerConnection{RoomID: room.ID(), PlayerID: profile.ID})
}

func (s *Server) handleJoinRoom(ctx context.Context, c *wsClient, payload json.RawMessage) {
	var req JoinRoomRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		s.sendError(ctx, c, "INVALID_PAYLOAD", "Invalid join_room payload")
		return
	}

	roomID := NormalizeRoomCode(req.RoomID)
	if err := ValidateRoomCode(roomID); err != nil {
		s.sendFailure(ctx, c, uno.ErrRoomNotFound)
		return
	}

	profile := uno.Profile{ID: strings.TrimSpace(req.PlayerID), DisplayName: req.DisplayName, AvatarRef: req.AvatarRef}
	if profile.ID == "" {
		profile.ID = uuid.NewString()
	}

	if _, err := s.hub.JoinRoom(ctx, roomID, profile); err != nil {
		s.sendFailure(ctx, c, err)
		return
	}

	s.seat(ctx, c, MsgRoomJoined, PlayerConnection{RoomID: roomID, PlayerID: profile.ID})
}

func (s *Server) handleSeatCommand(ctx context.Context, c *wsClient, msgType string, payload json.RawMessage) {
	var req CommandRequest
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &req); err != nil {
			s.sendError(ctx, c, "INVALID_PAYLOAD", "Invalid "+msgType+" payload")
			return
		}
	}

	// Why from the binding: the client never names its own seat, so it cannot
	// act for another player.
	seat, ok := s.connectionManager.GetPlayer(c.id)
	if !ok {
		s.sendFailure(ctx, c, uno.ErrNotInRoom)
		return
	}

	var err error
	switch msgType {
	case MsgStartGame:
		_, err = s.hub.StartGame(ctx, seat.RoomID, seat.PlayerID, req.Version)
	case MsgDrawCard:
		_, err = s.hub.DrawCard(ctx, seat.RoomID, seat.PlayerID, req.Version)
	case MsgDeclareUno:
		_, err = s.hub.DeclareUno(ctx, seat.RoomID, seat.PlayerID, req.Version)
	}
	if err != nil {
		s.sendFailure(ctx, c, err)
	}
}

func (s *Server) handlePlayCard(ctx context.Context, c *wsClient, payload json.RawMessage) {
	var req PlayCardRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		s.sendError(ctx, c, "INVALID_PAYLOAD", "Invalid play_card payload")
		return
	}

	seat, ok := s.connectionManager.GetPlayer(c.id)
	if !ok {
		s.sendFailure(ctx, c, uno.ErrNotInRoom)
		return
	}

	if _, err := s.hub.PlayCard(ctx, seat.RoomID, seat.PlayerID, req.CardIndex, req.ChosenColor, req.Version); err != nil {
		s.sendFailure(ctx, c, err)
	}
}

// seat binds the connection to a player, confirms it with replyType and starts
// streaming that player's view of the room.
func (s *Server) seat(ctx context.Context, c *wsClient, replyType string, seat PlayerConnection) {
	// Why unwatch first: a socket follows one room; the old pump must be gone
	// before the new one can write.
	s.unwatch(c)

	observer, err := s.hub.Subscribe(ctx, seat.RoomID)
	if err != nil {
		s.sendFailure(ctx, c, err)
		return
	}

	s.connectionManager.Bind(c.id, seat)
	c.logger.Info("seated", zap.String("room", seat.RoomID), zap.String("player", seat.PlayerID))

	s.send(ctx, c, ServerMessage{
		Type:    replyType,
		Payload: RoomJoinedResponse{RoomID: seat.RoomID, PlayerID: seat.PlayerID},
	})

	// Why after the reply: the client learns its seat before the first state
	// push. The observer already holds the current snapshot, so nothing is missed.
	watch := &roomWatch{observer: observer, done: make(chan struct{})}
	c.watch = watch
	go s.pump(ctx, c, watch, seat)
}

// pump forwards room snapshots to the socket as the seated player's view.
func (s *Server) pump(ctx context.Context, c *wsClient, watch *roomWatch, seat PlayerConnection) {
	defer close(watch.done)

	for snapshot := range watch.observer.Updates() {
		// Why per player: the room only has the full match; hands are hidden
		// here, at the edge.
		msg := ServerMessage{
			Type: MsgMatchUpdated,
			Payload: MatchUpdated{
				RoomID:  snapshot.RoomID,
				Version: snapshot.Version,
				State:   snapshot.ClientStateFor(seat.PlayerID),
			},
		}
		// Why close on failure: a dead socket must not keep the room from idling.
		if err := s.sendMessage(ctx, c.socket, msg); err != nil {
			c.logger.Debug("failed to push match update", zap.Error(err))
			watch.observer.Close()
			return
		}
	}
}

func (s *Server) unwatch(c *wsClient) {
	if c.watch == nil {
		return
	}
	c.watch.observer.Close()
	<-c.watch.done
	c.watch = nil
}

func (s *Server) sendMessage(ctx context.Context, socket *websocket.Conn, msg ServerMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return socket.Write(ctx, websocket.MessageText, data)
}

func (s *Server) send(ctx context.Context, c *wsClient, msg ServerMessage) {
	if err := s.sendMessage(ctx, c.socket, msg); err != nil {
		c.logger.Debug("failed to send message", zap.String("type", msg.Type), zap.Error(err))
	}
}

func (s *Server) sendError(ctx context.Context, c *wsClient, code, message string) {
	s.send(ctx, c, ServerMessage{
		Type:    MsgError,
		Payload: ErrorMessage{Code: code, Message: message},
	})
}

// sendFailure reports err to the client. Rejections go out as they are;
// anything else is logged and reported as an internal error.
func (s *Server) sendFailure(ctx context.Context, c *wsClient, err error) {
	if rej, ok := uno.AsRejection(err); ok {
		s.sendError(ctx, c, rej.Code, rej.Message)
		return
	}
	if code, message, ok := splitCodedError(err); ok {
		s.sendError(ctx, c, code, message)
		return
	}

	c.logger.Error("command failed", zap.Error(err))
	s.sendError(ctx, c, "INTERNAL", "Something went wrong")
}
