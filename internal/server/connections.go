package server

import (
	"sync"

	"github.com/coder/websocket"
)

// PlayerConnection is the seat a websocket connection speaks for.
type PlayerConnection struct {
	RoomID   string
	PlayerID string
}

type ConnectionManager struct {
	connections map[string]*websocket.Conn  // connectionID → socket
	players     map[string]PlayerConnection // connectionID → seat
	mu          sync.RWMutex
}

func NewConnectionManager() *ConnectionManager {
	return &ConnectionManager{
		connections: make(map[string]*websocket.Conn),
		players:     make(map[string]PlayerConnection),
	}
}

func (cm *ConnectionManager) AddConnection(id string, conn *websocket.Conn) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.connections[id] = conn
}

func (cm *ConnectionManager) RemoveConnection(id string) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	delete(cm.connections, id)
	delete(cm.players, id)
}

// Bind records which seat a connection acts for, replacing any earlier seat.
func (cm *ConnectionManager) Bind(connectionID string, player PlayerConnection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.players[connectionID] = player
}

func (cm *ConnectionManager) GetPlayer(connectionID string) (PlayerConnection, bool) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	player, ok := cm.players[connectionID]
	return player, ok
}

func (cm *ConnectionManager) GetConnection(connectionID string) *websocket.Conn {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.connections[connectionID]
}

// ConnectionsInRoom returns the ids of connections seated in roomID.
func (cm *ConnectionManager) ConnectionsInRoom(roomID string) []string {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	var ids []string
	for connID, player := range cm.players {
		if player.RoomID == roomID {
			ids = append(ids, connID)
		}
	}
	return ids
}

// All returns a copy of every open connection.
func (cm *ConnectionManager) All() map[string]*websocket.Conn {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	all := make(map[string]*websocket.Conn, len(cm.connections))
	for id, conn := range cm.connections {
		all[id] = conn
	}
	return all
}

func (cm *ConnectionManager) Count() int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return len(cm.connections)
}
