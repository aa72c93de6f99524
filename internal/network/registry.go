package network

import (
	"sort"
	"sync"

	"github.com/rs/zerolog/log"
)

// ConnectionRegistry tracks live RCON connections by id.
type ConnectionRegistry struct {
	mu    sync.RWMutex
	conns map[string]*Connection
}

// NewConnectionRegistry creates a new ConnectionRegistry.
func NewConnectionRegistry() *ConnectionRegistry {
	return &ConnectionRegistry{
		conns: make(map[string]*Connection),
	}
}

// Register adds a connection to the registry.
func (r *ConnectionRegistry) Register(conn *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.conns[conn.ID()] = conn
	log.Debug().Str("conn_id", conn.ID()).Int("active", len(r.conns)).Msg("connection registered")
}

// Remove drops a connection from the registry without closing it.
func (r *ConnectionRegistry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.conns[id]; ok {
		delete(r.conns, id)
		log.Debug().Str("conn_id", id).Int("active", len(r.conns)).Msg("connection unregistered")
	}
}

// Get returns the connection with the given id.
func (r *ConnectionRegistry) Get(id string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.conns[id]
	return conn, ok
}

// GetAll returns all live connections, oldest first.
func (r *ConnectionRegistry) GetAll() []*Connection {
	r.mu.RLock()
	result := make([]*Connection, 0, len(r.conns))
	for _, c := range r.conns {
		result = append(result, c)
	}
	r.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		return result[i].ConnectedAt().Before(result[j].ConnectedAt())
	})
	return result
}

// Count returns the number of live connections.
func (r *ConnectionRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// CloseAll closes every registered connection. Closed connections remove
// themselves through their close hook, so the lock is not held while
// closing.
func (r *ConnectionRegistry) CloseAll() int {
	conns := r.GetAll()
	for _, c := range conns {
		c.Close()
	}

	if len(conns) > 0 {
		log.Info().Int("count", len(conns)).Msg("all connections closed")
	}
	return len(conns)
}
