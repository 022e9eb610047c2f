package realtime

import (
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/samber/lo"
)

// Peer is a registered live connection.
type Peer interface {
	ID() string
	UserID() string
	Send(payload []byte) error
}

// Registry maps user IDs to their live connections. A user may hold any
// number of connections; all of them receive every fan-out to that user.
type Registry struct {
	mu    sync.RWMutex
	peers map[string]map[string]Peer
	log   *slog.Logger
}

func NewRegistry(log *slog.Logger) *Registry {
	return &Registry{
		peers: make(map[string]map[string]Peer),
		log:   log,
	}
}

func (r *Registry) Register(p Peer) {
	r.mu.Lock()
	conns, ok := r.peers[p.UserID()]
	if !ok {
		conns = make(map[string]Peer)
		r.peers[p.UserID()] = conns
	}
	conns[p.ID()] = p
	total := len(conns)
	r.mu.Unlock()

	r.log.Info("Connection registered",
		"user_id", p.UserID(),
		"connection_id", p.ID(),
		"user_connections", total)
}

// Unregister removes p. Removing an unknown connection is a no-op.
func (r *Registry) Unregister(p Peer) {
	if r.remove(p) {
		r.log.Info("Connection unregistered",
			"user_id", p.UserID(),
			"connection_id", p.ID())
	}
}

func (r *Registry) remove(p Peer) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	conns, ok := r.peers[p.UserID()]
	if !ok {
		return false
	}
	if _, ok := conns[p.ID()]; !ok {
		return false
	}
	delete(conns, p.ID())
	if len(conns) == 0 {
		delete(r.peers, p.UserID())
	}
	return true
}

// Fanout sends payload to every live connection of userID and returns the
// number of connections that accepted it.
func (r *Registry) Fanout(userID string, payload []byte) int {
	return r.FanoutMany([]string{userID}, payload)
}

// FanoutMany sends payload once to every live connection of the given users.
// Repeated user IDs are collapsed. A connection that fails to accept the
// payload is dropped from the registry without affecting the others.
func (r *Registry) FanoutMany(userIDs []string, payload []byte) int {
	targets := r.snapshot(lo.Uniq(userIDs))

	delivered := 0
	for _, p := range targets {
		if err := p.Send(payload); err != nil {
			r.log.Warn("Dropping connection after failed send",
				"user_id", p.UserID(),
				"connection_id", p.ID(),
				"error", err)
			r.Unregister(p)
			continue
		}
		delivered++
	}
	return delivered
}

func (r *Registry) snapshot(userIDs []string) []Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var targets []Peer
	for _, userID := range userIDs {
		for _, p := range r.peers[userID] {
			targets = append(targets, p)
		}
	}
	return targets
}

// Connections reports how many live connections userID holds.
func (r *Registry) Connections(userID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers[userID])
}

// Online returns the users with at least one live connection.
func (r *Registry) Online() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lo.Keys(r.peers)
}

// Close drops every registered connection and closes those that support it.
func (r *Registry) Close() {
	r.mu.Lock()
	all := lo.FlatMap(lo.Values(r.peers), func(conns map[string]Peer, _ int) []Peer {
		return lo.Values(conns)
	})
	r.peers = make(map[string]map[string]Peer)
	r.mu.Unlock()

	for _, p := range all {
		if c, ok := p.(interface{ Close(code int, reason string) }); ok {
			c.Close(websocket.CloseGoingAway, "server shutting down")
		}
	}
}
