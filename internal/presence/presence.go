package presence

import "sync"

// Registry tracks which connection currently represents each online user.
// It keeps both directions of the mapping so a disconnect, which only
// carries a connection ID, can be resolved back to a user.
//
// A single connection per user is tracked: a later SetOnline for the same
// user replaces the earlier connection (last connection wins).
type Registry struct {
	mu         sync.RWMutex
	userToConn map[string]string
	connToUser map[string]string
}

func NewRegistry() *Registry {
	return &Registry{
		userToConn: make(map[string]string),
		connToUser: make(map[string]string),
	}
}

// SetOnline binds a user to a connection. If the user already had a live
// connection, the stale one is unbound and returned.
func (r *Registry) SetOnline(userID, connID string) (replacedConn string, replaced bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.userToConn[userID]; ok && prev != connID {
		delete(r.connToUser, prev)
		replacedConn, replaced = prev, true
	}
	r.userToConn[userID] = connID
	r.connToUser[connID] = userID
	return replacedConn, replaced
}

// ClearOnline removes the binding for a connection and returns the user it
// belonged to. Clearing an untracked connection is a no-op.
func (r *Registry) ClearOnline(connID string) (userID string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	userID, ok = r.connToUser[connID]
	if !ok {
		return "", false
	}
	delete(r.connToUser, connID)

	// The user may have been taken over by a newer connection.
	if r.userToConn[userID] == connID {
		delete(r.userToConn, userID)
	} else {
		ok = false
	}
	return userID, ok
}

// UserFor returns the user bound to a connection.
func (r *Registry) UserFor(connID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	userID, ok := r.connToUser[connID]
	return userID, ok
}

// ConnFor returns the live connection of a user.
func (r *Registry) ConnFor(userID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	connID, ok := r.userToConn[userID]
	return connID, ok
}

// Online reports whether a user has a live connection.
func (r *Registry) Online(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.userToConn[userID]
	return ok
}

// OnlineUsers returns the IDs of all users with a live connection.
func (r *Registry) OnlineUsers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	users := make([]string, 0, len(r.userToConn))
	for userID := range r.userToConn {
		users = append(users, userID)
	}
	return users
}
