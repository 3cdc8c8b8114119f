package hub

import (
	"sync"

	"github.com/Bolatan/messaging/internal/models"
)

// room is the multicast scope for one chat. It tracks which connections are
// subscribed and keeps a ring buffer of the most recent messages so a joining
// connection can be backfilled without a storage round trip.
type room struct {
	chatID     string
	maxRecords int

	members map[string]struct{}
	records []models.MessageView
	last    int

	mux sync.RWMutex
}

func newRoom(chatID string, maxRecords int) *room {
	return &room{
		chatID:     chatID,
		maxRecords: maxRecords,
		members:    make(map[string]struct{}),
		last:       -1,
	}
}

func (r *room) join(connID string) {
	r.mux.Lock()
	defer r.mux.Unlock()
	r.members[connID] = struct{}{}
}

func (r *room) drop(connID string) {
	r.mux.Lock()
	defer r.mux.Unlock()
	delete(r.members, connID)
}

// memberConns returns a snapshot of the subscribed connection IDs.
func (r *room) memberConns() []string {
	r.mux.RLock()
	defer r.mux.RUnlock()

	conns := make([]string, 0, len(r.members))
	for connID := range r.members {
		conns = append(conns, connID)
	}
	return conns
}

// add appends a message to the ring buffer, overwriting the oldest entry
// once the buffer is full.
func (r *room) add(view models.MessageView) {
	r.mux.Lock()
	defer r.mux.Unlock()

	if len(r.records) < r.maxRecords {
		r.records = append(r.records, view)
		r.last++
		return
	}
	i := (r.last + 1) % r.maxRecords
	r.records[i] = view
	r.last = i
}

// recent returns up to count most recent messages in chronological order.
func (r *room) recent(count int) []models.MessageView {
	r.mux.RLock()
	defer r.mux.RUnlock()

	if len(r.records) == 0 {
		return nil
	}
	if count > len(r.records) {
		count = len(r.records)
	}

	result := make([]models.MessageView, 0, count)
	start := r.last - count + 1
	for i := start; i <= r.last; i++ {
		idx := i
		if idx < 0 {
			idx += len(r.records)
		}
		result = append(result, r.records[idx])
	}
	return result
}

// setStatus updates the cached status of the given messages, keeping the
// backfill buffer consistent with the persisted state. Transitions never
// move backward.
func (r *room) setStatus(messageIDs []string, status models.MessageStatus) {
	ids := make(map[string]struct{}, len(messageIDs))
	for _, id := range messageIDs {
		ids[id] = struct{}{}
	}

	r.mux.Lock()
	defer r.mux.Unlock()
	for i := range r.records {
		if _, ok := ids[r.records[i].ID]; !ok {
			continue
		}
		if r.records[i].Status.CanAdvanceTo(status) {
			r.records[i].Status = status
		}
	}
}
