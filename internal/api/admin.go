package api

import (
	"net/http"

	"github.com/Bolatan/messaging/internal/models"
)

type presenceSource interface {
	OnlineUsers() []models.User
}

// AdminHandler exposes operational endpoints on the admin listener.
type AdminHandler struct {
	presence presenceSource
}

func NewAdminHandler(presence presenceSource) *AdminHandler {
	return &AdminHandler{presence: presence}
}

// PresenceHandler returns a snapshot of all users with a live connection.
func (h *AdminHandler) PresenceHandler(w http.ResponseWriter, r *http.Request) {
	users := h.presence.OnlineUsers()
	if users == nil {
		users = []models.User{}
	}
	writeJSON(w, users)
}
