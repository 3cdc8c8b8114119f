package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/Bolatan/messaging/internal/content"
	"github.com/Bolatan/messaging/internal/models"
	"github.com/Bolatan/messaging/internal/storage"

	"github.com/google/uuid"
)

type API struct {
	storage *storage.BboltStorage
}

func New(storage *storage.BboltStorage) *API {
	return &API{storage: storage}
}

func (a *API) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

type CreateUserRequest struct {
	Name   string `json:"name"`
	Email  string `json:"email"`
	Avatar string `json:"avatar"`
}

func (a *API) CreateUserHandler(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	req.Name = content.Sanitize(req.Name)
	if req.Name == "" || req.Email == "" {
		http.Error(w, "name and email are required", http.StatusBadRequest)
		return
	}

	user := models.User{
		ID:     uuid.NewString(),
		Name:   req.Name,
		Email:  req.Email,
		Avatar: req.Avatar,
		Presence: models.Presence{
			LastSeen: time.Now().Unix(),
		},
	}
	if err := a.storage.CreateUser(user); err != nil {
		if errors.Is(err, models.ErrAlreadyExists) {
			http.Error(w, "User already exists", http.StatusBadRequest)
			return
		}
		log.Printf("failed to create user: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	writeJSONStatus(w, http.StatusCreated, user)
}

func (a *API) UsersHandler(w http.ResponseWriter, r *http.Request) {
	users, err := a.storage.ListUsers()
	if err != nil {
		log.Printf("failed to list users: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if users == nil {
		users = []models.User{}
	}
	writeJSON(w, users)
}

type CreateChatRequest struct {
	Participants []string `json:"participants"`
	IsGroup      bool     `json:"isGroup"`
	GroupName    string   `json:"groupName"`
	GroupAvatar  string   `json:"groupAvatar"`
}

// CreateChatHandler creates a conversation. For direct chats the unordered
// participant pair is unique: posting the same pair again returns the
// existing conversation.
func (a *API) CreateChatHandler(w http.ResponseWriter, r *http.Request) {
	var req CreateChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if len(req.Participants) < 2 {
		http.Error(w, "at least 2 participants are required", http.StatusBadRequest)
		return
	}
	if !req.IsGroup && len(req.Participants) != 2 {
		http.Error(w, "direct chat must have exactly 2 participants", http.StatusBadRequest)
		return
	}

	chat := models.Chat{
		ID:           uuid.NewString(),
		Participants: req.Participants,
		IsGroup:      req.IsGroup,
		GroupName:    content.Sanitize(req.GroupName),
		GroupAvatar:  req.GroupAvatar,
		UpdatedAt:    time.Now().Unix(),
	}
	created, err := a.storage.CreateChat(chat)
	if err != nil {
		log.Printf("failed to create chat: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	if created.ID == chat.ID {
		writeJSONStatus(w, http.StatusCreated, created)
		return
	}
	writeJSON(w, created)
}

func (a *API) ChatsHandler(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userId")
	chats, err := a.storage.ListChats(userID)
	if err != nil {
		log.Printf("failed to list chats: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if chats == nil {
		chats = []models.Chat{}
	}
	writeJSON(w, chats)
}

func (a *API) MessagesHandler(w http.ResponseWriter, r *http.Request) {
	chatID := r.PathValue("chatId")
	if _, err := a.storage.GetChat(chatID); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			http.Error(w, "Chat not found", http.StatusNotFound)
			return
		}
		log.Printf("failed to get chat: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	messages, err := a.storage.ListMessages(chatID)
	if err != nil {
		log.Printf("failed to list messages: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if messages == nil {
		messages = []models.Message{}
	}
	writeJSON(w, messages)
}

func (a *API) SubscribePushHandler(w http.ResponseWriter, r *http.Request) {
	var sub models.PushSubscription
	if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if sub.UserID == "" || sub.Endpoint == "" {
		http.Error(w, "userId and endpoint are required", http.StatusBadRequest)
		return
	}

	if _, err := a.storage.GetUser(sub.UserID); err != nil {
		http.Error(w, "User not found", http.StatusNotFound)
		return
	}

	if err := a.storage.UpsertPushSubscription(sub); err != nil {
		log.Printf("failed to store push subscription: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func writeJSON(w http.ResponseWriter, v any) {
	writeJSONStatus(w, http.StatusOK, v)
}

func writeJSONStatus(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("failed to encode response: %v", err)
	}
}
