package hub

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Bolatan/messaging/internal/content"
	"github.com/Bolatan/messaging/internal/models"
	"github.com/Bolatan/messaging/internal/presence"

	"github.com/c-pro/geche"
	"github.com/google/uuid"
)

const (
	// Size of the per-connection outbound event buffer. Events for a
	// connection that cannot keep up are dropped, not queued unboundedly.
	connBufferSize = 100

	profileCacheTTL = time.Minute
)

// Store is the persistence interface the hub depends on.
type Store interface {
	GetUser(id string) (models.User, error)
	SetPresence(userID string, online bool, lastSeen int64) error
	GetChat(id string) (models.Chat, error)
	InsertMessage(msg models.Message) error
	ListMessages(chatID string) ([]models.Message, error)
	AdvanceMessageStatus(chatID, messageID string, status models.MessageStatus) (bool, error)
	MarkMessagesRead(chatID string, messageIDs []string) ([]string, error)
	ListPushSubscriptions(userID string) ([]models.PushSubscription, error)
}

// Notifier delivers an out-of-band notification about a new message to a
// participant that has no live connection.
type Notifier interface {
	Notify(sub models.PushSubscription, view models.MessageView)
}

type Config struct {
	Store         Store
	Notifier      Notifier // optional
	DeliveryDelay time.Duration
	RoomHistory   int
	Logger        *slog.Logger
}

// Hub routes realtime events between connections. It owns the presence
// registry and the per-chat rooms, and drives the message delivery lifecycle.
type Hub struct {
	store    Store
	notifier Notifier
	registry *presence.Registry
	profiles geche.Geche[string, models.User]
	logger   *slog.Logger

	deliveryDelay time.Duration
	roomHistory   int

	// afterFunc schedules the delayed delivered transition. Tests replace
	// it to fire deterministically.
	afterFunc func(d time.Duration, f func())
	now       func() time.Time

	mu    sync.RWMutex
	conns map[string]chan models.ServerEvent
	rooms map[string]*room
}

func New(ctx context.Context, cfg Config) *Hub {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RoomHistory <= 0 {
		cfg.RoomHistory = 100
	}

	return &Hub{
		store:         cfg.Store,
		notifier:      cfg.Notifier,
		registry:      presence.NewRegistry(),
		profiles:      geche.NewMapTTLCache[string, models.User](ctx, profileCacheTTL, 10*time.Second),
		logger:        logger,
		deliveryDelay: cfg.DeliveryDelay,
		roomHistory:   cfg.RoomHistory,
		afterFunc: func(d time.Duration, f func()) {
			time.AfterFunc(d, f)
		},
		now:   time.Now,
		conns: make(map[string]chan models.ServerEvent),
		rooms: make(map[string]*room),
	}
}

// Connect registers a connection and returns its outbound event channel.
func (h *Hub) Connect(connID string) chan models.ServerEvent {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan models.ServerEvent, connBufferSize)
	h.conns[connID] = ch
	return ch
}

// Disconnect drops a connection: its room subscriptions are discarded, the
// presence binding is cleared and, if the user had no newer connection, an
// offline presence change is broadcast.
func (h *Hub) Disconnect(connID string) {
	h.mu.Lock()
	if ch, ok := h.conns[connID]; ok {
		close(ch)
		delete(h.conns, connID)
	}
	for _, r := range h.rooms {
		r.drop(connID)
	}
	h.mu.Unlock()

	userID, ok := h.registry.ClearOnline(connID)
	if !ok {
		return
	}

	lastSeen := h.now().Unix()
	if err := h.store.SetPresence(userID, false, lastSeen); err != nil {
		h.logger.Error("failed to persist offline presence", "userId", userID, "error", err)
	}
	h.broadcastAll(models.ServerEvent{
		Type:   models.ServerEventPresence,
		UserID: userID,
		Online: false,
	})
}

// SetOnline binds a user identity to a connection and broadcasts the
// presence change to all connected clients. A later connection for the same
// user wins over an earlier one.
func (h *Hub) SetOnline(connID, userID string) error {
	if _, err := h.store.GetUser(userID); err != nil {
		return fmt.Errorf("set online: %w", err)
	}

	if stale, replaced := h.registry.SetOnline(userID, connID); replaced {
		h.logger.Info("presence taken over by newer connection", "userId", userID, "staleConn", stale)
	}

	if err := h.store.SetPresence(userID, true, h.now().Unix()); err != nil {
		return fmt.Errorf("failed to persist online presence: %w", err)
	}

	h.broadcastAll(models.ServerEvent{
		Type:   models.ServerEventPresence,
		UserID: userID,
		Online: true,
	})
	return nil
}

// JoinRoom subscribes a connection to a chat's room. Only chat participants
// may join. The connection is backfilled with the room's recent history.
func (h *Hub) JoinRoom(connID, userID, chatID string) error {
	chat, err := h.store.GetChat(chatID)
	if err != nil {
		return fmt.Errorf("join room: %w", err)
	}
	if !chat.HasParticipant(userID) {
		return fmt.Errorf("join room %s: %w", chatID, models.ErrNotParticipant)
	}

	r, err := h.room(chatID)
	if err != nil {
		return err
	}
	r.join(connID)

	h.send(connID, models.ServerEvent{
		Type:     models.ServerEventHistory,
		ChatID:   chatID,
		Messages: r.recent(h.roomHistory),
	})
	return nil
}

// Send runs the message pipeline: validate and sanitize the text, persist the
// message with status sent, fan it out to the room with the sender's profile
// denormalized, and schedule the delayed delivered transition. Participants
// without a live connection are notified out of band.
func (h *Hub) Send(chatID, senderID, text string) error {
	if err := content.ValidateMessageText(text); err != nil {
		return err
	}

	chat, err := h.store.GetChat(chatID)
	if err != nil {
		return fmt.Errorf("send: %w", err)
	}
	if !chat.HasParticipant(senderID) {
		return fmt.Errorf("send to chat %s: %w", chatID, models.ErrNotParticipant)
	}

	// Room is resolved before the insert so history seeding from storage
	// cannot pick up the new message twice.
	r, err := h.room(chatID)
	if err != nil {
		return err
	}

	clean := content.Sanitize(text)
	html, err := content.RenderMarkdown(clean)
	if err != nil {
		return err
	}

	msg := models.Message{
		ID:        uuid.NewString(),
		ChatID:    chatID,
		SenderID:  senderID,
		Text:      clean,
		HTML:      html,
		Status:    models.StatusSent,
		CreatedAt: h.now().Unix(),
	}
	if err := h.store.InsertMessage(msg); err != nil {
		return fmt.Errorf("failed to persist message: %w", err)
	}

	view, err := h.view(msg)
	if err != nil {
		return err
	}
	r.add(view)

	h.broadcastRoom(r, models.ServerEvent{
		Type:    models.ServerEventMessage,
		ChatID:  chatID,
		Message: &view,
	})

	h.notifyOffline(chat, view)

	h.afterFunc(h.deliveryDelay, func() {
		h.confirmDelivery(r, chatID, msg.ID)
	})
	return nil
}

// confirmDelivery advances a message to delivered and republishes the status
// change. The transition is skipped if the message already moved further.
func (h *Hub) confirmDelivery(r *room, chatID, messageID string) {
	advanced, err := h.store.AdvanceMessageStatus(chatID, messageID, models.StatusDelivered)
	if err != nil {
		h.logger.Error("failed to advance message status", "chatId", chatID, "messageId", messageID, "error", err)
		return
	}
	if !advanced {
		return
	}

	r.setStatus([]string{messageID}, models.StatusDelivered)
	h.broadcastRoom(r, models.ServerEvent{
		Type:      models.ServerEventStatus,
		ChatID:    chatID,
		MessageID: messageID,
		Status:    models.StatusDelivered,
	})
}

// MarkRead bulk-marks messages as read and broadcasts a read receipt with
// the IDs that actually changed. Re-marking already-read messages is a no-op.
func (h *Hub) MarkRead(chatID, userID string, messageIDs []string) error {
	chat, err := h.store.GetChat(chatID)
	if err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	if !chat.HasParticipant(userID) {
		return fmt.Errorf("mark read in chat %s: %w", chatID, models.ErrNotParticipant)
	}

	affected, err := h.store.MarkMessagesRead(chatID, messageIDs)
	if err != nil {
		return fmt.Errorf("failed to mark messages read: %w", err)
	}
	if len(affected) == 0 {
		return nil
	}

	r, err := h.room(chatID)
	if err != nil {
		return err
	}
	r.setStatus(affected, models.StatusRead)

	h.broadcastRoom(r, models.ServerEvent{
		Type:       models.ServerEventReadAck,
		ChatID:     chatID,
		MessageIDs: affected,
	})
	return nil
}

// Typing relays an ephemeral typing indicator to the room, excluding the
// typing connection itself. Nothing is persisted.
func (h *Hub) Typing(chatID, connID, userID, userName string, active bool) {
	h.mu.RLock()
	r, ok := h.rooms[chatID]
	h.mu.RUnlock()
	if !ok {
		return
	}

	evType := models.ServerEventTypingStop
	if active {
		evType = models.ServerEventTypingStart
	}
	ev := models.ServerEvent{
		Type:     evType,
		ChatID:   chatID,
		UserID:   userID,
		UserName: userName,
	}
	for _, member := range r.memberConns() {
		if member == connID {
			continue
		}
		h.send(member, ev)
	}
}

// OnlineUsers returns the profiles of all users with a live connection.
func (h *Hub) OnlineUsers() []models.User {
	var users []models.User
	for _, userID := range h.registry.OnlineUsers() {
		user, err := h.profile(userID)
		if err != nil {
			h.logger.Error("failed to load online user profile", "userId", userID, "error", err)
			continue
		}
		users = append(users, user)
	}
	return users
}

// room returns the room for a chat, creating and seeding it from storage on
// first use.
func (h *Hub) room(chatID string) (*room, error) {
	h.mu.RLock()
	r, ok := h.rooms[chatID]
	h.mu.RUnlock()
	if ok {
		return r, nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if r, ok := h.rooms[chatID]; ok {
		return r, nil
	}

	r = newRoom(chatID, h.roomHistory)
	messages, err := h.store.ListMessages(chatID)
	if err != nil {
		return nil, fmt.Errorf("failed to seed room %s: %w", chatID, err)
	}
	if len(messages) > h.roomHistory {
		messages = messages[len(messages)-h.roomHistory:]
	}
	for _, msg := range messages {
		view, err := h.view(msg)
		if err != nil {
			return nil, err
		}
		r.add(view)
	}

	h.rooms[chatID] = r
	return r, nil
}

// view denormalizes the sender's profile onto a message.
func (h *Hub) view(msg models.Message) (models.MessageView, error) {
	sender, err := h.profile(msg.SenderID)
	if err != nil {
		return models.MessageView{}, fmt.Errorf("failed to load sender %s: %w", msg.SenderID, err)
	}
	return models.MessageView{
		Message:      msg,
		SenderName:   sender.Name,
		SenderAvatar: sender.Avatar,
	}, nil
}

func (h *Hub) profile(userID string) (models.User, error) {
	if user, err := h.profiles.Get(userID); err == nil {
		return user, nil
	}
	user, err := h.store.GetUser(userID)
	if err != nil {
		return models.User{}, err
	}
	h.profiles.Set(userID, user)
	return user, nil
}

// notifyOffline sends a web push to every participant without a live
// connection, excluding the sender.
func (h *Hub) notifyOffline(chat models.Chat, view models.MessageView) {
	if h.notifier == nil {
		return
	}
	for _, participant := range chat.Participants {
		if participant == view.SenderID || h.registry.Online(participant) {
			continue
		}
		subs, err := h.store.ListPushSubscriptions(participant)
		if err != nil {
			h.logger.Error("failed to list push subscriptions", "userId", participant, "error", err)
			continue
		}
		for _, sub := range subs {
			go h.notifier.Notify(sub, view)
		}
	}
}

func (h *Hub) broadcastAll(ev models.ServerEvent) {
	h.mu.RLock()
	conns := make([]string, 0, len(h.conns))
	for connID := range h.conns {
		conns = append(conns, connID)
	}
	h.mu.RUnlock()

	for _, connID := range conns {
		h.send(connID, ev)
	}
}

func (h *Hub) broadcastRoom(r *room, ev models.ServerEvent) {
	for _, connID := range r.memberConns() {
		h.send(connID, ev)
	}
}

func (h *Hub) send(connID string, ev models.ServerEvent) {
	// The read lock is held across the send so the channel cannot be
	// closed by a concurrent Disconnect. The send itself never blocks.
	h.mu.RLock()
	defer h.mu.RUnlock()

	ch, ok := h.conns[connID]
	if !ok {
		return
	}

	select {
	case ch <- ev:
	default:
		h.logger.Warn("dropping event for slow connection", "connId", connID, "type", ev.Type)
	}
}

// NewConnID returns a fresh connection identifier.
func NewConnID() string {
	return uuid.NewString()
}
