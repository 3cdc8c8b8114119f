package storage

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Bolatan/messaging/internal/models"

	"go.etcd.io/bbolt"
)

var (
	bucketUsers       = []byte("users")
	bucketChats       = []byte("chats")
	bucketDirectIndex = []byte("direct_index")
	bucketMessages    = []byte("messages")
	bucketPushSubs    = []byte("push_subscriptions")
)

type BboltStorage struct {
	db *bbolt.DB
}

func NewBboltStorage(path string) (*BboltStorage, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bbolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, b := range [][]byte{bucketUsers, bucketChats, bucketDirectIndex, bucketMessages, bucketPushSubs} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}

	return &BboltStorage{db: db}, nil
}

func (s *BboltStorage) Close() error {
	return s.db.Close()
}

// CreateUser stores a new user. The email must be unique.
func (s *BboltStorage) CreateUser(user models.User) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketUsers)

		var exists bool
		err := b.ForEach(func(k, v []byte) error {
			var dbUser DBUser
			if err := dbUser.UnmarshalBinary(v); err != nil {
				return err
			}
			if dbUser.Email == user.Email {
				exists = true
			}
			return nil
		})
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("user with email %s: %w", user.Email, models.ErrAlreadyExists)
		}

		dbUser := &DBUser{
			ID:       user.ID,
			Name:     user.Name,
			Email:    user.Email,
			Avatar:   user.Avatar,
			Online:   user.Presence.Online,
			LastSeen: user.Presence.LastSeen,
		}
		data, err := dbUser.MarshalBinary()
		if err != nil {
			return err
		}
		return b.Put(dbUser.Key(), data)
	})
}

// GetUser returns the user with the given ID.
func (s *BboltStorage) GetUser(id string) (models.User, error) {
	var user models.User
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketUsers).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("user %s: %w", id, models.ErrNotFound)
		}
		var dbUser DBUser
		if err := dbUser.UnmarshalBinary(data); err != nil {
			return err
		}
		user = userFromDB(dbUser)
		return nil
	})
	return user, err
}

// ListUsers returns all users sorted by display name.
func (s *BboltStorage) ListUsers() ([]models.User, error) {
	var users []models.User
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketUsers).ForEach(func(k, v []byte) error {
			var dbUser DBUser
			if err := dbUser.UnmarshalBinary(v); err != nil {
				return err
			}
			users = append(users, userFromDB(dbUser))
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(users, func(i, j int) bool {
		return users[i].Name < users[j].Name
	})
	return users, nil
}

// SetPresence updates a user's online flag and last seen timestamp.
func (s *BboltStorage) SetPresence(userID string, online bool, lastSeen int64) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketUsers)
		data := b.Get([]byte(userID))
		if data == nil {
			return fmt.Errorf("user %s: %w", userID, models.ErrNotFound)
		}
		var dbUser DBUser
		if err := dbUser.UnmarshalBinary(data); err != nil {
			return err
		}
		dbUser.Online = online
		dbUser.LastSeen = lastSeen

		updated, err := dbUser.MarshalBinary()
		if err != nil {
			return err
		}
		return b.Put(dbUser.Key(), updated)
	})
}

// CreateChat stores a new chat. Direct chats are unique per unordered pair of
// participants: creating a duplicate returns the existing chat instead.
func (s *BboltStorage) CreateChat(chat models.Chat) (models.Chat, error) {
	result := chat
	err := s.db.Update(func(tx *bbolt.Tx) error {
		chats := tx.Bucket(bucketChats)

		if !chat.IsGroup {
			if len(chat.Participants) != 2 {
				return fmt.Errorf("direct chat must have exactly 2 participants, got %d", len(chat.Participants))
			}
			index := tx.Bucket(bucketDirectIndex)
			key := directKey(chat.Participants[0], chat.Participants[1])
			if existingID := index.Get(key); existingID != nil {
				data := chats.Get(existingID)
				if data == nil {
					return fmt.Errorf("direct index points to missing chat %s", existingID)
				}
				var dbChat DBChat
				if err := dbChat.UnmarshalBinary(data); err != nil {
					return err
				}
				result = chatFromDB(dbChat)
				return nil
			}
			if err := index.Put(key, []byte(chat.ID)); err != nil {
				return err
			}
		}

		dbChat := DBChat{
			ID:           chat.ID,
			Participants: chat.Participants,
			IsGroup:      chat.IsGroup,
			GroupName:    chat.GroupName,
			GroupAvatar:  chat.GroupAvatar,
			UpdatedAt:    chat.UpdatedAt,
		}
		data, err := dbChat.MarshalBinary()
		if err != nil {
			return err
		}
		return chats.Put(dbChat.Key(), data)
	})
	return result, err
}

// GetChat returns the chat with the given ID.
func (s *BboltStorage) GetChat(id string) (models.Chat, error) {
	var chat models.Chat
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketChats).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("chat %s: %w", id, models.ErrNotFound)
		}
		var dbChat DBChat
		if err := dbChat.UnmarshalBinary(data); err != nil {
			return err
		}
		chat = chatFromDB(dbChat)
		return nil
	})
	return chat, err
}

// ListChats returns all chats the user participates in, most recently active first.
func (s *BboltStorage) ListChats(userID string) ([]models.Chat, error) {
	var chats []models.Chat
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketChats).ForEach(func(k, v []byte) error {
			var dbChat DBChat
			if err := dbChat.UnmarshalBinary(v); err != nil {
				return err
			}
			chat := chatFromDB(dbChat)
			if chat.HasParticipant(userID) {
				chats = append(chats, chat)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(chats, func(i, j int) bool {
		return chats[i].UpdatedAt > chats[j].UpdatedAt
	})
	return chats, nil
}

// InsertMessage saves a message and updates the owning chat's last message
// reference and activity timestamp in the same transaction.
func (s *BboltStorage) InsertMessage(message models.Message) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if message.ChatID == "" {
			return errors.New("message missing chatID")
		}

		chats := tx.Bucket(bucketChats)
		chatData := chats.Get([]byte(message.ChatID))
		if chatData == nil {
			return fmt.Errorf("chat %s: %w", message.ChatID, models.ErrNotFound)
		}

		chatBucket, err := tx.Bucket(bucketMessages).CreateBucketIfNotExists([]byte(message.ChatID))
		if err != nil {
			return fmt.Errorf("failed to create chat message bucket: %w", err)
		}

		dbMessage := DBMessage{
			ID:        message.ID,
			ChatID:    message.ChatID,
			SenderID:  message.SenderID,
			Text:      message.Text,
			HTML:      message.HTML,
			Status:    string(message.Status),
			CreatedAt: message.CreatedAt,
		}
		data, err := dbMessage.MarshalBinary()
		if err != nil {
			return fmt.Errorf("failed to marshal message: %w", err)
		}
		if err := chatBucket.Put(dbMessage.Key(), data); err != nil {
			return fmt.Errorf("failed to put message: %w", err)
		}

		var dbChat DBChat
		if err := dbChat.UnmarshalBinary(chatData); err != nil {
			return fmt.Errorf("failed to unmarshal chat: %w", err)
		}
		dbChat.LastMessageID = message.ID
		if message.CreatedAt > dbChat.UpdatedAt {
			dbChat.UpdatedAt = message.CreatedAt
		}
		updated, err := dbChat.MarshalBinary()
		if err != nil {
			return err
		}
		return chats.Put(dbChat.Key(), updated)
	})
}

// GetMessage returns a single message from a chat.
func (s *BboltStorage) GetMessage(chatID, messageID string) (models.Message, error) {
	var msg models.Message
	err := s.db.View(func(tx *bbolt.Tx) error {
		chatBucket := tx.Bucket(bucketMessages).Bucket([]byte(chatID))
		if chatBucket == nil {
			return fmt.Errorf("message %s: %w", messageID, models.ErrNotFound)
		}
		data := chatBucket.Get([]byte(messageID))
		if data == nil {
			return fmt.Errorf("message %s: %w", messageID, models.ErrNotFound)
		}
		var dbMsg DBMessage
		if err := dbMsg.UnmarshalBinary(data); err != nil {
			return err
		}
		msg = messageFromDB(dbMsg)
		return nil
	})
	return msg, err
}

// ListMessages returns all messages of a chat in creation order.
func (s *BboltStorage) ListMessages(chatID string) ([]models.Message, error) {
	var messages []models.Message
	err := s.db.View(func(tx *bbolt.Tx) error {
		chatBucket := tx.Bucket(bucketMessages).Bucket([]byte(chatID))
		if chatBucket == nil {
			return nil // No messages for this chat
		}
		return chatBucket.ForEach(func(k, v []byte) error {
			var dbMsg DBMessage
			if err := dbMsg.UnmarshalBinary(v); err != nil {
				return err
			}
			messages = append(messages, messageFromDB(dbMsg))
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(messages, func(i, j int) bool {
		if messages[i].CreatedAt != messages[j].CreatedAt {
			return messages[i].CreatedAt < messages[j].CreatedAt
		}
		return messages[i].ID < messages[j].ID
	})
	return messages, nil
}

// AdvanceMessageStatus moves a message's status forward. The status never
// regresses: a backward or same-rank transition is ignored and reported as
// not advanced.
func (s *BboltStorage) AdvanceMessageStatus(chatID, messageID string, status models.MessageStatus) (bool, error) {
	if !status.Valid() {
		return false, fmt.Errorf("invalid message status %q", status)
	}

	advanced := false
	err := s.db.Update(func(tx *bbolt.Tx) error {
		chatBucket := tx.Bucket(bucketMessages).Bucket([]byte(chatID))
		if chatBucket == nil {
			return fmt.Errorf("message %s: %w", messageID, models.ErrNotFound)
		}
		data := chatBucket.Get([]byte(messageID))
		if data == nil {
			return fmt.Errorf("message %s: %w", messageID, models.ErrNotFound)
		}
		var dbMsg DBMessage
		if err := dbMsg.UnmarshalBinary(data); err != nil {
			return err
		}

		if !models.MessageStatus(dbMsg.Status).CanAdvanceTo(status) {
			return nil
		}
		dbMsg.Status = string(status)
		advanced = true

		updated, err := dbMsg.MarshalBinary()
		if err != nil {
			return err
		}
		return chatBucket.Put(dbMsg.Key(), updated)
	})
	return advanced, err
}

// MarkMessagesRead bulk-advances the named messages to read and returns the
// IDs that actually changed. Already-read and unknown IDs are skipped, which
// makes repeated calls idempotent.
func (s *BboltStorage) MarkMessagesRead(chatID string, messageIDs []string) ([]string, error) {
	var affected []string
	err := s.db.Update(func(tx *bbolt.Tx) error {
		chatBucket := tx.Bucket(bucketMessages).Bucket([]byte(chatID))
		if chatBucket == nil {
			return nil
		}
		for _, id := range messageIDs {
			data := chatBucket.Get([]byte(id))
			if data == nil {
				continue
			}
			var dbMsg DBMessage
			if err := dbMsg.UnmarshalBinary(data); err != nil {
				return err
			}
			if !models.MessageStatus(dbMsg.Status).CanAdvanceTo(models.StatusRead) {
				continue
			}
			dbMsg.Status = string(models.StatusRead)
			updated, err := dbMsg.MarshalBinary()
			if err != nil {
				return err
			}
			if err := chatBucket.Put(dbMsg.Key(), updated); err != nil {
				return err
			}
			affected = append(affected, id)
		}
		return nil
	})
	return affected, err
}

// UpsertPushSubscription stores a web push subscription for a user, keyed by
// endpoint so re-registration replaces the old entry.
func (s *BboltStorage) UpsertPushSubscription(sub models.PushSubscription) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		userBucket, err := tx.Bucket(bucketPushSubs).CreateBucketIfNotExists([]byte(sub.UserID))
		if err != nil {
			return err
		}
		dbSub := DBPushSubscription{
			UserID:   sub.UserID,
			Endpoint: sub.Endpoint,
			P256dh:   sub.Keys.P256dh,
			Auth:     sub.Keys.Auth,
		}
		data, err := dbSub.MarshalBinary()
		if err != nil {
			return err
		}
		return userBucket.Put(dbSub.Key(), data)
	})
}

// ListPushSubscriptions returns all push subscriptions registered by a user.
func (s *BboltStorage) ListPushSubscriptions(userID string) ([]models.PushSubscription, error) {
	var subs []models.PushSubscription
	err := s.db.View(func(tx *bbolt.Tx) error {
		userBucket := tx.Bucket(bucketPushSubs).Bucket([]byte(userID))
		if userBucket == nil {
			return nil
		}
		return userBucket.ForEach(func(k, v []byte) error {
			var dbSub DBPushSubscription
			if err := dbSub.UnmarshalBinary(v); err != nil {
				return err
			}
			subs = append(subs, models.PushSubscription{
				UserID:   dbSub.UserID,
				Endpoint: dbSub.Endpoint,
				Keys: models.PushKeys{
					P256dh: dbSub.P256dh,
					Auth:   dbSub.Auth,
				},
			})
			return nil
		})
	})
	return subs, err
}

// DeletePushSubscription removes a single subscription endpoint of a user.
func (s *BboltStorage) DeletePushSubscription(userID, endpoint string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		userBucket := tx.Bucket(bucketPushSubs).Bucket([]byte(userID))
		if userBucket == nil {
			return nil
		}
		return userBucket.Delete([]byte(endpoint))
	})
}

func userFromDB(u DBUser) models.User {
	return models.User{
		ID:     u.ID,
		Name:   u.Name,
		Email:  u.Email,
		Avatar: u.Avatar,
		Presence: models.Presence{
			Online:   u.Online,
			LastSeen: u.LastSeen,
		},
	}
}

func chatFromDB(c DBChat) models.Chat {
	return models.Chat{
		ID:            c.ID,
		Participants:  c.Participants,
		IsGroup:       c.IsGroup,
		GroupName:     c.GroupName,
		GroupAvatar:   c.GroupAvatar,
		LastMessageID: c.LastMessageID,
		UpdatedAt:     c.UpdatedAt,
	}
}

func messageFromDB(m DBMessage) models.Message {
	return models.Message{
		ID:        m.ID,
		ChatID:    m.ChatID,
		SenderID:  m.SenderID,
		Text:      m.Text,
		HTML:      m.HTML,
		Status:    models.MessageStatus(m.Status),
		CreatedAt: m.CreatedAt,
	}
}

func directKey(u1, u2 string) []byte {
	ids := []string{u1, u2}
	sort.Strings(ids)
	return []byte(strings.Join(ids, "|"))
}
