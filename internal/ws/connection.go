package ws

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/Bolatan/messaging/internal/models"
)

type wsConnection interface {
	Close() error
	WriteJSON(v interface{}) error
	ReadJSON(v interface{}) error
}

type eventHub interface {
	Connect(connID string) chan models.ServerEvent
	Disconnect(connID string)
	SetOnline(connID, userID string) error
	JoinRoom(connID, userID, chatID string) error
	Send(chatID, senderID, text string) error
	MarkRead(chatID, userID string, messageIDs []string) error
	Typing(chatID, connID, userID, userName string, active bool)
}

// Connection drives one websocket session: a read pump feeding client events
// into the main loop, which interleaves them with server events from the hub.
// The user identity is bound at the first presence:set event; events that act
// on behalf of a user are rejected until then.
type Connection struct {
	ws         wsConnection
	hub        eventHub
	connID     string
	userID     string
	fromClient chan models.ClientEvent
	fromServer chan models.ServerEvent
	errorCh    chan error
}

func NewConnection(
	hub eventHub,
	ws wsConnection,
	connID string,
) *Connection {
	return &Connection{
		ws:         ws,
		hub:        hub,
		connID:     connID,
		fromClient: make(chan models.ClientEvent),
		fromServer: hub.Connect(connID),
		errorCh:    make(chan error, 2),
	}
}

func (c *Connection) Handle(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		close(c.fromClient)
		close(c.errorCh)
		c.hub.Disconnect(c.connID)
	}()

	var wg sync.WaitGroup
	wg.Go(func() {
		c.errorCh <- c.pumpEvents(ctx)
		cancel()
	})

	wg.Go(func() {
		c.errorCh <- c.mainLoop(ctx)
		cancel()
	})

	var err error
	select {
	case err = <-c.errorCh:
	case <-ctx.Done():
	}
	c.ws.Close()
	wg.Wait()

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	return nil
}

func (c *Connection) pumpEvents(ctx context.Context) error {
	for {
		var ev models.ClientEvent
		if err := c.ws.ReadJSON(&ev); err != nil {
			return err
		}
		select {
		case c.fromClient <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Connection) mainLoop(ctx context.Context) error {
	for {
		select {
		case ev := <-c.fromClient:
			if err := c.processClientEvent(ev); err != nil {
				return err
			}
		case ev, ok := <-c.fromServer:
			if !ok {
				return nil
			}
			if err := c.ws.WriteJSON(ev); err != nil {
				return err
			}
		case <-ctx.Done():
			return nil
		}
	}
}

// processClientEvent validates an inbound event and hands it to the hub.
// Malformed or rejected events produce a structured error event instead of
// tearing down the connection.
func (c *Connection) processClientEvent(ev models.ClientEvent) error {
	switch ev.Type {
	case models.ClientEventPresenceSet:
		if ev.UserID == "" {
			return c.writeError("presence:set requires userId")
		}
		if err := c.hub.SetOnline(c.connID, ev.UserID); err != nil {
			return c.writeError(err.Error())
		}
		c.userID = ev.UserID

	case models.ClientEventRoomJoin:
		if c.userID == "" {
			return c.writeError("room:join requires presence:set first")
		}
		if ev.ChatID == "" {
			return c.writeError("room:join requires chatId")
		}
		if err := c.hub.JoinRoom(c.connID, c.userID, ev.ChatID); err != nil {
			return c.writeError(err.Error())
		}

	case models.ClientEventMessageSend:
		if c.userID == "" {
			return c.writeError("message:send requires presence:set first")
		}
		if ev.SenderID != "" && ev.SenderID != c.userID {
			return c.writeError("senderId does not match connection identity")
		}
		if ev.ChatID == "" {
			return c.writeError("message:send requires chatId")
		}
		if err := c.hub.Send(ev.ChatID, c.userID, ev.Text); err != nil {
			return c.writeError(err.Error())
		}

	case models.ClientEventReadMark:
		if c.userID == "" {
			return c.writeError("read:mark requires presence:set first")
		}
		if ev.ChatID == "" || len(ev.MessageIDs) == 0 {
			return c.writeError("read:mark requires chatId and messageIds")
		}
		if err := c.hub.MarkRead(ev.ChatID, c.userID, ev.MessageIDs); err != nil {
			return c.writeError(err.Error())
		}

	case models.ClientEventTypingStart, models.ClientEventTypingStop:
		if c.userID == "" || ev.ChatID == "" {
			return nil // typing is best-effort, drop silently
		}
		c.hub.Typing(ev.ChatID, c.connID, c.userID, ev.UserName, ev.Type == models.ClientEventTypingStart)

	default:
		return c.writeError(fmt.Sprintf("unknown event type %q", ev.Type))
	}

	return nil
}

func (c *Connection) writeError(msg string) error {
	return c.ws.WriteJSON(models.ServerEvent{
		Type:  models.ServerEventError,
		Error: msg,
	})
}
