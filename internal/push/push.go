package push

import (
	"encoding/json"
	"log/slog"

	"github.com/Bolatan/messaging/internal/models"

	webpush "github.com/SherClockHolmes/webpush-go"
)

// Notifier sends VAPID-signed web push notifications for new messages to
// subscriptions registered by offline participants.
type Notifier struct {
	publicKey  string
	privateKey string
	subscriber string
	logger     *slog.Logger
}

// New returns a Notifier, or nil when the VAPID keys are not configured so
// callers can treat push as disabled.
func New(publicKey, privateKey, subscriber string, logger *slog.Logger) *Notifier {
	if publicKey == "" || privateKey == "" {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{
		publicKey:  publicKey,
		privateKey: privateKey,
		subscriber: subscriber,
		logger:     logger,
	}
}

type payload struct {
	ChatID     string `json:"chatId"`
	MessageID  string `json:"messageId"`
	SenderName string `json:"senderName"`
	Text       string `json:"text"`
}

// Notify delivers a notification about a message to one subscription.
// Failures are logged and dropped; push is best-effort.
func (n *Notifier) Notify(sub models.PushSubscription, view models.MessageView) {
	body, err := json.Marshal(payload{
		ChatID:     view.ChatID,
		MessageID:  view.ID,
		SenderName: view.SenderName,
		Text:       view.Text,
	})
	if err != nil {
		n.logger.Error("failed to marshal push payload", "error", err)
		return
	}

	resp, err := webpush.SendNotification(body, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.Keys.P256dh,
			Auth:   sub.Keys.Auth,
		},
	}, &webpush.Options{
		Subscriber:      n.subscriber,
		VAPIDPublicKey:  n.publicKey,
		VAPIDPrivateKey: n.privateKey,
		TTL:             60,
	})
	if err != nil {
		n.logger.Error("failed to send push notification", "userId", sub.UserID, "error", err)
		return
	}
	_ = resp.Body.Close()
}
