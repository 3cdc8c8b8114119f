package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DBFile        string
	APIAddr       string
	AdminAddr     string
	DeliveryDelay time.Duration
	RoomHistory   int

	// Web push. Notifications are disabled when the VAPID keys are empty.
	VAPIDPublicKey  string
	VAPIDPrivateKey string
	PushContact     string
}

func Load() (*Config, error) {
	// A missing .env file is fine, env vars may be set directly.
	_ = godotenv.Load()

	deliveryDelay, err := time.ParseDuration(getEnv("DELIVERY_DELAY", "500ms"))
	if err != nil {
		return nil, fmt.Errorf("invalid DELIVERY_DELAY: %w", err)
	}

	roomHistory, err := strconv.Atoi(getEnv("ROOM_HISTORY", "100"))
	if err != nil {
		return nil, fmt.Errorf("invalid ROOM_HISTORY: %w", err)
	}

	cfg := &Config{
		DBFile:          getEnv("MESSAGING_DB", "messaging.db"),
		APIAddr:         getEnv("API_ADDR", ":8080"),
		AdminAddr:       getEnv("ADMIN_ADDR", "localhost:8081"),
		DeliveryDelay:   deliveryDelay,
		RoomHistory:     roomHistory,
		VAPIDPublicKey:  os.Getenv("VAPID_PUBLIC_KEY"),
		VAPIDPrivateKey: os.Getenv("VAPID_PRIVATE_KEY"),
		PushContact:     getEnv("PUSH_CONTACT", "mailto:admin@localhost"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.DeliveryDelay < 0 {
		return fmt.Errorf("DELIVERY_DELAY must not be negative")
	}

	if c.RoomHistory <= 0 {
		return fmt.Errorf("ROOM_HISTORY must be greater than 0")
	}

	if (c.VAPIDPublicKey == "") != (c.VAPIDPrivateKey == "") {
		return fmt.Errorf("VAPID_PUBLIC_KEY and VAPID_PRIVATE_KEY must be set together")
	}

	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
