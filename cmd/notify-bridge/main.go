package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/escrow-desk/backend/internal/config"
	"github.com/escrow-desk/backend/internal/db"
	"github.com/escrow-desk/backend/internal/events"
	"github.com/escrow-desk/backend/internal/services"
	"go.uber.org/zap"
)

// notify-bridge forwards notification intents from Redis to the bot
// connector, which holds the actual Telegram session.
func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	subscriber := events.NewRedisSubscriber(rdb, log)
	botClient := services.NewBotClient(cfg.BotInternalURL, log)

	handler := func(ev events.Event) {
		text, _ := ev.Payload["text"].(string)
		if text == "" {
			log.Warn("dropping event without text", zap.String("type", ev.Type))
			return
		}
		switch ev.Type {
		case events.EventChatMessage:
			chatID, ok := payloadInt64(ev.Payload, "chat_id")
			if !ok {
				log.Warn("dropping chat message without chat_id")
				return
			}
			if err := botClient.SendChatMessage(ctx, chatID, text); err != nil {
				log.Warn("failed to deliver chat message",
					zap.Int64("chat_id", chatID),
					zap.Error(err))
			}
		case events.EventUserMessage:
			userID, ok := payloadInt64(ev.Payload, "telegram_user_id")
			if !ok {
				log.Warn("dropping user message without telegram_user_id")
				return
			}
			if err := botClient.SendUserMessage(ctx, userID, text); err != nil {
				log.Warn("failed to deliver user message",
					zap.Int64("telegram_user_id", userID),
					zap.Error(err))
			}
		default:
			log.Debug("ignoring event", zap.String("type", ev.Type))
		}
	}

	if err := subscriber.Subscribe(ctx, events.ChannelNotify, handler); err != nil {
		log.Fatal("failed to subscribe", zap.Error(err))
	}

	log.Info("notify bridge started", zap.String("bot_url", cfg.BotInternalURL))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info("shutting down notify bridge")
	cancel()
}

// payloadInt64 reads a numeric payload field. JSON decoding leaves
// numbers as float64, so both representations are accepted.
func payloadInt64(payload map[string]any, key string) (int64, bool) {
	switch v := payload[key].(type) {
	case float64:
		return int64(v), true
	case int64:
		return v, true
	default:
		return 0, false
	}
}
