package events

import "context"

// Channels
const (
	ChannelDeal   = "events:deal"   // status changes, consumed by the admin websocket hub
	ChannelNotify = "events:notify" // notification intents, consumed by the notify bridge
)

// Event types
const (
	EventDealStatusChanged = "deal_status_changed"
	EventChatMessage       = "chat_message" // payload: chat_id, text
	EventUserMessage       = "user_message" // payload: telegram_user_id, text
)

type Event struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload"`
}

type Publisher interface {
	Publish(ctx context.Context, channel string, event Event) error
}

type Subscriber interface {
	Subscribe(ctx context.Context, channel string, handler func(Event)) error
}

// ChatMessage builds a notification intent addressed to a group chat.
func ChatMessage(chatID int64, text string) Event {
	return Event{
		Type:    EventChatMessage,
		Payload: map[string]any{"chat_id": chatID, "text": text},
	}
}

// UserMessage builds a notification intent addressed to a single user,
// typically the admin.
func UserMessage(telegramUserID int64, text string) Event {
	return Event{
		Type:    EventUserMessage,
		Payload: map[string]any{"telegram_user_id": telegramUserID, "text": text},
	}
}
