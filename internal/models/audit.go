package models

import (
	"time"

	"github.com/google/uuid"
)

type AuditLog struct {
	ID              uuid.UUID `json:"id"`
	ActorTelegramID *int64    `json:"actor_telegram_id,omitempty"`
	ActorType       string    `json:"actor_type"` // user/admin/system
	Action          string    `json:"action"`
	DealID          *string   `json:"deal_id,omitempty"`
	Meta            any       `json:"meta,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}
