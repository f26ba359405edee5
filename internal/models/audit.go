package models

import (
	"time"

	"github.com/google/uuid"
)

type AuditLog struct {
	ID        uuid.UUID  `json:"id"`
	ActorType string     `json:"actor_type"` // admin/system
	Action    string     `json:"action"`
	VaultID   *uuid.UUID `json:"vault_id,omitempty"`
	Meta      any        `json:"meta,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}
