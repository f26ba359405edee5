package lifecycle

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/treasury-vault/backend/internal/models"
)

// Store is the vault record store the engine runs against. It is the
// single source of truth: the engine re-reads fresh state every tick
// and never caches vaults across ticks. Implemented by
// repositories.VaultRepo in production and by an in-memory store in
// tests.
type Store interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Vault, error)
	ListAll(ctx context.Context) ([]models.Vault, error)
	// UpdateStatusMeta persists a transition atomically, guarded by the
	// expected current status. Returns models.ErrStatusConflict when the
	// vault already moved.
	UpdateStatusMeta(ctx context.Context, id uuid.UUID, from, to string, meta models.VaultMeta, timerStartedAt, timerEndsAt *time.Time) error
	// ResetTimer records a qualifying purchase while the vault is active.
	ResetTimer(ctx context.Context, id uuid.UUID, endsAt time.Time, buyer string, amount float64, at time.Time) error
}

// WhitelistSource lists the addresses excluded from timer resets.
type WhitelistSource interface {
	List(ctx context.Context, vaultID uuid.UUID) ([]string, error)
}

// AuditSink records transition history.
type AuditSink interface {
	Log(ctx context.Context, entry models.AuditLog) error
}
