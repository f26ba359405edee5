package repositories

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/treasury-vault/backend/internal/models"
)

type VaultRepo struct {
	pool *pgxpool.Pool
}

func NewVaultRepo(pool *pgxpool.Pool) *VaultRepo {
	return &VaultRepo{pool: pool}
}

const vaultColumns = `
	id, name, status, start_date, endgame_date, timer_duration,
	timer_started_at, current_timer_ends_at, total_volume,
	treasury_wallet, token_mint, distribution_wallet,
	last_buyer_address, last_purchase_at, last_purchase_amount,
	meta, created_at, updated_at`

func scanVault(row pgx.Row) (*models.Vault, error) {
	var v models.Vault
	var metaBytes []byte
	err := row.Scan(&v.ID, &v.Name, &v.Status, &v.StartDate, &v.EndgameDate, &v.TimerDuration,
		&v.TimerStartedAt, &v.CurrentTimerEndsAt, &v.TotalVolume,
		&v.TreasuryWallet, &v.TokenMint, &v.DistributionWallet,
		&v.LastBuyerAddress, &v.LastPurchaseAt, &v.LastPurchaseAmount,
		&metaBytes, &v.CreatedAt, &v.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(metaBytes) > 0 {
		if err := json.Unmarshal(metaBytes, &v.Meta); err != nil {
			return nil, fmt.Errorf("decode vault meta: %w", err)
		}
	}
	return &v, nil
}

func (r *VaultRepo) Create(ctx context.Context, v *models.Vault) error {
	metaBytes, err := json.Marshal(v.Meta)
	if err != nil {
		return fmt.Errorf("encode vault meta: %w", err)
	}
	return r.pool.QueryRow(ctx, `
		INSERT INTO vaults (id, name, status, start_date, endgame_date, timer_duration,
		                    total_volume, treasury_wallet, token_mint, distribution_wallet, meta)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at, updated_at
	`, v.ID, v.Name, v.Status, v.StartDate, v.EndgameDate, v.TimerDuration,
		v.TotalVolume, v.TreasuryWallet, v.TokenMint, v.DistributionWallet, metaBytes,
	).Scan(&v.CreatedAt, &v.UpdatedAt)
}

func (r *VaultRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Vault, error) {
	row := r.pool.QueryRow(ctx, `SELECT`+vaultColumns+` FROM vaults WHERE id = $1`, id)
	return scanVault(row)
}

type VaultFilter struct {
	Status *string
	Limit  int
	Offset int
}

func (r *VaultRepo) List(ctx context.Context, f VaultFilter) ([]models.Vault, error) {
	query := `SELECT` + vaultColumns + ` FROM vaults`
	args := []any{}
	argIdx := 1

	if f.Status != nil {
		query += fmt.Sprintf(" WHERE status = $%d", argIdx)
		args = append(args, *f.Status)
		argIdx++
	}

	limit := f.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", argIdx, argIdx+1)
	args = append(args, limit, f.Offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var vaults []models.Vault
	for rows.Next() {
		v, err := scanVault(rows)
		if err != nil {
			return nil, err
		}
		vaults = append(vaults, *v)
	}
	return vaults, rows.Err()
}

// ListAll returns every vault. The engine tick loads the full set:
// no pagination at target scale (tens to low hundreds of vaults).
func (r *VaultRepo) ListAll(ctx context.Context) ([]models.Vault, error) {
	rows, err := r.pool.Query(ctx, `SELECT`+vaultColumns+` FROM vaults ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var vaults []models.Vault
	for rows.Next() {
		v, err := scanVault(rows)
		if err != nil {
			return nil, err
		}
		vaults = append(vaults, *v)
	}
	return vaults, rows.Err()
}

// UpdateStatusMeta writes the new status and the full meta document in
// one statement, guarded by the expected current status. Zero rows
// affected means another writer got there first.
func (r *VaultRepo) UpdateStatusMeta(ctx context.Context, id uuid.UUID, from, to string, meta models.VaultMeta, timerStartedAt, timerEndsAt *time.Time) error {
	metaBytes, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encode vault meta: %w", err)
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE vaults SET status = $1, meta = $2,
		       timer_started_at = COALESCE($3, timer_started_at),
		       current_timer_ends_at = COALESCE($4, current_timer_ends_at),
		       updated_at = now()
		WHERE id = $5 AND status = $6
	`, to, metaBytes, timerStartedAt, timerEndsAt, id, from)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return models.ErrStatusConflict
	}
	return nil
}

// UpdateMeta rewrites the meta document without touching the status,
// guarded by the expected status so administrative flag writes cannot
// clobber a concurrent transition.
func (r *VaultRepo) UpdateMeta(ctx context.Context, id uuid.UUID, expectedStatus string, meta models.VaultMeta) error {
	metaBytes, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encode vault meta: %w", err)
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE vaults SET meta = $1, updated_at = now()
		WHERE id = $2 AND status = $3
	`, metaBytes, id, expectedStatus)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return models.ErrStatusConflict
	}
	return nil
}

// ResetTimer records a qualifying purchase: new countdown deadline plus
// last-purchase facts. Only applies while the vault is still active.
func (r *VaultRepo) ResetTimer(ctx context.Context, id uuid.UUID, endsAt time.Time, buyer string, amount float64, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE vaults SET current_timer_ends_at = $1,
		       last_buyer_address = $2, last_purchase_amount = $3, last_purchase_at = $4,
		       updated_at = now()
		WHERE id = $5 AND status = $6
	`, endsAt, buyer, amount, at, id, models.VaultStatusActive)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return models.ErrStatusConflict
	}
	return nil
}

// RecordVolume updates the observed treasury balance. Monotonic: a
// lower reading never overwrites a higher one.
func (r *VaultRepo) RecordVolume(ctx context.Context, id uuid.UUID, totalUSD float64) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE vaults SET total_volume = GREATEST(total_volume, $1), updated_at = now()
		WHERE id = $2
	`, totalUSD, id)
	return err
}

func (r *VaultRepo) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM vaults WHERE id = $1`, id)
	return err
}
