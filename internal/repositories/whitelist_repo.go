package repositories

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/treasury-vault/backend/internal/models"
)

type WhitelistRepo struct {
	pool *pgxpool.Pool
}

func NewWhitelistRepo(pool *pgxpool.Pool) *WhitelistRepo {
	return &WhitelistRepo{pool: pool}
}

func (r *WhitelistRepo) Add(ctx context.Context, vaultID uuid.UUID, address string) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO vault_whitelist (vault_id, address)
		VALUES ($1, $2)
		ON CONFLICT (vault_id, address) DO NOTHING
	`, vaultID, address)
	return err
}

func (r *WhitelistRepo) Remove(ctx context.Context, vaultID uuid.UUID, address string) error {
	_, err := r.pool.Exec(ctx, `
		DELETE FROM vault_whitelist WHERE vault_id = $1 AND address = $2
	`, vaultID, address)
	return err
}

func (r *WhitelistRepo) List(ctx context.Context, vaultID uuid.UUID) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT address FROM vault_whitelist WHERE vault_id = $1 ORDER BY added_at
	`, vaultID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var addrs []string
	for rows.Next() {
		var a string
		if err := rows.Scan(&a); err != nil {
			return nil, err
		}
		addrs = append(addrs, a)
	}
	return addrs, rows.Err()
}

func (r *WhitelistRepo) ListEntries(ctx context.Context, vaultID uuid.UUID) ([]models.WhitelistedAddress, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT vault_id, address, added_at FROM vault_whitelist WHERE vault_id = $1 ORDER BY added_at
	`, vaultID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []models.WhitelistedAddress
	for rows.Next() {
		var e models.WhitelistedAddress
		if err := rows.Scan(&e.VaultID, &e.Address, &e.AddedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
