package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/treasury-vault/backend/internal/config"
	"github.com/treasury-vault/backend/internal/lifecycle"
	"github.com/treasury-vault/backend/internal/models"
	"github.com/treasury-vault/backend/internal/repositories"
	"go.uber.org/zap"
)

var ErrVaultNotFound = errors.New("vault not found")

type VaultService struct {
	vaultRepo     *repositories.VaultRepo
	whitelistRepo *repositories.WhitelistRepo
	auditRepo     *repositories.AuditRepo
	engine        *lifecycle.Engine
	cfg           *config.Config
	log           *zap.Logger
}

func NewVaultService(
	vaultRepo *repositories.VaultRepo,
	whitelistRepo *repositories.WhitelistRepo,
	auditRepo *repositories.AuditRepo,
	engine *lifecycle.Engine,
	cfg *config.Config,
	log *zap.Logger,
) *VaultService {
	return &VaultService{
		vaultRepo:     vaultRepo,
		whitelistRepo: whitelistRepo,
		auditRepo:     auditRepo,
		engine:        engine,
		cfg:           cfg,
		log:           log,
	}
}

type CreateVaultInput struct {
	Name               string
	Status             string
	TreasuryWallet     string
	TokenMint          string
	DistributionWallet string
	TimerDuration      int
	StartDate          *time.Time
	EndgameDate        *time.Time
	ICOStartTime       *time.Time
	ICOEndTime         *time.Time
	ICOThresholdUSD    float64
}

func (s *VaultService) Create(ctx context.Context, input CreateVaultInput) (*models.Vault, error) {
	if input.Name == "" {
		return nil, fmt.Errorf("name is required")
	}
	if input.TreasuryWallet == "" {
		return nil, fmt.Errorf("treasury_wallet is required")
	}
	if input.TimerDuration <= 0 {
		return nil, fmt.Errorf("timer_duration must be positive")
	}

	status := input.Status
	if status == "" {
		status = models.VaultStatusDraft
	}
	if status != models.VaultStatusDraft && status != models.VaultStatusPreICO {
		return nil, fmt.Errorf("a new vault starts in %s or %s, got %q",
			models.VaultStatusDraft, models.VaultStatusPreICO, status)
	}
	if status == models.VaultStatusPreICO && input.TokenMint == "" {
		return nil, fmt.Errorf("token_mint is required to start in %s", models.VaultStatusPreICO)
	}

	proposedAt := input.ICOStartTime
	if proposedAt == nil {
		now := time.Now().UTC()
		proposedAt = &now
	}

	v := &models.Vault{
		ID:                 uuid.New(),
		Name:               input.Name,
		Status:             status,
		StartDate:          input.StartDate,
		EndgameDate:        input.EndgameDate,
		TimerDuration:      input.TimerDuration,
		TreasuryWallet:     input.TreasuryWallet,
		TokenMint:          input.TokenMint,
		DistributionWallet: input.DistributionWallet,
		Meta: models.VaultMeta{
			ICO: &models.ICOMeta{
				ProposedAt:   proposedAt,
				EndTime:      input.ICOEndTime,
				ThresholdUSD: input.ICOThresholdUSD,
			},
		},
	}

	if err := s.vaultRepo.Create(ctx, v); err != nil {
		return nil, fmt.Errorf("create vault: %w", err)
	}

	_ = s.auditRepo.Log(ctx, models.AuditLog{
		ActorType: "admin",
		Action:    "vault_created",
		VaultID:   &v.ID,
		Meta:      map[string]any{"name": v.Name, "status": v.Status},
	})

	s.log.Info("vault created",
		zap.String("vault_id", v.ID.String()),
		zap.String("name", v.Name),
		zap.String("status", v.Status),
	)
	return v, nil
}

func (s *VaultService) Get(ctx context.Context, id uuid.UUID) (*models.Vault, error) {
	v, err := s.vaultRepo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrVaultNotFound
		}
		return nil, err
	}
	return v, nil
}

func (s *VaultService) List(ctx context.Context, status *string, limit, offset int) ([]models.Vault, error) {
	if status != nil && !models.IsKnownStatus(*status) {
		return nil, fmt.Errorf("unknown status %q", *status)
	}
	return s.vaultRepo.List(ctx, repositories.VaultFilter{Status: status, Limit: limit, Offset: offset})
}

// Delete removes a vault that never ran or already finished. Anything
// in between must be driven through the lifecycle instead.
func (s *VaultService) Delete(ctx context.Context, id uuid.UUID) error {
	v, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	switch v.Status {
	case models.VaultStatusDraft, models.VaultStatusCompleted, models.VaultStatusExtinct:
	default:
		return fmt.Errorf("cannot delete vault in status %s", v.Status)
	}

	if err := s.vaultRepo.Delete(ctx, id); err != nil {
		return err
	}
	_ = s.auditRepo.Log(ctx, models.AuditLog{
		ActorType: "admin",
		Action:    "vault_deleted",
		VaultID:   &id,
		Meta:      map[string]any{"name": v.Name, "status": v.Status},
	})
	return nil
}

// Transition forwards an administrative status override to the engine,
// which enforces the allowed-edge check and structural gates.
func (s *VaultService) Transition(ctx context.Context, id uuid.UUID, targetStatus, reason string) (*models.Vault, error) {
	if !models.IsKnownStatus(targetStatus) {
		return nil, fmt.Errorf("unknown status %q", targetStatus)
	}
	if err := s.engine.Transition(ctx, id, targetStatus, reason); err != nil {
		return nil, err
	}
	return s.Get(ctx, id)
}

// RecordVolume ingests an updated treasury balance reading. The repo
// keeps the column monotonic so stale readings cannot lower it.
func (s *VaultService) RecordVolume(ctx context.Context, id uuid.UUID, totalUSD float64) (*models.Vault, error) {
	if totalUSD < 0 {
		return nil, fmt.Errorf("total_volume_usd cannot be negative")
	}
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	if err := s.vaultRepo.RecordVolume(ctx, id, totalUSD); err != nil {
		return nil, err
	}
	return s.Get(ctx, id)
}

// ClaimWinner records that the declared winner presented themselves
// within the claim window.
func (s *VaultService) ClaimWinner(ctx context.Context, id uuid.UUID, address string) (*models.Vault, error) {
	v, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if v.Status != models.VaultStatusWinnerConfirmation {
		return nil, fmt.Errorf("vault is in %s, winner can only claim during %s",
			v.Status, models.VaultStatusWinnerConfirmation)
	}
	if v.Meta.Winner == nil || v.Meta.Winner.Address == "" {
		return nil, fmt.Errorf("vault has no declared winner")
	}
	if address != "" && address != v.Meta.Winner.Address {
		return nil, fmt.Errorf("address does not match the declared winner")
	}
	if v.Meta.Winner.ClaimedAt != nil {
		return v, nil // already claimed, idempotent
	}

	now := time.Now().UTC()
	v.Meta.Winner.ClaimedAt = &now
	if err := s.vaultRepo.UpdateMeta(ctx, id, v.Status, v.Meta); err != nil {
		return nil, err
	}

	_ = s.auditRepo.Log(ctx, models.AuditLog{
		ActorType: "admin",
		Action:    "winner_claimed",
		VaultID:   &id,
		Meta:      map[string]any{"address": v.Meta.Winner.Address},
	})
	return v, nil
}

type Stage2Input struct {
	TokenAddress       string
	DistributionWallet string
	VaultLaunchDate    *time.Time
}

// CompleteStage2 records token setup for a vault whose ICO succeeded.
// The engine picks the flag up on its next tick and moves the vault to
// prelaunch.
func (s *VaultService) CompleteStage2(ctx context.Context, id uuid.UUID, input Stage2Input) (*models.Vault, error) {
	v, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if v.Status != models.VaultStatusPending {
		return nil, fmt.Errorf("vault is in %s, stage2 completion requires %s",
			v.Status, models.VaultStatusPending)
	}

	now := time.Now().UTC()
	v.Meta.Stage2 = &models.Stage2Meta{
		Completed:          true,
		TokenAddress:       input.TokenAddress,
		DistributionWallet: input.DistributionWallet,
		VaultLaunchDate:    input.VaultLaunchDate,
		CompletedAt:        &now,
	}
	if err := s.vaultRepo.UpdateMeta(ctx, id, v.Status, v.Meta); err != nil {
		return nil, err
	}

	_ = s.auditRepo.Log(ctx, models.AuditLog{
		ActorType: "admin",
		Action:    "stage2_completed",
		VaultID:   &id,
		Meta:      map[string]any{"token_address": input.TokenAddress},
	})
	return v, nil
}

// MarkEndgameProcessed records that the off-platform fund distribution
// finished; the engine then resolves the vault to completed or extinct.
func (s *VaultService) MarkEndgameProcessed(ctx context.Context, id uuid.UUID) (*models.Vault, error) {
	v, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if v.Status != models.VaultStatusEndgameProcessing {
		return nil, fmt.Errorf("vault is in %s, endgame processing requires %s",
			v.Status, models.VaultStatusEndgameProcessing)
	}

	if v.Meta.Endgame == nil {
		v.Meta.Endgame = &models.EndgameMeta{}
	}
	v.Meta.Endgame.Processed = true
	if err := s.vaultRepo.UpdateMeta(ctx, id, v.Status, v.Meta); err != nil {
		return nil, err
	}

	_ = s.auditRepo.Log(ctx, models.AuditLog{
		ActorType: "admin",
		Action:    "endgame_processed",
		VaultID:   &id,
	})
	return v, nil
}

// MarkRefundProcessed records that ICO contributions were returned; the
// engine then closes the vault.
func (s *VaultService) MarkRefundProcessed(ctx context.Context, id uuid.UUID, txSignature string, amountUSD float64) (*models.Vault, error) {
	v, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if v.Status != models.VaultStatusRefundRequired {
		return nil, fmt.Errorf("vault is in %s, refund processing requires %s",
			v.Status, models.VaultStatusRefundRequired)
	}

	now := time.Now().UTC()
	v.Meta.Refund = &models.RefundMeta{
		ProcessedAt: &now,
		TxSignature: txSignature,
		AmountUSD:   amountUSD,
	}
	if err := s.vaultRepo.UpdateMeta(ctx, id, v.Status, v.Meta); err != nil {
		return nil, err
	}

	_ = s.auditRepo.Log(ctx, models.AuditLog{
		ActorType: "admin",
		Action:    "refund_processed",
		VaultID:   &id,
		Meta:      map[string]any{"tx_signature": txSignature, "amount_usd": amountUSD},
	})
	return v, nil
}

func (s *VaultService) AddWhitelistAddress(ctx context.Context, id uuid.UUID, address string) error {
	if address == "" {
		return fmt.Errorf("address is required")
	}
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	if err := s.whitelistRepo.Add(ctx, id, address); err != nil {
		return err
	}
	_ = s.auditRepo.Log(ctx, models.AuditLog{
		ActorType: "admin",
		Action:    "whitelist_address_added",
		VaultID:   &id,
		Meta:      map[string]any{"address": address},
	})
	return nil
}

func (s *VaultService) RemoveWhitelistAddress(ctx context.Context, id uuid.UUID, address string) error {
	if err := s.whitelistRepo.Remove(ctx, id, address); err != nil {
		return err
	}
	_ = s.auditRepo.Log(ctx, models.AuditLog{
		ActorType: "admin",
		Action:    "whitelist_address_removed",
		VaultID:   &id,
		Meta:      map[string]any{"address": address},
	})
	return nil
}

func (s *VaultService) ListWhitelist(ctx context.Context, id uuid.UUID) ([]models.WhitelistedAddress, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.whitelistRepo.ListEntries(ctx, id)
}

// ICOStatus describes the sale window of a vault, derived from its
// metadata so any process can answer without engine state.
type ICOStatus struct {
	VaultID      uuid.UUID  `json:"vault_id"`
	Status       string     `json:"status"`
	StartTime    *time.Time `json:"start_time,omitempty"`
	EndTime      *time.Time `json:"end_time,omitempty"`
	ThresholdUSD float64    `json:"threshold_usd"`
	TotalVolume  float64    `json:"total_volume"`
	TimeLeft     int        `json:"time_left_seconds"`
	Progress     float64    `json:"progress"`
	ThresholdMet *bool      `json:"threshold_met,omitempty"`
}

func (s *VaultService) GetICOStatus(ctx context.Context, id uuid.UUID) (*ICOStatus, error) {
	v, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	ico := v.Meta.ICO
	if ico == nil {
		return nil, fmt.Errorf("vault has no ico metadata")
	}

	status := &ICOStatus{
		VaultID:      v.ID,
		Status:       v.Status,
		ThresholdUSD: ico.ThresholdUSD,
		TotalVolume:  v.TotalVolume,
		ThresholdMet: ico.ThresholdMet,
	}
	if status.ThresholdUSD == 0 {
		status.ThresholdUSD = s.cfg.ICOThresholdUSD
	}

	start := ico.StartedAt
	if start == nil {
		start = ico.ProposedAt
	}
	status.StartTime = start

	end := ico.EndTime
	if end == nil && start != nil {
		e := start.Add(s.cfg.ICODuration)
		end = &e
	}
	status.EndTime = end

	if v.Status == models.VaultStatusICO && start != nil && end != nil {
		now := time.Now().UTC()
		left := end.Sub(now)
		if left < 0 {
			left = 0
		}
		status.TimeLeft = int(left / time.Second)
		total := end.Sub(*start)
		if total > 0 {
			p := float64(now.Sub(*start)) / float64(total) * 100
			if p < 0 {
				p = 0
			}
			if p > 100 {
				p = 100
			}
			status.Progress = p
		}
	}
	return status, nil
}

// TimerStatus is the countdown view of an active vault.
type TimerStatus struct {
	VaultID            uuid.UUID  `json:"vault_id"`
	Status             string     `json:"status"`
	TimerDuration      int        `json:"timer_duration"`
	TimeLeft           int        `json:"time_left_seconds"`
	TimerEndsAt        *time.Time `json:"timer_ends_at,omitempty"`
	LastBuyerAddress   *string    `json:"last_buyer_address,omitempty"`
	LastPurchaseAt     *time.Time `json:"last_purchase_at,omitempty"`
	LastPurchaseAmount *float64   `json:"last_purchase_amount,omitempty"`
}

func (s *VaultService) GetTimerStatus(ctx context.Context, id uuid.UUID) (*TimerStatus, error) {
	v, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	ts := &TimerStatus{
		VaultID:            v.ID,
		Status:             v.Status,
		TimerDuration:      v.TimerDuration,
		TimerEndsAt:        v.CurrentTimerEndsAt,
		LastBuyerAddress:   v.LastBuyerAddress,
		LastPurchaseAt:     v.LastPurchaseAt,
		LastPurchaseAmount: v.LastPurchaseAmount,
	}
	if v.Status == models.VaultStatusActive && v.CurrentTimerEndsAt != nil {
		left := time.Until(*v.CurrentTimerEndsAt)
		if left < 0 {
			left = 0
		}
		ts.TimeLeft = int(left / time.Second)
	}
	return ts, nil
}

func (s *VaultService) GetEvents(ctx context.Context, id uuid.UUID, limit, offset int) ([]models.AuditLog, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.auditRepo.GetByVault(ctx, id, limit, offset)
}
