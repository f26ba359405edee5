package models

import (
	"time"

	"github.com/google/uuid"
)

// Vault statuses
const (
	VaultStatusDraft              = "draft"
	VaultStatusPreICO             = "pre_ico"
	VaultStatusICO                = "ico"
	VaultStatusPending            = "pending"
	VaultStatusRefundRequired     = "refund_required"
	VaultStatusPrelaunch          = "prelaunch"
	VaultStatusActive             = "active"
	VaultStatusWinnerConfirmation = "winner_confirmation"
	VaultStatusEndgameProcessing  = "endgame_processing"
	VaultStatusCompleted          = "completed"
	VaultStatusExtinct            = "extinct"
)

// Valid state transitions: from -> []to.
// Order matters for branching states: the lifecycle engine evaluates
// targets in declared order and the first eligible match wins, so
// endgame_processing is listed before winner_confirmation for active
// vaults (lifespan exhaustion beats a running timer).
var ValidVaultTransitions = map[string][]string{
	VaultStatusDraft:              {VaultStatusPreICO},
	VaultStatusPreICO:             {VaultStatusICO},
	VaultStatusICO:                {VaultStatusPending, VaultStatusRefundRequired},
	VaultStatusPending:            {VaultStatusPrelaunch},
	VaultStatusRefundRequired:     {VaultStatusCompleted},
	VaultStatusPrelaunch:          {VaultStatusActive},
	VaultStatusActive:             {VaultStatusEndgameProcessing, VaultStatusWinnerConfirmation},
	VaultStatusWinnerConfirmation: {VaultStatusEndgameProcessing},
	VaultStatusEndgameProcessing:  {VaultStatusCompleted, VaultStatusExtinct},
	VaultStatusCompleted:          {VaultStatusExtinct},
	VaultStatusExtinct:            {},
}

func IsValidTransition(from, to string) bool {
	allowed, ok := ValidVaultTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition can leave the status.
func IsTerminal(status string) bool {
	allowed, ok := ValidVaultTransitions[status]
	return ok && len(allowed) == 0
}

func IsKnownStatus(status string) bool {
	_, ok := ValidVaultTransitions[status]
	return ok
}

type Vault struct {
	ID                 uuid.UUID  `json:"id"`
	Name               string     `json:"name"`
	Status             string     `json:"status"`
	StartDate          *time.Time `json:"start_date,omitempty"`
	EndgameDate        *time.Time `json:"endgame_date,omitempty"`
	TimerDuration      int        `json:"timer_duration"` // seconds
	TimerStartedAt     *time.Time `json:"timer_started_at,omitempty"`
	CurrentTimerEndsAt *time.Time `json:"current_timer_ends_at,omitempty"`
	TotalVolume        float64    `json:"total_volume"` // accumulated USD in the treasury wallet
	TreasuryWallet     string     `json:"treasury_wallet"`
	TokenMint          string     `json:"token_mint"`
	DistributionWallet string     `json:"distribution_wallet"`
	LastBuyerAddress   *string    `json:"last_buyer_address,omitempty"`
	LastPurchaseAt     *time.Time `json:"last_purchase_at,omitempty"`
	LastPurchaseAmount *float64   `json:"last_purchase_amount,omitempty"`
	Meta               VaultMeta  `json:"meta"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// VaultMeta holds stage-specific facts. One sub-struct per lifecycle
// stage; a stage's block is nil until the vault first enters it.
// Serialized as a single jsonb column and always written atomically
// with the status change it belongs to.
type VaultMeta struct {
	ICO        *ICOMeta     `json:"ico,omitempty"`
	Stage2     *Stage2Meta  `json:"stage2,omitempty"`
	Winner     *WinnerMeta  `json:"winner,omitempty"`
	Refund     *RefundMeta  `json:"refund,omitempty"`
	Endgame    *EndgameMeta `json:"endgame,omitempty"`
	LaunchedAt *time.Time   `json:"launched_at,omitempty"`
}

type ICOMeta struct {
	ProposedAt   *time.Time `json:"proposed_at,omitempty"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	EndTime      *time.Time `json:"end_time,omitempty"` // explicit override wins; else proposed_at + ICO duration
	ThresholdUSD float64    `json:"threshold_usd,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	ThresholdMet *bool      `json:"threshold_met,omitempty"`
	RefundNeeded bool       `json:"refund_required,omitempty"`
}

type Stage2Meta struct {
	Completed          bool       `json:"completed"`
	TokenAddress       string     `json:"token_address,omitempty"`
	DistributionWallet string     `json:"distribution_wallet,omitempty"`
	VaultLaunchDate    *time.Time `json:"vault_launch_date,omitempty"`
	CompletedAt        *time.Time `json:"completed_at,omitempty"`
}

type WinnerMeta struct {
	Address        string     `json:"address,omitempty"`
	DeclaredAt     *time.Time `json:"declared_at,omitempty"`
	TimerExpiredAt *time.Time `json:"timer_expired_at,omitempty"`
	ClaimedAt      *time.Time `json:"claimed_at,omitempty"`
}

type RefundMeta struct {
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
	TxSignature string     `json:"tx_signature,omitempty"`
	AmountUSD   float64    `json:"amount_usd,omitempty"`
}

type EndgameMeta struct {
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	ExtinctAt   *time.Time `json:"extinct_at,omitempty"`
	Processed   bool       `json:"processed"`
}

type WhitelistedAddress struct {
	VaultID uuid.UUID `json:"vault_id"`
	Address string    `json:"address"`
	AddedAt time.Time `json:"added_at"`
}
