package dto

import "time"

type LoginRequest struct {
	APIKey string `json:"api_key"`
}

type CreateVaultRequest struct {
	Name               string     `json:"name"`
	Status             string     `json:"status,omitempty"` // draft (default) or pre_ico
	TreasuryWallet     string     `json:"treasury_wallet"`
	TokenMint          string     `json:"token_mint,omitempty"`
	DistributionWallet string     `json:"distribution_wallet,omitempty"`
	TimerDuration      int        `json:"timer_duration"` // seconds
	StartDate          *time.Time `json:"start_date,omitempty"`
	EndgameDate        *time.Time `json:"endgame_date,omitempty"`
	ICOStartTime       *time.Time `json:"ico_start_time,omitempty"`
	ICOEndTime         *time.Time `json:"ico_end_time,omitempty"` // overrides start + default duration
	ICOThresholdUSD    float64    `json:"ico_threshold_usd,omitempty"`
}

type TransitionRequest struct {
	Status string `json:"target_status"`
	Reason string `json:"reason,omitempty"`
}

type RecordVolumeRequest struct {
	TotalVolumeUSD float64 `json:"total_volume_usd"`
}

type ClaimWinnerRequest struct {
	Address string `json:"address,omitempty"`
}

type CompleteStage2Request struct {
	TokenAddress       string     `json:"token_address"`
	DistributionWallet string     `json:"distribution_wallet,omitempty"`
	VaultLaunchDate    *time.Time `json:"vault_launch_date,omitempty"`
}

type RefundProcessedRequest struct {
	TxSignature string  `json:"tx_signature"`
	AmountUSD   float64 `json:"amount_usd,omitempty"`
}

type WhitelistAddressRequest struct {
	Address string `json:"address"`
}
