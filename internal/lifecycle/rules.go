package lifecycle

import (
	"time"

	"github.com/treasury-vault/backend/internal/config"
	"github.com/treasury-vault/backend/internal/models"
)

// Trigger kinds
const (
	TriggerTime   = "time"   // evaluated every engine tick against the wall clock
	TriggerManual = "manual" // only via an explicit administrative transition
)

// Condition evaluates one named transition requirement against the
// vault and the current time.
type Condition func(v *models.Vault, now time.Time) bool

// Target is one candidate destination. When holds the tick-evaluated
// conditions; Gates hold data-presence requirements that are enforced
// on every path, including manual overrides.
type Target struct {
	To    string
	When  []Condition
	Gates []Condition
}

// Rule declares how a status leaves itself. Targets are evaluated in
// declared order and the first eligible match wins. Decide, when set,
// picks between the possible destinations of a branching state; it is
// consulted last and can veto a target whose conditions held.
type Rule struct {
	Trigger string
	Targets []Target
	Decide  func(v *models.Vault, now time.Time) string
}

func conditionsHold(conds []Condition, v *models.Vault, now time.Time) bool {
	for _, c := range conds {
		if !c(v, now) {
			return false
		}
	}
	return true
}

// thresholdUSD is the ICO success bar: the vault's own threshold when
// declared, else the platform default.
func thresholdUSD(v *models.Vault, cfg *config.Config) float64 {
	if v.Meta.ICO != nil && v.Meta.ICO.ThresholdUSD > 0 {
		return v.Meta.ICO.ThresholdUSD
	}
	return cfg.ICOThresholdUSD
}

// launchDate is the intended activation time: stage2 override wins,
// else the vault's own start date.
func launchDate(v *models.Vault) *time.Time {
	if v.Meta.Stage2 != nil && v.Meta.Stage2.VaultLaunchDate != nil {
		return v.Meta.Stage2.VaultLaunchDate
	}
	return v.StartDate
}

// icoEndAt derives when the ICO closes: an explicit end override wins,
// else the ICO start plus the configured duration. Nil when the
// metadata carries neither an end nor a start.
func icoEndAt(v *models.Vault, cfg *config.Config) *time.Time {
	ico := v.Meta.ICO
	if ico == nil {
		return nil
	}
	if ico.EndTime != nil {
		return ico.EndTime
	}
	start := ico.StartedAt
	if start == nil {
		start = ico.ProposedAt
	}
	if start == nil {
		return nil
	}
	end := start.Add(cfg.ICODuration)
	return &end
}

func newRuleset(cfg *config.Config) map[string]Rule {
	hasBasicInfo := func(v *models.Vault, _ time.Time) bool {
		return v.Name != "" && v.TreasuryWallet != ""
	}
	hasTokenMint := func(v *models.Vault, _ time.Time) bool {
		return v.TokenMint != ""
	}
	icoStartTimeReached := func(v *models.Vault, now time.Time) bool {
		return v.Meta.ICO != nil && v.Meta.ICO.ProposedAt != nil && !now.Before(*v.Meta.ICO.ProposedAt)
	}
	icoEndTimeReached := func(v *models.Vault, now time.Time) bool {
		end := icoEndAt(v, cfg)
		return end != nil && !now.Before(*end)
	}
	stage2Completed := func(v *models.Vault, _ time.Time) bool {
		return v.Meta.Stage2 != nil && v.Meta.Stage2.Completed
	}
	vaultLaunchDateReached := func(v *models.Vault, now time.Time) bool {
		d := launchDate(v)
		return d != nil && !now.Before(*d)
	}
	timerExpired := func(v *models.Vault, now time.Time) bool {
		return v.CurrentTimerEndsAt != nil && !now.Before(*v.CurrentTimerEndsAt)
	}
	endgameDateReached := func(v *models.Vault, now time.Time) bool {
		return v.EndgameDate != nil && !now.Before(*v.EndgameDate)
	}
	winnerClaimPeriodExpired := func(v *models.Vault, now time.Time) bool {
		w := v.Meta.Winner
		return w != nil && w.DeclaredAt != nil && !now.Before(w.DeclaredAt.Add(cfg.ClaimPeriod))
	}
	endgameProcessed := func(v *models.Vault, _ time.Time) bool {
		return v.Meta.Endgame != nil && v.Meta.Endgame.Processed
	}
	refundsProcessed := func(v *models.Vault, _ time.Time) bool {
		return v.Meta.Refund != nil && v.Meta.Refund.ProcessedAt != nil
	}
	cleanupPeriodExpired := func(v *models.Vault, now time.Time) bool {
		e := v.Meta.Endgame
		return e != nil && e.CompletedAt != nil && !now.Before(e.CompletedAt.Add(cfg.CleanupPeriod))
	}

	icoOutcome := func(v *models.Vault, _ time.Time) string {
		if v.TotalVolume >= thresholdUSD(v, cfg) {
			return models.VaultStatusPending
		}
		return models.VaultStatusRefundRequired
	}
	activeOutcome := func(v *models.Vault, now time.Time) string {
		// Lifespan exhaustion ends the vault regardless of timer state.
		if endgameDateReached(v, now) {
			return models.VaultStatusEndgameProcessing
		}
		if timerExpired(v, now) {
			return models.VaultStatusWinnerConfirmation
		}
		return ""
	}
	endgameOutcome := func(v *models.Vault, _ time.Time) string {
		w := v.Meta.Winner
		if w != nil && w.Address != "" && w.ClaimedAt != nil {
			return models.VaultStatusCompleted
		}
		return models.VaultStatusExtinct
	}

	return map[string]Rule{
		models.VaultStatusDraft: {
			Trigger: TriggerManual,
			Targets: []Target{
				{To: models.VaultStatusPreICO, Gates: []Condition{hasBasicInfo, hasTokenMint}},
			},
		},
		models.VaultStatusPreICO: {
			Trigger: TriggerTime,
			Targets: []Target{
				{To: models.VaultStatusICO, When: []Condition{icoStartTimeReached}},
			},
		},
		models.VaultStatusICO: {
			Trigger: TriggerTime,
			Targets: []Target{
				{To: models.VaultStatusPending, When: []Condition{icoEndTimeReached}},
				{To: models.VaultStatusRefundRequired, When: []Condition{icoEndTimeReached}},
			},
			Decide: icoOutcome,
		},
		models.VaultStatusPending: {
			Trigger: TriggerTime,
			Targets: []Target{
				{To: models.VaultStatusPrelaunch, When: []Condition{stage2Completed}},
			},
		},
		models.VaultStatusRefundRequired: {
			Trigger: TriggerTime,
			Targets: []Target{
				{To: models.VaultStatusCompleted, When: []Condition{refundsProcessed}},
			},
		},
		models.VaultStatusPrelaunch: {
			Trigger: TriggerTime,
			Targets: []Target{
				{To: models.VaultStatusActive, When: []Condition{vaultLaunchDateReached}},
			},
		},
		models.VaultStatusActive: {
			Trigger: TriggerTime,
			Targets: []Target{
				// endgame first: takes precedence over a running timer
				{To: models.VaultStatusEndgameProcessing, When: []Condition{endgameDateReached}},
				{To: models.VaultStatusWinnerConfirmation, When: []Condition{timerExpired}},
			},
			Decide: activeOutcome,
		},
		models.VaultStatusWinnerConfirmation: {
			Trigger: TriggerTime,
			Targets: []Target{
				{To: models.VaultStatusEndgameProcessing, When: []Condition{winnerClaimPeriodExpired}},
			},
		},
		models.VaultStatusEndgameProcessing: {
			Trigger: TriggerTime,
			Targets: []Target{
				{To: models.VaultStatusCompleted, When: []Condition{endgameProcessed}},
				{To: models.VaultStatusExtinct, When: []Condition{endgameProcessed}},
			},
			Decide: endgameOutcome,
		},
		models.VaultStatusCompleted: {
			Trigger: TriggerTime,
			Targets: []Target{
				{To: models.VaultStatusExtinct, When: []Condition{cleanupPeriodExpired}},
			},
		},
		models.VaultStatusExtinct: {
			Trigger: TriggerTime,
		},
	}
}
