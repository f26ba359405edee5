package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/treasury-vault/backend/internal/config"
	"github.com/treasury-vault/backend/internal/events"
	"github.com/treasury-vault/backend/internal/models"
	"go.uber.org/zap"
)

// ErrInvalidTransition is returned when a requested target status is
// not an allowed edge from the vault's current status.
var ErrInvalidTransition = errors.New("invalid status transition")

const (
	actorSystem = "system"
	actorAdmin  = "admin"
)

// Engine evaluates and executes vault status transitions. It polls the
// store on a fixed tick, applies the rule set for each vault's current
// status, stamps status-entry metadata, persists with an optimistic
// status guard, publishes events and runs post-transition hooks
// (monitor start/stop, ICO scheduling).
type Engine struct {
	store     Store
	whitelist WhitelistSource
	audit     AuditSink
	publisher events.Publisher
	cfg       *config.Config
	clock     Clock
	log       *zap.Logger

	rules    map[string]Rule
	monitors *MonitorRegistry
	ico      *ICOScheduler
}

func New(store Store, whitelist WhitelistSource, audit AuditSink, publisher events.Publisher, cfg *config.Config, clock Clock, log *zap.Logger) *Engine {
	e := &Engine{
		store:     store,
		whitelist: whitelist,
		audit:     audit,
		publisher: publisher,
		cfg:       cfg,
		clock:     clock,
		log:       log,
		rules:     newRuleset(cfg),
		monitors:  NewMonitorRegistry(),
	}
	e.ico = NewICOScheduler(clock, e.icoEnded, log)
	return e
}

// Monitors exposes the registry for status queries.
func (e *Engine) Monitors() *MonitorRegistry { return e.monitors }

// ICOSchedules exposes the scheduler for status queries.
func (e *Engine) ICOSchedules() *ICOScheduler { return e.ico }

// Run ticks the engine until the context is cancelled. The first tick
// runs immediately so a restarted process recovers ICO schedules and
// active-vault monitors without waiting a full interval.
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.TickInterval)
	defer ticker.Stop()

	e.log.Info("lifecycle engine started", zap.Duration("tick_interval", e.cfg.TickInterval))
	e.Tick(ctx)

	for {
		select {
		case <-ticker.C:
			e.Tick(ctx)
		case <-ctx.Done():
			e.ico.CancelAll()
			e.log.Info("lifecycle engine stopped")
			return
		}
	}
}

// Tick runs one evaluation pass over all vaults. Each vault is loaded
// fresh, runtime state (monitors, ICO schedules) is reconciled, and at
// most one transition per vault is performed. A status conflict means
// another writer already moved the vault; that is not an error.
func (e *Engine) Tick(ctx context.Context) {
	now := e.clock.Now()
	vaults, err := e.store.ListAll(ctx)
	if err != nil {
		e.log.Error("tick: failed to list vaults", zap.Error(err))
		return
	}

	for i := range vaults {
		v := &vaults[i]
		e.reconcileRuntime(ctx, v)
		if _, err := e.evaluate(ctx, v, now); err != nil && !errors.Is(err, models.ErrStatusConflict) {
			e.log.Error("tick: transition failed",
				zap.String("vault_id", v.ID.String()),
				zap.String("status", v.Status),
				zap.Error(err),
			)
		}
	}
}

// reconcileRuntime keeps the ephemeral per-vault state in line with
// store state: monitors exist exactly for active vaults (with a fresh
// whitelist), ICO schedules exactly for vaults in ICO. This subsumes
// startup recovery and repairs schedules lost to transient failures.
func (e *Engine) reconcileRuntime(ctx context.Context, v *models.Vault) {
	switch v.Status {
	case models.VaultStatusActive:
		wl, err := e.whitelist.List(ctx, v.ID)
		if err != nil {
			e.log.Warn("failed to load whitelist, keeping previous set",
				zap.String("vault_id", v.ID.String()), zap.Error(err))
			if e.monitors.Active(v.ID) {
				return
			}
			wl = nil
		}
		e.monitors.Ensure(v, wl)
	case models.VaultStatusICO:
		start, end, err := icoWindow(v, e.cfg)
		if err != nil {
			e.log.Warn("cannot reconstruct ico schedule",
				zap.String("vault_id", v.ID.String()), zap.Error(err))
			return
		}
		e.ico.Ensure(v.ID, start, end)
	default:
		e.monitors.Stop(v.ID)
		e.ico.Cancel(v.ID)
	}
}

// icoWindow reconstructs the ICO start/end from metadata, sharing the
// end derivation with the tick-evaluated condition.
func icoWindow(v *models.Vault, cfg *config.Config) (time.Time, time.Time, error) {
	ico := v.Meta.ICO
	if ico == nil {
		return time.Time{}, time.Time{}, fmt.Errorf("vault has no ico metadata")
	}
	var start time.Time
	switch {
	case ico.StartedAt != nil:
		start = *ico.StartedAt
	case ico.ProposedAt != nil:
		start = *ico.ProposedAt
	default:
		return time.Time{}, time.Time{}, fmt.Errorf("vault has no ico start time")
	}
	return start, *icoEndAt(v, cfg), nil
}

// evaluate checks the rule set for the vault's current status and
// performs the first eligible transition. Returns whether a transition
// happened.
func (e *Engine) evaluate(ctx context.Context, v *models.Vault, now time.Time) (bool, error) {
	rule, ok := e.rules[v.Status]
	if !ok {
		// Data-integrity gap, not fatal: leave the vault untouched.
		e.log.Warn("no rule set for vault status, skipping",
			zap.String("vault_id", v.ID.String()),
			zap.String("status", v.Status),
		)
		return false, nil
	}
	if rule.Trigger != TriggerTime {
		return false, nil
	}

	for _, target := range rule.Targets {
		if !conditionsHold(target.Gates, v, now) || !conditionsHold(target.When, v, now) {
			continue
		}
		if rule.Decide != nil && rule.Decide(v, now) != target.To {
			continue
		}
		return true, e.performTransition(ctx, v, target.To, "", actorSystem, now)
	}
	return false, nil
}

// Transition is the manual entry point for administrative overrides.
// It bypasses time and threshold conditions but never the allowed-edge
// check, and it enforces the target's structural gates.
func (e *Engine) Transition(ctx context.Context, vaultID uuid.UUID, targetStatus, reason string) error {
	v, err := e.store.GetByID(ctx, vaultID)
	if err != nil {
		return fmt.Errorf("load vault: %w", err)
	}

	if !models.IsValidTransition(v.Status, targetStatus) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, v.Status, targetStatus)
	}

	now := e.clock.Now()
	if rule, ok := e.rules[v.Status]; ok {
		for _, target := range rule.Targets {
			if target.To == targetStatus && !conditionsHold(target.Gates, v, now) {
				return fmt.Errorf("vault %s is missing required fields for %s", vaultID, targetStatus)
			}
		}
	}

	return e.performTransition(ctx, v, targetStatus, reason, actorAdmin, now)
}

// performTransition runs the shared pipeline for automatic and manual
// transitions: stamp status-entry metadata, persist atomically with
// the optimistic status guard, run hooks, audit and broadcast. On a
// store failure nothing is committed and the next tick retries from
// the unchanged status.
func (e *Engine) performTransition(ctx context.Context, v *models.Vault, to, reason, actor string, now time.Time) error {
	from := v.Status
	timerStartedAt, timerEndsAt := e.stampEntryMeta(v, to, now)

	if err := e.store.UpdateStatusMeta(ctx, v.ID, from, to, v.Meta, timerStartedAt, timerEndsAt); err != nil {
		return err
	}
	v.Status = to
	if timerStartedAt != nil {
		v.TimerStartedAt = timerStartedAt
	}
	if timerEndsAt != nil {
		v.CurrentTimerEndsAt = timerEndsAt
	}

	e.runHooks(ctx, v, from, to, now)

	auditMeta := map[string]any{"old_status": from, "new_status": to}
	if reason != "" {
		auditMeta["reason"] = reason
	}
	_ = e.audit.Log(ctx, models.AuditLog{
		ActorType: actor,
		Action:    fmt.Sprintf("vault_status_%s_to_%s", from, to),
		VaultID:   &v.ID,
		Meta:      auditMeta,
	})

	_ = e.publisher.Publish(ctx, events.ChannelVault, events.Event{
		Type: events.EventVaultStatusUpdated,
		Payload: map[string]any{
			"vault_id":   v.ID.String(),
			"old_status": from,
			"status":     to,
			"timestamp":  now.UTC().Format(time.RFC3339),
			"meta":       v.Meta,
		},
	})

	e.log.Info("vault transitioned",
		zap.String("vault_id", v.ID.String()),
		zap.String("from", from),
		zap.String("to", to),
		zap.String("actor", actor),
	)
	return nil
}

// stampEntryMeta applies the status-entry metadata for the target
// status, mutating v.Meta in place. For active entry it returns the
// timer columns to persist alongside the status.
func (e *Engine) stampEntryMeta(v *models.Vault, to string, now time.Time) (timerStartedAt, timerEndsAt *time.Time) {
	switch to {
	case models.VaultStatusICO:
		if v.Meta.ICO == nil {
			v.Meta.ICO = &models.ICOMeta{}
		}
		started := now
		v.Meta.ICO.StartedAt = &started
		if v.Meta.ICO.EndTime == nil {
			// Explicit end override wins when present; else proposed + duration.
			base := now
			if v.Meta.ICO.ProposedAt != nil {
				base = *v.Meta.ICO.ProposedAt
			}
			end := base.Add(e.cfg.ICODuration)
			v.Meta.ICO.EndTime = &end
		}

	case models.VaultStatusPending:
		if v.Meta.ICO == nil {
			v.Meta.ICO = &models.ICOMeta{}
		}
		completed := now
		met := true
		v.Meta.ICO.CompletedAt = &completed
		v.Meta.ICO.ThresholdMet = &met

	case models.VaultStatusRefundRequired:
		if v.Meta.ICO == nil {
			v.Meta.ICO = &models.ICOMeta{}
		}
		completed := now
		met := false
		v.Meta.ICO.CompletedAt = &completed
		v.Meta.ICO.ThresholdMet = &met
		v.Meta.ICO.RefundNeeded = true

	case models.VaultStatusActive:
		launched := now
		v.Meta.LaunchedAt = &launched
		started := now
		ends := now.Add(time.Duration(v.TimerDuration) * time.Second)
		return &started, &ends

	case models.VaultStatusWinnerConfirmation:
		if v.Meta.Winner == nil {
			v.Meta.Winner = &models.WinnerMeta{}
		}
		expired := now
		v.Meta.Winner.TimerExpiredAt = &expired
		v.Meta.Winner.DeclaredAt = &expired
		if v.LastBuyerAddress != nil {
			v.Meta.Winner.Address = *v.LastBuyerAddress
		}

	case models.VaultStatusEndgameProcessing:
		if v.Meta.Endgame == nil {
			v.Meta.Endgame = &models.EndgameMeta{}
		}
		started := now
		v.Meta.Endgame.StartedAt = &started

	case models.VaultStatusCompleted:
		if v.Meta.Endgame == nil {
			v.Meta.Endgame = &models.EndgameMeta{}
		}
		completed := now
		v.Meta.Endgame.CompletedAt = &completed
		v.Meta.Endgame.Processed = true

	case models.VaultStatusExtinct:
		if v.Meta.Endgame == nil {
			v.Meta.Endgame = &models.EndgameMeta{}
		}
		extinct := now
		v.Meta.Endgame.ExtinctAt = &extinct
		v.Meta.Endgame.Processed = true
	}
	return nil, nil
}

// runHooks performs the side effects of entering a status.
func (e *Engine) runHooks(ctx context.Context, v *models.Vault, from, to string, now time.Time) {
	if from == models.VaultStatusICO {
		e.ico.Cancel(v.ID)
	}

	switch to {
	case models.VaultStatusICO:
		start, end, err := icoWindow(v, e.cfg)
		if err == nil {
			e.ico.Schedule(v.ID, start, end)
			_ = e.publisher.Publish(ctx, events.ChannelVault, events.Event{
				Type: events.EventICOStarted,
				Payload: map[string]any{
					"vault_id": v.ID.String(),
					"end_time": end.UTC().Format(time.RFC3339),
				},
			})
		}

	case models.VaultStatusActive:
		wl, err := e.whitelist.List(ctx, v.ID)
		if err != nil {
			e.log.Warn("failed to load whitelist at launch",
				zap.String("vault_id", v.ID.String()), zap.Error(err))
		}
		e.monitors.Ensure(v, wl)

	case models.VaultStatusWinnerConfirmation:
		e.monitors.Stop(v.ID)
		winner := ""
		if v.Meta.Winner != nil {
			winner = v.Meta.Winner.Address
		}
		_ = e.publisher.Publish(ctx, events.ChannelVault, events.Event{
			Type: events.EventTimerExpired,
			Payload: map[string]any{
				"vault_id":       v.ID.String(),
				"winner_address": winner,
			},
		})

	case models.VaultStatusEndgameProcessing:
		e.monitors.Stop(v.ID)
	}
}

// icoEnded is the ICO scheduler's fire callback. It re-reads the vault
// so the threshold check sees the latest totalVolume, then runs the
// same rule evaluation the tick would. Idempotent with the tick: if
// the vault already moved, evaluation is a no-op.
func (e *Engine) icoEnded(vaultID uuid.UUID) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	v, err := e.store.GetByID(ctx, vaultID)
	if err != nil {
		e.log.Error("ico end: failed to load vault",
			zap.String("vault_id", vaultID.String()), zap.Error(err))
		return
	}
	if v.Status != models.VaultStatusICO {
		return
	}
	if _, err := e.evaluate(ctx, v, e.clock.Now()); err != nil && !errors.Is(err, models.ErrStatusConflict) {
		e.log.Error("ico end: transition failed",
			zap.String("vault_id", vaultID.String()), zap.Error(err))
	}
}

// HandlePurchase processes one purchase-feed event for a vault the
// engine is monitoring. A purchase resets the countdown iff it is a
// net-positive delta at or above the minimum and the buyer is not
// whitelisted. The new deadline is persisted so the tick-based expiry
// check stays authoritative across restarts.
func (e *Engine) HandlePurchase(ctx context.Context, vaultID uuid.UUID, buyer string, amount float64, signature string, at time.Time) error {
	if !e.monitors.Active(vaultID) {
		e.log.Debug("purchase for vault without active monitor",
			zap.String("vault_id", vaultID.String()))
		return nil
	}
	if amount <= 0 {
		// Sells and burns never reset the timer.
		return nil
	}
	if amount < e.cfg.MinPurchaseAmount {
		e.log.Debug("purchase below minimum, ignoring",
			zap.String("vault_id", vaultID.String()),
			zap.Float64("amount", amount),
		)
		return nil
	}
	if e.monitors.IsWhitelisted(vaultID, buyer) {
		e.log.Debug("whitelisted buyer, timer unchanged",
			zap.String("vault_id", vaultID.String()),
			zap.String("buyer", buyer),
		)
		return nil
	}

	duration, ok := e.monitors.TimerDuration(vaultID)
	if !ok {
		return nil
	}

	now := e.clock.Now()
	endsAt := now.Add(duration)
	if err := e.store.ResetTimer(ctx, vaultID, endsAt, buyer, amount, at); err != nil {
		if errors.Is(err, models.ErrStatusConflict) {
			// Vault left active between the monitor check and the write.
			return nil
		}
		return fmt.Errorf("reset timer: %w", err)
	}
	e.monitors.RecordPurchase(vaultID, buyer, amount, at, endsAt)

	_ = e.publisher.Publish(ctx, events.ChannelVault, events.Event{
		Type: events.EventPurchase,
		Payload: map[string]any{
			"vault_id":      vaultID.String(),
			"buyer":         buyer,
			"amount":        amount,
			"signature":     signature,
			"timer_ends_at": endsAt.UTC().Format(time.RFC3339),
		},
	})

	e.log.Info("qualifying purchase, timer reset",
		zap.String("vault_id", vaultID.String()),
		zap.String("buyer", buyer),
		zap.Float64("amount", amount),
		zap.Time("timer_ends_at", endsAt),
	)
	return nil
}
