package lifecycle

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/treasury-vault/backend/internal/models"
)

// vaultMonitor is the ephemeral runtime state of one active vault:
// countdown deadline, last qualifying purchase and the whitelist set.
// The durable countdown lives in the store (current_timer_ends_at);
// the monitor mirrors it for purchase qualification and display.
type vaultMonitor struct {
	vaultID            uuid.UUID
	tokenMint          string
	timerDuration      time.Duration
	deadline           time.Time
	lastPurchaseTime   *time.Time
	lastBuyerAddress   string
	lastPurchaseAmount float64
	whitelist          map[string]struct{}
}

// MonitorSnapshot is a read-only copy for status queries.
type MonitorSnapshot struct {
	VaultID            uuid.UUID  `json:"vault_id"`
	TokenMint          string     `json:"token_mint"`
	TimerDuration      int        `json:"timer_duration"`
	TimeLeft           int        `json:"time_left"`
	IsActive           bool       `json:"is_active"`
	LastPurchaseTime   *time.Time `json:"last_purchase_time,omitempty"`
	LastBuyerAddress   string     `json:"last_buyer_address,omitempty"`
	LastPurchaseAmount float64    `json:"last_purchase_amount,omitempty"`
}

// MonitorRegistry owns all vault monitors. It is created per engine
// instance so separate engines (and tests) never share state.
type MonitorRegistry struct {
	mu       sync.RWMutex
	monitors map[uuid.UUID]*vaultMonitor
}

func NewMonitorRegistry() *MonitorRegistry {
	return &MonitorRegistry{monitors: make(map[uuid.UUID]*vaultMonitor)}
}

// Ensure creates the monitor for an active vault if missing and
// refreshes its whitelist and deadline from store state. Called on
// every engine tick, which also serves as restart recovery.
func (r *MonitorRegistry) Ensure(v *models.Vault, whitelist []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.monitors[v.ID]
	if !ok {
		m = &vaultMonitor{
			vaultID:       v.ID,
			tokenMint:     v.TokenMint,
			timerDuration: time.Duration(v.TimerDuration) * time.Second,
		}
		if v.LastBuyerAddress != nil {
			m.lastBuyerAddress = *v.LastBuyerAddress
		}
		if v.LastPurchaseAt != nil {
			t := *v.LastPurchaseAt
			m.lastPurchaseTime = &t
		}
		if v.LastPurchaseAmount != nil {
			m.lastPurchaseAmount = *v.LastPurchaseAmount
		}
		r.monitors[v.ID] = m
	}

	if v.CurrentTimerEndsAt != nil {
		m.deadline = *v.CurrentTimerEndsAt
	}
	m.whitelist = make(map[string]struct{}, len(whitelist))
	for _, a := range whitelist {
		m.whitelist[a] = struct{}{}
	}
}

func (r *MonitorRegistry) Stop(vaultID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.monitors, vaultID)
}

func (r *MonitorRegistry) Active(vaultID uuid.UUID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.monitors[vaultID]
	return ok
}

func (r *MonitorRegistry) IsWhitelisted(vaultID uuid.UUID, address string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.monitors[vaultID]
	if !ok {
		return false
	}
	_, listed := m.whitelist[address]
	return listed
}

func (r *MonitorRegistry) TimerDuration(vaultID uuid.UUID) (time.Duration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.monitors[vaultID]
	if !ok {
		return 0, false
	}
	return m.timerDuration, true
}

func (r *MonitorRegistry) RecordPurchase(vaultID uuid.UUID, buyer string, amount float64, at, deadline time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.monitors[vaultID]
	if !ok {
		return
	}
	m.deadline = deadline
	m.lastBuyerAddress = buyer
	m.lastPurchaseAmount = amount
	t := at
	m.lastPurchaseTime = &t
}

func (r *MonitorRegistry) Snapshot(vaultID uuid.UUID, now time.Time) (MonitorSnapshot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.monitors[vaultID]
	if !ok {
		return MonitorSnapshot{}, false
	}
	left := m.deadline.Sub(now)
	if left < 0 {
		left = 0
	}
	return MonitorSnapshot{
		VaultID:            m.vaultID,
		TokenMint:          m.tokenMint,
		TimerDuration:      int(m.timerDuration / time.Second),
		TimeLeft:           int(left / time.Second),
		IsActive:           true,
		LastPurchaseTime:   m.lastPurchaseTime,
		LastBuyerAddress:   m.lastBuyerAddress,
		LastPurchaseAmount: m.lastPurchaseAmount,
	}, true
}

func (r *MonitorRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.monitors)
}
