package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/treasury-vault/backend/internal/config"
	"github.com/treasury-vault/backend/internal/events"
	"github.com/treasury-vault/backend/internal/models"
	"go.uber.org/zap"
)

// --- test doubles ---

type fakeTimer struct {
	clock   *fakeClock
	due     time.Time
	f       func()
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	was := !t.stopped
	t.stopped = true
	return was
}

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

func newFakeClock(start time.Time) *fakeClock {
	return &fakeClock{now: start}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, due: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

// Advance moves the clock and fires due timers outside the lock, like
// time.AfterFunc would on its own goroutine.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		var due *fakeTimer
		rest := c.timers[:0]
		for _, t := range c.timers {
			if due == nil && !t.stopped && !t.due.After(c.now) {
				t.stopped = true
				due = t
				continue
			}
			rest = append(rest, t)
		}
		c.timers = rest
		c.mu.Unlock()

		if due == nil {
			return
		}
		due.f()
	}
}

type memStore struct {
	mu         sync.Mutex
	vaults     map[uuid.UUID]*models.Vault
	failWrites bool
}

func newMemStore() *memStore {
	return &memStore{vaults: make(map[uuid.UUID]*models.Vault)}
}

func (s *memStore) put(v *models.Vault) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *v
	s.vaults[v.ID] = &cp
}

func (s *memStore) GetByID(_ context.Context, id uuid.UUID) (*models.Vault, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.vaults[id]
	if !ok {
		return nil, fmt.Errorf("vault %s not found", id)
	}
	cp := *v
	return &cp, nil
}

func (s *memStore) ListAll(_ context.Context) ([]models.Vault, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Vault, 0, len(s.vaults))
	for _, v := range s.vaults {
		out = append(out, *v)
	}
	return out, nil
}

func (s *memStore) UpdateStatusMeta(_ context.Context, id uuid.UUID, from, to string, meta models.VaultMeta, timerStartedAt, timerEndsAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWrites {
		return errors.New("store write failed")
	}
	v, ok := s.vaults[id]
	if !ok {
		return fmt.Errorf("vault %s not found", id)
	}
	if v.Status != from {
		return models.ErrStatusConflict
	}
	v.Status = to
	v.Meta = meta
	if timerStartedAt != nil {
		v.TimerStartedAt = timerStartedAt
	}
	if timerEndsAt != nil {
		v.CurrentTimerEndsAt = timerEndsAt
	}
	return nil
}

func (s *memStore) ResetTimer(_ context.Context, id uuid.UUID, endsAt time.Time, buyer string, amount float64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.vaults[id]
	if !ok {
		return fmt.Errorf("vault %s not found", id)
	}
	if v.Status != models.VaultStatusActive {
		return models.ErrStatusConflict
	}
	e := endsAt
	v.CurrentTimerEndsAt = &e
	v.LastBuyerAddress = &buyer
	v.LastPurchaseAmount = &amount
	t := at
	v.LastPurchaseAt = &t
	return nil
}

type memWhitelist struct {
	mu    sync.Mutex
	lists map[uuid.UUID][]string
}

func newMemWhitelist() *memWhitelist {
	return &memWhitelist{lists: make(map[uuid.UUID][]string)}
}

func (w *memWhitelist) List(_ context.Context, vaultID uuid.UUID) ([]string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lists[vaultID], nil
}

type memAudit struct {
	mu      sync.Mutex
	entries []models.AuditLog
}

func (a *memAudit) Log(_ context.Context, entry models.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, entry)
	return nil
}

func (a *memAudit) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.entries)
}

type capturePublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *capturePublisher) Publish(_ context.Context, _ string, event events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *capturePublisher) byType(eventType string) []events.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []events.Event
	for _, e := range p.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

// --- helpers ---

var testStart = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func testConfig() *config.Config {
	return &config.Config{
		TickInterval:      30 * time.Second,
		ICODuration:       24 * time.Hour,
		ClaimPeriod:       7 * 24 * time.Hour,
		CleanupPeriod:     30 * 24 * time.Hour,
		ICOThresholdUSD:   10000,
		MinPurchaseAmount: 1,
	}
}

func newTestEngine(t *testing.T) (*Engine, *memStore, *memWhitelist, *memAudit, *capturePublisher, *fakeClock) {
	t.Helper()
	store := newMemStore()
	wl := newMemWhitelist()
	audit := &memAudit{}
	pub := &capturePublisher{}
	clock := newFakeClock(testStart)
	eng := New(store, wl, audit, pub, testConfig(), clock, zap.NewNop())
	return eng, store, wl, audit, pub, clock
}

func timePtr(t time.Time) *time.Time { return &t }

func icoVault(endsAgo time.Duration, threshold, volume float64) *models.Vault {
	proposed := testStart.Add(-24*time.Hour - endsAgo)
	end := proposed.Add(24 * time.Hour)
	return &models.Vault{
		ID:             uuid.New(),
		Name:           "test vault",
		Status:         models.VaultStatusICO,
		TreasuryWallet: "Treasury111",
		TokenMint:      "Mint111",
		TimerDuration:  3600,
		TotalVolume:    volume,
		Meta: models.VaultMeta{
			ICO: &models.ICOMeta{
				ProposedAt:   &proposed,
				StartedAt:    &proposed,
				EndTime:      &end,
				ThresholdUSD: threshold,
			},
		},
	}
}

func activeVault(timerEndsAt time.Time, endgameDate *time.Time) *models.Vault {
	started := testStart.Add(-time.Hour)
	return &models.Vault{
		ID:                 uuid.New(),
		Name:               "active vault",
		Status:             models.VaultStatusActive,
		TreasuryWallet:     "Treasury222",
		TokenMint:          "Mint222",
		TimerDuration:      3600,
		EndgameDate:        endgameDate,
		TimerStartedAt:     &started,
		CurrentTimerEndsAt: timePtr(timerEndsAt),
		Meta:               models.VaultMeta{LaunchedAt: &started},
	}
}

// --- tests ---

func TestICOThresholdBranch(t *testing.T) {
	tests := []struct {
		name       string
		volume     float64
		wantStatus string
		wantMet    bool
	}{
		{"threshold met", 12000, models.VaultStatusPending, true},
		{"threshold missed", 4000, models.VaultStatusRefundRequired, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng, store, _, _, _, _ := newTestEngine(t)
			v := icoVault(time.Minute, 10000, tt.volume)
			store.put(v)

			eng.Tick(context.Background())

			got, _ := store.GetByID(context.Background(), v.ID)
			if got.Status != tt.wantStatus {
				t.Fatalf("status = %s, want %s", got.Status, tt.wantStatus)
			}
			if got.Meta.ICO.ThresholdMet == nil || *got.Meta.ICO.ThresholdMet != tt.wantMet {
				t.Errorf("threshold_met = %v, want %v", got.Meta.ICO.ThresholdMet, tt.wantMet)
			}
			if got.Meta.ICO.CompletedAt == nil {
				t.Error("ico completed_at not stamped")
			}
			if tt.wantStatus == models.VaultStatusRefundRequired && !got.Meta.ICO.RefundNeeded {
				t.Error("refund_required flag not stamped")
			}
		})
	}
}

func TestDefaultThresholdApplies(t *testing.T) {
	eng, store, _, _, _, _ := newTestEngine(t)
	// No per-vault threshold: platform default of 10000 applies.
	v := icoVault(time.Minute, 0, 9999)
	store.put(v)

	eng.Tick(context.Background())

	got, _ := store.GetByID(context.Background(), v.ID)
	if got.Status != models.VaultStatusRefundRequired {
		t.Fatalf("status = %s, want refund_required under default threshold", got.Status)
	}
}

func TestTickIdempotent(t *testing.T) {
	eng, store, _, audit, _, _ := newTestEngine(t)
	v := icoVault(time.Minute, 10000, 12000)
	store.put(v)

	eng.Tick(context.Background())
	eng.Tick(context.Background())
	eng.Tick(context.Background())

	got, _ := store.GetByID(context.Background(), v.ID)
	if got.Status != models.VaultStatusPending {
		t.Fatalf("status = %s, want pending", got.Status)
	}
	if audit.count() != 1 {
		t.Errorf("audit entries = %d, want exactly 1 transition", audit.count())
	}
}

func TestEndgamePrecedenceOverRunningTimer(t *testing.T) {
	eng, store, _, _, _, _ := newTestEngine(t)
	// Timer still has 30 minutes left but the lifespan is exhausted.
	v := activeVault(testStart.Add(30*time.Minute), timePtr(testStart.Add(-time.Minute)))
	store.put(v)

	eng.Tick(context.Background())

	got, _ := store.GetByID(context.Background(), v.ID)
	if got.Status != models.VaultStatusEndgameProcessing {
		t.Fatalf("status = %s, want endgame_processing", got.Status)
	}
	if got.Meta.Endgame == nil || got.Meta.Endgame.StartedAt == nil {
		t.Error("endgame started_at not stamped")
	}
	if eng.Monitors().Active(v.ID) {
		t.Error("monitor should be stopped on endgame")
	}
}

func TestTimerExpiryDeclaresWinner(t *testing.T) {
	eng, store, _, _, pub, _ := newTestEngine(t)
	v := activeVault(testStart.Add(-time.Second), timePtr(testStart.Add(24*time.Hour)))
	buyer := "XyZ999"
	v.LastBuyerAddress = &buyer
	store.put(v)

	eng.Tick(context.Background())

	got, _ := store.GetByID(context.Background(), v.ID)
	if got.Status != models.VaultStatusWinnerConfirmation {
		t.Fatalf("status = %s, want winner_confirmation", got.Status)
	}
	w := got.Meta.Winner
	if w == nil || w.Address != buyer {
		t.Fatalf("winner = %+v, want address %s", w, buyer)
	}
	if w.DeclaredAt == nil || w.TimerExpiredAt == nil {
		t.Error("winner timestamps not stamped")
	}
	if len(pub.byType(events.EventTimerExpired)) != 1 {
		t.Error("timer_expired event not published")
	}
	if eng.Monitors().Active(v.ID) {
		t.Error("monitor should be stopped after expiry")
	}
}

func TestManualTransitionRejectsInvalidEdge(t *testing.T) {
	eng, store, _, _, _, _ := newTestEngine(t)
	v := &models.Vault{
		ID:             uuid.New(),
		Name:           "early vault",
		Status:         models.VaultStatusPreICO,
		TreasuryWallet: "Treasury333",
		TokenMint:      "Mint333",
		TimerDuration:  3600,
	}
	store.put(v)

	err := eng.Transition(context.Background(), v.ID, models.VaultStatusActive, "force launch")
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("err = %v, want ErrInvalidTransition", err)
	}

	got, _ := store.GetByID(context.Background(), v.ID)
	if got.Status != models.VaultStatusPreICO {
		t.Errorf("status changed to %s on rejected transition", got.Status)
	}
}

func TestManualTransitionEnforcesDraftGates(t *testing.T) {
	eng, store, _, _, _, _ := newTestEngine(t)
	v := &models.Vault{
		ID:            uuid.New(),
		Name:          "incomplete vault",
		Status:        models.VaultStatusDraft,
		TimerDuration: 3600,
		// no treasury wallet, no token mint
	}
	store.put(v)

	if err := eng.Transition(context.Background(), v.ID, models.VaultStatusPreICO, ""); err == nil {
		t.Fatal("expected gate failure for draft vault missing required fields")
	}

	v2, _ := store.GetByID(context.Background(), v.ID)
	v2.TreasuryWallet = "Treasury444"
	v2.TokenMint = "Mint444"
	store.put(v2)

	if err := eng.Transition(context.Background(), v.ID, models.VaultStatusPreICO, "approved"); err != nil {
		t.Fatalf("transition failed: %v", err)
	}
	got, _ := store.GetByID(context.Background(), v.ID)
	if got.Status != models.VaultStatusPreICO {
		t.Errorf("status = %s, want pre_ico", got.Status)
	}
}

func TestManualICOExitUsesThresholdStamping(t *testing.T) {
	eng, store, _, _, _, _ := newTestEngine(t)
	// ICO not yet ended; admin forces success.
	v := icoVault(-12*time.Hour, 10000, 15000)
	store.put(v)

	if err := eng.Transition(context.Background(), v.ID, models.VaultStatusPending, "force ico success"); err != nil {
		t.Fatalf("manual transition failed: %v", err)
	}
	got, _ := store.GetByID(context.Background(), v.ID)
	if got.Status != models.VaultStatusPending {
		t.Fatalf("status = %s, want pending", got.Status)
	}
	if got.Meta.ICO.ThresholdMet == nil || !*got.Meta.ICO.ThresholdMet {
		t.Error("manual path should stamp the same pending metadata")
	}
}

func TestPendingThroughLaunch(t *testing.T) {
	eng, store, _, _, _, clock := newTestEngine(t)
	launch := testStart.Add(time.Hour)
	v := &models.Vault{
		ID:             uuid.New(),
		Name:           "launching vault",
		Status:         models.VaultStatusPending,
		TreasuryWallet: "Treasury555",
		TokenMint:      "Mint555",
		TimerDuration:  1800,
		Meta: models.VaultMeta{
			Stage2: &models.Stage2Meta{
				Completed:       true,
				VaultLaunchDate: &launch,
			},
		},
	}
	store.put(v)

	eng.Tick(context.Background())
	got, _ := store.GetByID(context.Background(), v.ID)
	if got.Status != models.VaultStatusPrelaunch {
		t.Fatalf("status = %s, want prelaunch", got.Status)
	}

	// Launch date not yet reached.
	eng.Tick(context.Background())
	got, _ = store.GetByID(context.Background(), v.ID)
	if got.Status != models.VaultStatusPrelaunch {
		t.Fatalf("status = %s, vault launched early", got.Status)
	}

	clock.Advance(time.Hour)
	eng.Tick(context.Background())
	got, _ = store.GetByID(context.Background(), v.ID)
	if got.Status != models.VaultStatusActive {
		t.Fatalf("status = %s, want active", got.Status)
	}
	if got.TimerStartedAt == nil || got.CurrentTimerEndsAt == nil {
		t.Fatal("timer columns not set on launch")
	}
	wantEnds := clock.Now().Add(1800 * time.Second)
	if !got.CurrentTimerEndsAt.Equal(wantEnds) {
		t.Errorf("timer ends at %v, want %v", got.CurrentTimerEndsAt, wantEnds)
	}
	if got.Meta.LaunchedAt == nil {
		t.Error("launched_at not stamped")
	}
	if !eng.Monitors().Active(v.ID) {
		t.Error("monitor not started on launch")
	}
}

func TestWhitelistedPurchaseNeverResetsTimer(t *testing.T) {
	eng, store, wl, _, pub, clock := newTestEngine(t)
	ends := testStart.Add(45 * time.Minute)
	v := activeVault(ends, nil)
	store.put(v)
	wl.lists[v.ID] = []string{"AbC123"}

	eng.Tick(context.Background()) // sets up the monitor

	if err := eng.HandlePurchase(context.Background(), v.ID, "AbC123", 50, "sig-1", clock.Now()); err != nil {
		t.Fatalf("HandlePurchase: %v", err)
	}
	got, _ := store.GetByID(context.Background(), v.ID)
	if !got.CurrentTimerEndsAt.Equal(ends) {
		t.Fatalf("whitelisted purchase moved timer to %v", got.CurrentTimerEndsAt)
	}
	if len(pub.byType(events.EventPurchase)) != 0 {
		t.Error("whitelisted purchase should not broadcast a reset")
	}

	// A non-whitelisted buyer above the minimum resets to full duration.
	if err := eng.HandlePurchase(context.Background(), v.ID, "XyZ999", 2, "sig-2", clock.Now()); err != nil {
		t.Fatalf("HandlePurchase: %v", err)
	}
	got, _ = store.GetByID(context.Background(), v.ID)
	wantEnds := clock.Now().Add(3600 * time.Second)
	if !got.CurrentTimerEndsAt.Equal(wantEnds) {
		t.Fatalf("timer ends at %v, want %v", got.CurrentTimerEndsAt, wantEnds)
	}
	if got.LastBuyerAddress == nil || *got.LastBuyerAddress != "XyZ999" {
		t.Errorf("last buyer = %v, want XyZ999", got.LastBuyerAddress)
	}
	if len(pub.byType(events.EventPurchase)) != 1 {
		t.Error("qualifying purchase should broadcast")
	}
}

func TestPurchaseBelowMinimumIgnored(t *testing.T) {
	eng, store, _, _, _, clock := newTestEngine(t)
	ends := testStart.Add(45 * time.Minute)
	v := activeVault(ends, nil)
	store.put(v)

	eng.Tick(context.Background())

	for _, amount := range []float64{0.5, 0, -3} {
		if err := eng.HandlePurchase(context.Background(), v.ID, "Buyer1", amount, "sig", clock.Now()); err != nil {
			t.Fatalf("HandlePurchase(%v): %v", amount, err)
		}
	}
	got, _ := store.GetByID(context.Background(), v.ID)
	if !got.CurrentTimerEndsAt.Equal(ends) {
		t.Fatalf("non-qualifying purchases moved timer to %v", got.CurrentTimerEndsAt)
	}
}

func TestPurchaseForInactiveVaultIgnored(t *testing.T) {
	eng, _, _, _, _, clock := newTestEngine(t)
	if err := eng.HandlePurchase(context.Background(), uuid.New(), "Buyer1", 10, "sig", clock.Now()); err != nil {
		t.Fatalf("HandlePurchase for unknown vault: %v", err)
	}
}

func TestICOScheduleRecovery(t *testing.T) {
	eng, store, _, _, _, clock := newTestEngine(t)
	// 20 hours into a 24h ICO: ~4h should remain on the recovered schedule.
	proposed := testStart.Add(-20 * time.Hour)
	v := &models.Vault{
		ID:             uuid.New(),
		Name:           "mid-ico vault",
		Status:         models.VaultStatusICO,
		TreasuryWallet: "Treasury666",
		TokenMint:      "Mint666",
		TimerDuration:  3600,
		TotalVolume:    12000,
		Meta: models.VaultMeta{
			ICO: &models.ICOMeta{ProposedAt: &proposed},
		},
	}
	store.put(v)

	eng.Tick(context.Background())

	status, ok := eng.ICOSchedules().Status(v.ID)
	if !ok {
		t.Fatal("schedule not recovered")
	}
	if status.TimeLeft != 4*time.Hour {
		t.Errorf("time left = %v, want 4h", status.TimeLeft)
	}

	got, _ := store.GetByID(context.Background(), v.ID)
	if got.Status != models.VaultStatusICO {
		t.Fatalf("vault left ico early: %s", got.Status)
	}

	// The deferred callback fires at the 24h boundary.
	clock.Advance(4 * time.Hour)
	got, _ = store.GetByID(context.Background(), v.ID)
	if got.Status != models.VaultStatusPending {
		t.Fatalf("status = %s, want pending after scheduled fire", got.Status)
	}
	if _, ok := eng.ICOSchedules().Status(v.ID); ok {
		t.Error("schedule entry should be removed after firing")
	}
}

func TestICORecoveryPastEndFiresImmediately(t *testing.T) {
	eng, store, _, _, _, clock := newTestEngine(t)
	// 30 hours old: already past the 24h window at recovery time.
	proposed := testStart.Add(-30 * time.Hour)
	v := &models.Vault{
		ID:             uuid.New(),
		Name:           "stale ico vault",
		Status:         models.VaultStatusICO,
		TreasuryWallet: "Treasury777",
		TokenMint:      "Mint777",
		TimerDuration:  3600,
		TotalVolume:    4000,
		Meta: models.VaultMeta{
			ICO: &models.ICOMeta{ProposedAt: &proposed},
		},
	}
	store.put(v)

	eng.Tick(context.Background())

	// The tick itself resolves it: end time long past, threshold missed.
	got, _ := store.GetByID(context.Background(), v.ID)
	if got.Status != models.VaultStatusRefundRequired {
		t.Fatalf("status = %s, want refund_required resolved on recovery", got.Status)
	}

	clock.Advance(time.Second)
	got, _ = store.GetByID(context.Background(), v.ID)
	if got.Status != models.VaultStatusRefundRequired {
		t.Fatalf("status = %s after timer fire, second resolution happened", got.Status)
	}
}

func TestMalformedICOMetadataSkipped(t *testing.T) {
	eng, store, _, _, _, _ := newTestEngine(t)
	v := &models.Vault{
		ID:             uuid.New(),
		Name:           "broken ico vault",
		Status:         models.VaultStatusICO,
		TreasuryWallet: "Treasury888",
		TokenMint:      "Mint888",
		TimerDuration:  3600,
		// no ICO metadata at all
	}
	store.put(v)

	eng.Tick(context.Background())

	got, _ := store.GetByID(context.Background(), v.ID)
	if got.Status != models.VaultStatusICO {
		t.Fatalf("status = %s, malformed vault should stay put", got.Status)
	}
	if _, ok := eng.ICOSchedules().Status(v.ID); ok {
		t.Error("no schedule should exist for malformed ico metadata")
	}
}

func TestWinnerClaimWindow(t *testing.T) {
	eng, store, _, _, _, _ := newTestEngine(t)
	declared := testStart.Add(-8 * 24 * time.Hour) // past the 7d claim period
	v := &models.Vault{
		ID:             uuid.New(),
		Name:           "claimed vault",
		Status:         models.VaultStatusWinnerConfirmation,
		TreasuryWallet: "Treasury999",
		TokenMint:      "Mint999",
		TimerDuration:  3600,
		Meta: models.VaultMeta{
			Winner: &models.WinnerMeta{
				Address:    "XyZ999",
				DeclaredAt: &declared,
				ClaimedAt:  timePtr(declared.Add(time.Hour)),
			},
		},
	}
	store.put(v)

	eng.Tick(context.Background())
	got, _ := store.GetByID(context.Background(), v.ID)
	if got.Status != models.VaultStatusEndgameProcessing {
		t.Fatalf("status = %s, want endgame_processing after claim window", got.Status)
	}

	// Funds distributed: claimed winner means completed, not extinct.
	got.Meta.Endgame.Processed = true
	store.put(got)
	eng.Tick(context.Background())
	got, _ = store.GetByID(context.Background(), v.ID)
	if got.Status != models.VaultStatusCompleted {
		t.Fatalf("status = %s, want completed for claimed winner", got.Status)
	}
	if got.Meta.Endgame.CompletedAt == nil || !got.Meta.Endgame.Processed {
		t.Error("completed metadata not stamped")
	}
}

func TestEndgameWithoutClaimGoesExtinct(t *testing.T) {
	eng, store, _, _, _, _ := newTestEngine(t)
	v := &models.Vault{
		ID:             uuid.New(),
		Name:           "unclaimed vault",
		Status:         models.VaultStatusEndgameProcessing,
		TreasuryWallet: "TreasuryAAA",
		TokenMint:      "MintAAA",
		TimerDuration:  3600,
		Meta: models.VaultMeta{
			Winner:  &models.WinnerMeta{Address: "XyZ999", DeclaredAt: timePtr(testStart.Add(-10 * 24 * time.Hour))},
			Endgame: &models.EndgameMeta{StartedAt: timePtr(testStart.Add(-time.Hour)), Processed: true},
		},
	}
	store.put(v)

	eng.Tick(context.Background())
	got, _ := store.GetByID(context.Background(), v.ID)
	if got.Status != models.VaultStatusExtinct {
		t.Fatalf("status = %s, want extinct for unclaimed winner", got.Status)
	}
	if got.Meta.Endgame.ExtinctAt == nil {
		t.Error("extinct_at not stamped")
	}
}

func TestCompletedCleanupToExtinct(t *testing.T) {
	eng, store, _, _, _, _ := newTestEngine(t)
	v := &models.Vault{
		ID:             uuid.New(),
		Name:           "old vault",
		Status:         models.VaultStatusCompleted,
		TreasuryWallet: "TreasuryBBB",
		TokenMint:      "MintBBB",
		TimerDuration:  3600,
		Meta: models.VaultMeta{
			Endgame: &models.EndgameMeta{
				CompletedAt: timePtr(testStart.Add(-31 * 24 * time.Hour)),
				Processed:   true,
			},
		},
	}
	store.put(v)

	eng.Tick(context.Background())
	got, _ := store.GetByID(context.Background(), v.ID)
	if got.Status != models.VaultStatusExtinct {
		t.Fatalf("status = %s, want extinct after cleanup period", got.Status)
	}
}

func TestRefundProcessedToCompleted(t *testing.T) {
	eng, store, _, _, _, _ := newTestEngine(t)
	v := &models.Vault{
		ID:             uuid.New(),
		Name:           "refunded vault",
		Status:         models.VaultStatusRefundRequired,
		TreasuryWallet: "TreasuryCCC",
		TokenMint:      "MintCCC",
		TimerDuration:  3600,
		Meta: models.VaultMeta{
			ICO:    &models.ICOMeta{RefundNeeded: true},
			Refund: &models.RefundMeta{ProcessedAt: timePtr(testStart.Add(-time.Minute)), TxSignature: "refund-sig", AmountUSD: 4000},
		},
	}
	store.put(v)

	eng.Tick(context.Background())
	got, _ := store.GetByID(context.Background(), v.ID)
	if got.Status != models.VaultStatusCompleted {
		t.Fatalf("status = %s, want completed after refunds processed", got.Status)
	}
}

func TestStoreWriteFailureAbandonsTransition(t *testing.T) {
	eng, store, _, audit, pub, _ := newTestEngine(t)
	v := icoVault(time.Minute, 10000, 12000)
	store.put(v)

	store.failWrites = true
	eng.Tick(context.Background())

	got, _ := store.GetByID(context.Background(), v.ID)
	if got.Status != models.VaultStatusICO {
		t.Fatalf("status = %s, failed write must not commit", got.Status)
	}
	if audit.count() != 0 || len(pub.byType(events.EventVaultStatusUpdated)) != 0 {
		t.Error("no audit or broadcast should happen on a failed write")
	}

	// Next tick retries from the unchanged status.
	store.failWrites = false
	eng.Tick(context.Background())
	got, _ = store.GetByID(context.Background(), v.ID)
	if got.Status != models.VaultStatusPending {
		t.Fatalf("status = %s, want pending on retry", got.Status)
	}
}

func TestUnknownStatusSkipped(t *testing.T) {
	eng, store, _, _, _, _ := newTestEngine(t)
	v := &models.Vault{
		ID:             uuid.New(),
		Name:           "odd vault",
		Status:         "archived",
		TreasuryWallet: "TreasuryDDD",
		TokenMint:      "MintDDD",
		TimerDuration:  3600,
	}
	store.put(v)

	eng.Tick(context.Background())
	got, _ := store.GetByID(context.Background(), v.ID)
	if got.Status != "archived" {
		t.Fatalf("status = %s, unknown statuses must be left untouched", got.Status)
	}
}

func TestStatusUpdatedEventPayload(t *testing.T) {
	eng, store, _, _, pub, _ := newTestEngine(t)
	v := icoVault(time.Minute, 10000, 12000)
	store.put(v)

	eng.Tick(context.Background())

	updates := pub.byType(events.EventVaultStatusUpdated)
	if len(updates) != 1 {
		t.Fatalf("status events = %d, want 1", len(updates))
	}
	p := updates[0].Payload
	if p["vault_id"] != v.ID.String() {
		t.Errorf("vault_id = %v", p["vault_id"])
	}
	if p["status"] != models.VaultStatusPending || p["old_status"] != models.VaultStatusICO {
		t.Errorf("status fields = %v -> %v", p["old_status"], p["status"])
	}
}
