package lifecycle

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type icoSchedule struct {
	startTime time.Time
	endTime   time.Time
	timer     Timer
}

// ICOScheduler arms one one-shot callback per vault at its ICO end
// time. Schedules are not persisted: the engine re-ensures them on
// every tick from store state, which covers process restarts. A
// schedule whose end time is already past fires immediately.
type ICOScheduler struct {
	mu      sync.Mutex
	entries map[uuid.UUID]*icoSchedule
	clock   Clock
	fire    func(vaultID uuid.UUID)
	log     *zap.Logger
}

func NewICOScheduler(clock Clock, fire func(vaultID uuid.UUID), log *zap.Logger) *ICOScheduler {
	return &ICOScheduler{
		entries: make(map[uuid.UUID]*icoSchedule),
		clock:   clock,
		fire:    fire,
		log:     log,
	}
}

// Schedule cancels any existing schedule for the vault and arms a new
// one firing at end.
func (s *ICOScheduler) Schedule(vaultID uuid.UUID, start, end time.Time) {
	s.mu.Lock()
	if existing, ok := s.entries[vaultID]; ok {
		existing.timer.Stop()
	}
	delay := end.Sub(s.clock.Now())
	if delay < 0 {
		delay = 0
	}
	entry := &icoSchedule{startTime: start, endTime: end}
	entry.timer = s.clock.AfterFunc(delay, func() { s.fired(vaultID) })
	s.entries[vaultID] = entry
	s.mu.Unlock()

	s.log.Info("ico schedule armed",
		zap.String("vault_id", vaultID.String()),
		zap.Time("end_time", end),
		zap.Duration("delay", delay),
	)
}

// Ensure arms a schedule only if none exists; used by the tick
// reconciliation pass for vaults found in ICO status.
func (s *ICOScheduler) Ensure(vaultID uuid.UUID, start, end time.Time) {
	s.mu.Lock()
	_, ok := s.entries[vaultID]
	s.mu.Unlock()
	if ok {
		return
	}
	s.Schedule(vaultID, start, end)
}

func (s *ICOScheduler) fired(vaultID uuid.UUID) {
	s.mu.Lock()
	delete(s.entries, vaultID)
	s.mu.Unlock()
	s.fire(vaultID)
}

// Cancel clears the deferred callback; used whenever a vault leaves
// ICO by any path other than the timer firing.
func (s *ICOScheduler) Cancel(vaultID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok := s.entries[vaultID]; ok {
		entry.timer.Stop()
		delete(s.entries, vaultID)
	}
}

func (s *ICOScheduler) CancelAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, entry := range s.entries {
		entry.timer.Stop()
		delete(s.entries, id)
	}
}

// ScheduleStatus is display-only; the engine's tick-based check stays
// authoritative for transition decisions.
type ScheduleStatus struct {
	IsActive  bool          `json:"is_active"`
	StartTime time.Time     `json:"start_time"`
	EndTime   time.Time     `json:"end_time"`
	TimeLeft  time.Duration `json:"time_left"`
	Progress  float64       `json:"progress"`
}

func (s *ICOScheduler) Status(vaultID uuid.UUID) (ScheduleStatus, bool) {
	s.mu.Lock()
	entry, ok := s.entries[vaultID]
	s.mu.Unlock()
	if !ok {
		return ScheduleStatus{}, false
	}

	now := s.clock.Now()
	left := entry.endTime.Sub(now)
	if left < 0 {
		left = 0
	}
	total := entry.endTime.Sub(entry.startTime)
	progress := 100.0
	if total > 0 {
		progress = float64(now.Sub(entry.startTime)) / float64(total) * 100
		if progress < 0 {
			progress = 0
		}
		if progress > 100 {
			progress = 100
		}
	}
	return ScheduleStatus{
		IsActive:  true,
		StartTime: entry.startTime,
		EndTime:   entry.endTime,
		TimeLeft:  left,
		Progress:  progress,
	}, true
}
