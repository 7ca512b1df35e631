// Package health tracks per-mailbox fetch health and decides when a mailbox
// may be polled again.
package health

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"helpdesk-ingest-go/internal/model"
)

const (
	DefaultMinInterval     = 10 * time.Minute
	DefaultFailureCooldown = 30 * time.Minute
)

// Skip reasons returned by Eligible
const (
	SkipTooSoon  = "too_soon"
	SkipCooldown = "failure_cooldown"
)

// Store persists health onto the mailbox row
type Store interface {
	UpdateMailboxHealth(ctx context.Context, id uint, status string, lastChecked, lastSuccess, lastFailure *time.Time, lastError string) error
}

// State is the health of one mailbox
type State struct {
	MailboxID     uint       `json:"mailbox_id"`
	Address       string     `json:"address"`
	Status        string     `json:"status"`
	LastCheckedAt *time.Time `json:"last_checked_at"`
	LastSuccessAt *time.Time `json:"last_success_at"`
	LastFailureAt *time.Time `json:"last_failure_at"`
	LastError     string     `json:"last_error"`
}

// Tracker holds health for every known mailbox
type Tracker struct {
	store           Store
	minInterval     time.Duration
	failureCooldown time.Duration

	mu     sync.RWMutex
	states map[uint]*State
}

// NewTracker creates a tracker. Non-positive durations fall back to the
// defaults.
func NewTracker(store Store, minInterval, failureCooldown time.Duration) *Tracker {
	if minInterval <= 0 {
		minInterval = DefaultMinInterval
	}
	if failureCooldown <= 0 {
		failureCooldown = DefaultFailureCooldown
	}
	return &Tracker{
		store:           store,
		minInterval:     minInterval,
		failureCooldown: failureCooldown,
		states:          make(map[uint]*State),
	}
}

// Seed loads persisted health from mailbox rows. Mailboxes already tracked
// keep their in-memory state.
func (t *Tracker) Seed(mailboxes []model.Mailbox) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, mb := range mailboxes {
		if st, ok := t.states[mb.ID]; ok {
			st.Address = mb.Address
			continue
		}
		status := mb.HealthStatus
		if status == "" {
			status = model.HealthUnknown
		}
		t.states[mb.ID] = &State{
			MailboxID:     mb.ID,
			Address:       mb.Address,
			Status:        status,
			LastCheckedAt: mb.LastCheckedAt,
			LastSuccessAt: mb.LastSuccessAt,
			LastFailureAt: mb.LastFailureAt,
			LastError:     mb.LastError,
		}
	}
}

// Eligible reports whether mailbox id may be fetched at now. When it may not,
// the reason is returned.
func (t *Tracker) Eligible(id uint, now time.Time) (bool, string) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	st, ok := t.states[id]
	if !ok {
		return true, ""
	}
	if st.Status == model.HealthFailed && st.LastFailureAt != nil && now.Sub(*st.LastFailureAt) < t.failureCooldown {
		return false, SkipCooldown
	}
	if st.LastCheckedAt != nil && now.Sub(*st.LastCheckedAt) < t.minInterval {
		return false, SkipTooSoon
	}
	return true, ""
}

// MarkSuccess records a fully successful cycle
func (t *Tracker) MarkSuccess(ctx context.Context, id uint, now time.Time) {
	t.update(ctx, id, func(st *State) {
		st.Status = model.HealthHealthy
		st.LastCheckedAt = &now
		st.LastSuccessAt = &now
		st.LastError = ""
	})
}

// MarkDegraded records a cycle that connected but failed on some messages
func (t *Tracker) MarkDegraded(ctx context.Context, id uint, now time.Time, cause error) {
	t.update(ctx, id, func(st *State) {
		st.Status = model.HealthDegraded
		st.LastCheckedAt = &now
		st.LastSuccessAt = &now
		st.LastError = errorText(cause)
	})
}

// MarkFailed records a transport failure. The mailbox is skipped until the
// failure cooldown elapses.
func (t *Tracker) MarkFailed(ctx context.Context, id uint, now time.Time, cause error) {
	t.update(ctx, id, func(st *State) {
		st.Status = model.HealthFailed
		st.LastCheckedAt = &now
		st.LastFailureAt = &now
		st.LastError = errorText(cause)
	})
}

// Get returns the state of one mailbox
func (t *Tracker) Get(id uint) (State, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	st, ok := t.states[id]
	if !ok {
		return State{}, false
	}
	return *st, true
}

// Snapshot returns every tracked state ordered by mailbox id
func (t *Tracker) Snapshot() []State {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]State, 0, len(t.states))
	for _, st := range t.states {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MailboxID < out[j].MailboxID })
	return out
}

// Forget drops a mailbox, e.g. after it was deleted
func (t *Tracker) Forget(id uint) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.states, id)
}

func (t *Tracker) update(ctx context.Context, id uint, fn func(st *State)) {
	t.mu.Lock()
	st, ok := t.states[id]
	if !ok {
		st = &State{MailboxID: id, Status: model.HealthUnknown}
		t.states[id] = st
	}
	fn(st)
	snapshot := *st
	t.mu.Unlock()

	if t.store == nil {
		return
	}
	err := t.store.UpdateMailboxHealth(ctx, id, snapshot.Status,
		snapshot.LastCheckedAt, snapshot.LastSuccessAt, snapshot.LastFailureAt, snapshot.LastError)
	if err != nil {
		// in-memory state still applies for this process
		logrus.WithField("mailbox_id", id).Errorf("Failed to persist mailbox health: %v", err)
	}
}

func errorText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
