package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"helpdesk-ingest-go/internal/model"
)

type recordingStore struct {
	calls  int
	status string
	err    error
}

func (s *recordingStore) UpdateMailboxHealth(ctx context.Context, id uint, status string, lastChecked, lastSuccess, lastFailure *time.Time, lastError string) error {
	s.calls++
	s.status = status
	return s.err
}

var t0 = time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)

func TestUnknownMailboxIsEligible(t *testing.T) {
	tr := NewTracker(nil, 0, 0)
	ok, reason := tr.Eligible(1, t0)
	assert.True(t, ok)
	assert.Empty(t, reason)
}

func TestMinimumSpacingBetweenCycles(t *testing.T) {
	store := &recordingStore{}
	tr := NewTracker(store, 10*time.Minute, 30*time.Minute)

	tr.MarkSuccess(context.Background(), 1, t0)

	ok, reason := tr.Eligible(1, t0.Add(9*time.Minute))
	assert.False(t, ok)
	assert.Equal(t, SkipTooSoon, reason)

	ok, _ = tr.Eligible(1, t0.Add(10*time.Minute))
	assert.True(t, ok)

	assert.Equal(t, 1, store.calls)
	assert.Equal(t, model.HealthHealthy, store.status)
}

func TestFailureCooldown(t *testing.T) {
	tr := NewTracker(nil, 10*time.Minute, 30*time.Minute)

	tr.MarkFailed(context.Background(), 1, t0, errors.New("auth failed"))

	ok, reason := tr.Eligible(1, t0.Add(15*time.Minute))
	assert.False(t, ok)
	assert.Equal(t, SkipCooldown, reason)

	ok, _ = tr.Eligible(1, t0.Add(29*time.Minute))
	assert.False(t, ok)

	ok, _ = tr.Eligible(1, t0.Add(30*time.Minute))
	assert.True(t, ok)

	st, found := tr.Get(1)
	require.True(t, found)
	assert.Equal(t, model.HealthFailed, st.Status)
	assert.Equal(t, "auth failed", st.LastError)
	assert.Nil(t, st.LastSuccessAt)
}

func TestCooldownIsPerMailbox(t *testing.T) {
	tr := NewTracker(nil, 10*time.Minute, 30*time.Minute)
	tr.MarkFailed(context.Background(), 1, t0, errors.New("down"))

	ok, _ := tr.Eligible(2, t0.Add(time.Minute))
	assert.True(t, ok)
}

func TestRecoveryClearsError(t *testing.T) {
	tr := NewTracker(nil, 10*time.Minute, 30*time.Minute)
	tr.MarkFailed(context.Background(), 1, t0, errors.New("down"))
	tr.MarkDegraded(context.Background(), 1, t0.Add(time.Hour), errors.New("1 message failed"))

	st, _ := tr.Get(1)
	assert.Equal(t, model.HealthDegraded, st.Status)
	assert.Equal(t, "1 message failed", st.LastError)

	tr.MarkSuccess(context.Background(), 1, t0.Add(2*time.Hour))
	st, _ = tr.Get(1)
	assert.Equal(t, model.HealthHealthy, st.Status)
	assert.Empty(t, st.LastError)
	require.NotNil(t, st.LastFailureAt)
	assert.Equal(t, t0, *st.LastFailureAt)
}

func TestSeedFromMailboxRows(t *testing.T) {
	failedAt := t0
	tr := NewTracker(nil, 10*time.Minute, 30*time.Minute)
	tr.Seed([]model.Mailbox{
		{ID: 1, Address: "a@example.com", HealthStatus: model.HealthFailed, LastFailureAt: &failedAt, LastCheckedAt: &failedAt},
		{ID: 2, Address: "b@example.com"},
	})

	ok, reason := tr.Eligible(1, t0.Add(20*time.Minute))
	assert.False(t, ok)
	assert.Equal(t, SkipCooldown, reason)

	snap := tr.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, uint(1), snap[0].MailboxID)
	assert.Equal(t, model.HealthUnknown, snap[1].Status)
}

func TestStoreErrorKeepsMemoryState(t *testing.T) {
	store := &recordingStore{err: errors.New("db down")}
	tr := NewTracker(store, 0, 0)

	tr.MarkSuccess(context.Background(), 3, t0)
	st, ok := tr.Get(3)
	require.True(t, ok)
	assert.Equal(t, model.HealthHealthy, st.Status)
}
