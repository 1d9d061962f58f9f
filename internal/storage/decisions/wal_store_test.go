package decisions

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/vadiminshakov/refundbot/internal/domain"
)

func testRecord(key string, outcome domain.DecisionOutcome, now time.Time, ttl time.Duration) domain.DecisionRecord {
	return domain.NewDecisionRecord(key, outcome, decimal.NewFromInt(100), "USD", now, ttl)
}

func TestWALStore_PutGet(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	store, err := NewWALStore(t.TempDir(), func() time.Time { return now })
	require.NoError(t, err)
	defer store.Close()

	_, ok, err := store.Get("missing")
	require.NoError(t, err)
	require.False(t, ok)

	record := testRecord("abc123", domain.OutcomeProcessed, now, 24*time.Hour)
	require.NoError(t, store.Put(record))

	got, ok, err := store.Get("abc123")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, domain.OutcomeProcessed, got.Outcome)
	require.True(t, got.Amount.Equal(decimal.NewFromInt(100)))
}

func TestWALStore_TTLExpiry(t *testing.T) {
	created := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	now := created
	store, err := NewWALStore(t.TempDir(), func() time.Time { return now })
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Put(testRecord("k1", domain.OutcomeProcessed, created, 24*time.Hour)))

	// honored up to the last instant before expiry
	now = created.Add(24*time.Hour - time.Second)
	_, ok, err := store.Get("k1")
	require.NoError(t, err)
	require.True(t, ok)

	// treated as absent at exactly created + ttl
	now = created.Add(24 * time.Hour)
	_, ok, err = store.Get("k1")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestWALStore_SurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	store, err := NewWALStore(dir, clock)
	require.NoError(t, err)
	require.NoError(t, store.Put(testRecord("k1", domain.OutcomeProcessed, now, 24*time.Hour)))
	require.NoError(t, store.Close())

	reopened, err := NewWALStore(dir, clock)
	require.NoError(t, err)
	defer reopened.Close()

	got, ok, err := reopened.Get("k1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, domain.OutcomeProcessed, got.Outcome)
}

func TestWALStore_LastWriterWins(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	store, err := NewWALStore(dir, clock)
	require.NoError(t, err)
	require.NoError(t, store.Put(testRecord("k1", domain.OutcomeSkipped, now, 24*time.Hour)))
	require.NoError(t, store.Put(testRecord("k1", domain.OutcomeProcessed, now.Add(time.Minute), 24*time.Hour)))

	got, ok, err := store.Get("k1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, domain.OutcomeProcessed, got.Outcome)
	require.Equal(t, 1, store.Len())
	require.NoError(t, store.Close())

	// replay keeps the superseding record
	reopened, err := NewWALStore(dir, clock)
	require.NoError(t, err)
	defer reopened.Close()

	got, ok, err = reopened.Get("k1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, domain.OutcomeProcessed, got.Outcome)
}

func TestWALStore_PutRequiresKey(t *testing.T) {
	store, err := NewWALStore(t.TempDir(), nil)
	require.NoError(t, err)
	defer store.Close()

	err = store.Put(domain.DecisionRecord{})
	require.Error(t, err)
}
