package archive

import (
	"context"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vincentlarkin/Caddo911-Monitor/internal/incident"
	"github.com/vincentlarkin/Caddo911-Monitor/internal/observability"
	"github.com/vincentlarkin/Caddo911-Monitor/internal/store"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func makeIncident(description string) incident.Incident {
	inc := incident.Incident{
		Source:      incident.SourceCaddo,
		Agency:      "CFD",
		Description: description,
		Street:      "100 MAIN ST",
	}
	inc.Fingerprint = incident.Fingerprint(inc)
	return inc
}

// seed inserts an incident and optionally deactivates it at lastSeen.
func seed(t *testing.T, live *store.Store, inc incident.Incident, lastSeen time.Time, active bool) {
	t.Helper()
	_, err := live.Reconcile(incident.SourceCaddo, []incident.Incident{inc}, lastSeen)
	require.NoError(t, err)
	if !active {
		_, err = live.Reconcile(incident.SourceCaddo, nil, lastSeen)
		require.NoError(t, err)
	}
}

func TestRunMovesAgedIncidents(t *testing.T) {
	dataDir := t.TempDir()
	live, err := store.Open(filepath.Join(dataDir, "live.db"), testLogger())
	require.NoError(t, err)
	defer live.Close()

	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	clock := clockwork.NewFakeClockAt(now)
	a := New(live, dataDir, 30*24*time.Hour, clock, testLogger(), observability.NewMetricsForTesting())

	julyInc := makeIncident("JULY FIRE")
	juneInc := makeIncident("JUNE WRECK")
	recentInc := makeIncident("RECENT")
	seed(t, live, julyInc, time.Date(2026, 7, 10, 9, 0, 0, 0, time.UTC), false)
	seed(t, live, juneInc, time.Date(2026, 6, 2, 9, 0, 0, 0, time.UTC), false)
	seed(t, live, recentInc, now.Add(-time.Hour), false)

	result, err := a.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, result.Moved)
	assert.Equal(t, 1, result.Partitions["2026-07"])
	assert.Equal(t, 1, result.Partitions["2026-06"])

	// Moved rows are gone from the live store; the recent one stays.
	gone, err := live.GetByFingerprint(julyInc.Fingerprint)
	require.NoError(t, err)
	assert.Nil(t, gone)
	kept, err := live.GetByFingerprint(recentInc.Fingerprint)
	require.NoError(t, err)
	assert.NotNil(t, kept)

	// Each month landed in its own partition file.
	archived, err := a.ReadMonth("2026-07")
	require.NoError(t, err)
	require.Len(t, archived, 1)
	assert.Equal(t, julyInc.Fingerprint, archived[0].Fingerprint)
	assert.False(t, archived[0].IsActive)
}

func TestRunSkipsActiveIncidents(t *testing.T) {
	dataDir := t.TempDir()
	live, err := store.Open(filepath.Join(dataDir, "live.db"), testLogger())
	require.NoError(t, err)
	defer live.Close()

	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	clock := clockwork.NewFakeClockAt(now)
	a := New(live, dataDir, 30*24*time.Hour, clock, testLogger(), observability.NewMetricsForTesting())

	// Old last_seen but still active: must not be archived.
	seed(t, live, makeIncident("LONG RUNNING"), time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC), true)

	result, err := a.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, result.Moved)
}

func TestRunIdempotent(t *testing.T) {
	dataDir := t.TempDir()
	live, err := store.Open(filepath.Join(dataDir, "live.db"), testLogger())
	require.NoError(t, err)
	defer live.Close()

	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	clock := clockwork.NewFakeClockAt(now)
	a := New(live, dataDir, 30*24*time.Hour, clock, testLogger(), observability.NewMetricsForTesting())

	inc := makeIncident("JULY FIRE")
	seed(t, live, inc, time.Date(2026, 7, 10, 9, 0, 0, 0, time.UTC), false)

	first, err := a.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, first.Moved)

	second, err := a.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, second.Moved, "a second pass over the same data moves nothing")

	archived, err := a.ReadMonth("2026-07")
	require.NoError(t, err)
	assert.Len(t, archived, 1, "partition must not accumulate duplicates")
}

func TestReadMonthMissingPartition(t *testing.T) {
	dataDir := t.TempDir()
	live, err := store.Open(filepath.Join(dataDir, "live.db"), testLogger())
	require.NoError(t, err)
	defer live.Close()

	a := New(live, dataDir, 30*24*time.Hour, clockwork.NewRealClock(), testLogger(), observability.NewMetricsForTesting())

	archived, err := a.ReadMonth("1999-01")
	require.NoError(t, err)
	assert.Empty(t, archived)
}

func TestPartitionPath(t *testing.T) {
	a := New(nil, "/data", time.Hour, clockwork.NewRealClock(), testLogger(), observability.NewMetricsForTesting())
	assert.Equal(t, filepath.Join("/data", "archive-2026-07.db"), a.PartitionPath("2026-07"))
}
