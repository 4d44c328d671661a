package backup

import (
	"context"
	"io"
	"os"
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

func seededStore(t *testing.T, dataDir string) *store.Store {
	t.Helper()
	live, err := store.Open(filepath.Join(dataDir, "live.db"), testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { live.Close() })

	inc := incident.Incident{
		Source:      incident.SourceCaddo,
		Agency:      "CFD",
		Description: "STRUCTURE FIRE",
		Street:      "100 MAIN ST",
	}
	inc.Fingerprint = incident.Fingerprint(inc)
	_, err = live.Reconcile(incident.SourceCaddo, []incident.Incident{inc}, time.Now().UTC())
	require.NoError(t, err)
	return live
}

func TestSnapshotWritesConsistentCopy(t *testing.T) {
	dataDir := t.TempDir()
	live := seededStore(t, dataDir)

	clock := clockwork.NewFakeClockAt(time.Date(2026, 8, 24, 6, 0, 0, 0, time.UTC))
	m := New(live, dataDir, 14, false, clock, testLogger(), observability.NewMetricsForTesting())

	path, err := m.Snapshot(context.Background())
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(m.Dir(), "live-20260824T060000Z.db"), path)
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Positive(t, info.Size())

	// The snapshot is a valid store containing the data.
	snap, err := store.Open(path, testLogger())
	require.NoError(t, err)
	defer snap.Close()
	active, err := snap.AllActive()
	require.NoError(t, err)
	assert.Len(t, active, 1)
}

func TestSnapshotPrunesBeyondRetention(t *testing.T) {
	dataDir := t.TempDir()
	live := seededStore(t, dataDir)

	clock := clockwork.NewFakeClockAt(time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC))
	m := New(live, dataDir, 2, false, clock, testLogger(), observability.NewMetricsForTesting())

	for i := 0; i < 4; i++ {
		_, err := m.Snapshot(context.Background())
		require.NoError(t, err)
		clock.Advance(6 * time.Hour)
	}

	snapshots, err := m.Snapshots()
	require.NoError(t, err)
	require.Len(t, snapshots, 2, "retention window must hold")

	// Newest first, and the survivors are the two most recent stamps.
	assert.Contains(t, snapshots[0], "20260824T180000Z")
	assert.Contains(t, snapshots[1], "20260824T120000Z")
}

func TestSnapshotIncludesArchives(t *testing.T) {
	dataDir := t.TempDir()
	live := seededStore(t, dataDir)

	// Fake an existing monthly partition file.
	partition := filepath.Join(dataDir, "archive-2026-07.db")
	require.NoError(t, os.WriteFile(partition, []byte("sqlite bytes"), 0o644))

	clock := clockwork.NewFakeClockAt(time.Date(2026, 8, 24, 6, 0, 0, 0, time.UTC))
	m := New(live, dataDir, 14, true, clock, testLogger(), observability.NewMetricsForTesting())

	_, err := m.Snapshot(context.Background())
	require.NoError(t, err)

	copied := filepath.Join(m.Dir(), "archive-2026-07-20260824T060000Z.db")
	data, err := os.ReadFile(copied)
	require.NoError(t, err)
	assert.Equal(t, "sqlite bytes", string(data))
}

func TestSnapshotCancelledContext(t *testing.T) {
	dataDir := t.TempDir()
	live := seededStore(t, dataDir)
	m := New(live, dataDir, 14, false, clockwork.NewRealClock(), testLogger(), observability.NewMetricsForTesting())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := m.Snapshot(ctx)
	require.Error(t, err)
}

func TestSnapshotsEmpty(t *testing.T) {
	dataDir := t.TempDir()
	live := seededStore(t, dataDir)
	m := New(live, dataDir, 14, false, clockwork.NewRealClock(), testLogger(), observability.NewMetricsForTesting())

	snapshots, err := m.Snapshots()
	require.NoError(t, err)
	assert.Empty(t, snapshots)
}
