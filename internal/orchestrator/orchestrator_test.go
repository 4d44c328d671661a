package orchestrator

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vincentlarkin/Caddo911-Monitor/internal/archive"
	"github.com/vincentlarkin/Caddo911-Monitor/internal/backup"
	"github.com/vincentlarkin/Caddo911-Monitor/internal/config"
	"github.com/vincentlarkin/Caddo911-Monitor/internal/incident"
	"github.com/vincentlarkin/Caddo911-Monitor/internal/observability"
	"github.com/vincentlarkin/Caddo911-Monitor/internal/sources"
	"github.com/vincentlarkin/Caddo911-Monitor/internal/store"
)

// stubAdapter serves canned records for one source.
type stubAdapter struct {
	src      incident.Source
	records  []sources.RawRecord
	fetchErr error
}

func (a *stubAdapter) Source() incident.Source { return a.src }

func (a *stubAdapter) Fetch(ctx context.Context) ([]sources.RawRecord, error) {
	if a.fetchErr != nil {
		return nil, &sources.FetchError{Source: a.src, Err: a.fetchErr}
	}
	return a.records, nil
}

func (a *stubAdapter) Normalize(raw sources.RawRecord) (incident.Incident, error) {
	if raw.Description == "" {
		return incident.Incident{}, &sources.NormalizationError{Source: a.src, Reason: "missing description"}
	}
	inc := incident.Incident{
		Source:       a.src,
		Agency:       raw.Agency,
		ReportedTime: raw.Time,
		Units:        1,
		Description:  raw.Description,
		Street:       raw.Street,
		CrossStreets: raw.CrossStreets,
	}
	inc.Fingerprint = incident.Fingerprint(inc)
	return inc, nil
}

// stubGeocoder always answers with a fixed location.
type stubGeocoder struct {
	geo   incident.Geocode
	err   error
	calls atomic.Int64
}

func (g *stubGeocoder) Resolve(ctx context.Context, inc incident.Incident) (incident.Geocode, error) {
	g.calls.Add(1)
	return g.geo, g.err
}

func (g *stubGeocoder) NeedsGeocode(inc incident.Incident) bool {
	return inc.Geocode == nil
}

func (g *stubGeocoder) Improves(old *incident.Geocode, fresh incident.Geocode) bool {
	return old == nil
}

type fixture struct {
	orch     *Orchestrator
	store    *store.Store
	clock    *clockwork.FakeClock
	geocoder *stubGeocoder
}

func newFixture(t *testing.T, adapters ...sources.Adapter) *fixture {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	dataDir := t.TempDir()
	st, err := store.Open(filepath.Join(dataDir, "live.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	cfg := &config.Config{
		Scrape:  config.Scrape{Interval: config.Duration(time.Minute)},
		Geocode: config.Geocode{Concurrency: 2},
		Archive: config.Archive{Age: config.Duration(30 * 24 * time.Hour), Interval: config.Duration(24 * time.Hour)},
		Backup:  config.Backup{Interval: config.Duration(6 * time.Hour), Retention: 3},
	}

	clock := clockwork.NewFakeClockAt(time.Date(2026, 8, 24, 14, 30, 0, 0, time.UTC))
	metrics := observability.NewMetricsForTesting()
	geocoder := &stubGeocoder{
		geo: incident.Geocode{
			Latitude: 32.41, Longitude: -93.74,
			Source: "arcgis", Quality: incident.QualityIntersection,
			Query: "test", GeocodedAt: clock.Now(),
		},
	}

	archiver := archive.New(st, dataDir, cfg.Archive.Age.Std(), clock, logger, metrics)
	backups := backup.New(st, dataDir, cfg.Backup.Retention, false, clock, logger, metrics)

	return &fixture{
		orch:     New(cfg, st, adapters, geocoder, archiver, backups, clock, logger, metrics),
		store:    st,
		clock:    clock,
		geocoder: geocoder,
	}
}

func TestRunCycle(t *testing.T) {
	adapter := &stubAdapter{
		src: incident.SourceCaddo,
		records: []sources.RawRecord{
			{Agency: "CFD", Time: "1432", Description: "STRUCTURE FIRE", CrossStreets: "BAIRD RD & SUSAN DR"},
			{Agency: "CSO", Time: "905", Description: "WRECK", Street: "4100 PINES RD"},
			{Agency: "CFD", Time: "1432"}, // rejected by Normalize
		},
	}
	f := newFixture(t, adapter)

	require.True(t, f.orch.RunCycle(context.Background()))

	status := f.orch.Status()
	assert.Equal(t, StateIdle, status.State)
	assert.NotEmpty(t, status.CycleID)

	counts := status.Sources["caddo"]
	assert.Equal(t, 3, counts.Fetched)
	assert.Equal(t, 2, counts.New)
	assert.Equal(t, 2, counts.Geocoded)
	assert.False(t, counts.Failed)

	active, err := f.store.ActiveIncidents(incident.SourceCaddo)
	require.NoError(t, err)
	require.Len(t, active, 2)
	for _, inc := range active {
		require.NotNil(t, inc.Geocode, "every active incident should have been geocoded")
		assert.Equal(t, incident.QualityIntersection, inc.Geocode.Quality)
	}

	cycles, err := f.store.RecentCycles(10)
	require.NoError(t, err)
	require.Len(t, cycles, 1)
	assert.Equal(t, status.CycleID, cycles[0].ID)
}

func TestRunCycleFetchFailureIsolation(t *testing.T) {
	caddo := &stubAdapter{
		src:     incident.SourceCaddo,
		records: []sources.RawRecord{{Agency: "CFD", Time: "1432", Description: "STRUCTURE FIRE"}},
	}
	br := &stubAdapter{
		src:     incident.SourceBatonRouge,
		records: []sources.RawRecord{{Agency: "BRPD", Time: "2141", Description: "WRECK"}},
	}
	f := newFixture(t, caddo, br)

	require.True(t, f.orch.RunCycle(context.Background()))

	// Second cycle: Caddo's upstream breaks. Its incidents must stay
	// active; Baton Rouge reconciles normally.
	caddo.fetchErr = errors.New("connection refused")
	require.True(t, f.orch.RunCycle(context.Background()))

	status := f.orch.Status()
	assert.True(t, status.Sources["caddo"].Failed)
	assert.NotEmpty(t, status.Sources["caddo"].Error)
	assert.False(t, status.Sources["batonrouge"].Failed)

	caddoActive, err := f.store.ActiveIncidents(incident.SourceCaddo)
	require.NoError(t, err)
	assert.Len(t, caddoActive, 1, "a failed fetch must not deactivate the source's incidents")
}

func TestRunCycleDeactivation(t *testing.T) {
	adapter := &stubAdapter{
		src: incident.SourceCaddo,
		records: []sources.RawRecord{
			{Agency: "CFD", Time: "1432", Description: "STRUCTURE FIRE"},
			{Agency: "CSO", Time: "905", Description: "WRECK"},
		},
	}
	f := newFixture(t, adapter)
	require.True(t, f.orch.RunCycle(context.Background()))

	// The wreck clears from the feed.
	adapter.records = adapter.records[:1]
	require.True(t, f.orch.RunCycle(context.Background()))

	assert.Equal(t, 1, f.orch.Status().Sources["caddo"].Deactivated)

	active, err := f.store.ActiveIncidents(incident.SourceCaddo)
	require.NoError(t, err)
	assert.Len(t, active, 1)
}

func TestRunCycleSkipsSettledGeocodes(t *testing.T) {
	adapter := &stubAdapter{
		src:     incident.SourceCaddo,
		records: []sources.RawRecord{{Agency: "CFD", Time: "1432", Description: "STRUCTURE FIRE"}},
	}
	f := newFixture(t, adapter)

	require.True(t, f.orch.RunCycle(context.Background()))
	first := f.geocoder.calls.Load()
	assert.Equal(t, int64(1), first)

	require.True(t, f.orch.RunCycle(context.Background()))
	assert.Equal(t, first, f.geocoder.calls.Load(),
		"an incident with a settled geocode must not be re-resolved")
}

func TestRunCycleGeocodeFailureLeavesIncidentBare(t *testing.T) {
	adapter := &stubAdapter{
		src:     incident.SourceCaddo,
		records: []sources.RawRecord{{Agency: "CFD", Time: "1432", Description: "STRUCTURE FIRE"}},
	}
	f := newFixture(t, adapter)
	f.geocoder.err = errors.New("provider down")

	require.True(t, f.orch.RunCycle(context.Background()))

	active, err := f.store.ActiveIncidents(incident.SourceCaddo)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Nil(t, active[0].Geocode)
	assert.Zero(t, f.orch.Status().Sources["caddo"].Geocoded)
}

func TestRunArchiveAndBackup(t *testing.T) {
	f := newFixture(t)

	result, err := f.orch.RunArchive(context.Background())
	require.NoError(t, err)
	assert.Zero(t, result.Moved)

	path, err := f.orch.RunBackup(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, path)
}

func TestRunStopsOnCancel(t *testing.T) {
	f := newFixture(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan error, 1)
	go func() { done <- f.orch.Run(ctx) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}

func TestStatusReturnsCopy(t *testing.T) {
	adapter := &stubAdapter{
		src:     incident.SourceCaddo,
		records: []sources.RawRecord{{Agency: "CFD", Time: "1432", Description: "STRUCTURE FIRE"}},
	}
	f := newFixture(t, adapter)
	require.True(t, f.orch.RunCycle(context.Background()))

	status := f.orch.Status()
	status.Sources["caddo"] = store.SourceCounts{Fetched: 999}

	assert.NotEqual(t, 999, f.orch.Status().Sources["caddo"].Fetched,
		"mutating a returned status must not affect the orchestrator")
}

// Full lifecycle of one incident: geocoded on first sight, refreshed on
// reappearance with only last_seen moving, deactivated on disappearance
// with its geocode untouched.
func TestIncidentLifecycle(t *testing.T) {
	record := sources.RawRecord{
		Agency: "CFD3", Time: "2145",
		Description:  "Structure fire",
		CrossStreets: "BAIRD RD & SUSAN DR",
	}
	adapter := &stubAdapter{src: incident.SourceCaddo, records: []sources.RawRecord{record}}
	f := newFixture(t, adapter)

	require.True(t, f.orch.RunCycle(context.Background()))
	active, err := f.store.ActiveIncidents(incident.SourceCaddo)
	require.NoError(t, err)
	require.Len(t, active, 1)
	fingerprint := active[0].Fingerprint
	firstSeen := active[0].FirstSeen
	require.NotNil(t, active[0].Geocode)
	assert.Equal(t, incident.QualityIntersection, active[0].Geocode.Quality)

	// Reappearance: only last_seen moves.
	f.clock.Advance(90 * time.Second)
	require.True(t, f.orch.RunCycle(context.Background()))
	got, err := f.store.GetByFingerprint(fingerprint)
	require.NoError(t, err)
	assert.True(t, got.FirstSeen.Equal(firstSeen))
	assert.True(t, got.LastSeen.After(firstSeen))
	assert.True(t, got.IsActive)

	// Disappearance: inactive, geocode untouched.
	adapter.records = nil
	f.clock.Advance(90 * time.Second)
	require.True(t, f.orch.RunCycle(context.Background()))
	got, err = f.store.GetByFingerprint(fingerprint)
	require.NoError(t, err)
	assert.False(t, got.IsActive)
	require.NotNil(t, got.Geocode)
	assert.Equal(t, incident.QualityIntersection, got.Geocode.Quality)
	assert.Equal(t, 32.41, got.Geocode.Latitude)
}
