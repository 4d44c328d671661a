// Package orchestrator drives the scrape cycle state machine and the
// independent archival and backup timers.
package orchestrator

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/vincentlarkin/Caddo911-Monitor/internal/archive"
	"github.com/vincentlarkin/Caddo911-Monitor/internal/backup"
	"github.com/vincentlarkin/Caddo911-Monitor/internal/config"
	"github.com/vincentlarkin/Caddo911-Monitor/internal/incident"
	"github.com/vincentlarkin/Caddo911-Monitor/internal/observability"
	"github.com/vincentlarkin/Caddo911-Monitor/internal/sources"
	"github.com/vincentlarkin/Caddo911-Monitor/internal/store"
)

// State names one phase of the scrape cycle.
type State string

const (
	StateIdle        State = "idle"
	StateFetching    State = "fetching"
	StateReconciling State = "reconciling"
	StateGeocoding   State = "geocoding"
	StateFinalizing  State = "finalizing"
)

// Status is the rolling view of the most recent cycle, served by the API.
type Status struct {
	State      State                         `json:"state"`
	CycleID    string                        `json:"cycleId"`
	StartedAt  time.Time                     `json:"startedAt"`
	FinishedAt time.Time                     `json:"finishedAt"`
	Sources    map[string]store.SourceCounts `json:"sources"`
}

// Geocoder is the location-resolution surface the cycle needs. Satisfied by
// *geocode.Engine.
type Geocoder interface {
	Resolve(ctx context.Context, inc incident.Incident) (incident.Geocode, error)
	NeedsGeocode(inc incident.Incident) bool
	Improves(old *incident.Geocode, fresh incident.Geocode) bool
}

// Orchestrator owns the scrape/archive/backup schedule. All multi-statement
// store mutations are serialized through storeMu so a cycle, an archival
// pass, and a snapshot never interleave.
type Orchestrator struct {
	cfg      *config.Config
	store    *store.Store
	adapters []sources.Adapter
	engine   Geocoder
	archiver *archive.Archiver
	backups  *backup.Manager
	clock    clockwork.Clock
	logger   *logrus.Logger
	metrics  *observability.Metrics

	inFlight atomic.Bool
	storeMu  sync.Mutex

	statusMu sync.RWMutex
	status   Status
}

func New(
	cfg *config.Config,
	st *store.Store,
	adapters []sources.Adapter,
	engine Geocoder,
	archiver *archive.Archiver,
	backups *backup.Manager,
	clock clockwork.Clock,
	logger *logrus.Logger,
	metrics *observability.Metrics,
) *Orchestrator {
	return &Orchestrator{
		cfg:      cfg,
		store:    st,
		adapters: adapters,
		engine:   engine,
		archiver: archiver,
		backups:  backups,
		clock:    clock,
		logger:   logger,
		metrics:  metrics,
		status:   Status{State: StateIdle, Sources: map[string]store.SourceCounts{}},
	}
}

// Run executes the schedule until the context is cancelled. One timer
// drives scrape cycles, two more drive archival and backup. Cycles run
// inline in the loop, so a slow cycle delays (and the in-flight guard
// drops) later ticks instead of queueing them.
func (o *Orchestrator) Run(ctx context.Context) error {
	scrapeTicker := o.clock.NewTicker(o.cfg.Scrape.Interval.Std())
	defer scrapeTicker.Stop()
	archiveTicker := o.clock.NewTicker(o.cfg.Archive.Interval.Std())
	defer archiveTicker.Stop()
	backupTicker := o.clock.NewTicker(o.cfg.Backup.Interval.Std())
	defer backupTicker.Stop()

	o.RunCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			o.logger.WithField("reason", ctx.Err()).Info("orchestrator stopping")
			return nil
		case <-scrapeTicker.Chan():
			o.RunCycle(ctx)
		case <-archiveTicker.Chan():
			if _, err := o.RunArchive(ctx); err != nil && ctx.Err() == nil {
				o.logger.WithError(err).Error("archival pass failed")
			}
		case <-backupTicker.Chan():
			if _, err := o.RunBackup(ctx); err != nil && ctx.Err() == nil {
				o.logger.WithError(err).Error("backup failed")
			}
		}
	}
}

// RunCycle executes one fetch-reconcile-geocode cycle across all sources.
// Returns false when a cycle is already in flight (the tick is dropped).
func (o *Orchestrator) RunCycle(ctx context.Context) bool {
	if !o.inFlight.CompareAndSwap(false, true) {
		o.logger.Debug("cycle already in flight, tick dropped")
		return false
	}
	defer o.inFlight.Store(false)

	start := o.clock.Now().UTC()
	cycle := store.Cycle{
		ID:        uuid.NewString(),
		StartedAt: start,
		Sources:   make(map[string]store.SourceCounts, len(o.adapters)),
	}
	o.beginStatus(cycle.ID, start)

	for _, adapter := range o.adapters {
		// Shutdown interrupts at source boundaries; unprocessed sources
		// are simply not reconciled this cycle.
		if ctx.Err() != nil {
			break
		}
		counts := o.runSource(ctx, adapter)
		cycle.Sources[string(adapter.Source())] = counts
		o.updateSourceStatus(string(adapter.Source()), counts)
	}

	o.setState(StateFinalizing)
	cycle.FinishedAt = o.clock.Now().UTC()

	o.storeMu.Lock()
	err := o.store.InsertCycle(cycle)
	o.storeMu.Unlock()
	if err != nil {
		o.logger.WithError(err).Warn("recording cycle metadata failed")
	}

	o.metrics.CyclesTotal.Inc()
	o.metrics.CycleDuration.Observe(cycle.FinishedAt.Sub(start).Seconds())
	o.finishStatus(cycle.FinishedAt)

	o.logger.WithFields(logrus.Fields{
		"cycle":    cycle.ID,
		"duration": cycle.FinishedAt.Sub(start).String(),
		"sources":  len(cycle.Sources),
	}).Info("scrape cycle complete")
	return true
}

// runSource runs one source through the cycle phases. A fetch failure
// records the error and skips reconciliation entirely: partial data must
// never be read as "everything else disappeared".
func (o *Orchestrator) runSource(ctx context.Context, adapter sources.Adapter) store.SourceCounts {
	src := adapter.Source()
	log := o.logger.WithField("source", src)

	o.setState(StateFetching)
	raws, err := adapter.Fetch(ctx)
	if err != nil {
		o.metrics.FetchErrors.WithLabelValues(string(src)).Inc()
		log.WithError(err).Warn("fetch failed, source skipped this cycle")
		return store.SourceCounts{Failed: true, Error: err.Error()}
	}

	incidents := make([]incident.Incident, 0, len(raws))
	for _, raw := range raws {
		inc, err := adapter.Normalize(raw)
		if err != nil {
			log.WithError(err).Debug("record rejected")
			continue
		}
		incidents = append(incidents, inc)
	}

	o.setState(StateReconciling)
	o.storeMu.Lock()
	result, err := o.store.Reconcile(src, incidents, o.clock.Now().UTC())
	o.storeMu.Unlock()
	if err != nil {
		log.WithError(err).Error("reconcile failed")
		return store.SourceCounts{Fetched: len(raws), Failed: true, Error: err.Error()}
	}

	o.metrics.IncidentsNew.WithLabelValues(string(src)).Add(float64(result.New))
	o.metrics.IncidentsDeactivated.WithLabelValues(string(src)).Add(float64(result.Deactivated))
	o.metrics.ActiveIncidents.WithLabelValues(string(src)).Set(float64(len(incidents)))

	o.setState(StateGeocoding)
	geocoded := o.geocodeSource(ctx, src)

	return store.SourceCounts{
		Fetched:     len(raws),
		New:         result.New,
		Reactivated: result.Reactivated,
		Deactivated: result.Deactivated,
		Geocoded:    geocoded,
	}
}

// geocodeSource resolves locations for this source's active incidents that
// still need one. Provider calls run outside any store transaction with
// bounded concurrency; each accepted result is a single short write.
func (o *Orchestrator) geocodeSource(ctx context.Context, src incident.Source) int {
	active, err := o.store.ActiveIncidents(src)
	if err != nil {
		o.logger.WithError(err).Error("listing geocode candidates failed")
		return 0
	}

	var candidates []incident.Incident
	for _, inc := range active {
		if o.engine.NeedsGeocode(inc) {
			candidates = append(candidates, inc)
		}
	}
	if len(candidates) == 0 {
		return 0
	}

	concurrency := o.cfg.Geocode.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	var geocoded atomic.Int64

	for _, inc := range candidates {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(inc incident.Incident) {
			defer wg.Done()
			defer func() { <-sem }()

			fresh, err := o.engine.Resolve(ctx, inc)
			if err != nil {
				// Unresolved incidents stay coordinate-free and are
				// retried next eligible cycle.
				o.logger.WithField("fingerprint", inc.Fingerprint).
					WithError(err).Debug("geocode unresolved")
				return
			}
			if !o.engine.Improves(inc.Geocode, fresh) {
				return
			}
			if err := o.store.SetGeocode(inc.Fingerprint, fresh); err != nil {
				o.logger.WithError(err).Warn("writing geocode failed")
				return
			}
			geocoded.Add(1)
		}(inc)
	}
	wg.Wait()
	return int(geocoded.Load())
}

// RunArchive executes one archival pass, serialized against cycles.
func (o *Orchestrator) RunArchive(ctx context.Context) (archive.Result, error) {
	o.storeMu.Lock()
	defer o.storeMu.Unlock()
	return o.archiver.Run(ctx)
}

// RunBackup writes one snapshot, serialized against cycles.
func (o *Orchestrator) RunBackup(ctx context.Context) (string, error) {
	o.storeMu.Lock()
	defer o.storeMu.Unlock()
	return o.backups.Snapshot(ctx)
}

// Status returns a copy of the rolling cycle status.
func (o *Orchestrator) Status() Status {
	o.statusMu.RLock()
	defer o.statusMu.RUnlock()

	copied := o.status
	copied.Sources = make(map[string]store.SourceCounts, len(o.status.Sources))
	for k, v := range o.status.Sources {
		copied.Sources[k] = v
	}
	return copied
}

func (o *Orchestrator) setState(state State) {
	o.statusMu.Lock()
	o.status.State = state
	o.statusMu.Unlock()
}

func (o *Orchestrator) beginStatus(cycleID string, start time.Time) {
	o.statusMu.Lock()
	o.status = Status{
		State:     StateFetching,
		CycleID:   cycleID,
		StartedAt: start,
		Sources:   map[string]store.SourceCounts{},
	}
	o.statusMu.Unlock()
}

func (o *Orchestrator) updateSourceStatus(name string, counts store.SourceCounts) {
	o.statusMu.Lock()
	o.status.Sources[name] = counts
	o.statusMu.Unlock()
}

func (o *Orchestrator) finishStatus(finished time.Time) {
	o.statusMu.Lock()
	o.status.State = StateIdle
	o.status.FinishedAt = finished
	o.statusMu.Unlock()
}
