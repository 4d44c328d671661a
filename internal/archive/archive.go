// Package archive migrates aged-out inactive incidents from the live store
// into monthly cold partitions.
package archive

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/vincentlarkin/Caddo911-Monitor/internal/incident"
	"github.com/vincentlarkin/Caddo911-Monitor/internal/observability"
	"github.com/vincentlarkin/Caddo911-Monitor/internal/store"
)

// Archiver moves incidents whose inactivity crossed the age threshold into
// the archive partition matching their last_seen month.
type Archiver struct {
	live    *store.Store
	dataDir string
	age     time.Duration
	clock   clockwork.Clock
	logger  *logrus.Logger
	metrics *observability.Metrics
}

// Result summarizes one archival pass.
type Result struct {
	Moved      int
	Partitions map[string]int // YYYY-MM -> rows moved
}

func New(live *store.Store, dataDir string, age time.Duration, clock clockwork.Clock, logger *logrus.Logger, metrics *observability.Metrics) *Archiver {
	return &Archiver{
		live:    live,
		dataDir: dataDir,
		age:     age,
		clock:   clock,
		logger:  logger,
		metrics: metrics,
	}
}

// PartitionPath returns the archive file for a YYYY-MM month key.
func (a *Archiver) PartitionPath(month string) string {
	return filepath.Join(a.dataDir, fmt.Sprintf("archive-%s.db", month))
}

// Run executes one archival pass. For each monthly partition the copy is
// committed before any live row is deleted, so a crash between the two
// steps leaves duplicates-on-next-run work, never data loss; the
// INSERT OR IGNORE fingerprint key absorbs the duplicates.
func (a *Archiver) Run(ctx context.Context) (Result, error) {
	result := Result{Partitions: make(map[string]int)}

	cutoff := a.clock.Now().UTC().Add(-a.age)
	candidates, err := a.live.InactiveBefore(cutoff)
	if err != nil {
		return result, fmt.Errorf("selecting archive candidates: %w", err)
	}
	if len(candidates) == 0 {
		return result, nil
	}

	byMonth := make(map[string][]incident.Incident)
	for _, inc := range candidates {
		month := inc.LastSeen.UTC().Format("2006-01")
		byMonth[month] = append(byMonth[month], inc)
	}

	for month, batch := range byMonth {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		moved, err := a.archiveBatch(month, batch)
		if err != nil {
			// Abort the pass; live rows for this batch are untouched and
			// the next scheduled run retries.
			return result, fmt.Errorf("archiving %s: %w", month, err)
		}
		result.Partitions[month] = moved
		result.Moved += moved
	}

	a.metrics.ArchivedIncidents.Add(float64(result.Moved))
	a.logger.WithFields(logrus.Fields{
		"moved":      result.Moved,
		"partitions": len(result.Partitions),
		"cutoff":     cutoff.Format(time.RFC3339),
	}).Info("archival pass complete")
	return result, nil
}

func (a *Archiver) archiveBatch(month string, batch []incident.Incident) (int, error) {
	partition, err := store.OpenPartition(a.PartitionPath(month))
	if err != nil {
		return 0, err
	}
	defer partition.Close()

	if _, err := partition.InsertArchived(batch); err != nil {
		return 0, err
	}

	// Copy is committed; only now may the live rows go away.
	fingerprints := make([]string, len(batch))
	for i, inc := range batch {
		fingerprints[i] = inc.Fingerprint
	}
	if err := a.live.DeleteFingerprints(fingerprints); err != nil {
		return 0, err
	}
	return len(batch), nil
}

// ReadMonth opens a partition read-only for the API's archive queries.
// Returns an empty slice when the month has no partition file.
func (a *Archiver) ReadMonth(month string) ([]incident.Incident, error) {
	path := a.PartitionPath(month)
	if !fileExists(path) {
		return nil, nil
	}
	partition, err := store.OpenPartition(path)
	if err != nil {
		return nil, err
	}
	defer partition.Close()
	return partition.Incidents()
}
