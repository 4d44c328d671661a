// Package backup produces point-in-time snapshots of the store files and
// prunes old snapshots under a rolling retention window.
package backup

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/vincentlarkin/Caddo911-Monitor/internal/observability"
	"github.com/vincentlarkin/Caddo911-Monitor/internal/store"
)

const snapshotTimeLayout = "20060102T150405Z"

// Manager writes snapshots of the live store (and optionally the archive
// partitions) into <dataDir>/backups.
type Manager struct {
	live            *store.Store
	dataDir         string
	retention       int
	includeArchives bool
	clock           clockwork.Clock
	logger          *logrus.Logger
	metrics         *observability.Metrics
}

func New(live *store.Store, dataDir string, retention int, includeArchives bool, clock clockwork.Clock, logger *logrus.Logger, metrics *observability.Metrics) *Manager {
	return &Manager{
		live:            live,
		dataDir:         dataDir,
		retention:       retention,
		includeArchives: includeArchives,
		clock:           clock,
		logger:          logger,
		metrics:         metrics,
	}
}

// Dir returns the snapshot directory.
func (m *Manager) Dir() string {
	return filepath.Join(m.dataDir, "backups")
}

// Snapshot writes one consistent copy of the live store via VACUUM INTO
// and prunes snapshots beyond the retention window. Pruning happens only
// after the new snapshot is confirmed on disk, so retention never drops
// below the window.
func (m *Manager) Snapshot(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	dir := m.Dir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating backup directory: %w", err)
	}

	stamp := m.clock.Now().UTC().Format(snapshotTimeLayout)
	dest := filepath.Join(dir, fmt.Sprintf("live-%s.db", stamp))

	if err := m.live.VacuumInto(dest); err != nil {
		return "", fmt.Errorf("snapshotting live store: %w", err)
	}
	if _, err := os.Stat(dest); err != nil {
		return "", fmt.Errorf("confirming snapshot: %w", err)
	}

	if m.includeArchives {
		if err := m.copyArchives(dir, stamp); err != nil {
			// Archive copies are best-effort extras; the live snapshot
			// above already succeeded.
			m.logger.WithError(err).Warn("archive snapshot copy failed")
		}
	}

	pruned, err := m.prune(dir)
	if err != nil {
		return dest, fmt.Errorf("pruning snapshots: %w", err)
	}

	m.metrics.BackupSnapshots.Inc()
	m.logger.WithFields(logrus.Fields{"snapshot": dest, "pruned": pruned}).Info("backup snapshot written")
	return dest, nil
}

// copyArchives copies the immutable monthly partitions alongside the live
// snapshot. Plain file copies are safe: archived partitions never change.
func (m *Manager) copyArchives(dir, stamp string) error {
	months, err := filepath.Glob(filepath.Join(m.dataDir, "archive-*.db"))
	if err != nil {
		return err
	}
	for _, src := range months {
		base := strings.TrimSuffix(filepath.Base(src), ".db")
		dest := filepath.Join(dir, fmt.Sprintf("%s-%s.db", base, stamp))
		if err := copyFile(src, dest); err != nil {
			return err
		}
	}
	return nil
}

// prune deletes live snapshots beyond the retention count, oldest first.
// The timestamped names sort chronologically, so a lexicographic sort is a
// time sort.
func (m *Manager) prune(dir string) (int, error) {
	snapshots, err := filepath.Glob(filepath.Join(dir, "live-*.db"))
	if err != nil {
		return 0, err
	}
	if len(snapshots) <= m.retention {
		return 0, nil
	}

	sort.Strings(snapshots) // oldest first
	excess := snapshots[:len(snapshots)-m.retention]
	for _, path := range excess {
		if err := os.Remove(path); err != nil {
			return 0, fmt.Errorf("removing %s: %w", path, err)
		}
	}
	return len(excess), nil
}

// Snapshots lists current live snapshots, newest first.
func (m *Manager) Snapshots() ([]string, error) {
	snapshots, err := filepath.Glob(filepath.Join(m.Dir(), "live-*.db"))
	if err != nil {
		return nil, err
	}
	sort.Sort(sort.Reverse(sort.StringSlice(snapshots)))
	return snapshots, nil
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
