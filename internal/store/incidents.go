package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/vincentlarkin/Caddo911-Monitor/internal/incident"
)

// ReconcileResult counts what one source's reconciliation changed.
type ReconcileResult struct {
	Fetched     int
	New         int
	Reactivated int
	Deactivated int
	Conflicts   int
}

// Reconcile applies one source's full observed fingerprint set for a cycle
// in a single transaction, so readers never see a partially-applied cycle:
//
//  1. observed fingerprints not present are inserted active,
//  2. observed fingerprints already present get last_seen refreshed,
//  3. previously active fingerprints absent from the set go inactive.
//
// Callers must NOT invoke this after a failed fetch: an empty set here
// means "the feed really is empty" and deactivates everything.
func (s *Store) Reconcile(src incident.Source, incidents []incident.Incident, now time.Time) (ReconcileResult, error) {
	result := ReconcileResult{Fetched: len(incidents)}
	nowText := formatTime(now)

	tx, err := s.conn.Begin()
	if err != nil {
		return result, fmt.Errorf("begin reconcile: %w", err)
	}
	defer tx.Rollback()

	observed := make(map[string]bool, len(incidents))
	for _, inc := range incidents {
		if inc.Source != src {
			return result, fmt.Errorf("incident source %q does not match cycle source %q", inc.Source, src)
		}
		if observed[inc.Fingerprint] {
			continue // same incident listed twice in one snapshot
		}
		observed[inc.Fingerprint] = true

		var existingSource string
		var wasActive int
		err := tx.QueryRow(
			"SELECT source, is_active FROM incidents WHERE fingerprint = ?", inc.Fingerprint,
		).Scan(&existingSource, &wasActive)

		switch {
		case err == sql.ErrNoRows:
			if _, err := tx.Exec(
				`INSERT INTO incidents
				(fingerprint, source, agency, reported_time, units, description,
				 street, cross_streets, municipality, first_seen, last_seen, is_active)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)`,
				inc.Fingerprint, string(inc.Source), inc.Agency, inc.ReportedTime, inc.Units,
				inc.Description, inc.Street, inc.CrossStreets, inc.Municipality, nowText, nowText,
			); err != nil {
				return result, fmt.Errorf("inserting incident: %w", err)
			}
			result.New++

		case err != nil:
			return result, fmt.Errorf("looking up fingerprint: %w", err)

		case existingSource != string(src):
			// Should not happen: the fingerprint embeds the source. Reject
			// and flag rather than silently overwrite the other source's row.
			result.Conflicts++
			s.logger.WithFields(logrus.Fields{
				"fingerprint": inc.Fingerprint,
				"source":      src,
				"owned_by":    existingSource,
			}).Warn("reconciliation conflict, row rejected")

		default:
			if _, err := tx.Exec(
				"UPDATE incidents SET last_seen = ?, is_active = 1 WHERE fingerprint = ?",
				nowText, inc.Fingerprint,
			); err != nil {
				return result, fmt.Errorf("refreshing incident: %w", err)
			}
			if wasActive == 0 {
				result.Reactivated++
			}
		}
	}

	deactivated, err := deactivateAbsent(tx, src, observed)
	if err != nil {
		return result, err
	}
	result.Deactivated = deactivated

	if err := tx.Commit(); err != nil {
		return result, fmt.Errorf("commit reconcile: %w", err)
	}
	return result, nil
}

// deactivateAbsent marks this source's active rows inactive when their
// fingerprint was not observed this cycle. Other sources are untouched.
func deactivateAbsent(tx *sql.Tx, src incident.Source, observed map[string]bool) (int, error) {
	query := "UPDATE incidents SET is_active = 0 WHERE source = ? AND is_active = 1"
	args := []any{string(src)}

	if len(observed) > 0 {
		placeholders := make([]string, 0, len(observed))
		for fp := range observed {
			placeholders = append(placeholders, "?")
			args = append(args, fp)
		}
		query += " AND fingerprint NOT IN (" + strings.Join(placeholders, ",") + ")"
	}

	res, err := tx.Exec(query, args...)
	if err != nil {
		return 0, fmt.Errorf("deactivating absent incidents: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting deactivated incidents: %w", err)
	}
	return int(n), nil
}

// SetGeocode writes all geocode fields together; the incident either has a
// complete location or none.
func (s *Store) SetGeocode(fingerprint string, geo incident.Geocode) error {
	res, err := s.conn.Exec(
		`UPDATE incidents SET latitude = ?, longitude = ?, geocode_source = ?,
		 geocode_quality = ?, geocode_query = ?, geocoded_at = ?
		 WHERE fingerprint = ?`,
		geo.Latitude, geo.Longitude, geo.Source, string(geo.Quality), geo.Query,
		formatTime(geo.GeocodedAt), fingerprint,
	)
	if err != nil {
		return fmt.Errorf("writing geocode: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("no incident with fingerprint %s", fingerprint)
	}
	return nil
}

// DeleteFingerprints removes rows from the live store. Used by the archiver
// only after the copy into the target partition is durably committed.
func (s *Store) DeleteFingerprints(fingerprints []string) error {
	if len(fingerprints) == 0 {
		return nil
	}

	tx, err := s.conn.Begin()
	if err != nil {
		return fmt.Errorf("begin delete: %w", err)
	}
	defer tx.Rollback()

	for _, fp := range fingerprints {
		if _, err := tx.Exec("DELETE FROM incidents WHERE fingerprint = ?", fp); err != nil {
			return fmt.Errorf("deleting %s: %w", fp, err)
		}
	}
	return tx.Commit()
}
