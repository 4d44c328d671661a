package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/vincentlarkin/Caddo911-Monitor/internal/incident"
)

const incidentColumns = `id, fingerprint, source, agency, reported_time, units,
	description, street, cross_streets, municipality,
	latitude, longitude, geocode_source, geocode_quality, geocode_query, geocoded_at,
	first_seen, last_seen, is_active`

// ActiveIncidents returns the currently active incidents for one source,
// newest dispatch first.
func (s *Store) ActiveIncidents(src incident.Source) ([]incident.Incident, error) {
	rows, err := s.conn.Query(
		"SELECT "+incidentColumns+" FROM incidents WHERE source = ? AND is_active = 1 ORDER BY reported_time DESC",
		string(src),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanIncidents(rows)
}

// AllActive returns active incidents across every source.
func (s *Store) AllActive() ([]incident.Incident, error) {
	rows, err := s.conn.Query(
		"SELECT " + incidentColumns + " FROM incidents WHERE is_active = 1 ORDER BY reported_time DESC",
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanIncidents(rows)
}

// History returns inactive incidents, newest first, with the total count
// for pagination. date filters to a single YYYY-MM-DD of first_seen.
func (s *Store) History(limit, offset int, date string) ([]incident.Incident, int, error) {
	query := "SELECT " + incidentColumns + " FROM incidents WHERE is_active = 0"
	countQuery := "SELECT COUNT(*) FROM incidents WHERE is_active = 0"
	var args, countArgs []any

	if date != "" {
		query += " AND DATE(first_seen) = ?"
		countQuery += " AND DATE(first_seen) = ?"
		args = append(args, date)
		countArgs = append(countArgs, date)
	}
	query += " ORDER BY first_seen DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := s.conn.Query(query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	incidents, err := scanIncidents(rows)
	if err != nil {
		return nil, 0, err
	}

	var total int
	if err := s.conn.QueryRow(countQuery, countArgs...).Scan(&total); err != nil {
		return nil, 0, err
	}
	return incidents, total, nil
}

// InactiveBefore returns inactive incidents whose last_seen is older than
// the cutoff: the archiver's candidate set.
func (s *Store) InactiveBefore(cutoff time.Time) ([]incident.Incident, error) {
	rows, err := s.conn.Query(
		"SELECT "+incidentColumns+" FROM incidents WHERE is_active = 0 AND last_seen < ? ORDER BY last_seen",
		formatTime(cutoff),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanIncidents(rows)
}

// AgencyCount is one row of the per-agency active breakdown.
type AgencyCount struct {
	Agency string `json:"agency"`
	Count  int    `json:"count"`
}

// TypeCount is one row of the per-description active breakdown.
type TypeCount struct {
	Description string `json:"description"`
	Count       int    `json:"count"`
}

// Stats contains aggregate store statistics for the API.
type Stats struct {
	Active   int           `json:"active"`
	Today    int           `json:"today"`
	Total    int           `json:"total"`
	ByAgency []AgencyCount `json:"byAgency"`
	ByType   []TypeCount   `json:"byType"`
}

// GetStats aggregates counts over the live store.
func (s *Store) GetStats() (*Stats, error) {
	stats := &Stats{}

	if err := s.conn.QueryRow("SELECT COUNT(*) FROM incidents WHERE is_active = 1").Scan(&stats.Active); err != nil {
		return nil, err
	}
	if err := s.conn.QueryRow("SELECT COUNT(*) FROM incidents WHERE DATE(first_seen) = DATE('now')").Scan(&stats.Today); err != nil {
		return nil, err
	}
	if err := s.conn.QueryRow("SELECT COUNT(*) FROM incidents").Scan(&stats.Total); err != nil {
		return nil, err
	}

	rows, err := s.conn.Query(
		"SELECT agency, COUNT(*) FROM incidents WHERE is_active = 1 GROUP BY agency ORDER BY COUNT(*) DESC",
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var ac AgencyCount
		if err := rows.Scan(&ac.Agency, &ac.Count); err != nil {
			return nil, err
		}
		stats.ByAgency = append(stats.ByAgency, ac)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	typeRows, err := s.conn.Query(
		`SELECT description, COUNT(*) FROM incidents
		 WHERE is_active = 1 GROUP BY description ORDER BY COUNT(*) DESC LIMIT 10`,
	)
	if err != nil {
		return nil, err
	}
	defer typeRows.Close()
	for typeRows.Next() {
		var tc TypeCount
		if err := typeRows.Scan(&tc.Description, &tc.Count); err != nil {
			return nil, err
		}
		stats.ByType = append(stats.ByType, tc)
	}
	return stats, typeRows.Err()
}

// GetByFingerprint returns a single incident, or nil when absent.
func (s *Store) GetByFingerprint(fingerprint string) (*incident.Incident, error) {
	rows, err := s.conn.Query(
		"SELECT "+incidentColumns+" FROM incidents WHERE fingerprint = ?", fingerprint,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	incidents, err := scanIncidents(rows)
	if err != nil {
		return nil, err
	}
	if len(incidents) == 0 {
		return nil, nil
	}
	return &incidents[0], nil
}

func scanIncidents(rows *sql.Rows) ([]incident.Incident, error) {
	var incidents []incident.Incident
	for rows.Next() {
		var inc incident.Incident
		var active int
		var firstSeen, lastSeen string
		var lat, lon sql.NullFloat64
		var geoSource, geoQuality, geoQuery, geocodedAt sql.NullString

		if err := rows.Scan(&inc.ID, &inc.Fingerprint, &inc.Source, &inc.Agency,
			&inc.ReportedTime, &inc.Units, &inc.Description, &inc.Street,
			&inc.CrossStreets, &inc.Municipality,
			&lat, &lon, &geoSource, &geoQuality, &geoQuery, &geocodedAt,
			&firstSeen, &lastSeen, &active); err != nil {
			return nil, err
		}

		inc.FirstSeen = parseTime(firstSeen)
		inc.LastSeen = parseTime(lastSeen)
		inc.IsActive = active != 0

		if lat.Valid && lon.Valid && geoQuality.Valid {
			inc.Geocode = &incident.Geocode{
				Latitude:   lat.Float64,
				Longitude:  lon.Float64,
				Source:     geoSource.String,
				Quality:    incident.Quality(geoQuality.String),
				Query:      geoQuery.String,
				GeocodedAt: parseTime(geocodedAt.String),
			}
		}
		incidents = append(incidents, inc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scanning incidents: %w", err)
	}
	return incidents, nil
}
