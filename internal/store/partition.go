package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/vincentlarkin/Caddo911-Monitor/internal/incident"
)

// Partition is one monthly archive file. It carries the same incidents
// table as the live store, keyed by fingerprint, and nothing else.
type Partition struct {
	conn *sql.DB
	path string
}

// OpenPartition creates or opens a monthly archive database.
func OpenPartition(path string) (*Partition, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening partition: %w", err)
	}
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}
	if _, err := conn.Exec(incidentsSchema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("creating partition schema: %w", err)
	}
	return &Partition{conn: conn, path: path}, nil
}

// Close closes the partition connection.
func (p *Partition) Close() error {
	return p.conn.Close()
}

// Path returns the partition file path.
func (p *Partition) Path() string {
	return p.path
}

// InsertArchived copies incidents into the partition in one transaction.
// INSERT OR IGNORE over the fingerprint unique key makes re-runs of the
// same cutoff idempotent.
func (p *Partition) InsertArchived(incidents []incident.Incident) (int, error) {
	tx, err := p.conn.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin archive insert: %w", err)
	}
	defer tx.Rollback()

	inserted := 0
	for _, inc := range incidents {
		var lat, lon any
		var geoSource, geoQuality, geoQuery, geocodedAt any
		if inc.Geocode != nil {
			lat, lon = inc.Geocode.Latitude, inc.Geocode.Longitude
			geoSource = inc.Geocode.Source
			geoQuality = string(inc.Geocode.Quality)
			geoQuery = inc.Geocode.Query
			geocodedAt = formatTime(inc.Geocode.GeocodedAt)
		}

		res, err := tx.Exec(
			`INSERT OR IGNORE INTO incidents
			(fingerprint, source, agency, reported_time, units, description,
			 street, cross_streets, municipality,
			 latitude, longitude, geocode_source, geocode_quality, geocode_query, geocoded_at,
			 first_seen, last_seen, is_active)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0)`,
			inc.Fingerprint, string(inc.Source), inc.Agency, inc.ReportedTime, inc.Units,
			inc.Description, inc.Street, inc.CrossStreets, inc.Municipality,
			lat, lon, geoSource, geoQuality, geoQuery, geocodedAt,
			formatTime(inc.FirstSeen), formatTime(inc.LastSeen),
		)
		if err != nil {
			return 0, fmt.Errorf("archiving %s: %w", inc.Fingerprint, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			inserted++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit archive insert: %w", err)
	}
	return inserted, nil
}

// Incidents returns every archived incident in the partition, oldest first.
func (p *Partition) Incidents() ([]incident.Incident, error) {
	rows, err := p.conn.Query(
		"SELECT " + incidentColumns + " FROM incidents ORDER BY last_seen",
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanIncidents(rows)
}

// IncidentsBetween returns archived incidents whose last_seen falls in
// [from, to).
func (p *Partition) IncidentsBetween(from, to time.Time) ([]incident.Incident, error) {
	rows, err := p.conn.Query(
		"SELECT "+incidentColumns+" FROM incidents WHERE last_seen >= ? AND last_seen < ? ORDER BY last_seen",
		formatTime(from), formatTime(to),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanIncidents(rows)
}
