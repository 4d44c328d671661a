package store

import (
	"encoding/json"
	"fmt"
	"time"
)

// SourceCounts records what one source contributed to a scrape cycle.
type SourceCounts struct {
	Fetched     int    `json:"fetched"`
	New         int    `json:"new"`
	Reactivated int    `json:"reactivated"`
	Deactivated int    `json:"deactivated"`
	Geocoded    int    `json:"geocoded"`
	Failed      bool   `json:"failed"`
	Error       string `json:"error,omitempty"`
}

// Cycle is one scrape run's metadata. The in-memory copy the orchestrator
// holds is authoritative; these rows exist for operator inspection only.
type Cycle struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time
	Sources    map[string]SourceCounts
}

// InsertCycle persists a finalized cycle record.
func (s *Store) InsertCycle(c Cycle) error {
	sources, err := json.Marshal(c.Sources)
	if err != nil {
		return fmt.Errorf("marshaling cycle sources: %w", err)
	}
	_, err = s.conn.Exec(
		"INSERT INTO scrape_cycles (id, started_at, finished_at, sources) VALUES (?, ?, ?, ?)",
		c.ID, formatTime(c.StartedAt), formatTime(c.FinishedAt), string(sources),
	)
	if err != nil {
		return fmt.Errorf("inserting cycle: %w", err)
	}
	return nil
}

// RecentCycles returns the most recent cycle records, newest first.
func (s *Store) RecentCycles(limit int) ([]Cycle, error) {
	rows, err := s.conn.Query(
		"SELECT id, started_at, finished_at, sources FROM scrape_cycles ORDER BY started_at DESC LIMIT ?",
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cycles []Cycle
	for rows.Next() {
		var c Cycle
		var started, finished, sources string
		if err := rows.Scan(&c.ID, &started, &finished, &sources); err != nil {
			return nil, err
		}
		c.StartedAt = parseTime(started)
		c.FinishedAt = parseTime(finished)
		if sources != "" {
			if err := json.Unmarshal([]byte(sources), &c.Sources); err != nil {
				return nil, fmt.Errorf("unmarshaling cycle sources: %w", err)
			}
		}
		cycles = append(cycles, c)
	}
	return cycles, rows.Err()
}
