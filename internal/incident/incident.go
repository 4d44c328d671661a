package incident

import (
	"fmt"
	"time"
)

// Source identifies an ingested jurisdiction feed.
type Source string

const (
	SourceCaddo      Source = "caddo"
	SourceBatonRouge Source = "batonrouge"
	SourceLafayette  Source = "lafayette"
)

// ParseSource validates a source identifier from config or the API.
func ParseSource(s string) (Source, error) {
	switch Source(s) {
	case SourceCaddo, SourceBatonRouge, SourceLafayette:
		return Source(s), nil
	}
	return "", fmt.Errorf("unknown source %q", s)
}

// Quality ranks how specific the query that produced a geocode was.
type Quality string

const (
	QualityIntersection Quality = "intersection-2"
	QualityStreetCross  Quality = "street+cross"
	QualityStreetOnly   Quality = "street-only"
	QualityCrossOnly    Quality = "cross-only"
	QualityCityOnly     Quality = "city-only"
	QualityFallback     Quality = "fallback"
)

// Rank orders quality tiers for comparison. Higher is more specific.
// Street-only and cross-only are equally specific: both pin a single road.
func (q Quality) Rank() int {
	switch q {
	case QualityIntersection:
		return 4
	case QualityStreetCross:
		return 3
	case QualityStreetOnly, QualityCrossOnly:
		return 2
	case QualityCityOnly:
		return 1
	default:
		return 0
	}
}

// Geocode holds a resolved map location. The fields are written together
// or not at all; a nil *Geocode means the incident has no location yet.
type Geocode struct {
	Latitude   float64
	Longitude  float64
	Source     string // provider that answered, or "fallback"
	Quality    Quality
	Query      string // exact query string that produced the result
	GeocodedAt time.Time
}

// Incident is the canonical record every source normalizes into.
type Incident struct {
	ID           int64
	Fingerprint  string
	Source       Source
	Agency       string
	ReportedTime string // HHMM, feed-local
	Units        int
	Description  string
	Street       string
	CrossStreets string
	Municipality string

	Geocode *Geocode

	FirstSeen time.Time
	LastSeen  time.Time
	IsActive  bool
}
