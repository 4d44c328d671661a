// Package sources holds the per-jurisdiction feed adapters. Each adapter
// knows how to reach and parse one upstream feed and how to turn its raw
// rows into the canonical incident shape.
package sources

import (
	"context"
	"fmt"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/vincentlarkin/Caddo911-Monitor/internal/incident"
)

// RawRecord is one row as a source's feed presented it, before validation.
type RawRecord struct {
	Agency       string
	Time         string
	Units        string
	Description  string
	Street       string
	CrossStreets string
	Municipality string
}

// Adapter fetches and normalizes one jurisdiction's feed.
type Adapter interface {
	Source() incident.Source
	Fetch(ctx context.Context) ([]RawRecord, error)
	Normalize(raw RawRecord) (incident.Incident, error)
}

// FetchError wraps an upstream failure. It aborts only the failing source's
// step in a cycle; other sources proceed.
type FetchError struct {
	Source incident.Source
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetching %s: %v", e.Source, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// NormalizationError rejects a single record without aborting the cycle.
type NormalizationError struct {
	Source incident.Source
	Reason string
}

func (e *NormalizationError) Error() string {
	return fmt.Sprintf("normalizing %s record: %s", e.Source, e.Reason)
}

// ForNames builds adapters for the configured source identifiers.
func ForNames(names []string, userAgent string, timeoutSeconds int, logger *logrus.Logger) ([]Adapter, error) {
	adapters := make([]Adapter, 0, len(names))
	for _, name := range names {
		src, err := incident.ParseSource(name)
		if err != nil {
			return nil, err
		}
		switch src {
		case incident.SourceCaddo:
			adapters = append(adapters, NewCaddo(userAgent, timeoutSeconds, logger))
		case incident.SourceBatonRouge:
			adapters = append(adapters, NewBatonRouge(userAgent, timeoutSeconds, logger))
		case incident.SourceLafayette:
			adapters = append(adapters, NewLafayette(userAgent, timeoutSeconds, logger))
		}
	}
	return adapters, nil
}

// normalizeCommon validates the fields every source must provide and builds
// the canonical incident. The caller fills source-specific defaults first.
func normalizeCommon(src incident.Source, raw RawRecord) (incident.Incident, error) {
	if raw.Agency == "" {
		return incident.Incident{}, &NormalizationError{Source: src, Reason: "missing agency code"}
	}
	if raw.Description == "" {
		return incident.Incident{}, &NormalizationError{Source: src, Reason: "missing description"}
	}

	units := 1
	if n, err := strconv.Atoi(raw.Units); err == nil && n > 0 {
		units = n
	}

	inc := incident.Incident{
		Source:       src,
		Agency:       raw.Agency,
		ReportedTime: raw.Time,
		Units:        units,
		Description:  raw.Description,
		Street:       raw.Street,
		CrossStreets: raw.CrossStreets,
		Municipality: raw.Municipality,
	}
	inc.Fingerprint = incident.Fingerprint(inc)
	return inc, nil
}
