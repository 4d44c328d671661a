// Package geocode resolves incident addresses to coordinates through a
// tiered query strategy over an ordered chain of providers.
package geocode

import (
	"context"
	"errors"

	"github.com/vincentlarkin/Caddo911-Monitor/internal/incident"
)

// Result is a provider answer. Found is false for an empty (but successful)
// provider response, which advances the chain without counting as an error.
// Provider is filled in by the engine, not the providers themselves, so a
// cached result still records who originally answered.
type Result struct {
	Latitude  float64
	Longitude float64
	Found     bool
	Provider  string
}

// Provider answers a single free-form address query.
type Provider interface {
	Name() string
	Geocode(ctx context.Context, query string) (Result, error)
}

// ErrUnresolved is returned when every strategy and provider attempt is
// exhausted and no fallback region is known for the source.
var ErrUnresolved = errors.New("geocode: address unresolved")

// Region bounds plausible coordinates for one jurisdiction and carries the
// default city/state used to complete queries and the fallback coordinate.
type Region struct {
	City       string
	State      string
	MinLat     float64
	MaxLat     float64
	MinLon     float64
	MaxLon     float64
	DefaultLat float64
	DefaultLon float64
}

// Contains reports whether a coordinate is inside the region. Providers
// occasionally match a same-named street in another state; results outside
// the region are discarded as empty.
func (r Region) Contains(lat, lon float64) bool {
	return lat > r.MinLat && lat < r.MaxLat && lon > r.MinLon && lon < r.MaxLon
}

// regions maps each source to its jurisdiction bounds.
var regions = map[incident.Source]Region{
	incident.SourceCaddo: {
		City: "Shreveport", State: "LA",
		MinLat: 32.0, MaxLat: 33.2, MinLon: -94.2, MaxLon: -93.3,
		DefaultLat: 32.47, DefaultLon: -93.79,
	},
	incident.SourceBatonRouge: {
		City: "Baton Rouge", State: "LA",
		MinLat: 30.2, MaxLat: 30.7, MinLon: -91.4, MaxLon: -90.8,
		DefaultLat: 30.45, DefaultLon: -91.15,
	},
	incident.SourceLafayette: {
		City: "Lafayette", State: "LA",
		MinLat: 30.0, MaxLat: 30.5, MinLon: -92.3, MaxLon: -91.8,
		DefaultLat: 30.22, DefaultLon: -92.02,
	},
}

// RegionFor returns the bounds for a source.
func RegionFor(src incident.Source) (Region, bool) {
	r, ok := regions[src]
	return r, ok
}
