package geocode

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/vincentlarkin/Caddo911-Monitor/internal/config"
	"github.com/vincentlarkin/Caddo911-Monitor/internal/incident"
	"github.com/vincentlarkin/Caddo911-Monitor/internal/observability"
)

// Engine resolves incident locations. Query strategies are tried from most
// to least specific; within each strategy every provider is tried in
// priority order before the engine moves down a tier, so the tie-break
// policy stays auditable in one place.
type Engine struct {
	providers []Provider
	cache     *queryCache
	limiter   *rate.Limiter
	clock     clockwork.Clock
	logger    *logrus.Logger
	metrics   *observability.Metrics

	requeryBelow         incident.Quality
	minImprovementMeters float64
}

// New builds an engine from config. Provider names outside the known set
// are rejected so a config typo fails at startup, not mid-cycle.
func New(cfg config.Geocode, userAgent string, logger *logrus.Logger, metrics *observability.Metrics, clock clockwork.Clock) (*Engine, error) {
	providers := make([]Provider, 0, len(cfg.Providers))
	for _, name := range cfg.Providers {
		switch name {
		case "arcgis":
			providers = append(providers, NewArcGIS(cfg.Timeout.Std()))
		case "nominatim":
			providers = append(providers, NewNominatim(userAgent, cfg.Timeout.Std()))
		default:
			return nil, fmt.Errorf("unknown geocode provider %q", name)
		}
	}
	if len(providers) == 0 {
		return nil, fmt.Errorf("no geocode providers configured")
	}

	return &Engine{
		providers:            providers,
		cache:                newQueryCache(cfg.CacheSize),
		limiter:              rate.NewLimiter(rate.Limit(cfg.RatePerSecond), 1),
		clock:                clock,
		logger:               logger,
		metrics:              metrics,
		requeryBelow:         incident.Quality(cfg.RequeryBelow),
		minImprovementMeters: cfg.MinImprovementMeters,
	}, nil
}

// candidate pairs a query string with the quality tier it would earn.
type candidate struct {
	query   string
	quality incident.Quality
}

// Resolve geocodes an incident, returning the best location any strategy
// produced. When every provider attempt fails it falls back to the source's
// default coordinate; ErrUnresolved only occurs for an unknown source.
func (e *Engine) Resolve(ctx context.Context, inc incident.Incident) (incident.Geocode, error) {
	region, ok := RegionFor(inc.Source)
	if !ok {
		return incident.Geocode{}, ErrUnresolved
	}

	for _, cand := range e.buildCandidates(inc, region) {
		if result, ok := e.cache.get(cand.query); ok {
			e.metrics.GeocodeCache.WithLabelValues("hit").Inc()
			return e.located(cand, result), nil
		}
		e.metrics.GeocodeCache.WithLabelValues("miss").Inc()

		for _, provider := range e.providers {
			result, err := e.tryProvider(ctx, provider, cand.query, region)
			if err != nil {
				if ctx.Err() != nil {
					return incident.Geocode{}, ctx.Err()
				}
				continue // provider failure advances the provider chain, not the tier
			}
			if !result.Found {
				continue
			}

			result.Provider = provider.Name()
			e.cache.put(cand.query, result)
			return e.located(cand, result), nil
		}
	}

	// Every strategy and provider exhausted: pin to the source region so
	// the incident still lands on the map, marked as lowest quality.
	e.logger.WithFields(logrus.Fields{
		"source": inc.Source,
		"street": inc.Street,
		"cross":  inc.CrossStreets,
	}).Debug("geocode fell back to region default")

	return incident.Geocode{
		Latitude:   region.DefaultLat,
		Longitude:  region.DefaultLon,
		Source:     "fallback",
		Quality:    incident.QualityFallback,
		Query:      fmt.Sprintf("%s, %s", region.City, region.State),
		GeocodedAt: e.clock.Now().UTC(),
	}, nil
}

func (e *Engine) tryProvider(ctx context.Context, provider Provider, query string, region Region) (Result, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return Result{}, err
	}

	start := time.Now()
	result, err := provider.Geocode(ctx, query)
	e.metrics.GeocodeDuration.WithLabelValues(provider.Name()).Observe(time.Since(start).Seconds())

	if err != nil {
		e.metrics.GeocodeRequests.WithLabelValues(provider.Name(), "error").Inc()
		e.logger.WithFields(logrus.Fields{"provider": provider.Name(), "query": query}).
			WithError(err).Warn("geocode provider failed")
		return Result{}, err
	}
	if !result.Found || !region.Contains(result.Latitude, result.Longitude) {
		e.metrics.GeocodeRequests.WithLabelValues(provider.Name(), "empty").Inc()
		return Result{Found: false}, nil
	}

	e.metrics.GeocodeRequests.WithLabelValues(provider.Name(), "success").Inc()
	return result, nil
}

func (e *Engine) located(cand candidate, result Result) incident.Geocode {
	return incident.Geocode{
		Latitude:   result.Latitude,
		Longitude:  result.Longitude,
		Source:     result.Provider,
		Quality:    cand.quality,
		Query:      cand.query,
		GeocodedAt: e.clock.Now().UTC(),
	}
}

// buildCandidates lists query strategies from most to least specific.
func (e *Engine) buildCandidates(inc incident.Incident, region Region) []candidate {
	city := strings.TrimSpace(inc.Municipality)
	if city == "" {
		city = region.City
	}
	suffix := fmt.Sprintf(", %s, %s", city, region.State)

	street := cleanStreet(inc.Street)
	crosses := splitCrossStreets(inc.CrossStreets)

	var cands []candidate
	if len(crosses) >= 2 {
		cands = append(cands, candidate{
			query:   fmt.Sprintf("%s & %s%s", crosses[0], crosses[1], suffix),
			quality: incident.QualityIntersection,
		})
	}
	if street != "" && len(crosses) >= 1 {
		cands = append(cands, candidate{
			query:   fmt.Sprintf("%s & %s%s", street, crosses[0], suffix),
			quality: incident.QualityStreetCross,
		})
	}
	if street != "" {
		cands = append(cands, candidate{
			query:   street + suffix,
			quality: incident.QualityStreetOnly,
		})
	}
	if street == "" && len(crosses) >= 1 {
		cands = append(cands, candidate{
			query:   crosses[0] + suffix,
			quality: incident.QualityCrossOnly,
		})
	}
	cands = append(cands, candidate{
		query:   fmt.Sprintf("%s, %s", city, region.State),
		quality: incident.QualityCityOnly,
	})
	return cands
}

// NeedsGeocode reports whether an incident should be (re-)geocoded this
// cycle: no location yet, or one below the configured acceptable tier.
func (e *Engine) NeedsGeocode(inc incident.Incident) bool {
	if inc.Geocode == nil {
		return true
	}
	return inc.Geocode.Quality.Rank() < e.requeryBelow.Rank()
}

// Improves decides whether a fresh result replaces the stored geocode.
// Quality is monotonically non-decreasing: a lower tier never replaces a
// higher one. At equal tier, the coordinate must move at least the
// configured distance to count as materially different.
func (e *Engine) Improves(old *incident.Geocode, fresh incident.Geocode) bool {
	if old == nil {
		return true
	}
	if fresh.Quality.Rank() > old.Quality.Rank() {
		return true
	}
	if fresh.Quality.Rank() == old.Quality.Rank() {
		return haversineMeters(old.Latitude, old.Longitude, fresh.Latitude, fresh.Longitude) >= e.minImprovementMeters
	}
	return false
}

// splitCrossStreets parses the feed's "A & B" cross street field, dropping
// placeholders like DEAD END.
func splitCrossStreets(raw string) []string {
	var crosses []string
	for _, part := range strings.Split(raw, "&") {
		part = strings.Join(strings.Fields(part), " ")
		if part == "" || strings.EqualFold(part, "DEAD END") {
			continue
		}
		crosses = append(crosses, part)
	}
	return crosses
}

func cleanStreet(raw string) string {
	return strings.Join(strings.Fields(raw), " ")
}

const earthRadiusMeters = 6371000

func haversineMeters(lat1, lon1, lat2, lon2 float64) float64 {
	const deg = math.Pi / 180
	dLat := (lat2 - lat1) * deg
	dLon := (lon2 - lon1) * deg
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*deg)*math.Cos(lat2*deg)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusMeters * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}
