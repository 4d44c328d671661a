package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"

	"github.com/vincentlarkin/Caddo911-Monitor/internal/incident"
)

const lafayetteFeedURL = "https://lafayette911.org/wp-json/traffic-feed/v1/data"

// Lafayette pulls the Lafayette 911 traffic feed: a JSON envelope whose
// data field is an HTML table fragment.
type Lafayette struct {
	feedURL   string
	userAgent string
	client    *http.Client
	logger    *logrus.Logger
}

func NewLafayette(userAgent string, timeoutSeconds int, logger *logrus.Logger) *Lafayette {
	return &Lafayette{
		feedURL:   lafayetteFeedURL,
		userAgent: userAgent,
		client:    &http.Client{Timeout: time.Duration(timeoutSeconds) * time.Second},
		logger:    logger,
	}
}

func (l *Lafayette) Source() incident.Source { return incident.SourceLafayette }

type lafayetteEnvelope struct {
	Success bool   `json:"success"`
	Data    string `json:"data"`
}

func (l *Lafayette) Fetch(ctx context.Context) ([]RawRecord, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.feedURL, nil)
	if err != nil {
		return nil, &FetchError{Source: l.Source(), Err: err}
	}
	req.Header.Set("User-Agent", l.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, &FetchError{Source: l.Source(), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &FetchError{Source: l.Source(), Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}

	var envelope lafayetteEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, &FetchError{Source: l.Source(), Err: fmt.Errorf("decoding envelope: %w", err)}
	}
	if !envelope.Success {
		return nil, &FetchError{Source: l.Source(), Err: fmt.Errorf("feed reported success=false")}
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(envelope.Data))
	if err != nil {
		return nil, &FetchError{Source: l.Source(), Err: err}
	}

	var records []RawRecord
	doc.Find("tr").Each(func(_ int, row *goquery.Selection) {
		cells := row.Find("td")
		if cells.Length() < 4 {
			return
		}

		locationRaw := cellText(cells, 0)
		if strings.EqualFold(locationRaw, "located at") {
			return // header row repeated inside the fragment
		}

		description := cellText(cells, 1)
		if description == "" {
			return
		}

		street, crossStreets, municipality := splitLocatedAt(locationRaw)
		agency := normalizeAssisting(cellText(cells, 3))
		if agency == "" {
			agency = "UNKNOWN"
		}

		records = append(records, RawRecord{
			Agency:       agency,
			Time:         parseLafayetteTime(cellText(cells, 2)),
			Units:        "1",
			Description:  description,
			Street:       street,
			CrossStreets: crossStreets,
			Municipality: municipality,
		})
	})

	l.logger.WithFields(logrus.Fields{"source": l.Source(), "rows": len(records)}).Debug("fetched feed")
	return records, nil
}

func (l *Lafayette) Normalize(raw RawRecord) (incident.Incident, error) {
	return normalizeCommon(l.Source(), raw)
}

var (
	lafayetteCityRe = regexp.MustCompile(`([A-Za-z]+)\s*,\s*LA\b`)
	lafayetteTimeRe = regexp.MustCompile(`(\d{1,2}):(\d{2})`)
	assistingRe     = regexp.MustCompile(`\b(FIRE|POLICE|SHERIFF)\b`)
)

// splitLocatedAt parses the feed's "Located At" field. Typical shapes:
// "JOHNSTON ST / AMBASSADOR CAFFERY PKWY LAFAYETTE, LA" or a bare street.
// Parish municipalities are all single words, so the city is the last word
// before the ", LA" suffix.
func splitLocatedAt(raw string) (street, crossStreets, municipality string) {
	base := strings.Join(strings.Fields(raw), " ")
	if base == "" {
		return "", "", ""
	}

	if m := lafayetteCityRe.FindStringSubmatchIndex(base); m != nil {
		municipality = strings.TrimSpace(base[m[2]:m[3]])
		base = strings.TrimSpace(base[:m[0]])
	}

	if left, right, found := strings.Cut(base, "/"); found {
		return strings.TrimSpace(left), strings.TrimSpace(right), municipality
	}
	return base, "", municipality
}

// parseLafayetteTime converts "08/24/2026 14:05" timestamps to "1405".
func parseLafayetteTime(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}
	if t, err := time.Parse("01/02/2006 15:04", text); err == nil {
		return t.Format("1504")
	}
	m := lafayetteTimeRe.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	hour := atoiSafe(m[1])
	minute := atoiSafe(m[2])
	if hour > 23 || minute > 59 {
		return ""
	}
	return fmt.Sprintf("%02d%02d", hour, minute)
}

// normalizeAssisting keeps known assisting units in feed order, deduplicated.
func normalizeAssisting(raw string) string {
	raw = strings.ToUpper(strings.Join(strings.Fields(raw), " "))
	matches := assistingRe.FindAllString(raw, -1)
	if len(matches) == 0 {
		return raw
	}
	seen := make(map[string]bool, len(matches))
	var units []string
	for _, unit := range matches {
		if seen[unit] {
			continue
		}
		seen[unit] = true
		units = append(units, unit)
	}
	return strings.Join(units, " / ")
}
