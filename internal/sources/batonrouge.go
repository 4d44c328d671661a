package sources

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"

	"github.com/vincentlarkin/Caddo911-Monitor/internal/incident"
)

const batonRougeFeedURL = "https://city.brla.gov/traffic/incidents.asp"

// BatonRouge scrapes the city of Baton Rouge traffic incident page.
// Times arrive as 12-hour clock text and are converted to HHMM.
type BatonRouge struct {
	feedURL   string
	userAgent string
	client    *http.Client
	logger    *logrus.Logger
}

func NewBatonRouge(userAgent string, timeoutSeconds int, logger *logrus.Logger) *BatonRouge {
	return &BatonRouge{
		feedURL:   batonRougeFeedURL,
		userAgent: userAgent,
		client:    &http.Client{Timeout: time.Duration(timeoutSeconds) * time.Second},
		logger:    logger,
	}
}

func (b *BatonRouge) Source() incident.Source { return incident.SourceBatonRouge }

func (b *BatonRouge) Fetch(ctx context.Context) ([]RawRecord, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.feedURL, nil)
	if err != nil {
		return nil, &FetchError{Source: b.Source(), Err: err}
	}
	req.Header.Set("User-Agent", b.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, &FetchError{Source: b.Source(), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &FetchError{Source: b.Source(), Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, &FetchError{Source: b.Source(), Err: err}
	}

	var records []RawRecord
	doc.Find("tr").Each(func(_ int, row *goquery.Selection) {
		cells := row.Find("td")
		if cells.Length() < 5 {
			return
		}

		description := cellText(cells, 1)
		if description == "" {
			return
		}

		agency := cellText(cells, 2)
		if agency == "" {
			agency = "UNKNOWN"
		}

		records = append(records, RawRecord{
			Agency:       agency,
			Time:         to24Hour(cellText(cells, 0)),
			Units:        "1",
			Description:  description,
			Street:       cellText(cells, 3),
			CrossStreets: cellText(cells, 4),
			Municipality: "Baton Rouge",
		})
	})

	b.logger.WithFields(logrus.Fields{"source": b.Source(), "rows": len(records)}).Debug("fetched feed")
	return records, nil
}

func (b *BatonRouge) Normalize(raw RawRecord) (incident.Incident, error) {
	return normalizeCommon(b.Source(), raw)
}

var clockRe = regexp.MustCompile(`(?i)(\d{1,2}):(\d{2})(?::\d{2})?\s*([AP]M)`)

// to24Hour converts "9:41:07 PM" style feed times to "2141". Returns ""
// when the upstream format is unrecognizable.
func to24Hour(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}

	for _, layout := range []string{"3:04:05 PM", "3:04 PM"} {
		if t, err := time.Parse(layout, strings.ToUpper(text)); err == nil {
			return t.Format("1504")
		}
	}

	m := clockRe.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	hour := atoiSafe(m[1])
	minute := atoiSafe(m[2])
	if hour == 12 {
		hour = 0
	}
	if strings.EqualFold(m[3], "PM") {
		hour += 12
	}
	if hour > 23 || minute > 59 {
		return ""
	}
	return fmt.Sprintf("%02d%02d", hour, minute)
}

func atoiSafe(s string) int {
	n := 0
	for _, r := range s {
		n = n*10 + int(r-'0')
	}
	return n
}
