package sources

import (
	"context"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"

	"github.com/vincentlarkin/Caddo911-Monitor/internal/incident"
)

const caddoBaseURL = "https://ias.ecc.caddo911.com/All_ActiveEvents.aspx"

// Caddo scrapes the Caddo Parish 911 active events page. The site is
// ASP.NET and refuses to serve data until a session cookie is established.
type Caddo struct {
	baseURL   string
	userAgent string
	client    *http.Client
	logger    *logrus.Logger
}

func NewCaddo(userAgent string, timeoutSeconds int, logger *logrus.Logger) *Caddo {
	jar, _ := cookiejar.New(nil)
	return &Caddo{
		baseURL:   caddoBaseURL,
		userAgent: userAgent,
		client: &http.Client{
			Timeout: time.Duration(timeoutSeconds) * time.Second,
			Jar:     jar,
		},
		logger: logger,
	}
}

func (c *Caddo) Source() incident.Source { return incident.SourceCaddo }

func (c *Caddo) Fetch(ctx context.Context) ([]RawRecord, error) {
	doc, err := c.fetchDocument(ctx)
	if err != nil {
		return nil, &FetchError{Source: c.Source(), Err: err}
	}

	var records []RawRecord
	doc.Find("table tr").Each(func(_ int, row *goquery.Selection) {
		cells := row.Find("td")
		if cells.Length() < 6 {
			return
		}

		rec := RawRecord{
			Agency:       cellText(cells, 0),
			Time:         cellText(cells, 1),
			Units:        cellText(cells, 2),
			Description:  cellText(cells, 3),
			Street:       cellText(cells, 4),
			CrossStreets: cellText(cells, 5),
		}
		if cells.Length() > 6 {
			rec.Municipality = cellText(cells, 6)
		}

		// Layout rows share the table markup; real rows have a short
		// agency code and a 3-4 digit dispatch time.
		if !isCaddoDataRow(rec) {
			return
		}
		records = append(records, rec)
	})

	c.logger.WithFields(logrus.Fields{"source": c.Source(), "rows": len(records)}).Debug("fetched feed")
	return records, nil
}

func (c *Caddo) fetchDocument(ctx context.Context) (*goquery.Document, error) {
	resp, err := c.get(ctx, c.baseURL)
	if err != nil {
		return nil, err
	}

	// First request may bounce through the cookie-support probe.
	if strings.Contains(resp.Request.URL.String(), "AspxAutoDetectCookieSupport") {
		resp.Body.Close()
		resp, err = c.get(ctx, c.baseURL+"?AspxAutoDetectCookieSupport=1")
		if err != nil {
			return nil, err
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return goquery.NewDocumentFromReader(resp.Body)
}

func (c *Caddo) get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")
	return c.client.Do(req)
}

func (c *Caddo) Normalize(raw RawRecord) (incident.Incident, error) {
	return normalizeCommon(c.Source(), raw)
}

func isCaddoDataRow(rec RawRecord) bool {
	if rec.Agency == "" || len(rec.Agency) > 10 || rec.Description == "" {
		return false
	}
	if rec.Time == "" || len(rec.Time) > 4 {
		return false
	}
	for _, r := range rec.Time {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func cellText(cells *goquery.Selection, i int) string {
	return strings.Join(strings.Fields(cells.Eq(i).Text()), " ")
}
