package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

const arcgisBaseURL = "https://geocode.arcgis.com/arcgis/rest/services/World/GeocodeServer/findAddressCandidates"

// ArcGIS is the primary provider. No API key is required for single-line
// candidate lookups, and its US street/intersection coverage is strong.
type ArcGIS struct {
	baseURL    string
	httpClient *http.Client
}

func NewArcGIS(timeout time.Duration) *ArcGIS {
	return &ArcGIS{
		baseURL:    arcgisBaseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (a *ArcGIS) Name() string { return "arcgis" }

func (a *ArcGIS) Geocode(ctx context.Context, query string) (Result, error) {
	params := url.Values{
		"f":            {"json"},
		"singleLine":   {query},
		"maxLocations": {"1"},
		"outFields":    {"none"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return Result{}, fmt.Errorf("create request: %w", err)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("arcgis request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return Result{}, fmt.Errorf("arcgis API error: status %d: %s", resp.StatusCode, body)
	}

	var payload arcgisResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return Result{}, fmt.Errorf("decode response: %w", err)
	}

	if len(payload.Candidates) == 0 {
		return Result{}, nil
	}

	c := payload.Candidates[0]
	return Result{Latitude: c.Location.Y, Longitude: c.Location.X, Found: true}, nil
}

type arcgisResponse struct {
	Candidates []arcgisCandidate `json:"candidates"`
}

type arcgisCandidate struct {
	Location struct {
		X float64 `json:"x"` // longitude
		Y float64 `json:"y"` // latitude
	} `json:"location"`
	Score float64 `json:"score"`
}
