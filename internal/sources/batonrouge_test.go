package sources

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vincentlarkin/Caddo911-Monitor/internal/incident"
)

const batonRougePage = `<html><body><table>
<tr><th>Time</th><th>Incident</th><th>Agency</th><th>Street</th><th>Cross Street</th></tr>
<tr><td>9:41:07 PM</td><td>VEHICLE ACCIDENT</td><td>BRPD</td><td>FLORIDA BLVD</td><td>AIRLINE HWY</td></tr>
<tr><td>12:05 AM</td><td>STALLED VEHICLE</td><td></td><td>I-10 W</td><td></td></tr>
<tr><td>8:00 AM</td><td></td><td>BRPD</td><td>EMPTY DESC</td><td>SKIPPED</td></tr>
</table></body></html>`

func TestBatonRougeFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(batonRougePage))
	}))
	defer srv.Close()

	b := NewBatonRouge("test-agent", 5, testLogger())
	b.feedURL = srv.URL

	records, err := b.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 2, "rows without a description must be skipped")

	assert.Equal(t, "BRPD", records[0].Agency)
	assert.Equal(t, "2141", records[0].Time)
	assert.Equal(t, "VEHICLE ACCIDENT", records[0].Description)
	assert.Equal(t, "FLORIDA BLVD", records[0].Street)
	assert.Equal(t, "AIRLINE HWY", records[0].CrossStreets)
	assert.Equal(t, "Baton Rouge", records[0].Municipality)

	assert.Equal(t, "UNKNOWN", records[1].Agency, "missing agency defaults to UNKNOWN")
	assert.Equal(t, "0005", records[1].Time)
}

func TestBatonRougeFetchErrorOnBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	b := NewBatonRouge("test-agent", 5, testLogger())
	b.feedURL = srv.URL

	_, err := b.Fetch(context.Background())
	var fetchErr *FetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.Equal(t, incident.SourceBatonRouge, fetchErr.Source)
}

func TestTo24Hour(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"9:41:07 PM", "2141"},
		{"9:41 PM", "2141"},
		{"12:05 AM", "0005"},
		{"12:30 PM", "1230"},
		{"1:00 am", "0100"},
		{"11:59 PM", "2359"},
		{"", ""},
		{"sometime", ""},
		{"25:00 PM", ""},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, to24Hour(tc.in), "input %q", tc.in)
	}
}
