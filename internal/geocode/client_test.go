package geocode

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func server(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/reverse", r.URL.Path)
		assert.Equal(t, "jsonv2", r.URL.Query().Get("format"))
		assert.Equal(t, "38.6", r.URL.Query().Get("lat"))
		assert.Equal(t, "-90.2", r.URL.Query().Get("lon"))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestReverseGeocode_PicksNeighbourhood(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{"neighbourhood", `{"address":{"neighbourhood":"Soulard","suburb":"South City"}}`, "Soulard"},
		{"suburb fallback", `{"address":{"suburb":"Tower Grove East"}}`, "Tower Grove East"},
		{"quarter fallback", `{"address":{"neighbourhood":" ","quarter":"Old North"}}`, "Old North"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := New(server(t, http.StatusOK, tc.body).URL, time.Second)
			got, err := c.ReverseGeocode(context.Background(), 38.6, -90.2)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestReverseGeocode_NoResult(t *testing.T) {
	for _, body := range []string{`{"error":"Unable to geocode"}`, `{"address":{"city":"St. Louis"}}`} {
		c := New(server(t, http.StatusOK, body).URL, time.Second)
		_, err := c.ReverseGeocode(context.Background(), 38.6, -90.2)
		assert.ErrorIs(t, err, ErrNoResult)
	}
}

func TestReverseGeocode_Failures(t *testing.T) {
	c := New(server(t, http.StatusServiceUnavailable, "busy").URL, time.Second)
	_, err := c.ReverseGeocode(context.Background(), 38.6, -90.2)
	var ge *GeocodeError
	require.True(t, errors.As(err, &ge))
	assert.Equal(t, http.StatusServiceUnavailable, ge.Status)

	c = New(server(t, http.StatusOK, "not json").URL, time.Second)
	_, err = c.ReverseGeocode(context.Background(), 38.6, -90.2)
	require.True(t, errors.As(err, &ge))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c = New(server(t, http.StatusOK, `{}`).URL, time.Second)
	_, err = c.ReverseGeocode(ctx, 38.6, -90.2)
	require.True(t, errors.As(err, &ge))
	assert.ErrorIs(t, err, context.Canceled)
}
