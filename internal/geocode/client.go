// Package geocode turns coordinates into neighborhood names using a Nominatim-compatible
// reverse geocoding service.
package geocode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// ErrNoResult means the service answered but had no neighborhood for the coordinate.
var ErrNoResult = errors.New("geocode: no neighborhood for coordinate")

// GeocodeError is a transport or service failure. The lookup may succeed on a later sample.
type GeocodeError struct {
	Lat, Lon float64
	Status   int
	Err      error
}

func (e *GeocodeError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("geocode %.5f,%.5f: status %d", e.Lat, e.Lon, e.Status)
	}
	return fmt.Sprintf("geocode %.5f,%.5f: %v", e.Lat, e.Lon, e.Err)
}

func (e *GeocodeError) Unwrap() error { return e.Err }

type Client struct {
	client *resty.Client
}

// New creates a client for the service at baseURL.
func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	c := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", "geosurvey/1").
		SetTimeout(timeout)
	return &Client{client: c}
}

type reverseResponse struct {
	Error   string `json:"error"`
	Address struct {
		Neighbourhood string `json:"neighbourhood"`
		Suburb        string `json:"suburb"`
		Quarter       string `json:"quarter"`
	} `json:"address"`
}

func (r reverseResponse) name() string {
	for _, s := range []string{r.Address.Neighbourhood, r.Address.Suburb, r.Address.Quarter} {
		if s = strings.TrimSpace(s); s != "" {
			return s
		}
	}
	return ""
}

// ReverseGeocode returns the neighborhood containing lat/lon.
func (c *Client) ReverseGeocode(ctx context.Context, lat, lon float64) (string, error) {
	resp, err := c.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"format": "jsonv2",
			"lat":    strconv.FormatFloat(lat, 'f', -1, 64),
			"lon":    strconv.FormatFloat(lon, 'f', -1, 64),
			"zoom":   "16",
		}).
		Get("/reverse")
	if err != nil {
		return "", &GeocodeError{Lat: lat, Lon: lon, Err: err}
	}
	if resp.StatusCode() != http.StatusOK {
		return "", &GeocodeError{Lat: lat, Lon: lon, Status: resp.StatusCode(), Err: errors.New(resp.String())}
	}

	var rr reverseResponse
	if err := json.Unmarshal(resp.Body(), &rr); err != nil {
		return "", &GeocodeError{Lat: lat, Lon: lon, Err: fmt.Errorf("decode response: %w", err)}
	}
	name := rr.name()
	if rr.Error != "" || name == "" {
		return "", ErrNoResult
	}
	return name, nil
}
