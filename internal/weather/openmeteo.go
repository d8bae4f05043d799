package weather

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

const DefaultBaseURL = "https://api.open-meteo.com/v1/forecast"

// HTTPClient is the subset of *http.Client the forecast client uses.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Forecast is the pressure series returned by the provider.
type Forecast struct {
	CurrentHPa float64
	Hourly     []float64
	Times      []time.Time
}

type openMeteoResponse struct {
	Current struct {
		Time            string  `json:"time"`
		SurfacePressure float64 `json:"surface_pressure"`
	} `json:"current"`
	Hourly struct {
		Time            []string   `json:"time"`
		SurfacePressure []*float64 `json:"surface_pressure"`
	} `json:"hourly"`
}

// OpenMeteoClient fetches surface pressure from Open-Meteo.
type OpenMeteoClient struct {
	BaseURL string
	HTTP    HTTPClient
}

func NewOpenMeteoClient(baseURL string, c HTTPClient) *OpenMeteoClient {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if c == nil {
		c = &http.Client{Timeout: 15 * time.Second}
	}
	return &OpenMeteoClient{BaseURL: baseURL, HTTP: c}
}

func (c *OpenMeteoClient) Fetch(ctx context.Context, lat, lng float64) (Forecast, error) {
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return Forecast{}, fmt.Errorf("weather base url: %w", err)
	}
	q := u.Query()
	q.Set("latitude", strconv.FormatFloat(lat, 'f', 4, 64))
	q.Set("longitude", strconv.FormatFloat(lng, 'f', 4, 64))
	q.Set("current", "surface_pressure")
	q.Set("hourly", "surface_pressure")
	q.Set("timezone", "GMT")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return Forecast{}, err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return Forecast{}, fmt.Errorf("weather fetch: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Forecast{}, fmt.Errorf("weather fetch: status %d: %s", resp.StatusCode, body)
	}

	var raw openMeteoResponse
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return Forecast{}, fmt.Errorf("weather decode: %w", err)
	}
	return raw.forecast()
}

func (r openMeteoResponse) forecast() (Forecast, error) {
	if len(r.Hourly.Time) != len(r.Hourly.SurfacePressure) {
		return Forecast{}, fmt.Errorf("weather decode: %d times for %d pressure values", len(r.Hourly.Time), len(r.Hourly.SurfacePressure))
	}
	out := Forecast{CurrentHPa: r.Current.SurfacePressure}
	for i, ts := range r.Hourly.Time {
		p := r.Hourly.SurfacePressure[i]
		if p == nil {
			// Gaps at the end of the forecast window.
			continue
		}
		t, err := time.ParseInLocation("2006-01-02T15:04", ts, time.UTC)
		if err != nil {
			return Forecast{}, fmt.Errorf("weather decode: hourly time %q: %w", ts, err)
		}
		out.Times = append(out.Times, t)
		out.Hourly = append(out.Hourly, *p)
	}
	return out, nil
}
