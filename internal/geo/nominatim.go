package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
)

// DefaultNominatimBaseURL is the public OpenStreetMap Nominatim endpoint.
const DefaultNominatimBaseURL = "https://nominatim.openstreetmap.org"

// Doer executes an HTTP request; satisfied by httpclient.Client and
// httpclient.CircuitBreakerClient.
type Doer interface {
	Do(ctx context.Context, req *http.Request) (*http.Response, error)
}

// Resolver reverse-geocodes coordinates into a place name via Nominatim.
type Resolver struct {
	client    Doer
	baseURL   string
	userAgent string
}

// NewResolver creates a Nominatim resolver. Nominatim's usage policy
// requires an identifying User-Agent.
func NewResolver(client Doer, baseURL, userAgent string) *Resolver {
	if baseURL == "" {
		baseURL = DefaultNominatimBaseURL
	}
	return &Resolver{
		client:    client,
		baseURL:   baseURL,
		userAgent: userAgent,
	}
}

type nominatimResponse struct {
	Address struct {
		City    string `json:"city"`
		Town    string `json:"town"`
		Village string `json:"village"`
		State   string `json:"state"`
		Country string `json:"country"`
	} `json:"address"`
}

// Resolve returns the most specific place name available for the
// coordinates: city, then town, village, state, country. An empty string
// means the position resolved to nothing usable.
func (r *Resolver) Resolve(ctx context.Context, coords Coordinates) (string, error) {
	q := url.Values{}
	q.Set("format", "json")
	q.Set("lat", strconv.FormatFloat(coords.Lat, 'f', -1, 64))
	q.Set("lon", strconv.FormatFloat(coords.Lon, 'f', -1, 64))
	q.Set("accept-language", "ru")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+"/reverse?"+q.Encode(), http.NoBody)
	if err != nil {
		return "", fmt.Errorf("create reverse geocode request: %w", err)
	}
	req.Header.Set("User-Agent", r.userAgent)

	resp, err := r.client.Do(ctx, req)
	if err != nil {
		return "", fmt.Errorf("reverse geocode: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("reverse geocode: unexpected status %d", resp.StatusCode)
	}

	var body nominatimResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decode reverse geocode response: %w", err)
	}

	addr := body.Address
	for _, place := range []string{addr.City, addr.Town, addr.Village, addr.State, addr.Country} {
		if place != "" {
			return place, nil
		}
	}
	return "", nil
}
