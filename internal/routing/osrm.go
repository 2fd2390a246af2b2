package routing

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"campusride/internal/types"
)

// OSRMProvider performs route lookups against an OSRM HTTP server.
type OSRMProvider struct {
	endpoint string
	client   *http.Client
}

func NewOSRMProvider(endpoint string, client *http.Client) *OSRMProvider {
	if client == nil {
		client = http.DefaultClient
	}
	return &OSRMProvider{endpoint: strings.TrimRight(endpoint, "/"), client: client}
}

type osrmResponse struct {
	Code   string `json:"code"`
	Routes []struct {
		Distance float64 `json:"distance"`
		Duration float64 `json:"duration"`
		Geometry struct {
			Coordinates [][2]float64 `json:"coordinates"`
		} `json:"geometry"`
	} `json:"routes"`
}

func (o *OSRMProvider) Route(ctx context.Context, from, to types.Point) (Route, error) {
	url := fmt.Sprintf("%s/route/v1/driving/%.6f,%.6f;%.6f,%.6f?overview=full&geometries=geojson",
		o.endpoint, from.Lng, from.Lat, to.Lng, to.Lat)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Route{}, err
	}
	resp, err := o.client.Do(req)
	if err != nil {
		return Route{}, fmt.Errorf("osrm request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Route{}, fmt.Errorf("osrm status %d", resp.StatusCode)
	}

	var body osrmResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Route{}, fmt.Errorf("osrm decode: %w", err)
	}
	if body.Code != "Ok" || len(body.Routes) == 0 {
		return Route{}, ErrNoRoute
	}
	best := body.Routes[0]
	return Route{
		DistanceKm:  best.Distance / 1000,
		DurationMin: best.Duration / 60,
		Geometry:    best.Geometry.Coordinates,
		Source:      SourceOSRM,
	}, nil
}
