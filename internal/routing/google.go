package routing

import (
	"context"
	"fmt"

	"googlemaps.github.io/maps"

	"campusride/internal/types"
)

// GoogleProvider measures routes with the Google Maps Directions API.
type GoogleProvider struct {
	client *maps.Client
}

func NewGoogleProvider(apiKey string) (*GoogleProvider, error) {
	client, err := maps.NewClient(maps.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create maps client: %w", err)
	}
	return &GoogleProvider{client: client}, nil
}

func (g *GoogleProvider) Route(ctx context.Context, from, to types.Point) (Route, error) {
	r := &maps.DirectionsRequest{
		Origin:      latLng(from),
		Destination: latLng(to),
		Mode:        maps.TravelModeDriving,
	}

	routes, _, err := g.client.Directions(ctx, r)
	if err != nil {
		return Route{}, fmt.Errorf("maps api error: %w", err)
	}
	if len(routes) == 0 || len(routes[0].Legs) == 0 {
		return Route{}, ErrNoRoute
	}

	var meters int
	var seconds float64
	for _, leg := range routes[0].Legs {
		meters += leg.Distance.Meters
		seconds += leg.Duration.Seconds()
	}

	out := Route{
		DistanceKm:  float64(meters) / 1000,
		DurationMin: seconds / 60,
		Source:      SourceGoogle,
	}
	if path, err := routes[0].OverviewPolyline.Decode(); err == nil {
		out.Geometry = make([][2]float64, len(path))
		for i, p := range path {
			out.Geometry[i] = [2]float64{p.Lng, p.Lat}
		}
	}
	return out, nil
}

func latLng(p types.Point) string {
	return fmt.Sprintf("%.6f,%.6f", p.Lat, p.Lng)
}
