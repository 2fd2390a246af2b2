// README: Routing collaborator contract: server-measured distance, duration and geometry.
package routing

import (
	"context"
	"errors"

	"campusride/internal/types"
)

type Source string

const (
	SourceOSRM     Source = "osrm"
	SourceGoogle   Source = "google_maps"
	SourceFallback Source = "fallback"
)

// Route is a measured trip between two points. Geometry holds [lng, lat] pairs.
type Route struct {
	DistanceKm  float64      `json:"distance_km"`
	DurationMin float64      `json:"duration_minutes"`
	Geometry    [][2]float64 `json:"geometry"`
	Source      Source       `json:"source"`
}

type Provider interface {
	Route(ctx context.Context, from, to types.Point) (Route, error)
}

var (
	ErrUnavailable = errors.New("routing unavailable")
	ErrNoRoute     = errors.New("no route found")
)
