// Package routing estimates driving routes between two coordinates.
package routing

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/example/driver-dispatch/internal/models"
)

// Route is a successful estimate. Polyline is the encoded geometry for the
// map widget; this package only transports it.
type Route struct {
	DistanceKm  float64 `json:"distance_km"`
	DurationMin float64 `json:"duration_min"`
	Polyline    string  `json:"polyline"`
}

// Estimator is the interface the booking wizard depends on.
type Estimator interface {
	Estimate(ctx context.Context, origin, dest models.Coord) (Route, error)
}

// OSRMClient performs route lookups against an OSRM HTTP server.
type OSRMClient struct {
	Endpoint string
	Client   *http.Client
}

func NewOSRMClient(endpoint string) *OSRMClient {
	return &OSRMClient{Endpoint: endpoint, Client: &http.Client{Timeout: 2 * time.Second}}
}

// Estimate queries OSRM /route between the points.
// Query shape: /route/v1/driving/{lng1},{lat1};{lng2},{lat2}
func (o *OSRMClient) Estimate(ctx context.Context, origin, dest models.Coord) (Route, error) {
	url := fmt.Sprintf("%s/route/v1/driving/%.6f,%.6f;%.6f,%.6f?overview=full&geometries=polyline",
		o.Endpoint, origin.Lng, origin.Lat, dest.Lng, dest.Lat)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return Route{}, err
	}
	resp, err := o.Client.Do(req)
	if err != nil {
		return Route{}, err
	}
	defer resp.Body.Close()

	var out struct {
		Routes []struct {
			Distance float64 `json:"distance"`
			Duration float64 `json:"duration"`
			Geometry string  `json:"geometry"`
		} `json:"routes"`
		Code string `json:"code"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Route{}, err
	}
	if out.Code != "Ok" || len(out.Routes) == 0 {
		return Route{}, fmt.Errorf("osrm no route: %v", out.Code)
	}
	r := out.Routes[0]
	return Route{
		DistanceKm:  r.Distance / 1000.0,
		DurationMin: r.Duration / 60.0,
		Polyline:    r.Geometry,
	}, nil
}
