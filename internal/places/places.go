// Package places resolves free-text location queries to concrete places for
// the booking flow, and keeps the session-lifetime search history.
package places

import (
	"context"
	"fmt"
	"strings"

	"googlemaps.github.io/maps"

	"github.com/example/driver-dispatch/internal/models"
)

// Place is a simplified location result. Coord is nil until the place has
// been resolved to concrete coordinates.
type Place struct {
	ID          string        `json:"place_id"`
	Description string        `json:"description"`
	Coord       *models.Coord `json:"coord,omitempty"`
}

// Searcher is the lookup interface the wizard and the control surface use.
type Searcher interface {
	Search(ctx context.Context, query string) ([]Place, error)
}

// GooglePlaces backs Searcher with the Google Places text-search API.
type GooglePlaces struct {
	client *maps.Client
	region string
}

func NewGooglePlaces(apiKey, region string) (*GooglePlaces, error) {
	client, err := maps.NewClient(maps.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create maps client: %w", err)
	}
	return &GooglePlaces{client: client, region: region}, nil
}

func (g *GooglePlaces) Search(ctx context.Context, query string) ([]Place, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}

	r := &maps.TextSearchRequest{
		Query:  query,
		Region: g.region,
	}
	resp, err := g.client.TextSearch(ctx, r)
	if err != nil {
		return nil, fmt.Errorf("places api error: %w", err)
	}

	out := make([]Place, 0, len(resp.Results))
	for _, res := range resp.Results {
		desc := res.Name
		if res.FormattedAddress != "" {
			desc = res.Name + ", " + res.FormattedAddress
		}
		out = append(out, Place{
			ID:          res.PlaceID,
			Description: desc,
			Coord: &models.Coord{
				Lat: res.Geometry.Location.Lat,
				Lng: res.Geometry.Location.Lng,
			},
		})
		if len(out) >= 10 {
			break
		}
	}
	return out, nil
}

// StaticSearcher serves a fixed place list when no maps API key is
// configured, so the agent still runs end to end locally.
type StaticSearcher struct {
	places []Place
}

func NewStaticSearcher(places []Place) *StaticSearcher {
	return &StaticSearcher{places: places}
}

func (s *StaticSearcher) Search(_ context.Context, query string) ([]Place, error) {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return nil, nil
	}
	var out []Place
	for _, p := range s.places {
		if strings.Contains(strings.ToLower(p.Description), query) {
			out = append(out, p)
		}
	}
	return out, nil
}
