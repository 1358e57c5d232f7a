// Package pricing maps a vehicle option and a route distance to a fare.
// Pure arithmetic, no side effects, no network.
package pricing

import (
	"math"

	"github.com/example/driver-dispatch/internal/models"
)

// Quote computes the raw fare: base price plus distance times the per-km
// rate. Recomputed on demand; never cached.
func Quote(v models.VehicleOption, distanceKm float64) float64 {
	return v.BasePrice + distanceKm*v.PerKmRate
}

// DisplayAmount rounds a raw fare to the nearest whole unit for display.
func DisplayAmount(amount float64) int64 {
	return int64(math.Round(amount))
}

// Catalog is the static set of vehicle options offered in the booking flow.
type Catalog struct {
	options []models.VehicleOption
}

func NewCatalog(options []models.VehicleOption) *Catalog {
	return &Catalog{options: options}
}

// DefaultCatalog mirrors the production vehicle lineup.
func DefaultCatalog() *Catalog {
	return NewCatalog([]models.VehicleOption{
		{ID: "bike", Name: "Bike", BasePrice: 20, PerKmRate: 8},
		{ID: "car", Name: "Car", BasePrice: 50, PerKmRate: 12},
		{ID: "premium", Name: "Premium", BasePrice: 120, PerKmRate: 22},
	})
}

func (c *Catalog) Get(id string) (models.VehicleOption, bool) {
	for _, o := range c.options {
		if o.ID == id {
			return o, true
		}
	}
	return models.VehicleOption{}, false
}

func (c *Catalog) Options() []models.VehicleOption {
	out := make([]models.VehicleOption, len(c.options))
	copy(out, c.options)
	return out
}
