package models

import "time"

type Coord struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Position is one device location sample.
type Position struct {
	Coord
	AccuracyM float64   `json:"accuracy_m"`
	Timestamp time.Time `json:"timestamp"`
}

// DriverPresence is the coordinator-owned view of the driver on this device.
type DriverPresence struct {
	DriverID     string    `json:"driver_id"`
	IsOnline     bool      `json:"is_online"`
	IsAvailable  bool      `json:"is_available"`
	LastLocation *Position `json:"last_location,omitempty"`
}

// VehicleOption is a static catalog entry for the booking flow.
type VehicleOption struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	BasePrice float64 `json:"base_price"`
	PerKmRate float64 `json:"per_km_rate"`
}
