package models

import "time"

// Message types carried over the realtime channel. Framing beyond the JSON
// "type" discriminator belongs to the channel, not to us.
const (
	MsgHeartbeat   = "heartbeat"
	MsgLogout      = "logout"
	MsgRideRequest = "ride_request"
	MsgRideAccept  = "ride_accept"
)

// Envelope is embedded in every wire message so receivers can route on the
// type field before fully decoding.
type Envelope struct {
	Type string `json:"type"`
}

// Heartbeat is the outbound presence message. It is sent on a fixed cadence
// regardless of trip state; matching eligibility is entirely server-inferred
// from IsAvailable.
type Heartbeat struct {
	Envelope
	DriverID    string    `json:"driver_id"`
	Lat         float64   `json:"lat"`
	Lng         float64   `json:"lng"`
	Timestamp   time.Time `json:"timestamp"`
	IsAvailable bool      `json:"is_available"`
}

// Logout is the final broadcast before the session ends: the last known
// heartbeat with the logged-in flag cleared.
type Logout struct {
	Heartbeat
	IsLoggedIn bool `json:"is_logged_in"`
}

// RideRequest is the inbound ride offer payload.
type RideRequest struct {
	Envelope
	CorrelationID string  `json:"correlation_id"`
	CustomerInfo  string  `json:"customer_info"`
	PickupName    string  `json:"pickup_name"`
	DropName      string  `json:"drop_name"`
	PickupTime    string  `json:"pickup_time"`
	DistanceKm    float64 `json:"distance_km"`
	TravelWay     string  `json:"travel_way"`
}

// RideAccept echoes the inbound request payload plus its correlation id.
// There is no decline counterpart on the wire: rejection is local-only and
// the server times the offer out on its own.
type RideAccept struct {
	Envelope
	CorrelationID string      `json:"correlation_id"`
	DriverID      string      `json:"driver_id"`
	Request       RideRequest `json:"request"`
}

func NewHeartbeat(driverID string, pos Position, available bool) Heartbeat {
	return Heartbeat{
		Envelope:    Envelope{Type: MsgHeartbeat},
		DriverID:    driverID,
		Lat:         pos.Lat,
		Lng:         pos.Lng,
		Timestamp:   pos.Timestamp,
		IsAvailable: available,
	}
}

func NewLogout(hb Heartbeat) Logout {
	hb.Envelope = Envelope{Type: MsgLogout}
	return Logout{Heartbeat: hb, IsLoggedIn: false}
}

func NewRideAccept(driverID string, req RideRequest) RideAccept {
	return RideAccept{
		Envelope:      Envelope{Type: MsgRideAccept},
		CorrelationID: req.CorrelationID,
		DriverID:      driverID,
		Request:       req,
	}
}
