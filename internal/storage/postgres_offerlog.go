package storage

import (
	"database/sql"
	"time"

	_ "github.com/lib/pq"
)

type PostgresOfferLog struct {
	db *sql.DB
}

func NewPostgresOfferLog(dsn string) (*PostgresOfferLog, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	// quick ping
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresOfferLog{db: db}, nil
}

func (p *PostgresOfferLog) RecordOffer(rec OfferRecord) error {
	_, err := p.db.Exec(`INSERT INTO offers(correlation_id, driver_id, pickup_name, drop_name, distance_km, status, sent_at) VALUES($1,$2,$3,$4,$5,$6,$7)`,
		rec.CorrelationID, rec.DriverID, rec.PickupName, rec.DropName, rec.DistanceKm, OfferSent, rec.SentAt)
	return err
}

func (p *PostgresOfferLog) MarkAccepted(correlationID, driverID string, at time.Time) error {
	res, err := p.db.Exec(`UPDATE offers SET status=$1, accepted_by=$2, accepted_at=$3 WHERE correlation_id=$4 AND status=$5`,
		OfferAccepted, driverID, at, correlationID, OfferSent)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		// either unknown or already won by another driver
		var exists bool
		if err := p.db.QueryRow(`SELECT EXISTS(SELECT 1 FROM offers WHERE correlation_id=$1)`, correlationID).Scan(&exists); err == nil && !exists {
			return ErrOfferNotFound
		}
	}
	return nil
}
