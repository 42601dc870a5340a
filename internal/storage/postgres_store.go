package storage

import (
	"database/sql"
	"time"

	_ "github.com/lib/pq"

	"github.com/example/ride-dispatch/internal/models"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (p *PostgresStore) SaveRide(r *models.Ride) error {
	_, err := p.db.Exec(`INSERT INTO rides(id, rider_id, driver_id, pickup_lat, pickup_lng, dest_lat, dest_lng, status, created_at, updated_at) VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		r.ID, r.RiderID, r.DriverID, r.Pickup.Lat, r.Pickup.Lng, r.Destination.Lat, r.Destination.Lng, r.Status, r.CreatedAt, r.UpdatedAt)
	return err
}

func (p *PostgresStore) UpdateRide(r *models.Ride) error {
	_, err := p.db.Exec(`UPDATE rides SET driver_id=$1, status=$2, updated_at=$3 WHERE id=$4`,
		r.DriverID, r.Status, time.Now(), r.ID)
	return err
}

func (p *PostgresStore) SaveOffer(o *models.DispatchOffer) error {
	_, err := p.db.Exec(`INSERT INTO dispatch_offers(id, request_id, driver_id, state, expires_at, created_at, updated_at) VALUES($1,$2,$3,$4,$5,$6,$7)`,
		o.OfferID, o.RequestID, o.DriverID, o.State, o.ExpiresAt, o.CreatedAt, o.UpdatedAt)
	return err
}

func (p *PostgresStore) UpdateOffer(o *models.DispatchOffer) error {
	_, err := p.db.Exec(`UPDATE dispatch_offers SET state=$1, updated_at=$2 WHERE id=$3`,
		o.State, time.Now(), o.OfferID)
	return err
}
