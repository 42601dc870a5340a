package store

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/ride-dispatch/internal/models"
)

// RedisStore implements Store on Redis GEO commands plus a metadata
// hash per driver. Positions live in one GEO key so nearby queries are
// a single GEORADIUS; everything else (status, rating, capture time)
// rides in driver:meta:<id>.
type RedisStore struct {
	client *redis.Client
	geoKey string
}

func NewRedisStore(addr, password, geoKey string) *RedisStore {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &RedisStore{client: c, geoKey: geoKey}
}

func NewRedisStoreWithClient(c *redis.Client, geoKey string) *RedisStore {
	return &RedisStore{client: c, geoKey: geoKey}
}

func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisStore) Close() error { return r.client.Close() }

func metaKey(id string) string { return "driver:meta:" + id }

func (r *RedisStore) UpsertPosition(ctx context.Context, pos models.DriverPosition) error {
	key := metaKey(pos.DriverID)
	// Capture-order check first: a replayed fix after reconnect must not
	// clobber a newer one. Per-driver updates come from a single session,
	// so the check-then-set window is not racy in practice.
	if prev, err := r.client.HGet(ctx, key, "captured_at").Result(); err == nil && prev != "" {
		if prevAt, perr := time.Parse(time.RFC3339Nano, prev); perr == nil {
			if !pos.CapturedAt.After(prevAt) {
				return ErrStaleFix
			}
		}
	} else if err != nil && err != redis.Nil {
		return err
	}

	if err := r.client.GeoAdd(ctx, r.geoKey, &redis.GeoLocation{
		Longitude: pos.Coord.Lng,
		Latitude:  pos.Coord.Lat,
		Name:      pos.DriverID,
	}).Err(); err != nil {
		return err
	}
	fields := map[string]interface{}{
		"captured_at": pos.CapturedAt.Format(time.RFC3339Nano),
		"received_at": time.Now().Format(time.RFC3339Nano),
		"heading":     pos.HeadingDegrees,
		"speed":       pos.SpeedMps,
		"accuracy":    pos.AccuracyMeters,
	}
	if pos.BatteryPct != nil {
		fields["battery"] = *pos.BatteryPct
	}
	return r.client.HSet(ctx, key, fields).Err()
}

func (r *RedisStore) Position(ctx context.Context, driverID string) (models.DriverPosition, error) {
	posCmd := r.client.GeoPos(ctx, r.geoKey, driverID)
	coords, err := posCmd.Result()
	if err != nil {
		return models.DriverPosition{}, err
	}
	if len(coords) == 0 || coords[0] == nil {
		return models.DriverPosition{}, ErrNotFound
	}
	pos := models.DriverPosition{
		DriverID: driverID,
		Coord:    models.Coord{Lat: coords[0].Latitude, Lng: coords[0].Longitude},
	}
	m, err := r.client.HGetAll(ctx, metaKey(driverID)).Result()
	if err != nil {
		return pos, nil
	}
	fillPositionMeta(&pos, m)
	return pos, nil
}

func (r *RedisStore) UpsertDriver(ctx context.Context, d models.Driver) error {
	fields := map[string]interface{}{
		"vehicle_type": d.VehicleType,
		"rating":       d.Rating,
		"completed":    d.CompletedTrips,
		"cancelled":    d.CancelledTrips,
	}
	if !d.LastTripAt.IsZero() {
		fields["last_trip_at"] = d.LastTripAt.Format(time.RFC3339Nano)
	}
	return r.client.HSet(ctx, metaKey(d.ID), fields).Err()
}

func (r *RedisStore) Availability(ctx context.Context, driverID string) (models.DriverAvailability, error) {
	m, err := r.client.HGetAll(ctx, metaKey(driverID)).Result()
	if err != nil {
		return models.DriverAvailability{}, err
	}
	if len(m) == 0 {
		return models.DriverAvailability{}, ErrNotFound
	}
	av := models.DriverAvailability{
		DriverID:    driverID,
		Status:      models.StatusOffline,
		VehicleType: m["vehicle_type"],
	}
	if v, ok := m["status"]; ok && v != "" {
		av.Status = models.AvailabilityStatus(v)
	}
	if v, ok := m["status_changed_at"]; ok {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			av.LastStatusChangeAt = t
		}
	}
	return av, nil
}

func (r *RedisStore) SetAvailability(ctx context.Context, driverID string, status models.AvailabilityStatus) error {
	return r.client.HSet(ctx, metaKey(driverID), map[string]interface{}{
		"status":            string(status),
		"status_changed_at": time.Now().Format(time.RFC3339Nano),
	}).Err()
}

func (r *RedisStore) Nearby(ctx context.Context, origin models.Coord, radiusMeters float64, f NearbyFilter) ([]Candidate, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 16
	}
	// Over-fetch so post-filtering on status and vehicle type still
	// leaves enough candidates to fill the cap.
	res, err := r.client.GeoRadius(ctx, r.geoKey, origin.Lng, origin.Lat, &redis.GeoRadiusQuery{
		Radius:    radiusMeters,
		Unit:      "m",
		WithCoord: true,
		WithDist:  true,
		Count:     limit * 4,
		Sort:      "ASC",
	}).Result()
	if err != nil {
		return nil, err
	}

	out := make([]Candidate, 0, limit)
	for _, g := range res {
		m, err := r.client.HGetAll(ctx, metaKey(g.Name)).Result()
		if err != nil {
			continue
		}
		if models.AvailabilityStatus(m["status"]) != models.StatusOnline {
			continue
		}
		if f.VehicleType != "" && m["vehicle_type"] != f.VehicleType {
			continue
		}
		if f.MinRating > 0 && parseFloat(m["rating"]) < f.MinRating {
			continue
		}
		c := Candidate{
			Driver: models.Driver{ID: g.Name, VehicleType: m["vehicle_type"]},
			Position: models.DriverPosition{
				DriverID: g.Name,
				Coord:    models.Coord{Lat: g.Latitude, Lng: g.Longitude},
			},
			Availability: models.DriverAvailability{
				DriverID:    g.Name,
				Status:      models.StatusOnline,
				VehicleType: m["vehicle_type"],
			},
			DistanceMeters: g.Dist,
		}
		fillPositionMeta(&c.Position, m)
		fillDriverMeta(&c.Driver, m)
		out = append(out, c)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func fillPositionMeta(pos *models.DriverPosition, m map[string]string) {
	if v, ok := m["captured_at"]; ok {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			pos.CapturedAt = t
		}
	}
	if v, ok := m["received_at"]; ok {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			pos.ReceivedAt = t
		}
	}
	pos.HeadingDegrees = parseFloat(m["heading"])
	pos.SpeedMps = parseFloat(m["speed"])
	pos.AccuracyMeters = parseFloat(m["accuracy"])
	if v, ok := m["battery"]; ok {
		b := parseFloat(v)
		pos.BatteryPct = &b
	}
}

func fillDriverMeta(d *models.Driver, m map[string]string) {
	d.Rating = parseFloat(m["rating"])
	d.CompletedTrips = int(parseFloat(m["completed"]))
	d.CancelledTrips = int(parseFloat(m["cancelled"]))
	if v, ok := m["last_trip_at"]; ok {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			d.LastTripAt = t
		}
	}
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}
