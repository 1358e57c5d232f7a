package geo

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/driver-dispatch/internal/models"
)

// RedisPresence implements Presence on Redis GEO commands, with driver
// metadata in a hash per driver.
type RedisPresence struct {
	client *redis.Client
	key    string
	ctx    context.Context
}

func NewRedisPresence(addr, password, key string) *RedisPresence {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &RedisPresence{client: c, key: key, ctx: context.Background()}
}

func (r *RedisPresence) Update(st DriverState) {
	_, _ = r.client.GeoAdd(r.ctx, r.key, &redis.GeoLocation{
		Longitude: st.Coord.Lng,
		Latitude:  st.Coord.Lat,
		Name:      st.DriverID,
	}).Result()
	_ = r.client.HSet(r.ctx, metaKey(st.DriverID), map[string]interface{}{
		"available": strconv.FormatBool(st.IsAvailable),
		"updated":   st.Updated.Format(time.RFC3339),
	}).Err()
}

func (r *RedisPresence) Remove(driverID string) {
	_ = r.client.ZRem(r.ctx, r.key, driverID).Err()
	_ = r.client.Del(r.ctx, metaKey(driverID)).Err()
}

func (r *RedisPresence) Nearby(center models.Coord, radiusM float64, limit int) []DriverState {
	res, err := r.client.GeoRadius(r.ctx, r.key, center.Lng, center.Lat, &redis.GeoRadiusQuery{
		Radius:    radiusM,
		Unit:      "m",
		WithCoord: true,
		WithDist:  true,
		Count:     limit,
		Sort:      "ASC",
	}).Result()
	if err != nil {
		return nil
	}

	out := make([]DriverState, 0, len(res))
	for _, g := range res {
		st := DriverState{
			DriverID: g.Name,
			Coord:    models.Coord{Lat: g.Latitude, Lng: g.Longitude},
		}
		if m, err := r.client.HGetAll(r.ctx, metaKey(g.Name)).Result(); err == nil {
			if v, ok := m["available"]; ok {
				st.IsAvailable = v == "true"
			}
			if v, ok := m["updated"]; ok {
				if t, err := time.Parse(time.RFC3339, v); err == nil {
					st.Updated = t
				}
			}
		}
		if !st.IsAvailable {
			continue
		}
		out = append(out, st)
	}
	return out
}

func metaKey(id string) string { return "driver:meta:" + id }
