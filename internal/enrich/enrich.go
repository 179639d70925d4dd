// Package enrich resolves approximate coordinates for sessions that arrive
// with an IP address but no location.
package enrich

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/oschwald/geoip2-golang"
	"github.com/redis/go-redis/v9"

	"github.com/Muneeb-Masood/EC-ML/internal/metrics"
)

// DefaultTTL is how long a resolved location stays cached.
const DefaultTTL = 24 * time.Hour

var (
	ErrInvalidIP = errors.New("enrich: invalid ip address")
	ErrNotFound  = errors.New("enrich: no location for ip")
)

// CityDB is the subset of *geoip2.Reader used here.
type CityDB interface {
	City(ip net.IP) (*geoip2.City, error)
}

// Cache is the subset of a go-redis client used here.
type Cache interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
}

// Location is a resolved city position.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	City      string  `json:"city,omitempty"`
	Country   string  `json:"country,omitempty"`
}

// Enricher looks up IP locations, consulting the cache first.
type Enricher struct {
	db     CityDB
	cache  Cache
	ttl    time.Duration
	logger *slog.Logger
}

// New creates an Enricher. cache may be nil.
func New(db CityDB, cache Cache, ttl time.Duration, logger *slog.Logger) *Enricher {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Enricher{db: db, cache: cache, ttl: ttl, logger: logger}
}

// Locate returns the city location of ip.
func (e *Enricher) Locate(ctx context.Context, ip string) (Location, error) {
	addr := net.ParseIP(ip)
	if addr == nil {
		return Location{}, ErrInvalidIP
	}
	key := cacheKey(addr)

	if loc, ok := e.cached(ctx, key); ok {
		metrics.GeoIPLookupsTotal.WithLabelValues("cache_hit").Inc()
		return loc, nil
	}

	record, err := e.db.City(addr)
	if err != nil {
		metrics.GeoIPLookupsTotal.WithLabelValues("error").Inc()
		return Location{}, fmt.Errorf("enrich: city lookup: %w", err)
	}
	if record == nil || (record.Location.Latitude == 0 && record.Location.Longitude == 0) {
		metrics.GeoIPLookupsTotal.WithLabelValues("not_found").Inc()
		return Location{}, ErrNotFound
	}

	loc := Location{
		Latitude:  record.Location.Latitude,
		Longitude: record.Location.Longitude,
		City:      record.City.Names["en"],
		Country:   record.Country.IsoCode,
	}
	metrics.GeoIPLookupsTotal.WithLabelValues("resolved").Inc()
	e.store(ctx, key, loc)
	return loc, nil
}

func (e *Enricher) cached(ctx context.Context, key string) (Location, bool) {
	if e.cache == nil {
		return Location{}, false
	}
	raw, err := e.cache.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return Location{}, false
	}
	if err != nil {
		e.logger.Warn("geoip cache read failed", "key", key, "error", err)
		return Location{}, false
	}
	var loc Location
	if err := json.Unmarshal([]byte(raw), &loc); err != nil {
		e.logger.Warn("geoip cache entry corrupt", "key", key, "error", err)
		return Location{}, false
	}
	return loc, true
}

func (e *Enricher) store(ctx context.Context, key string, loc Location) {
	if e.cache == nil {
		return
	}
	data, err := json.Marshal(loc)
	if err != nil {
		return
	}
	if err := e.cache.Set(ctx, key, data, e.ttl).Err(); err != nil {
		e.logger.Warn("geoip cache write failed", "key", key, "error", err)
	}
}

func cacheKey(ip net.IP) string {
	return "geo:" + ip.String()
}
