package enrich

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/oschwald/geoip2-golang"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Muneeb-Masood/EC-ML/internal/logging"
)

type fakeDB struct {
	records map[string]*geoip2.City
	err     error
	calls   int
}

func (f *fakeDB) City(ip net.IP) (*geoip2.City, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if rec, ok := f.records[ip.String()]; ok {
		return rec, nil
	}
	return &geoip2.City{}, nil
}

type fakeCache struct {
	data    map[string]string
	ttl     time.Duration
	failGet bool
}

func newFakeCache() *fakeCache { return &fakeCache{data: map[string]string{}} }

func (f *fakeCache) Get(_ context.Context, key string) *redis.StringCmd {
	if f.failGet {
		return redis.NewStringResult("", errors.New("connection refused"))
	}
	v, ok := f.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeCache) Set(_ context.Context, key string, value any, ttl time.Duration) *redis.StatusCmd {
	f.data[key] = string(value.([]byte))
	f.ttl = ttl
	return redis.NewStatusResult("OK", nil)
}

func london() *geoip2.City {
	c := &geoip2.City{}
	c.Location.Latitude = 51.5142
	c.Location.Longitude = -0.0931
	c.City.Names = map[string]string{"en": "London"}
	c.Country.IsoCode = "GB"
	return c
}

func TestLocate_ResolvesAndCaches(t *testing.T) {
	db := &fakeDB{records: map[string]*geoip2.City{"81.2.69.142": london()}}
	cache := newFakeCache()
	e := New(db, cache, time.Hour, logging.Discard())

	loc, err := e.Locate(context.Background(), "81.2.69.142")
	require.NoError(t, err)
	assert.Equal(t, Location{Latitude: 51.5142, Longitude: -0.0931, City: "London", Country: "GB"}, loc)
	assert.Equal(t, time.Hour, cache.ttl)
	assert.Contains(t, cache.data, "geo:81.2.69.142")

	again, err := e.Locate(context.Background(), "81.2.69.142")
	require.NoError(t, err)
	assert.Equal(t, loc, again)
	assert.Equal(t, 1, db.calls)
}

func TestLocate_CacheHitSkipsDB(t *testing.T) {
	cache := newFakeCache()
	raw, _ := json.Marshal(Location{Latitude: 48.85, Longitude: 2.35})
	cache.data["geo:2.2.2.2"] = string(raw)
	db := &fakeDB{}

	loc, err := New(db, cache, 0, logging.Discard()).Locate(context.Background(), "2.2.2.2")
	require.NoError(t, err)
	assert.Equal(t, 48.85, loc.Latitude)
	assert.Zero(t, db.calls)
}

func TestLocate_CacheFailureFallsBackToDB(t *testing.T) {
	db := &fakeDB{records: map[string]*geoip2.City{"81.2.69.142": london()}}
	cache := newFakeCache()
	cache.failGet = true

	loc, err := New(db, cache, 0, logging.Discard()).Locate(context.Background(), "81.2.69.142")
	require.NoError(t, err)
	assert.Equal(t, "London", loc.City)
	assert.Equal(t, 1, db.calls)
}

func TestLocate_NoCache(t *testing.T) {
	db := &fakeDB{records: map[string]*geoip2.City{"81.2.69.142": london()}}

	_, err := New(db, nil, 0, logging.Discard()).Locate(context.Background(), "81.2.69.142")
	assert.NoError(t, err)
}

func TestLocate_Errors(t *testing.T) {
	e := New(&fakeDB{}, newFakeCache(), 0, logging.Discard())

	_, err := e.Locate(context.Background(), "not-an-ip")
	assert.ErrorIs(t, err, ErrInvalidIP)

	_, err = e.Locate(context.Background(), "10.0.0.1")
	assert.ErrorIs(t, err, ErrNotFound)

	broken := New(&fakeDB{err: errors.New("database closed")}, nil, 0, logging.Discard())
	_, err = broken.Locate(context.Background(), "10.0.0.1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database closed")
}
