package geo

import (
	"errors"
	"fmt"
	"math"

	"github.com/Muneeb-Masood/EC-ML/internal/jsonnum"
)

// EarthRadiusKm is the mean Earth radius used for all great-circle math.
const EarthRadiusKm = 6371.0

// Point is a WGS-84 coordinate in degrees.
type Point struct {
	Lat float64 `json:"latitude"`
	Lon float64 `json:"longitude"`
}

// Valid reports whether the point lies in [-90,90]×[-180,180].
func (p Point) Valid() bool {
	return p.Lat >= -90 && p.Lat <= 90 && p.Lon >= -180 && p.Lon <= 180
}

// RawPoint is a coordinate pair as received on the wire, before parsing.
type RawPoint struct {
	Latitude  jsonnum.Value `json:"latitude"`
	Longitude jsonnum.Value `json:"longitude"`
}

// ErrMissingCoordinates is returned when either coordinate is absent.
var ErrMissingCoordinates = errors.New("missing coordinates")

// Parse converts a RawPoint to a validated Point.
func (r RawPoint) Parse() (Point, error) {
	if !r.Latitude.Present() || !r.Longitude.Present() {
		return Point{}, ErrMissingCoordinates
	}
	lat, err := r.Latitude.Float64()
	if err != nil {
		return Point{}, fmt.Errorf("latitude: %w", err)
	}
	lon, err := r.Longitude.Float64()
	if err != nil {
		return Point{}, fmt.Errorf("longitude: %w", err)
	}
	p := Point{Lat: lat, Lon: lon}
	if !p.Valid() {
		return Point{}, fmt.Errorf("coordinates out of range: (%g, %g)", lat, lon)
	}
	return p, nil
}

// Raw is the inverse of Parse, handy for building requests in code.
func (p Point) Raw() RawPoint {
	return RawPoint{Latitude: jsonnum.Float(p.Lat), Longitude: jsonnum.Float(p.Lon)}
}

// DistanceKm is the haversine great-circle distance between a and b.
func DistanceKm(a, b Point) float64 {
	return centralAngle(radians(a), radians(b)) * EarthRadiusKm
}

type radPoint struct{ lat, lon float64 }

func radians(p Point) radPoint {
	return radPoint{lat: p.Lat * math.Pi / 180, lon: p.Lon * math.Pi / 180}
}

// centralAngle is the haversine distance between two points on the unit sphere.
func centralAngle(a, b radPoint) float64 {
	sinLat := math.Sin((b.lat - a.lat) / 2)
	sinLon := math.Sin((b.lon - a.lon) / 2)
	h := sinLat*sinLat + math.Cos(a.lat)*math.Cos(b.lat)*sinLon*sinLon
	if h > 1 {
		h = 1
	}
	return 2 * math.Asin(math.Sqrt(h))
}
