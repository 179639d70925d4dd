// Package geo detects anomalously dense clusters of transaction locations.
//
// Historical transaction coordinates plus the current one are grouped with
// DBSCAN under a haversine metric. Each cluster gets a centroid, a radius and
// a point density; clusters that are dense in absolute terms, or relative to
// the median of the ordinary clusters, are flagged as suspicious. The current
// transaction is reported as a member of its cluster only when it lies within
// a buffered radius of the centroid.
package geo

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/Muneeb-Masood/EC-ML/internal/mathutil"
)

// Defaults for the clustering parameters.
const (
	DefaultEpsKm                     = 0.5
	DefaultMinSamples                = 3
	DefaultBufferPercentage          = 0.1
	DefaultCoordinatePrecision       = 6
	DefaultRadiusPrecision           = 3
	DefaultDensityPrecision          = 2
	DefaultAbsoluteDensityThreshold  = 100.0
	DefaultRelativeDensityMultiplier = 3.0
	DefaultMaxHistoryPoints          = 5000
)

// minArea replaces a zero cluster area so single-location clusters read as
// very dense instead of dividing by zero.
const minArea = 1e-4

// Config holds the clustering parameters.
type Config struct {
	EpsKm            float64
	MinSamples       int
	BufferPercentage float64

	CoordinatePrecision int
	RadiusPrecision     int
	DensityPrecision    int

	AbsoluteDensityThreshold  float64
	RelativeDensityMultiplier float64

	// MaxHistoryPoints caps the history fed to DBSCAN; the most recent
	// points (the tail of the list) are kept.
	MaxHistoryPoints int
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		EpsKm:                     DefaultEpsKm,
		MinSamples:                DefaultMinSamples,
		BufferPercentage:          DefaultBufferPercentage,
		CoordinatePrecision:       DefaultCoordinatePrecision,
		RadiusPrecision:           DefaultRadiusPrecision,
		DensityPrecision:          DefaultDensityPrecision,
		AbsoluteDensityThreshold:  DefaultAbsoluteDensityThreshold,
		RelativeDensityMultiplier: DefaultRelativeDensityMultiplier,
		MaxHistoryPoints:          DefaultMaxHistoryPoints,
	}
}

// Analyzer runs the clustering. It is safe for concurrent use.
type Analyzer struct {
	cfg    Config
	logger *slog.Logger
}

// NewAnalyzer creates an analyzer. A nil logger uses slog.Default().
func NewAnalyzer(cfg Config, logger *slog.Logger) *Analyzer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Analyzer{cfg: cfg, logger: logger}
}

// cluster is the unrounded working form of a Cluster.
type cluster struct {
	label   int
	center  Point
	radius  float64
	density float64
	count   int
}

// Analyze clusters history ∪ {current} and reports whether current falls
// inside a cluster. It never panics; failures are returned in Report.Error.
func (a *Analyzer) Analyze(ctx context.Context, current RawPoint, history []RawPoint) (report *Report) {
	here, err := current.Parse()
	if err != nil {
		a.logger.WarnContext(ctx, "session coordinates unusable for clustering", "error", err)
		return &Report{Error: fmt.Sprintf("invalid session coordinates: %v", err)}
	}

	defer func() {
		if r := recover(); r != nil {
			a.logger.ErrorContext(ctx, "clustering failed", "panic", r)
			report = &Report{Error: fmt.Sprintf("clustering failed: %v", r)}
		}
	}()

	points := a.collect(ctx, history)
	points = append(points, here)

	labels := dbscan(points, a.cfg.EpsKm/EarthRadiusKm, a.cfg.MinSamples)

	clusters := buildClusters(points, labels)
	baseline := a.baseline(clusters)

	report = &Report{
		ClustersIdentified: len(clusters),
		BaselineDensity:    mathutil.Round(baseline, a.cfg.DensityPrecision),
		Clusters:           make([]Cluster, len(clusters)),
	}
	for i, c := range clusters {
		report.Clusters[i] = a.describe(c, baseline)
	}

	if label := labels[len(labels)-1]; label != noise {
		c := clusters[label]
		distance := DistanceKm(c.center, here)
		if distance <= c.radius*(1+a.cfg.BufferPercentage) {
			report.InCluster = true
			report.Membership = &Membership{
				ClusterNumber: clusterName(label),
				Density:       report.Clusters[label].DensityPerKm2,
				DistanceKm:    mathutil.Round(distance, a.cfg.RadiusPrecision),
			}
		}
	}

	a.logger.DebugContext(ctx, "clustering completed",
		"points", len(points),
		"clusters", report.ClustersIdentified,
		"in_cluster", report.InCluster,
	)
	return report
}

// collect parses history, skipping unusable points, and applies the size cap.
func (a *Analyzer) collect(ctx context.Context, history []RawPoint) []Point {
	if limit := a.cfg.MaxHistoryPoints; limit > 0 && len(history) > limit {
		a.logger.WarnContext(ctx, "history truncated for clustering",
			"received", len(history),
			"kept", limit,
		)
		history = history[len(history)-limit:]
	}

	points := make([]Point, 0, len(history)+1)
	for i, raw := range history {
		p, err := raw.Parse()
		if err != nil {
			a.logger.WarnContext(ctx, "skipping invalid historical coordinate",
				"index", i,
				"latitude", raw.Latitude.String(),
				"longitude", raw.Longitude.String(),
				"error", err,
			)
			continue
		}
		points = append(points, p)
	}
	return points
}

// buildClusters computes centroid, radius and density for every label.
// Labels are dense from 0, so the slice index equals the label.
func buildClusters(points []Point, labels []int) []cluster {
	count := 0
	for _, l := range labels {
		if l+1 > count {
			count = l + 1
		}
	}

	members := make([][]Point, count)
	for i, l := range labels {
		if l != noise {
			members[l] = append(members[l], points[i])
		}
	}

	out := make([]cluster, count)
	for label, pts := range members {
		var sumLat, sumLon float64
		for _, p := range pts {
			sumLat += p.Lat
			sumLon += p.Lon
		}
		// Arithmetic mean of degrees, not a spherical centroid. The buffer
		// applied at membership time absorbs the error for small clusters.
		center := Point{Lat: sumLat / float64(len(pts)), Lon: sumLon / float64(len(pts))}

		var radius float64
		if len(pts) > 1 {
			for _, p := range pts {
				radius = math.Max(radius, DistanceKm(center, p))
			}
		}

		area := math.Pi * radius * radius
		if area == 0 {
			area = minArea
		}

		out[label] = cluster{
			label:   label,
			center:  center,
			radius:  radius,
			density: float64(len(pts)) / area,
			count:   len(pts),
		}
	}
	return out
}

// baseline is the median density of clusters under the absolute threshold.
func (a *Analyzer) baseline(clusters []cluster) float64 {
	var ordinary []float64
	for _, c := range clusters {
		if c.density < a.cfg.AbsoluteDensityThreshold {
			ordinary = append(ordinary, c.density)
		}
	}
	return mathutil.Median(ordinary)
}

func (a *Analyzer) describe(c cluster, baseline float64) Cluster {
	absolute := c.density > a.cfg.AbsoluteDensityThreshold
	relative := baseline > 0 && c.density > baseline*a.cfg.RelativeDensityMultiplier

	reason := "Normal"
	switch {
	case absolute:
		reason = fmt.Sprintf("Absolute threshold exceeded (%g)", a.cfg.AbsoluteDensityThreshold)
	case relative:
		reason = fmt.Sprintf("Relative threshold (%gx baseline)", a.cfg.RelativeDensityMultiplier)
	}

	return Cluster{
		Label: c.label,
		Center: Point{
			Lat: mathutil.Round(c.center.Lat, a.cfg.CoordinatePrecision),
			Lon: mathutil.Round(c.center.Lon, a.cfg.CoordinatePrecision),
		},
		RadiusKm:         mathutil.Round(c.radius, a.cfg.RadiusPrecision),
		DensityPerKm2:    mathutil.Round(c.density, a.cfg.DensityPrecision),
		TransactionCount: c.count,
		Suspicious:       absolute || relative,
		SuspiciousReason: reason,
	}
}

func clusterName(label int) string {
	return fmt.Sprintf("cluster%d", label+1)
}
