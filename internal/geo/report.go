package geo

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Cluster describes one dense group of transaction locations.
// Numeric fields are rounded to the configured output precision.
type Cluster struct {
	Label            int     `json:"label"`
	Center           Point   `json:"-"`
	RadiusKm         float64 `json:"radius_km"`
	DensityPerKm2    float64 `json:"density_per_km2"`
	TransactionCount int     `json:"transaction_count"`
	Suspicious       bool    `json:"is_suspicious"`
	SuspiciousReason string  `json:"suspicious_reason"`
}

// MarshalJSON flattens the centroid into latitude_center/longitude_center.
func (c Cluster) MarshalJSON() ([]byte, error) {
	type plain Cluster
	return json.Marshal(struct {
		plain
		LatitudeCenter  float64 `json:"latitude_center"`
		LongitudeCenter float64 `json:"longitude_center"`
	}{plain(c), c.Center.Lat, c.Center.Lon})
}

// Membership locates the current transaction inside a cluster.
type Membership struct {
	ClusterNumber string  // "cluster1", "cluster2", ...
	Density       float64 // density of that cluster
	DistanceKm    float64 // distance from the cluster centroid
}

// Report is the analyzer's result for one request. When Error is set the
// other fields are zero and the report carries no cluster signal.
type Report struct {
	ClustersIdentified int
	InCluster          bool
	BaselineDensity    float64
	Clusters           []Cluster
	Membership         *Membership
	Error              string
}

// Failed reports whether clustering could not be performed.
func (r *Report) Failed() bool {
	return r == nil || r.Error != ""
}

// Cluster returns the cluster with the given 1-indexed name ("cluster2").
func (r *Report) Cluster(name string) (Cluster, bool) {
	if r == nil {
		return Cluster{}, false
	}
	n, err := strconv.Atoi(strings.TrimPrefix(name, "cluster"))
	if err != nil || n < 1 || n > len(r.Clusters) {
		return Cluster{}, false
	}
	return r.Clusters[n-1], true
}

// MemberCluster returns the cluster holding the current transaction.
func (r *Report) MemberCluster() (Cluster, bool) {
	if r.Failed() || !r.InCluster || r.Membership == nil {
		return Cluster{}, false
	}
	return r.Cluster(r.Membership.ClusterNumber)
}

// MarshalJSON writes the flat layout clients expect:
//
//	{"clusters_identified": 1, "this_transaction_is_in_cluster": true,
//	 "baseline_density": 0, "cluster1_info": {...},
//	 "transaction_cluster_number": "cluster1", ...}
func (r Report) MarshalJSON() ([]byte, error) {
	if r.Error != "" {
		return json.Marshal(map[string]string{"error": r.Error})
	}
	out := map[string]any{
		"clusters_identified":            r.ClustersIdentified,
		"this_transaction_is_in_cluster": r.InCluster,
		"baseline_density":               r.BaselineDensity,
	}
	for i, c := range r.Clusters {
		out[fmt.Sprintf("cluster%d_info", i+1)] = c
	}
	if r.InCluster && r.Membership != nil {
		out["transaction_cluster_number"] = r.Membership.ClusterNumber
		out["transaction_cluster_density"] = r.Membership.Density
		out["distance_from_cluster_center_km"] = r.Membership.DistanceKm
	}
	return json.Marshal(out)
}
