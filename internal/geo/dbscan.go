package geo

// noise is the label of points that belong to no cluster.
const noise = -1

// dbscan labels points by density reachability under the haversine metric.
// eps is an angle in radians; minSamples counts the point itself.
//
// The traversal order matches scikit-learn's implementation: points are
// seeded in input order and neighbours are expanded depth-first, so equal
// input always yields equal labels.
func dbscan(points []Point, eps float64, minSamples int) []int {
	n := len(points)
	rad := make([]radPoint, n)
	for i, p := range points {
		rad[i] = radians(p)
	}

	// O(n²) neighbourhood scan. Lists come out sorted by index.
	neighbors := make([][]int, n)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			if centralAngle(rad[i], rad[j]) > eps {
				continue
			}
			neighbors[i] = append(neighbors[i], j)
			if j != i {
				neighbors[j] = append(neighbors[j], i)
			}
		}
	}

	core := make([]bool, n)
	for i := range neighbors {
		core[i] = len(neighbors[i]) >= minSamples
	}

	labels := make([]int, n)
	for i := range labels {
		labels[i] = noise
	}

	next := 0
	var stack []int
	for seed := 0; seed < n; seed++ {
		if labels[seed] != noise || !core[seed] {
			continue
		}
		i := seed
		for {
			if labels[i] == noise {
				labels[i] = next
				if core[i] {
					for _, v := range neighbors[i] {
						if labels[v] == noise {
							stack = append(stack, v)
						}
					}
				}
			}
			if len(stack) == 0 {
				break
			}
			i = stack[len(stack)-1]
			stack = stack[:len(stack)-1]
		}
		next++
	}
	return labels
}
