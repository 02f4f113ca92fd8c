package cluster

import (
	"math"
	"math/rand"
)

const (
	seed          = 42
	maxIterations = 100
)

// kmeans partitions points into k groups with Lloyd iterations from a
// k-means++ start. Centroids are dense over dim terms. The caller guarantees
// 1 <= k <= number of distinct points.
func kmeans(points []sparseVec, dim, k int) []int {
	rng := rand.New(rand.NewSource(seed))
	centroids := seedPlusPlus(points, dim, k, rng)

	labels := make([]int, len(points))
	for i := range labels {
		labels[i] = -1
	}
	for iter := 0; iter < maxIterations; iter++ {
		changed := false
		norms := sqNorms(centroids)
		for i, p := range points {
			best := nearest(p, centroids, norms)
			if best != labels[i] {
				labels[i] = best
				changed = true
			}
		}
		if !changed {
			break
		}
		centroids = recompute(points, labels, dim, k)
		reseedEmpty(points, labels, centroids)
	}
	return labels
}

func seedPlusPlus(points []sparseVec, dim, k int, rng *rand.Rand) [][]float64 {
	centroids := make([][]float64, 0, k)
	centroids = append(centroids, dense(points[rng.Intn(len(points))], dim))

	dist := make([]float64, len(points))
	for i, p := range points {
		dist[i] = sqDist(p, centroids[0])
	}
	for len(centroids) < k {
		var total float64
		for _, d := range dist {
			total += d
		}
		pick := -1
		if total > 0 {
			r := rng.Float64() * total
			for i, d := range dist {
				r -= d
				if d > 0 && r <= 0 {
					pick = i
					break
				}
			}
		}
		if pick < 0 {
			pick = farthest(dist)
		}
		c := dense(points[pick], dim)
		centroids = append(centroids, c)
		for i, p := range points {
			if d := sqDist(p, c); d < dist[i] {
				dist[i] = d
			}
		}
	}
	return centroids
}

func recompute(points []sparseVec, labels []int, dim, k int) [][]float64 {
	centroids := make([][]float64, k)
	counts := make([]int, k)
	for c := range centroids {
		centroids[c] = make([]float64, dim)
	}
	for i, p := range points {
		c := labels[i]
		counts[c]++
		for j, ix := range p.idx {
			centroids[c][ix] += p.val[j]
		}
	}
	for c, n := range counts {
		if n == 0 {
			continue
		}
		for j := range centroids[c] {
			centroids[c][j] /= float64(n)
		}
	}
	return centroids
}

// reseedEmpty moves the point farthest from its own centroid into each empty
// cluster. Ties go to the lowest index.
func reseedEmpty(points []sparseVec, labels []int, centroids [][]float64) {
	counts := make([]int, len(centroids))
	for _, l := range labels {
		counts[l]++
	}
	for c, n := range counts {
		if n > 0 {
			continue
		}
		dist := make([]float64, len(points))
		for i, p := range points {
			if counts[labels[i]] > 1 {
				dist[i] = sqDist(p, centroids[labels[i]])
			}
		}
		i := farthest(dist)
		counts[labels[i]]--
		labels[i] = c
		counts[c]++
		centroids[c] = dense(points[i], len(centroids[c]))
	}
}

func nearest(p sparseVec, centroids [][]float64, norms []float64) int {
	best, bestDist := 0, math.Inf(1)
	for c, cen := range centroids {
		if d := sqDistNorm(p, cen, norms[c]); d < bestDist {
			best, bestDist = c, d
		}
	}
	return best
}

func farthest(dist []float64) int {
	best := 0
	for i, d := range dist {
		if d > dist[best] {
			best = i
		}
	}
	return best
}

func sqNorms(centroids [][]float64) []float64 {
	out := make([]float64, len(centroids))
	for c, cen := range centroids {
		for _, x := range cen {
			out[c] += x * x
		}
	}
	return out
}

func sqDist(p sparseVec, c []float64) float64 {
	var cc float64
	for _, x := range c {
		cc += x * x
	}
	return sqDistNorm(p, c, cc)
}

// sqDistNorm is ||p - c||^2 computed as ||p||^2 - 2 p.c + ||c||^2.
func sqDistNorm(p sparseVec, c []float64, cc float64) float64 {
	var dot float64
	for j, ix := range p.idx {
		dot += p.val[j] * c[ix]
	}
	d := p.norm2() - 2*dot + cc
	if d < 0 {
		return 0
	}
	return d
}

func dense(p sparseVec, dim int) []float64 {
	out := make([]float64, dim)
	for j, ix := range p.idx {
		out[ix] = p.val[j]
	}
	return out
}
