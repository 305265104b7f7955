package topics

import (
	"math"
	"math/rand/v2"
)

const kmeansMaxIter = 100

// kmeans clusters rows with k-means++ seeding followed by Lloyd iterations.
// It returns the centroids and the cluster of every row.
func kmeans(rows [][]float64, k int, seed uint64) ([][]float64, []int) {
	if len(rows) == 0 || k <= 0 {
		return nil, nil
	}
	if k > len(rows) {
		k = len(rows)
	}
	rng := rand.New(rand.NewPCG(seed, seed+1))

	centroids := seedCentroids(rows, k, rng)
	assign := make([]int, len(rows))
	for i := range assign {
		assign[i] = -1
	}

	for iter := 0; iter < kmeansMaxIter; iter++ {
		changed := false
		for i, row := range rows {
			c := nearest(centroids, row)
			if c != assign[i] {
				assign[i] = c
				changed = true
			}
		}
		if !changed {
			break
		}

		dim := len(rows[0])
		sums := make([][]float64, k)
		sizes := make([]int, k)
		for c := range sums {
			sums[c] = make([]float64, dim)
		}
		for i, row := range rows {
			c := assign[i]
			sizes[c]++
			for j, x := range row {
				sums[c][j] += x
			}
		}
		for c := range centroids {
			// empty clusters keep their previous centroid
			if sizes[c] == 0 {
				continue
			}
			for j := range sums[c] {
				sums[c][j] /= float64(sizes[c])
			}
			centroids[c] = sums[c]
		}
	}
	return centroids, assign
}

func seedCentroids(rows [][]float64, k int, rng *rand.Rand) [][]float64 {
	centroids := make([][]float64, 0, k)
	centroids = append(centroids, clone(rows[rng.IntN(len(rows))]))

	dist := make([]float64, len(rows))
	for len(centroids) < k {
		var total float64
		for i, row := range rows {
			dist[i] = sqDist(row, centroids[nearest(centroids, row)])
			total += dist[i]
		}
		// all remaining rows coincide with a centroid
		if total == 0 {
			centroids = append(centroids, clone(rows[len(centroids)%len(rows)]))
			continue
		}
		u := rng.Float64() * total
		pick := len(rows) - 1
		for i, d := range dist {
			u -= d
			if u <= 0 {
				pick = i
				break
			}
		}
		centroids = append(centroids, clone(rows[pick]))
	}
	return centroids
}

func nearest(centroids [][]float64, row []float64) int {
	best, bestDist := 0, math.Inf(1)
	for c, centroid := range centroids {
		if d := sqDist(row, centroid); d < bestDist {
			best, bestDist = c, d
		}
	}
	return best
}

func sqDist(a, b []float64) float64 {
	var s float64
	for i := range a {
		d := a[i] - b[i]
		s += d * d
	}
	return s
}

func clone(v []float64) []float64 {
	return append([]float64(nil), v...)
}
