package kmeans

import (
	"context"
	"errors"
	"math"
	"math/rand"

	"github.com/hupe1980/localagg/distance"
)

// ErrTooFewVectors is returned when there are fewer vectors than clusters.
var ErrTooFewVectors = errors.New("kmeans: fewer vectors than clusters")

// Init selects how initial centroids are chosen.
type Init int

const (
	// InitKMeansPlusPlus uses D² weighted sampling.
	InitKMeansPlusPlus Init = iota
	// InitRandom picks k distinct data points uniformly.
	InitRandom
)

// Options configures a training run.
type Options struct {
	// MaxIter bounds the number of Lloyd iterations.
	MaxIter int
	// Tolerance stops early once the largest centroid shift (squared L2) drops below it.
	Tolerance float32
	// Init is the seeding strategy.
	Init Init
	// Spherical renormalizes centroids to unit length after each update.
	Spherical bool
	// Seed drives all randomness of the run.
	Seed int64
}

// DefaultOptions are used when no options are passed.
var DefaultOptions = Options{
	MaxIter:   50,
	Tolerance: 1e-6,
	Init:      InitKMeansPlusPlus,
	Spherical: false,
	Seed:      1,
}

// Result is the output of Fit.
type Result struct {
	// Centroids are flattened (k * dim).
	Centroids []float32
	// Assignments holds the cluster of every input vector.
	Assignments []int
	// Iterations is the number of Lloyd iterations executed.
	Iterations int
	// Inertia is the sum of distances of every vector to its centroid.
	Inertia float64
}

// Fit runs Lloyd's algorithm for k centroids over n = len(vectors)/dim rows.
func Fit(ctx context.Context, vectors []float32, dim int, k int, metric distance.Metric, optFns ...func(o *Options)) (*Result, error) {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}

	if dim <= 0 || k <= 0 {
		return nil, errors.New("kmeans: dim and k must be positive")
	}
	n := len(vectors) / dim
	if n < k {
		return nil, ErrTooFewVectors
	}

	distFunc, err := metric.Func()
	if err != nil {
		return nil, err
	}

	rng := rand.New(rand.NewSource(opts.Seed)) // nolint gosec

	centroids := make([]float32, k*dim)
	switch opts.Init {
	case InitRandom:
		perm := rng.Perm(n)
		for i := 0; i < k; i++ {
			copy(centroids[i*dim:(i+1)*dim], vectors[perm[i]*dim:(perm[i]+1)*dim])
		}
	default:
		seedPlusPlus(rng, vectors, dim, k, centroids)
	}
	if opts.Spherical {
		normalizeRows(centroids, dim)
	}

	assignments := make([]int, n)
	for i := range assignments {
		assignments[i] = -1
	}
	counts := make([]int, k)
	sums := make([]float32, k*dim)

	res := &Result{}
	for iter := 0; iter < opts.MaxIter; iter++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res.Iterations = iter + 1

		// Assignment step
		changed := false
		for i := 0; i < n; i++ {
			best, _ := nearest(vectors[i*dim:(i+1)*dim], centroids, dim, distFunc)
			if assignments[i] != best {
				assignments[i] = best
				changed = true
			}
		}

		if !changed {
			break
		}

		// Update step
		for i := range sums {
			sums[i] = 0
		}
		for i := range counts {
			counts[i] = 0
		}
		for i := 0; i < n; i++ {
			c := assignments[i]
			vec := vectors[i*dim : (i+1)*dim]
			row := sums[c*dim : (c+1)*dim]
			for d := range row {
				row[d] += vec[d]
			}
			counts[c]++
		}

		var shift float32
		for j := 0; j < k; j++ {
			center := centroids[j*dim : (j+1)*dim]
			prev := append([]float32(nil), center...)
			if counts[j] > 0 {
				scale := 1.0 / float32(counts[j])
				for d := range center {
					center[d] = sums[j*dim+d] * scale
				}
			} else {
				// Re-seed an empty cluster with the point farthest from its centroid.
				far := farthest(vectors, dim, centroids, assignments, distFunc)
				copy(center, vectors[far*dim:(far+1)*dim])
			}
			if opts.Spherical {
				if !distance.Normalize(center) {
					copy(center, prev)
				}
			}
			if s := distance.SquaredL2(prev, center); s > shift {
				shift = s
			}
		}

		if shift < opts.Tolerance {
			// Centroids settled: refresh assignments once more and stop.
			for i := 0; i < n; i++ {
				assignments[i], _ = nearest(vectors[i*dim:(i+1)*dim], centroids, dim, distFunc)
			}
			break
		}
	}

	for i := 0; i < n; i++ {
		c := assignments[i]
		if c < 0 {
			c, _ = nearest(vectors[i*dim:(i+1)*dim], centroids, dim, distFunc)
			assignments[i] = c
		}
		res.Inertia += float64(distFunc(vectors[i*dim:(i+1)*dim], centroids[c*dim:(c+1)*dim]))
	}

	res.Centroids = centroids
	res.Assignments = assignments
	return res, nil
}

// seedPlusPlus fills centroids using k-means++ D² sampling under squared L2.
func seedPlusPlus(rng *rand.Rand, vectors []float32, dim, k int, centroids []float32) {
	n := len(vectors) / dim
	first := rng.Intn(n)
	copy(centroids[:dim], vectors[first*dim:(first+1)*dim])

	d2 := make([]float64, n)
	for i := 0; i < n; i++ {
		d2[i] = float64(distance.SquaredL2(vectors[i*dim:(i+1)*dim], centroids[:dim]))
	}

	for c := 1; c < k; c++ {
		var total float64
		for _, d := range d2 {
			total += d
		}

		pick := -1
		if total > 0 {
			target := rng.Float64() * total
			for i, d := range d2 {
				target -= d
				if target <= 0 && d > 0 {
					pick = i
					break
				}
			}
		}
		if pick < 0 {
			// Degenerate data (duplicates): fall back to any point not yet a centroid.
			pick = rng.Intn(n)
		}

		center := centroids[c*dim : (c+1)*dim]
		copy(center, vectors[pick*dim:(pick+1)*dim])
		for i := 0; i < n; i++ {
			if d := float64(distance.SquaredL2(vectors[i*dim:(i+1)*dim], center)); d < d2[i] {
				d2[i] = d
			}
		}
	}
}

func nearest(vec []float32, centroids []float32, dim int, distFunc distance.Func) (int, float32) {
	k := len(centroids) / dim
	best := -1
	minDist := float32(math.MaxFloat32)
	for j := 0; j < k; j++ {
		d := distFunc(vec, centroids[j*dim:(j+1)*dim])
		if best < 0 || d < minDist {
			minDist = d
			best = j
		}
	}
	return best, minDist
}

func farthest(vectors []float32, dim int, centroids []float32, assignments []int, distFunc distance.Func) int {
	n := len(vectors) / dim
	far := 0
	maxDist := float32(-math.MaxFloat32)
	for i := 0; i < n; i++ {
		c := assignments[i]
		d := distFunc(vectors[i*dim:(i+1)*dim], centroids[c*dim:(c+1)*dim])
		if d > maxDist {
			maxDist = d
			far = i
		}
	}
	return far
}

func normalizeRows(data []float32, dim int) {
	for off := 0; off+dim <= len(data); off += dim {
		distance.Normalize(data[off : off+dim])
	}
}
