package cluster

import (
	"context"

	"github.com/hupe1980/localagg/distance"
	"github.com/hupe1980/localagg/internal/kmeans"
	"github.com/hupe1980/localagg/lagerr"
)

// Clusterer assigns a label to every row of data (n rows of dim values).
type Clusterer interface {
	Cluster(ctx context.Context, data []float32, dim int) ([]int, error)
}

// Func adapts a plain function to the Clusterer interface.
type Func func(ctx context.Context, data []float32, dim int) ([]int, error)

// Cluster implements Clusterer.
func (f Func) Cluster(ctx context.Context, data []float32, dim int) ([]int, error) {
	return f(ctx, data, dim)
}

// Factory builds the clusterer of one repeat. c is the number of labels and
// seed differs for every repeat.
type Factory func(c int, seed int64) Clusterer

// KMeans is Lloyd's k-means with k-means++ or random seeding.
type KMeans struct {
	// K is the number of centroids.
	K int
	// MaxIter bounds the Lloyd iterations (default 50).
	MaxIter int
	// Tolerance stops once no centroid moves further than it (squared L2).
	Tolerance float32
	// RandomInit seeds with uniformly drawn points instead of k-means++.
	RandomInit bool
	// Spherical renormalizes centroids and assigns by cosine similarity.
	Spherical bool
	// Seed drives initialization.
	Seed int64
}

// Cluster implements Clusterer.
func (km KMeans) Cluster(ctx context.Context, data []float32, dim int) ([]int, error) {
	if km.K <= 0 {
		return nil, lagerr.Configf("kmeans: k must be positive, got %d", km.K)
	}

	metric := distance.MetricL2
	if km.Spherical {
		metric = distance.MetricCosine
	}

	res, err := kmeans.Fit(ctx, data, dim, km.K, metric, func(o *kmeans.Options) {
		if km.MaxIter > 0 {
			o.MaxIter = km.MaxIter
		}
		if km.Tolerance > 0 {
			o.Tolerance = km.Tolerance
		}
		if km.RandomInit {
			o.Init = kmeans.InitRandom
		}
		o.Spherical = km.Spherical
		o.Seed = km.Seed
	})
	if err != nil {
		return nil, err
	}
	return res.Assignments, nil
}

// KMeansFactory returns a Factory that copies tmpl and sets K and Seed per repeat.
func KMeansFactory(tmpl KMeans) Factory {
	return func(c int, seed int64) Clusterer {
		km := tmpl
		km.K = c
		km.Seed = seed
		return km
	}
}

// DefaultFactory is spherical k-means, which suits unit embeddings.
var DefaultFactory = KMeansFactory(KMeans{Spherical: true})
