// Package cluster partitions memory bank snapshots into labelled groups.
//
// A Clusterer is any algorithm that maps N row-major vectors to N integer
// labels. Run invokes R independently seeded clusterers on one snapshot and
// packs the result into an Assignment, which answers "which other samples
// share my label in at least one repeat" with roaring bitmaps.
//
// Clustering is the expensive step of a training run, so a Refresher keeps
// the current Assignment behind an atomic pointer and can rebuild it off the
// batch path. Readers only ever observe a complete Assignment; a refresh that
// fails or is cancelled leaves the previous one in place.
//
//	r, _ := cluster.NewRefresher(c, repeats, cluster.KMeansFactory(cluster.KMeans{Spherical: true}))
//	if policy.Due(step, epochStart) {
//	    r.RefreshAsync(ctx, snap)
//	}
//	a := r.Current()
package cluster
