// Package resource bounds what a training run may consume: memory bank
// storage, background cluster refreshes and checkpoint bandwidth.
//
//	rc := resource.NewController(resource.Limits{
//	    BankBytes:             1 << 30,
//	    CheckpointBytesPerSec: 32 << 20,
//	})
//
//	done, ok := rc.StartRefresh()
//	if !ok {
//	    return // a refresh is already running
//	}
//	defer done()
//
// A nil *Controller imposes no limits.
package resource
