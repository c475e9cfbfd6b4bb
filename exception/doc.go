// Package exception defines the error taxonomy shared by every pixcache
// package and the collector that accumulates non-fatal warnings.
//
// Errors are classified by kind. Each kind is a sentinel that can be matched
// with errors.Is:
//
//   - [ErrResourceLimit]: memory, map or disk exhaustion. Fatal to the
//     operation, never retried.
//   - [ErrCache]: out-of-range authentic access or a stale window.
//   - [ErrOption]: malformed option, metric name, geometry or color.
//   - [ErrImage]: problems with the images themselves (nil input, geometry
//     that cannot be searched). At warning severity these are advisory.
//
// Warnings never interrupt control flow. Operations record them on a
// caller-supplied [Collector] and still return their numeric result:
//
//	exc := exception.NewCollector()
//	d, err := engine.Distortion(ctx, a, b, compare.NCC, exc)
//	for _, w := range exc.Warnings() {
//	    log.Println(w)
//	}
package exception
