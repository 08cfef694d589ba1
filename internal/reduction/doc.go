// Package reduction drives the powder-reduction pipeline.
//
// A call to Reducer.Reduce takes N sample datasets, an optional calibration
// and zero, one or N backgrounds through these stages:
//
//	Init → Normalized → Masked → AxisConverted → Resampled → Combined → Merged → Done
//
// with Failed reachable from any live stage. Samples, backgrounds and the
// calibration advance independently, and concurrently, up to Resampled;
// combining and merging is strictly sequential in sample order.
//
// Every intermediate dataset is a named artifact in a pool owned by the
// call. The pool is drained before Reduce returns, whatever the outcome;
// the output dataset is never part of it.
package reduction
