// Package pipeline runs a full reconstruction request: it validates the
// frame descriptors, loads and projects every frame on a bounded worker
// pool, fuses the point sets and exports the surface as PLY.
//
// Each request runs inside a Session that owns its logger, clock,
// filesystem and configuration; nothing is shared between sessions. Run
// never panics and never returns a Go error: every outcome, including
// cancellation, is reported in the ReconstructionResult.
package pipeline
