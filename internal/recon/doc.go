// Package recon holds the shared data model of the face reconstruction core.
//
// Responsibilities: capture frame and point types, rigid transforms, the
// error taxonomy and the ops/diag/trace log streams.
// Key types: CaptureFrame, PointSet, Point3D, Transform, Error, Logger.
//
// The stage packages are layered the same way as the data flows:
//
//	l1capture  descriptors -> CaptureFrame (validate + decode)
//	l2points   CaptureFrame -> PointSet (pinhole back-projection)
//	l3register PointSet -> rigid pose (ICP)
//	l4volume   posed PointSets -> TSDF grid -> Surface
//	fusion     l3register + l4volume
//	export     Surface -> PLY
//	pipeline   orchestration for one reconstruction request
//
// Dependency rule: a layer may depend on recon and lower layers, never on
// higher ones. No package-level mutable state is allowed anywhere in the
// core; everything per request travels in a pipeline.Session.
package recon
