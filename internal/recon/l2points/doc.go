// Package l2points owns Layer 2 (Points) of the reconstruction pipeline.
//
// Responsibilities: back-projecting a frame's depth map through its pinhole
// intrinsics into an organized camera-space point set, with per-point
// normals, colors and observation weights.
//
// Dependency rule: L2 may depend on L1, but never on L3+. Projection is a
// pure function of the frame and Config.
package l2points
