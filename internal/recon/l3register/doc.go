// Package l3register owns Layer 3 (Registration) of the reconstruction
// pipeline.
//
// Responsibilities: the voxel-downsampled reference model that frames are
// aligned against, kd-tree correspondence search and iterative closest
// point alignment (point-to-point or point-to-plane).
// Key types: Model, Registrar, Result.
//
// Dependency rule: L3 may depend on L1-L2, but never on L4+.
package l3register
