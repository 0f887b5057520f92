// Package l4volume owns Layer 4 (Volume) of the reconstruction pipeline.
//
// Responsibilities: the sparse truncated signed distance grid, projective
// integration of posed organized point sets, and iso-surface extraction as
// a point cloud or a marching-tetrahedra mesh.
// Key types: Volume, Cell, Observation.
//
// Dependency rule: L4 may depend on L1-L3, but never on fusion or export.
package l4volume
