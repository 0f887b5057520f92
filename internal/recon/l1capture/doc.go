// Package l1capture owns Layer 1 (Capture) of the reconstruction pipeline.
//
// Responsibilities: frame descriptor validation, color image and raw depth
// decoding, intrinsics normalization and per-frame depth quality reports.
// This layer produces CaptureFrames consumed by L2 (Points).
//
// Dependency rule: L1 has no inward dependencies on higher layers. All file
// access goes through fsutil.FileSystem.
package l1capture
