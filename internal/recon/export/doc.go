// Package export writes fused surfaces as PLY files.
//
// Files are written to a temporary name in the target directory and renamed
// into place only once complete, so a failed export never leaves a partial
// file at the final path. ReadHeader and Verify parse written files back for
// round-trip checks.
package export
