// Package geometry computes the crop, scale and rotation parameters that turn a
// decoded bitmap into the bitmap a request asked for.
//
// Everything in this package is pure: functions take dimensions and flags and
// return numbers. No pixels are touched here; the transform package feeds the
// results into the actual blit.
//
// # Coordinate System
//
// Coordinates follow the image convention used across this module:
//   - Origin (0, 0) at the top-left corner
//   - X increases rightward, Y increases downward
//   - Positive rotation angles turn the image clockwise on screen
//
// # Matrices
//
// A Matrix is a 2x3 affine transform mapping source coordinates to
// destination coordinates:
//
//	x' = A*x + B*y + Tx
//	y' = C*x + D*y + Ty
//
// The "Pre" operations concatenate on the right, so the most recently
// pre-applied operation is the first one a source point goes through. This is
// what lets the planner set a rotation first and then pre-scale, mirroring the
// order the caller describes the request in.
//
// # Centered Crop
//
// CenterCrop keeps a focal point visible while cropping the source to the
// target aspect ratio. The cropped axis length is rounded up and its origin is
// clamped into the source with EnsureMargin. The focal point defaults to the
// image center; face-centered crops pass the centroid of the detected faces.
package geometry
