// Package detection finds faces for face-centered crops.
//
// The only detector shipped here is a skin-tone heuristic: it is fast, has no
// model files or cgo dependencies, and is good enough to pull a crop window
// toward people in portraits and group shots. Anything implementing
// request.FaceDetector can replace it.
//
// # Algorithm Overview
//
//  1. Classification: each pixel is converted to HSV and marked as skin when
//     hue, saturation and value fall inside the configured ranges
//  2. Grouping: skin pixels are grouped into 8-connected regions with an
//     iterative flood fill
//  3. Filtering: regions that are too small, too elongated or too sparse to be
//     a face are discarded
//  4. Ranking: the remaining regions are ordered largest first and truncated
//     to the requested count
//
// # Coordinate System
//
// Face rectangles are reported relative to the top-left corner of the image,
// regardless of the image's bounds origin:
//   - X increases rightward
//   - Y increases downward
//
// # Limitations
//
// Skin tone alone cannot tell a face from a hand, a wooden table or a sunset.
// Results on photographs without people are unreliable; callers fall back to
// a center crop when nothing is found.
package detection
