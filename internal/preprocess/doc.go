// Package preprocess implements the deterministic transform chain that turns
// a machine photograph into a binarized region of interest:
//
//	resize 1224x1024 -> crop -> gaussian blur -> grayscale -> threshold -> closing
//
// Intermediate stages can be handed to a StageViewer for inspection; the
// viewer never influences the returned image.
package preprocess
