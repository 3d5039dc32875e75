// Package machine holds the per-machine capture geometry: which part of the
// canonical 1224x1024 frame contains the DataMatrix symbol and whether
// intermediate stages are displayed for that machine.
package machine
