// Package barcode wraps a pluggable DataMatrix decoder backend and classifies
// each attempt as a success carrying text or as not found.
//
// The default backend is gozxing's DataMatrix reader. Backends are looked up
// by name:
//
//	backend, err := barcode.NewBackend("zxing")
//	dec, err := barcode.NewDecoder(backend, barcode.WithLogger(logger))
//	outcome := dec.Decode(ctx, "a.png", roi)
package barcode
