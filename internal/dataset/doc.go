// Package dataset composes patch addressing, raster loading and label lookup
// into indexed training samples.
//
// # Splits
//
// A split is a plain-text file, one patch identifier per line, named
// <splits_dir>/<split>_X.txt. It is read once when a Dataset is opened and
// never again. OpenCorpus opens train, val and test together and refuses
// corpora whose splits share an identifier.
//
// # Samples
//
// Get re-reads the patch rasters on every call (or takes a private copy from
// the optional patch cache), so samples never share mutable state. The only
// shared state is the identifier list and the label table, both read-only
// after Open; Get may be called concurrently from any number of goroutines.
//
// Per-sample failures are returned as errors that name the identifier and
// wrap the underlying sentinel (labels.ErrNotFound, raster.ErrMissing,
// raster.ErrRead, raster.ErrAlignment). Nothing is skipped or zero-filled.
//
// # Iteration
//
// Iterate assembles batches with a bounded pool of workers, optionally in a
// seeded shuffled order. Verify walks a whole split and reports every defect
// instead of stopping at the first. BandStatistics re-derives per-band mean
// and standard deviation from raw pixel values.
package dataset
