// Package dataset provides the domain models for powder reduction.
//
// # Core Types
//
// Dataset: a collection of per-detector spectra plus geometry and run metadata.
// DetectorRef: a detector id, its 3-D position relative to the sample, and a monitor flag.
// Mask: a set of detector ids excluded from further processing.
//
// Datasets are plain values owned by their creator. Functions in the sibling
// packages (ops, axis, masking, exposure) return derived datasets and never
// modify their inputs unless the function documents an in-place update.
//
// Datasets persist as CBOR using Core Deterministic Encoding, optionally
// wrapped in zstd or lz4 framing selected by file extension.
package dataset
