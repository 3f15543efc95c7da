package store

import "errors"

// ErrNotFound marks lookups for rows that do not exist. Callers match it
// with errors.Is to map onto 404s.
var ErrNotFound = errors.New("not found")

// ErrDimensionMismatch is returned when a vector's dimensionality differs
// from the corpus-wide embedding dimension already stored.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")
