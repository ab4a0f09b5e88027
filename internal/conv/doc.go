// Package conv collects tiny helper functions that are not part of the public API
// but aid internal conversions.
//
// It exposes `AsUint64` which coerces various numeric types into a plain Go
// integer, mostly for JSON-RPC request id handling where decoded ids arrive
// as float64.
package conv
