// Package conflict decides whether two copies of a record diverged and
// settles the divergence with last-write-wins, version-based or field-level
// merge rules. Pairs that cannot be settled automatically come back with
// ResolutionManual for the caller to persist.
package conflict
