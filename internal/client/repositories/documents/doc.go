// Package documents persists keyed JSON documents in the local store.
package documents
