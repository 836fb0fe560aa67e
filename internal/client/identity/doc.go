// Package identity maintains the metadata block of every record.
//
// It generates record and device identifiers, stamps records on each local
// mutation, turns deletions into tombstones, repairs malformed quotes,
// invoices and clients, and runs the one-time import of legacy documents
// into the record store.
package identity
