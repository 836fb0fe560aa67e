// Package queue persists the outbound sync queue and the failed-entry list.
//
// Timestamps are stored as unix nanoseconds. Entries are ordered by an
// autoincrement sequence, so a coalesced entry takes a new position at the
// tail of the queue.
package queue
