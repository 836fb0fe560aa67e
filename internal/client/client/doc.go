// Package client contains the transport and bootstrap pieces used by the
// sync engine.
//
// # Overview
//
// The package provides:
//  1. A transport contract (see the Client interface) with two calls:
//     Push, which sends a single record or document change, and Pull, which
//     fetches every change recorded since a checkpoint.
//  2. An HTTP/JSON implementation (see HTTPClient) that attaches a bearer
//     token, bounds each call with a timeout, and maps transport failures to
//     sentinel errors.
//  3. Local persistence bootstrap (InitDatabase, RunMigrations) that opens the
//     SQLite store and applies the embedded goose migrations.
//
// # Error Handling
//
// Failures are exposed as sentinel errors that callers can match with
// errors.Is: ErrUnavailable, ErrTimeout, ErrUnauthorized, ErrRemote.
package client
