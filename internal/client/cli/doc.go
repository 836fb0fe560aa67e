// Package cli provides the interactive sync agent.
//
// It wires configuration, local storage, the HTTP transport and the sync
// services, starts the background sync loop and runs a small REPL for
// inspecting and editing local data. Typical flow: load config, open the
// store, initialize the device identity, start syncing and execute user
// commands until exit.
//
// Key features:
//   - Add, edit, list, show and delete records per bucket
//   - Plain JSON documents via set/value
//   - Manual sync, queue status and failed-delivery management
//   - Listing and resolving conflicts that need a decision
//
// The REPL is started via App.Run(ctx), which blocks until the user exits.
package cli
