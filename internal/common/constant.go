// Package common contains shared constants and sentinel errors used by both
// the sync client and the reference sync endpoint.
package common

// HTTP wire constants of the push/pull contract.
const (
	AuthorizationHeaderName = "Authorization"
	BearerPrefix            = "Bearer "
	ContentTypeJSON         = "application/json"

	PushPath = "/push"
	PullPath = "/pull"

	// SinceParam carries the pull checkpoint as unix milliseconds.
	SinceParam = "since"
)

// Operation names carried by queue entries, pushes and pulled changes.
const (
	OperationCreate = "create"
	OperationUpdate = "update"
	OperationDelete = "delete"
)
