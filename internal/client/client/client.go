package client

import (
	"context"
	"encoding/json"
	"time"

	"github.com/dmitrijs2005/cleansync/internal/client/models"
)

// Client is the transport used by the sync engine to reach the remote
// endpoint. Every call is bounded by the implementation's timeout.
type Client interface {
	Push(ctx context.Context, req *PushRequest) (*PushResponse, error)
	Pull(ctx context.Context, since time.Time) (*PullResponse, error)
}

// PushRequest is the body of POST /push.
type PushRequest struct {
	Entity    string          `json:"entity"`
	Operation string          `json:"operation"`
	Data      json.RawMessage `json:"data"`
	DeviceID  string          `json:"deviceId"`
	// Timestamp is the client send time in unix milliseconds.
	Timestamp int64 `json:"timestamp"`
}

// PushResponse is the body returned by POST /push. Conflict is set when
// the endpoint holds a copy that it would not overwrite; ServerData then
// carries that copy.
type PushResponse struct {
	OK         bool            `json:"ok"`
	Conflict   bool            `json:"conflict,omitempty"`
	ServerData json.RawMessage `json:"serverData,omitempty"`
}

// PullResponse is the body returned by GET /pull.
type PullResponse struct {
	Changes []models.Change `json:"changes"`
	// ServerTime is the endpoint clock in unix milliseconds at the moment
	// the change set was read. Zero when the endpoint does not report it.
	ServerTime int64 `json:"serverTime,omitempty"`
}
