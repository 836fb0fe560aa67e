package client

import "errors"

var (
	ErrUnavailable  = errors.New("server unavailable")
	ErrTimeout      = errors.New("request timed out")
	ErrUnauthorized = errors.New("unauthorized")
	ErrRemote       = errors.New("remote rejected request")
)
