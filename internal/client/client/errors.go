package client

import "errors"

var (
	ErrUnavailable  = errors.New("server unavailable")
	ErrUnauthorized = errors.New("unauthorized")
	// ErrRejected is returned when the server refuses the request itself.
	// Sending it again cannot succeed.
	ErrRejected = errors.New("request rejected")
)
