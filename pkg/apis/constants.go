package apis

import (
	"errors"
)

const (
	// HTTP request headers
	IfMatch = "If-Match"

	// HTTP response headers
	ETag = "ETag"

	// query parameters
	Limit = "limit"
)

var (
	// ErrMismatch reports a stale version on a conditional write.
	ErrMismatch = errors.New("resource mismatch")
	ErrInternal = errors.New("internal error")
)
