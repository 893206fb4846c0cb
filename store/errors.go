package store

import "errors"

var (
	// ErrNotFound indicates that no record is currently stored for the
	// service.
	ErrNotFound = errors.New("record not found")
	// ErrRequestFailed indicates that a request could not be completed.
	// The cause is logged by the storage service; callers only see this
	// generic outcome and the expected recovery is to log and move on.
	ErrRequestFailed = errors.New("storage request failed")
)
