package models

// StreamResult holds either a value or an error from a streaming operation.
// A result with a non-nil Err is always the last one sent on its channel.
type StreamResult[T any] struct {
	Value T
	Err   error
}
