package parser

import "io"

// Parser defines a generic interface for decoding a list of results from a response body.
// contentType is the response Content-Type header and drives charset conversion.
type Parser[T any] interface {
	Parse(body io.Reader, contentType string) ([]T, error)
}

// SingleResultParser defines a generic interface for decoding a single result.
type SingleResultParser[T any] interface {
	ParseOne(body io.Reader, contentType string) (*T, error)
}
