package parser

import (
	"bytes"
	"errors"
	"io"

	"golang.org/x/net/html/charset"
)

// NewUTF8Reader wraps an io.Reader with character encoding detection and conversion to UTF-8.
// The charset parameter of contentType wins; otherwise a byte order mark or valid UTF-8
// content is detected. UTF-8 input passes through unchanged and an empty body yields an empty reader.
func NewUTF8Reader(body io.Reader, contentType string) (io.Reader, error) {
	r, err := charset.NewReader(body, contentType)
	if errors.Is(err, io.EOF) {
		return bytes.NewReader(nil), nil
	}
	return r, err
}
