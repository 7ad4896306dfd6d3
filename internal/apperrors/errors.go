package apperrors

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// maxMessageLen bounds how much of a response body ends up in an error message.
const maxMessageLen = 256

// ErrQuerySyntax is returned when the hub rejects the query text, or when the text is empty.
type ErrQuerySyntax struct {
	Query      string
	StatusCode int
	Message    string
}

// Error implements the error interface.
func (e *ErrQuerySyntax) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("invalid query %q: %s", e.Query, e.Message)
	}
	return fmt.Sprintf("invalid query %q", e.Query)
}

// Is allows for error checking with errors.Is().
func (e *ErrQuerySyntax) Is(target error) bool {
	_, ok := target.(*ErrQuerySyntax)
	return ok
}

// ErrAuthorization is returned when the credential is missing, invalid or lacks permission.
type ErrAuthorization struct {
	StatusCode int
	Message    string
}

// Error implements the error interface.
func (e *ErrAuthorization) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("not authorized (status %d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("not authorized (status %d)", e.StatusCode)
}

// Is allows for error checking with errors.Is().
func (e *ErrAuthorization) Is(target error) bool {
	_, ok := target.(*ErrAuthorization)
	return ok
}

// ErrTransport is returned when a request could not complete: network failure, timeout,
// cancellation, an unexpected status or an undecodable body.
type ErrTransport struct {
	Op         string
	StatusCode int // 0 when no response was received
	Err        error
}

// Error implements the error interface.
func (e *ErrTransport) Error() string {
	switch {
	case e.StatusCode != 0 && e.Err != nil:
		return fmt.Sprintf("%s: status %d: %v", e.Op, e.StatusCode, e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("%s: status %d", e.Op, e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return e.Op + ": transport failure"
}

// Unwrap returns the underlying cause.
func (e *ErrTransport) Unwrap() error {
	return e.Err
}

// Is allows for error checking with errors.Is().
func (e *ErrTransport) Is(target error) bool {
	_, ok := target.(*ErrTransport)
	return ok
}

// NewTransportError wraps err as an ErrTransport for the given operation.
func NewTransportError(op string, err error) *ErrTransport {
	return &ErrTransport{Op: op, Err: err}
}

// ErrNotFound represents an error when a requested resource is not found.
type ErrNotFound struct {
	Resource string
	ID       interface{}
}

// Error implements the error interface.
func (e *ErrNotFound) Error() string {
	if e.ID != nil {
		return fmt.Sprintf("%s with ID %v not found", e.Resource, e.ID)
	}
	return fmt.Sprintf("%s not found", e.Resource)
}

// Is allows for error checking with errors.Is().
func (e *ErrNotFound) Is(target error) bool {
	_, ok := target.(*ErrNotFound)
	return ok
}

// NewNotFoundError creates a new ErrNotFound.
func NewNotFoundError(resource string, id interface{}) *ErrNotFound {
	return &ErrNotFound{
		Resource: resource,
		ID:       id,
	}
}

// ErrPreconditionFailed is returned when an update carried an ETag that no longer matches the twin.
type ErrPreconditionFailed struct {
	Resource string
	ID       interface{}
	ETag     string
}

// Error implements the error interface.
func (e *ErrPreconditionFailed) Error() string {
	return fmt.Sprintf("%s with ID %v was modified (etag %q is stale)", e.Resource, e.ID, e.ETag)
}

// Is allows for error checking with errors.Is().
func (e *ErrPreconditionFailed) Is(target error) bool {
	_, ok := target.(*ErrPreconditionFailed)
	return ok
}

// FromQueryStatus classifies a non-200 response of the query endpoint.
func FromQueryStatus(query string, status int, body []byte) error {
	msg := ExtractMessage(body)
	switch status {
	case http.StatusBadRequest:
		return &ErrQuerySyntax{Query: query, StatusCode: status, Message: msg}
	case http.StatusUnauthorized, http.StatusForbidden:
		return &ErrAuthorization{StatusCode: status, Message: msg}
	}
	return &ErrTransport{Op: "query", StatusCode: status, Err: messageError(msg)}
}

// FromTwinStatus classifies a non-success response of a twin endpoint.
func FromTwinStatus(op string, id string, etag string, status int, body []byte) error {
	msg := ExtractMessage(body)
	switch status {
	case http.StatusNotFound:
		return NewNotFoundError("twin", id)
	case http.StatusPreconditionFailed:
		return &ErrPreconditionFailed{Resource: "twin", ID: id, ETag: etag}
	case http.StatusUnauthorized, http.StatusForbidden:
		return &ErrAuthorization{StatusCode: status, Message: msg}
	}
	return &ErrTransport{Op: op, StatusCode: status, Err: messageError(msg)}
}

// ExtractMessage pulls a human-readable message out of a hub error body.
// The hub answers with {"Message": "...", "ExceptionMessage": "..."}; anything else is returned trimmed.
func ExtractMessage(body []byte) string {
	var payload struct {
		Message          string `json:"Message"`
		ExceptionMessage string `json:"ExceptionMessage"`
	}
	msg := ""
	if err := json.Unmarshal(body, &payload); err == nil && payload.Message != "" {
		msg = payload.Message
	} else {
		msg = strings.TrimSpace(string(body))
	}
	if len(msg) > maxMessageLen {
		msg = msg[:maxMessageLen] + "..."
	}
	return msg
}

type hubMessage string

func (m hubMessage) Error() string { return string(m) }

func messageError(msg string) error {
	if msg == "" {
		return nil
	}
	return hubMessage(msg)
}
