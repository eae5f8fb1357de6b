// Package errors holds the error type handed back over the http surface.
package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Error is an error that knows which status it should be served with.
type Error struct {
	Status  int
	Err     error // The error this wraps
	Details []Detail
}

// Detail points at one problem with the request, usually one field of the body.
type Detail struct {
	Field string `json:"field"`
	Error string `json:"error"`
}

func (e *Error) Error() string {
	if len(e.Details) == 0 {
		return fmt.Sprintf("%d: %s", e.Status, e.Err)
	}
	return fmt.Sprintf("%d: %s, details: %v", e.Status, e.Err, e.Details)
}

func (e *Error) Unwrap() error {
	return e.Err
}

type transport struct {
	Message string   `json:"message"`
	Details []Detail `json:"details,omitempty"`
	Status  int      `json:"status"`
}

func (e *Error) MarshalJSON() ([]byte, error) {
	var msg string
	if e.Err != nil {
		msg = e.Err.Error()
	}
	return json.Marshal(transport{
		Message: msg,
		Details: e.Details,
		Status:  e.Status,
	})
}

func (e *Error) UnmarshalJSON(byts []byte) error {
	t := transport{}
	if err := json.Unmarshal(byts, &t); err != nil {
		return err
	}

	e.Err = errors.New(t.Message)
	e.Details = t.Details
	e.Status = t.Status
	return nil
}

// E builds an [*Error] out of whatever it's handed:
// a string or error becomes the message, an int the status,
// and details are collected in order.
//
// The status defaults to 500.
func E(args ...any) *Error {
	ret := &Error{
		Status:  http.StatusInternalServerError,
		Err:     nil,
		Details: nil,
	}

	for _, arg := range args {
		switch arg := arg.(type) {
		case string:
			ret.Err = errors.New(arg)
		case error:
			ret.Err = arg
		case int:
			ret.Status = arg
		case Detail:
			ret.Details = append(ret.Details, arg)
		case []Detail:
			ret.Details = append(ret.Details, arg...)
		}
	}

	return ret
}

// StatusOf reports the status err should be served with.
// Anything that isn't an [*Error] is a 500.
func StatusOf(err error) int {
	var sErr *Error
	if errors.As(err, &sErr) {
		return sErr.Status
	}
	return http.StatusInternalServerError
}
