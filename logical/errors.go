// Copyright (c) 2024 Warden Project
// SPDX-License-Identifier: MPL-2.0

package logical

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/hashicorp/go-multierror"
)

var (
	// ErrUnsupportedPath is returned when no path of the backend matches.
	ErrUnsupportedPath = &CodedError{Status: http.StatusNotFound, Message: "unsupported path"}

	// ErrUnsupportedOperation is returned when the path exists but does not
	// implement the requested operation.
	ErrUnsupportedOperation = &CodedError{Status: http.StatusMethodNotAllowed, Message: "unsupported operation"}
)

// CodedError is an error carrying the HTTP status it maps to.
type CodedError struct {
	Status  int
	Message string
	Err     error
}

func (e *CodedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *CodedError) Unwrap() error { return e.Err }

func (e *CodedError) Code() int { return e.Status }

func coded(status int, format string, args ...any) *CodedError {
	msg := format
	if len(args) > 0 {
		msg = fmt.Sprintf(format, args...)
	}
	return &CodedError{Status: status, Message: msg}
}

// ErrBadRequest returns a 400 error.
func ErrBadRequest(message string) *CodedError { return coded(http.StatusBadRequest, "%s", message) }

func ErrBadRequestf(format string, args ...any) *CodedError {
	return coded(http.StatusBadRequest, format, args...)
}

// ErrNotFound returns a 404 error.
func ErrNotFound(message string) *CodedError { return coded(http.StatusNotFound, "%s", message) }

func ErrNotFoundf(format string, args ...any) *CodedError {
	return coded(http.StatusNotFound, format, args...)
}

// WrapWithCode attaches status to err, keeping err reachable through
// errors.Is and errors.As.
func WrapWithCode(status int, err error) *CodedError {
	return &CodedError{Status: status, Message: err.Error(), Err: err}
}

// ValidationError aggregates every violation found while validating a
// document. It maps to 400 Bad Request and is rendered one message per
// entry in the "errors" array.
type ValidationError struct {
	errs *multierror.Error
}

// NewValidationError builds a ValidationError from messages. It returns nil
// when there is nothing to report.
func NewValidationError(messages ...string) *ValidationError {
	var v ValidationError
	for _, m := range messages {
		v.Add(m)
	}
	if v.Len() == 0 {
		return nil
	}
	return &v
}

// Add appends one message.
func (v *ValidationError) Add(message string) {
	v.errs = multierror.Append(v.errs, errors.New(message))
}

// Merge appends every message of other.
func (v *ValidationError) Merge(other *ValidationError) {
	if other == nil || other.errs == nil {
		return
	}
	v.errs = multierror.Append(v.errs, other.errs.Errors...)
}

// Len returns the number of messages.
func (v *ValidationError) Len() int {
	if v == nil || v.errs == nil {
		return 0
	}
	return v.errs.Len()
}

// Errors returns the messages sorted.
func (v *ValidationError) Errors() []string {
	if v.Len() == 0 {
		return nil
	}
	out := make([]string, 0, v.errs.Len())
	for _, err := range v.errs.Errors {
		out = append(out, err.Error())
	}
	sort.Strings(out)
	return out
}

func (v *ValidationError) Error() string {
	return strings.Join(v.Errors(), "; ")
}

// Code returns the HTTP status code.
func (v *ValidationError) Code() int {
	return http.StatusBadRequest
}

// ErrorMessages returns the messages to render for err. Validation errors
// expand into one message per violation.
func ErrorMessages(err error) []string {
	var verr *ValidationError
	if errors.As(err, &verr) {
		return verr.Errors()
	}
	return []string{err.Error()}
}

// GetErrorCode returns the status carried by err, 200 for nil and 500 for
// errors without one.
func GetErrorCode(err error) int {
	if err == nil {
		return http.StatusOK
	}
	var coded interface{ Code() int }
	if errors.As(err, &coded) {
		return coded.Code()
	}
	return http.StatusInternalServerError
}

// ErrorResponse wraps err in a response with its status code.
func ErrorResponse(err error) *Response {
	return &Response{StatusCode: GetErrorCode(err), Err: err}
}
