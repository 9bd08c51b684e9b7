package tools

import (
	"errors"
	"fmt"
)

// Kind classifies a tool failure for callers that map errors onto
// transport responses.
type Kind string

const (
	KindInvalidParameters Kind = "invalid_parameters"
	KindUnknownTool       Kind = "unknown_tool"
	KindNotFound          Kind = "not_found"
	KindAlreadyExists     Kind = "already_exists"
	KindUpstreamFailure   Kind = "upstream_failure"
	KindPartialFailure    Kind = "partial_failure"
)

// Error is the failure type every tool returns. Detail is safe to show
// to API clients.
type Error struct {
	Kind   Kind   `json:"error_kind"`
	Detail string `json:"detail"`
	cause  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// InvalidParams reports a request that failed validation before any
// browser or store work happened.
func InvalidParams(format string, args ...interface{}) *Error {
	return &Error{Kind: KindInvalidParameters, Detail: fmt.Sprintf(format, args...)}
}

// UnknownToolErr reports a tool name with no dispatch entry.
func UnknownToolErr(name string) *Error {
	return &Error{Kind: KindUnknownTool, Detail: fmt.Sprintf("unknown tool: %s", name)}
}

// NotFoundErr reports a missing session, task, or stored record.
func NotFoundErr(format string, args ...interface{}) *Error {
	return &Error{Kind: KindNotFound, Detail: fmt.Sprintf(format, args...)}
}

// AlreadyExistsErr reports a create that collided with a live entry.
func AlreadyExistsErr(format string, args ...interface{}) *Error {
	return &Error{Kind: KindAlreadyExists, Detail: fmt.Sprintf(format, args...)}
}

// UpstreamErr wraps a failure from the browser, the model API, or disk.
func UpstreamErr(cause error, format string, args ...interface{}) *Error {
	return &Error{Kind: KindUpstreamFailure, Detail: fmt.Sprintf(format, args...), cause: cause}
}

// PartialErr reports an operation that completed with some sub-steps
// failed, such as a session close that released the entry but could not
// kill the browser process.
func PartialErr(format string, args ...interface{}) *Error {
	return &Error{Kind: KindPartialFailure, Detail: fmt.Sprintf(format, args...)}
}

// KindOf extracts the Kind from err, or KindUpstreamFailure when err is
// not a tool error.
func KindOf(err error) Kind {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	return KindUpstreamFailure
}
