// Package errors vends the error taxonomy of note service. Every failure leaving a store, the share
// broker or the lifecycle manager is an *Err carrying one of the codes below.
package errors

import (
	"errors"
	"net/http"
	"strings"
)

type ErrCode string

const (
	ErrCodeNotImplemented ErrCode = "NotImplemented"
	ErrCodeNotFound       ErrCode = "NotFound"
	ErrCodeForbidden      ErrCode = "Forbidden"
	ErrCodeInvalidLink    ErrCode = "InvalidLink"
	ErrCodeConflict       ErrCode = "Conflict"
	ErrCodeExisted        ErrCode = "Existed"
	ErrCodeBadInput       ErrCode = "BadInput"
	ErrCodeUnauthorized   ErrCode = "Unauthorized"
	ErrCodeServiceFailure ErrCode = "ServiceFailure"
)

// msgInvalidLink is the only message a share link failure ever carries, so that absent, consumed and
// dangling links look the same to whoever presents them.
const msgInvalidLink = "link is invalid or has already been used"

type Err struct {
	Code  ErrCode
	msg   string
	cause error
}

func (e *Err) Error() string {
	return e.msg
}

// Trace returns the stacktrace associated with the error
func (e *Err) Trace() string {
	b := &strings.Builder{}
	b.WriteString(e.msg)
	indent := "\n"
	err := errors.Unwrap(e)
	for err != nil {
		indent += "\t"
		b.WriteString(indent)
		b.WriteString("Caused by: ")
		b.WriteString(err.Error())
		err = errors.Unwrap(err)
	}
	return b.String()
}

func (e *Err) Unwrap() error {
	return e.cause
}

func (e *Err) WithCause(c error) *Err {
	e.cause = c
	return e
}

func (e *Err) WithMsg(m string) *Err {
	e.msg = m
	return e
}

// prefer NewX(msg).WithCause(cause) over NewX(msg, cause) since the former tells the reader which
// argument is the cause
func NewServiceFailure(m string) *Err {
	return &Err{Code: ErrCodeServiceFailure, msg: m}
}

func NewNotFound(m string) *Err {
	return &Err{Code: ErrCodeNotFound, msg: m}
}

func NewForbidden(m string) *Err {
	return &Err{Code: ErrCodeForbidden, msg: m}
}

func NewInvalidLink() *Err {
	return &Err{Code: ErrCodeInvalidLink, msg: msgInvalidLink}
}

func NewConflict(m string) *Err {
	return &Err{Code: ErrCodeConflict, msg: m}
}

func NewExisted(m string) *Err {
	return &Err{Code: ErrCodeExisted, msg: m}
}

func NewBadInput(m string) *Err {
	return &Err{Code: ErrCodeBadInput, msg: m}
}

func NewUnauthorized(m string) *Err {
	return &Err{Code: ErrCodeUnauthorized, msg: m}
}

func NewNotImplemented() *Err {
	return &Err{Code: ErrCodeNotImplemented, msg: "Not implemented"}
}

// CodeOf returns the code of the outermost *Err in err's chain. Errors from outside this package
// are reported as ErrCodeServiceFailure.
func CodeOf(err error) ErrCode {
	var e *Err
	if errors.As(err, &e) {
		return e.Code
	}
	return ErrCodeServiceFailure
}

// Is reports whether err is non-nil and carries code c.
func Is(err error, c ErrCode) bool {
	return err != nil && CodeOf(err) == c
}

// StatusCode returns the http response status code associated with the Err value
func (e *Err) StatusCode() int {
	switch e.Code {
	case ErrCodeNotFound, ErrCodeInvalidLink:
		return http.StatusNotFound
	case ErrCodeForbidden:
		return http.StatusForbidden
	case ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case ErrCodeBadInput:
		return http.StatusBadRequest
	case ErrCodeConflict, ErrCodeExisted:
		return http.StatusConflict
	case ErrCodeNotImplemented:
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}

// StatusCode maps any error to an http status code.
func StatusCode(err error) int {
	var e *Err
	if errors.As(err, &e) {
		return e.StatusCode()
	}
	return http.StatusInternalServerError
}
