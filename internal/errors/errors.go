// Package errors описывает структурированные ошибки guardian с кодами и обёртками.
// Импортируется как perr.
package errors

import (
	stderrs "errors"
	"fmt"
	"net/http"
)

// ErrorCode машинный код ошибки, стабилен для wire-формата
type ErrorCode uint16

const (
	ErrorCodeUnknown ErrorCode = iota
	ErrorCodeInvalidArgument
	ErrorCodeValidation
	ErrorCodeJSON
	ErrorCodeNotFound
	ErrorCodeUnavailable

	// ServiceError
	ErrorCodeStartupTimeout
	ErrorCodeModelProvisionFailed
	ErrorCodeUnreachable

	// RedactionApplyError
	ErrorCodeInvalidInterval
	ErrorCodeUnsupportedAction
	ErrorCodeIOFailure

	// Не фатальные, только для журналирования и метрик
	ErrorCodeSanitization
	ErrorCodeLocatorMiss
)

var codeNames = map[ErrorCode]string{
	ErrorCodeUnknown:              "unknown",
	ErrorCodeInvalidArgument:      "invalid_argument",
	ErrorCodeValidation:           "validation",
	ErrorCodeJSON:                 "json",
	ErrorCodeNotFound:             "not_found",
	ErrorCodeUnavailable:          "unavailable",
	ErrorCodeStartupTimeout:       "startup_timeout",
	ErrorCodeModelProvisionFailed: "model_provision_failed",
	ErrorCodeUnreachable:          "unreachable",
	ErrorCodeInvalidInterval:      "invalid_interval",
	ErrorCodeUnsupportedAction:    "unsupported_action",
	ErrorCodeIOFailure:            "io_failure",
	ErrorCodeSanitization:         "sanitization",
	ErrorCodeLocatorMiss:          "locator_miss",
}

// String возвращает snake_case имя кода (для логов и метрик)
func (c ErrorCode) String() string {
	if s, ok := codeNames[c]; ok {
		return s
	}
	return fmt.Sprintf("code_%d", uint16(c))
}

// HTTPStatusCode переводит код в HTTP статус
func HTTPStatusCode(c ErrorCode) int {
	switch c {
	case ErrorCodeValidation, ErrorCodeJSON:
		return http.StatusBadRequest
	case ErrorCodeInvalidArgument, ErrorCodeInvalidInterval, ErrorCodeUnsupportedAction:
		return http.StatusUnprocessableEntity
	case ErrorCodeNotFound:
		return http.StatusNotFound
	case ErrorCodeUnavailable, ErrorCodeUnreachable, ErrorCodeStartupTimeout:
		return http.StatusServiceUnavailable
	case ErrorCodeModelProvisionFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Error структурированная ошибка: msg для человека, code для машины
type Error struct {
	orig  error
	msg   string
	code  ErrorCode
	field string
	op    string
}

// Wire JSON-форма ошибки для API и CLI
type Wire struct {
	Code    ErrorCode `json:"code"`
	Kind    string    `json:"kind"`
	Message string    `json:"message"`
	Field   string    `json:"field,omitempty"`
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.orig != nil {
		return fmt.Sprintf("%s: %v", e.msg, e.orig)
	}
	return e.msg
}

func (e *Error) Unwrap() error { return e.orig }

// Code возвращает код ошибки
func (e *Error) Code() ErrorCode { return e.code }

// Field возвращает поле, к которому относится ошибка
func (e *Error) Field() string { return e.field }

// Op возвращает метку операции
func (e *Error) Op() string { return e.op }

// ToWire конвертирует ошибку в Wire
func (e *Error) ToWire() Wire {
	return Wire{Code: e.code, Kind: e.code.String(), Message: e.Error(), Field: e.field}
}

// WireFrom конвертирует любую ошибку в Wire
func WireFrom(err error) Wire {
	if err == nil {
		return Wire{}
	}
	if e, ok := As(err); ok {
		return e.ToWire()
	}
	return Wire{Code: ErrorCodeUnknown, Kind: ErrorCodeUnknown.String(), Message: err.Error()}
}

// CodeOf извлекает код из любой ошибки, по умолчанию Unknown
func CodeOf(err error) ErrorCode {
	if e, ok := As(err); ok {
		return e.code
	}
	return ErrorCodeUnknown
}

// IsCode сообщает, имеет ли ошибка заданный код
func IsCode(err error, code ErrorCode) bool { return err != nil && CodeOf(err) == code }

// HTTPStatus возвращает HTTP статус для любой ошибки
func HTTPStatus(err error) int { return HTTPStatusCode(CodeOf(err)) }

// As разворачивает цепочку и возвращает *Error, если он там есть
func As(err error) (*Error, bool) {
	var e *Error
	if stderrs.As(err, &e) {
		return e, true
	}
	return nil, false
}

// WithField прикрепляет поле к *Error (copy-on-write)
func WithField(err error, field string) error {
	if e, ok := As(err); ok {
		c := *e
		c.field = field
		return &c
	}
	return err
}

// WithOp прикрепляет метку операции к *Error (copy-on-write)
func WithOp(err error, op string) error {
	if e, ok := As(err); ok {
		c := *e
		c.op = op
		return &c
	}
	return err
}

func New(code ErrorCode, msg string) error { return &Error{code: code, msg: msg} }

func Newf(code ErrorCode, format string, a ...any) error {
	return &Error{code: code, msg: fmt.Sprintf(format, a...)}
}

func Wrap(orig error, code ErrorCode, msg string) error {
	return &Error{code: code, msg: msg, orig: orig}
}

func Wrapf(orig error, code ErrorCode, format string, a ...any) error {
	return &Error{code: code, msg: fmt.Sprintf(format, a...), orig: orig}
}

// WrapIf оборачивает только если err != nil
func WrapIf(err error, code ErrorCode, msg string) error {
	if err == nil {
		return nil
	}
	return Wrap(err, code, msg)
}

// Сахар для частых кодов

func InvalidArgf(format string, a ...any) error { return Newf(ErrorCodeInvalidArgument, format, a...) }

func NotFoundf(format string, a ...any) error { return Newf(ErrorCodeNotFound, format, a...) }

func IOf(orig error, format string, a ...any) error {
	return Wrapf(orig, ErrorCodeIOFailure, format, a...)
}
