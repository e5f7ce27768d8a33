package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"unicode/utf8"
)

// Kind classifies a failure for retry and reporting decisions.
type Kind string

const maxMessageBytes = 512

const (
	KindConfig     Kind = "configuration"
	KindAuth       Kind = "authentication"
	KindRateLimit  Kind = "rate_limit"
	KindTransport  Kind = "transport"
	KindServer     Kind = "server"
	KindValidation Kind = "validation"
	KindNotFound   Kind = "not_found"
)

type Error struct {
	Kind       Kind
	Op         string
	StatusCode int
	Message    string
	Err        error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(string(e.Kind))
	if e.StatusCode > 0 {
		fmt.Fprintf(&b, " (status %d)", e.StatusCode)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, op, msg string) *Error {
	return &Error{Kind: kind, Op: op, Message: msg}
}

func Wrap(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func Config(op, msg string) *Error     { return New(KindConfig, op, msg) }
func Validation(op, msg string) *Error { return New(KindValidation, op, msg) }
func NotFound(op, msg string) *Error   { return New(KindNotFound, op, msg) }

// Transport wraps connection, timeout and DNS failures. The request URL of
// a *url.Error is dropped since query strings may carry credentials.
func Transport(op string, err error) *Error {
	var uerr *url.Error
	if errors.As(err, &uerr) {
		err = fmt.Errorf("%s request: %w", strings.ToLower(uerr.Op), uerr.Err)
	}
	return Wrap(KindTransport, op, err)
}

// FromStatus classifies a non-2xx HTTP response. body is truncated into the message.
func FromStatus(op string, status int, body []byte) *Error {
	msg := strings.TrimSpace(string(body))
	if len(msg) > maxMessageBytes {
		cut := maxMessageBytes
		for cut > 0 && !utf8.RuneStart(msg[cut]) {
			cut--
		}
		msg = msg[:cut]
	}
	return &Error{Kind: KindForStatus(status), Op: op, StatusCode: status, Message: msg}
}

func KindForStatus(status int) Kind {
	switch {
	case status == http.StatusUnauthorized:
		return KindAuth
	case status == http.StatusTooManyRequests:
		return KindRateLimit
	case status == http.StatusNotFound:
		return KindNotFound
	case status >= 500:
		return KindServer
	default:
		return KindValidation
	}
}

// KindOf returns the kind of the first *Error in the chain, or "" if none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

func StatusOf(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.StatusCode
	}
	return 0
}

// Retryable reports whether err is worth another attempt.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindRateLimit, KindTransport, KindServer:
		return true
	default:
		return false
	}
}

// Fatal reports errors that must short-circuit any retry loop.
func Fatal(err error) bool {
	switch KindOf(err) {
	case KindAuth, KindConfig:
		return true
	default:
		return false
	}
}
