package http

import "errors"

var (
	ErrMalformedRequest = errors.New("http: malformed request")
	ErrLineTooLong      = errors.New("http: line too long")
	ErrUnboundResponse  = errors.New("http: response has no request")
	ErrServerClosed     = errors.New("http: server closed")
)
