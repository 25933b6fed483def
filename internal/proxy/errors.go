package proxy

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrorKind classifies failures reported inside response payloads.
type ErrorKind string

const (
	KindTransport    ErrorKind = "transport"
	KindCacheRead    ErrorKind = "cache_read"
	KindCacheMiss    ErrorKind = "cache_miss"
	KindCacheWrite   ErrorKind = "cache_write"
	KindCacheCorrupt ErrorKind = "cache_corrupt"
	KindInternal     ErrorKind = "internal"
	KindNotAllowed   ErrorKind = "method_not_allowed"
)

const envelopeStatusErr = "ERROR"

// ErrorInfo is the serialized form of an error embedded in a payload.
type ErrorInfo struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

func newErrorInfo(kind ErrorKind, err error) ErrorInfo {
	return ErrorInfo{Kind: kind, Message: err.Error()}
}

// errorEnvelope builds {"status":"ERROR","error":{...}}.
func errorEnvelope(info ErrorInfo) Payload {
	p := NewObject()
	p.Set("status", envelopeStatusErr)
	p.Set("error", info)
	return p
}

// TransportError reports that the outbound call did not produce a response:
// connection refused or reset, or the per-request timeout expired.
type TransportError struct {
	Method string
	URL    string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("upstream %s %s: %v", e.Method, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Timeout reports whether the request was aborted by its deadline.
func (e *TransportError) Timeout() bool {
	if errors.Is(e.Err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(e.Err, &netErr) && netErr.Timeout()
}
