package resilience

import (
	"errors"
	"net"
	"strings"
	"syscall"
)

// TransientError marks a failure that may succeed when the same operation is
// attempted again after a recovery step. Op names the operation that failed.
type TransientError struct {
	Err        error
	Op         string
	StatusCode int
}

func (e *TransientError) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// NewTransientError wraps err as transient. statusCode is zero for
// non-HTTP failures.
func NewTransientError(err error, statusCode int) *TransientError {
	return &TransientError{Err: err, StatusCode: statusCode}
}

// Volatile wraps err as a transient page-state failure of op.
func Volatile(op string, err error) *TransientError {
	return &TransientError{Err: err, Op: op}
}

// volatilePatterns are browser protocol messages emitted when the node an
// action targeted was detached or replaced mid-action.
var volatilePatterns = []string{
	"stale element",
	"could not find node",
	"node with given id does not belong to the document",
	"cannot find context with specified id",
	"execution context was destroyed",
	"detached",
}

// IsVolatile reports whether err describes a page that changed under an
// in-flight action.
func IsVolatile(err error) bool {
	if err == nil {
		return false
	}
	var te *TransientError
	if errors.As(err, &te) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, p := range volatilePatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// IsTransient reports whether err is volatile or a network failure worth
// retrying.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if IsVolatile(err) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, p := range []string{
		"connection reset by peer",
		"broken pipe",
		"no such host",
		"tls handshake timeout",
		"i/o timeout",
	} {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// IsTransientHTTPStatus reports whether statusCode is worth retrying.
func IsTransientHTTPStatus(statusCode int) bool {
	switch statusCode {
	case 408, 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}
