package errclass

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"syscall"
	"time"

	"github.com/lib/pq"
	"github.com/minio/minio-go/v7"
	"gorm.io/gorm"
)

type Category string

const (
	CategoryConnection     Category = "connection"
	CategoryTimeout        Category = "timeout"
	CategoryAuthentication Category = "authentication"
	CategoryRateLimit      Category = "rate_limit"
	CategoryServer         Category = "server"
	CategoryValidation     Category = "validation"
	CategoryUnknown        Category = "unknown"
)

// Info is the classified view of a failure. It is derived, never stored.
type Info struct {
	Category       Category
	RawMessage     string
	UserMessage    string
	Retryable      bool
	SuggestedDelay time.Duration
}

// HTTPError carries an HTTP status for failures produced inside this module,
// so the classifier can treat them like any other structured response.
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Message)
}

var userMessages = map[Category]string{
	CategoryConnection:     "Connection problem. Check your network and try again.",
	CategoryTimeout:        "The operation timed out. Please try again.",
	CategoryAuthentication: "You are not signed in or your session expired.",
	CategoryRateLimit:      "Too many uploads. Please wait a moment and try again.",
	CategoryServer:         "The server had a problem. Please try again shortly.",
	CategoryValidation:     "The file or request was rejected.",
	CategoryUnknown:        "Something went wrong. Please try again.",
}

// Classify maps an arbitrary failure to its category, user-facing message and
// retry policy. It is total: any input, including nil, yields a usable Info.
func Classify(err error) Info {
	if err == nil {
		return build(CategoryUnknown, "", true, 2*time.Second)
	}

	raw := err.Error()

	if isConnectionFailure(err, raw) {
		return build(CategoryConnection, raw, true, 2*time.Second)
	}

	if isAborted(err, raw) {
		return build(CategoryTimeout, raw, true, 3*time.Second)
	}

	if status, ok := statusCode(err); ok {
		switch {
		case status == 401 || status == 403:
			return build(CategoryAuthentication, raw, false, 0)
		case status == 429:
			return build(CategoryRateLimit, raw, true, 5*time.Second)
		case status >= 500:
			return build(CategoryServer, raw, true, 3*time.Second)
		case status >= 400:
			return build(CategoryValidation, raw, false, 0)
		}
	}

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return build(CategoryConnection, raw, true, 2*time.Second)
	}
	if isUniqueViolation(err, raw) {
		return build(CategoryValidation, raw, false, 0)
	}

	return build(CategoryUnknown, raw, true, 2*time.Second)
}

func build(cat Category, raw string, retryable bool, delay time.Duration) Info {
	return Info{
		Category:       cat,
		RawMessage:     raw,
		UserMessage:    userMessages[cat],
		Retryable:      retryable,
		SuggestedDelay: delay,
	}
}

func isConnectionFailure(err error, raw string) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) && !opErr.Timeout() {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EHOSTUNREACH) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && !urlErr.Timeout() {
		// A url.Error without a structured response is a transport failure.
		if _, ok := statusCode(err); !ok {
			return true
		}
	}
	return strings.Contains(raw, "connection refused") || strings.Contains(raw, "no such host")
}

func isAborted(err error, raw string) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return strings.Contains(raw, "request canceled") || strings.Contains(raw, "operation was aborted")
}

func statusCode(err error) (int, bool) {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode, true
	}
	var minioErr minio.ErrorResponse
	if errors.As(err, &minioErr) && minioErr.StatusCode != 0 {
		return minioErr.StatusCode, true
	}
	return 0, false
}

func isUniqueViolation(err error, raw string) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return true
	}
	return strings.Contains(raw, "duplicate key value violates unique constraint")
}
