package executor

import (
	"context"
	"crypto/x509"
	"errors"
	"net"
	"net/url"
	"strings"
	"syscall"
)

// categorizeError turns a transport error into a short failure message.
// Messages are stable so that failures group well in the report.
func categorizeError(err error) string {
	if err == nil {
		return ""
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return "Request timeout"
	}
	if errors.Is(err, context.Canceled) {
		return "Request cancelled"
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return "Request timeout"
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		if opErr.Timeout() {
			return "Connection timeout"
		}
		var errno syscall.Errno
		if errors.As(opErr.Err, &errno) {
			switch errno {
			case syscall.ECONNREFUSED:
				return "Connection refused"
			case syscall.ECONNRESET:
				return "Connection reset by server"
			case syscall.ENETUNREACH:
				return "Network unreachable"
			case syscall.EHOSTUNREACH:
				return "Host unreachable"
			}
		}
	}

	var unknownAuthority x509.UnknownAuthorityError
	if errors.As(err, &unknownAuthority) {
		return "TLS certificate signed by unknown authority"
	}

	return categorizeErrorString(err.Error())
}

// categorizeErrorString is the string-based fallback for wrapped errors
// whose concrete type was lost
func categorizeErrorString(errStr string) string {
	errLower := strings.ToLower(errStr)

	switch {
	case strings.Contains(errLower, "deadline exceeded"),
		strings.Contains(errLower, "timeout"),
		strings.Contains(errLower, "timed out"):
		return "Request timeout"
	case strings.Contains(errLower, "no such host"),
		strings.Contains(errLower, "dial tcp: lookup"):
		return "DNS resolution failed"
	case strings.Contains(errLower, "connection refused"):
		return "Connection refused"
	case strings.Contains(errLower, "connection reset"):
		return "Connection reset by server"
	case strings.Contains(errLower, "x509"),
		strings.Contains(errLower, "certificate"),
		strings.Contains(errLower, "tls"):
		return "TLS error: " + errStr
	case strings.Contains(errLower, "eof"):
		return "Connection closed unexpectedly"
	}

	return "Request failed: " + errStr
}
