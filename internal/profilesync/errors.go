package profilesync

import (
	"context"
	"errors"
	"net"
	"strings"

	apperrors "github.com/hamletsspeak/812Hamur/pkg/errors"
)

func isPermissionError(err error) bool {
	return errors.Is(err, apperrors.ErrUnauthorized)
}

// isNetworkError reports whether a store write failed for a transport-level
// reason rather than a logical one.
func isNetworkError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}

	msg := err.Error()
	for _, p := range []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"no such host",
		"i/o timeout",
		"dial tcp",
		"server closed the connection unexpectedly",
	} {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}
