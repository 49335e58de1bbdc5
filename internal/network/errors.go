package network

import (
	"context"
	"errors"
	"io"
	"net"
	"syscall"
)

// IsNetworkError reports whether err looks like a transport failure rather
// than a server-side rejection. Callers use it to decide between queueing an
// action for later replay and surfacing the error to the driver.
//
// An HTTP error status is not a network error: the fleet API answered, it
// just said no.
func IsNetworkError(err error) bool {
	if err == nil {
		return false
	}

	// Deliberate shutdown is not a connectivity problem.
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	// net.Error covers dial, DNS and timeout failures; *url.Error from
	// net/http implements it too.
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	switch {
	case errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.EHOSTUNREACH),
		errors.Is(err, syscall.ENETUNREACH),
		errors.Is(err, syscall.EPIPE):
		return true
	}

	return errors.Is(err, io.ErrUnexpectedEOF)
}
