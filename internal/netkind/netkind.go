// Package netkind classifies I/O failures by kind. The relay's error policy
// keys on what happened (nothing yet, peer gone, everything else), not on
// concrete error types.
package netkind

import (
	"errors"
	"io"
	"net"
	"syscall"
)

// IsNoData reports whether err means the socket simply had nothing to
// deliver within the poll budget. Retried next tick, never logged.
func IsNoData(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// IsReset reports whether the peer forcibly closed the connection.
func IsReset(err error) bool {
	return errors.Is(err, syscall.ECONNRESET)
}

// IsAborted reports whether the connection ended without a fault on our
// side: an abort, a clean close by the peer, or a socket already closed by
// our own teardown.
func IsAborted(err error) bool {
	return errors.Is(err, syscall.ECONNABORTED) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, net.ErrClosed)
}

// IsSessionEnd reports whether err is an expected end-of-life signal for a
// session: teardown proceeds, but nothing is logged as an error.
func IsSessionEnd(err error) bool {
	return IsReset(err) || IsAborted(err)
}
