package canbus

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

// ErrIncompleteWrite is returned when a driver accepts fewer than one frame.
var ErrIncompleteWrite = errors.New("canbus: driver accepted less than a full frame")

// ErrTimeout is returned by Recv when no frame arrives before the deadline.
var ErrTimeout = errors.New("canbus: timed out waiting for a frame")

// ErrClosed is returned by a Port after Close.
var ErrClosed = errors.New("canbus: port is closed")

// Port is the L0 boundary consumed by the isotp transport: opaque,
// single-frame send/receive. Implementations must not filter frames beyond
// what the underlying driver itself applies, and must preserve per-bus FIFO
// ordering on Recv.
//
// A Port may be referenced by more than one layer object, but spec.md's
// concurrency model assumes exactly one caller in flight at a time; Port
// implementations are not required to serialize concurrent Send/Recv calls
// against each other.
type Port interface {
	// Send transmits a single frame. It returns ErrTooMuchData/ErrInvalidID
	// from the frame's own construction if applicable, ErrIncompleteWrite if
	// the driver accepted less than one frame, or a wrapped I/O error.
	Send(ctx context.Context, f Frame) error

	// Recv blocks until one frame is available or timeout elapses. A
	// zero timeout blocks until ctx is done. On expiry it returns
	// ErrTimeout. The driver may take up to timeout plus its own jitter to
	// return.
	Recv(ctx context.Context, timeout time.Duration) (Frame, error)

	// Close releases the underlying resource. Subsequent Send/Recv calls
	// return ErrClosed.
	Close() error
}
