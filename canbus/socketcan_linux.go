//go:build linux

package canbus

import (
	"context"
	"net"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// SocketCANPort binds a raw AF_CAN/SOCK_RAW socket to a Linux interface
// (e.g. "can0"). Adapted from the pack's socketcan drivers: the frame wire
// layout (16-byte struct can_frame: 4-byte ID, 1-byte len, 3 pad, 8-byte
// data) and the bind-by-interface-name dance are theirs. Send applies the
// context deadline via SO_SNDTIMEO; Recv applies its timeout argument via
// SO_RCVTIMEO instead of a busy-poll loop and does not watch ctx.
type SocketCANPort struct {
	fd int
}

// DialSocketCAN opens and binds a raw CAN socket on the named interface.
func DialSocketCAN(iface string) (*SocketCANPort, error) {
	fd, err := unix.Socket(unix.AF_CAN, unix.SOCK_RAW, unix.CAN_RAW)
	if err != nil {
		return nil, errors.Wrap(err, "canbus: opening CAN socket")
	}

	ifi, err := net.InterfaceByName(iface)
	if err != nil {
		unix.Close(fd)
		return nil, errors.Wrapf(err, "canbus: resolving interface %q", iface)
	}

	addr := &unix.SockaddrCAN{Ifindex: ifi.Index}
	if err := unix.Bind(fd, addr); err != nil {
		unix.Close(fd)
		return nil, errors.Wrapf(err, "canbus: binding to %q", iface)
	}

	return &SocketCANPort{fd: fd}, nil
}

func (p *SocketCANPort) Send(ctx context.Context, f Frame) error {
	if deadline, ok := ctx.Deadline(); ok {
		if err := p.setTimeout(unix.SO_SNDTIMEO, time.Until(deadline)); err != nil {
			return errors.Wrap(err, "canbus: setting send timeout")
		}
	}

	buf := make([]byte, 16)
	putUint32(buf[0:4], uint32(f.id))
	buf[4] = f.dlc
	copy(buf[8:], f.data[:f.dlc])

	n, err := unix.Write(p.fd, buf)
	if err != nil {
		if isTimeout(err) {
			return ErrTimeout
		}
		return errors.Wrap(err, "canbus: socketcan write")
	}
	if n != len(buf) {
		return ErrIncompleteWrite
	}
	return nil
}

func (p *SocketCANPort) Recv(ctx context.Context, timeout time.Duration) (Frame, error) {
	if timeout > 0 {
		if err := p.setTimeout(unix.SO_RCVTIMEO, timeout); err != nil {
			return Frame{}, errors.Wrap(err, "canbus: setting recv timeout")
		}
	}

	buf := make([]byte, 16)
	n, err := unix.Read(p.fd, buf)
	if err != nil {
		if isTimeout(err) {
			return Frame{}, ErrTimeout
		}
		return Frame{}, errors.Wrap(err, "canbus: socketcan read")
	}
	if n != len(buf) {
		return Frame{}, errors.New("canbus: short read from socketcan")
	}

	id := getUint32(buf[0:4]) & 0x7FF
	dlc := buf[4]
	if dlc > 8 {
		dlc = 8
	}
	return New(uint16(id), buf[8:8+dlc])
}

func (p *SocketCANPort) Close() error {
	return unix.Close(p.fd)
}

func (p *SocketCANPort) setTimeout(opt int, d time.Duration) error {
	if d < 0 {
		d = 0
	}
	tv := unix.NsecToTimeval(d.Nanoseconds())
	return unix.SetsockoptTimeval(p.fd, unix.SOL_SOCKET, opt, &tv)
}

func isTimeout(err error) bool {
	return errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK)
}

func putUint32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

func getUint32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}
