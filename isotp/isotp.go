// Package isotp implements ISO 15765-2 segmentation and reassembly of
// arbitrary 0-4095 byte payloads over the canbus.Port 8-byte frame boundary.
//
// The framing logic (PCI byte layout, flow-control handling, separation
// time encoding) is ported from the teacher's uds/uds.go
// (sendSingleFrame/sendFirstFrame/sendConsecutiveFrames/
// waitForFlowControlFrame/receiveSingleFrame/receiveMultiFrame), restated
// as direct synchronous Port calls instead of the teacher's
// subscribe-channel/broadcaster indirection: spec.md's concurrency model
// forbids a background read-loop goroutine inside the protocol stack.
package isotp

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"ecuflash/canbus"
)

// FrameType is the ISO-TP frame kind, encoded in the high nibble of byte 0.
type FrameType byte

const (
	Single       FrameType = 0x0
	First        FrameType = 0x1
	Consecutive  FrameType = 0x2
	FlowControl  FrameType = 0x3
	maxSingleLen           = 7
	maxPayload             = 4095
	ccBytes                = 7 // data bytes per Consecutive frame
)

// FlowStatus is the flag carried in a FlowControl frame's low nibble.
type FlowStatus byte

const (
	Continue FlowStatus = 0
	Wait     FlowStatus = 1
	Overflow FlowStatus = 2
)

var (
	// ErrTooMuchData is returned when a payload exceeds 4095 bytes.
	ErrTooMuchData = errors.New("isotp: payload exceeds 4095 bytes")
	// ErrInvalidFrame is returned on any frame-type, sequence, or
	// flow-control violation.
	ErrInvalidFrame = errors.New("isotp: invalid frame")
	// ErrTimeout is returned when the cumulative wait for a frame exceeds
	// Options.Timeout.
	ErrTimeout = errors.New("isotp: timed out waiting for a frame")
)

// Options configures one ISO-TP session.
type Options struct {
	// SourceID is the CAN ID this side transmits on.
	SourceID uint16
	// DestID is the CAN ID this side receives on. The diagnostic
	// convention is DestID = SourceID + 0x08.
	DestID uint16
	// Timeout bounds every blocking wait: for a Recv'd frame, and for the
	// Flow Control reply to a First Frame.
	Timeout time.Duration
}

// Transport segments and reassembles payloads over a canbus.Port.
type Transport struct {
	port canbus.Port
	opts Options
	log  logrus.FieldLogger
}

// New creates a Transport bound to port with the given session options.
func New(port canbus.Port, opts Options, log logrus.FieldLogger) *Transport {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Transport{port: port, opts: opts, log: log}
}

// Send segments and transmits payload, blocking until the whole payload
// (and any required Flow Control handshake) has been sent.
func (t *Transport) Send(ctx context.Context, payload []byte) error {
	n := len(payload)
	switch {
	case n > maxPayload:
		return ErrTooMuchData
	case n <= maxSingleLen:
		return t.sendSingle(ctx, payload)
	default:
		return t.sendMulti(ctx, payload)
	}
}

func (t *Transport) sendSingle(ctx context.Context, payload []byte) error {
	data := make([]byte, 8)
	data[0] = byte(Single)<<4 | byte(len(payload)&0x0F)
	copy(data[1:], payload)
	f, err := canbus.New(t.opts.SourceID, data)
	if err != nil {
		return err
	}
	return t.port.Send(ctx, f)
}

func (t *Transport) sendMulti(ctx context.Context, payload []byte) error {
	n := len(payload)
	ff := []byte{
		byte(First)<<4 | byte((n>>8)&0x0F),
		byte(n & 0xFF),
	}
	ff = append(ff, payload[:6]...)
	frame, err := canbus.New(t.opts.SourceID, ff)
	if err != nil {
		return err
	}
	if err := t.port.Send(ctx, frame); err != nil {
		return err
	}

	blockSize, separationTime, err := t.awaitFlowControl(ctx)
	if err != nil {
		return err
	}

	sent := 6
	seq := byte(1)
	sinceFC := 0
	for sent < n {
		chunk := payload[sent:min(sent+ccBytes, n)]
		cf := append([]byte{byte(Consecutive)<<4 | (seq & 0x0F)}, chunk...)
		frame, err := canbus.New(t.opts.SourceID, cf)
		if err != nil {
			return err
		}
		if err := t.port.Send(ctx, frame); err != nil {
			return err
		}
		sent += len(chunk)
		seq = (seq + 1) % 16
		sinceFC++

		if sent >= n {
			break
		}
		sleepSeparationTime(separationTime)

		if blockSize > 0 && sinceFC >= int(blockSize) {
			blockSize, separationTime, err = t.awaitFlowControl(ctx)
			if err != nil {
				return err
			}
			sinceFC = 0
		}
	}
	return nil
}

// awaitFlowControl reads Flow Control frames until Continue, re-reading on
// Wait (spec.md Open Question #2) and failing on Overflow or a non-FC head
// frame.
func (t *Transport) awaitFlowControl(ctx context.Context) (blockSize byte, separationTime byte, err error) {
	for {
		f, err := t.port.Recv(ctx, t.opts.Timeout)
		if err != nil {
			return 0, 0, translateTimeout(err)
		}
		data := f.Data()
		if len(data) < 3 {
			return 0, 0, ErrInvalidFrame
		}
		frameType := FrameType(data[0] >> 4)
		if frameType != FlowControl {
			return 0, 0, ErrInvalidFrame
		}
		switch FlowStatus(data[0] & 0x0F) {
		case Continue:
			return data[1], data[2], nil
		case Wait:
			continue
		case Overflow:
			return 0, 0, ErrInvalidFrame
		default:
			return 0, 0, ErrInvalidFrame
		}
	}
}

// Recv blocks for a single logical ISO-TP message addressed to DestID,
// silently discarding frames on other IDs, and returns its reassembled
// payload.
func (t *Transport) Recv(ctx context.Context) ([]byte, error) {
	deadline := time.Now().Add(t.opts.Timeout)

	for {
		remaining := time.Until(deadline)
		if t.opts.Timeout > 0 && remaining <= 0 {
			return nil, ErrTimeout
		}
		f, err := t.port.Recv(ctx, remaining)
		if err != nil {
			return nil, translateTimeout(err)
		}
		if f.ID() != t.opts.DestID {
			continue
		}

		data := f.Data()
		if len(data) == 0 {
			return nil, ErrInvalidFrame
		}
		switch FrameType(data[0] >> 4) {
		case Single:
			return t.recvSingle(data)
		case First:
			return t.recvMulti(ctx, data)
		default:
			return nil, ErrInvalidFrame
		}
	}
}

func (t *Transport) recvSingle(data []byte) ([]byte, error) {
	l := int(data[0] & 0x0F)
	if l > len(data)-1 {
		return nil, ErrInvalidFrame
	}
	out := make([]byte, l)
	copy(out, data[1:1+l])
	return out, nil
}

func (t *Transport) recvMulti(ctx context.Context, first []byte) ([]byte, error) {
	if len(first) < 8 {
		return nil, ErrInvalidFrame
	}
	total := (int(first[0]&0x0F) << 8) | int(first[1])
	if total < 8 || total > maxPayload {
		return nil, ErrInvalidFrame
	}

	buf := make([]byte, total)
	copy(buf, first[2:8])
	remaining := total - 6

	fc, err := canbus.New(t.opts.SourceID, []byte{byte(FlowControl) << 4, 0x00, 0x00})
	if err != nil {
		return nil, err
	}
	if err := t.port.Send(ctx, fc); err != nil {
		return nil, err
	}

	expected := byte(1)
	filled := 6
	deadline := time.Now().Add(t.opts.Timeout)
	for remaining > 0 {
		remTimeout := time.Until(deadline)
		if t.opts.Timeout > 0 && remTimeout <= 0 {
			return nil, ErrTimeout
		}
		f, err := t.port.Recv(ctx, remTimeout)
		if err != nil {
			return nil, translateTimeout(err)
		}
		if f.ID() != t.opts.DestID {
			continue
		}
		data := f.Data()
		if len(data) == 0 || FrameType(data[0]>>4) != Consecutive {
			return nil, ErrInvalidFrame
		}
		if data[0]&0x0F != expected {
			return nil, ErrInvalidFrame
		}

		chunk := data[1:]
		if len(chunk) > remaining {
			chunk = chunk[:remaining]
		}
		copy(buf[filled:], chunk)
		filled += len(chunk)
		remaining -= len(chunk)
		expected = (expected + 1) % 16
	}
	return buf, nil
}

// Request sends payload and returns the next ISO-TP message addressed to
// this session.
func (t *Transport) Request(ctx context.Context, payload []byte) ([]byte, error) {
	if err := t.Send(ctx, payload); err != nil {
		return nil, err
	}
	return t.Recv(ctx)
}

func translateTimeout(err error) error {
	if errors.Is(err, canbus.ErrTimeout) {
		return ErrTimeout
	}
	return err
}

// sleepSeparationTime normalizes the two-encoding separation-time byte
// (spec.md §3) into an actual sleep: <=0x7F is milliseconds, 0xF1-0xF9 is
// hundreds of microseconds, anything else is treated as 0.
func sleepSeparationTime(st byte) {
	switch {
	case st <= 0x7F:
		if st > 0 {
			time.Sleep(time.Duration(st) * time.Millisecond)
		}
	case st >= 0xF1 && st <= 0xF9:
		time.Sleep(time.Duration(int(st-0xF0)*100) * time.Microsecond)
	}
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
