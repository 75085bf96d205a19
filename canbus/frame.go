// Package canbus defines the CAN 2.0A frame exchanged with an ECU and the
// Port boundary that drivers implement.
package canbus

import (
	"fmt"

	"github.com/pkg/errors"
)

// MaxID is the largest 11-bit CAN identifier this module will transmit.
const MaxID = 0x7FF

var (
	// ErrTooMuchData is returned when a frame is asked to carry more than 8 bytes.
	ErrTooMuchData = errors.New("canbus: more than 8 bytes of data")
	// ErrInvalidID is returned when an identifier does not fit in 11 bits.
	ErrInvalidID = errors.New("canbus: id does not fit in 11 bits")
)

// Frame is an immutable 11-bit CAN 2.0A frame: an identifier and up to 8
// data bytes. Construct with New; the zero value is not a valid frame.
type Frame struct {
	id   uint16
	dlc  uint8
	data [8]byte
}

// New validates and constructs a Frame. It fails with ErrInvalidID if id
// does not fit in 11 bits, or ErrTooMuchData if len(data) > 8.
func New(id uint16, data []byte) (Frame, error) {
	if id > MaxID {
		return Frame{}, ErrInvalidID
	}
	if len(data) > 8 {
		return Frame{}, ErrTooMuchData
	}
	f := Frame{id: id, dlc: uint8(len(data))}
	copy(f.data[:], data)
	return f, nil
}

// ID returns the frame's 11-bit CAN identifier.
func (f Frame) ID() uint16 { return f.id }

// DLC returns the number of valid bytes in Data.
func (f Frame) DLC() uint8 { return f.dlc }

// Data returns the frame's payload, length DLC().
func (f Frame) Data() []byte { return f.data[:f.dlc] }

func (f Frame) String() string {
	return fmt.Sprintf("ID: 0x%03X, DLC: %d, Data: % X", f.id, f.dlc, f.data[:f.dlc])
}
