package canbus

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

// Byte-stuffing markers for the serial bridge wire format: start marker,
// end marker, escape char. Adapted unchanged from the teacher's Arduino
// driver protocol.
const (
	serialBaudRate   = 115200
	serialStartMark  = 0x7E
	serialEndMark    = 0x7F
	serialEscapeChar = 0x1B
)

// SerialBridgePort talks to a USB-serial CAN bridge (e.g. an Arduino
// running companion firmware) using byte-stuffed frames with a CRC-8
// trailer. Ported from the teacher's drivers/arduino.go, but made
// synchronous: spec.md's concurrency model requires Recv to be a direct
// blocking call bounded by a caller-supplied timeout, not a background
// read-loop goroutine feeding a channel. Concurrent Send calls are
// serialized by writeMutex, same as the original; Recv does not take it.
type SerialBridgePort struct {
	port       serial.Port
	reader     *bufio.Reader
	writeMutex sync.Mutex
}

// OpenSerialBridge finds and opens the first recognized USB-serial CAN
// bridge (matched by VID, same vendor IDs the teacher whitelisted).
func OpenSerialBridge() (*SerialBridgePort, error) {
	name, err := findBridgePortName()
	if err != nil {
		return nil, err
	}
	return DialSerialBridge(name)
}

// DialSerialBridge opens a specific serial port path as a CAN bridge.
func DialSerialBridge(portName string) (*SerialBridgePort, error) {
	mode := &serial.Mode{BaudRate: serialBaudRate}
	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, errors.Wrapf(err, "canbus: opening serial port %q", portName)
	}
	return &SerialBridgePort{
		port:   port,
		reader: bufio.NewReader(port),
	}, nil
}

func findBridgePortName() (string, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return "", errors.Wrap(err, "canbus: enumerating serial ports")
	}
	for _, port := range ports {
		if port.IsUSB && (port.VID == "2341" || port.VID == "1A86" || port.VID == "2A03") {
			return port.Name, nil
		}
	}
	return "", errors.New("canbus: no serial CAN bridge found on the USB ports")
}

func (p *SerialBridgePort) Send(ctx context.Context, f Frame) error {
	p.writeMutex.Lock()
	defer p.writeMutex.Unlock()

	frameBytes := p.encodeFrame(f)
	n, err := p.port.Write(frameBytes)
	if err != nil {
		return errors.Wrap(err, "canbus: writing to serial bridge")
	}
	if n != len(frameBytes) {
		return ErrIncompleteWrite
	}
	return nil
}

func (p *SerialBridgePort) Recv(ctx context.Context, timeout time.Duration) (Frame, error) {
	if timeout > 0 {
		if err := p.port.SetReadTimeout(timeout); err != nil {
			return Frame{}, errors.Wrap(err, "canbus: setting serial read timeout")
		}
	}

	unstuffed, err := p.readAndUnstuffFrame()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return Frame{}, ErrTimeout
		}
		return Frame{}, errors.Wrap(err, "canbus: reading from serial bridge")
	}

	if len(unstuffed) < 4 {
		return Frame{}, errors.New("canbus: incomplete serial bridge frame")
	}

	id := (uint16(unstuffed[0]) << 8) | uint16(unstuffed[1])
	dlc := unstuffed[2]
	if dlc > 8 {
		return Frame{}, fmt.Errorf("canbus: invalid DLC %d from serial bridge", dlc)
	}
	if len(unstuffed) < 3+int(dlc)+1 {
		return Frame{}, errors.New("canbus: truncated serial bridge frame")
	}

	data := unstuffed[3 : 3+dlc]
	receivedChecksum := unstuffed[3+dlc]
	if calculateCRC8(data) != receivedChecksum {
		return Frame{}, errors.New("canbus: serial bridge checksum mismatch")
	}

	return New(id, data)
}

func (p *SerialBridgePort) Close() error {
	return p.port.Close()
}

// readAndUnstuffFrame reads one byte-stuffed frame from the serial port,
// stripping the start/end markers and undoing escape sequences.
func (p *SerialBridgePort) readAndUnstuffFrame() ([]byte, error) {
	for {
		b, err := p.reader.ReadByte()
		if err != nil {
			return nil, err
		}
		if b == serialStartMark {
			break
		}
	}

	var unstuffed []byte
	for {
		b, err := p.reader.ReadByte()
		if err != nil {
			return nil, err
		}
		switch b {
		case serialEndMark:
			return unstuffed, nil
		case serialEscapeChar:
			tag, err := p.reader.ReadByte()
			if err != nil {
				return nil, err
			}
			switch tag {
			case 0x01:
				unstuffed = append(unstuffed, serialStartMark)
			case 0x02:
				unstuffed = append(unstuffed, serialEndMark)
			case 0x03:
				unstuffed = append(unstuffed, serialEscapeChar)
			default:
				return nil, errors.New("canbus: invalid serial bridge escape sequence")
			}
		default:
			unstuffed = append(unstuffed, b)
		}
	}
}

// encodeFrame constructs a byte-stuffed wire frame: 2-byte ID, DLC, data,
// CRC-8 checksum, each byte individually escaped.
func (p *SerialBridgePort) encodeFrame(f Frame) []byte {
	out := []byte{serialStartMark}
	stuff := func(b byte) {
		switch b {
		case serialStartMark:
			out = append(out, serialEscapeChar, 0x01)
		case serialEndMark:
			out = append(out, serialEscapeChar, 0x02)
		case serialEscapeChar:
			out = append(out, serialEscapeChar, 0x03)
		default:
			out = append(out, b)
		}
	}

	stuff(byte(f.id >> 8))
	stuff(byte(f.id))
	stuff(f.dlc)
	data := f.data[:f.dlc]
	for _, b := range data {
		stuff(b)
	}
	stuff(calculateCRC8(data))
	out = append(out, serialEndMark)
	return out
}

// calculateCRC8 computes the CRC-8-CCITT checksum, ported unchanged from
// the teacher's driver.
func calculateCRC8(data []byte) byte {
	crc := byte(0x00)
	const polynomial = byte(0x07)
	for _, b := range data {
		crc ^= b
		for j := 0; j < 8; j++ {
			if crc&0x80 != 0 {
				crc = (crc << 1) ^ polynomial
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}
