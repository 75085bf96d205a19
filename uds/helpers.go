package uds

import (
	"context"

	"github.com/pkg/errors"
)

// DiagnosticSessionControl issues SID 0x10 with the given session type and
// strips the echoed session type from the positive response.
func (c *Client) DiagnosticSessionControl(ctx context.Context, sessionType byte) ([]byte, error) {
	resp, err := c.Request(ctx, ServiceDiagnosticSessionControl, []byte{sessionType})
	if err != nil {
		return nil, err
	}
	if len(resp) == 0 || resp[0] != sessionType {
		return nil, ErrInvalidPacket
	}
	return resp[1:], nil
}

// RequestSeed issues SID 0x27 subfunction 0x01 and strips the echoed
// subfunction from the returned seed bytes.
func (c *Client) RequestSeed(ctx context.Context) ([]byte, error) {
	resp, err := c.Request(ctx, ServiceSecurityAccess, []byte{SubfunctionRequestSeed})
	if err != nil {
		return nil, err
	}
	if len(resp) == 0 || resp[0] != SubfunctionRequestSeed {
		return nil, ErrInvalidPacket
	}
	return resp[1:], nil
}

// SendKey issues SID 0x27 subfunction 0x02 with the derived key.
func (c *Client) SendKey(ctx context.Context, key []byte) error {
	payload := make([]byte, 0, 1+len(key))
	payload = append(payload, SubfunctionSendKey)
	payload = append(payload, key...)
	_, err := c.Request(ctx, ServiceSecurityAccess, payload)
	return err
}

// ReadMemoryByAddress issues SID 0x23 with a 4-byte big-endian address and
// 2-byte big-endian length and returns the data read.
func (c *Client) ReadMemoryByAddress(ctx context.Context, address uint32, length uint16) ([]byte, error) {
	if length > 0xFFFF {
		return nil, errors.New("uds: length does not fit in 16 bits")
	}
	payload := []byte{
		byte(address >> 24), byte(address >> 16), byte(address >> 8), byte(address),
		byte(length >> 8), byte(length),
	}
	return c.Request(ctx, ServiceReadMemoryByAddress, payload)
}

// ReadDataByIdentifier issues SID 0x22 with a 2-byte big-endian DID and
// strips the echoed DID from the response.
func (c *Client) ReadDataByIdentifier(ctx context.Context, did uint16) ([]byte, error) {
	payload := []byte{byte(did >> 8), byte(did)}
	resp, err := c.Request(ctx, ServiceReadDataByIdentifier, payload)
	if err != nil {
		return nil, err
	}
	if len(resp) < 2 || resp[0] != payload[0] || resp[1] != payload[1] {
		return nil, ErrInvalidPacket
	}
	return resp[2:], nil
}

// RequestDownload issues SID 0x34 with a raw vendor payload; Mazda1 does
// not use the standard ISO 14229 RequestDownload encoding, so the caller
// builds the payload (see flash.Flasher).
func (c *Client) RequestDownload(ctx context.Context, payload []byte) ([]byte, error) {
	return c.Request(ctx, ServiceRequestDownload, payload)
}

// TransferData issues SID 0x36 with a raw chunk of firmware data.
func (c *Client) TransferData(ctx context.Context, chunk []byte) ([]byte, error) {
	return c.Request(ctx, ServiceTransferData, chunk)
}

// ReadDTCInformation issues SID 0x03 (stored DTCs) with an empty request
// body and returns the raw response for diagnostics.Scanner to decode.
func (c *Client) ReadDTCInformation(ctx context.Context) ([]byte, error) {
	return c.Request(ctx, ServiceReadDTCInformation, nil)
}
