// Package uds implements the ISO 14229-1 request/response layer on top of
// an isotp.Transport: building [SID, payload...] requests, decoding
// positive/negative responses, and retrying while the ECU reports
// "response pending" (NRC 0x78).
//
// Ported from the teacher's uds/message.go (RawDataToMessage's
// positive/negative decoding) generalized to the single request/response
// primitive spec.md names.
package uds

import (
	"context"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"ecuflash/isotp"
)

const (
	negativeResponseByte   byte = 0x7F
	positiveResponseOffset byte = 0x40
	nrcResponsePending     byte = 0x78
)

// ErrInvalidPacket is returned for an empty response or a SID that doesn't
// match the request.
var ErrInvalidPacket = errors.New("uds: invalid response packet")

// NegativeResponseError wraps an ECU-reported NRC other than 0x78.
type NegativeResponseError struct {
	NRC byte
}

func (e *NegativeResponseError) Error() string {
	if name, ok := nrcNames[e.NRC]; ok {
		return "uds: negative response: " + name
	}
	return "uds: negative response: 0x" + hexByte(e.NRC)
}

// Client issues UDS requests over an isotp.Transport and decodes their
// responses.
type Client struct {
	transport *isotp.Transport
	log       logrus.FieldLogger
}

// New creates a Client bound to transport.
func New(transport *isotp.Transport, log logrus.FieldLogger) *Client {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Client{transport: transport, log: log}
}

// Request builds [sid, payload...], sends it, and loops reading ISO-TP
// packets until one is not a response-pending NRC. It returns the positive
// response payload, with the echoed SID stripped.
func (c *Client) Request(ctx context.Context, sid byte, payload []byte) ([]byte, error) {
	req := make([]byte, 0, 1+len(payload))
	req = append(req, sid)
	req = append(req, payload...)

	if err := c.transport.Send(ctx, req); err != nil {
		return nil, errors.Wrapf(err, "uds: sending SID 0x%02X request", sid)
	}

	for {
		resp, err := c.transport.Recv(ctx)
		if err != nil {
			return nil, errors.Wrapf(err, "uds: reading response to SID 0x%02X", sid)
		}

		if len(resp) == 0 {
			return nil, ErrInvalidPacket
		}
		if resp[0] == negativeResponseByte {
			nrc := byte(0)
			if len(resp) > 2 {
				nrc = resp[2]
			}
			if nrc == nrcResponsePending {
				c.log.WithField("sid", sid).Debug("uds: response pending, waiting")
				continue
			}
			return nil, &NegativeResponseError{NRC: nrc}
		}
		if resp[0] != sid+positiveResponseOffset {
			return nil, ErrInvalidPacket
		}
		return resp[1:], nil
	}
}

func hexByte(b byte) string {
	const hex = "0123456789ABCDEF"
	return string([]byte{hex[b>>4], hex[b&0x0F]})
}
