// Package diagnostics implements DTC scanning: read stored trouble codes
// from an ECU over UDS and decode them into human-readable labels.
package diagnostics

import (
	"context"
	"fmt"

	"ecuflash/uds"
)

// Finding pairs a decoded DTC with, if known, a human-readable description.
type Finding struct {
	Code        Code
	Description string
}

// Scanner reads and decodes an ECU's stored DTCs.
type Scanner struct {
	client *uds.Client
}

// New creates a Scanner issuing requests over client.
func New(client *uds.Client) *Scanner {
	return &Scanner{client: client}
}

// Scan issues ReadDTCInformation and decodes the response: the first byte
// is the number of codes and is skipped, and the remainder is a sequence
// of bare 2-byte codes.
//
// Ported from original_source/src/diagnostics.rs's UdsScanner::scan.
func (s *Scanner) Scan(ctx context.Context) ([]Finding, error) {
	resp, err := s.client.ReadDTCInformation(ctx)
	if err != nil {
		return nil, err
	}
	if len(resp) == 0 {
		return nil, fmt.Errorf("diagnostics: malformed DTC record, response is empty")
	}

	codes := resp[1:]
	if len(codes)%2 != 0 {
		return nil, fmt.Errorf("diagnostics: malformed DTC record, length %d not a multiple of 2", len(codes))
	}

	findings := make([]Finding, 0, len(codes)/2)
	for i := 0; i+2 <= len(codes); i += 2 {
		code := Code(uint16(codes[i])<<8 | uint16(codes[i+1]))
		findings = append(findings, Finding{
			Code:        code,
			Description: Describe(code),
		})
	}
	return findings, nil
}
