// Package download implements the firmware read-out workflow: authenticate
// with the ECU, then page through its memory with ReadMemoryByAddress
// until the requested size has been read.
//
// Ported from the original Rust Mazda1Downloader (download/mazda.rs).
package download

import (
	"context"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"ecuflash/seedkey"
	"ecuflash/uds"
)

// maxChunk is the largest read-memory chunk requested per ReadMemoryByAddress
// call, matching the original downloader's 0xFFE cap.
const maxChunk = 0xFFE

// ErrEmptyPacket is returned when the ECU answers a ReadMemoryByAddress
// request with a zero-length payload, which the original implementation
// treats as an unrecoverable download failure rather than end-of-data.
var ErrEmptyPacket = errors.New("download: ecu returned an empty packet")

// ProgressFunc is called after each chunk with the fraction of the
// download completed so far, in [0, 1].
type ProgressFunc func(fraction float32)

// Downloader reads firmware out of an ECU over UDS.
type Downloader struct {
	client  *uds.Client
	deriver seedkey.Deriver
	// sessionType is the diagnostic session type to request before
	// reading memory; Mazda1 uses 0x87.
	sessionType byte
	log         logrus.FieldLogger
}

// New creates a Downloader that authenticates with deriver before reading.
func New(client *uds.Client, deriver seedkey.Deriver, sessionType byte, log logrus.FieldLogger) *Downloader {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Downloader{client: client, deriver: deriver, sessionType: sessionType, log: log}
}

// Download authenticates, then reads size bytes starting at baseAddress,
// invoking progress (if non-nil) after every chunk.
func (d *Downloader) Download(ctx context.Context, baseAddress uint32, size uint32, progress ProgressFunc) ([]byte, error) {
	if err := seedkey.Authenticate(ctx, d.client, d.deriver, d.sessionType, d.log); err != nil {
		return nil, errors.Wrap(err, "download: authenticating")
	}

	data := make([]byte, 0, size)
	offset := uint32(0)
	remaining := size

	for remaining > 0 {
		chunkSize := remaining
		if chunkSize > maxChunk {
			chunkSize = maxChunk
		}

		section, err := d.client.ReadMemoryByAddress(ctx, baseAddress+offset, uint16(chunkSize))
		if err != nil {
			return nil, errors.Wrapf(err, "download: reading at offset 0x%X", offset)
		}
		if len(section) == 0 {
			return nil, ErrEmptyPacket
		}

		data = append(data, section...)
		offset += uint32(len(section))
		remaining -= uint32(len(section))

		if progress != nil {
			progress(float32(size-remaining) / float32(size))
		}
	}

	return data, nil
}
