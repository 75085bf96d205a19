// Package flash implements the firmware write workflow: authenticate,
// erase, send a vendor RequestDownload announcing the write's offset and
// size, then stream the image in TransferData chunks.
//
// Ported from the original Rust Mazda1Flasher (flash/mazda.rs). The
// original chunked with an inclusive slice (`buffer[0..=to_send]`), which
// sends one byte more than intended on every chunk but the last; this
// port uses a half-open slice so every chunk but the last is exactly 0xFFE
// bytes, and the last carries whatever remains.
package flash

import (
	"context"
	"encoding/binary"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"ecuflash/seedkey"
	"ecuflash/uds"
)

// maxChunk is the largest TransferData chunk sent per request.
const maxChunk = 0xFFE

// eraseRequest is the vendor erase-memory payload Mazda1 expects: erase
// type 0x00, region 0xB2, sub-region 0x00.
var eraseRequest = []byte{0x00, 0xB2, 0x00}

// ProgressFunc is called after each chunk with the fraction of the image
// transferred so far, in [0, 1].
type ProgressFunc func(fraction float32)

// Flasher writes firmware images into an ECU over UDS.
type Flasher struct {
	client      *uds.Client
	deriver     seedkey.Deriver
	sessionType byte
	log         logrus.FieldLogger
}

// New creates a Flasher that authenticates with deriver before erasing
// and writing.
func New(client *uds.Client, deriver seedkey.Deriver, sessionType byte, log logrus.FieldLogger) *Flasher {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Flasher{client: client, deriver: deriver, sessionType: sessionType, log: log}
}

// Flash authenticates, erases the target region, announces offset/len via
// RequestDownload, and streams data in TransferData chunks, invoking
// progress (if non-nil) after every chunk.
func (f *Flasher) Flash(ctx context.Context, offset uint32, data []byte, progress ProgressFunc) error {
	if err := seedkey.Authenticate(ctx, f.client, f.deriver, f.sessionType, f.log); err != nil {
		return errors.Wrap(err, "flash: authenticating")
	}

	if err := f.erase(ctx); err != nil {
		return errors.Wrap(err, "flash: erasing")
	}

	announce := make([]byte, 8)
	binary.BigEndian.PutUint32(announce[0:4], offset)
	binary.BigEndian.PutUint32(announce[4:8], uint32(len(data)))
	if _, err := f.client.RequestDownload(ctx, announce); err != nil {
		return errors.Wrap(err, "flash: requesting download")
	}

	sent := 0
	for sent < len(data) {
		end := sent + maxChunk
		if end > len(data) {
			end = len(data)
		}
		chunk := data[sent:end]

		if _, err := f.client.TransferData(ctx, chunk); err != nil {
			return errors.Wrapf(err, "flash: transferring data at offset %d", sent)
		}
		sent = end

		if progress != nil {
			progress(float32(sent) / float32(len(data)))
		}
	}

	return nil
}

func (f *Flasher) erase(ctx context.Context) error {
	_, err := f.client.Request(ctx, uds.ServiceEraseMemory, eraseRequest)
	return err
}
