// Package seedkey implements ECU seed/key security access challenge
// response algorithms and the Authenticate sequencing helper that drives
// them over a uds.Client.
package seedkey

import (
	"context"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"ecuflash/uds"
)

// Deriver computes a security access key from an ECU-issued seed.
type Deriver interface {
	DeriveKey(seed []byte) ([]byte, error)
}

// Authenticate requests sessionType, requests a seed, derives a key with
// deriver, and sends it back, in the order Mazda1 and its relatives all
// expect: session, seed, key.
func Authenticate(ctx context.Context, client *uds.Client, deriver Deriver, sessionType byte, log logrus.FieldLogger) error {
	if log == nil {
		log = logrus.StandardLogger()
	}

	if _, err := client.DiagnosticSessionControl(ctx, sessionType); err != nil {
		return errors.Wrap(err, "seedkey: requesting session")
	}

	seed, err := client.RequestSeed(ctx)
	if err != nil {
		return errors.Wrap(err, "seedkey: requesting seed")
	}
	log.WithField("seed", seed).Debug("seedkey: seed received")

	key, err := deriver.DeriveKey(seed)
	if err != nil {
		return errors.Wrap(err, "seedkey: deriving key")
	}

	if err := client.SendKey(ctx, key); err != nil {
		return errors.Wrap(err, "seedkey: sending key")
	}
	return nil
}
