package seedkey

import "github.com/pkg/errors"

// SecurityLevel selects the magic multiplier used by the KTM seed/key
// algorithm found on several Keihin/KTM ECUs.
type SecurityLevel int

const (
	SecurityLevel1 SecurityLevel = iota + 1
	SecurityLevel2
	SecurityLevel3
)

// ErrMissingMagicNumber is returned for a level with no known magic number.
var ErrMissingMagicNumber = errors.New("seedkey: missing magic number for this level")

// KTMDeriver implements the 2-byte seed multiplication algorithm used by
// KTM-family ECUs: the seed is treated as a big-endian uint16, multiplied
// by a level-specific magic constant, and truncated to 16 bits.
//
// Adapted from the teacher's seedkey/k01.go (GenerateK01Key), generalized
// into the Deriver interface so it can sit alongside Mazda1Deriver.
type KTMDeriver struct {
	Level SecurityLevel
}

func (d KTMDeriver) DeriveKey(seed []byte) ([]byte, error) {
	if len(seed) != 2 {
		return nil, errors.Errorf("seedkey: ktm seed must be 2 bytes, got %d", len(seed))
	}

	var magicNumber uint16
	switch d.Level {
	case SecurityLevel1:
		return nil, ErrMissingMagicNumber
	case SecurityLevel2:
		magicNumber = 0x4D4E
	case SecurityLevel3:
		magicNumber = 0x6F31
	default:
		return nil, errors.Errorf("seedkey: invalid security level %d", d.Level)
	}

	x := uint16(seed[0])<<8 | uint16(seed[1])
	key := magicNumber * x

	return []byte{byte(key >> 8), byte(key)}, nil
}
