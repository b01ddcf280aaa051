package frame

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	mavframe "github.com/bluenviron/gomavlib/v3/pkg/frame"
)

// KeyLen is the MAVLink v2 secret key length.
const KeyLen = 32

var ErrInvalidKey = errors.New("frame: signing key must be 32 bytes")

// signingEpoch is 2015-01-01T00:00:00Z; timestamps count 10us ticks from it.
var signingEpoch = time.Date(2015, time.January, 1, 0, 0, 0, 0, time.UTC)

// SigningKey is the shared secret behind signed v2 frames.
type SigningKey [KeyLen]byte

// ParseSigningKey accepts a 64-character hex string.
func ParseSigningKey(raw string) (SigningKey, error) {
	var key SigningKey
	b, err := hex.DecodeString(strings.TrimSpace(raw))
	if err != nil {
		return key, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	if len(b) != KeyLen {
		return key, ErrInvalidKey
	}
	copy(key[:], b)
	return key, nil
}

// KeyFromPassphrase derives a key the way ground stations do: sha256 of the passphrase.
func KeyFromPassphrase(passphrase string) SigningKey {
	return SigningKey(sha256.Sum256([]byte(passphrase)))
}

// Signer stamps outbound frames with a monotonic timestamp.
type Signer struct {
	LinkID uint8
	Key    SigningKey
	Now    func() time.Time

	mu   sync.Mutex
	last uint64
}

// NewSigner returns a signer for one link id.
func NewSigner(linkID uint8, key SigningKey) *Signer {
	return &Signer{LinkID: linkID, Key: key}
}

// nextTimestamp never returns the same value twice.
func (s *Signer) nextTimestamp() uint64 {
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	ts := uint64(now().Sub(signingEpoch) / (10 * time.Microsecond))
	s.mu.Lock()
	defer s.mu.Unlock()
	if ts <= s.last {
		ts = s.last + 1
	}
	s.last = ts
	return ts
}

// v2 views k as the gomavlib key type.
func (k *SigningKey) v2() *mavframe.V2Key { return (*mavframe.V2Key)(k) }
