// Package frame adapts gomavlib's v1/v2 framing to the link layer.
//
// Ownership boundary:
// - the Frame and SigningMode views the rest of the module works with
// - sequence numbering and monotonic signing timestamps on the write side
// - noise skipping and per-frame error classification on the read side
//
// Header layout, checksums, v2 truncation and signatures are gomavlib's.
package frame

import (
	"errors"
	"fmt"
	"strings"

	mavframe "github.com/bluenviron/gomavlib/v3/pkg/frame"

	"github.com/danmuck/groundctl/internal/protocol/dialect"
)

var (
	ErrChecksum           = errors.New("frame: checksum mismatch")
	ErrSignature          = errors.New("frame: signature mismatch")
	ErrMalformed          = errors.New("frame: malformed payload")
	ErrMessageIDTooLarge  = errors.New("frame: message id does not fit v1 header")
	ErrSigningKeyRequired = errors.New("frame: signed v2 requires a signing key")
	ErrNilMessage         = errors.New("frame: frame has no message")
)

// Version is the protocol generation of one frame.
type Version uint8

const (
	V1 Version = 1
	V2 Version = 2
)

// SigningMode selects how an outbound frame is encoded.
type SigningMode int

const (
	UnsignedV1 SigningMode = iota
	UnsignedV2
	SignedV2
)

func (m SigningMode) String() string {
	switch m {
	case UnsignedV1:
		return "v1"
	case UnsignedV2:
		return "v2"
	case SignedV2:
		return "v2-signed"
	default:
		return "unknown"
	}
}

// ParseSigningMode accepts the String forms plus "signed".
func ParseSigningMode(s string) (SigningMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "v1", "mavlink1":
		return UnsignedV1, nil
	case "", "v2", "mavlink2":
		return UnsignedV2, nil
	case "v2-signed", "signed":
		return SignedV2, nil
	default:
		return 0, fmt.Errorf("frame: unknown signing mode %q", s)
	}
}

// Signature is the v2 signing trailer.
type Signature struct {
	LinkID    uint8
	Timestamp uint64
	Value     [6]byte
}

// Frame is one complete wire message.
type Frame struct {
	Version       Version
	IncompatFlags uint8
	CompatFlags   uint8
	Sequence      uint8
	SystemID      uint8
	ComponentID   uint8
	MessageID     uint32
	// Payload is the payload as it appeared on the wire; v2 may be truncated.
	Payload []byte
	// Message is nil when MessageID is not part of the dialect.
	Message   dialect.Message
	Signature *Signature
}

// IsRecoverable reports whether a read error only spoiled one frame and the
// stream can keep being parsed.
func IsRecoverable(err error) bool {
	var re mavframe.ReadError
	return errors.Is(err, ErrChecksum) ||
		errors.Is(err, ErrSignature) ||
		errors.Is(err, ErrMalformed) ||
		errors.As(err, &re)
}
