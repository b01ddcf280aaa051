package frame

import (
	"bufio"
	"fmt"
	"io"

	mavframe "github.com/bluenviron/gomavlib/v3/pkg/frame"
	"github.com/bluenviron/gomavlib/v3/pkg/message"

	"github.com/danmuck/groundctl/internal/protocol/dialect"
)

// readBufferSize fits the largest signed v2 frame.
const readBufferSize = 512

// build converts f to a gomavlib frame with checksum and, for SignedV2, a
// signature. It fills f.Version, f.MessageID, f.Payload and f.Signature.
func build(f *Frame, mode SigningMode, signer *Signer) (mavframe.Frame, error) {
	if f == nil || f.Message == nil {
		return nil, ErrNilMessage
	}
	msgID := f.Message.MessageID()
	crc, ok := dialect.CRCExtra(msgID)
	if !ok {
		return nil, fmt.Errorf("%w: %d", dialect.ErrUnknownMessage, msgID)
	}

	switch mode {
	case UnsignedV1:
		if msgID > 0xFF {
			return nil, ErrMessageIDTooLarge
		}
		raw, err := dialect.Encode(f.Message, false)
		if err != nil {
			return nil, err
		}
		fr := &mavframe.V1Frame{
			SequenceNumber: f.Sequence,
			SystemID:       f.SystemID,
			ComponentID:    f.ComponentID,
			Message:        raw,
		}
		fr.Checksum = fr.GenerateChecksum(crc)
		f.Version, f.MessageID, f.Payload = V1, msgID, raw.Payload
		return fr, nil

	case UnsignedV2, SignedV2:
		if mode == SignedV2 && signer == nil {
			return nil, ErrSigningKeyRequired
		}
		raw, err := dialect.Encode(f.Message, true)
		if err != nil {
			return nil, err
		}
		fr := &mavframe.V2Frame{
			CompatibilityFlag: f.CompatFlags,
			SequenceNumber:    f.Sequence,
			SystemID:          f.SystemID,
			ComponentID:       f.ComponentID,
			Message:           raw,
		}
		if mode == SignedV2 {
			fr.IncompatibilityFlag = mavframe.V2FlagSigned
		}
		fr.Checksum = fr.GenerateChecksum(crc)
		f.Version, f.IncompatFlags, f.MessageID, f.Payload = V2, fr.IncompatibilityFlag, msgID, raw.Payload
		if mode == SignedV2 {
			fr.SignatureLinkID = signer.LinkID
			fr.SignatureTimestamp = signer.nextTimestamp()
			fr.Signature = fr.GenerateSignature(signer.Key.v2())
			f.Signature = &Signature{LinkID: fr.SignatureLinkID, Timestamp: fr.SignatureTimestamp, Value: *fr.Signature}
		}
		return fr, nil

	default:
		return nil, fmt.Errorf("frame: unknown signing mode %d", mode)
	}
}

// Writer assigns sequence numbers and hands each frame to gomavlib, which
// emits it with a single Write. It is not safe for concurrent use; callers
// serialize.
type Writer struct {
	fw     *mavframe.Writer
	signer *Signer
	seq    uint8
}

func NewWriter(w io.Writer, signer *Signer) *Writer {
	fw := &mavframe.Writer{ByteWriter: w, DialectRW: dialect.ReadWriter()}
	// Initialize only fails on a nil ByteWriter.
	_ = fw.Initialize()
	return &Writer{fw: fw, signer: signer}
}

// Write stamps f.Sequence and sends the encoded frame.
func (w *Writer) Write(f *Frame, mode SigningMode) error {
	if f != nil {
		f.Sequence = w.seq
	}
	fr, err := build(f, mode, w.signer)
	if err != nil {
		return err
	}
	w.seq++
	return w.fw.Write(fr)
}

// Reader parses frames out of a byte stream, skipping noise between frames.
type Reader struct {
	br  *bufio.Reader
	fr  *mavframe.Reader
	key *SigningKey
}

// NewReader wraps r. When key is non-nil, signed frames are verified;
// unsigned frames still pass.
func NewReader(r io.Reader, key *SigningKey) *Reader {
	br := bufio.NewReaderSize(r, readBufferSize)
	fr := &mavframe.Reader{BufByteReader: br}
	// Initialize only fails without a byte reader.
	_ = fr.Initialize()
	return &Reader{br: br, fr: fr, key: key}
}

// Read returns the next frame. Errors satisfying IsRecoverable only spoil
// one frame; any other error means the stream is unusable.
func (r *Reader) Read() (Frame, error) {
	if err := r.skipNoise(); err != nil {
		return Frame{}, err
	}
	in, err := r.fr.Read()
	if err != nil {
		return Frame{}, err
	}
	raw := in.GetMessage().(*message.MessageRaw)
	f := Frame{
		Sequence:    in.GetSequenceNumber(),
		SystemID:    in.GetSystemID(),
		ComponentID: in.GetComponentID(),
		MessageID:   raw.ID,
		Payload:     raw.Payload,
	}
	switch v := in.(type) {
	case *mavframe.V1Frame:
		f.Version = V1
	case *mavframe.V2Frame:
		f.Version = V2
		f.IncompatFlags = v.IncompatibilityFlag
		f.CompatFlags = v.CompatibilityFlag
		if v.IsSigned() && v.Signature != nil {
			f.Signature = &Signature{LinkID: v.SignatureLinkID, Timestamp: v.SignatureTimestamp, Value: *v.Signature}
			if r.key != nil && *v.GenerateSignature(r.key.v2()) != *v.Signature {
				return f, ErrSignature
			}
		}
	}

	// Unknown ids cannot be checksummed without their CRC extra and pass
	// through undecoded.
	crc, ok := dialect.CRCExtra(raw.ID)
	if !ok {
		return f, nil
	}
	if in.GenerateChecksum(crc) != in.GetChecksum() {
		return f, ErrChecksum
	}
	msg, err := dialect.Decode(raw, f.Version == V2)
	if err != nil {
		return f, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	f.Message = msg
	return f, nil
}

// skipNoise discards bytes up to the next magic byte.
func (r *Reader) skipNoise() error {
	for {
		b, err := r.br.Peek(1)
		if err != nil {
			return err
		}
		if b[0] == mavframe.V1MagicByte || b[0] == mavframe.V2MagicByte {
			return nil
		}
		if _, err := r.br.Discard(1); err != nil {
			return err
		}
	}
}
