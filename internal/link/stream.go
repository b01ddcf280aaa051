package link

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/danmuck/groundctl/internal/observability"
	"github.com/danmuck/groundctl/internal/protocol/frame"
	"github.com/rs/zerolog"
)

// Dialer acquires the raw byte stream for one transport.
type Dialer func(ctx context.Context) (io.ReadWriteCloser, error)

// Options tune a StreamLink.
type Options struct {
	// Signer is required for frame.SignedV2 sends.
	Signer *frame.Signer
	// VerifyKey, when set, rejects inbound signed frames with a bad signature.
	VerifyKey *frame.SigningKey
	// WriteTimeout is applied per Send when the handle supports deadlines.
	WriteTimeout time.Duration
	// Setup runs after the handle is acquired and before the codec is
	// installed. An error closes the handle.
	Setup func(io.ReadWriteCloser) error
	Logger zerolog.Logger
}

type writeDeadliner interface {
	SetWriteDeadline(t time.Time) error
}

// StreamLink implements Link over any dialed io.ReadWriteCloser.
type StreamLink struct {
	transport Kind
	target    string
	dial      Dialer
	opts      Options
	logger    zerolog.Logger

	mu     sync.Mutex
	handle io.ReadWriteCloser
	reader *frame.Reader
	gen    uint64

	sendMu sync.Mutex
	writer *frame.Writer
}

var _ Link = (*StreamLink)(nil)

func NewStreamLink(transport Kind, target string, dial Dialer, opts Options) *StreamLink {
	return &StreamLink{
		transport: transport,
		target:    target,
		dial:      dial,
		opts:      opts,
		logger:    opts.Logger.With().Str("transport", string(transport)).Str("target", target).Logger(),
	}
}

func (l *StreamLink) Transport() Kind { return l.transport }

func (l *StreamLink) Open(ctx context.Context) error {
	if err := l.Close(); err != nil {
		l.logger.Debug().Err(err).Msg("close previous handle")
	}
	if l.dial == nil {
		return &ConnectError{Transport: l.transport, Target: l.target, Err: ErrInvalidConfig}
	}
	handle, err := l.dial(ctx)
	if err != nil {
		observability.RecordLinkError(string(l.transport), "open")
		return &ConnectError{Transport: l.transport, Target: l.target, Err: err}
	}
	if err := l.install(handle); err != nil {
		_ = handle.Close()
		observability.RecordLinkError(string(l.transport), "open")
		return &ConnectError{Transport: l.transport, Target: l.target, Err: err}
	}
	l.logger.Info().Msg("link open")
	return nil
}

func (l *StreamLink) install(handle io.ReadWriteCloser) error {
	if l.opts.Setup != nil {
		if err := l.opts.Setup(handle); err != nil {
			return err
		}
	}
	reader := frame.NewReader(handle, l.opts.VerifyKey)
	writer := frame.NewWriter(handle, l.opts.Signer)

	l.sendMu.Lock()
	l.writer = writer
	l.sendMu.Unlock()

	l.mu.Lock()
	l.handle = handle
	l.reader = reader
	l.gen++
	l.mu.Unlock()
	return nil
}

// Close releases the handle once. Blocked ReceiveNext calls return a LinkError.
func (l *StreamLink) Close() error {
	l.mu.Lock()
	handle := l.handle
	l.handle = nil
	l.reader = nil
	l.mu.Unlock()
	if handle == nil {
		return nil
	}

	l.sendMu.Lock()
	l.writer = nil
	l.sendMu.Unlock()

	err := handle.Close()
	l.logger.Info().Msg("link closed")
	return err
}

func (l *StreamLink) ReceiveNext() (frame.Frame, error) {
	l.mu.Lock()
	reader, gen := l.reader, l.gen
	l.mu.Unlock()
	if reader == nil {
		return frame.Frame{}, &LinkError{Op: "receive", Transport: l.transport, Err: ErrNotOpen}
	}
	for {
		f, err := reader.Read()
		if err == nil {
			observability.RecordFrameRx(f.MessageID)
			return f, nil
		}
		if frame.IsRecoverable(err) {
			observability.RecordLinkError(string(l.transport), "decode")
			l.logger.Debug().Err(err).Uint32("msg_id", f.MessageID).Msg("dropped frame")
			continue
		}
		if !l.current(gen) {
			return frame.Frame{}, &LinkError{Op: "receive", Transport: l.transport, Err: ErrNotOpen}
		}
		observability.RecordLinkError(string(l.transport), "receive")
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return frame.Frame{}, &LinkError{Op: "receive", Transport: l.transport, Err: ErrEndOfStream}
		}
		return frame.Frame{}, &LinkError{Op: "receive", Transport: l.transport, Err: err}
	}
}

func (l *StreamLink) current(gen uint64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.reader != nil && l.gen == gen
}

func (l *StreamLink) Send(f *frame.Frame, mode frame.SigningMode) error {
	l.sendMu.Lock()
	defer l.sendMu.Unlock()
	if l.writer == nil {
		return &LinkError{Op: "send", Transport: l.transport, Err: ErrNotOpen}
	}
	l.mu.Lock()
	handle := l.handle
	l.mu.Unlock()
	if d, ok := handle.(writeDeadliner); ok && l.opts.WriteTimeout > 0 {
		_ = d.SetWriteDeadline(time.Now().Add(l.opts.WriteTimeout))
	}
	if err := l.writer.Write(f, mode); err != nil {
		observability.RecordLinkError(string(l.transport), "send")
		return &LinkError{Op: "send", Transport: l.transport, Err: err}
	}
	observability.RecordFrameTx(f.Message.MessageID())
	return nil
}
