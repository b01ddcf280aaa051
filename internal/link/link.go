//go:generate mockgen -source=link.go -destination=../mock/link_mock.go -package=mock

package link

import (
	"context"
	"errors"
	"fmt"

	"github.com/danmuck/groundctl/internal/protocol/frame"
)

// Kind tags which transport a Config selects.
type Kind string

const (
	KindBluetooth Kind = "bluetooth"
	KindTCP       Kind = "tcp"
	KindUSB       Kind = "usb"
)

var (
	ErrNotOpen       = errors.New("link: not open")
	ErrEndOfStream   = errors.New("link: end of stream")
	ErrInvalidConfig = errors.New("link: invalid config")
	ErrUnsupported   = errors.New("link: transport unsupported on this platform")
)

// Link is a framed duplex channel over one transport.
type Link interface {
	// Open acquires the transport. A previously open handle is closed first.
	Open(ctx context.Context) error
	// Close releases the transport. It is safe to call repeatedly.
	Close() error
	// ReceiveNext blocks until the next well-formed frame arrives.
	ReceiveNext() (frame.Frame, error)
	// Send writes one whole frame. Concurrent calls are serialized.
	Send(f *frame.Frame, mode frame.SigningMode) error
}

// Provider builds a Link from connection parameters.
type Provider interface {
	CreateLink(cfg Config) (Link, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(cfg Config) (Link, error)

func (fn ProviderFunc) CreateLink(cfg Config) (Link, error) {
	return fn(cfg)
}

// ConnectError reports that the transport could not be opened.
type ConnectError struct {
	Transport Kind
	Target    string
	Err       error
}

func (e *ConnectError) Error() string {
	if e.Target == "" {
		return fmt.Sprintf("link: connect %s: %v", e.Transport, e.Err)
	}
	return fmt.Sprintf("link: connect %s %s: %v", e.Transport, e.Target, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// LinkError reports a read or write failure on an opened (or closed) link.
type LinkError struct {
	Op        string
	Transport Kind
	Err       error
}

func (e *LinkError) Error() string {
	return fmt.Sprintf("link: %s %s: %v", e.Op, e.Transport, e.Err)
}

func (e *LinkError) Unwrap() error { return e.Err }

// IsConnectError reports whether err carries a *ConnectError.
func IsConnectError(err error) bool {
	var ce *ConnectError
	return errors.As(err, &ce)
}

// IsLinkError reports whether err carries a *LinkError.
func IsLinkError(err error) bool {
	var le *LinkError
	return errors.As(err, &le)
}
