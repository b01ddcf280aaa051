package link

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync/atomic"

	"github.com/tarm/serial"
)

// serialPort is the subset of *serial.Port the adapter drives.
type serialPort interface {
	io.ReadWriteCloser
	Flush() error
}

var openSerialPort = func(c *serial.Config) (serialPort, error) {
	return serial.OpenPort(c)
}

// DialUSB returns a Dialer for a USB serial device. Stale input is purged
// after open.
func DialUSB(cfg USBConfig) Dialer {
	return func(ctx context.Context) (io.ReadWriteCloser, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		sc, err := serialConfig(cfg)
		if err != nil {
			return nil, err
		}
		port, err := openSerialPort(sc)
		if err != nil {
			return nil, err
		}
		if err := port.Flush(); err != nil {
			_ = port.Close()
			return nil, fmt.Errorf("purge %s: %w", cfg.Device, err)
		}
		return &serialStream{port: port}, nil
	}
}

func serialConfig(cfg USBConfig) (*serial.Config, error) {
	parity, err := parseParity(cfg.Parity)
	if err != nil {
		return nil, err
	}
	stop := serial.Stop1
	if cfg.StopBits == 2 {
		stop = serial.Stop2
	}
	timeout := cfg.ReadTimeout
	if timeout <= 0 {
		timeout = DefaultSerialTimeout
	}
	return &serial.Config{
		Name:        cfg.Device,
		Baud:        cfg.Baud,
		Size:        byte(cfg.DataBits),
		Parity:      parity,
		StopBits:    stop,
		ReadTimeout: timeout,
	}, nil
}

func parseParity(s string) (serial.Parity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none", "n":
		return serial.ParityNone, nil
	case "odd", "o":
		return serial.ParityOdd, nil
	case "even", "e":
		return serial.ParityEven, nil
	case "mark", "m":
		return serial.ParityMark, nil
	case "space", "s":
		return serial.ParitySpace, nil
	default:
		return 0, fmt.Errorf("%w: parity %q", ErrInvalidConfig, s)
	}
}

// serialStream turns the port's timed-out reads, reported as (0, io.EOF),
// back into a blocking stream that only ends on Close or a real error.
type serialStream struct {
	port   serialPort
	closed atomic.Bool
}

func (s *serialStream) Read(p []byte) (int, error) {
	for {
		if s.closed.Load() {
			return 0, os.ErrClosed
		}
		n, err := s.port.Read(p)
		if n > 0 {
			return n, nil
		}
		if err == nil || errors.Is(err, io.EOF) {
			continue
		}
		return 0, err
	}
}

func (s *serialStream) Write(p []byte) (int, error) {
	if s.closed.Load() {
		return 0, os.ErrClosed
	}
	return s.port.Write(p)
}

func (s *serialStream) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.port.Close()
}
