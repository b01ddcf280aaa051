//go:build linux

package link

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// DialBluetooth returns a Dialer that opens an RFCOMM stream socket to the
// device's serial port profile channel.
func DialBluetooth(cfg BluetoothConfig, timeout time.Duration) Dialer {
	return func(ctx context.Context) (io.ReadWriteCloser, error) {
		addr, err := parseBDAddr(cfg.Address)
		if err != nil {
			return nil, err
		}
		fd, err := unix.Socket(unix.AF_BLUETOOTH, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.BTPROTO_RFCOMM)
		if err != nil {
			return nil, fmt.Errorf("rfcomm socket: %w", err)
		}
		if err := connectRFCOMM(ctx, fd, &unix.SockaddrRFCOMM{Addr: addr, Channel: cfg.Channel}, timeout); err != nil {
			_ = unix.Close(fd)
			return nil, err
		}
		// a non-blocking fd lets the runtime poller service deadlines and Close.
		f := os.NewFile(uintptr(fd), "rfcomm:"+cfg.Address)
		if f == nil {
			_ = unix.Close(fd)
			return nil, fmt.Errorf("rfcomm: invalid fd")
		}
		return f, nil
	}
}

func connectRFCOMM(ctx context.Context, fd int, sa *unix.SockaddrRFCOMM, timeout time.Duration) error {
	err := unix.Connect(fd, sa)
	if err == nil {
		return nil
	}
	if err != unix.EINPROGRESS && err != unix.EAGAIN {
		return fmt.Errorf("rfcomm connect: %w", err)
	}
	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && (timeout <= 0 || d.Before(deadline)) {
		deadline = d
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		wait := time.Until(deadline)
		if wait <= 0 {
			return fmt.Errorf("rfcomm connect: %w", os.ErrDeadlineExceeded)
		}
		// poll in short slices so ctx cancellation is observed.
		slice := min(wait, 200*time.Millisecond)
		fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLOUT}}
		n, err := unix.Poll(fds, int(slice/time.Millisecond))
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return fmt.Errorf("rfcomm poll: %w", err)
		}
		if n == 0 {
			continue
		}
		soErr, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
		if err != nil {
			return fmt.Errorf("rfcomm connect: %w", err)
		}
		if soErr != 0 {
			return fmt.Errorf("rfcomm connect: %w", unix.Errno(soErr))
		}
		return nil
	}
}
