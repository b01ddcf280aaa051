//go:build !linux

package link

import (
	"context"
	"io"
	"time"
)

func DialBluetooth(cfg BluetoothConfig, timeout time.Duration) Dialer {
	return func(ctx context.Context) (io.ReadWriteCloser, error) {
		return nil, ErrUnsupported
	}
}
