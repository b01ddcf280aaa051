package link

import (
	"context"
	"io"
	"net"
	"strconv"
	"time"
)

// DialTCP returns a Dialer that connects to host:port with a bounded
// connect timeout and disables Nagle so small frames go out immediately.
func DialTCP(cfg TCPConfig, timeout time.Duration) Dialer {
	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	return func(ctx context.Context) (io.ReadWriteCloser, error) {
		d := net.Dialer{Timeout: timeout}
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, err
		}
		if tcp, ok := conn.(*net.TCPConn); ok {
			if err := tcp.SetNoDelay(true); err != nil {
				_ = conn.Close()
				return nil, err
			}
		}
		return conn, nil
	}
}
