package transport

import (
	"context"
	stderrors "errors"
	"net"
	"time"

	"cnc-cam-core/pkg/errors"
)

func dialNet(ctx context.Context, network, addr string, timeout time.Duration) (net.Conn, error) {
	d := net.Dialer{Timeout: timeout, KeepAlive: 30 * time.Second}
	conn, err := d.DialContext(ctx, network, addr)
	if err != nil {
		return nil, classify(addr, timeout, err)
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		// lines are tiny and latency bound
		_ = tc.SetNoDelay(true)
	}
	return conn, nil
}

// classify maps dial failures onto transport error codes.
func classify(addr string, timeout time.Duration, err error) error {
	var ne net.Error
	if stderrors.As(err, &ne) && ne.Timeout() || stderrors.Is(err, context.DeadlineExceeded) {
		return errors.Timeout("connect to "+addr, timeout.Milliseconds()).SetContext("endpoint", addr)
	}
	return errors.ConnectionFailed(addr, err)
}
