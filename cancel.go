package pgconn

import (
	"context"
	"net"

	"github.com/php-pg/pgconn/internal/wireproto"
)

// cancelRequest opens a fresh socket to the same remote address and
// sends a single CancelRequest carrying the remembered pid/secret, then
// closes it. It never touches the primary socket. Per protocol, success
// is not observable — the original operation must still be awaited on
// the primary connection. Any failure to even deliver the request is
// swallowed: this is always a best-effort nudge.
func (c *Conn) cancelRequest(ctx context.Context) {
	dialer := net.Dialer{}
	conn, err := dialer.DialContext(ctx, c.network, c.remoteAddr)
	if err != nil {
		return
	}
	defer conn.Close()

	var buf []byte
	buf = wireproto.AppendCancelRequest(buf, c.pid, c.secretKey)
	_, _ = conn.Write(buf)
}
