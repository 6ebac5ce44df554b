package pgconn

import (
	"context"
	"crypto/tls"
	"net"

	"github.com/php-pg/pgconn/internal/wireproto"
)

// negotiateTLS sends SSLRequest and reads the backend's one-byte reply.
// 'S' upgrades netConn to TLS using tlsConfig; 'N' returns netConn
// unchanged if plaintext fallback is permitted, or a ConnectError
// otherwise. Any other reply byte is always a ConnectError: the
// connection has lost message-boundary sync before the real protocol
// even started.
func negotiateTLS(ctx context.Context, netConn net.Conn, tlsConfig *tls.Config, allowPlaintextFallback bool, hostLabel string) (net.Conn, error) {
	var buf []byte
	buf = wireproto.AppendSSLRequest(buf)
	if _, err := netConn.Write(buf); err != nil {
		return nil, &ConnectError{Host: hostLabel, Reason: "writing SSLRequest", Err: err}
	}

	reply := make([]byte, 1)
	if _, err := readFull(netConn, reply); err != nil {
		return nil, &ConnectError{Host: hostLabel, Reason: "reading SSLRequest reply", Err: err}
	}

	switch reply[0] {
	case 'S':
		tlsConn := tls.Client(netConn, tlsConfig)
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			return nil, &ConnectError{Host: hostLabel, Reason: "TLS handshake", Err: err}
		}
		return tlsConn, nil
	case 'N':
		if !allowPlaintextFallback {
			return nil, &ConnectError{Host: hostLabel, Reason: "server refused TLS and plaintext fallback is not permitted"}
		}
		return netConn, nil
	default:
		return nil, &ConnectError{Host: hostLabel, Reason: "unexpected SSLRequest reply byte"}
	}
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
