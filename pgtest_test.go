package pgconn

import (
	"encoding/binary"
	"io"
	"net"
	"testing"

	"github.com/php-pg/pgconn/internal/chunkreader"
	"github.com/php-pg/pgconn/internal/wireproto"
)

// newPipeConn wires a *Conn directly to one end of a net.Pipe, bypassing
// Connect/the handshake, so tests can drive the post-authentication state
// machine against a hand-rolled fake backend on the other end. Mirrors the
// teacher's proxy relay tests, which inject a net.Pipe in place of a real
// backend dial.
func newPipeConn(t *testing.T, cfg Config) (*Conn, net.Conn) {
	t.Helper()
	client, server := net.Pipe()

	c := &Conn{
		netConn:    client,
		cfg:        cfg,
		logger:     cfg.Logger,
		metrics:    cfg.Metrics,
		params:     make(map[string]string),
		network:    "tcp",
		remoteAddr: "pipe",
	}
	c.cr = chunkreader.New(client, 0)
	c.dec = wireproto.NewDecoder(c.cr)
	c.status.Store(int32(statusIdle))

	t.Cleanup(func() { _ = server.Close() })
	return c, server
}

// --- frontend frame reading (fake-backend side) ---

// readFrontendFrame reads one type+length+body frontend message frame,
// the mirror image of internal/wireproto's backend decoder.
func readFrontendFrame(t *testing.T, r io.Reader) (msgType byte, body []byte) {
	t.Helper()
	header := make([]byte, 5)
	if _, err := io.ReadFull(r, header); err != nil {
		t.Fatalf("readFrontendFrame: reading header: %v", err)
	}
	msgType = header[0]
	n := int(binary.BigEndian.Uint32(header[1:5])) - 4
	body = make([]byte, n)
	if n > 0 {
		if _, err := io.ReadFull(r, body); err != nil {
			t.Fatalf("readFrontendFrame: reading body: %v", err)
		}
	}
	return msgType, body
}

// --- backend message encoding (fake-backend side) ---
//
// These mirror internal/wireproto's (unexported) frontend encoders but
// build the backend-originated messages no production code in this
// driver ever needs to send.

func beInt16(dst []byte, n int16) []byte {
	var buf [2]byte
	binary.BigEndian.PutUint16(buf[:], uint16(n))
	return append(dst, buf[:]...)
}

func beInt32(dst []byte, n int32) []byte {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], uint32(n))
	return append(dst, buf[:]...)
}

func beCString(dst []byte, s string) []byte {
	dst = append(dst, s...)
	return append(dst, 0)
}

func beMessage(msgType byte, body []byte) []byte {
	var dst []byte
	dst = append(dst, msgType)
	dst = beInt32(dst, int32(len(body)+4))
	dst = append(dst, body...)
	return dst
}

type beField struct {
	name string
	oid  uint32
}

func beRowDescription(fields ...beField) []byte {
	body := beInt16(nil, int16(len(fields)))
	for _, f := range fields {
		body = beCString(body, f.name)
		body = beInt32(body, 0)  // table oid
		body = beInt16(body, 0)  // column attr number
		body = beInt32(body, int32(f.oid))
		body = beInt16(body, -1) // type size
		body = beInt32(body, -1) // type modifier
		body = beInt16(body, 0)  // format code (text)
	}
	return beMessage('T', body)
}

func beDataRow(values ...[]byte) []byte {
	body := beInt16(nil, int16(len(values)))
	for _, v := range values {
		if v == nil {
			body = beInt32(body, -1)
			continue
		}
		body = beInt32(body, int32(len(v)))
		body = append(body, v...)
	}
	return beMessage('D', body)
}

func beCommandComplete(tag string) []byte {
	return beMessage('C', beCString(nil, tag))
}

func beReadyForQuery(txStatus byte) []byte {
	return beMessage('Z', []byte{txStatus})
}

func beErrorResponse(severity, sqlState, message string) []byte {
	var body []byte
	body = append(body, 'S')
	body = beCString(body, severity)
	body = append(body, 'C')
	body = beCString(body, sqlState)
	body = append(body, 'M')
	body = beCString(body, message)
	body = append(body, 0)
	return beMessage('E', body)
}

func beNoticeResponse(severity, message string) []byte {
	var body []byte
	body = append(body, 'S')
	body = beCString(body, severity)
	body = append(body, 'M')
	body = beCString(body, message)
	body = append(body, 0)
	return beMessage('N', body)
}

func beNotificationResponse(pid uint32, channel, payload string) []byte {
	body := beInt32(nil, int32(pid))
	body = beCString(body, channel)
	body = beCString(body, payload)
	return beMessage('A', body)
}

func beParameterStatus(name, value string) []byte {
	body := beCString(nil, name)
	body = beCString(body, value)
	return beMessage('S', body)
}

func beBackendKeyData(pid, secret uint32) []byte {
	body := beInt32(nil, int32(pid))
	body = beInt32(body, int32(secret))
	return beMessage('K', body)
}

func beParseComplete() []byte      { return beMessage('1', nil) }
func beBindComplete() []byte       { return beMessage('2', nil) }
func beNoData() []byte             { return beMessage('n', nil) }
func beEmptyQueryResponse() []byte { return beMessage('I', nil) }

func beCopyInResponse() []byte {
	return beMessage('G', []byte{0, 0, 0})
}

func beCopyOutResponse() []byte {
	return beMessage('H', []byte{0, 0, 0})
}

func beCopyData(data []byte) []byte {
	return beMessage('d', data)
}

func beCopyDone() []byte { return beMessage('c', nil) }

// writeFrames writes every frame to conn in order, failing the test on error.
// Run from the fake-backend goroutine.
func writeFrames(t *testing.T, conn net.Conn, frames ...[]byte) {
	t.Helper()
	for _, f := range frames {
		if _, err := conn.Write(f); err != nil {
			t.Errorf("fake backend: write: %v", err)
			return
		}
	}
}
