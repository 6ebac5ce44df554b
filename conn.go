package pgconn

import (
	"context"
	"log/slog"
	"net"
	"sync/atomic"
	"time"

	"github.com/php-pg/pgconn/internal/chunkreader"
	"github.com/php-pg/pgconn/internal/metrics"
	"github.com/php-pg/pgconn/internal/wireproto"
)

// deadlineTime is used to force an in-progress net.Conn.Read to return
// immediately once a context is cancelled; any time in the past works.
var deadlineTime = time.Unix(1, 0)

type status int32

const (
	statusIdle status = iota
	statusBusy
	statusClosed
)

// Conn is a single, non-pooled connection to a PostgreSQL-compatible
// backend. It is not safe for concurrent use: the documented invariant
// (spec §5) is that exactly one goroutine drives a Conn at a time, and
// that ownership belongs to whichever Reader currently holds the BUSY
// lock. Conn is created by Connect, never directly.
type Conn struct {
	netConn net.Conn
	cr      *chunkreader.Reader
	dec     *wireproto.Decoder

	cfg     Config
	logger  *slog.Logger
	metrics *metrics.Collector

	status atomic.Int32

	pid       uint32
	secretKey uint32
	txStatus  byte
	params    map[string]string

	// network/remoteAddr are retained for cancelRequest, which dials a
	// fresh socket to the same address.
	network    string
	remoteAddr string
}

// PID is the backend process id, captured from BackendKeyData and used
// by cancelRequest.
func (c *Conn) PID() uint32 { return c.pid }

// TxStatus is the transaction status byte from the most recent
// ReadyForQuery: 'I' (idle), 'T' (in transaction), or 'E' (failed
// transaction).
func (c *Conn) TxStatus() byte { return c.txStatus }

// ParameterStatus returns the last reported value of a server parameter
// (e.g. "server_version", "TimeZone"), or "" if never reported.
func (c *Conn) ParameterStatus(name string) string { return c.params[name] }

// IsClosed reports whether the connection has been closed, either
// explicitly or as a side effect of a fatal error.
func (c *Conn) IsClosed() bool { return status(c.status.Load()) == statusClosed }

// lock transitions IDLE->BUSY. Any other starting state is a LockError.
func (c *Conn) lock() error {
	if !c.status.CompareAndSwap(int32(statusIdle), int32(statusBusy)) {
		cur := status(c.status.Load())
		if cur == statusClosed {
			return &LockError{Reason: "connection is closed"}
		}
		return &LockError{Reason: "connection is BUSY"}
	}
	return nil
}

// unlock transitions BUSY->IDLE. From CLOSED it is a no-op (closing may
// race with a reader's deferred release); from IDLE it is a programming
// error.
func (c *Conn) unlock() error {
	cur := status(c.status.Load())
	switch cur {
	case statusClosed:
		return nil
	case statusIdle:
		return &UnlockError{Reason: "unlock called while already IDLE"}
	}
	c.status.Store(int32(statusIdle))
	return nil
}

func (c *Conn) markClosed(reason string) {
	c.status.Store(int32(statusClosed))
	if c.metrics != nil {
		c.metrics.ConnectionClosed(reason)
	}
}

// Close is idempotent: on first call it best-effort sends Terminate and
// closes the socket; subsequent calls are no-ops.
func (c *Conn) Close() error {
	if status(c.status.Swap(int32(statusClosed))) == statusClosed {
		return nil
	}
	if c.metrics != nil {
		c.metrics.ConnectionClosed("terminate")
	}
	var buf []byte
	buf = wireproto.AppendTerminate(buf)
	_, _ = c.netConn.Write(buf) // best-effort
	return c.netConn.Close()
}

// send writes data to the socket, closing the connection and returning
// ConnectionClosed on any write failure.
func (c *Conn) send(data []byte) error {
	if _, err := c.netConn.Write(data); err != nil {
		c.markClosed("error")
		_ = c.netConn.Close()
		return &ConnectionClosed{Err: err}
	}
	if c.metrics != nil {
		c.metrics.BytesSent(len(data))
	}
	return nil
}

// receiveMessage reads and decodes the next backend message, applying
// the standard side effects (spec §4.4) before returning it. Stream
// errors close the connection and surface as ConnectionClosed; decode
// failures close it and surface as ProtocolError.
// ErrorResponse always surfaces as *PgError; FATAL severity closes the
// connection first.
func (c *Conn) receiveMessage(ctx context.Context) (wireproto.BackendMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, &Cancelled{}
	}

	before := c.cr.BytesRead()
	cleanup := contextDoneToConnDeadline(ctx, c.netConn)
	msg, err := c.dec.Receive()
	cleanup()
	if c.metrics != nil {
		c.metrics.BytesReceived(int(c.cr.BytesRead() - before))
	}
	if err != nil {
		err = preferContextOverNetTimeoutError(ctx, err)
		if err == ctx.Err() && err != nil {
			return nil, &Cancelled{}
		}
		c.markClosed("error")
		_ = c.netConn.Close()
		if pe, ok := err.(*wireproto.ProtocolError); ok {
			return nil, &ProtocolError{Reason: pe.Reason}
		}
		return nil, &ConnectionClosed{Err: err}
	}

	switch m := msg.(type) {
	case wireproto.ParameterStatus:
		c.params[m.Name] = m.Value
	case wireproto.ReadyForQuery:
		c.txStatus = m.TxStatus
	case wireproto.NoticeResponse:
		if c.cfg.OnNotice != nil {
			c.cfg.OnNotice(noticeFromWireFields(m.Fields))
		}
	case wireproto.NotificationResponse:
		if c.metrics != nil {
			c.metrics.NotificationReceived(m.Channel)
		}
		if c.cfg.OnNotification != nil {
			c.cfg.OnNotification(&Notification{PID: m.PID, Channel: m.Channel, Payload: m.Payload})
		}
	case wireproto.ErrorResponse:
		pgErr := pgErrorFromWireFields(m.Fields)
		if pgErr.Severity == "FATAL" || pgErr.Severity == "PANIC" {
			c.markClosed("error")
			_ = c.netConn.Close()
		}
		return msg, pgErr
	}

	return msg, nil
}

// contextDoneToConnDeadline starts a goroutine that forces an immediate
// deadline on conn once ctx is done, unblocking an in-progress Read
// without ever issuing a second concurrent Read on the same socket. The
// returned cleanup must be called exactly once after the Read returns;
// it is safe whether or not ctx ever fired.
func contextDoneToConnDeadline(ctx context.Context, conn net.Conn) (cleanup func()) {
	if ctx.Done() == nil {
		return func() {}
	}
	doneChan := make(chan struct{})
	var deadlineWasSet atomic.Bool
	go func() {
		select {
		case <-ctx.Done():
			conn.SetDeadline(deadlineTime)
			deadlineWasSet.Store(true)
		case <-doneChan:
		}
	}()
	return func() {
		close(doneChan)
		if deadlineWasSet.Load() {
			conn.SetDeadline(time.Time{})
		}
	}
}

// preferContextOverNetTimeoutError returns ctx.Err() when err is a
// net.Error timeout caused by contextDoneToConnDeadline forcing the
// deadline, so callers see the cancellation reason rather than a raw
// i/o timeout.
func preferContextOverNetTimeoutError(ctx context.Context, err error) error {
	if ne, ok := err.(net.Error); ok && ne.Timeout() && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// restoreConnectionState drains messages until ReadyForQuery. Non-fatal
// PgErrors encountered during the drain are absorbed; a FATAL PgError
// (or any ConnectionClosed/ProtocolError) stops the drain early, since
// the connection is already closed. Not cancellable — the caller is
// already resynchronizing after an error and must not itself be
// interrupted, per spec §4.4.
func (c *Conn) restoreConnectionState() error {
	for {
		msg, err := c.receiveMessage(context.Background())
		if err != nil {
			var pgErr *PgError
			if asPgError(err, &pgErr) {
				if pgErr.Severity == "FATAL" || pgErr.Severity == "PANIC" {
					return nil
				}
				continue
			}
			return err
		}
		if _, ok := msg.(wireproto.ReadyForQuery); ok {
			return nil
		}
	}
}

func asPgError(err error, target **PgError) bool {
	if pe, ok := err.(*PgError); ok {
		*target = pe
		return true
	}
	return false
}
