package pgconn

import (
	"context"
	"io"

	"github.com/php-pg/pgconn/internal/wireproto"
)

const copyChunkSize = 64 * 1024

// CopyFrom executes sql (expected to be a COPY ... FROM STDIN statement)
// and streams r's bytes to the backend as CopyData frames. On r's EOF,
// CopyDone is sent; on a read error from r, CopyFail is sent carrying
// the error's message. If ctx is cancelled mid-copy, CopyFail is sent
// with a cancellation message and the operation still awaits normal
// protocol termination.
func (c *Conn) CopyFrom(ctx context.Context, sql string, r io.Reader) (CommandTag, error) {
	if err := ctx.Err(); err != nil {
		return "", &Cancelled{}
	}
	if err := c.lock(); err != nil {
		return "", err
	}
	defer func() { _ = c.unlock() }()

	var buf []byte
	buf = wireproto.AppendQuery(buf, sql)
	if err := c.send(buf); err != nil {
		return "", err
	}

	msg, err := c.receiveMessage(ctx)
	if err != nil {
		return "", drainAndReraise(c, err)
	}
	switch msg.(type) {
	case wireproto.CopyInResponse:
		// expected path, fall through
	case wireproto.CommandComplete, wireproto.ReadyForQuery, wireproto.EmptyQueryResponse:
		// Server decided this statement needs no COPY IN stream.
		return drainToTagAfter(ctx, c, msg)
	default:
		return "", drainAndReraise(c, &ProtocolError{Reason: "expected CopyInResponse"})
	}

	return copyInAndAwaitReply(ctx, c, r)
}

// copyInAndAwaitReply runs the source forwarder on its own goroutine
// while this one reads server replies, so an ErrorResponse raised
// mid-stream is observed as soon as it arrives instead of only after the
// whole source has drained. Whichever side errors first cancels the
// other; the forwarder resyncs the wire (CopyFail or CopyDone) before
// this goroutine resumes reading.
func copyInAndAwaitReply(ctx context.Context, c *Conn, r io.Reader) (CommandTag, error) {
	forwardCtx, cancelForward := context.WithCancel(ctx)
	defer cancelForward()

	forwardDone := make(chan error, 1)
	go func() { forwardDone <- streamCopyIn(forwardCtx, c, r) }()

	for {
		msg, err := c.receiveMessage(ctx)
		if err != nil {
			cancelForward()
			<-forwardDone
			if _, ok := err.(*Cancelled); ok {
				// The forwarder has ended the stream (CopyFail or CopyDone);
				// keep reading, no longer cancellable, until ReadyForQuery.
				return drainToTagAfter(context.Background(), c, nil)
			}
			return "", drainAndReraise(c, err)
		}
		switch m := msg.(type) {
		case wireproto.CommandComplete:
			forwardErr := <-forwardDone
			tag, err := drainToTagAfter(ctx, c, m)
			if err == nil {
				err = forwardErr
			}
			return tag, err
		case wireproto.ReadyForQuery:
			forwardErr := <-forwardDone
			return "", forwardErr
		}
	}
}

func streamCopyIn(ctx context.Context, c *Conn, r io.Reader) error {
	chunk := make([]byte, copyChunkSize)
	for {
		if err := ctx.Err(); err != nil {
			_ = sendCopyFail(c, "operation cancelled")
			return nil
		}
		n, err := r.Read(chunk)
		if n > 0 {
			var buf []byte
			buf = wireproto.AppendCopyData(buf, chunk[:n])
			if sendErr := c.send(buf); sendErr != nil {
				return sendErr
			}
			if c.metrics != nil {
				c.metrics.CopyRows("in", 1)
			}
		}
		if err == io.EOF {
			var buf []byte
			buf = wireproto.AppendCopyDone(buf)
			return c.send(buf)
		}
		if err != nil {
			return sendCopyFail(c, err.Error())
		}
	}
}

func sendCopyFail(c *Conn, reason string) error {
	var buf []byte
	buf = wireproto.AppendCopyFail(buf, reason)
	return c.send(buf)
}

// drainToTagAfter continues reading from msg (already received) until
// ReadyForQuery, returning the command tag if one was seen.
func drainToTagAfter(ctx context.Context, c *Conn, msg wireproto.BackendMessage) (CommandTag, error) {
	var tag CommandTag
	if cc, ok := msg.(wireproto.CommandComplete); ok {
		tag = CommandTag(cc.Tag)
	}
	if _, ok := msg.(wireproto.ReadyForQuery); ok {
		return tag, nil
	}
	for {
		m, err := c.receiveMessage(ctx)
		if err != nil {
			return tag, drainAndReraise(c, err)
		}
		switch mm := m.(type) {
		case wireproto.CommandComplete:
			tag = CommandTag(mm.Tag)
		case wireproto.ReadyForQuery:
			return tag, nil
		}
	}
}

func drainAndReraise(c *Conn, err error) error {
	if pgErr, ok := err.(*PgError); ok {
		if pgErr.Severity != "FATAL" && pgErr.Severity != "PANIC" {
			_ = c.restoreConnectionState()
		}
		return pgErr
	}
	return err
}

// CopyTo executes sql (expected to be a COPY ... TO STDOUT statement)
// and writes each received CopyData payload to w until ReadyForQuery.
// If w returns an error, a cancelRequest is issued and the operation
// waits for the server to acknowledge before re-raising w's error.
func (c *Conn) CopyTo(ctx context.Context, sql string, w io.Writer) (CommandTag, error) {
	if err := ctx.Err(); err != nil {
		return "", &Cancelled{}
	}
	if err := c.lock(); err != nil {
		return "", err
	}
	defer func() { _ = c.unlock() }()

	var buf []byte
	buf = wireproto.AppendQuery(buf, sql)
	if err := c.send(buf); err != nil {
		return "", err
	}

	var sinkErr error
	var tag CommandTag
	for {
		msg, err := c.receiveMessage(ctx)
		if err != nil {
			err = drainAndReraise(c, err)
			if sinkErr != nil {
				return tag, sinkErr
			}
			return tag, err
		}
		switch m := msg.(type) {
		case wireproto.CopyOutResponse:
			continue
		case wireproto.CopyData:
			if c.metrics != nil {
				c.metrics.CopyRows("out", 1)
			}
			if sinkErr == nil {
				if _, werr := w.Write(m.Data); werr != nil {
					sinkErr = werr
					c.cancelRequest(ctx)
				}
			}
		case wireproto.CopyDone:
			continue
		case wireproto.CommandComplete:
			tag = CommandTag(m.Tag)
		case wireproto.ReadyForQuery:
			if sinkErr != nil {
				return tag, sinkErr
			}
			return tag, nil
		}
	}
}
