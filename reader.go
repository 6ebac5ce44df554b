package pgconn

import (
	"context"

	"github.com/php-pg/pgconn/internal/wireproto"
)

// Result is one statement's complete output: its row values (already
// collected) plus metadata. Produced only by MultiResultReader.ReadAll.
type Result struct {
	FieldDescriptions []FieldDescription
	Rows              [][][]byte
	CommandTag        CommandTag
	Err               error
}

// MultiResultReader advances over a simple-protocol Query that may
// contain multiple statements. It owns the connection's BUSY lock until
// Close (explicit or via draining to ReadyForQuery).
type MultiResultReader struct {
	conn *Conn
	ctx  context.Context

	closed  bool
	err     error
	partial []*Result

	current *ResultReaderSimple
}

func newMultiResultReader(ctx context.Context, conn *Conn) *MultiResultReader {
	return &MultiResultReader{conn: conn, ctx: ctx}
}

// NextResult advances to the next statement's result. It returns false
// when the query is complete (ReadyForQuery seen) or an error occurred;
// check Err after a false return.
func (mrr *MultiResultReader) NextResult() bool {
	if mrr.closed || mrr.err != nil {
		return false
	}
	if mrr.current != nil {
		// Caller moved on without closing the previous result reader;
		// drain it so the wire stays in sync.
		_, _ = mrr.current.Close()
		mrr.current = nil
	}

	for {
		msg, err := mrr.conn.receiveMessage(mrr.ctx)
		if err != nil {
			mrr.concludeWithError(err)
			return false
		}
		switch m := msg.(type) {
		case wireproto.RowDescription:
			mrr.current = newResultReaderSimple(mrr, fieldDescriptionsFromWire(m.Fields))
			return true
		case wireproto.CommandComplete:
			mrr.current = newResultReaderSimple(mrr, nil)
			mrr.current.closed = true
			mrr.current.commandTag = CommandTag(m.Tag)
			return true
		case wireproto.EmptyQueryResponse:
			mrr.current = newResultReaderSimple(mrr, nil)
			mrr.current.closed = true
			return true
		case wireproto.ReadyForQuery:
			mrr.closed = true
			_ = mrr.conn.unlock()
			return false
		}
	}
}

func (mrr *MultiResultReader) concludeWithError(err error) {
	if pgErr, ok := err.(*PgError); ok {
		mrr.err = pgErr
		if pgErr.Severity != "FATAL" && pgErr.Severity != "PANIC" {
			_ = mrr.conn.restoreConnectionState()
		}
		_ = mrr.conn.unlock()
		mrr.closed = true
		return
	}
	mrr.err = err
	mrr.closed = true
}

// ResultReader returns the reader for the result NextResult just
// advanced to.
func (mrr *MultiResultReader) ResultReader() *ResultReaderSimple {
	return mrr.current
}

// Err returns the error, if any, that ended iteration.
func (mrr *MultiResultReader) Err() error { return mrr.err }

// GetPartialResults returns whatever results ReadAll collected before it
// hit an error.
func (mrr *MultiResultReader) GetPartialResults() []*Result { return mrr.partial }

// Close drains any remaining results and releases the connection. Safe
// to call multiple times.
func (mrr *MultiResultReader) Close() error {
	for mrr.NextResult() {
	}
	return mrr.err
}

// ReadAll aggregates every result into a slice. On error, the results
// collected so far remain available via GetPartialResults.
func (mrr *MultiResultReader) ReadAll() ([]*Result, error) {
	var results []*Result
	for mrr.NextResult() {
		rr := mrr.ResultReader()
		res := &Result{FieldDescriptions: rr.FieldDescriptions()}
		for rr.NextRow() {
			res.Rows = append(res.Rows, rr.Values())
		}
		tag, err := rr.Close()
		res.CommandTag = tag
		res.Err = err
		results = append(results, res)
		mrr.partial = results
		if err != nil {
			break
		}
	}
	if mrr.err != nil {
		return results, mrr.err
	}
	return results, nil
}

// ResultReaderSimple wraps one statement's result within a
// MultiResultReader (simple protocol).
type ResultReaderSimple struct {
	mrr    *MultiResultReader
	fields []FieldDescription

	closed     bool
	commandTag CommandTag
	values     [][]byte
}

func newResultReaderSimple(mrr *MultiResultReader, fields []FieldDescription) *ResultReaderSimple {
	return &ResultReaderSimple{mrr: mrr, fields: fields}
}

// FieldDescriptions returns the result's column metadata, or nil for a
// result with no rows.
func (rr *ResultReaderSimple) FieldDescriptions() []FieldDescription { return rr.fields }

// NextRow advances to the next row, returning false when the result is
// exhausted (CommandComplete seen).
func (rr *ResultReaderSimple) NextRow() bool {
	if rr.closed {
		return false
	}
	msg, err := rr.mrr.conn.receiveMessage(rr.mrr.ctx)
	if err != nil {
		rr.mrr.concludeWithError(err)
		rr.closed = true
		return false
	}
	switch m := msg.(type) {
	case wireproto.DataRow:
		rr.values = m.Values
		return true
	case wireproto.CommandComplete:
		rr.commandTag = CommandTag(m.Tag)
		rr.closed = true
		return false
	default:
		// Unexpected message between rows; treat as protocol desync.
		rr.mrr.concludeWithError(&ProtocolError{Reason: "unexpected message while reading simple-protocol rows"})
		rr.closed = true
		return false
	}
}

// Values returns the current row's raw column values (nil entries are
// SQL NULL).
func (rr *ResultReaderSimple) Values() [][]byte { return rr.values }

// GetResult is an alias for Close kept for readers translating from the
// spec's get_result naming; it returns the command tag once the result
// is fully consumed.
func (rr *ResultReaderSimple) GetResult() (CommandTag, error) { return rr.Close() }

// GetCommandTag returns the tag recorded once the result has closed.
func (rr *ResultReaderSimple) GetCommandTag() CommandTag { return rr.commandTag }

// Close drains any unread rows (to CommandComplete) so the outer
// MultiResultReader stays usable, then returns the command tag.
func (rr *ResultReaderSimple) Close() (CommandTag, error) {
	for rr.NextRow() {
	}
	return rr.commandTag, rr.mrr.err
}

// ExtendedResultReader is the single-result reader produced by
// ExecParams/ExecPrepared (extended protocol).
type ExtendedResultReader struct {
	conn *Conn
	ctx  context.Context

	fields     []FieldDescription
	commandTag CommandTag
	values     [][]byte

	closed bool
	err    error
}

func newExtendedResultReader(ctx context.Context, conn *Conn) *ExtendedResultReader {
	return &ExtendedResultReader{conn: conn, ctx: ctx}
}

// readUntilRowDescription drains ParseComplete/BindComplete through to
// RowDescription or NoData, per spec §4.5.
func (rr *ExtendedResultReader) readUntilRowDescription() {
	for {
		msg, err := rr.conn.receiveMessage(rr.ctx)
		if err != nil {
			rr.concludeWithError(err)
			return
		}
		switch m := msg.(type) {
		case wireproto.ParseComplete, wireproto.BindComplete:
			continue
		case wireproto.RowDescription:
			rr.fields = fieldDescriptionsFromWire(m.Fields)
			return
		case wireproto.NoData:
			return
		case wireproto.EmptyQueryResponse:
			rr.drainToReadyForQuery()
			return
		case wireproto.CommandComplete:
			// Some servers may short-circuit straight to CommandComplete
			// for statements with no portal to describe.
			rr.commandTag = CommandTag(m.Tag)
			rr.drainToReadyForQuery()
			return
		default:
			rr.concludeWithError(&ProtocolError{Reason: "unexpected message before RowDescription/NoData"})
			return
		}
	}
}

// FieldDescriptions returns the result's column metadata.
func (rr *ExtendedResultReader) FieldDescriptions() []FieldDescription { return rr.fields }

// NextRow advances to the next row.
func (rr *ExtendedResultReader) NextRow() bool {
	if rr.closed || rr.err != nil {
		return false
	}
	msg, err := rr.conn.receiveMessage(rr.ctx)
	if err != nil {
		rr.concludeWithError(err)
		return false
	}
	switch m := msg.(type) {
	case wireproto.DataRow:
		rr.values = m.Values
		return true
	case wireproto.CommandComplete:
		rr.commandTag = CommandTag(m.Tag)
		return rr.drainToReadyForQuery()
	case wireproto.PortalSuspended:
		return rr.drainToReadyForQuery()
	case wireproto.EmptyQueryResponse:
		return rr.drainToReadyForQuery()
	default:
		rr.concludeWithError(&ProtocolError{Reason: "unexpected message while reading extended-protocol rows"})
		return false
	}
}

func (rr *ExtendedResultReader) drainToReadyForQuery() bool {
	for {
		msg, err := rr.conn.receiveMessage(rr.ctx)
		if err != nil {
			rr.concludeWithError(err)
			return false
		}
		if _, ok := msg.(wireproto.ReadyForQuery); ok {
			rr.closed = true
			_ = rr.conn.unlock()
			return false
		}
	}
}

func (rr *ExtendedResultReader) concludeWithError(err error) {
	if pgErr, ok := err.(*PgError); ok {
		rr.err = pgErr
		if pgErr.Severity != "FATAL" && pgErr.Severity != "PANIC" {
			_ = rr.conn.restoreConnectionState()
			_ = rr.conn.unlock()
		}
		rr.closed = true
		return
	}
	rr.err = err
	rr.closed = true
}

// Values returns the current row's raw column values.
func (rr *ExtendedResultReader) Values() [][]byte { return rr.values }

// Close drains to ReadyForQuery if not already there, releasing the
// connection, and returns the command tag and any error.
func (rr *ExtendedResultReader) Close() (CommandTag, error) {
	for !rr.closed && rr.err == nil {
		if !rr.NextRow() {
			break
		}
	}
	if !rr.closed && rr.err == nil {
		rr.drainToReadyForQuery()
	}
	return rr.commandTag, rr.err
}
