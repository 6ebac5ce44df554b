package pgconn

import (
	"context"

	"github.com/php-pg/pgconn/internal/wireproto"
)

const maxExtendedProtocolParams = 65535

// Exec sends sql as a simple-protocol Query, which may contain multiple
// statements separated by semicolons. The returned MultiResultReader
// must be consumed (NextResult/ReadAll) or Closed to release the
// connection.
func (c *Conn) Exec(ctx context.Context, sql string) (*MultiResultReader, error) {
	if err := ctx.Err(); err != nil {
		return nil, &Cancelled{}
	}
	if err := c.lock(); err != nil {
		return nil, err
	}

	var buf []byte
	buf = wireproto.AppendQuery(buf, sql)
	if err := c.send(buf); err != nil {
		_ = c.unlock()
		return nil, err
	}

	return newMultiResultReader(ctx, c), nil
}

// Prepare parses sql under stmtName and describes it, returning its
// parameter and result-column metadata. The lock is released before
// returning, whether or not an error occurred.
func (c *Conn) Prepare(ctx context.Context, stmtName, sql string, paramOIDs []uint32) (*StatementDescription, error) {
	if err := ctx.Err(); err != nil {
		return nil, &Cancelled{}
	}
	if err := c.lock(); err != nil {
		return nil, err
	}
	defer func() { _ = c.unlock() }()

	var buf []byte
	buf = wireproto.AppendParse(buf, stmtName, sql, paramOIDs)
	buf = wireproto.AppendDescribe(buf, wireproto.TargetStatement, stmtName)
	buf = wireproto.AppendSync(buf)
	if err := c.send(buf); err != nil {
		return nil, err
	}

	desc := &StatementDescription{Name: stmtName, SQL: sql}
	for {
		msg, err := c.receiveMessage(ctx)
		if err != nil {
			if pgErr, ok := err.(*PgError); ok {
				if pgErr.Severity != "FATAL" && pgErr.Severity != "PANIC" {
					_ = c.restoreConnectionState()
				}
				return nil, pgErr
			}
			return nil, err
		}
		switch m := msg.(type) {
		case wireproto.ParseComplete:
			continue
		case wireproto.ParameterDescription:
			desc.ParamOIDs = m.ParameterOIDs
		case wireproto.RowDescription:
			desc.FieldDescriptions = fieldDescriptionsFromWire(m.Fields)
		case wireproto.NoData:
			continue
		case wireproto.ReadyForQuery:
			return desc, nil
		}
	}
}

// ExecParams sends a Parse/Bind/Describe/Execute/Sync sequence for an
// unnamed statement and unnamed portal. The returned reader eagerly
// reads through to RowDescription or NoData before returning.
func (c *Conn) ExecParams(ctx context.Context, sql string, paramValues [][]byte, paramOIDs []uint32, paramFormats []int16, resultFormats []int16) (*ExtendedResultReader, error) {
	if err := validateExtendedParams(paramValues, paramFormats); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, &Cancelled{}
	}
	if err := c.lock(); err != nil {
		return nil, err
	}

	var buf []byte
	buf = wireproto.AppendParse(buf, "", sql, paramOIDs)
	buf = appendBindDescribeExecuteSync(buf, paramValues, paramFormats, resultFormats)
	if err := c.send(buf); err != nil {
		_ = c.unlock()
		return nil, err
	}

	rr := newExtendedResultReader(ctx, c)
	rr.readUntilRowDescription()
	return rr, rr.err
}

// ExecPrepared sends Bind/Describe/Execute/Sync against an
// already-prepared statement name.
func (c *Conn) ExecPrepared(ctx context.Context, stmtName string, paramValues [][]byte, paramFormats []int16, resultFormats []int16) (*ExtendedResultReader, error) {
	if err := validateExtendedParams(paramValues, paramFormats); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, &Cancelled{}
	}
	if err := c.lock(); err != nil {
		return nil, err
	}

	var buf []byte
	buf = appendBindDescribeExecuteSyncNamed(buf, stmtName, paramValues, paramFormats, resultFormats)
	if err := c.send(buf); err != nil {
		_ = c.unlock()
		return nil, err
	}

	rr := newExtendedResultReader(ctx, c)
	rr.readUntilRowDescription()
	return rr, rr.err
}

func validateExtendedParams(paramValues [][]byte, paramFormats []int16) error {
	if len(paramValues) > maxExtendedProtocolParams {
		return &InvalidArgument{Reason: "Extended protocol limited to 65535 parameters"}
	}
	if len(paramFormats) != 0 && len(paramFormats) != 1 && len(paramFormats) != len(paramValues) {
		return &InvalidArgument{Reason: "param_formats must have length 0, 1, or equal to the parameter count"}
	}
	return nil
}

func appendBindDescribeExecuteSync(buf []byte, paramValues [][]byte, paramFormats []int16, resultFormats []int16) []byte {
	return appendBindDescribeExecuteSyncNamed(buf, "", paramValues, paramFormats, resultFormats)
}

func appendBindDescribeExecuteSyncNamed(buf []byte, stmtName string, paramValues [][]byte, paramFormats []int16, resultFormats []int16) []byte {
	params := make([]wireproto.BindParam, len(paramValues))
	for i, v := range paramValues {
		fc := int16(0)
		switch {
		case len(paramFormats) == 1:
			fc = paramFormats[0]
		case len(paramFormats) == len(paramValues):
			fc = paramFormats[i]
		}
		params[i] = wireproto.BindParam{Value: v, FormatCode: fc}
	}
	buf = wireproto.AppendBind(buf, "", stmtName, params, resultFormats)
	buf = wireproto.AppendDescribe(buf, wireproto.TargetPortal, "")
	buf = wireproto.AppendExecute(buf, "", 0)
	buf = wireproto.AppendSync(buf)
	return buf
}
