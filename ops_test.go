package pgconn

import (
	"context"
	"errors"
	"testing"
)

func TestExecParamsHelloWorld(t *testing.T) {
	c, srv := newPipeConn(t, Config{})
	go func() {
		msgType, _ := readFrontendFrame(t, srv) // Parse
		if msgType != 'P' {
			t.Errorf("expected Parse, got %q", msgType)
		}
		readFrontendFrame(t, srv) // Bind
		readFrontendFrame(t, srv) // Describe
		readFrontendFrame(t, srv) // Execute
		readFrontendFrame(t, srv) // Sync

		writeFrames(t, srv,
			beParseComplete(),
			beBindComplete(),
			beRowDescription(beField{name: "msg", oid: 25}),
			beDataRow([]byte("Hello, world")),
			beCommandComplete("SELECT 1"),
			beReadyForQuery('I'),
		)
	}()

	rr, err := c.ExecParams(context.Background(), "select $1::text as msg",
		[][]byte{[]byte("Hello, world")}, nil, nil, nil)
	if err != nil {
		t.Fatalf("ExecParams: %v", err)
	}
	if len(rr.FieldDescriptions()) != 1 || rr.FieldDescriptions()[0].Name != "msg" {
		t.Fatalf("unexpected fields: %+v", rr.FieldDescriptions())
	}
	if !rr.NextRow() {
		t.Fatalf("expected a row")
	}
	if got := string(rr.Values()[0]); got != "Hello, world" {
		t.Fatalf("unexpected value %q", got)
	}
	tag, err := rr.Close()
	if err != nil || tag != "SELECT 1" {
		t.Fatalf("unexpected Close: tag=%q err=%v", tag, err)
	}
	if c.status.Load() != int32(statusIdle) {
		t.Fatalf("expected IDLE after ExecParams, status=%d", c.status.Load())
	}
}

// TestParameterLimit exercises spec.md §8's universal property: more than
// 65535 bound parameters is rejected client-side, with no bytes touching
// the wire (no fake backend goroutine is needed here at all).
func TestParameterLimit(t *testing.T) {
	c, _ := newPipeConn(t, Config{})

	tooMany := make([][]byte, maxExtendedProtocolParams+1)
	_, err := c.ExecParams(context.Background(), "select 1", tooMany, nil, nil, nil)
	var invalidArg *InvalidArgument
	if !errors.As(err, &invalidArg) {
		t.Fatalf("expected InvalidArgument, got %v", err)
	}
	if invalidArg.Reason != "Extended protocol limited to 65535 parameters" {
		t.Fatalf("unexpected reason: %q", invalidArg.Reason)
	}
	if c.status.Load() != int32(statusIdle) {
		t.Fatalf("rejecting a param count must not touch the lock, status=%d", c.status.Load())
	}
}

func TestParamFormatsLengthValidation(t *testing.T) {
	c, _ := newPipeConn(t, Config{})

	_, err := c.ExecParams(context.Background(), "select $1, $2",
		[][]byte{[]byte("a"), []byte("b")}, nil, []int16{0, 1, 1}, nil)
	var invalidArg *InvalidArgument
	if !errors.As(err, &invalidArg) {
		t.Fatalf("expected InvalidArgument for mismatched param_formats length, got %v", err)
	}
}

// TestPrepareSyntaxErrorLeavesConnectionUsable exercises spec.md §8
// scenario 4: a failed Prepare still releases the lock and leaves the
// connection usable.
func TestPrepareSyntaxErrorLeavesConnectionUsable(t *testing.T) {
	c, srv := newPipeConn(t, Config{})
	go func() {
		readFrontendFrame(t, srv) // Parse
		readFrontendFrame(t, srv) // Describe
		readFrontendFrame(t, srv) // Sync
		writeFrames(t, srv,
			beErrorResponse("ERROR", "42601", "syntax error at or near \"SYNTAX\""),
			beReadyForQuery('I'),
		)
	}()

	_, err := c.Prepare(context.Background(), "ps1", "SYNTAX ERROR", nil)
	var pgErr *PgError
	if !errors.As(err, &pgErr) || pgErr.SQLState != "42601" {
		t.Fatalf("expected PgError{SQLState:42601}, got %v", err)
	}
	if c.status.Load() != int32(statusIdle) {
		t.Fatalf("expected IDLE after a failed Prepare, status=%d", c.status.Load())
	}
}

// TestExecParamsEmptyQuery exercises spec.md §4.5's EmptyQueryResponse
// path: ParseComplete, BindComplete, NoData, EmptyQueryResponse,
// ReadyForQuery must yield a zero-row result and leave the connection
// IDLE, not a spurious ProtocolError with the lock stuck BUSY.
func TestExecParamsEmptyQuery(t *testing.T) {
	c, srv := newPipeConn(t, Config{})
	go func() {
		readFrontendFrame(t, srv) // Parse
		readFrontendFrame(t, srv) // Bind
		readFrontendFrame(t, srv) // Describe
		readFrontendFrame(t, srv) // Execute
		readFrontendFrame(t, srv) // Sync

		writeFrames(t, srv,
			beParseComplete(),
			beBindComplete(),
			beNoData(),
			beEmptyQueryResponse(),
			beReadyForQuery('I'),
		)
	}()

	rr, err := c.ExecParams(context.Background(), "", nil, nil, nil, nil)
	if err != nil {
		t.Fatalf("ExecParams: %v", err)
	}
	if rr.NextRow() {
		t.Fatalf("expected no rows for an empty query")
	}
	tag, err := rr.Close()
	if err != nil || tag != "" {
		t.Fatalf("unexpected Close: tag=%q err=%v", tag, err)
	}
	if c.status.Load() != int32(statusIdle) {
		t.Fatalf("expected IDLE after an empty query, status=%d", c.status.Load())
	}
}

func TestCommandTagRowsAffected(t *testing.T) {
	cases := []struct {
		tag  CommandTag
		want int64
	}{
		{"SELECT 3", 3},
		{"INSERT 0 1", 1},
		{"UPDATE 42", 42},
		{"DELETE 0", 0},
		{"BEGIN", 0},
		{"CREATE TABLE", 0},
		{"COPY 1000", 1000},
		{"", 0},
	}
	for _, c := range cases {
		if got := c.tag.RowsAffected(); got != c.want {
			t.Errorf("CommandTag(%q).RowsAffected() = %d, want %d", c.tag, got, c.want)
		}
	}
}
