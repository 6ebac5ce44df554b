package pgconn

import "github.com/php-pg/pgconn/internal/wireproto"

// StatementDescription is the result of Prepare: the server's account of
// a parsed statement's parameter types and result columns. Immutable
// once returned.
type StatementDescription struct {
	Name             string
	SQL              string
	ParamOIDs        []uint32
	FieldDescriptions []FieldDescription
}

// FieldDescription describes one result column. FormatCode is 0 for
// text, 1 for binary.
type FieldDescription struct {
	Name             string
	TableOID         uint32
	ColumnAttrNumber int16
	DataTypeOID      uint32
	DataTypeSize     int16
	TypeModifier     int32
	FormatCode       int16
}

func fieldDescriptionsFromWire(fields []wireproto.FieldDescription) []FieldDescription {
	out := make([]FieldDescription, len(fields))
	for i, f := range fields {
		out[i] = FieldDescription{
			Name:             f.Name,
			TableOID:         f.TableOID,
			ColumnAttrNumber: f.ColumnAttrNumber,
			DataTypeOID:      f.DataTypeOID,
			DataTypeSize:     f.DataTypeSize,
			TypeModifier:     f.TypeModifier,
			FormatCode:       f.FormatCode,
		}
	}
	return out
}

// CommandTag is the opaque textual tag a CommandComplete message
// carries, e.g. "SELECT 3" or "INSERT 0 1".
type CommandTag string

// RowsAffected parses the trailing decimal number off the tag. Returns 0
// for tags with no trailing count (e.g. "BEGIN", "CREATE TABLE").
func (t CommandTag) RowsAffected() int64 {
	s := string(t)
	i := len(s)
	for i > 0 && s[i-1] >= '0' && s[i-1] <= '9' {
		i--
	}
	if i == len(s) || (i > 0 && s[i-1] != ' ') {
		return 0
	}
	var n int64
	for _, c := range s[i:] {
		n = n*10 + int64(c-'0')
	}
	return n
}

// Notification is a LISTEN/NOTIFY event delivered asynchronously by the
// backend.
type Notification struct {
	PID     uint32
	Channel string
	Payload string
}

func pgErrorFromWireFields(f wireproto.ErrorFields) *PgError {
	return &PgError{
		Severity:         f.Severity,
		SQLState:         f.SQLState,
		Message:          f.Message,
		Detail:           f.Detail,
		Hint:             f.Hint,
		Position:         f.Position,
		InternalPosition: f.InternalPosition,
		InternalQuery:    f.InternalQuery,
		Where:            f.Where,
		Schema:           f.Schema,
		Table:            f.Table,
		Column:           f.Column,
		DataType:         f.DataType,
		Constraint:       f.Constraint,
		File:             f.File,
		Line:             f.Line,
		Routine:          f.Routine,
	}
}

func noticeFromWireFields(f wireproto.ErrorFields) *Notice {
	return (*Notice)(pgErrorFromWireFields(f))
}
