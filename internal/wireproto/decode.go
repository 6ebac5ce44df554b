package wireproto

import (
	"encoding/binary"
	"fmt"
)

// byteSource is satisfied by *chunkreader.Reader. Defined locally to avoid
// a hard dependency from wireproto on chunkreader's concrete type.
type byteSource interface {
	Next(n int) ([]byte, error)
}

// Decoder decodes backend messages from a byteSource. It holds no socket
// state of its own: cancellation, retry, and side effects belong to the
// caller (pgconn.Conn.receiveMessage).
type Decoder struct {
	src byteSource
}

// NewDecoder wraps a byteSource (normally a *chunkreader.Reader over the
// connection socket).
func NewDecoder(src byteSource) *Decoder {
	return &Decoder{src: src}
}

// Receive reads and decodes the next backend message. It blocks until a
// full message is available. Any error from src (including io.EOF) is
// returned unwrapped so the caller can distinguish network errors from
// protocol errors; a *ProtocolError is returned when decoding fails after
// the type+length header was already consumed (the most dangerous case,
// since bytes have already been taken off the wire).
func (d *Decoder) Receive() (BackendMessage, error) {
	header, err := d.src.Next(5)
	if err != nil {
		return nil, err
	}

	msgType := header[0]
	bodyLen := int(binary.BigEndian.Uint32(header[1:5])) - 4
	if bodyLen < 0 {
		return nil, &ProtocolError{Reason: fmt.Sprintf("negative message length %d for type %q", bodyLen, msgType)}
	}

	body, err := d.src.Next(bodyLen)
	if err != nil {
		return nil, err
	}

	return decodeBody(msgType, body)
}

func decodeBody(msgType byte, body []byte) (BackendMessage, error) {
	switch msgType {
	case byteAuthentication:
		return decodeAuthentication(body)
	case byteBackendKeyData:
		return decodeBackendKeyData(body)
	case byteParameterStatus:
		return decodeParameterStatus(body)
	case byteReadyForQuery:
		return decodeReadyForQuery(body)
	case byteRowDescription:
		return decodeRowDescription(body)
	case byteDataRow:
		return decodeDataRow(body)
	case byteCommandComplete:
		return decodeCommandComplete(body)
	case byteEmptyQuery:
		return EmptyQueryResponse{}, nil
	case byteParameterDesc:
		return decodeParameterDescription(body)
	case byteParseComplete:
		return ParseComplete{}, nil
	case byteBindComplete:
		return BindComplete{}, nil
	case byteCloseComplete:
		return CloseComplete{}, nil
	case byteNoData:
		return NoData{}, nil
	case bytePortalSuspended:
		return PortalSuspended{}, nil
	case byteNoticeResponse:
		fields, err := decodeErrorFields(body)
		if err != nil {
			return nil, err
		}
		return NoticeResponse{Fields: fields}, nil
	case byteNotification:
		return decodeNotification(body)
	case byteErrorResponse:
		fields, err := decodeErrorFields(body)
		if err != nil {
			return nil, err
		}
		return ErrorResponse{Fields: fields}, nil
	case byteCopyInResponse:
		return decodeCopyResponse(body, true)
	case byteCopyOutResponse:
		return decodeCopyResponse(body, false)
	case byteCopyData:
		buf := make([]byte, len(body))
		copy(buf, body)
		return CopyData{Data: buf}, nil
	case byteCopyDone:
		return CopyDone{}, nil
	default:
		return nil, &ProtocolError{Reason: fmt.Sprintf("unrecognized backend message type %q", msgType)}
	}
}

func decodeAuthentication(body []byte) (BackendMessage, error) {
	if len(body) < 4 {
		return nil, &ProtocolError{Reason: "authentication message too short"}
	}
	code := binary.BigEndian.Uint32(body[:4])
	rest := body[4:]
	switch code {
	case AuthTypeOk:
		return AuthenticationOk{}, nil
	case AuthTypeCleartextPassword:
		return AuthenticationCleartextPassword{}, nil
	case AuthTypeMD5Password:
		if len(rest) < 4 {
			return nil, &ProtocolError{Reason: "AuthenticationMD5Password missing salt"}
		}
		var salt [4]byte
		copy(salt[:], rest[:4])
		return AuthenticationMD5Password{Salt: salt}, nil
	case AuthTypeSASL:
		mechs := splitNullTerminatedStrings(rest)
		return AuthenticationSASL{Mechanisms: mechs}, nil
	case AuthTypeSASLContinue:
		data := make([]byte, len(rest))
		copy(data, rest)
		return AuthenticationSASLContinue{Data: data}, nil
	case AuthTypeSASLFinal:
		data := make([]byte, len(rest))
		copy(data, rest)
		return AuthenticationSASLFinal{Data: data}, nil
	default:
		return nil, &ProtocolError{Reason: fmt.Sprintf("unrecognized authentication subtype %d", code)}
	}
}

func decodeBackendKeyData(body []byte) (BackendMessage, error) {
	if len(body) < 8 {
		return nil, &ProtocolError{Reason: "BackendKeyData too short"}
	}
	return BackendKeyData{
		PID:       binary.BigEndian.Uint32(body[0:4]),
		SecretKey: binary.BigEndian.Uint32(body[4:8]),
	}, nil
}

func decodeParameterStatus(body []byte) (BackendMessage, error) {
	name, rest, ok := readCString(body)
	if !ok {
		return nil, &ProtocolError{Reason: "ParameterStatus missing name terminator"}
	}
	value, _, ok := readCString(rest)
	if !ok {
		return nil, &ProtocolError{Reason: "ParameterStatus missing value terminator"}
	}
	return ParameterStatus{Name: name, Value: value}, nil
}

func decodeReadyForQuery(body []byte) (BackendMessage, error) {
	if len(body) < 1 {
		return nil, &ProtocolError{Reason: "ReadyForQuery missing status byte"}
	}
	return ReadyForQuery{TxStatus: body[0]}, nil
}

func decodeRowDescription(body []byte) (BackendMessage, error) {
	if len(body) < 2 {
		return nil, &ProtocolError{Reason: "RowDescription too short"}
	}
	count := int(binary.BigEndian.Uint16(body[:2]))
	body = body[2:]
	fields := make([]FieldDescription, 0, count)
	for i := 0; i < count; i++ {
		name, rest, ok := readCString(body)
		if !ok {
			return nil, &ProtocolError{Reason: "RowDescription field name truncated"}
		}
		if len(rest) < 18 {
			return nil, &ProtocolError{Reason: "RowDescription field truncated"}
		}
		fd := FieldDescription{
			Name:             name,
			TableOID:         binary.BigEndian.Uint32(rest[0:4]),
			ColumnAttrNumber: int16(binary.BigEndian.Uint16(rest[4:6])),
			DataTypeOID:      binary.BigEndian.Uint32(rest[6:10]),
			DataTypeSize:     int16(binary.BigEndian.Uint16(rest[10:12])),
			TypeModifier:     int32(binary.BigEndian.Uint32(rest[12:16])),
			FormatCode:       int16(binary.BigEndian.Uint16(rest[16:18])),
		}
		fields = append(fields, fd)
		body = rest[18:]
	}
	return RowDescription{Fields: fields}, nil
}

func decodeDataRow(body []byte) (BackendMessage, error) {
	if len(body) < 2 {
		return nil, &ProtocolError{Reason: "DataRow too short"}
	}
	count := int(binary.BigEndian.Uint16(body[:2]))
	body = body[2:]
	values := make([][]byte, count)
	for i := 0; i < count; i++ {
		if len(body) < 4 {
			return nil, &ProtocolError{Reason: "DataRow column length truncated"}
		}
		n := int32(binary.BigEndian.Uint32(body[:4]))
		body = body[4:]
		if n < 0 {
			values[i] = nil
			continue
		}
		if len(body) < int(n) {
			return nil, &ProtocolError{Reason: "DataRow column value truncated"}
		}
		buf := make([]byte, n)
		copy(buf, body[:n])
		values[i] = buf
		body = body[n:]
	}
	return DataRow{Values: values}, nil
}

func decodeCommandComplete(body []byte) (BackendMessage, error) {
	tag, _, ok := readCString(body)
	if !ok {
		// Some backends omit the trailing NUL on truncated/odd payloads;
		// treat the whole body as the tag rather than failing the connection.
		tag = string(body)
	}
	return CommandComplete{Tag: tag}, nil
}

func decodeParameterDescription(body []byte) (BackendMessage, error) {
	if len(body) < 2 {
		return nil, &ProtocolError{Reason: "ParameterDescription too short"}
	}
	count := int(binary.BigEndian.Uint16(body[:2]))
	body = body[2:]
	if len(body) < count*4 {
		return nil, &ProtocolError{Reason: "ParameterDescription truncated"}
	}
	oids := make([]uint32, count)
	for i := 0; i < count; i++ {
		oids[i] = binary.BigEndian.Uint32(body[i*4 : i*4+4])
	}
	return ParameterDescription{ParameterOIDs: oids}, nil
}

func decodeNotification(body []byte) (BackendMessage, error) {
	if len(body) < 4 {
		return nil, &ProtocolError{Reason: "NotificationResponse too short"}
	}
	pid := binary.BigEndian.Uint32(body[:4])
	channel, rest, ok := readCString(body[4:])
	if !ok {
		return nil, &ProtocolError{Reason: "NotificationResponse channel truncated"}
	}
	payload, _, ok := readCString(rest)
	if !ok {
		return nil, &ProtocolError{Reason: "NotificationResponse payload truncated"}
	}
	return NotificationResponse{PID: pid, Channel: channel, Payload: payload}, nil
}

func decodeCopyResponse(body []byte, in bool) (BackendMessage, error) {
	if len(body) < 3 {
		return nil, &ProtocolError{Reason: "copy response too short"}
	}
	format := body[0]
	count := int(binary.BigEndian.Uint16(body[1:3]))
	body = body[3:]
	if len(body) < count*2 {
		return nil, &ProtocolError{Reason: "copy response column formats truncated"}
	}
	cols := make([]int16, count)
	for i := 0; i < count; i++ {
		cols[i] = int16(binary.BigEndian.Uint16(body[i*2 : i*2+2]))
	}
	if in {
		return CopyInResponse{OverallFormat: format, ColumnFormats: cols}, nil
	}
	return CopyOutResponse{OverallFormat: format, ColumnFormats: cols}, nil
}

func decodeErrorFields(body []byte) (ErrorFields, error) {
	var f ErrorFields
	for len(body) > 0 {
		code := body[0]
		if code == 0 {
			break
		}
		body = body[1:]
		value, rest, ok := readCString(body)
		if !ok {
			return f, &ProtocolError{Reason: "error field value truncated"}
		}
		body = rest
		switch code {
		case FieldSeverity:
			f.Severity = value
		case FieldSQLState:
			f.SQLState = value
		case FieldMessage:
			f.Message = value
		case FieldDetail:
			f.Detail = value
		case FieldHint:
			f.Hint = value
		case FieldPosition:
			f.Position = parseInt32(value)
		case FieldInternalPosition:
			f.InternalPosition = parseInt32(value)
		case FieldInternalQuery:
			f.InternalQuery = value
		case FieldWhere:
			f.Where = value
		case FieldSchema:
			f.Schema = value
		case FieldTable:
			f.Table = value
		case FieldColumn:
			f.Column = value
		case FieldDataType:
			f.DataType = value
		case FieldConstraint:
			f.Constraint = value
		case FieldFile:
			f.File = value
		case FieldLine:
			f.Line = parseInt32(value)
		case FieldRoutine:
			f.Routine = value
		}
	}
	return f, nil
}

func parseInt32(s string) int32 {
	var n int32
	neg := false
	for i, c := range s {
		if i == 0 && c == '-' {
			neg = true
			continue
		}
		if c < '0' || c > '9' {
			return 0
		}
		n = n*10 + int32(c-'0')
	}
	if neg {
		n = -n
	}
	return n
}

// readCString reads a NUL-terminated string from buf, returning the
// string, the remaining bytes after the terminator, and whether a
// terminator was found.
func readCString(buf []byte) (string, []byte, bool) {
	for i, b := range buf {
		if b == 0 {
			return string(buf[:i]), buf[i+1:], true
		}
	}
	return "", nil, false
}

func splitNullTerminatedStrings(buf []byte) []string {
	var out []string
	for len(buf) > 0 {
		s, rest, ok := readCString(buf)
		if !ok {
			break
		}
		if s != "" {
			out = append(out, s)
		}
		buf = rest
	}
	return out
}
