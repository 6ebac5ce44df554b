package wireproto

import "encoding/binary"

// Frontend message type bytes.
const (
	byteQuery           = 'Q'
	byteParse           = 'P'
	byteBind            = 'B'
	byteDescribe        = 'D'
	byteExecute         = 'E'
	byteSync            = 'S'
	byteClose           = 'C'
	byteTerminate       = 'X'
	byteCopyDataOut     = 'd'
	byteCopyDoneOut     = 'c'
	byteCopyFail        = 'f'
	bytePasswordMessage = 'p'
)

// DescribeTarget / CloseTarget select between statement ('S') and portal
// ('P') for Describe and Close messages.
const (
	TargetStatement = 'S'
	TargetPortal    = 'P'
)

// appendMessage writes a standard 1-byte-type + 4-byte-length + body
// frame to dst and returns the extended slice.
func appendMessage(dst []byte, msgType byte, body []byte) []byte {
	dst = append(dst, msgType)
	dst = appendInt32(dst, int32(len(body)+4))
	dst = append(dst, body...)
	return dst
}

func appendInt32(dst []byte, n int32) []byte {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], uint32(n))
	return append(dst, buf[:]...)
}

func appendInt16(dst []byte, n int16) []byte {
	var buf [2]byte
	binary.BigEndian.PutUint16(buf[:], uint16(n))
	return append(dst, buf[:]...)
}

func appendCString(dst []byte, s string) []byte {
	dst = append(dst, s...)
	return append(dst, 0)
}

// AppendStartupMessage appends a StartupMessage. params must contain the
// well-known keys (user, database, ...) already resolved by the caller;
// order is preserved as given.
func AppendStartupMessage(dst []byte, params []KV) []byte {
	start := len(dst)
	dst = appendInt32(dst, 0) // placeholder length
	dst = appendInt32(dst, ProtocolVersion)
	for _, kv := range params {
		dst = appendCString(dst, kv.Key)
		dst = appendCString(dst, kv.Value)
	}
	dst = append(dst, 0)
	binary.BigEndian.PutUint32(dst[start:start+4], uint32(len(dst)-start))
	return dst
}

// KV is an ordered key/value pair, used for StartupMessage parameters.
type KV struct {
	Key   string
	Value string
}

// AppendSSLRequest appends the SSLRequest sentinel (no message type byte —
// it is sent before the protocol proper begins).
func AppendSSLRequest(dst []byte) []byte {
	dst = appendInt32(dst, 8)
	dst = appendInt32(dst, SSLRequestCode)
	return dst
}

// AppendCancelRequest appends a CancelRequest, sent on a fresh secondary
// socket (no message type byte, like SSLRequest).
func AppendCancelRequest(dst []byte, pid, secretKey uint32) []byte {
	dst = appendInt32(dst, 16)
	dst = appendInt32(dst, CancelRequestCode)
	dst = appendInt32(dst, int32(pid))
	dst = appendInt32(dst, int32(secretKey))
	return dst
}

// AppendPasswordMessage appends a cleartext or MD5-hashed password
// response to an Authentication request.
func AppendPasswordMessage(dst []byte, password string) []byte {
	return appendMessage(dst, bytePasswordMessage, appendCString(nil, password))
}

// AppendSASLInitialResponse appends the first SASL client message.
func AppendSASLInitialResponse(dst []byte, mechanism string, data []byte) []byte {
	body := appendCString(nil, mechanism)
	body = appendInt32(body, int32(len(data)))
	body = append(body, data...)
	return appendMessage(dst, bytePasswordMessage, body)
}

// AppendSASLResponse appends a subsequent SASL client message (no
// mechanism name, no length prefix — just the raw response bytes).
func AppendSASLResponse(dst []byte, data []byte) []byte {
	return appendMessage(dst, bytePasswordMessage, data)
}

// AppendQuery appends a simple-protocol Query message.
func AppendQuery(dst []byte, sql string) []byte {
	return appendMessage(dst, byteQuery, appendCString(nil, sql))
}

// AppendParse appends a Parse message. paramOIDs may be empty to let the
// backend infer types.
func AppendParse(dst []byte, stmtName, sql string, paramOIDs []uint32) []byte {
	body := appendCString(nil, stmtName)
	body = appendCString(body, sql)
	body = appendInt16(body, int16(len(paramOIDs)))
	for _, oid := range paramOIDs {
		body = appendInt32(body, int32(oid))
	}
	return appendMessage(dst, byteParse, body)
}

// BindParam is one bound parameter value; nil Value means SQL NULL.
type BindParam struct {
	Value      []byte
	FormatCode int16 // 0 = text, 1 = binary
}

// AppendBind appends a Bind message binding paramFormats/params to
// portalName from stmtName, requesting resultFormats for the resulting
// row descriptions (empty resultFormats means "all text").
func AppendBind(dst []byte, portalName, stmtName string, params []BindParam, resultFormats []int16) []byte {
	body := appendCString(nil, portalName)
	body = appendCString(body, stmtName)

	body = appendInt16(body, int16(len(params)))
	for _, p := range params {
		body = appendInt16(body, p.FormatCode)
	}

	body = appendInt16(body, int16(len(params)))
	for _, p := range params {
		if p.Value == nil {
			body = appendInt32(body, -1)
			continue
		}
		body = appendInt32(body, int32(len(p.Value)))
		body = append(body, p.Value...)
	}

	body = appendInt16(body, int16(len(resultFormats)))
	for _, f := range resultFormats {
		body = appendInt16(body, f)
	}

	return appendMessage(dst, byteBind, body)
}

// AppendDescribe appends a Describe message for a statement or portal.
// target must be TargetStatement or TargetPortal.
func AppendDescribe(dst []byte, target byte, name string) []byte {
	body := append([]byte{target}, appendCString(nil, name)...)
	return appendMessage(dst, byteDescribe, body)
}

// AppendExecute appends an Execute message. maxRows of 0 means "no limit".
func AppendExecute(dst []byte, portalName string, maxRows int32) []byte {
	body := appendCString(nil, portalName)
	body = appendInt32(body, maxRows)
	return appendMessage(dst, byteExecute, body)
}

// AppendSync appends a Sync message.
func AppendSync(dst []byte) []byte {
	return appendMessage(dst, byteSync, nil)
}

// AppendClose appends a Close message for a statement or portal.
func AppendClose(dst []byte, target byte, name string) []byte {
	body := append([]byte{target}, appendCString(nil, name)...)
	return appendMessage(dst, byteClose, body)
}

// AppendTerminate appends a Terminate message.
func AppendTerminate(dst []byte) []byte {
	return appendMessage(dst, byteTerminate, nil)
}

// AppendCopyData appends a CopyData message carrying data as-is.
func AppendCopyData(dst []byte, data []byte) []byte {
	return appendMessage(dst, byteCopyDataOut, data)
}

// AppendCopyDone appends a CopyDone message.
func AppendCopyDone(dst []byte) []byte {
	return appendMessage(dst, byteCopyDoneOut, nil)
}

// AppendCopyFail appends a CopyFail message carrying a human-readable
// reason the client aborted the COPY.
func AppendCopyFail(dst []byte, reason string) []byte {
	return appendMessage(dst, byteCopyFail, appendCString(nil, reason))
}
