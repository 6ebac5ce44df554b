package pgconn

import (
	"crypto/md5" //nolint:gosec // PostgreSQL's MD5 auth method is defined in terms of MD5
	"encoding/hex"
)

// md5Password computes the PasswordMessage payload for
// AuthenticationMD5Password: "md5" || md5hex(md5hex(password||user)||salt).
func md5Password(user, password string, salt [4]byte) string {
	inner := md5Hex([]byte(password + user))
	outer := md5Hex(append([]byte(inner), salt[:]...))
	return "md5" + outer
}

func md5Hex(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}
