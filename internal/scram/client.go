// Package scram implements the client side of SCRAM-SHA-256 SASL
// authentication (RFC 5802), decoupled from any socket or message framing.
// Callers drive the exchange by feeding server messages in and pulling
// client messages out; internal/wireproto and pgconn own the actual
// AuthenticationSASL* message plumbing.
package scram

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

// Mechanism is the SASL mechanism name this package implements.
const Mechanism = "SCRAM-SHA-256"

// gs2Header is the fixed GS2 header this client sends: no channel
// binding, no authzid. "biws" is the base64 encoding of "n,,".
const (
	gs2Header       = "n,,"
	gs2HeaderBase64 = "biws"
)

// Error is returned for any malformed server message or a failed proof
// verification. It always indicates the connection must be abandoned.
type Error struct {
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("scram: %s", e.Reason)
}

// Client drives one SCRAM-SHA-256 exchange. Zero value is not usable;
// construct with NewClient. A Client is used exactly once.
type Client struct {
	password string

	clientNonce string
	combinedNonce string

	clientFirstBare string
	serverFirstMsg  string

	saltedPassword []byte
	authMessage    string
}

// NewClient creates a Client for the given password. The nonce is
// generated from crypto/rand internally; tests that need a deterministic
// nonce should use newClientWithNonce.
func NewClient(password string) (*Client, error) {
	nonce, err := generateNonce()
	if err != nil {
		return nil, fmt.Errorf("scram: generating client nonce: %w", err)
	}
	return newClientWithNonce(password, nonce), nil
}

func newClientWithNonce(password, nonce string) *Client {
	return &Client{password: password, clientNonce: nonce}
}

func generateNonce() (string, error) {
	raw := make([]byte, 18)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// ClientFirstMessage returns the initial SASL client message
// (the "initial response" sent alongside the mechanism name).
func (c *Client) ClientFirstMessage() []byte {
	c.clientFirstBare = "n=,r=" + c.clientNonce
	return []byte(gs2Header + c.clientFirstBare)
}

// SetServerFirstMessage parses the server's first SASL message (the
// AuthenticationSASLContinue payload) and returns the client-final
// message to send next. It must be called exactly once, after
// ClientFirstMessage.
func (c *Client) SetServerFirstMessage(data []byte) ([]byte, error) {
	msg := string(data)
	nonce, salt, iterations, err := parseServerFirstMessage(msg)
	if err != nil {
		return nil, err
	}
	if !strings.HasPrefix(nonce, c.clientNonce) {
		return nil, &Error{Reason: "server nonce does not extend client nonce"}
	}

	c.serverFirstMsg = msg
	c.combinedNonce = nonce

	c.saltedPassword = pbkdf2.Key([]byte(c.password), salt, iterations, sha256.Size, sha256.New)

	clientKey := hmacSHA256(c.saltedPassword, []byte("Client Key"))
	storedKey := sha256Sum(clientKey)

	clientFinalWithoutProof := "c=" + gs2HeaderBase64 + ",r=" + c.combinedNonce
	c.authMessage = c.clientFirstBare + "," + c.serverFirstMsg + "," + clientFinalWithoutProof

	clientSignature := hmacSHA256(storedKey, []byte(c.authMessage))
	clientProof := xorBytes(clientKey, clientSignature)

	final := clientFinalWithoutProof + ",p=" + base64.StdEncoding.EncodeToString(clientProof)
	return []byte(final), nil
}

// VerifyServerFinalMessage validates the server's final SASL message
// (the AuthenticationSASLFinal payload) against the expected server
// signature, in constant time. Must be called after SetServerFirstMessage.
func (c *Client) VerifyServerFinalMessage(data []byte) error {
	msg := string(data)
	if !strings.HasPrefix(msg, "v=") {
		if strings.HasPrefix(msg, "e=") {
			return &Error{Reason: fmt.Sprintf("server reported SCRAM error: %s", msg[2:])}
		}
		return &Error{Reason: fmt.Sprintf("malformed server-final-message: %q", msg)}
	}
	gotSig, err := base64.StdEncoding.DecodeString(msg[2:])
	if err != nil {
		return &Error{Reason: "server-final-message signature is not valid base64"}
	}

	serverKey := hmacSHA256(c.saltedPassword, []byte("Server Key"))
	wantSig := hmacSHA256(serverKey, []byte(c.authMessage))

	if !hmac.Equal(gotSig, wantSig) {
		return &Error{Reason: "server signature verification failed"}
	}
	return nil
}

func parseServerFirstMessage(msg string) (nonce string, salt []byte, iterations int, err error) {
	for _, part := range strings.Split(msg, ",") {
		switch {
		case strings.HasPrefix(part, "r="):
			nonce = part[2:]
		case strings.HasPrefix(part, "s="):
			salt, err = base64.StdEncoding.DecodeString(part[2:])
			if err != nil {
				return "", nil, 0, &Error{Reason: "salt is not valid base64"}
			}
		case strings.HasPrefix(part, "i="):
			iterations, err = strconv.Atoi(part[2:])
			if err != nil {
				return "", nil, 0, &Error{Reason: "iteration count is not a valid integer"}
			}
		}
	}
	if nonce == "" || salt == nil || iterations <= 0 {
		return "", nil, 0, &Error{Reason: fmt.Sprintf("incomplete server-first-message: %q", msg)}
	}
	return nonce, salt, iterations, nil
}

func hmacSHA256(key, data []byte) []byte {
	h := hmac.New(sha256.New, key)
	h.Write(data)
	return h.Sum(nil)
}

func sha256Sum(data []byte) []byte {
	sum := sha256.Sum256(data)
	return sum[:]
}

func xorBytes(a, b []byte) []byte {
	out := make([]byte, len(a))
	for i := range a {
		out[i] = a[i] ^ b[i]
	}
	return out
}
