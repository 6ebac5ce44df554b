package pgconn

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/php-pg/pgconn/internal/chunkreader"
	"github.com/php-pg/pgconn/internal/scram"
	"github.com/php-pg/pgconn/internal/wireproto"
)

const (
	maxAuthIterations      = 5
	maxParamIngestionLoops = 1000
)

// Connect iterates cfg.Hosts in order and returns the first successful
// connection. Authentication failures (SQLSTATE 28P01/28000) abort the
// whole attempt immediately; any other failure advances to the next
// host.
func Connect(ctx context.Context, cfg Config) (*Conn, error) {
	cfg = cfg.withDefaults()
	if len(cfg.Hosts) == 0 {
		return nil, &ConnectError{Reason: "Config.Hosts must contain at least one host"}
	}
	if cfg.User == "" {
		return nil, &ConnectError{Reason: "Config.User is required"}
	}

	var lastErr error
	for _, host := range cfg.Hosts {
		conn, err := connectOne(ctx, cfg, host)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		if isAuthFailure(err) {
			return nil, err
		}
	}
	return nil, lastErr
}

func isAuthFailure(err error) bool {
	ce, ok := err.(*ConnectError)
	if !ok || ce.Err == nil {
		return false
	}
	pgErr, ok := ce.Err.(*PgError)
	if !ok {
		return false
	}
	return pgErr.SQLState == "28P01" || pgErr.SQLState == "28000"
}

func connectOne(ctx context.Context, cfg Config, host HostConfig) (*Conn, error) {
	ctx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	network, addr := dialTarget(host)
	hostLabel := addr

	var dialer net.Dialer
	netConn, err := dialer.DialContext(ctx, network, addr)
	if err != nil {
		return nil, &ConnectError{Host: hostLabel, Reason: "dial", Err: err}
	}

	if host.TLSConfig != nil {
		netConn, err = negotiateTLS(ctx, netConn, host.TLSConfig, host.AllowPlaintextFallback, hostLabel)
		if err != nil {
			return nil, err
		}
	}

	c := &Conn{
		netConn:    netConn,
		cfg:        cfg,
		logger:     cfg.Logger,
		metrics:    cfg.Metrics,
		params:     make(map[string]string),
		network:    network,
		remoteAddr: addr,
	}
	c.cr = chunkreader.New(netConn, cfg.MinReadBufferSize)
	c.dec = wireproto.NewDecoder(c.cr)
	c.status.Store(int32(statusIdle))

	if err := sendStartupMessage(c, cfg, host); err != nil {
		_ = netConn.Close()
		return nil, &ConnectError{Host: hostLabel, Reason: "sending StartupMessage", Err: err}
	}

	if err := runAuthLoop(ctx, c, cfg.User, host.Password); err != nil {
		_ = netConn.Close()
		return nil, &ConnectError{Host: hostLabel, Reason: "authentication", Err: err}
	}

	if err := ingestStartupParameters(ctx, c); err != nil {
		_ = netConn.Close()
		return nil, &ConnectError{Host: hostLabel, Reason: "reading startup parameters", Err: err}
	}

	if cfg.AfterConnect != nil {
		if err := cfg.AfterConnect(c); err != nil {
			_ = c.Close()
			return nil, &ConnectError{Host: hostLabel, Reason: "after_connect hook", Err: err}
		}
	}

	if cfg.ValidateConnect != nil {
		if err := cfg.ValidateConnect(c); err != nil {
			_ = c.Close()
			return nil, &ConnectError{Host: hostLabel, Reason: "validate_connect hook", Err: err}
		}
	}

	return c, nil
}

func dialTarget(host HostConfig) (network, addr string) {
	if strings.HasPrefix(host.Host, "/") {
		port := host.Port
		if port == 0 {
			port = 5432
		}
		return "unix", host.Host + "/.s.PGSQL." + strconv.Itoa(port)
	}
	return "tcp", net.JoinHostPort(host.Host, strconv.Itoa(host.Port))
}

func sendStartupMessage(c *Conn, cfg Config, host HostConfig) error {
	params := []wireproto.KV{{Key: "user", Value: cfg.User}}
	if cfg.Database != "" {
		params = append(params, wireproto.KV{Key: "database", Value: cfg.Database})
	}
	for k, v := range cfg.RuntimeParams {
		params = append(params, wireproto.KV{Key: k, Value: v})
	}
	var buf []byte
	buf = wireproto.AppendStartupMessage(buf, params)
	return c.send(buf)
}

// runAuthLoop drives the authentication exchange, bounded at
// maxAuthIterations per spec §4.3 to prevent infinite recursion on a
// misbehaving or adversarial backend.
func runAuthLoop(ctx context.Context, c *Conn, user, password string) error {
	for i := 0; i < maxAuthIterations; i++ {
		msg, err := c.receiveMessage(ctx)
		if err != nil {
			return err
		}

		switch m := msg.(type) {
		case wireproto.AuthenticationOk:
			return nil
		case wireproto.AuthenticationCleartextPassword:
			var buf []byte
			buf = wireproto.AppendPasswordMessage(buf, password)
			if err := c.send(buf); err != nil {
				return err
			}
		case wireproto.AuthenticationMD5Password:
			var buf []byte
			buf = wireproto.AppendPasswordMessage(buf, md5Password(user, password, m.Salt))
			if err := c.send(buf); err != nil {
				return err
			}
		case wireproto.AuthenticationSASL:
			if err := runSCRAMExchange(ctx, c, password, m.Mechanisms); err != nil {
				return err
			}
			// runSCRAMExchange consumes through AuthenticationSASLFinal;
			// the next loop iteration expects AuthenticationOk.
		default:
			return fmt.Errorf("unexpected message during authentication: %T", msg)
		}
	}
	return fmt.Errorf("authentication did not complete within %d messages", maxAuthIterations)
}

func runSCRAMExchange(ctx context.Context, c *Conn, password string, mechanisms []string) error {
	found := false
	for _, m := range mechanisms {
		if m == scram.Mechanism {
			found = true
			break
		}
	}
	if !found {
		return &SaslError{Err: fmt.Errorf("server does not offer %s, offered: %v", scram.Mechanism, mechanisms)}
	}

	client, err := scram.NewClient(password)
	if err != nil {
		return &SaslError{Err: err}
	}

	var buf []byte
	buf = wireproto.AppendSASLInitialResponse(buf, scram.Mechanism, client.ClientFirstMessage())
	if err := c.send(buf); err != nil {
		return err
	}

	msg, err := c.receiveMessage(ctx)
	if err != nil {
		return err
	}
	cont, ok := msg.(wireproto.AuthenticationSASLContinue)
	if !ok {
		return &SaslError{Err: fmt.Errorf("expected AuthenticationSASLContinue, got %T", msg)}
	}

	final, err := client.SetServerFirstMessage(cont.Data)
	if err != nil {
		return &SaslError{Err: err}
	}

	buf = buf[:0]
	buf = wireproto.AppendSASLResponse(buf, final)
	if err := c.send(buf); err != nil {
		return err
	}

	msg, err = c.receiveMessage(ctx)
	if err != nil {
		return err
	}
	finalMsg, ok := msg.(wireproto.AuthenticationSASLFinal)
	if !ok {
		return &SaslError{Err: fmt.Errorf("expected AuthenticationSASLFinal, got %T", msg)}
	}

	if err := client.VerifyServerFinalMessage(finalMsg.Data); err != nil {
		return &SaslError{Err: err}
	}
	return nil
}

// ingestStartupParameters consumes BackendKeyData/ParameterStatus until
// ReadyForQuery, bounded at maxParamIngestionLoops per spec §4.3.
func ingestStartupParameters(ctx context.Context, c *Conn) error {
	for i := 0; i < maxParamIngestionLoops; i++ {
		msg, err := c.receiveMessage(ctx)
		if err != nil {
			return err
		}
		switch m := msg.(type) {
		case wireproto.BackendKeyData:
			c.pid = m.PID
			c.secretKey = m.SecretKey
		case wireproto.ParameterStatus:
			// already applied by receiveMessage's side effects
		case wireproto.ReadyForQuery:
			return nil
		default:
			return fmt.Errorf("unexpected message before ReadyForQuery: %T", msg)
		}
	}
	return fmt.Errorf("startup parameter ingestion did not reach ReadyForQuery within %d messages", maxParamIngestionLoops)
}
