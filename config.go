package pgconn

import (
	"crypto/tls"
	"log/slog"
	"time"

	"github.com/php-pg/pgconn/internal/metrics"
)

// Config is the core connection configuration. It deliberately carries no
// knowledge of connection strings, URIs, environment variables, or
// service/password files — parsing those into a Config is an external
// concern (see SPEC_FULL.md §1, "out of scope").
type Config struct {
	Hosts    []HostConfig
	User     string
	Database string

	ConnectTimeout time.Duration

	// RuntimeParams are sent as additional StartupMessage parameters
	// (e.g. "application_name", "search_path").
	RuntimeParams map[string]string

	// TargetSessionAttrs records the requested target_session_attrs value.
	// Connect does not check it itself; the check runs through
	// ValidateConnect (cmd/pgconn-cli wires sessioncheck.Validate there).
	// Empty is defaulted to "any".
	TargetSessionAttrs string

	Logger *slog.Logger

	// Metrics, if non-nil, receives byte counters, notification counts,
	// COPY frame counts, and close reasons as the connection runs.
	// Connect-attempt and query-duration metrics are the caller's
	// responsibility (see cmd/pgconn-cli), since those span operations
	// this Conn doesn't own the start of.
	Metrics *metrics.Collector

	OnNotice       func(*Notice)
	OnNotification func(*Notification)

	// AfterConnect runs once, immediately after authentication and
	// parameter ingestion succeed. A returned error aborts the connect
	// attempt.
	AfterConnect func(*Conn) error

	// ValidateConnect runs after AfterConnect and is the hook
	// target_session_attrs validation is implemented through.
	ValidateConnect func(*Conn) error

	// MinReadBufferSize is the chunkreader minimum read size. Zero
	// selects the package default (8192).
	MinReadBufferSize int
}

// HostConfig is one connection target. A Host beginning with "/" denotes
// a Unix domain socket; otherwise TCP.
type HostConfig struct {
	Host     string
	Port     int
	Password string

	// TLSConfig, if non-nil, causes the connector to negotiate TLS via
	// SSLRequest before the StartupMessage. Wiring certificates,
	// verification mode, and min protocol version into a *tls.Config is
	// an external concern; the connector only consumes the result.
	TLSConfig *tls.Config

	// AllowPlaintextFallback governs the connector's behavior when the
	// server declines TLS (replies 'N' to SSLRequest): true accepts
	// plaintext, matching external sslmode values disable/allow/prefer;
	// false raises ConnectError, matching require/verify-ca/verify-full.
	// Ignored when TLSConfig is nil.
	AllowPlaintextFallback bool
}

func defaultConfig() Config {
	return Config{
		ConnectTimeout:    2 * time.Second,
		MinReadBufferSize: 8192,
	}
}

// withDefaults returns a copy of cfg with zero-valued fields replaced by
// package defaults, mirroring the defaults spec.md §6 lists for the
// external connection-string parser (connect_timeout=2s,
// min_read_buffer_size=8192, target_session_attrs=any).
func (cfg Config) withDefaults() Config {
	d := defaultConfig()
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = d.ConnectTimeout
	}
	if cfg.MinReadBufferSize == 0 {
		cfg.MinReadBufferSize = d.MinReadBufferSize
	}
	if cfg.TargetSessionAttrs == "" {
		cfg.TargetSessionAttrs = "any"
	}
	return cfg
}
