// Command pgconn-cli is a smoke-test harness for the driver: it loads
// a named connection profile, opens a single connection, runs one
// operation against it, and prints the result. It is not a proxy or a
// server — there is no listener, no pool, just one connection driven
// from the command line.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/php-pg/pgconn"
	"github.com/php-pg/pgconn/internal/debugserver"
	"github.com/php-pg/pgconn/internal/metrics"
	"github.com/php-pg/pgconn/internal/profiles"
	"github.com/php-pg/pgconn/internal/sessioncheck"
)

func main() {
	profilesPath := flag.String("profiles", "configs/profiles.yaml", "path to the connection profiles file")
	profileName := flag.String("profile", "", "name of the profile to connect with (required)")
	query := flag.String("query", "", "SQL to execute with the simple query protocol")
	copyFrom := flag.String("copy-from", "", "COPY ... FROM STDIN statement; reads stdin and streams it")
	debugAddr := flag.String("debug-addr", "", "if set, serve /status and /metrics on this address (e.g. 127.0.0.1:8080)")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	if *profileName == "" {
		logger.Error("missing required -profile flag")
		os.Exit(2)
	}

	profileFile, err := profiles.Load(*profilesPath)
	if err != nil {
		logger.Error("loading profiles", "error", err)
		os.Exit(1)
	}
	prof, ok := profileFile.Profiles[*profileName]
	if !ok {
		logger.Error("profile not found", "profile", *profileName, "path", *profilesPath)
		os.Exit(1)
	}
	logger.Info("connecting", "profile", *profileName, "config", prof.Redacted())

	m := metrics.New()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := pgconn.Config{
		Hosts: []pgconn.HostConfig{
			{
				Host:     prof.Host,
				Port:     prof.Port,
				Password: prof.Password,
			},
		},
		User:               prof.User,
		Database:           prof.Database,
		ConnectTimeout:     prof.ConnectTimeout,
		TargetSessionAttrs: prof.TargetSessionAttrs,
		Logger:             logger,
		Metrics:            m,
		RuntimeParams:      applicationNameParam(prof.ApplicationName),
		ValidateConnect: func(c *pgconn.Conn) error {
			err := sessioncheck.Validate(c, sessioncheck.Attrs(prof.TargetSessionAttrs))
			var unsupported *sessioncheck.UnsupportedAttrsError
			if errors.As(err, &unsupported) {
				return &pgconn.ConfigParseError{Reason: err.Error()}
			}
			return err
		},
	}

	start := time.Now()
	conn, err := pgconn.Connect(ctx, cfg)
	if err != nil {
		m.ConnectAttempt(connectOutcome(err), time.Since(start))
		logger.Error("connect failed", "error", err)
		os.Exit(1)
	}
	m.ConnectAttempt("success", time.Since(start))
	defer conn.Close()

	logger.Info("connected", "backend_pid", conn.PID(), "server_version", conn.ParameterStatus("server_version"))

	var debugSrv *debugserver.Server
	if *debugAddr != "" {
		debugSrv = debugserver.NewServer(conn, m)
		if err := debugSrv.Start(*debugAddr); err != nil {
			logger.Error("debug server failed to start", "error", err)
		} else {
			defer debugSrv.Stop()
		}
	}

	switch {
	case *copyFrom != "":
		runCopyFrom(ctx, conn, m, *copyFrom)
	case *query != "":
		runQuery(ctx, conn, m, *query)
	default:
		logger.Info("no -query or -copy-from given; idling until interrupted")
		<-ctx.Done()
	}
}

func applicationNameParam(name string) map[string]string {
	if name == "" {
		return nil
	}
	return map[string]string{"application_name": name}
}

func connectOutcome(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && (pgErr.SQLState == "28P01" || pgErr.SQLState == "28000") {
		return "auth_failure"
	}
	return "error"
}

func runQuery(ctx context.Context, conn *pgconn.Conn, m *metrics.Collector, sql string) {
	start := time.Now()
	mrr, err := conn.Exec(ctx, sql)
	if err != nil {
		m.QueryCompleted("simple", "error", time.Since(start))
		fmt.Fprintf(os.Stderr, "query failed: %v\n", err)
		os.Exit(1)
	}

	for mrr.NextResult() {
		rr := mrr.ResultReader()
		for _, f := range rr.FieldDescriptions() {
			fmt.Printf("%s\t", f.Name)
		}
		fmt.Println()
		for rr.NextRow() {
			vals := rr.Values()
			parts := make([]string, len(vals))
			for i, v := range vals {
				if v == nil {
					parts[i] = "<NULL>"
				} else {
					parts[i] = string(v)
				}
			}
			fmt.Println(strings.Join(parts, "\t"))
		}
		tag, err := rr.Close()
		if err != nil {
			m.QueryCompleted("simple", "error", time.Since(start))
			fmt.Fprintf(os.Stderr, "result failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("-- %s\n", tag)
	}
	if err := mrr.Err(); err != nil {
		m.QueryCompleted("simple", "error", time.Since(start))
		fmt.Fprintf(os.Stderr, "query failed: %v\n", err)
		os.Exit(1)
	}
	m.QueryCompleted("simple", "ok", time.Since(start))
}

func runCopyFrom(ctx context.Context, conn *pgconn.Conn, m *metrics.Collector, sql string) {
	start := time.Now()
	tag, err := conn.CopyFrom(ctx, sql, os.Stdin)
	if err != nil {
		m.QueryCompleted("copy", "error", time.Since(start))
		fmt.Fprintf(os.Stderr, "copy failed: %v\n", err)
		os.Exit(1)
	}
	m.QueryCompleted("copy", "ok", time.Since(start))
	fmt.Printf("-- %s\n", tag)
}
