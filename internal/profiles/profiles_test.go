package profiles

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTempProfiles(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "profiles.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("writing temp profiles file: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeTempProfiles(t, `
profiles:
  primary:
    host: db.internal
    user: app
    dbname: appdb
`)

	f, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	p, ok := f.Profiles["primary"]
	if !ok {
		t.Fatal("expected profile \"primary\"")
	}
	if p.Port != 5432 {
		t.Errorf("expected default port 5432, got %d", p.Port)
	}
	if p.SSLMode != "prefer" {
		t.Errorf("expected default sslmode prefer, got %q", p.SSLMode)
	}
	if p.TargetSessionAttrs != "any" {
		t.Errorf("expected default target_session_attrs any, got %q", p.TargetSessionAttrs)
	}
	if p.ConnectTimeout != 2*time.Second {
		t.Errorf("expected default connect_timeout 2s, got %v", p.ConnectTimeout)
	}
}

func TestLoadSubstitutesEnvVars(t *testing.T) {
	t.Setenv("PGCONN_TEST_PASSWORD", "s3cr3t")
	path := writeTempProfiles(t, `
profiles:
  primary:
    host: db.internal
    user: app
    dbname: appdb
    password: ${PGCONN_TEST_PASSWORD}
`)

	f, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if f.Profiles["primary"].Password != "s3cr3t" {
		t.Errorf("expected env var substitution, got %q", f.Profiles["primary"].Password)
	}
}

func TestLoadRejectsMissingHost(t *testing.T) {
	path := writeTempProfiles(t, `
profiles:
  broken:
    user: app
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for missing host")
	}
}

func TestLoadRejectsMissingUser(t *testing.T) {
	path := writeTempProfiles(t, `
profiles:
  broken:
    host: db.internal
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for missing user")
	}
}

func TestLoadRejectsUnsupportedSSLMode(t *testing.T) {
	path := writeTempProfiles(t, `
profiles:
  broken:
    host: db.internal
    user: app
    sslmode: bogus
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for unsupported sslmode")
	}
}

func TestRedactedMasksPassword(t *testing.T) {
	p := Profile{Host: "db.internal", User: "app", Password: "hunter2"}
	r := p.Redacted()
	if r.Password == "hunter2" {
		t.Error("expected password to be masked")
	}
	if p.Password != "hunter2" {
		t.Error("Redacted should not mutate the original")
	}
}

func TestWatcherReloadsOnWrite(t *testing.T) {
	path := writeTempProfiles(t, `
profiles:
  primary:
    host: db.internal
    user: app
`)

	reloaded := make(chan *File, 1)
	w, err := NewWatcher(path, func(f *File) {
		select {
		case reloaded <- f:
		default:
		}
	})
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Stop()

	if err := os.WriteFile(path, []byte(`
profiles:
  primary:
    host: db2.internal
    user: app2
`), 0o644); err != nil {
		t.Fatalf("rewriting profiles file: %v", err)
	}

	select {
	case f := <-reloaded:
		if f.Profiles["primary"].Host != "db2.internal" {
			t.Errorf("expected reloaded host db2.internal, got %q", f.Profiles["primary"].Host)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for reload callback")
	}
}
