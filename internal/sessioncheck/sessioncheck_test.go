package sessioncheck

import (
	"errors"
	"testing"
)

type fakeParams map[string]string

func (f fakeParams) ParameterStatus(name string) string { return f[name] }

func TestValidateAny(t *testing.T) {
	if err := Validate(fakeParams{}, Any); err != nil {
		t.Fatalf("expected no error for any, got %v", err)
	}
}

func TestValidateReadWriteRejectsStandby(t *testing.T) {
	p := fakeParams{"hot_standby": "on"}
	if err := Validate(p, ReadWrite); err == nil {
		t.Fatal("expected error when target is read-write but connection is a standby")
	}
}

func TestValidateReadWriteAcceptsPrimary(t *testing.T) {
	p := fakeParams{"hot_standby": "off", "transaction_read_only": "off"}
	if err := Validate(p, ReadWrite); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestValidateReadOnlyAcceptsStandby(t *testing.T) {
	p := fakeParams{"hot_standby": "on"}
	if err := Validate(p, ReadOnly); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestValidateReadOnlyRejectsPrimary(t *testing.T) {
	p := fakeParams{"hot_standby": "off", "transaction_read_only": "off"}
	if err := Validate(p, ReadOnly); err == nil {
		t.Fatal("expected error when target is read-only but connection is read-write primary")
	}
}

func TestValidatePreferStandbyUnsupported(t *testing.T) {
	err := Validate(fakeParams{}, PreferStandby)
	var unsupported *UnsupportedAttrsError
	if !errors.As(err, &unsupported) {
		t.Fatalf("expected *UnsupportedAttrsError, got %v", err)
	}
	if unsupported.Target != PreferStandby {
		t.Fatalf("unexpected Target %q", unsupported.Target)
	}
}

func TestValidateUnknownTarget(t *testing.T) {
	if err := Validate(fakeParams{}, Attrs("bogus")); err == nil {
		t.Fatal("expected unrecognized target_session_attrs to error")
	}
}
