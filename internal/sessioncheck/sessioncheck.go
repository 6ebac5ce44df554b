// Package sessioncheck implements the target_session_attrs validator
// (spec.md §6): a one-shot classification of a freshly authenticated
// connection's role (primary/standby, read-write/read-only), run once
// per connect rather than on a timer — there is no pool here to
// periodically re-check.
package sessioncheck

import "fmt"

// ParamSource is the subset of *pgconn.Conn this package needs. Defined
// as an interface, rather than importing pgconn directly, to avoid a
// cycle: pgconn.Config.ValidateConnect is commonly wired to Validate.
type ParamSource interface {
	ParameterStatus(name string) string
}

// Attrs enumerates the target_session_attrs values this driver supports.
type Attrs string

const (
	Any            Attrs = "any"
	ReadWrite      Attrs = "read-write"
	ReadOnly       Attrs = "read-only"
	Primary        Attrs = "primary"
	Standby        Attrs = "standby"
	PreferStandby  Attrs = "prefer-standby"
)

// UnsupportedAttrsError is returned for a target_session_attrs value this
// driver recognizes but cannot honor (currently only prefer-standby).
// Defined as a type, rather than a plain fmt.Errorf, so a caller that can
// import pgconn (this package cannot, to avoid a cycle) can translate it
// into a *pgconn.ConfigParseError per spec.md §6.
type UnsupportedAttrsError struct {
	Target Attrs
}

func (e *UnsupportedAttrsError) Error() string {
	return fmt.Sprintf("sessioncheck: target_session_attrs=%s is not supported", e.Target)
}

// Validate classifies conn against target and returns an error if it
// doesn't qualify. PreferStandby always errors: this driver has no
// pool to fail over within, so "prefer" has nothing to fall back to.
func Validate(conn ParamSource, target Attrs) error {
	hotStandby := conn.ParameterStatus("in_hot_standby") == "on"
	readOnly := conn.ParameterStatus("transaction_read_only") == "on"
	if hs := conn.ParameterStatus("hot_standby"); hs != "" {
		hotStandby = hs == "on"
	}

	switch target {
	case "", Any:
		return nil
	case ReadWrite:
		if hotStandby || readOnly {
			return fmt.Errorf("sessioncheck: target_session_attrs=read-write but connection is %s", describe(hotStandby, readOnly))
		}
		return nil
	case ReadOnly:
		if !hotStandby && !readOnly {
			return fmt.Errorf("sessioncheck: target_session_attrs=read-only but connection is read-write primary")
		}
		return nil
	case Primary:
		if hotStandby {
			return fmt.Errorf("sessioncheck: target_session_attrs=primary but connection is a standby")
		}
		return nil
	case Standby:
		if !hotStandby {
			return fmt.Errorf("sessioncheck: target_session_attrs=standby but connection is a primary")
		}
		return nil
	case PreferStandby:
		return &UnsupportedAttrsError{Target: target}
	default:
		return fmt.Errorf("sessioncheck: unrecognized target_session_attrs %q", target)
	}
}

func describe(hotStandby, readOnly bool) string {
	switch {
	case hotStandby:
		return "a standby"
	case readOnly:
		return "a read-only primary"
	default:
		return "read-write"
	}
}
