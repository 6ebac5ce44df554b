package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// newTestCollector creates a Collector registered with a fresh registry
// so tests don't conflict with each other or with the default registry.
func newTestCollector(t *testing.T) (*Collector, *prometheus.Registry) {
	t.Helper()
	c := New()
	return c, c.Registry
}

func getCounterValue(c prometheus.Counter) float64 {
	m := &dto.Metric{}
	c.Write(m)
	return m.GetCounter().GetValue()
}

func TestConnectAttempt(t *testing.T) {
	c, reg := newTestCollector(t)

	c.ConnectAttempt("success", 10*time.Millisecond)
	c.ConnectAttempt("success", 20*time.Millisecond)
	c.ConnectAttempt("auth_failure", 5*time.Millisecond)

	if v := getCounterValue(c.connectAttemptsTotal.WithLabelValues("success")); v != 2 {
		t.Errorf("expected success=2, got %v", v)
	}
	if v := getCounterValue(c.connectAttemptsTotal.WithLabelValues("auth_failure")); v != 1 {
		t.Errorf("expected auth_failure=1, got %v", v)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}
	var found bool
	for _, f := range families {
		if f.GetName() == "pgconn_connect_duration_seconds" {
			found = true
		}
	}
	if !found {
		t.Error("connect duration metric not found")
	}
}

func TestQueryCompleted(t *testing.T) {
	c, reg := newTestCollector(t)

	c.QueryCompleted("simple", "ok", 100*time.Millisecond)
	c.QueryCompleted("simple", "ok", 200*time.Millisecond)
	c.QueryCompleted("extended", "error", 5*time.Millisecond)

	if v := getCounterValue(c.queriesTotal.WithLabelValues("simple", "ok")); v != 2 {
		t.Errorf("expected simple/ok=2, got %v", v)
	}
	if v := getCounterValue(c.queriesTotal.WithLabelValues("extended", "error")); v != 1 {
		t.Errorf("expected extended/error=1, got %v", v)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}
	for _, f := range families {
		if f.GetName() == "pgconn_query_duration_seconds" {
			for _, m := range f.GetMetric() {
				for _, l := range m.GetLabel() {
					if l.GetName() == "protocol" && l.GetValue() == "simple" {
						if m.GetHistogram().GetSampleCount() != 2 {
							t.Errorf("expected 2 simple duration samples, got %d", m.GetHistogram().GetSampleCount())
						}
					}
				}
			}
		}
	}
}

func TestBytesCounters(t *testing.T) {
	c, _ := newTestCollector(t)

	c.BytesSent(100)
	c.BytesSent(50)
	c.BytesReceived(300)

	if v := getCounterValue(c.bytesSent); v != 150 {
		t.Errorf("expected bytesSent=150, got %v", v)
	}
	if v := getCounterValue(c.bytesReceived); v != 300 {
		t.Errorf("expected bytesReceived=300, got %v", v)
	}
}

func TestNotificationReceived(t *testing.T) {
	c, _ := newTestCollector(t)

	c.NotificationReceived("orders")
	c.NotificationReceived("orders")
	c.NotificationReceived("payments")

	if v := getCounterValue(c.notificationsReceived.WithLabelValues("orders")); v != 2 {
		t.Errorf("expected orders=2, got %v", v)
	}
	if v := getCounterValue(c.notificationsReceived.WithLabelValues("payments")); v != 1 {
		t.Errorf("expected payments=1, got %v", v)
	}
}

func TestCopyRows(t *testing.T) {
	c, _ := newTestCollector(t)

	c.CopyRows("in", 10)
	c.CopyRows("in", 5)
	c.CopyRows("out", 3)

	if v := getCounterValue(c.copyRowsTotal.WithLabelValues("in")); v != 15 {
		t.Errorf("expected in=15, got %v", v)
	}
	if v := getCounterValue(c.copyRowsTotal.WithLabelValues("out")); v != 3 {
		t.Errorf("expected out=3, got %v", v)
	}
}

func TestConnectionClosed(t *testing.T) {
	c, _ := newTestCollector(t)

	c.ConnectionClosed("terminate")
	c.ConnectionClosed("error")
	c.ConnectionClosed("error")

	if v := getCounterValue(c.connectionsClosed.WithLabelValues("terminate")); v != 1 {
		t.Errorf("expected terminate=1, got %v", v)
	}
	if v := getCounterValue(c.connectionsClosed.WithLabelValues("error")); v != 2 {
		t.Errorf("expected error=2, got %v", v)
	}
}

func TestNewDoesNotPanicOnMultipleCalls(t *testing.T) {
	// Calling New() multiple times should not panic because each creates
	// its own registry instead of using the global default.
	defer func() {
		if r := recover(); r != nil {
			t.Errorf("New() panicked on repeated calls: %v", r)
		}
	}()

	c1 := New()
	c2 := New()

	c1.ConnectAttempt("success", time.Millisecond)
	c2.ConnectAttempt("success", time.Millisecond)
	c2.ConnectAttempt("success", time.Millisecond)

	v1 := getCounterValue(c1.connectAttemptsTotal.WithLabelValues("success"))
	v2 := getCounterValue(c2.connectAttemptsTotal.WithLabelValues("success"))

	if v1 != 1 {
		t.Errorf("c1 expected success=1, got %v", v1)
	}
	if v2 != 2 {
		t.Errorf("c2 expected success=2, got %v", v2)
	}
}
