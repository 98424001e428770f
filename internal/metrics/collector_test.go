package metrics

import (
	"errors"
	"testing"
	"time"
)

func TestNewCollector(t *testing.T) {
	t.Run("with valid config", func(t *testing.T) {
		config := &Config{
			Enabled:    true,
			ListenAddr: ":9091",
			Path:       "/metrics",
			Namespace:  "shadowfs",
		}
		collector, err := NewCollector(config)
		if err != nil {
			t.Fatalf("NewCollector() error = %v, want nil", err)
		}
		if collector.config != config {
			t.Error("collector.config does not match input config")
		}
		if collector.registry == nil {
			t.Error("collector.registry is nil")
		}
		if collector.operations == nil {
			t.Error("collector.operations map is nil")
		}
	})

	t.Run("with nil config uses defaults", func(t *testing.T) {
		collector, err := NewCollector(nil)
		if err != nil {
			t.Fatalf("NewCollector(nil) error = %v, want nil", err)
		}
		if collector.config.ListenAddr != ":9090" {
			t.Errorf("default listen addr = %q, want :9090", collector.config.ListenAddr)
		}
		if collector.config.Namespace != "shadowfs" {
			t.Errorf("default namespace = %q, want shadowfs", collector.config.Namespace)
		}
	})

	t.Run("disabled collector skips registry setup", func(t *testing.T) {
		collector, err := NewCollector(&Config{Enabled: false})
		if err != nil {
			t.Fatalf("NewCollector() error = %v, want nil", err)
		}
		if collector.registry != nil {
			t.Error("expected no registry for a disabled collector")
		}
		// Recording against a disabled collector must not panic.
		collector.RecordOperation("read", time.Millisecond, 128, true)
	})
}

func newTestCollector(t *testing.T) *Collector {
	t.Helper()
	c, err := NewCollector(&Config{Enabled: true, ListenAddr: ":0", Path: "/metrics", Namespace: "shadowfs_test"})
	if err != nil {
		t.Fatalf("NewCollector() error = %v", err)
	}
	return c
}

func TestRecordOperationAccumulates(t *testing.T) {
	c := newTestCollector(t)

	c.RecordOperation("write", 10*time.Millisecond, 100, true)
	c.RecordOperation("write", 20*time.Millisecond, 200, true)
	c.RecordOperation("write", 5*time.Millisecond, 50, false)

	metrics := c.GetMetrics()
	ops, ok := metrics["operations"].(map[string]*OperationMetrics)
	if !ok {
		t.Fatal("operations not present in GetMetrics() result")
	}
	om, ok := ops["write"]
	if !ok {
		t.Fatal("write operation not recorded")
	}
	if om.Count != 3 {
		t.Errorf("Count = %d, want 3", om.Count)
	}
	if om.Errors != 1 {
		t.Errorf("Errors = %d, want 1", om.Errors)
	}
	if om.TotalSize != 350 {
		t.Errorf("TotalSize = %d, want 350", om.TotalSize)
	}
}

func TestResetMetrics(t *testing.T) {
	c := newTestCollector(t)
	c.RecordOperation("read", time.Millisecond, 64, true)

	c.ResetMetrics()

	metrics := c.GetMetrics()
	ops := metrics["operations"].(map[string]*OperationMetrics)
	if len(ops) != 0 {
		t.Errorf("expected empty operations after reset, got %d entries", len(ops))
	}
}

func TestRecordDedupHitAndMiss(t *testing.T) {
	c := newTestCollector(t)

	// Must not panic; Prometheus state is exercised but not asserted here.
	c.RecordDedupHit()
	c.RecordDedupMiss()
	c.SetOpenSessions(3)
	c.RecordError("getattr", errors.New("boom"))
}
