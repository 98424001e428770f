package health

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRegisterAndRunCheck(t *testing.T) {
	c, err := NewChecker(&Config{Enabled: true, Timeout: time.Second})
	if err != nil {
		t.Fatalf("NewChecker error = %v", err)
	}

	if err := c.RegisterCheck("ping", "always ok", CategoryCore, PriorityCritical, PingCheck()); err != nil {
		t.Fatalf("RegisterCheck error = %v", err)
	}
	if err := c.RegisterCheck("ping", "dup", CategoryCore, PriorityCritical, PingCheck()); err == nil {
		t.Error("expected error re-registering an existing check name")
	}

	result, err := c.RunCheck(context.Background(), "ping")
	if err != nil {
		t.Fatalf("RunCheck error = %v", err)
	}
	if result.Status != StatusHealthy {
		t.Errorf("Status = %v, want healthy", result.Status)
	}
}

func TestRunAllChecksAggregatesStatus(t *testing.T) {
	c, err := NewChecker(&Config{Enabled: true, Timeout: time.Second})
	if err != nil {
		t.Fatalf("NewChecker error = %v", err)
	}

	failing := StorageCheck(func(ctx context.Context) error { return errors.New("backend unreachable") })
	if err := c.RegisterCheck("primary_backend", "", CategoryStorage, PriorityCritical, failing); err != nil {
		t.Fatalf("RegisterCheck error = %v", err)
	}
	if err := c.RegisterCheck("ping", "", CategoryCore, PriorityHigh, PingCheck()); err != nil {
		t.Fatalf("RegisterCheck error = %v", err)
	}

	results, err := c.RunAllChecks(context.Background())
	if err != nil {
		t.Fatalf("RunAllChecks error = %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("len(results) = %d, want 2", len(results))
	}
	if results["primary_backend"].Status != StatusUnhealthy {
		t.Errorf("primary_backend status = %v, want unhealthy", results["primary_backend"].Status)
	}

	if c.IsHealthy() {
		t.Error("expected IsHealthy() false after a critical check failure")
	}
	stats := c.GetStats()
	if stats.OverallStatus != StatusUnhealthy {
		t.Errorf("OverallStatus = %v, want unhealthy", stats.OverallStatus)
	}
}

func TestNonCriticalFailureDegradesNotUnhealthy(t *testing.T) {
	c, err := NewChecker(&Config{Enabled: true, Timeout: time.Second})
	if err != nil {
		t.Fatalf("NewChecker error = %v", err)
	}

	failing := StorageCheck(func(ctx context.Context) error { return errors.New("replica slow") })
	if err := c.RegisterCheck("replica_0", "", CategoryStorage, PriorityHigh, failing); err != nil {
		t.Fatalf("RegisterCheck error = %v", err)
	}
	if err := c.RegisterCheck("primary_backend", "", CategoryStorage, PriorityCritical, PingCheck()); err != nil {
		t.Fatalf("RegisterCheck error = %v", err)
	}

	if _, err := c.RunAllChecks(context.Background()); err != nil {
		t.Fatalf("RunAllChecks error = %v", err)
	}

	stats := c.GetStats()
	if stats.OverallStatus != StatusDegraded {
		t.Errorf("OverallStatus = %v, want degraded", stats.OverallStatus)
	}
}

func TestStartStopLifecycle(t *testing.T) {
	c, err := NewChecker(&Config{Enabled: true, CheckInterval: time.Hour, Timeout: time.Second})
	if err != nil {
		t.Fatalf("NewChecker error = %v", err)
	}

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start error = %v", err)
	}
	if err := c.Start(context.Background()); err == nil {
		t.Error("expected error starting an already-started checker")
	}
	if err := c.Stop(); err != nil {
		t.Fatalf("Stop error = %v", err)
	}
	if err := c.Stop(); err == nil {
		t.Error("expected error stopping an already-stopped checker")
	}
}
