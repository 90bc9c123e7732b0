package db

import (
	"context"
	"errors"
	"testing"
)

func TestPoolStats_Fields(t *testing.T) {
	stats := &PoolStats{
		TotalConns:      10,
		IdleConns:       5,
		AcquiredConns:   5,
		MaxConns:        20,
		AcquireCount:    100,
		AcquireDuration: "1.5s",
		Healthy:         true,
	}

	if stats.TotalConns != 10 {
		t.Errorf("expected TotalConns 10, got %d", stats.TotalConns)
	}
	if stats.AcquiredConns != 5 {
		t.Errorf("expected AcquiredConns 5, got %d", stats.AcquiredConns)
	}
	if !stats.Healthy {
		t.Error("expected Healthy to be true")
	}
}

func TestRunChecks_AllHealthy(t *testing.T) {
	checks := []Check{
		{Name: "postgres", Ping: func(context.Context) error { return nil }},
		{Name: "redis", Ping: func(context.Context) error { return nil }},
	}
	results, healthy := RunChecks(context.Background(), checks)
	if !healthy {
		t.Fatal("expected healthy")
	}
	if results["redis"] != "ok" || results["postgres"] != "ok" {
		t.Errorf("unexpected results: %v", results)
	}
}

func TestRunChecks_OneFailing(t *testing.T) {
	checks := []Check{
		{Name: "postgres", Ping: func(context.Context) error { return nil }},
		{Name: "redis", Ping: func(context.Context) error { return errors.New("connection refused") }},
	}
	results, healthy := RunChecks(context.Background(), checks)
	if healthy {
		t.Fatal("expected unhealthy")
	}
	if results["redis"] != "connection refused" {
		t.Errorf("expected redis error to be reported, got %q", results["redis"])
	}
	if results["postgres"] != "ok" {
		t.Errorf("expected postgres ok, got %q", results["postgres"])
	}
}
