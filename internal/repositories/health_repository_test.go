package repositories

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shoplane/api/internal/domain"
)

func TestDependencyHealthRepositoryCollectSuccess(t *testing.T) {
	checks := []DependencyCheck{
		{
			Name: "postgres",
			Check: func(ctx context.Context) error {
				select {
				case <-time.After(10 * time.Millisecond):
					return nil
				case <-ctx.Done():
					return ctx.Err()
				}
			},
		},
		{
			Name:  "pubsub",
			Check: func(context.Context) error { return nil },
		},
	}

	now := time.Date(2024, time.May, 1, 12, 0, 0, 0, time.UTC)
	repo, err := NewDependencyHealthRepository(checks,
		WithDependencyClock(func() time.Time { return now }),
	)
	if err != nil {
		t.Fatalf("NewDependencyHealthRepository: %v", err)
	}

	report, err := repo.Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}

	if report.Status != domain.HealthStatusOK {
		t.Fatalf("report status = %s, want ok", report.Status)
	}
	if len(report.Checks) != 2 {
		t.Fatalf("got %d checks, want 2", len(report.Checks))
	}
	for name, check := range report.Checks {
		if check.Status != domain.HealthStatusOK {
			t.Fatalf("check %s status = %s, want ok", name, check.Status)
		}
		if check.CheckedAt != now {
			t.Fatalf("check %s checkedAt = %s, want %s", name, check.CheckedAt, now)
		}
	}
	if report.GeneratedAt != now {
		t.Fatalf("generatedAt = %s, want %s", report.GeneratedAt, now)
	}
}

func TestDependencyHealthRepositoryCollectDegraded(t *testing.T) {
	probeErr := errors.New("connection refused")
	checks := []DependencyCheck{
		{
			Name:  "postgres",
			Check: func(context.Context) error { return probeErr },
		},
		{
			Name:  "pubsub",
			Check: func(context.Context) error { return nil },
		},
	}

	repo, err := NewDependencyHealthRepository(checks)
	if err != nil {
		t.Fatalf("NewDependencyHealthRepository: %v", err)
	}

	report, err := repo.Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}

	if report.Status != domain.HealthStatusDegraded {
		t.Fatalf("report status = %s, want degraded", report.Status)
	}
	check := report.Checks["postgres"]
	if check.Status != domain.HealthStatusDegraded {
		t.Fatalf("postgres status = %s, want degraded", check.Status)
	}
	if check.Error != probeErr.Error() {
		t.Fatalf("postgres error = %q, want %q", check.Error, probeErr.Error())
	}
}

func TestDependencyHealthRepositoryCollectTimeout(t *testing.T) {
	checks := []DependencyCheck{
		{
			Name:    "pubsub",
			Timeout: 5 * time.Millisecond,
			Check: func(ctx context.Context) error {
				select {
				case <-time.After(20 * time.Millisecond):
					return nil
				case <-ctx.Done():
					return ctx.Err()
				}
			},
		},
	}

	repo, err := NewDependencyHealthRepository(checks)
	if err != nil {
		t.Fatalf("NewDependencyHealthRepository: %v", err)
	}

	report, err := repo.Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}

	if report.Status != domain.HealthStatusError {
		t.Fatalf("report status = %s, want error", report.Status)
	}
	check := report.Checks["pubsub"]
	if check.Status != domain.HealthStatusError {
		t.Fatalf("pubsub status = %s, want error", check.Status)
	}
	if check.Detail != "timeout" {
		t.Fatalf("pubsub detail = %q, want timeout", check.Detail)
	}
}

func TestNewDependencyHealthRepositoryValidation(t *testing.T) {
	if _, err := NewDependencyHealthRepository(nil); err == nil {
		t.Fatal("expected error for empty check set")
	}
	if _, err := NewDependencyHealthRepository([]DependencyCheck{{Name: " ", Check: func(context.Context) error { return nil }}}); err == nil {
		t.Fatal("expected error for unnamed check")
	}
	if _, err := NewDependencyHealthRepository([]DependencyCheck{{Name: "postgres"}}); err == nil {
		t.Fatal("expected error for check without probe function")
	}
}
