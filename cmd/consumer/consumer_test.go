package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/store"
)

type fakeWriter struct {
	failures int // transient failures before success
	calls    int
	err      error // returned for the failing calls
}

func (f *fakeWriter) UpsertPosition(ctx context.Context, pos models.DriverPosition) error {
	f.calls++
	if f.calls <= f.failures {
		return f.err
	}
	return nil
}

func TestApplyWithRetrySucceedsAfterTransientFailures(t *testing.T) {
	f := &fakeWriter{failures: 2, err: errors.New("connection refused")}
	pos := models.DriverPosition{DriverID: "d1", CapturedAt: time.Now()}
	start := time.Now()
	if err := applyWithRetry(context.Background(), f, pos, 3, 10*time.Millisecond); err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if f.calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", f.calls)
	}
	if time.Since(start) < 10*time.Millisecond {
		t.Fatal("expected at least one backoff sleep")
	}
}

func TestApplyWithRetryGivesUpWhenExhausted(t *testing.T) {
	f := &fakeWriter{failures: 10, err: errors.New("connection refused")}
	pos := models.DriverPosition{DriverID: "d1", CapturedAt: time.Now()}
	if err := applyWithRetry(context.Background(), f, pos, 3, time.Millisecond); err == nil {
		t.Fatal("expected error after exhausting attempts")
	}
	if f.calls != 3 {
		t.Fatalf("expected exactly 3 attempts, got %d", f.calls)
	}
}

func TestApplyWithRetryDoesNotRetryStaleFixes(t *testing.T) {
	f := &fakeWriter{failures: 10, err: store.ErrStaleFix}
	pos := models.DriverPosition{DriverID: "d1", CapturedAt: time.Now()}
	err := applyWithRetry(context.Background(), f, pos, 3, time.Millisecond)
	if !errors.Is(err, store.ErrStaleFix) {
		t.Fatalf("expected ErrStaleFix, got %v", err)
	}
	if f.calls != 1 {
		t.Fatalf("a lost capture-order race must not be retried, got %d attempts", f.calls)
	}
}

func TestApplyWithRetryStopsOnCancel(t *testing.T) {
	f := &fakeWriter{failures: 10, err: errors.New("connection refused")}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	pos := models.DriverPosition{DriverID: "d1", CapturedAt: time.Now()}
	err := applyWithRetry(ctx, f, pos, 3, time.Hour)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
