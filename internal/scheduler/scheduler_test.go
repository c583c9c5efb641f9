package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestParseCron(t *testing.T) {
	tests := []struct {
		expr    string
		wantErr bool
	}{
		{"0 6 * * *", false},
		{"30 5 * * 1-5", false},
		{"@daily", false},
		{"@every 1h", false},
		{"0 0 6 * * *", true},
		{"invalid", true},
		{"", true},
	}

	for _, tt := range tests {
		_, err := ParseCron(tt.expr)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseCron(%q) error = %v, wantErr %v", tt.expr, err, tt.wantErr)
		}
	}
}

func TestNew_InvalidSchedule(t *testing.T) {
	if _, err := New("not a schedule", nil, nil, func(context.Context) {}); err == nil {
		t.Error("expected error for invalid schedule")
	}
}

func TestNext(t *testing.T) {
	s, err := New("0 6 * * *", time.UTC, nil, func(context.Context) {})
	if err != nil {
		t.Fatal(err)
	}
	if !s.Next().IsZero() {
		t.Error("Next before Start should be zero")
	}

	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer s.Stop(context.Background())

	next := s.Next()
	if next.IsZero() {
		t.Fatal("Next after Start is zero")
	}
	if next.UTC().Hour() != 6 || next.UTC().Minute() != 0 {
		t.Errorf("Next = %v, want 06:00 UTC", next)
	}
	if err := s.Start(context.Background()); err == nil {
		t.Error("second Start should fail")
	}
}

func TestJobRunsAndStopWaits(t *testing.T) {
	var runs atomic.Int32
	started := make(chan struct{}, 1)
	release := make(chan struct{})

	s, err := New("@every 1s", nil, nil, func(ctx context.Context) {
		runs.Add(1)
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("job did not run")
	}

	// The job is blocked, so Stop must give up when its context expires.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := s.Stop(ctx); err == nil {
		t.Error("Stop returned before running job finished")
	}
	close(release)

	// Overlapping ticks were skipped while the job was blocked.
	if n := runs.Load(); n != 1 {
		t.Errorf("runs = %d, want 1", n)
	}
}

func TestJobContextOutlivesStartContext(t *testing.T) {
	jobCtx := make(chan context.Context, 1)
	release := make(chan struct{})

	s, err := New("@every 1s", nil, nil, func(ctx context.Context) {
		select {
		case jobCtx <- ctx:
		default:
		}
		select {
		case <-ctx.Done():
		case <-release:
		}
	})
	if err != nil {
		t.Fatal(err)
	}

	startCtx, cancelStart := context.WithCancel(context.Background())
	if err := s.Start(startCtx); err != nil {
		t.Fatal(err)
	}

	var got context.Context
	select {
	case got = <-jobCtx:
	case <-time.After(5 * time.Second):
		t.Fatal("job did not run")
	}

	cancelStart()
	select {
	case <-got.Done():
		t.Fatal("job context cancelled with the Start context")
	case <-time.After(50 * time.Millisecond):
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := s.Stop(ctx); err == nil {
		t.Error("Stop returned before running job finished")
	}
	select {
	case <-got.Done():
	case <-time.After(5 * time.Second):
		t.Error("job context not cancelled after Stop deadline")
	}
	close(release)
}

func TestStop_NotStarted(t *testing.T) {
	s, err := New("@daily", nil, nil, func(context.Context) {})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Stop(context.Background()); err != nil {
		t.Errorf("Stop = %v", err)
	}
}
