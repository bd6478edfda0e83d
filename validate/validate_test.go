package validate

import (
	"context"
	"testing"
	"time"
)

func TestRunPassesWhenAllCommandsSucceed(t *testing.T) {
	r := NewRunner(5*time.Second, 0)
	result := r.Run(context.Background(), t.TempDir(), []string{"true", "echo ok"})

	if !result.Passed {
		t.Fatalf("expected Passed=true, got result: %+v", result)
	}
	if len(result.Steps) != 2 {
		t.Fatalf("expected 2 steps, got %d", len(result.Steps))
	}
	if result.Steps[1].Stdout != "ok\n" {
		t.Errorf("got stdout %q, want \"ok\\n\"", result.Steps[1].Stdout)
	}
}

func TestRunFailsOnNonZeroExitButContinues(t *testing.T) {
	r := NewRunner(5*time.Second, 0)
	result := r.Run(context.Background(), t.TempDir(), []string{"exit 1", "echo still-ran"})

	if result.Passed {
		t.Fatal("expected Passed=false after a failing step")
	}
	if len(result.Steps) != 2 {
		t.Fatalf("expected both steps to run even after the first failed, got %d", len(result.Steps))
	}
	if result.Steps[0].ExitCode != 1 {
		t.Errorf("got exit code %d, want 1", result.Steps[0].ExitCode)
	}
	if result.Steps[1].Stdout != "still-ran\n" {
		t.Errorf("second step should still have run, got stdout %q", result.Steps[1].Stdout)
	}
}

func TestRunCapturesStderr(t *testing.T) {
	r := NewRunner(5*time.Second, 0)
	result := r.Run(context.Background(), t.TempDir(), []string{"echo oops >&2"})

	if result.Steps[0].Stderr != "oops\n" {
		t.Errorf("got stderr %q, want \"oops\\n\"", result.Steps[0].Stderr)
	}
}

func TestRunTimesOutSlowCommand(t *testing.T) {
	r := NewRunner(50*time.Millisecond, 0)
	result := r.Run(context.Background(), t.TempDir(), []string{"sleep 2"})

	if !result.Steps[0].TimedOut {
		t.Error("expected the slow command to be marked as timed out")
	}
	if result.Passed {
		t.Error("a timed-out step should make the overall result fail")
	}
}

func TestNewRunnerDefaultsWaitDelay(t *testing.T) {
	r := NewRunner(time.Second, 0)
	if r.WaitDelay != 5*time.Second {
		t.Errorf("got WaitDelay=%v, want 5s default", r.WaitDelay)
	}
}
