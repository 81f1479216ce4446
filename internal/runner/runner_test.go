//go:build !windows

package runner

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"trayrunner/pkg/logx"
)

func testRunner() *Runner {
	r := New(logx.Nop())
	r.TermGrace = time.Second
	return r
}

func TestExecuteSuccess(t *testing.T) {
	t.Parallel()
	out := testRunner().Execute(context.Background(), Spec{Command: "echo hello world"})
	if out.Kind != KindCompleted {
		t.Fatalf("Kind = %v (%s)", out.Kind, out.FailMessage)
	}
	if out.ExitCode != 0 {
		t.Fatalf("ExitCode = %d", out.ExitCode)
	}
	if out.Stdout != "hello world" {
		t.Fatalf("Stdout = %q", out.Stdout)
	}
	if out.PID == 0 {
		t.Fatal("expected a pid")
	}
}

func TestExecuteNonZeroExit(t *testing.T) {
	t.Parallel()
	out := testRunner().Execute(context.Background(), Spec{
		Command:    "exit 3",
		RunInShell: true,
	})
	if out.Kind != KindCompleted {
		t.Fatalf("Kind = %v (%s)", out.Kind, out.FailMessage)
	}
	if out.ExitCode != 3 {
		t.Fatalf("ExitCode = %d, want 3", out.ExitCode)
	}
}

func TestExecuteLaunchFailure(t *testing.T) {
	t.Parallel()
	out := testRunner().Execute(context.Background(), Spec{Command: "/no/such/binary-xyz"})
	if out.Kind != KindLaunchFailed {
		t.Fatalf("Kind = %v", out.Kind)
	}
	if out.FailMessage == "" {
		t.Fatal("expected a failure message")
	}
}

func TestExecuteBadCommandSyntax(t *testing.T) {
	t.Parallel()
	out := testRunner().Execute(context.Background(), Spec{Command: `echo "unterminated`})
	if out.Kind != KindLaunchFailed {
		t.Fatalf("Kind = %v", out.Kind)
	}
}

func TestExecuteScript(t *testing.T) {
	t.Parallel()
	out := testRunner().Execute(context.Background(), Spec{
		Script: "echo from-script\nexit 0\n",
	})
	if out.Kind != KindCompleted || out.ExitCode != 0 {
		t.Fatalf("Kind = %v, ExitCode = %d (%s)", out.Kind, out.ExitCode, out.FailMessage)
	}
	if out.Stdout != "from-script" {
		t.Fatalf("Stdout = %q", out.Stdout)
	}
}

func TestExecuteEnvMergesOverBase(t *testing.T) {
	t.Setenv("RUNNER_TEST_BASE", "base")
	out := New(logx.Nop()).Execute(context.Background(), Spec{
		Command:    "echo $RUNNER_TEST_BASE $RUNNER_TEST_EXTRA",
		RunInShell: true,
		Env:        []string{"RUNNER_TEST_EXTRA=extra"},
	})
	if out.Kind != KindCompleted {
		t.Fatalf("Kind = %v (%s)", out.Kind, out.FailMessage)
	}
	if out.Stdout != "base extra" {
		t.Fatalf("Stdout = %q", out.Stdout)
	}
}

func TestExecuteWorkingDirectory(t *testing.T) {
	t.Parallel()
	dir, err := filepath.EvalSymlinks(t.TempDir())
	if err != nil {
		t.Fatalf("EvalSymlinks: %v", err)
	}
	out := testRunner().Execute(context.Background(), Spec{
		Command:    "pwd",
		WorkingDir: dir,
	})
	if out.Kind != KindCompleted {
		t.Fatalf("Kind = %v (%s)", out.Kind, out.FailMessage)
	}
	if out.Stdout != dir {
		t.Fatalf("Stdout = %q, want %q", out.Stdout, dir)
	}
}

func TestExecuteMissingWorkingDirFallsBack(t *testing.T) {
	t.Parallel()
	out := testRunner().Execute(context.Background(), Spec{
		Command:    "pwd",
		WorkingDir: "/definitely/not/here",
	})
	if out.Kind != KindCompleted {
		t.Fatalf("bad working dir must not abort the run: %v (%s)", out.Kind, out.FailMessage)
	}
}

func TestExecuteAborted(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())

	started := make(chan Outcome, 1)
	go func() {
		started <- testRunner().Execute(ctx, Spec{
			Command:    "sleep 30",
			RunInShell: true,
		})
	}()

	time.Sleep(200 * time.Millisecond)
	cancel()

	select {
	case out := <-started:
		if out.Kind != KindAborted {
			t.Fatalf("Kind = %v", out.Kind)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("cancelled run did not return promptly")
	}
}
