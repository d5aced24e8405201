package process

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
)

func TestExecLauncherDevModeReturnsNilHandle(t *testing.T) {
	stale := &fakeStale{alive: true}
	l := &ExecLauncher{Target: Target{Name: "localbook-backend", ResourceDir: t.TempDir(), Stale: stale, PortRelease: -1}}
	h, err := l.Launch(context.Background())
	if err != nil {
		t.Fatalf("missing executable must not be an error: %v", err)
	}
	if h != nil {
		t.Fatalf("expected nil handle in dev mode")
	}
	if stale.calls != 1 {
		t.Fatalf("stale instances must be cleared before resolving, calls=%d", stale.calls)
	}
}

func TestExecLauncherSkipsKillWithoutLeftovers(t *testing.T) {
	stale := &fakeStale{}
	l := &ExecLauncher{Target: Target{Name: "localbook-backend", ResourceDir: t.TempDir(), Stale: stale, PortRelease: -1}}
	if _, err := l.Launch(context.Background()); err != nil {
		t.Fatalf("launch: %v", err)
	}
	if stale.checks != 1 || stale.calls != 0 {
		t.Fatalf("checks=%d kills=%d, want one check and no kill", stale.checks, stale.calls)
	}
}

func TestExecLauncherSecondCandidateWorkDir(t *testing.T) {
	requireUnix(t)
	res := t.TempDir()
	cands := Candidates(res, "localbook-backend", runtime.GOOS)
	writeScript(t, cands[1], "pwd > started.txt")

	l := &ExecLauncher{
		Target: Target{Name: "localbook-backend", ResourceDir: res, SkipStaleKill: true},
		Output: OutputDiscard,
	}
	h, err := l.Launch(context.Background())
	if err != nil {
		t.Fatalf("launch: %v", err)
	}
	if h == nil {
		t.Fatalf("expected a handle")
	}
	waitDone(t, h, 3*time.Second)
	st := h.Snapshot()
	if st.Path != cands[1] || st.WorkDir != filepath.Dir(cands[1]) {
		t.Fatalf("unexpected status: %+v", st)
	}
	if _, err := os.Stat(filepath.Join(filepath.Dir(cands[1]), "started.txt")); err != nil {
		t.Fatalf("child did not run in its own folder: %v", err)
	}
	if st.ExitErr != nil {
		t.Fatalf("unexpected exit error: %v", st.ExitErr)
	}
}

func TestExecLauncherCaptureRelaysPrefixedLines(t *testing.T) {
	requireUnix(t)
	res := t.TempDir()
	cands := Candidates(res, "localbook-backend", runtime.GOOS)
	writeScript(t, cands[0], "echo hello-out; echo hello-err 1>&2")
	logger, buf := testLogger()

	l := &ExecLauncher{
		Target: Target{Name: "localbook-backend", ResourceDir: res, SkipStaleKill: true},
		Output: OutputCapture,
		Logger: logger,
	}
	h, err := l.Launch(context.Background())
	if err != nil || h == nil {
		t.Fatalf("launch: h=%v err=%v", h, err)
	}
	waitDone(t, h, 3*time.Second)
	out := buf.String()
	for _, want := range []string{"[Backend] hello-out", "[Backend] hello-err", "[Backend] process terminated"} {
		if !strings.Contains(out, want) {
			t.Fatalf("log missing %q:\n%s", want, out)
		}
	}
}

func TestExecLauncherFileOutput(t *testing.T) {
	requireUnix(t)
	res := t.TempDir()
	cands := Candidates(res, "localbook-backend", runtime.GOOS)
	writeScript(t, cands[0], "echo to-file")
	outPath := filepath.Join(t.TempDir(), "backend.stdout.log")
	f, err := os.Create(outPath)
	if err != nil {
		t.Fatal(err)
	}
	l := &ExecLauncher{
		Target: Target{Name: "localbook-backend", ResourceDir: res, SkipStaleKill: true},
		Output: OutputFile,
		Stdout: f,
	}
	h, err := l.Launch(context.Background())
	if err != nil || h == nil {
		t.Fatalf("launch: %v", err)
	}
	waitDone(t, h, 3*time.Second)
	b, _ := os.ReadFile(outPath)
	if !strings.Contains(string(b), "to-file") {
		t.Fatalf("stdout not written to file: %q", string(b))
	}
}

func TestExecLauncherSpawnFailureIsError(t *testing.T) {
	requireUnix(t)
	res := t.TempDir()
	cands := Candidates(res, "localbook-backend", runtime.GOOS)
	if err := os.MkdirAll(filepath.Dir(cands[0]), 0o755); err != nil {
		t.Fatal(err)
	}
	// present but not executable
	if err := os.WriteFile(cands[0], []byte("nope"), 0o644); err != nil {
		t.Fatal(err)
	}
	l := &ExecLauncher{Target: Target{Name: "localbook-backend", ResourceDir: res, SkipStaleKill: true}}
	h, err := l.Launch(context.Background())
	var se *SpawnError
	if !errors.As(err, &se) || h != nil {
		t.Fatalf("expected SpawnError, got h=%v err=%v", h, err)
	}
	if se.Path != cands[0] {
		t.Fatalf("unexpected path in error: %q", se.Path)
	}
}

func TestHandleStopTerminatesChild(t *testing.T) {
	requireUnix(t)
	res := t.TempDir()
	cands := Candidates(res, "localbook-backend", runtime.GOOS)
	writeScript(t, cands[0], "exec sleep 30")
	l := &ExecLauncher{Target: Target{Name: "localbook-backend", ResourceDir: res, SkipStaleKill: true}, Output: OutputDiscard}
	h, err := l.Launch(context.Background())
	if err != nil || h == nil {
		t.Fatalf("launch: %v", err)
	}
	if h.Exited() || !h.Snapshot().Running {
		t.Fatalf("child should be running")
	}
	if err := h.Stop(2 * time.Second); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if !h.Exited() || h.Snapshot().Running {
		t.Fatalf("child should have exited")
	}
	// stopping twice is harmless
	if err := h.Stop(time.Second); err != nil {
		t.Fatalf("second stop: %v", err)
	}
	if err := h.Kill(); err != nil {
		t.Fatalf("kill after exit: %v", err)
	}
}

func TestLaunchHonoursCancelledContextDuringPortRelease(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	l := &ExecLauncher{Target: Target{Name: "x", ResourceDir: t.TempDir(), Stale: &fakeStale{}, PortRelease: time.Hour}}
	if _, err := l.Launch(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
