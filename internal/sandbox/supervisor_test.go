package sandbox_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/devroom-ai/devroom/internal/filetree"
	"github.com/devroom-ai/devroom/internal/sandbox"
	"github.com/devroom-ai/devroom/internal/sandbox/mock"
)

func testTree() filetree.Tree {
	return filetree.Tree{
		"app.js":       filetree.NewFile("console.log('hi')"),
		"package.json": filetree.NewFile("{}"),
	}
}

// scriptedRuntime returns a mock runtime whose install processes exit
// immediately and whose start processes are captured for the test to drive.
func scriptedRuntime(installExit int) (*mock.Runtime, func() *mock.Process) {
	var mu sync.Mutex
	var starts []*mock.Process

	rt := &mock.Runtime{}
	rt.SpawnFunc = func(_ context.Context, _ string, args ...string) (sandbox.Process, error) {
		p := mock.NewProcess()
		if len(args) > 0 && args[0] == "install" {
			p.Exit(installExit)
			return p, nil
		}
		mu.Lock()
		starts = append(starts, p)
		mu.Unlock()
		return p, nil
	}

	latest := func() *mock.Process {
		mu.Lock()
		defer mu.Unlock()
		if len(starts) == 0 {
			return nil
		}
		return starts[len(starts)-1]
	}
	return rt, latest
}

func waitFor(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", what)
}

func TestSupervisorBootIsMemoized(t *testing.T) {
	rt, _ := scriptedRuntime(0)
	sup := sandbox.NewSupervisor(rt)

	if err := sup.Run(context.Background(), testTree(), "app.js"); err != nil {
		t.Fatalf("First run failed: %v", err)
	}
	if err := sup.Run(context.Background(), testTree(), "app.js"); err != nil {
		t.Fatalf("Second run failed: %v", err)
	}

	if rt.BootCalls != 1 {
		t.Errorf("Expected 1 boot, got %d", rt.BootCalls)
	}
}

func TestSupervisorBootFailureAllowsRetry(t *testing.T) {
	rt, _ := scriptedRuntime(0)
	fail := true
	rt.BootFunc = func(context.Context) error {
		if fail {
			fail = false
			return errors.New("no space")
		}
		return nil
	}
	sup := sandbox.NewSupervisor(rt)

	err := sup.Run(context.Background(), testTree(), "app.js")
	if !errors.Is(err, sandbox.ErrBootFailed) {
		t.Fatalf("Expected ErrBootFailed, got %v", err)
	}

	if err := sup.Run(context.Background(), testTree(), "app.js"); err != nil {
		t.Fatalf("Retry failed: %v", err)
	}
	if rt.BootCalls != 2 {
		t.Errorf("Expected 2 boot attempts, got %d", rt.BootCalls)
	}
}

func TestSupervisorInstallsOnlyForScriptEntries(t *testing.T) {
	rt, _ := scriptedRuntime(0)
	sup := sandbox.NewSupervisor(rt)

	if err := sup.Run(context.Background(), testTree(), "main.py"); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	for _, cmd := range rt.SpawnCommands() {
		if len(cmd) > 1 && cmd[1] == "install" {
			t.Errorf("Unexpected install for non-script entry: %v", cmd)
		}
	}

	if err := sup.Run(context.Background(), testTree(), "app.js"); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	installed := false
	for _, cmd := range rt.SpawnCommands() {
		if len(cmd) > 1 && cmd[0] == "npm" && cmd[1] == "install" {
			installed = true
		}
	}
	if !installed {
		t.Error("Expected install for .js entry")
	}
}

func TestSupervisorInstallFailureIsNotFatal(t *testing.T) {
	rt, latest := scriptedRuntime(1)
	sup := sandbox.NewSupervisor(rt)

	if err := sup.Run(context.Background(), testTree(), "app.js"); err != nil {
		t.Fatalf("Run must survive install failure, got %v", err)
	}
	if latest() == nil {
		t.Error("Server process never started")
	}
}

func TestSupervisorKillsPreviousProcess(t *testing.T) {
	rt, latest := scriptedRuntime(0)
	sup := sandbox.NewSupervisor(rt)

	if err := sup.Run(context.Background(), testTree(), "main.go"); err != nil {
		t.Fatalf("First run failed: %v", err)
	}
	first := latest()

	if err := sup.Run(context.Background(), testTree(), "main.go"); err != nil {
		t.Fatalf("Second run failed: %v", err)
	}
	second := latest()

	if first == second {
		t.Fatal("Expected a new process for the second run")
	}
	if !first.Killed() {
		t.Error("Previous process not killed")
	}
	if second.Killed() {
		t.Error("New process must stay alive")
	}
}

func TestSupervisorSurfacesReadyEvent(t *testing.T) {
	rt, latest := scriptedRuntime(0)
	sup := sandbox.NewSupervisor(rt)

	readyCh := make(chan sandbox.ReadyEvent, 1)
	sup.OnReady = func(ev sandbox.ReadyEvent) { readyCh <- ev }

	if err := sup.Run(context.Background(), testTree(), "main.go"); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if got := sup.State(); got != sandbox.StateStarting {
		t.Errorf("Expected starting state, got %s", got)
	}

	latest().EmitReady(sandbox.ReadyEvent{Port: 3000, URL: "http://localhost:3000"})

	select {
	case ev := <-readyCh:
		if ev.Port != 3000 {
			t.Errorf("Unexpected ready event: %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("OnReady never fired")
	}

	waitFor(t, func() bool { return sup.State() == sandbox.StateRunning }, "running state")
	if got := sup.PreviewURL(); got != "http://localhost:3000" {
		t.Errorf("Unexpected preview URL: %q", got)
	}
}

func TestSupervisorStopWithoutProcess(t *testing.T) {
	rt, _ := scriptedRuntime(0)
	sup := sandbox.NewSupervisor(rt)

	if err := sup.Stop(); !errors.Is(err, sandbox.ErrNoProcess) {
		t.Errorf("Expected ErrNoProcess, got %v", err)
	}
}

func TestSupervisorStopKillsProcess(t *testing.T) {
	rt, latest := scriptedRuntime(0)
	sup := sandbox.NewSupervisor(rt)

	if err := sup.Run(context.Background(), testTree(), "main.go"); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if err := sup.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if !latest().Killed() {
		t.Error("Process not killed by stop")
	}
	if got := sup.State(); got != sandbox.StateStopped {
		t.Errorf("Expected stopped state, got %s", got)
	}
}

func TestSupervisorMountFailure(t *testing.T) {
	rt, _ := scriptedRuntime(0)
	rt.MountFunc = func(context.Context, filetree.MountImage) error {
		return errors.New("disk gone")
	}
	sup := sandbox.NewSupervisor(rt)

	var mu sync.Mutex
	var notified error
	sup.OnError = func(err error) {
		mu.Lock()
		notified = err
		mu.Unlock()
	}

	if err := sup.Run(context.Background(), testTree(), "app.js"); err == nil {
		t.Fatal("Expected mount failure to surface")
	}

	mu.Lock()
	defer mu.Unlock()
	if notified == nil {
		t.Error("OnError never fired")
	}
	// Failure resets to idle so the session can retry.
	if got := sup.State(); got != sandbox.StateIdle {
		t.Errorf("Expected idle state after failure, got %s", got)
	}
}

func TestSupervisorMountsNormalizedTree(t *testing.T) {
	rt, _ := scriptedRuntime(0)
	sup := sandbox.NewSupervisor(rt)

	tree := filetree.Tree{
		"src": filetree.NewDir(filetree.Tree{
			"index.js": filetree.NewFile("// index"),
		}),
	}
	if err := sup.Run(context.Background(), tree, "src/index.js"); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(rt.Mounted) != 1 {
		t.Fatalf("Expected 1 mount, got %d", len(rt.Mounted))
	}
	if got := rt.Mounted[0]["src/index.js"]; got != "// index" {
		t.Errorf("Tree not normalized into image: %v", rt.Mounted[0])
	}
}
