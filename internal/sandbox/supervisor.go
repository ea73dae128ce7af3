package sandbox

import (
	"context"
	"fmt"
	"log"
	"path"
	"strings"
	"sync"

	"github.com/devroom-ai/devroom/internal/filetree"
)

// State is the supervisor lifecycle phase.
type State string

const (
	StateIdle       State = "idle"
	StateBooting    State = "booting"
	StateMounting   State = "mounting"
	StateInstalling State = "installing"
	StateStarting   State = "starting"
	StateRunning    State = "running"
	StateStopped    State = "stopped"
	StateFailed     State = "failed"
)

// Supervisor owns one runtime and drives the mount-install-start lifecycle
// for a session. It memoizes the boot so concurrent runs share a single
// environment, and it guarantees at most one live server process: starting
// a new run kills the previous process first.
type Supervisor struct {
	runtime Runtime

	mu      sync.Mutex
	state   State
	booting chan struct{} // non-nil while a boot is in flight
	bootErr error
	booted  bool
	proc    Process
	preview string

	// OnReady is invoked when a spawned server reports it is listening.
	// Optional; called outside the supervisor lock.
	OnReady func(ReadyEvent)

	// OnOutput receives each line of process output. Optional.
	OnOutput func(line string)

	// OnError is invoked when a run fails after the boot phase. Optional.
	OnError func(err error)
}

// NewSupervisor creates a supervisor over the given runtime.
func NewSupervisor(runtime Runtime) *Supervisor {
	return &Supervisor{runtime: runtime, state: StateIdle}
}

// State returns the current lifecycle phase.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// PreviewURL returns the URL of the running server, or empty when no
// server has reported ready.
func (s *Supervisor) PreviewURL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.preview
}

// ensureBooted boots the runtime exactly once. Concurrent callers wait on
// the in-flight boot and share its outcome. A failed boot resets so a later
// call can retry.
func (s *Supervisor) ensureBooted(ctx context.Context) error {
	s.mu.Lock()
	if s.booted {
		s.mu.Unlock()
		return nil
	}
	if s.booting != nil {
		wait := s.booting
		s.mu.Unlock()
		select {
		case <-wait:
		case <-ctx.Done():
			return ctx.Err()
		}
		s.mu.Lock()
		err := s.bootErr
		s.mu.Unlock()
		return err
	}

	wait := make(chan struct{})
	s.booting = wait
	s.state = StateBooting
	s.mu.Unlock()

	err := s.runtime.Boot(ctx)

	s.mu.Lock()
	s.booting = nil
	s.bootErr = err
	if err != nil {
		s.state = StateFailed
	} else {
		s.booted = true
	}
	s.mu.Unlock()
	close(wait)

	if err != nil {
		return fmt.Errorf("%w: %v", ErrBootFailed, err)
	}
	return nil
}

// Run mounts the tree and starts the project's dev server. entryPath is the
// file the user launched from; its directory is created ahead of the mount
// and its extension decides whether dependencies are installed first. Any
// previous server process is killed before the new one starts.
func (s *Supervisor) Run(ctx context.Context, tree filetree.Tree, entryPath string) error {
	if err := s.ensureBooted(ctx); err != nil {
		return err
	}

	s.setState(StateMounting)

	// The entry file's directory is created up front so a tree that
	// references it only implicitly still mounts cleanly. Failure here is
	// not fatal; the mount itself will surface real problems.
	if dir := path.Dir(entryPath); dir != "" && dir != "." && dir != "/" {
		if err := s.runtime.Mkdir(dir, true); err != nil {
			log.Printf("[Supervisor] mkdir %s: %v", dir, err)
		}
	}

	image := filetree.Normalize(tree, "")
	if err := s.runtime.Mount(ctx, image); err != nil {
		return s.fail(fmt.Errorf("mount: %w", err))
	}

	if needsInstall(entryPath) {
		s.setState(StateInstalling)
		if err := s.install(ctx); err != nil {
			// Install problems are reported but do not block the run; the
			// project may already carry its dependencies.
			log.Printf("[Supervisor] Install failed: %v", err)
		}
	}

	s.killCurrent()

	s.setState(StateStarting)
	proc, err := s.runtime.Spawn(ctx, "npm", "start")
	if err != nil {
		return s.fail(fmt.Errorf("start: %w", err))
	}

	s.mu.Lock()
	s.proc = proc
	s.preview = ""
	s.mu.Unlock()

	go s.watch(proc)
	return nil
}

// install runs the dependency install and waits for it to finish so its
// output does not interleave with the server's.
func (s *Supervisor) install(ctx context.Context) error {
	proc, err := s.runtime.Spawn(ctx, "npm", "install")
	if err != nil {
		return err
	}
	go s.drainOutput(proc)
	code, err := proc.Wait(ctx)
	if err != nil {
		return err
	}
	if code != 0 {
		return fmt.Errorf("npm install exited with code %d", code)
	}
	return nil
}

// watch follows a server process: it forwards output, records the ready
// event, and marks the supervisor stopped when the process exits.
func (s *Supervisor) watch(proc Process) {
	go func() {
		for ready := range proc.ServerReady() {
			s.mu.Lock()
			s.state = StateRunning
			s.preview = ready.URL
			s.mu.Unlock()
			log.Printf("[Supervisor] Server ready on port %d: %s", ready.Port, ready.URL)
			if s.OnReady != nil {
				s.OnReady(ready)
			}
		}
	}()

	s.drainOutput(proc)

	s.mu.Lock()
	if s.proc == proc {
		s.proc = nil
		s.preview = ""
		if s.state == StateRunning || s.state == StateStarting {
			s.state = StateStopped
		}
	}
	s.mu.Unlock()
}

func (s *Supervisor) drainOutput(proc Process) {
	for line := range proc.Output() {
		if s.OnOutput != nil {
			s.OnOutput(line)
		}
	}
}

// Stop kills the current server process, if any.
func (s *Supervisor) Stop() error {
	s.mu.Lock()
	proc := s.proc
	s.proc = nil
	s.preview = ""
	if proc != nil {
		s.state = StateStopped
	}
	s.mu.Unlock()

	if proc == nil {
		return ErrNoProcess
	}
	return proc.Kill()
}

// Teardown stops any process and destroys the sandbox environment. The
// supervisor returns to idle and may boot again.
func (s *Supervisor) Teardown() error {
	_ = s.Stop()

	s.mu.Lock()
	s.booted = false
	s.bootErr = nil
	s.state = StateIdle
	s.mu.Unlock()

	return s.runtime.Teardown()
}

func (s *Supervisor) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// fail records a run failure, notifies, and resets to idle so the session
// can try again without rebooting.
func (s *Supervisor) fail(err error) error {
	s.mu.Lock()
	s.state = StateFailed
	s.mu.Unlock()

	log.Printf("[Supervisor] Run failed: %v", err)
	if s.OnError != nil {
		s.OnError(err)
	}

	s.mu.Lock()
	s.state = StateIdle
	s.mu.Unlock()
	return err
}

// killCurrent terminates the previous server process before a replacement
// starts. A kill error is logged; the old process is abandoned either way.
func (s *Supervisor) killCurrent() {
	s.mu.Lock()
	proc := s.proc
	s.proc = nil
	s.mu.Unlock()

	if proc == nil {
		return
	}
	if err := proc.Kill(); err != nil {
		log.Printf("[Supervisor] Failed to kill previous process: %v", err)
	}
}

// needsInstall reports whether the entry file's language implies an npm
// dependency install before starting.
func needsInstall(entryPath string) bool {
	ext := strings.ToLower(path.Ext(entryPath))
	return ext == ".js" || ext == ".ts"
}
