// Package mock provides configurable sandbox implementations for tests.
package mock

import (
	"context"
	"sync"

	"github.com/devroom-ai/devroom/internal/filetree"
	"github.com/devroom-ai/devroom/internal/sandbox"
)

// Runtime is a sandbox.Runtime whose behavior is driven by optional func
// fields. Unset fields succeed with zero values. Call counts are recorded
// for assertions.
type Runtime struct {
	BootFunc     func(ctx context.Context) error
	MountFunc    func(ctx context.Context, image filetree.MountImage) error
	MkdirFunc    func(path string, recursive bool) error
	SpawnFunc    func(ctx context.Context, command string, args ...string) (sandbox.Process, error)
	TeardownFunc func() error

	mu         sync.Mutex
	BootCalls  int
	MountCalls int
	Mounted    []filetree.MountImage
	Spawned    [][]string
}

func (r *Runtime) Boot(ctx context.Context) error {
	r.mu.Lock()
	r.BootCalls++
	r.mu.Unlock()
	if r.BootFunc != nil {
		return r.BootFunc(ctx)
	}
	return nil
}

func (r *Runtime) Mount(ctx context.Context, image filetree.MountImage) error {
	r.mu.Lock()
	r.MountCalls++
	r.Mounted = append(r.Mounted, image)
	r.mu.Unlock()
	if r.MountFunc != nil {
		return r.MountFunc(ctx, image)
	}
	return nil
}

func (r *Runtime) Mkdir(path string, recursive bool) error {
	if r.MkdirFunc != nil {
		return r.MkdirFunc(path, recursive)
	}
	return nil
}

func (r *Runtime) Spawn(ctx context.Context, command string, args ...string) (sandbox.Process, error) {
	r.mu.Lock()
	r.Spawned = append(r.Spawned, append([]string{command}, args...))
	r.mu.Unlock()
	if r.SpawnFunc != nil {
		return r.SpawnFunc(ctx, command, args...)
	}
	return NewProcess(), nil
}

func (r *Runtime) Teardown() error {
	if r.TeardownFunc != nil {
		return r.TeardownFunc()
	}
	return nil
}

// SpawnCommands returns the commands spawned so far, in order.
func (r *Runtime) SpawnCommands() [][]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([][]string, len(r.Spawned))
	copy(out, r.Spawned)
	return out
}

// Process is a scriptable sandbox.Process. Tests drive it with EmitOutput,
// EmitReady, and Exit; connections observe it through the interface.
type Process struct {
	output chan string
	ready  chan sandbox.ReadyEvent

	mu       sync.Mutex
	killed   bool
	exited   chan struct{}
	exitCode int

	KillFunc func() error
}

// NewProcess creates an idle mock process.
func NewProcess() *Process {
	return &Process{
		output: make(chan string, 64),
		ready:  make(chan sandbox.ReadyEvent, 1),
		exited: make(chan struct{}),
	}
}

func (p *Process) Output() <-chan string                  { return p.output }
func (p *Process) ServerReady() <-chan sandbox.ReadyEvent { return p.ready }

// EmitOutput delivers one output line.
func (p *Process) EmitOutput(line string) { p.output <- line }

// EmitReady delivers the server-ready event.
func (p *Process) EmitReady(ev sandbox.ReadyEvent) {
	p.ready <- ev
	close(p.ready)
}

// Exit finishes the process with the given exit code.
func (p *Process) Exit(code int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	select {
	case <-p.exited:
		return
	default:
	}
	p.exitCode = code
	close(p.exited)
	close(p.output)
	select {
	case <-p.ready:
	default:
		close(p.ready)
	}
}

func (p *Process) Kill() error {
	p.mu.Lock()
	p.killed = true
	kill := p.KillFunc
	p.mu.Unlock()
	if kill != nil {
		return kill()
	}
	p.Exit(-1)
	return nil
}

// Killed reports whether Kill was called.
func (p *Process) Killed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.killed
}

func (p *Process) Wait(ctx context.Context) (int, error) {
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-p.exited:
		p.mu.Lock()
		defer p.mu.Unlock()
		return p.exitCode, nil
	}
}
