// Package sandbox provides an abstraction for the isolated filesystem and
// process execution environment that project file trees are mounted into
// and run inside, plus the supervisor that manages its lifecycle.
package sandbox

import (
	"context"
	"errors"

	"github.com/devroom-ai/devroom/internal/filetree"
)

// Sentinel errors for sandbox operations.
var (
	// ErrNotBooted indicates an operation was attempted before Boot.
	ErrNotBooted = errors.New("sandbox not booted")

	// ErrBootFailed indicates the sandbox environment failed to come up.
	ErrBootFailed = errors.New("sandbox boot failed")

	// ErrNoProcess indicates there is no live process to operate on.
	ErrNoProcess = errors.New("no process running")
)

// Runtime abstracts the sandbox execution environment. One runtime is
// owned by exactly one client session; it is never shared.
type Runtime interface {
	// Boot prepares the environment. Calling Boot on a booted runtime is
	// a no-op.
	Boot(ctx context.Context) error

	// Mount replaces the sandbox filesystem with the given image.
	Mount(ctx context.Context, image filetree.MountImage) error

	// Mkdir creates a directory inside the sandbox filesystem.
	Mkdir(path string, recursive bool) error

	// Spawn starts a process inside the sandbox.
	Spawn(ctx context.Context, command string, args ...string) (Process, error)

	// Teardown destroys the environment. The runtime may be booted again
	// afterwards.
	Teardown() error
}

// ReadyEvent signals that a spawned server is accepting connections.
type ReadyEvent struct {
	Port int
	URL  string
}

// Process is a handle to one spawned sandbox process.
type Process interface {
	// Output streams the process's combined output, line by line. The
	// channel closes when the process exits.
	Output() <-chan string

	// ServerReady delivers at most one ready event when the process
	// reports a listening server. The channel closes without an event if
	// the process exits before becoming ready.
	ServerReady() <-chan ReadyEvent

	// Kill terminates the process.
	Kill() error

	// Wait blocks until the process exits and returns its exit code.
	Wait(ctx context.Context) (int, error)
}
