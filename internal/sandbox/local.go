package sandbox

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"sync"

	"github.com/devroom-ai/devroom/internal/filetree"
)

// urlPattern matches the preview URL a dev server prints once it is
// listening, e.g. "http://localhost:3000".
var urlPattern = regexp.MustCompile(`https?://(?:localhost|127\.0\.0\.1|0\.0\.0\.0):(\d+)\S*`)

// portPattern matches plainer "listening on port 3000" style lines.
var portPattern = regexp.MustCompile(`(?i)listening on (?:port )?:?(\d+)`)

// LocalRuntime implements Runtime using a directory on the host and
// os/exec. It serves the same contract as a browser sandbox: a mountable
// filesystem image and spawned processes whose output is watched for a
// server-ready signal.
type LocalRuntime struct {
	workdir string // configured root; empty = temp dir per boot

	mu     sync.Mutex
	root   string // live root while booted
	booted bool
}

// NewLocalRuntime creates a runtime rooted at workdir. An empty workdir
// makes every boot use a fresh temp directory.
func NewLocalRuntime(workdir string) *LocalRuntime {
	return &LocalRuntime{workdir: workdir}
}

// Boot prepares the sandbox root directory.
func (r *LocalRuntime) Boot(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.booted {
		return nil
	}

	if r.workdir != "" {
		if err := os.MkdirAll(r.workdir, 0755); err != nil {
			return fmt.Errorf("%w: %v", ErrBootFailed, err)
		}
		r.root = r.workdir
	} else {
		dir, err := os.MkdirTemp("", "devroom-sandbox-")
		if err != nil {
			return fmt.Errorf("%w: %v", ErrBootFailed, err)
		}
		r.root = dir
	}

	r.booted = true
	return nil
}

// Root returns the live sandbox root directory.
func (r *LocalRuntime) Root() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.root
}

// Mount replaces the sandbox filesystem with the image's files.
func (r *LocalRuntime) Mount(_ context.Context, image filetree.MountImage) error {
	r.mu.Lock()
	root, booted := r.root, r.booted
	r.mu.Unlock()

	if !booted {
		return ErrNotBooted
	}

	// Fresh mount: clear whatever the previous run left behind.
	entries, err := os.ReadDir(root)
	if err != nil {
		return fmt.Errorf("read sandbox root: %w", err)
	}
	for _, entry := range entries {
		if err := os.RemoveAll(filepath.Join(root, entry.Name())); err != nil {
			return fmt.Errorf("clear sandbox root: %w", err)
		}
	}

	for path, contents := range image {
		full := filepath.Join(root, filepath.FromSlash(path))
		if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
			return fmt.Errorf("mount %s: %w", path, err)
		}
		if err := os.WriteFile(full, []byte(contents), 0644); err != nil {
			return fmt.Errorf("mount %s: %w", path, err)
		}
	}
	return nil
}

// Mkdir creates a directory inside the sandbox.
func (r *LocalRuntime) Mkdir(path string, recursive bool) error {
	r.mu.Lock()
	root, booted := r.root, r.booted
	r.mu.Unlock()

	if !booted {
		return ErrNotBooted
	}

	full := filepath.Join(root, filepath.FromSlash(path))
	if recursive {
		return os.MkdirAll(full, 0755)
	}
	return os.Mkdir(full, 0755)
}

// Spawn starts a command rooted in the sandbox directory.
func (r *LocalRuntime) Spawn(ctx context.Context, command string, args ...string) (Process, error) {
	r.mu.Lock()
	root, booted := r.root, r.booted
	r.mu.Unlock()

	if !booted {
		return nil, ErrNotBooted
	}

	cmd := exec.CommandContext(ctx, command, args...)
	cmd.Dir = root

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("spawn %s: %w", command, err)
	}
	cmd.Stderr = cmd.Stdout

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("spawn %s: %w", command, err)
	}

	p := &localProcess{
		cmd:    cmd,
		output: make(chan string, 256),
		ready:  make(chan ReadyEvent, 1),
		done:   make(chan struct{}),
	}
	go p.pump(stdout)
	return p, nil
}

// Teardown removes the sandbox filesystem and resets the runtime so it can
// boot again.
func (r *LocalRuntime) Teardown() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.booted {
		return nil
	}
	r.booted = false

	// A configured workdir is the caller's directory; only temp roots are
	// removed.
	if r.workdir == "" && r.root != "" {
		err := os.RemoveAll(r.root)
		r.root = ""
		return err
	}
	r.root = ""
	return nil
}

// localProcess wraps an exec.Cmd as a sandbox Process.
type localProcess struct {
	cmd    *exec.Cmd
	output chan string
	ready  chan ReadyEvent

	readyOnce sync.Once
	waitOnce  sync.Once
	done      chan struct{}
	exitCode  int
	waitErr   error
}

func (p *localProcess) Output() <-chan string          { return p.output }
func (p *localProcess) ServerReady() <-chan ReadyEvent { return p.ready }

// pump scans combined output into the output channel and watches for a
// server-ready line.
func (p *localProcess) pump(out io.Reader) {
	scanner := bufio.NewScanner(out)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		p.detectReady(line)
		select {
		case p.output <- line:
		default: // consumer not keeping up; drop rather than stall the pipe
		}
	}

	p.reap()
	close(p.output)
	p.readyOnce.Do(func() { close(p.ready) })
}

// detectReady emits a ReadyEvent for the first line that looks like a
// server announcing its address.
func (p *localProcess) detectReady(line string) {
	if m := urlPattern.FindStringSubmatch(line); m != nil {
		port, _ := strconv.Atoi(m[1])
		p.readyOnce.Do(func() {
			p.ready <- ReadyEvent{Port: port, URL: m[0]}
			close(p.ready)
		})
		return
	}
	if m := portPattern.FindStringSubmatch(line); m != nil {
		port, _ := strconv.Atoi(m[1])
		p.readyOnce.Do(func() {
			p.ready <- ReadyEvent{Port: port, URL: fmt.Sprintf("http://localhost:%d", port)}
			close(p.ready)
		})
	}
}

func (p *localProcess) Kill() error {
	if p.cmd.Process == nil {
		return ErrNoProcess
	}
	return p.cmd.Process.Kill()
}

// reap collects the exit status exactly once.
func (p *localProcess) reap() {
	p.waitOnce.Do(func() {
		err := p.cmd.Wait()
		if exitErr, ok := err.(*exec.ExitError); ok {
			p.exitCode = exitErr.ExitCode()
			err = nil
		}
		p.waitErr = err
		close(p.done)
	})
}

func (p *localProcess) Wait(ctx context.Context) (int, error) {
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-p.done:
		return p.exitCode, p.waitErr
	}
}
