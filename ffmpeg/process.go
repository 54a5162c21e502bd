package ffmpeg

import (
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Process is an owned handle on a running decoder.
type Process interface {
	Pid() int
	// Alive reports whether the process has not exited yet. It never blocks.
	Alive() bool
	// ExitCode returns the exit status once the process is gone; ok is false while it runs.
	ExitCode() (code int, ok bool)
	// Done is closed when the process has exited and been reaped.
	Done() <-chan struct{}
	// Terminate asks the process to exit.
	Terminate() error
	// Kill forces the process to exit.
	Kill() error
	// Diagnostics returns the tail of the process's stdout and stderr.
	Diagnostics() string
}

// Launcher starts decoder processes without waiting for them.
type Launcher interface {
	Launch(args []string) (Process, error)
}

const defaultTailBytes = 8 << 10

// ExecLauncher runs the configured ffmpeg binary as a child process.
type ExecLauncher struct {
	bin       string
	tailBytes int
	log       zerolog.Logger
}

func NewExecLauncher(bin string, log zerolog.Logger) *ExecLauncher {
	return &ExecLauncher{bin: bin, tailBytes: defaultTailBytes, log: log}
}

// Launch starts the binary with args. The process is not tied to a context;
// it lives until it exits on its own or is signalled.
func (l *ExecLauncher) Launch(args []string) (Process, error) {
	cmd := exec.Command(l.bin, args...)
	tail := newTailBuffer(l.tailBytes)
	cmd.Stdout = tail
	cmd.Stderr = tail
	// Children that inherit the pipes must not keep Wait from returning.
	cmd.WaitDelay = 2 * time.Second
	setProcessGroup(cmd)

	l.log.Debug().Str("bin", l.bin).Str("args", strings.Join(args, " ")).Msg("launching decoder")

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", l.bin, err)
	}

	p := &execProcess{
		cmd:  cmd,
		tail: tail,
		done: make(chan struct{}),
	}
	go p.wait()
	return p, nil
}

type execProcess struct {
	cmd  *exec.Cmd
	tail *tailBuffer
	done chan struct{}

	mu       sync.Mutex
	exitCode int
}

func (p *execProcess) wait() {
	_ = p.cmd.Wait()
	p.mu.Lock()
	p.exitCode = p.cmd.ProcessState.ExitCode()
	p.mu.Unlock()
	close(p.done)
}

func (p *execProcess) Pid() int {
	return p.cmd.Process.Pid
}

func (p *execProcess) Alive() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

func (p *execProcess) ExitCode() (int, bool) {
	if p.Alive() {
		return 0, false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitCode, true
}

func (p *execProcess) Done() <-chan struct{} {
	return p.done
}

func (p *execProcess) Terminate() error {
	if !p.Alive() {
		return nil
	}
	return terminate(p.cmd)
}

func (p *execProcess) Kill() error {
	if !p.Alive() {
		return nil
	}
	return kill(p.cmd)
}

func (p *execProcess) Diagnostics() string {
	return p.tail.String()
}

// tailBuffer is an io.Writer that keeps only the last max bytes written.
type tailBuffer struct {
	mu  sync.Mutex
	max int
	buf []byte
}

func newTailBuffer(max int) *tailBuffer {
	return &tailBuffer{max: max}
}

func (t *tailBuffer) Write(b []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.buf = append(t.buf, b...)
	if over := len(t.buf) - t.max; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
	return len(b), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.TrimSpace(string(t.buf))
}
