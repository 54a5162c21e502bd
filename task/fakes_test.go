package task

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"framepipe/config"
	"framepipe/ffmpeg"
	"framepipe/frames"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type fakeProcess struct {
	pid        int
	diag       string
	ignoreTerm bool

	done chan struct{}
	once sync.Once

	mu         sync.Mutex
	code       int
	terminated int
	killed     int
}

func newFakeProcess(pid int) *fakeProcess {
	return &fakeProcess{pid: pid, done: make(chan struct{})}
}

func (p *fakeProcess) exit(code int) {
	p.once.Do(func() {
		p.mu.Lock()
		p.code = code
		p.mu.Unlock()
		close(p.done)
	})
}

func (p *fakeProcess) Pid() int { return p.pid }

func (p *fakeProcess) Alive() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

func (p *fakeProcess) ExitCode() (int, bool) {
	if p.Alive() {
		return 0, false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.code, true
}

func (p *fakeProcess) Done() <-chan struct{} { return p.done }

func (p *fakeProcess) Terminate() error {
	p.mu.Lock()
	p.terminated++
	p.mu.Unlock()
	if !p.ignoreTerm {
		p.exit(-1)
	}
	return nil
}

func (p *fakeProcess) Kill() error {
	p.mu.Lock()
	p.killed++
	p.mu.Unlock()
	p.exit(-1)
	return nil
}

func (p *fakeProcess) Diagnostics() string { return p.diag }

func (p *fakeProcess) counts() (terminated, killed int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.terminated, p.killed
}

// fakeLauncher hands out processes from spawn, or healthy ones by default.
type fakeLauncher struct {
	mu    sync.Mutex
	calls [][]string
	procs []*fakeProcess
	spawn func(n int, args []string) (*fakeProcess, error)
}

func (l *fakeLauncher) Launch(args []string) (ffmpeg.Process, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := len(l.calls)
	l.calls = append(l.calls, args)

	var (
		p   *fakeProcess
		err error
	)
	if l.spawn != nil {
		p, err = l.spawn(n, args)
	} else {
		p = newFakeProcess(1000 + n)
	}
	if err != nil {
		return nil, err
	}
	l.procs = append(l.procs, p)
	return p, nil
}

func (l *fakeLauncher) Calls() [][]string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([][]string(nil), l.calls...)
}

func (l *fakeLauncher) Proc(i int) *fakeProcess {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.procs[i]
}

// deadOnArrival returns a process that has already exited with code.
func deadOnArrival(pid, code int, diag string) *fakeProcess {
	p := newFakeProcess(pid)
	p.diag = diag
	p.exit(code)
	return p
}

type fakeResolver struct {
	backend ffmpeg.Backend

	mu     sync.Mutex
	forced []string
}

func (r *fakeResolver) Resolve(_ context.Context, forced string) ffmpeg.Backend {
	r.mu.Lock()
	r.forced = append(r.forced, forced)
	r.mu.Unlock()
	if b, ok := ffmpeg.ParseBackend(forced); ok {
		return b
	}
	return r.backend
}

type fakeGuard struct{ err error }

func (g fakeGuard) Check() error { return g.err }

var errBusy = errors.New("cpu busy")

type testEnv struct {
	cfg      *config.Config
	manager  *Manager
	launcher *fakeLauncher
	resolver *fakeResolver
	store    *frames.Store
}

func newTestEnv(t *testing.T, backend ffmpeg.Backend) *testEnv {
	t.Helper()

	cfg := &config.Config{
		FrameRoot:      t.TempDir(),
		SourceDir:      t.TempDir(),
		DefaultFPS:     1,
		MaxFPS:         30,
		StartGrace:     20 * time.Millisecond,
		StopTimeout:    50 * time.Millisecond,
		StaleAfter:     5 * time.Minute,
		SourceLifetime: time.Hour,
		MaxInputSize:   1 << 20,
	}
	builder, err := ffmpeg.NewCommandBuilder("error", "")
	require.NoError(t, err)

	env := &testEnv{
		cfg:      cfg,
		launcher: &fakeLauncher{},
		resolver: &fakeResolver{backend: backend},
		store:    frames.NewStore(cfg.FrameRoot, zerolog.Nop()),
	}
	env.manager, err = NewManager(cfg, Deps{
		Store:    env.store,
		Resolver: env.resolver,
		Builder:  builder,
		Launcher: env.launcher,
	}, zerolog.Nop())
	require.NoError(t, err)
	env.manager.stats = func(int) (*ffmpeg.ProcessStats, error) {
		return nil, errors.New("no stats in tests")
	}
	return env
}
