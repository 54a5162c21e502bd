package task

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"framepipe/config"
	"framepipe/ffmpeg"
	"framepipe/frames"

	"github.com/lithammer/shortuuid/v4"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// BackendResolver picks the acceleration backend for a new decoder.
type BackendResolver interface {
	Resolve(ctx context.Context, forced string) ffmpeg.Backend
}

// ResourceChecker gates new decoders on host capacity.
type ResourceChecker interface {
	Check() error
}

// Deps are the collaborators a Manager drives.
type Deps struct {
	Store    *frames.Store
	Resolver BackendResolver
	Builder  *ffmpeg.CommandBuilder
	Launcher ffmpeg.Launcher
	Guard    ResourceChecker
}

// Manager supervises one decoder process per camera.
type Manager struct {
	cfg      *config.Config
	log      zerolog.Logger
	registry *Registry
	store    *frames.Store
	resolver BackendResolver
	builder  *ffmpeg.CommandBuilder
	launcher ffmpeg.Launcher
	guard    ResourceChecker

	// seq numbers start reservations.
	seq atomic.Uint64
	// sweepMu keeps an orphan sweep's check and clear of one directory from
	// interleaving with a reservation.
	sweepMu sync.RWMutex

	now   func() time.Time
	stats func(pid int) (*ffmpeg.ProcessStats, error)
}

func NewManager(cfg *config.Config, deps Deps, log zerolog.Logger) (*Manager, error) {
	if deps.Store == nil || deps.Resolver == nil || deps.Builder == nil || deps.Launcher == nil {
		return nil, fmt.Errorf("task manager requires a store, resolver, builder and launcher")
	}
	if cfg.SweepSchedule != "" {
		if _, err := cron.ParseStandard(cfg.SweepSchedule); err != nil {
			return nil, fmt.Errorf("invalid sweep schedule %q: %w", cfg.SweepSchedule, err)
		}
	}

	m := &Manager{
		cfg:      cfg,
		log:      log.With().Str("component", "task_manager").Logger(),
		registry: NewRegistry(),
		store:    deps.Store,
		resolver: deps.Resolver,
		builder:  deps.Builder,
		launcher: deps.Launcher,
		guard:    deps.Guard,
		now:      time.Now,
		stats:    ffmpeg.Stats,
	}
	return m, nil
}

// Start launches a decoder for req.CameraID unless one is already running.
func (m *Manager) Start(ctx context.Context, req StartRequest) (*StartResult, error) {
	id := req.CameraID
	if err := ffmpeg.ValidateCameraID(id); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	hasUpload := req.Upload != nil
	hasURL := strings.TrimSpace(req.SourceURL) != ""
	if hasUpload == hasURL {
		return nil, fmt.Errorf("%w: exactly one of a file or a URL must be provided", ErrInvalidRequest)
	}
	fps := req.FPS
	if fps <= 0 {
		fps = m.cfg.DefaultFPS
	}
	if fps <= 0 {
		fps = 1
	}
	if m.cfg.MaxFPS > 0 && fps > m.cfg.MaxFPS {
		return nil, fmt.Errorf("%w: fps %d exceeds the limit of %d", ErrInvalidRequest, fps, m.cfg.MaxFPS)
	}

	log := m.log.With().Str("camera", id).Logger()
	outputDir := m.store.Dir(id)

	// A running entry without a handle is a start still inside its grace
	// period; it counts as running so concurrent starts do not race it. The
	// token identifies this call's reservation for every later write.
	token := m.seq.Add(1)
	var (
		existing       CameraTask
		alreadyRunning bool
		prior          CameraTask
		hadPrior       bool
	)
	m.sweepMu.RLock()
	m.registry.Apply(id, func(cur CameraTask, ok bool) (CameraTask, bool) {
		if ok && cur.Status == StatusRunning && (cur.Process == nil || cur.Process.Alive()) {
			existing, alreadyRunning = cur, true
			return cur, false
		}
		prior, hadPrior = cur, ok
		now := m.now()
		return CameraTask{
			OutputDir:   outputDir,
			Status:      StatusRunning,
			FPS:         fps,
			StartedAt:   now,
			UpdatedAt:   now,
			reservation: token,
		}, true
	})
	m.sweepMu.RUnlock()
	if alreadyRunning {
		log.Info().Msg("decoding already running")
		return alreadyRunningResult(existing), nil
	}

	source, err := m.materialize(req)
	if err != nil {
		if errors.Is(err, ErrInvalidRequest) {
			m.release(id, token, prior, hadPrior)
		} else {
			m.fail(id, token, outputDir, "", "", fps, err.Error())
		}
		return nil, err
	}

	if err := m.store.Ensure(outputDir); err != nil {
		m.fail(id, token, outputDir, source, "", fps, err.Error())
		return nil, fmt.Errorf("creating output folder: %w", err)
	}
	m.store.Clear(outputDir)

	if m.guard != nil {
		if err := m.guard.Check(); err != nil {
			m.fail(id, token, outputDir, source, "", fps, err.Error())
			return nil, fmt.Errorf("%w: %v", ErrInsufficientResources, err)
		}
	}

	// Probe results are shared by every camera, so a caller going away must
	// not cut them short.
	resolved := m.resolver.Resolve(context.WithoutCancel(ctx), req.ForceBackend)
	attempts := []ffmpeg.Backend{resolved}
	if !resolved.IsSoftware() {
		attempts = append(attempts, ffmpeg.BackendSoftware)
	}

	var (
		diag    string
		backend ffmpeg.Backend
	)
	for i := range attempts {
		backend = attempts[i]
		if !m.reserved(id, token) {
			return m.superseded(log, id)
		}

		proc, d := m.attempt(log, source, backend, fps, outputDir)
		if proc != nil {
			now := m.now()
			committed := m.commit(id, token, CameraTask{
				Source:    source,
				Backend:   backend,
				FPS:       fps,
				OutputDir: outputDir,
				Status:    StatusRunning,
				Process:   proc,
				StartedAt: now,
				UpdatedAt: now,
			})
			if !committed {
				// Stopped or replaced during the grace period: the decoder has
				// no entry to own it, so it must not outlive this call.
				m.terminate(id, proc)
				return m.superseded(log, id)
			}
			log.Info().Int("pid", proc.Pid()).Str("backend", backend.String()).
				Str("source", source).Int("fps", fps).Msg("decode started")
			return &StartResult{CameraID: id, Status: StartStarted, OutputDir: outputDir, Backend: backend}, nil
		}
		diag = d
		if i+1 < len(attempts) {
			log.Warn().Str("backend", backend.String()).Str("diagnostic", d).
				Msg("accelerated decode exited immediately, retrying with software decoding")
		}
	}

	m.fail(id, token, outputDir, source, backend, fps, diag)
	log.Error().Str("diagnostic", diag).Msg("decode failed to start")
	return nil, &StartError{CameraID: id, Backend: backend, Diagnostic: diag}
}

func alreadyRunningResult(t CameraTask) *StartResult {
	return &StartResult{
		CameraID:  t.CameraID,
		Status:    StartAlreadyRunning,
		OutputDir: t.OutputDir,
		Backend:   t.Backend,
	}
}

// ownedBy reports whether cur is still the reservation made under token.
func ownedBy(cur CameraTask, ok bool, token uint64) bool {
	return ok && cur.reservation == token && cur.Status == StatusRunning && cur.Process == nil
}

func (m *Manager) reserved(id string, token uint64) bool {
	cur, ok := m.registry.Get(id)
	return ownedBy(cur, ok, token)
}

// commit replaces the reservation with next. It writes nothing and returns
// false once the reservation has been stopped or replaced.
func (m *Manager) commit(id string, token uint64, next CameraTask) bool {
	written := false
	m.registry.Apply(id, func(cur CameraTask, ok bool) (CameraTask, bool) {
		if !ownedBy(cur, ok, token) {
			return cur, false
		}
		next.reservation = token
		written = true
		return next, true
	})
	return written
}

// release undoes a reservation, restoring whatever entry it replaced.
func (m *Manager) release(id string, token uint64, prior CameraTask, hadPrior bool) {
	if hadPrior {
		m.commit(id, token, prior)
		return
	}
	m.registry.DeleteIf(id, func(cur CameraTask) bool {
		return ownedBy(cur, true, token)
	})
}

// superseded reports the state a start lost its reservation to.
func (m *Manager) superseded(log zerolog.Logger, id string) (*StartResult, error) {
	cur, ok := m.registry.Get(id)
	if ok && cur.Status == StatusRunning {
		log.Info().Msg("start superseded by a newer start")
		return alreadyRunningResult(cur), nil
	}
	log.Info().Msg("start interrupted by stop")
	return nil, ErrStartInterrupted
}

// attempt launches one decoder and waits out the grace period. It returns the
// live process, or nil and a diagnostic when the decoder died first.
func (m *Manager) attempt(log zerolog.Logger, source string, backend ffmpeg.Backend, fps int, outputDir string) (ffmpeg.Process, string) {
	// Frames from an attempt that just died must not count for the next one.
	m.store.Clear(outputDir)

	args := m.builder.Build(source, backend, fps, m.store.Template(outputDir))
	log.Debug().Str("backend", backend.String()).Strs("args", args).Msg("starting decoder")

	proc, err := m.launcher.Launch(args)
	if err != nil {
		return nil, err.Error()
	}

	timer := time.NewTimer(m.cfg.StartGrace)
	defer timer.Stop()

	select {
	case <-proc.Done():
		code, _ := proc.ExitCode()
		diag := proc.Diagnostics()
		if diag == "" {
			diag = fmt.Sprintf("decoder exited with code %d", code)
		}
		return nil, diag
	case <-timer.C:
		return proc, ""
	}
}

// fail records an error entry with no process handle, unless the
// reservation under token has already been stopped or replaced.
func (m *Manager) fail(id string, token uint64, outputDir, source string, backend ffmpeg.Backend, fps int, diag string) {
	now := m.now()
	m.commit(id, token, CameraTask{
		Source:    source,
		Backend:   backend,
		FPS:       fps,
		OutputDir: outputDir,
		Status:    StatusError,
		LastError: diag,
		StartedAt: now,
		UpdatedAt: now,
	})
}

// materialize returns the decoder input, persisting an upload first.
func (m *Manager) materialize(req StartRequest) (string, error) {
	if req.Upload == nil {
		return strings.TrimSpace(req.SourceURL), nil
	}

	if err := os.MkdirAll(m.cfg.SourceDir, 0o755); err != nil {
		return "", fmt.Errorf("creating source folder: %w", err)
	}

	ext := filepath.Ext(filepath.Base(req.UploadName))
	path := filepath.Join(m.cfg.SourceDir, fmt.Sprintf("%s_%s%s", req.CameraID, shortuuid.New(), ext))
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("saving upload: %w", err)
	}

	var r io.Reader = req.Upload
	if m.cfg.MaxInputSize > 0 {
		r = &io.LimitedReader{R: req.Upload, N: m.cfg.MaxInputSize + 1}
	}
	written, err := io.Copy(f, r)
	closeErr := f.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(path)
		return "", fmt.Errorf("saving upload: %w", err)
	}
	if m.cfg.MaxInputSize > 0 && written > m.cfg.MaxInputSize {
		os.Remove(path)
		return "", fmt.Errorf("%w: input file size exceeds limit of %d bytes", ErrInvalidRequest, m.cfg.MaxInputSize)
	}

	m.log.Info().Str("camera", req.CameraID).Str("path", path).Int64("bytes", written).Msg("upload saved")
	return path, nil
}

// Stop terminates the camera's decoder and removes its frames. Unknown
// cameras are reported, not treated as an error.
func (m *Manager) Stop(cameraID string) StopResult {
	var (
		proc ffmpeg.Process
		dir  string
	)
	// Detaching the handle under the lock makes this caller its sole owner,
	// so no other stop or status can signal the same process.
	_, found := m.registry.Apply(cameraID, func(cur CameraTask, ok bool) (CameraTask, bool) {
		if !ok {
			return cur, false
		}
		proc, dir = cur.Process, cur.OutputDir
		cur.Process = nil
		cur.Status = StatusStopped
		cur.LastError = ""
		cur.UpdatedAt = m.now()
		return cur, true
	})
	if !found {
		m.log.Info().Str("camera", cameraID).Msg("stop requested for unknown camera")
		return StopResult{CameraID: cameraID, Status: StopNotFound}
	}

	if proc != nil && proc.Alive() {
		m.terminate(cameraID, proc)
	}
	m.store.Clear(dir)

	m.log.Info().Str("camera", cameraID).Msg("decoding stopped")
	return StopResult{CameraID: cameraID, Status: StopStopped}
}

// terminate signals proc, escalating to a kill after the stop timeout.
func (m *Manager) terminate(cameraID string, proc ffmpeg.Process) {
	log := m.log.With().Str("camera", cameraID).Int("pid", proc.Pid()).Logger()

	if err := proc.Terminate(); err != nil {
		log.Warn().Err(err).Msg("failed to signal decoder")
	}

	select {
	case <-proc.Done():
		log.Debug().Msg("decoder exited gracefully")
		return
	case <-time.After(m.cfg.StopTimeout):
	}

	log.Warn().Msg("decoder did not exit gracefully, killing")
	if err := proc.Kill(); err != nil {
		log.Warn().Err(err).Msg("failed to kill decoder")
	}

	select {
	case <-proc.Done():
	case <-time.After(2 * time.Second):
		log.Error().Msg("decoder still running after kill")
	}
}

// Status reconciles the recorded state with the process and returns it.
func (m *Manager) Status(cameraID string) StatusResult {
	cur, ok := m.registry.Get(cameraID)
	if !ok {
		return StatusResult{CameraID: cameraID, Status: StatusNotStarted}
	}

	if proc := cur.Process; proc != nil && cur.Status == StatusRunning {
		if code, exited := proc.ExitCode(); exited {
			updated, ok := m.registry.Apply(cameraID, func(t CameraTask, ok bool) (CameraTask, bool) {
				// Only the entry that still owns this handle may transition.
				if !ok || t.Process != proc || t.Status != StatusRunning {
					return t, false
				}
				if code == 0 {
					t.Status = StatusCompleted
					t.LastError = ""
				} else {
					t.Status = StatusError
					t.LastError = exitDiagnostic(code, proc.Diagnostics())
				}
				t.UpdatedAt = m.now()
				return t, true
			})
			if ok {
				cur = updated
			}
			m.log.Info().Str("camera", cameraID).Int("exit_code", code).
				Str("status", string(cur.Status)).Msg("decoder exited")
		}
	}

	return m.describe(cur)
}

func exitDiagnostic(code int, diag string) string {
	msg := fmt.Sprintf("Process exited with code %d", code)
	if diag = strings.TrimSpace(diag); diag != "" {
		if i := strings.LastIndexByte(diag, '\n'); i >= 0 {
			diag = diag[i+1:]
		}
		msg += ": " + diag
	}
	return msg
}

func (m *Manager) describe(t CameraTask) StatusResult {
	res := StatusResult{
		CameraID:   t.CameraID,
		Status:     t.Status,
		FrameCount: m.store.Count(t.OutputDir),
		LastError:  t.LastError,
		Backend:    t.Backend,
		Source:     t.Source,
		OutputDir:  t.OutputDir,
		FPS:        t.FPS,
	}
	if !t.StartedAt.IsZero() {
		started := t.StartedAt
		res.StartedAt = &started
	}
	if t.Process != nil && t.Process.Alive() && t.Process.Pid() > 0 {
		res.PID = t.Process.Pid()
		if s, err := m.stats(res.PID); err == nil {
			res.Stats = s
		}
	}
	return res
}

// List reconciles and returns every known camera.
func (m *Manager) List() []StatusResult {
	tasks := m.registry.Snapshot()
	out := make([]StatusResult, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, m.Status(t.CameraID))
	}
	return out
}

// LatestFrame returns the path of the newest frame for cameraID. A frame older
// than the staleness threshold means the decoder stalled: the frames are
// cleared and ErrStaleFrame returned instead.
func (m *Manager) LatestFrame(cameraID string) (string, error) {
	t, ok := m.registry.Get(cameraID)
	if !ok {
		return "", ErrTaskNotFound
	}
	if !frames.Exists(t.OutputDir) {
		return "", ErrOutputMissing
	}

	path, modTime, ok := m.store.Latest(t.OutputDir)
	if !ok {
		return "", ErrNoFrames
	}

	if age := m.now().Sub(modTime); m.cfg.StaleAfter > 0 && age > m.cfg.StaleAfter {
		m.log.Warn().Str("camera", cameraID).Dur("age", age).Msg("latest frame is too old, cleaning up")
		m.store.Clear(t.OutputDir)
		return "", fmt.Errorf("%w (age %s)", ErrStaleFrame, age.Truncate(time.Second))
	}
	return path, nil
}

// Shutdown terminates every live decoder. Frames stay on disk for the sweeper.
func (m *Manager) Shutdown() {
	var wg sync.WaitGroup
	for _, t := range m.registry.Snapshot() {
		if t.Process == nil || !t.Process.Alive() {
			continue
		}
		wg.Add(1)
		go func(id string, proc ffmpeg.Process) {
			defer wg.Done()
			m.terminate(id, proc)
		}(t.CameraID, t.Process)
	}
	wg.Wait()
}
