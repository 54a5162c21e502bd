package ffmpeg

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Prober tests whether a backend can decode on this host.
type Prober interface {
	Probe(ctx context.Context, backend Backend) error
}

// ExecProber decodes one synthetic frame with the real binary.
type ExecProber struct {
	bin     string
	builder *CommandBuilder
	timeout time.Duration
}

func NewExecProber(bin string, builder *CommandBuilder, timeout time.Duration) *ExecProber {
	return &ExecProber{bin: bin, builder: builder, timeout: timeout}
}

func (p *ExecProber) Probe(ctx context.Context, backend Backend) error {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, p.bin, p.builder.ProbeArgs(backend)...)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("probe %s: %w: %s", backend, err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

// Resolver picks the acceleration backend for a decode.
type Resolver struct {
	priority []Backend
	prober   Prober
	cacheTTL time.Duration
	log      zerolog.Logger

	mu       sync.Mutex
	cached   Backend
	cachedAt time.Time
}

func NewResolver(priority []Backend, prober Prober, cacheTTL time.Duration, log zerolog.Logger) *Resolver {
	return &Resolver{
		priority: priority,
		prober:   prober,
		cacheTTL: cacheTTL,
		log:      log,
	}
}

// Priority returns the configured candidate order.
func (r *Resolver) Priority() []Backend {
	return append([]Backend(nil), r.priority...)
}

func (r *Resolver) allowed(b Backend) bool {
	for _, p := range r.priority {
		if p == b {
			return true
		}
	}
	return false
}

// Resolve returns forced when it names a configured backend, without probing
// it. Anything else, including unknown names, goes through detection.
func (r *Resolver) Resolve(ctx context.Context, forced string) Backend {
	if forced != "" {
		if b, ok := ParseBackend(forced); ok && r.allowed(b) {
			return b
		}
		r.log.Debug().Str("forced", forced).Msg("ignoring unrecognised backend override")
	}
	return r.Detect(ctx)
}

// Detect walks the priority list and returns the first backend whose probe
// passes, or the software sentinel.
func (r *Resolver) Detect(ctx context.Context) Backend {
	r.mu.Lock()
	if r.cacheTTL > 0 && r.cached != "" && time.Since(r.cachedAt) < r.cacheTTL {
		b := r.cached
		r.mu.Unlock()
		return b
	}
	r.mu.Unlock()

	// Probes can take seconds; concurrent callers may probe twice rather than queue.
	b := r.detect(ctx)
	if ctx.Err() != nil {
		// Probes cut short by the caller say nothing about the host.
		return b
	}

	r.mu.Lock()
	r.cached = b
	r.cachedAt = time.Now()
	r.mu.Unlock()
	return b
}

func (r *Resolver) detect(ctx context.Context) Backend {
	for _, b := range r.priority {
		if b.IsSoftware() {
			r.log.Info().Msg("using software decoding")
			return b
		}
		if err := r.prober.Probe(ctx, b); err != nil {
			r.log.Debug().Err(err).Str("backend", b.String()).Msg("backend unavailable")
			continue
		}
		r.log.Info().Str("backend", b.String()).Msg("hardware acceleration available")
		return b
	}

	r.log.Warn().Msg("no hardware acceleration available, using software decoding")
	return BackendSoftware
}

// Invalidate drops the cached detection result.
func (r *Resolver) Invalidate() {
	r.mu.Lock()
	r.cached = ""
	r.mu.Unlock()
}

// ListHWAccels returns the methods reported by `ffmpeg -hwaccels`.
func ListHWAccels(ctx context.Context, bin string) ([]string, error) {
	cmd := exec.CommandContext(ctx, bin, "-hide_banner", "-hwaccels")
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("listing hwaccels: %w", err)
	}
	return parseHWAccels(string(out)), nil
}

func parseHWAccels(output string) []string {
	accels := []string{}
	inList := false
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "Hardware acceleration methods") {
			inList = true
			continue
		}
		if inList && line != "" {
			accels = append(accels, line)
		}
	}
	return accels
}
