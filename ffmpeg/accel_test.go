package ffmpeg

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

// fakeProber succeeds only for the listed backends and records calls.
type fakeProber struct {
	mu    sync.Mutex
	ok    map[Backend]bool
	calls []Backend
}

func (f *fakeProber) Probe(_ context.Context, b Backend) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, b)
	if f.ok[b] {
		return nil
	}
	return errors.New("no device")
}

func (f *fakeProber) Calls() []Backend {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Backend(nil), f.calls...)
}

var defaultPriority = []Backend{BackendCUDA, BackendQSV, BackendVAAPI, BackendSoftware}

func TestResolver_Resolve(t *testing.T) {
	ctx := context.Background()

	t.Run("forced backend wins unchecked", func(t *testing.T) {
		p := &fakeProber{}
		r := NewResolver(defaultPriority, p, 0, zerolog.Nop())
		assert.Equal(t, BackendVAAPI, r.Resolve(ctx, "vaapi"))
		assert.Empty(t, p.Calls())
	})

	t.Run("invalid forced name falls back to probing", func(t *testing.T) {
		p := &fakeProber{ok: map[Backend]bool{BackendQSV: true}}
		r := NewResolver(defaultPriority, p, 0, zerolog.Nop())
		assert.Equal(t, BackendQSV, r.Resolve(ctx, "warp-drive"))
		assert.Equal(t, []Backend{BackendCUDA, BackendQSV}, p.Calls())
	})

	t.Run("forced name outside the priority list is ignored", func(t *testing.T) {
		p := &fakeProber{}
		r := NewResolver(defaultPriority, p, 0, zerolog.Nop())
		assert.Equal(t, BackendSoftware, r.Resolve(ctx, "rkmpp"))
	})

	t.Run("first working backend in priority order", func(t *testing.T) {
		p := &fakeProber{ok: map[Backend]bool{BackendCUDA: true, BackendVAAPI: true}}
		r := NewResolver(defaultPriority, p, 0, zerolog.Nop())
		assert.Equal(t, BackendCUDA, r.Resolve(ctx, ""))
	})

	t.Run("software sentinel returns without probing", func(t *testing.T) {
		p := &fakeProber{}
		r := NewResolver([]Backend{BackendSoftware, BackendCUDA}, p, 0, zerolog.Nop())
		assert.Equal(t, BackendSoftware, r.Resolve(ctx, ""))
		assert.Empty(t, p.Calls())
	})

	t.Run("implicit software default without sentinel", func(t *testing.T) {
		p := &fakeProber{}
		r := NewResolver([]Backend{BackendCUDA, BackendQSV}, p, 0, zerolog.Nop())
		assert.Equal(t, BackendSoftware, r.Resolve(ctx, ""))
		assert.Equal(t, []Backend{BackendCUDA, BackendQSV}, p.Calls())
	})

	t.Run("detection result is cached", func(t *testing.T) {
		p := &fakeProber{ok: map[Backend]bool{BackendVAAPI: true}}
		r := NewResolver(defaultPriority, p, time.Minute, zerolog.Nop())
		assert.Equal(t, BackendVAAPI, r.Resolve(ctx, ""))
		assert.Equal(t, BackendVAAPI, r.Resolve(ctx, ""))
		assert.Len(t, p.Calls(), 3)

		r.Invalidate()
		r.Resolve(ctx, "")
		assert.Len(t, p.Calls(), 6)
	})

	t.Run("cancelled detection is not cached", func(t *testing.T) {
		p := ctxProber{ok: map[Backend]bool{BackendCUDA: true}}
		r := NewResolver([]Backend{BackendCUDA, BackendSoftware}, p, time.Minute, zerolog.Nop())

		cancelled, cancel := context.WithCancel(ctx)
		cancel()
		assert.Equal(t, BackendSoftware, r.Resolve(cancelled, ""))
		assert.Equal(t, BackendCUDA, r.Resolve(ctx, ""))
	})
}

// ctxProber fails every probe once its context is done, like exec.CommandContext.
type ctxProber struct {
	ok map[Backend]bool
}

func (p ctxProber) Probe(ctx context.Context, b Backend) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.ok[b] {
		return nil
	}
	return errors.New("no device")
}

func TestParseHWAccels(t *testing.T) {
	out := "Hardware acceleration methods:\nvdpau\ncuda\nvaapi\n\n"
	assert.Equal(t, []string{"vdpau", "cuda", "vaapi"}, parseHWAccels(out))
	assert.Empty(t, parseHWAccels("garbage"))
}
