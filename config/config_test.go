// framepipe/config/config_test.go
package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"framepipe/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	t.Run("loads default values correctly", func(t *testing.T) {
		cfg, err := config.Load("")
		require.NoError(t, err)
		require.NotNil(t, cfg)

		assert.Equal(t, "8002", cfg.Port)
		assert.Equal(t, "ffmpeg", cfg.FFBin)
		assert.Equal(t, []string{"cuda", "qsv", "vaapi", "none"}, cfg.HWAccelPriority)
		assert.Equal(t, 1, cfg.DefaultFPS)
		assert.Equal(t, 2*time.Second, cfg.StartGrace)
		assert.Equal(t, 5*time.Second, cfg.StopTimeout)
		assert.Equal(t, 5*time.Minute, cfg.StaleAfter)
		assert.Equal(t, "@every 10m", cfg.SweepSchedule)
		assert.Equal(t, int64(2*1024*1024*1024), cfg.MaxInputSize)
		assert.Equal(t, int64(64*1024*1024), cfg.ThrottleFreeMem)
	})

	t.Run("overrides defaults with environment variables", func(t *testing.T) {
		t.Setenv("FRAMEPIPE_PORT", "9999")
		t.Setenv("FRAMEPIPE_HW_ACCEL_PRIORITY", "vaapi, none")
		t.Setenv("FRAMEPIPE_START_GRACE", "750ms")
		t.Setenv("FRAMEPIPE_MAX_INPUT_SIZE", "50MB")
		t.Setenv("FRAMEPIPE_THROTTLE_CPU", "25")
		t.Setenv("FRAMEPIPE_LOG_CONSOLE", "true")

		cfg, err := config.Load("")
		require.NoError(t, err)

		assert.Equal(t, "9999", cfg.Port)
		assert.Equal(t, []string{"vaapi", "none"}, cfg.HWAccelPriority)
		assert.Equal(t, 750*time.Millisecond, cfg.StartGrace)
		assert.Equal(t, int64(50*1024*1024), cfg.MaxInputSize)
		assert.Equal(t, 25.0, cfg.ThrottleCPU)
		assert.True(t, cfg.LogConsole)
	})

	t.Run("reads an explicit config file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "framepipe.yaml")
		body := "FRAME_ROOT: /data/frames\nSTALE_AFTER: 90s\nDEFAULT_FPS: 5\n"
		require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

		cfg, err := config.Load(path)
		require.NoError(t, err)

		assert.Equal(t, "/data/frames", cfg.FrameRoot)
		assert.Equal(t, 90*time.Second, cfg.StaleAfter)
		assert.Equal(t, 5, cfg.DefaultFPS)
	})

	t.Run("missing explicit config file is an error", func(t *testing.T) {
		_, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Error(t, err)
	})
}
