package cmd

import (
	"os"
	"testing"
	"time"

	"framepipe/config"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		// Any executable passes the binary check.
		FFBin:           os.Args[0],
		FrameRoot:       t.TempDir(),
		SourceDir:       t.TempDir(),
		HWAccelPriority: []string{"cuda", "none"},
		DecoderLogLevel: "error",
		StartGrace:      time.Second,
		StopTimeout:     time.Second,
		SweepSchedule:   "@every 10m",
	}
}

func TestBuildComponents(t *testing.T) {
	comps, err := buildComponents(testConfig(t), zerolog.Nop())
	require.NoError(t, err)
	assert.NotNil(t, comps.manager)
	assert.NotNil(t, comps.runner)
	assert.Len(t, comps.resolver.Priority(), 2)
}

func TestBuildComponents_Errors(t *testing.T) {
	cases := map[string]func(*config.Config){
		"missing binary":   func(c *config.Config) { c.FFBin = "definitely-not-ffmpeg-on-path" },
		"unknown backend":  func(c *config.Config) { c.HWAccelPriority = []string{"cuda", "metal"} },
		"bad input args":   func(c *config.Config) { c.DecoderInputArgs = "-i other.mp4" },
		"bad sweep cron":   func(c *config.Config) { c.SweepSchedule = "sometimes" },
		"unbalanced quote": func(c *config.Config) { c.DecoderInputArgs = `-re "x` },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := testConfig(t)
			mutate(cfg)
			_, err := buildComponents(cfg, zerolog.Nop())
			assert.Error(t, err)
		})
	}
}

func TestCommandsRegistered(t *testing.T) {
	names := []string{}
	for _, c := range rootCmd.Commands() {
		names = append(names, c.Name())
	}
	assert.Contains(t, names, "serve")
	assert.Contains(t, names, "probe")
	assert.NotNil(t, rootCmd.PersistentFlags().Lookup("config"))
}
