package task

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"framepipe/ffmpeg"

	"github.com/robfig/cron/v3"
)

// Cleanup clears the frames of cameraID whatever its registry state.
func (m *Manager) Cleanup(cameraID string) error {
	if err := ffmpeg.ValidateCameraID(cameraID); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	m.store.Clear(m.store.Dir(cameraID))
	m.log.Info().Str("camera", cameraID).Msg("frames cleaned up")
	return nil
}

// SweepOrphans clears frame directories that no running camera owns and
// returns the camera IDs it cleared.
func (m *Manager) SweepOrphans() []string {
	names, err := m.store.CameraDirs()
	if err != nil {
		m.log.Error().Err(err).Msg("failed to list frame directories")
		return nil
	}

	var cleared []string
	for _, name := range names {
		if m.clearIfOrphaned(name) {
			cleared = append(cleared, name)
		}
	}

	if len(cleared) > 0 {
		m.log.Info().Strs("cameras", cleared).Msg("cleared orphaned frames")
	}
	m.sweepSources()
	return cleared
}

// clearIfOrphaned clears the frames of cameraID while no start can reserve it.
func (m *Manager) clearIfOrphaned(cameraID string) bool {
	m.sweepMu.Lock()
	defer m.sweepMu.Unlock()

	if !m.orphaned(cameraID) {
		return false
	}
	dir := m.store.Dir(cameraID)
	if m.store.Count(dir) == 0 {
		return false
	}
	m.store.Clear(dir)
	return true
}

func (m *Manager) orphaned(cameraID string) bool {
	t, ok := m.registry.Get(cameraID)
	return !ok || t.Status == StatusStopped
}

// sweepSources removes saved uploads past their lifetime unless a running
// decoder still reads them.
func (m *Manager) sweepSources() {
	if m.cfg.SourceLifetime <= 0 || m.cfg.SourceDir == "" {
		return
	}
	entries, err := os.ReadDir(m.cfg.SourceDir)
	if err != nil {
		if !os.IsNotExist(err) {
			m.log.Error().Err(err).Str("dir", m.cfg.SourceDir).Msg("failed to list uploads")
		}
		return
	}

	inUse := make(map[string]bool)
	for _, t := range m.registry.Snapshot() {
		if t.Status == StatusRunning {
			inUse[t.Source] = true
		}
	}

	cutoff := m.now().Add(-m.cfg.SourceLifetime)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		path := filepath.Join(m.cfg.SourceDir, e.Name())
		if inUse[path] {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(path); err != nil {
			m.log.Warn().Err(err).Str("path", path).Msg("failed to remove expired upload")
			continue
		}
		m.log.Info().Str("path", path).Msg("removed expired upload")
	}
}

// StartSweeper runs SweepOrphans on the configured schedule until ctx is done.
// An empty schedule disables it.
func (m *Manager) StartSweeper(ctx context.Context) error {
	if m.cfg.SweepSchedule == "" {
		return nil
	}

	c := cron.New()
	if _, err := c.AddFunc(m.cfg.SweepSchedule, func() { m.SweepOrphans() }); err != nil {
		return err
	}
	c.Start()
	m.log.Info().Str("schedule", m.cfg.SweepSchedule).Msg("orphan sweeper started")

	go func() {
		<-ctx.Done()
		<-c.Stop().Done()
		m.log.Debug().Msg("orphan sweeper stopped")
	}()
	return nil
}
