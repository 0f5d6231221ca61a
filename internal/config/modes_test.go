package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgeflow/drillctl/internal/cycle"
)

const sampleModeTable = `
modes:
  1:
    steps_cycle1: 1000
    steps_intermediate: 200
    steps_cycle2: 800
    revolutions_level1: 5
    revolutions_level2: 3
    linear_half_period_us: 1200
    drill_half_period_us: 900
constants:
  home_rebound_steps: 425
  limit_rebound_steps: 300
  limit_rebound_half_period_us: 2500
  home_half_period_us: 3900
  drill_burst_half_period_us: 2640
  drill_burst_step_edges: 200
  spindle_revolutions_cycle2_bursts: 3
  pulses_per_spindle_revolution: 400
  pre_cycle_drill_warmup_ms: 2000
  pause_resume_delay_ms: 2000
  manual_velocity_slow_us: 5000
  manual_velocity_fast_us: 800
  joystick_low_threshold: 352
  joystick_high_threshold: 652
`

func writeModeFile(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "modes.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadModeTable_ParsesModesAndConstants(t *testing.T) {
	path := writeModeFile(t, sampleModeTable)

	modes, consts, err := LoadModeTable(path)
	require.NoError(t, err)

	require.Contains(t, modes, 1)
	assert.Equal(t, 1000, modes[1].StepsCycle1)
	assert.Equal(t, 200, modes[1].StepsIntermediate)
	assert.Equal(t, uint64(1200), modes[1].LinearHalfPeriodUs)

	assert.Equal(t, 425, consts.HomeReboundSteps)
	assert.Equal(t, 200, consts.DrillBurstStepEdges)
	assert.Equal(t, 400, consts.PulsesPerSpindleRevolution)
}

func TestLoadModeTable_MissingFile(t *testing.T) {
	_, _, err := LoadModeTable(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadModeTable_MalformedYAML(t *testing.T) {
	path := writeModeFile(t, "modes: [this is not a mode table")
	_, _, err := LoadModeTable(path)
	assert.Error(t, err)
}

func TestModeWatcher_ReloadsOnWrite(t *testing.T) {
	path := writeModeFile(t, sampleModeTable)

	reloaded := make(chan error, 1)
	w, err := NewModeWatcher(path, func(modes map[int]cycle.ModeParams, consts cycle.SystemConstants, rerr error) {
		reloaded <- rerr
	})
	require.NoError(t, err)
	defer w.Close()

	// Modify the file; fsnotify should fire a Write event and re-parse.
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte(sampleModeTable), 0o644))

	select {
	case err := <-reloaded:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("mode watcher did not observe the write")
	}
}
