package config

import (
	"fmt"
	"os"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/edgeflow/drillctl/internal/cycle"
)

// ModeTable is the on-disk schema for the 5 named modes and the
// system-wide constants of spec.md §3/§6.
type ModeTable struct {
	Modes     map[int]ModeEntry  `yaml:"modes"`
	Constants ConstantsEntry     `yaml:"constants"`
}

// ModeEntry is one mode's yaml representation.
type ModeEntry struct {
	StepsCycle1        int    `yaml:"steps_cycle1"`
	StepsIntermediate  int    `yaml:"steps_intermediate"`
	StepsCycle2        int    `yaml:"steps_cycle2"`
	RevolutionsLevel1  int    `yaml:"revolutions_level1"`
	RevolutionsLevel2  int    `yaml:"revolutions_level2"`
	LinearHalfPeriodUs uint64 `yaml:"linear_half_period_us"`
	DrillHalfPeriodUs  uint64 `yaml:"drill_half_period_us"`
}

// ConstantsEntry is the yaml representation of spec.md's system-wide
// constants (those not bound per-mode).
type ConstantsEntry struct {
	HomeReboundSteps               int    `yaml:"home_rebound_steps"`
	LimitReboundSteps              int    `yaml:"limit_rebound_steps"`
	LimitReboundHalfPeriodUs       uint64 `yaml:"limit_rebound_half_period_us"`
	HomeHalfPeriodUs               uint64 `yaml:"home_half_period_us"`
	DrillBurstHalfPeriodUs          uint64 `yaml:"drill_burst_half_period_us"`
	DrillBurstStepEdges             int    `yaml:"drill_burst_step_edges"`
	SpindleRevolutionsCycle2Bursts  int    `yaml:"spindle_revolutions_cycle2_bursts"`
	PulsesPerSpindleRevolution      int    `yaml:"pulses_per_spindle_revolution"`
	PreCycleDrillWarmupMs           int    `yaml:"pre_cycle_drill_warmup_ms"`
	PauseResumeDelayMs              int    `yaml:"pause_resume_delay_ms"`
	ManualVelocitySlowUs            int    `yaml:"manual_velocity_slow_us"`
	ManualVelocityFastUs            int    `yaml:"manual_velocity_fast_us"`
	JoystickLowThreshold            int    `yaml:"joystick_low_threshold"`
	JoystickHighThreshold           int    `yaml:"joystick_high_threshold"`
	LinearDirectionInvert           bool   `yaml:"linear_direction_invert"`
	DrillDirectionInvert            bool   `yaml:"drill_direction_invert"`
	CycleDirectionInvert            bool   `yaml:"cycle_direction_invert"`
}

func (e ModeEntry) toParams() cycle.ModeParams {
	return cycle.ModeParams{
		StepsCycle1:        e.StepsCycle1,
		StepsIntermediate:  e.StepsIntermediate,
		StepsCycle2:        e.StepsCycle2,
		RevolutionsLevel1:  e.RevolutionsLevel1,
		RevolutionsLevel2:  e.RevolutionsLevel2,
		LinearHalfPeriodUs: e.LinearHalfPeriodUs,
		DrillHalfPeriodUs:  e.DrillHalfPeriodUs,
	}
}

func (c ConstantsEntry) toConstants() cycle.SystemConstants {
	return cycle.SystemConstants{
		HomeReboundSteps:               c.HomeReboundSteps,
		LimitReboundSteps:              c.LimitReboundSteps,
		LimitReboundHalfPeriodUs:       c.LimitReboundHalfPeriodUs,
		HomeHalfPeriodUs:               c.HomeHalfPeriodUs,
		DrillBurstHalfPeriodUs:         c.DrillBurstHalfPeriodUs,
		DrillBurstStepEdges:            c.DrillBurstStepEdges,
		SpindleRevolutionsCycle2Bursts: c.SpindleRevolutionsCycle2Bursts,
		PulsesPerSpindleRevolution:     c.PulsesPerSpindleRevolution,
		PreCycleDrillWarmupMs:          c.PreCycleDrillWarmupMs,
		PauseResumeDelayMs:             c.PauseResumeDelayMs,
		ManualVelocitySlowUs:           c.ManualVelocitySlowUs,
		ManualVelocityFastUs:           c.ManualVelocityFastUs,
		JoystickLowThreshold:           c.JoystickLowThreshold,
		JoystickHighThreshold:          c.JoystickHighThreshold,
		LinearDirectionInvert:          c.LinearDirectionInvert,
		DrillDirectionInvert:           c.DrillDirectionInvert,
		CycleDirectionInvert:           c.CycleDirectionInvert,
	}
}

// LoadModeTable parses the mode-table yaml file at path.
func LoadModeTable(path string) (map[int]cycle.ModeParams, cycle.SystemConstants, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, cycle.SystemConstants{}, fmt.Errorf("read mode table: %w", err)
	}

	var table ModeTable
	if err := yaml.Unmarshal(raw, &table); err != nil {
		return nil, cycle.SystemConstants{}, fmt.Errorf("parse mode table: %w", err)
	}

	modes := make(map[int]cycle.ModeParams, len(table.Modes))
	for n, e := range table.Modes {
		modes[n] = e.toParams()
	}
	return modes, table.Constants.toConstants(), nil
}

// ModeWatcher re-reads the mode-table file on disk change and hands the
// parsed result to OnReload. The watcher only delivers the parsed table:
// it applies nothing and does not look at the cycle phase, so whether and
// when a reloaded table takes effect is up to OnReload. The coordinator
// has no reload handling of its own, and cmd/drillctl does not start a
// watcher.
type ModeWatcher struct {
	path     string
	watcher  *fsnotify.Watcher
	OnReload func(modes map[int]cycle.ModeParams, consts cycle.SystemConstants, err error)

	mu      sync.Mutex
	closed  bool
}

// NewModeWatcher starts watching path for writes, invoking OnReload with
// every re-parse (successful or not) until Close is called.
func NewModeWatcher(path string, onReload func(map[int]cycle.ModeParams, cycle.SystemConstants, error)) (*ModeWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create mode watcher: %w", err)
	}
	if err := w.Add(path); err != nil {
		w.Close()
		return nil, fmt.Errorf("watch mode table: %w", err)
	}

	mw := &ModeWatcher{path: path, watcher: w, OnReload: onReload}
	go mw.loop()
	return mw, nil
}

func (mw *ModeWatcher) loop() {
	for {
		select {
		case event, ok := <-mw.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			modes, consts, err := LoadModeTable(mw.path)
			if mw.OnReload != nil {
				mw.OnReload(modes, consts, err)
			}
		case err, ok := <-mw.watcher.Errors:
			if !ok {
				return
			}
			if mw.OnReload != nil {
				mw.OnReload(nil, cycle.SystemConstants{}, err)
			}
		}
	}
}

// Close stops the watcher.
func (mw *ModeWatcher) Close() error {
	mw.mu.Lock()
	defer mw.mu.Unlock()
	if mw.closed {
		return nil
	}
	mw.closed = true
	return mw.watcher.Close()
}
