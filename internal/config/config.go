// Package config loads the runtime's tunable knobs — tick rates, dispatcher
// capacity hints, descriptor cache size, script resource limits — from YAML,
// the way vamplite's service-layer sibling loads its own Config: a
// New() with sane defaults, a Load(path) that overlays a file onto them, and
// a struct shape that round-trips cleanly through yaml.v3.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// TickConfig controls the two cadences cmd/demo drives (spec.md §5): frame
// (Update) and fixed-step (Fixed). Realtime/Multi threads are stepped only by
// runtime.Runtime.StepRealtime, which no rate here controls; cmd/demo does
// not call it.
type TickConfig struct {
	UpdateHz int `yaml:"update_hz"`
	FixedHz  int `yaml:"fixed_hz"`
}

// UpdateInterval returns the wall-clock period between Update ticks.
func (t TickConfig) UpdateInterval() time.Duration {
	return hzToInterval(t.UpdateHz)
}

// FixedInterval returns the wall-clock period between Fixed ticks.
func (t TickConfig) FixedInterval() time.Duration {
	return hzToInterval(t.FixedHz)
}

func hzToInterval(hz int) time.Duration {
	if hz <= 0 {
		return 0
	}
	return time.Second / time.Duration(hz)
}

// DispatcherConfig holds capacity hints for the event dispatcher (package
// event). event.NewDispatcher takes no arguments and nothing in this module
// reads these fields; the dispatcher's maps grow incrementally.
type DispatcherConfig struct {
	ListenerCapacityHint     int `yaml:"listener_capacity_hint"`
	SubscriptionCapacityHint int `yaml:"subscription_capacity_hint"`
}

// StorageConfig holds a size for the descriptor cache (package storage).
// storage.DescriptorCache has no size limit and does not read this field.
type StorageConfig struct {
	DescriptorCacheSize int `yaml:"descriptor_cache_size"`
}

// ScriptConfig holds host-script fiber resource limits (package script).
// script.NewFiber takes no configuration and nothing in this module reads
// these fields.
type ScriptConfig struct {
	// MaxStepsPerResume is a per-Resume Lua instruction budget, zero meaning
	// unbounded. A script.Fiber's Resume runs until the coroutine yields or
	// returns, whatever this is set to.
	MaxStepsPerResume int `yaml:"max_steps_per_resume"`
	// MaxFibers is a cap on live script fibers across the whole runtime,
	// zero meaning unbounded. No fiber count is tracked.
	MaxFibers int `yaml:"max_fibers"`
}

// RuntimeConfig is the top-level configuration structure.
type RuntimeConfig struct {
	Tick       TickConfig       `yaml:"tick"`
	Dispatcher DispatcherConfig `yaml:"dispatcher"`
	Storage    StorageConfig    `yaml:"storage"`
	Script     ScriptConfig     `yaml:"script"`
}

// New returns a RuntimeConfig populated with defaults matching a typical
// two-cadence game loop: 60Hz frame updates, 50Hz fixed-step.
func New() *RuntimeConfig {
	return &RuntimeConfig{
		Tick: TickConfig{
			UpdateHz: 60,
			FixedHz:  50,
		},
		Dispatcher: DispatcherConfig{
			ListenerCapacityHint:     256,
			SubscriptionCapacityHint: 1024,
		},
		Storage: StorageConfig{
			DescriptorCacheSize: 64,
		},
		Script: ScriptConfig{
			MaxStepsPerResume: 100_000,
			MaxFibers:         512,
		},
	}
}

// Load reads path and overlays it onto New()'s defaults. A missing file is
// not an error: the caller gets defaults back, matching the teacher's own
// "config file is optional" Load semantics.
func Load(path string) (*RuntimeConfig, error) {
	cfg := New()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}
