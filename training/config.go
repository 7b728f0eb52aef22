// Package training drives optical-flow network training: the epoch loop
// over its three variants, the validation loop, optimizers and learning
// rate schedules, metric accumulation, and reporting to the experiment
// tracking sidecar.
package training

import (
	"fmt"

	"github.com/flowkit/flowtrain/losses"
)

// Mode selects the training variant.
type Mode int

const (
	// ModeSupervised trains against ground-truth flow with a multiscale
	// endpoint-error loss.
	ModeSupervised Mode = iota
	// ModeSelfSupervised trains without labels from a single forward flow,
	// using photometric and smoothness terms.
	ModeSelfSupervised
	// ModeUnflow trains without labels from forward and backward flow with
	// the full census/smoothness/SSIM/consistency objective.
	ModeUnflow
)

func (m Mode) String() string {
	switch m {
	case ModeSupervised:
		return "supervised"
	case ModeSelfSupervised:
		return "selfsupervised"
	case ModeUnflow:
		return "unflow"
	default:
		return "unknown"
	}
}

// ParseMode maps a mode name from the CLI to its value.
func ParseMode(name string) (Mode, error) {
	switch name {
	case "supervised":
		return ModeSupervised, nil
	case "selfsupervised":
		return ModeSelfSupervised, nil
	case "unflow":
		return ModeUnflow, nil
	default:
		return 0, fmt.Errorf("unknown training mode %q", name)
	}
}

// RunConfig carries every knob of a training run. It is validated once
// before the first iteration and read-only afterwards.
type RunConfig struct {
	Arch   string
	Solver string
	Mode   Mode

	BatchSize  int
	Epochs     int
	StartEpoch int
	// EpochSize caps the iterations per epoch; 0 uses the dataset length.
	EpochSize int
	PrintFreq int
	DebugFreq int

	LearningRate float32
	Momentum     float32
	Beta         float32
	WeightDecay  float32
	BiasDecay    float32

	Milestones []int
	Gamma      float32

	// DivFlow converts the network's normalized flow units to pixels.
	DivFlow float32

	// MultiscaleWeights are the supervised per-level loss weights, finest
	// first. Leave empty for the defaults.
	MultiscaleWeights []float32

	// Sparse marks datasets whose ground truth is defined only at labeled
	// pixels, stored as zeros elsewhere.
	Sparse bool

	Loss losses.Config

	SavePath string
}

// DefaultRunConfig returns the tuned configuration for unflow training.
func DefaultRunConfig() RunConfig {
	return RunConfig{
		Arch:         "flownets",
		Solver:       "adam",
		Mode:         ModeUnflow,
		BatchSize:    8,
		Epochs:       300,
		EpochSize:    1000,
		PrintFreq:    200,
		DebugFreq:    500,
		LearningRate: 1e-4,
		Momentum:     0.9,
		Beta:         0.999,
		WeightDecay:  4e-4,
		BiasDecay:    0,
		Milestones:   []int{100, 150, 200},
		Gamma:        0.5,
		DivFlow:      20,
		Loss:         losses.DefaultConfig(),
	}
}

// Validate fails fast on configuration no run could start with.
func (c *RunConfig) Validate() error {
	if c.Arch == "" {
		return fmt.Errorf("architecture name is required")
	}
	if c.Solver != "adam" && c.Solver != "sgd" {
		return fmt.Errorf("unknown solver %q, want adam or sgd", c.Solver)
	}
	if c.Mode != ModeSupervised && c.Mode != ModeSelfSupervised && c.Mode != ModeUnflow {
		return fmt.Errorf("unknown training mode %d", c.Mode)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive, got %d", c.BatchSize)
	}
	if c.EpochSize < 0 {
		return fmt.Errorf("epoch size must be non-negative, got %d", c.EpochSize)
	}
	if c.Epochs <= 0 || c.StartEpoch < 0 || c.StartEpoch >= c.Epochs {
		return fmt.Errorf("invalid epoch range [%d, %d)", c.StartEpoch, c.Epochs)
	}
	if c.LearningRate <= 0 {
		return fmt.Errorf("learning rate must be positive, got %v", c.LearningRate)
	}
	if c.DivFlow <= 0 {
		return fmt.Errorf("div_flow must be positive, got %v", c.DivFlow)
	}
	if c.Mode == ModeSupervised && len(c.MultiscaleWeights) > 0 {
		for _, w := range c.MultiscaleWeights {
			if w < 0 {
				return fmt.Errorf("multiscale weights must be non-negative, got %v", c.MultiscaleWeights)
			}
		}
	}
	return c.Loss.Validate()
}
