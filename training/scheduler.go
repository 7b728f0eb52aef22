package training

import (
	"math"
	"sort"
)

// LRScheduler defines the interface for learning rate scheduling strategies.
// Schedulers are pure functions of the epoch so a run can be resumed at any
// epoch without replaying state.
type LRScheduler interface {
	// GetLR returns the learning rate for the given epoch.
	GetLR(epoch int, baseLR float32) float32

	// GetName returns the scheduler name for logging.
	GetName() string
}

// MultiStepLRScheduler multiplies the learning rate by Gamma each time a
// milestone epoch is reached.
type MultiStepLRScheduler struct {
	Milestones []int
	Gamma      float32
}

// NewMultiStepLRScheduler creates a milestone scheduler. Milestones are
// sorted; an empty list leaves the learning rate constant.
func NewMultiStepLRScheduler(milestones []int, gamma float32) *MultiStepLRScheduler {
	if gamma <= 0 || gamma >= 1 {
		gamma = 0.5
	}
	sorted := make([]int, len(milestones))
	copy(sorted, milestones)
	sort.Ints(sorted)
	return &MultiStepLRScheduler{
		Milestones: sorted,
		Gamma:      gamma,
	}
}

func (s *MultiStepLRScheduler) GetLR(epoch int, baseLR float32) float32 {
	times := 0
	for _, m := range s.Milestones {
		if epoch >= m {
			times++
		}
	}
	return baseLR * float32(math.Pow(float64(s.Gamma), float64(times)))
}

func (s *MultiStepLRScheduler) GetName() string {
	return "MultiStepLR"
}

// StepLRScheduler reduces the learning rate by Gamma every StepSize epochs.
type StepLRScheduler struct {
	StepSize int
	Gamma    float32
}

// NewStepLRScheduler creates a fixed-interval decay scheduler.
func NewStepLRScheduler(stepSize int, gamma float32) *StepLRScheduler {
	if stepSize <= 0 {
		stepSize = 30
	}
	if gamma <= 0 || gamma >= 1 {
		gamma = 0.1
	}
	return &StepLRScheduler{
		StepSize: stepSize,
		Gamma:    gamma,
	}
}

func (s *StepLRScheduler) GetLR(epoch int, baseLR float32) float32 {
	times := epoch / s.StepSize
	return baseLR * float32(math.Pow(float64(s.Gamma), float64(times)))
}

func (s *StepLRScheduler) GetName() string {
	return "StepLR"
}

// NoOpScheduler keeps the learning rate constant.
type NoOpScheduler struct{}

func (s *NoOpScheduler) GetLR(epoch int, baseLR float32) float32 {
	return baseLR
}

func (s *NoOpScheduler) GetName() string {
	return "None"
}
