package training

import (
	"fmt"
	"math"

	"github.com/flowkit/flowtrain/checkpoints"
	"github.com/flowkit/flowtrain/tensor"
)

// ParamGroup collects parameters sharing optimizer options. Bias tensors
// conventionally get a weight decay of zero while kernels keep the
// configured decay.
type ParamGroup struct {
	Params      []*tensor.Tensor
	WeightDecay float32
}

// Optimizer updates model parameters from their accumulated gradients.
type Optimizer interface {
	// Step applies one update using the gradients currently stored on the
	// parameters. Parameters without a gradient are skipped.
	Step() error

	// ZeroGrad clears all parameter gradients before the next backward pass.
	ZeroGrad()

	// UpdateLearningRate sets the learning rate for subsequent steps.
	UpdateLearningRate(lr float32)

	// LearningRate returns the current learning rate.
	LearningRate() float32

	// GetStepCount returns the number of updates applied so far.
	GetStepCount() uint64

	// GetState extracts optimizer state for checkpointing.
	GetState() *checkpoints.OptimizerState

	// LoadState restores optimizer state from a checkpoint.
	LoadState(state *checkpoints.OptimizerState) error

	// GetName returns the solver name for logging and checkpoints.
	GetName() string
}

// NewOptimizer constructs the named solver over the given parameter groups.
// Recognized names are "adam" and "sgd".
func NewOptimizer(name string, cfg SolverConfig, groups []ParamGroup) (Optimizer, error) {
	switch name {
	case "adam":
		return NewAdamOptimizer(cfg, groups)
	case "sgd":
		return NewSGDOptimizer(cfg, groups)
	default:
		return nil, fmt.Errorf("unknown solver %q, want adam or sgd", name)
	}
}

// SolverConfig carries the hyperparameters shared by the solvers. Momentum
// doubles as Adam's beta1; Beta is Adam's beta2 and is ignored by SGD.
type SolverConfig struct {
	LearningRate float32
	Momentum     float32
	Beta         float32
	Epsilon      float32
}

// DefaultSolverConfig returns the tuned defaults for flow training.
func DefaultSolverConfig() SolverConfig {
	return SolverConfig{
		LearningRate: 1e-4,
		Momentum:     0.9,
		Beta:         0.999,
		Epsilon:      1e-8,
	}
}

type paramState struct {
	param *tensor.Tensor
	decay float32
	m     []float32 // first moment, or momentum buffer for SGD
	v     []float32 // second moment, Adam only
}

// AdamOptimizer implements Adam with bias correction and decoupled
// per-group weight decay.
type AdamOptimizer struct {
	learningRate float32
	beta1        float32
	beta2        float32
	epsilon      float32

	params    []paramState
	stepCount uint64
}

// NewAdamOptimizer creates an Adam optimizer over the parameter groups.
func NewAdamOptimizer(cfg SolverConfig, groups []ParamGroup) (*AdamOptimizer, error) {
	states, err := buildStates(groups, true)
	if err != nil {
		return nil, err
	}
	return &AdamOptimizer{
		learningRate: cfg.LearningRate,
		beta1:        cfg.Momentum,
		beta2:        cfg.Beta,
		epsilon:      cfg.Epsilon,
		params:       states,
	}, nil
}

func buildStates(groups []ParamGroup, secondMoment bool) ([]paramState, error) {
	var states []paramState
	for _, g := range groups {
		for _, p := range g.Params {
			if p == nil {
				return nil, fmt.Errorf("nil parameter in group")
			}
			s := paramState{
				param: p,
				decay: g.WeightDecay,
				m:     make([]float32, p.NumElems),
			}
			if secondMoment {
				s.v = make([]float32, p.NumElems)
			}
			states = append(states, s)
		}
	}
	if len(states) == 0 {
		return nil, fmt.Errorf("no parameters provided")
	}
	return states, nil
}

func (o *AdamOptimizer) Step() error {
	o.stepCount++
	t := float64(o.stepCount)
	correction1 := 1 - math.Pow(float64(o.beta1), t)
	correction2 := 1 - math.Pow(float64(o.beta2), t)

	for i := range o.params {
		s := &o.params[i]
		grad := s.param.Grad()
		if grad == nil {
			continue
		}
		for j, g := range grad.Data {
			if s.decay != 0 {
				g += s.decay * s.param.Data[j]
			}
			s.m[j] = o.beta1*s.m[j] + (1-o.beta1)*g
			s.v[j] = o.beta2*s.v[j] + (1-o.beta2)*g*g

			mHat := float64(s.m[j]) / correction1
			vHat := float64(s.v[j]) / correction2
			s.param.Data[j] -= o.learningRate * float32(mHat/(math.Sqrt(vHat)+float64(o.epsilon)))
		}
	}
	return nil
}

func (o *AdamOptimizer) ZeroGrad() {
	for i := range o.params {
		o.params[i].param.ZeroGrad()
	}
}

func (o *AdamOptimizer) UpdateLearningRate(lr float32) { o.learningRate = lr }
func (o *AdamOptimizer) LearningRate() float32         { return o.learningRate }
func (o *AdamOptimizer) GetStepCount() uint64          { return o.stepCount }
func (o *AdamOptimizer) GetName() string               { return "Adam" }

func (o *AdamOptimizer) GetState() *checkpoints.OptimizerState {
	state := &checkpoints.OptimizerState{
		Type: o.GetName(),
		Parameters: map[string]float64{
			"lr":      float64(o.learningRate),
			"beta1":   float64(o.beta1),
			"beta2":   float64(o.beta2),
			"epsilon": float64(o.epsilon),
		},
		StepCount: o.stepCount,
	}
	for i := range o.params {
		s := &o.params[i]
		state.StateData = append(state.StateData,
			stateTensor(fmt.Sprintf("m_%d", i), s.param.Shape, s.m, "m"),
			stateTensor(fmt.Sprintf("v_%d", i), s.param.Shape, s.v, "v"),
		)
	}
	return state
}

func (o *AdamOptimizer) LoadState(state *checkpoints.OptimizerState) error {
	if state.Type != o.GetName() {
		return fmt.Errorf("state is for solver %q, want %q", state.Type, o.GetName())
	}
	if len(state.StateData) != 2*len(o.params) {
		return fmt.Errorf("state has %d tensors, want %d", len(state.StateData), 2*len(o.params))
	}
	for i := range o.params {
		if err := restoreInto(o.params[i].m, state.StateData[2*i]); err != nil {
			return err
		}
		if err := restoreInto(o.params[i].v, state.StateData[2*i+1]); err != nil {
			return err
		}
	}
	o.stepCount = state.StepCount
	if lr, ok := state.Parameters["lr"]; ok {
		o.learningRate = float32(lr)
	}
	return nil
}

// SGDOptimizer implements stochastic gradient descent with classical
// momentum and per-group weight decay.
type SGDOptimizer struct {
	learningRate float32
	momentum     float32

	params    []paramState
	stepCount uint64
}

// NewSGDOptimizer creates an SGD optimizer over the parameter groups.
func NewSGDOptimizer(cfg SolverConfig, groups []ParamGroup) (*SGDOptimizer, error) {
	states, err := buildStates(groups, false)
	if err != nil {
		return nil, err
	}
	return &SGDOptimizer{
		learningRate: cfg.LearningRate,
		momentum:     cfg.Momentum,
		params:       states,
	}, nil
}

func (o *SGDOptimizer) Step() error {
	o.stepCount++
	for i := range o.params {
		s := &o.params[i]
		grad := s.param.Grad()
		if grad == nil {
			continue
		}
		for j, g := range grad.Data {
			if s.decay != 0 {
				g += s.decay * s.param.Data[j]
			}
			s.m[j] = o.momentum*s.m[j] + g
			s.param.Data[j] -= o.learningRate * s.m[j]
		}
	}
	return nil
}

func (o *SGDOptimizer) ZeroGrad() {
	for i := range o.params {
		o.params[i].param.ZeroGrad()
	}
}

func (o *SGDOptimizer) UpdateLearningRate(lr float32) { o.learningRate = lr }
func (o *SGDOptimizer) LearningRate() float32         { return o.learningRate }
func (o *SGDOptimizer) GetStepCount() uint64          { return o.stepCount }
func (o *SGDOptimizer) GetName() string               { return "SGD" }

func (o *SGDOptimizer) GetState() *checkpoints.OptimizerState {
	state := &checkpoints.OptimizerState{
		Type: o.GetName(),
		Parameters: map[string]float64{
			"lr":       float64(o.learningRate),
			"momentum": float64(o.momentum),
		},
		StepCount: o.stepCount,
	}
	for i := range o.params {
		s := &o.params[i]
		state.StateData = append(state.StateData,
			stateTensor(fmt.Sprintf("momentum_%d", i), s.param.Shape, s.m, "momentum"))
	}
	return state
}

func (o *SGDOptimizer) LoadState(state *checkpoints.OptimizerState) error {
	if state.Type != o.GetName() {
		return fmt.Errorf("state is for solver %q, want %q", state.Type, o.GetName())
	}
	if len(state.StateData) != len(o.params) {
		return fmt.Errorf("state has %d tensors, want %d", len(state.StateData), len(o.params))
	}
	for i := range o.params {
		if err := restoreInto(o.params[i].m, state.StateData[i]); err != nil {
			return err
		}
	}
	o.stepCount = state.StepCount
	if lr, ok := state.Parameters["lr"]; ok {
		o.learningRate = float32(lr)
	}
	return nil
}

func stateTensor(name string, shape []int, data []float32, stateType string) checkpoints.OptimizerTensor {
	shapeCopy := make([]int, len(shape))
	copy(shapeCopy, shape)
	dataCopy := make([]float32, len(data))
	copy(dataCopy, data)
	return checkpoints.OptimizerTensor{
		Name:      name,
		Shape:     shapeCopy,
		Data:      dataCopy,
		StateType: stateType,
	}
}

func restoreInto(dst []float32, src checkpoints.OptimizerTensor) error {
	if len(src.Data) != len(dst) {
		return fmt.Errorf("state tensor %s has %d elements, want %d", src.Name, len(src.Data), len(dst))
	}
	copy(dst, src.Data)
	return nil
}
