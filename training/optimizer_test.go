package training

import (
	"math"
	"testing"

	"github.com/flowkit/flowtrain/tensor"
)

// quadStep runs one backward pass of f(w) = sum(w^2) so the gradient on w
// is 2w.
func quadStep(t *testing.T, w *tensor.Tensor) {
	t.Helper()
	loss := tensor.SumAutograd(tensor.MulAutograd(w, w))
	if err := loss.Backward(); err != nil {
		t.Fatalf("backward failed: %v", err)
	}
}

func newParam(t *testing.T, values []float32) *tensor.Tensor {
	t.Helper()
	p, err := tensor.NewTensor([]int{len(values)}, values)
	if err != nil {
		t.Fatal(err)
	}
	p.SetRequiresGrad(true)
	return p
}

func TestAdamConvergesOnQuadratic(t *testing.T) {
	w := newParam(t, []float32{1, -2, 3})
	cfg := DefaultSolverConfig()
	cfg.LearningRate = 0.05
	opt, err := NewAdamOptimizer(cfg, []ParamGroup{{Params: []*tensor.Tensor{w}}})
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 300; i++ {
		opt.ZeroGrad()
		quadStep(t, w)
		if err := opt.Step(); err != nil {
			t.Fatal(err)
		}
	}
	for i, v := range w.Data {
		if math.Abs(float64(v)) > 0.2 {
			t.Errorf("w[%d] = %v after 300 Adam steps, want ~0", i, v)
		}
	}
	if opt.GetStepCount() != 300 {
		t.Errorf("step count = %d, want 300", opt.GetStepCount())
	}
}

func TestSGDStepWithMomentum(t *testing.T) {
	w := newParam(t, []float32{1})
	cfg := DefaultSolverConfig()
	cfg.LearningRate = 0.1
	cfg.Momentum = 0.5
	opt, err := NewSGDOptimizer(cfg, []ParamGroup{{Params: []*tensor.Tensor{w}}})
	if err != nil {
		t.Fatal(err)
	}

	// grad = 2w = 2; buf = 2; w = 1 - 0.1*2 = 0.8
	opt.ZeroGrad()
	quadStep(t, w)
	if err := opt.Step(); err != nil {
		t.Fatal(err)
	}
	if math.Abs(float64(w.Data[0]-0.8)) > 1e-6 {
		t.Fatalf("after first step w = %v, want 0.8", w.Data[0])
	}

	// grad = 1.6; buf = 0.5*2 + 1.6 = 2.6; w = 0.8 - 0.26 = 0.54
	opt.ZeroGrad()
	quadStep(t, w)
	if err := opt.Step(); err != nil {
		t.Fatal(err)
	}
	if math.Abs(float64(w.Data[0]-0.54)) > 1e-6 {
		t.Errorf("after second step w = %v, want 0.54", w.Data[0])
	}
}

func TestWeightDecayAppliesPerGroup(t *testing.T) {
	decayed := newParam(t, []float32{1})
	plain := newParam(t, []float32{1})
	cfg := DefaultSolverConfig()
	cfg.LearningRate = 0.1
	cfg.Momentum = 0
	opt, err := NewSGDOptimizer(cfg, []ParamGroup{
		{Params: []*tensor.Tensor{decayed}, WeightDecay: 1},
		{Params: []*tensor.Tensor{plain}, WeightDecay: 0},
	})
	if err != nil {
		t.Fatal(err)
	}

	// Identical gradients; only the decayed group sees the extra w term.
	opt.ZeroGrad()
	quadStep(t, decayed)
	quadStep(t, plain)
	if err := opt.Step(); err != nil {
		t.Fatal(err)
	}

	if math.Abs(float64(plain.Data[0]-0.8)) > 1e-6 {
		t.Errorf("undecayed w = %v, want 0.8", plain.Data[0])
	}
	if math.Abs(float64(decayed.Data[0]-0.7)) > 1e-6 {
		t.Errorf("decayed w = %v, want 0.7", decayed.Data[0])
	}
}

func TestOptimizerStateRoundTrip(t *testing.T) {
	build := func() (Optimizer, *tensor.Tensor) {
		w := newParam(t, []float32{1, -1})
		cfg := DefaultSolverConfig()
		opt, err := NewAdamOptimizer(cfg, []ParamGroup{{Params: []*tensor.Tensor{w}}})
		if err != nil {
			t.Fatal(err)
		}
		return opt, w
	}

	src, w := build()
	for i := 0; i < 5; i++ {
		src.ZeroGrad()
		quadStep(t, w)
		if err := src.Step(); err != nil {
			t.Fatal(err)
		}
	}

	state := src.GetState()
	if state.Type != "Adam" || state.StepCount != 5 {
		t.Fatalf("state = %s/%d, want Adam/5", state.Type, state.StepCount)
	}

	dst, w2 := build()
	if err := dst.LoadState(state); err != nil {
		t.Fatalf("LoadState failed: %v", err)
	}
	if dst.GetStepCount() != 5 {
		t.Errorf("restored step count = %d, want 5", dst.GetStepCount())
	}

	// Same gradients must now produce the same update on both.
	for _, pair := range []struct {
		opt Optimizer
		p   *tensor.Tensor
	}{{src, w}, {dst, w2}} {
		pair.p.Data[0], pair.p.Data[1] = 0.5, -0.5
		pair.opt.ZeroGrad()
		quadStep(t, pair.p)
		if err := pair.opt.Step(); err != nil {
			t.Fatal(err)
		}
	}
	for i := range w.Data {
		if math.Abs(float64(w.Data[i]-w2.Data[i])) > 1e-6 {
			t.Errorf("diverged at %d: %v vs %v", i, w.Data[i], w2.Data[i])
		}
	}
}

func TestLoadStateRejectsMismatch(t *testing.T) {
	w := newParam(t, []float32{1})
	opt, err := NewAdamOptimizer(DefaultSolverConfig(), []ParamGroup{{Params: []*tensor.Tensor{w}}})
	if err != nil {
		t.Fatal(err)
	}

	sgd, err := NewSGDOptimizer(DefaultSolverConfig(), []ParamGroup{{Params: []*tensor.Tensor{w}}})
	if err != nil {
		t.Fatal(err)
	}
	if err := opt.LoadState(sgd.GetState()); err == nil {
		t.Error("expected error loading SGD state into Adam, got nil")
	}
}

func TestNewOptimizerByName(t *testing.T) {
	w := newParam(t, []float32{1})
	groups := []ParamGroup{{Params: []*tensor.Tensor{w}}}

	adam, err := NewOptimizer("adam", DefaultSolverConfig(), groups)
	if err != nil || adam.GetName() != "Adam" {
		t.Errorf("adam: (%v, %v)", adam, err)
	}
	sgd, err := NewOptimizer("sgd", DefaultSolverConfig(), groups)
	if err != nil || sgd.GetName() != "SGD" {
		t.Errorf("sgd: (%v, %v)", sgd, err)
	}
	if _, err := NewOptimizer("lbfgs", DefaultSolverConfig(), groups); err == nil {
		t.Error("expected error for unknown solver, got nil")
	}
	if _, err := NewOptimizer("adam", DefaultSolverConfig(), nil); err == nil {
		t.Error("expected error for empty parameter groups, got nil")
	}
}
