package losses

import (
	"github.com/flowkit/flowtrain/tensor"
)

// LevelFunc evaluates a loss term on one pyramid level of forward and
// backward flow, already scaled to real displacement units.
type LevelFunc func(flowFw, flowBw *tensor.Tensor) *tensor.Tensor

// Multiscale applies fn across the flow pyramids and sums the per-level
// results. Pyramids are finest first; each prediction is multiplied by
// divFlow to recover real displacements before fn sees it. When multiscale
// is false only the finest level contributes. The second return value holds
// the detached per-level loss values for reporting.
func Multiscale(predFw, predBw []*tensor.Tensor, divFlow float32, multiscale bool, fn LevelFunc) (*tensor.Tensor, []float32) {
	levels := len(predFw)
	if len(predBw) != levels {
		panic("losses: pyramid length mismatch")
	}
	if !multiscale {
		levels = 1
	}

	total := tensor.FromScalar(0)
	values := make([]float32, levels)
	for i := 0; i < levels; i++ {
		fw := tensor.ScaleAutograd(predFw[i], divFlow)
		bw := tensor.ScaleAutograd(predBw[i], divFlow)
		level := fn(fw, bw)
		values[i] = scalarValue(level)
		total = tensor.AddAutograd(total, level)
	}
	return total, values
}
