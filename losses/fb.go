package losses

import (
	"github.com/flowkit/flowtrain/tensor"
)

// ForwardBackwardLoss penalizes cycle inconsistency between a forward and a
// backward flow field: following the forward flow and then sampling the
// backward flow at the displaced position should return to the start, so
// flowFw(x) + flowBw(x + flowFw(x)) ≈ 0. Positions whose forward
// displacement leaves the image are excluded.
func ForwardBackwardLoss(flowFw, flowBw *tensor.Tensor, cfg Config) *tensor.Tensor {
	bwAtTarget := tensor.WarpAutograd(flowBw, flowFw)
	diff := tensor.AddAutograd(flowFw, bwAtTarget)
	mag := tensor.SumChannelsAutograd(square(diff))

	mask := tensor.InBoundsMask(flowFw)
	return maskedMean(robustPenalty(mag, cfg.FBExp), mask)
}
