package losses

import (
	"github.com/flowkit/flowtrain/tensor"
)

// PhotometricLoss penalizes brightness differences between im1 and im2
// warped into im1's frame by flow, with a generalized Charbonnier penalty
// and out-of-frame samples masked out.
func PhotometricLoss(im1, im2, flow *tensor.Tensor, cfg Config) *tensor.Tensor {
	ref := adaptImage(im1, flow)
	warped := tensor.WarpAutograd(adaptImage(im2, flow), flow)

	diff := tensor.SubAutograd(ref, warped)
	mag := tensor.SumChannelsAutograd(square(diff))

	mask := tensor.InBoundsMask(flow)
	return maskedMean(robustPenalty(mag, cfg.PhotoExp), mask)
}
