package losses

import (
	"github.com/flowkit/flowtrain/tensor"
)

// TernaryLoss compares census descriptors between a reference image and a
// second image warped into its frame by flow. Descriptor mismatch per
// neighborhood offset is soft-thresholded so single outliers saturate, and
// positions whose warp target falls outside the image are excluded.
//
// The flow is in pixel units at the images' resolution; imWarp is the image
// being pulled toward imRef (for forward flow, pass im2 as imWarp and im1
// as imRef).
func TernaryLoss(imWarp, imRef, flow *tensor.Tensor, maxDistance int) *tensor.Tensor {
	ref := adaptImage(imRef, flow)
	moving := adaptImage(imWarp, flow)

	warped := tensor.WarpAutograd(moving, flow)
	t1 := tensor.CensusTransformAutograd(ref, maxDistance)
	t2 := tensor.CensusTransformAutograd(warped, maxDistance)

	diff := tensor.SubAutograd(t1, t2)
	sq := square(diff)
	// Soft Hamming distance: each offset contributes at most 1.
	dist := tensor.DivAutograd(sq, tensor.AddScalarAutograd(sq, 0.1))
	perPixel := tensor.SumChannelsAutograd(dist)

	mask := tensor.InBoundsMask(flow)
	return maskedMean(perPixel, mask)
}
