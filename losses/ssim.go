package losses

import (
	"github.com/flowkit/flowtrain/tensor"
)

// SSIM window constants for images in [0, 1] units.
const (
	ssimC1 = 0.01 * 0.01
	ssimC2 = 0.03 * 0.03
)

// SSIMLoss warps im2 into im1's frame by flow and returns (1 - SSIM)/2
// averaged over 3x3 local windows, so structurally identical images score
// zero and maximally dissimilar ones approach one.
func SSIMLoss(im1, im2, flow *tensor.Tensor) *tensor.Tensor {
	x := adaptImage(im1, flow)
	y := tensor.WarpAutograd(adaptImage(im2, flow), flow)

	pool := func(t *tensor.Tensor) *tensor.Tensor {
		return tensor.AvgPool2DAutograd(t, 3, 1, 1)
	}

	muX := pool(x)
	muY := pool(y)
	muXY := tensor.MulAutograd(muX, muY)
	muXX := square(muX)
	muYY := square(muY)

	sigmaX := tensor.SubAutograd(pool(square(x)), muXX)
	sigmaY := tensor.SubAutograd(pool(square(y)), muYY)
	sigmaXY := tensor.SubAutograd(pool(tensor.MulAutograd(x, y)), muXY)

	num := tensor.MulAutograd(
		tensor.AddScalarAutograd(tensor.ScaleAutograd(muXY, 2), ssimC1),
		tensor.AddScalarAutograd(tensor.ScaleAutograd(sigmaXY, 2), ssimC2),
	)
	den := tensor.MulAutograd(
		tensor.AddScalarAutograd(tensor.AddAutograd(muXX, muYY), ssimC1),
		tensor.AddScalarAutograd(tensor.AddAutograd(sigmaX, sigmaY), ssimC2),
	)

	ssim := tensor.DivAutograd(num, den)
	// (1 - ssim) / 2
	return tensor.ScaleAutograd(
		tensor.AddScalarAutograd(tensor.ScaleAutograd(tensor.MeanAutograd(ssim), -1), 1),
		0.5,
	)
}
