package losses

import (
	"math"

	"github.com/flowkit/flowtrain/tensor"
)

// robustEps keeps the generalized Charbonnier penalty differentiable at
// zero; its contribution is subtracted back out so an all-zero input
// yields an exactly zero penalty.
const robustEps = 1e-6

// robustPenalty applies (x + eps)^q - eps^q elementwise to a non-negative
// tensor of squared magnitudes. Exponents below 1 approximate a sparsity
// penalty on the underlying differences.
func robustPenalty(mag *tensor.Tensor, exponent float32) *tensor.Tensor {
	shifted := tensor.AddScalarAutograd(mag, robustEps)
	p := tensor.PowScalarAutograd(shifted, exponent)
	offset := float32(math.Pow(robustEps, float64(exponent)))
	return tensor.AddScalarAutograd(p, -offset)
}

// maskedMean averages x over positions where mask is 1. The mask is a
// constant (batch, 1, H, W) tensor; x must be (batch, 1, H, W) as well.
// An empty mask yields zero rather than dividing by zero.
func maskedMean(x, mask *tensor.Tensor) *tensor.Tensor {
	total := tensor.SumAll(mask)
	if total == 0 {
		return tensor.ScaleAutograd(tensor.SumAutograd(x), 0)
	}
	masked := tensor.MulAutograd(x, mask)
	return tensor.ScaleAutograd(tensor.SumAutograd(masked), 1/total)
}

// adaptImage resizes an image to the spatial resolution of a flow field so
// a loss term can be evaluated at a coarser pyramid level. Returns the
// image unchanged when resolutions already match.
func adaptImage(im, flow *tensor.Tensor) *tensor.Tensor {
	if im.Shape[2] == flow.Shape[2] && im.Shape[3] == flow.Shape[3] {
		return im
	}
	return tensor.InterpolateAutograd(im, flow.Shape[2], flow.Shape[3])
}

// square is shorthand for elementwise x*x with gradient tracking.
func square(x *tensor.Tensor) *tensor.Tensor {
	return tensor.MulAutograd(x, x)
}

// scalarValue extracts the value of a scalar loss tensor. Every combiner in
// this package produces single-element tensors, so failure here is a bug.
func scalarValue(t *tensor.Tensor) float32 {
	v, err := t.Item()
	if err != nil {
		panic(err)
	}
	return v
}
