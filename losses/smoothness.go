package losses

import (
	"math"

	"github.com/flowkit/flowtrain/tensor"
)

// edgeWeightScale controls how strongly image gradients relax the
// smoothness penalty in the edge-aware variant.
const edgeWeightScale = 10

// SmoothnessLoss penalizes the first-order spatial gradient magnitude of a
// flow field. The exponent shapes the penalty; values below 1 favour
// piecewise-constant flow with sparse discontinuities. A spatially constant
// field scores exactly zero.
func SmoothnessLoss(flow *tensor.Tensor, cfg Config) *tensor.Tensor {
	dx := tensor.DiffXAutograd(flow)
	dy := tensor.DiffYAutograd(flow)
	mag := tensor.AddAutograd(square(dx), square(dy))
	perPixel := tensor.SumChannelsAutograd(mag)
	return tensor.MeanAutograd(robustPenalty(perPixel, cfg.SmoothExp))
}

// WeightedSmoothnessLoss is the edge-aware variant: the penalty at each
// position is attenuated by exp(-k*|∇I|) computed from the reference image,
// so flow discontinuities are cheap where the image itself has edges.
func WeightedSmoothnessLoss(ref *tensor.Tensor, flow *tensor.Tensor, cfg Config) *tensor.Tensor {
	im := adaptImage(ref, flow)

	wx := edgeWeights(im, true)
	wy := edgeWeights(im, false)

	dx := tensor.DiffXAutograd(flow)
	dy := tensor.DiffYAutograd(flow)

	px := tensor.MulAutograd(robustPenalty(tensor.SumChannelsAutograd(square(dx)), cfg.SmoothExp), wx)
	py := tensor.MulAutograd(robustPenalty(tensor.SumChannelsAutograd(square(dy)), cfg.SmoothExp), wy)
	return tensor.ScaleAutograd(tensor.AddAutograd(tensor.MeanAutograd(px), tensor.MeanAutograd(py)), 0.5)
}

// edgeWeights builds the constant exp(-k*mean|∇I|) attenuation map for one
// axis. Images carry no gradient, so this runs outside the graph.
func edgeWeights(im *tensor.Tensor, horizontal bool) *tensor.Tensor {
	batch, c, h, w := im.Shape[0], im.Shape[1], im.Shape[2], im.Shape[3]
	plane := h * w
	out, err := tensor.Zeros([]int{batch, 1, h, w})
	if err != nil {
		panic(err)
	}
	for n := 0; n < batch; n++ {
		dst := out.Data[n*plane : (n+1)*plane]
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				var g float64
				for ch := 0; ch < c; ch++ {
					src := im.Data[(n*c+ch)*plane : (n*c+ch+1)*plane]
					i := y*w + x
					if horizontal {
						if x < w-1 {
							g += math.Abs(float64(src[i+1] - src[i]))
						}
					} else {
						if y < h-1 {
							g += math.Abs(float64(src[i+w] - src[i]))
						}
					}
				}
				dst[y*w+x] = float32(math.Exp(-edgeWeightScale * g / float64(c)))
			}
		}
	}
	return out
}
