package losses

import (
	"math"

	"github.com/flowkit/flowtrain/tensor"
)

// epeEps keeps the gradient of the per-pixel norm finite at zero.
const epeEps = 1e-8

// SupervisedWeights are the per-level loss weights used for multiscale
// endpoint-error training, finest level first.
var SupervisedWeights = []float32{0.005, 0.01, 0.02, 0.08, 0.32}

// endpointError returns the per-pixel L2 flow error summed over the map and
// divided by the batch size. With sparse set, pixels whose ground truth is
// exactly zero on both channels are ignored.
func endpointError(output, target *tensor.Tensor, sparse bool) *tensor.Tensor {
	diff := tensor.SubAutograd(output, target)
	sq := tensor.SumChannelsAutograd(square(diff))
	norm := tensor.SqrtAutograd(tensor.AddScalarAutograd(sq, epeEps))

	batch := float32(output.Shape[0])
	if !sparse {
		return tensor.ScaleAutograd(tensor.SumAutograd(norm), 1.0/batch)
	}

	mask := validTargetMask(target)
	masked := tensor.MulAutograd(norm, mask)
	return tensor.ScaleAutograd(tensor.SumAutograd(masked), 1.0/batch)
}

// validTargetMask marks pixels where the ground-truth flow is nonzero in at
// least one channel. Sparse datasets store missing flow as exact zeros.
func validTargetMask(target *tensor.Tensor) *tensor.Tensor {
	b, h, w := target.Shape[0], target.Shape[2], target.Shape[3]
	mask, err := tensor.Zeros([]int{b, 1, h, w})
	if err != nil {
		panic(err)
	}
	plane := h * w
	for n := 0; n < b; n++ {
		base := n * 2 * plane
		for i := 0; i < plane; i++ {
			u := target.Data[base+i]
			v := target.Data[base+plane+i]
			if u != 0 || v != 0 {
				mask.Data[n*plane+i] = 1
			}
		}
	}
	return mask
}

// MultiscaleEPE sums weighted endpoint errors over a flow pyramid, finest
// level first. The target is downscaled to each prediction's resolution by
// area averaging, or by signed max pooling when sparse. Pooling a sparse
// target is imprecise, so with sparse set the finest prediction is instead
// upsampled and compared at the target's full resolution.
func MultiscaleEPE(pyramid []*tensor.Tensor, target *tensor.Tensor, weights []float32, sparse bool) *tensor.Tensor {
	if weights == nil {
		weights = SupervisedWeights
	}
	if len(weights) < len(pyramid) {
		panic("losses: fewer weights than pyramid levels")
	}

	total := tensor.FromScalar(0)
	for i, out := range pyramid {
		var level *tensor.Tensor
		if sparse && i == 0 {
			up := tensor.InterpolateAutograd(out, target.Shape[2], target.Shape[3])
			level = endpointError(up, target, true)
		} else {
			scaled := downscaleTarget(target, out.Shape[2], out.Shape[3], sparse)
			level = endpointError(out, scaled, sparse)
		}
		total = tensor.AddAutograd(total, tensor.ScaleAutograd(level, weights[i]))
	}
	return total
}

// RealEPE reports the mean endpoint error of output against target at the
// target's resolution, as a plain diagnostic value outside the graph.
func RealEPE(output, target *tensor.Tensor, sparse bool) float32 {
	th, tw := target.Shape[2], target.Shape[3]
	up := output
	if output.Shape[2] != th || output.Shape[3] != tw {
		up = tensor.InterpolateAutograd(output.Detach(), th, tw)
	}

	b := target.Shape[0]
	plane := th * tw
	var sum float64
	var count int
	for n := 0; n < b; n++ {
		base := n * 2 * plane
		for i := 0; i < plane; i++ {
			tu := target.Data[base+i]
			tv := target.Data[base+plane+i]
			if sparse && tu == 0 && tv == 0 {
				continue
			}
			du := float64(up.Data[base+i] - tu)
			dv := float64(up.Data[base+plane+i] - tv)
			sum += math.Sqrt(du*du + dv*dv)
			count++
		}
	}
	if count == 0 {
		return 0
	}
	return float32(sum / float64(count))
}

// downscaleTarget shrinks a dense flow map by box averaging, or by
// magnitude-preserving max pooling for sparse ground truth where averaging
// would dilute valid pixels with zeros.
func downscaleTarget(target *tensor.Tensor, outH, outW int, sparse bool) *tensor.Tensor {
	b, c, inH, inW := target.Shape[0], target.Shape[1], target.Shape[2], target.Shape[3]
	if inH == outH && inW == outW {
		return target
	}
	out, err := tensor.Zeros([]int{b, c, outH, outW})
	if err != nil {
		panic(err)
	}
	for n := 0; n < b; n++ {
		for ch := 0; ch < c; ch++ {
			src := target.Data[(n*c+ch)*inH*inW : (n*c+ch+1)*inH*inW]
			dst := out.Data[(n*c+ch)*outH*outW : (n*c+ch+1)*outH*outW]
			for oy := 0; oy < outH; oy++ {
				y0 := oy * inH / outH
				y1 := (oy + 1) * inH / outH
				if y1 <= y0 {
					y1 = y0 + 1
				}
				for ox := 0; ox < outW; ox++ {
					x0 := ox * inW / outW
					x1 := (ox + 1) * inW / outW
					if x1 <= x0 {
						x1 = x0 + 1
					}
					if sparse {
						var best float32
						for y := y0; y < y1; y++ {
							for x := x0; x < x1; x++ {
								v := src[y*inW+x]
								if absf(v) > absf(best) {
									best = v
								}
							}
						}
						dst[oy*outW+ox] = best
					} else {
						var acc float32
						for y := y0; y < y1; y++ {
							for x := x0; x < x1; x++ {
								acc += src[y*inW+x]
							}
						}
						dst[oy*outW+ox] = acc / float32((y1-y0)*(x1-x0))
					}
				}
			}
		}
	}
	return out
}

func absf(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}
