package tensor

import (
	"fmt"
	"math"
)

// CensusTransformOp computes a per-pixel ternary census descriptor: for each
// neighborhood offset within maxDistance it takes the intensity difference
// to the center pixel, soft-normalized as d/sqrt(0.81 + d^2). The input is a
// (batch, C, H, W) image in [0, 1] units; intensities are channel means
// scaled to [0, 255]. Output shape is (batch, (2d+1)^2, H, W).
type CensusTransformOp struct {
	inputs      []*Tensor
	maxDistance int
}

func (op *CensusTransformOp) Inputs() []*Tensor { return op.inputs }

func (op *CensusTransformOp) intensities(im *Tensor) []float32 {
	batch, c, h, w := im.Shape[0], im.Shape[1], im.Shape[2], im.Shape[3]
	plane := h * w
	out := make([]float32, batch*plane)
	scale := float32(255) / float32(c)
	for n := 0; n < batch; n++ {
		dst := out[n*plane : (n+1)*plane]
		for ch := 0; ch < c; ch++ {
			src := im.Data[(n*c+ch)*plane : (n*c+ch+1)*plane]
			for i := range dst {
				dst[i] += src[i] * scale
			}
		}
	}
	return out
}

func (op *CensusTransformOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) != 1 {
		panic("CensusTransformOp requires exactly 1 input")
	}
	im := inputs[0]
	if len(im.Shape) != 4 {
		panic(fmt.Sprintf("CensusTransformOp requires a 4D tensor, got shape %v", im.Shape))
	}
	op.inputs = inputs

	d := op.maxDistance
	side := 2*d + 1
	patches := side * side
	batch, h, w := im.Shape[0], im.Shape[2], im.Shape[3]
	plane := h * w
	intens := op.intensities(im)
	result := mustNew([]int{batch, patches, h, w})

	for n := 0; n < batch; n++ {
		center := intens[n*plane : (n+1)*plane]
		for k := 0; k < patches; k++ {
			oy := k/side - d
			ox := k%side - d
			dst := result.Data[(n*patches+k)*plane : (n*patches+k+1)*plane]
			for y := 0; y < h; y++ {
				for x := 0; x < w; x++ {
					var neighbor float32
					ny, nx := y+oy, x+ox
					if ny >= 0 && ny < h && nx >= 0 && nx < w {
						neighbor = center[ny*w+nx]
					}
					diff := neighbor - center[y*w+x]
					dst[y*w+x] = diff / float32(math.Sqrt(0.81+float64(diff)*float64(diff)))
				}
			}
		}
	}

	result.creator = op
	result.requiresGrad = im.requiresGrad
	return result
}

func (op *CensusTransformOp) Backward(gradOut *Tensor) []*Tensor {
	im := op.inputs[0]
	d := op.maxDistance
	side := 2*d + 1
	patches := side * side
	batch, c, h, w := im.Shape[0], im.Shape[1], im.Shape[2], im.Shape[3]
	plane := h * w
	intens := op.intensities(im)

	// Gradient with respect to the intensity image, then fanned out to the
	// color channels through the channel mean.
	gradIntens := make([]float32, batch*plane)
	for n := 0; n < batch; n++ {
		center := intens[n*plane : (n+1)*plane]
		gi := gradIntens[n*plane : (n+1)*plane]
		for k := 0; k < patches; k++ {
			oy := k/side - d
			ox := k%side - d
			src := gradOut.Data[(n*patches+k)*plane : (n*patches+k+1)*plane]
			for y := 0; y < h; y++ {
				for x := 0; x < w; x++ {
					g := src[y*w+x]
					if g == 0 {
						continue
					}
					var neighbor float32
					ny, nx := y+oy, x+ox
					inBounds := ny >= 0 && ny < h && nx >= 0 && nx < w
					if inBounds {
						neighbor = center[ny*w+nx]
					}
					diff := float64(neighbor - center[y*w+x])
					// d/ddiff of diff/sqrt(0.81+diff^2)
					dd := 0.81 / math.Pow(0.81+diff*diff, 1.5)
					gd := g * float32(dd)
					if inBounds {
						gi[ny*w+nx] += gd
					}
					gi[y*w+x] -= gd
				}
			}
		}
	}

	g := mustNew(im.Shape)
	scale := float32(255) / float32(c)
	for n := 0; n < batch; n++ {
		gi := gradIntens[n*plane : (n+1)*plane]
		for ch := 0; ch < c; ch++ {
			dst := g.Data[(n*c+ch)*plane : (n*c+ch+1)*plane]
			for i := range gi {
				dst[i] = gi[i] * scale
			}
		}
	}
	return []*Tensor{g}
}

// CensusTransformAutograd computes the ternary census descriptor with
// gradient tracking.
func CensusTransformAutograd(im *Tensor, maxDistance int) *Tensor {
	op := &CensusTransformOp{maxDistance: maxDistance}
	return op.Forward(im)
}
