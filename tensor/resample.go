package tensor

import (
	"fmt"
	"math"
)

// InterpolateOp resizes a 4D tensor with bilinear sampling.
type InterpolateOp struct {
	inputs []*Tensor
	outH   int
	outW   int
}

func (op *InterpolateOp) Inputs() []*Tensor { return op.inputs }

// sourcePos maps an output coordinate to its fractional input coordinate.
func sourcePos(dst int, scale float64) float64 {
	return (float64(dst)+0.5)*scale - 0.5
}

func (op *InterpolateOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) != 1 {
		panic("InterpolateOp requires exactly 1 input")
	}
	a := inputs[0]
	if len(a.Shape) != 4 {
		panic(fmt.Sprintf("InterpolateOp requires a 4D tensor, got shape %v", a.Shape))
	}
	op.inputs = inputs

	batch, c, h, w := a.Shape[0], a.Shape[1], a.Shape[2], a.Shape[3]
	scaleY := float64(h) / float64(op.outH)
	scaleX := float64(w) / float64(op.outW)
	result := mustNew([]int{batch, c, op.outH, op.outW})

	for n := 0; n < batch; n++ {
		for ch := 0; ch < c; ch++ {
			src := a.Data[((n*c+ch)*h)*w : ((n*c+ch)*h+h)*w]
			dst := result.Data[((n*c+ch)*op.outH)*op.outW : ((n*c+ch)*op.outH+op.outH)*op.outW]
			for oy := 0; oy < op.outH; oy++ {
				sy := sourcePos(oy, scaleY)
				y0 := int(math.Floor(sy))
				wy := float32(sy - float64(y0))
				y1 := y0 + 1
				if y0 < 0 {
					y0, y1, wy = 0, 0, 0
				} else if y1 >= h {
					y0, y1, wy = h-1, h-1, 0
				}
				for ox := 0; ox < op.outW; ox++ {
					sx := sourcePos(ox, scaleX)
					x0 := int(math.Floor(sx))
					wx := float32(sx - float64(x0))
					x1 := x0 + 1
					if x0 < 0 {
						x0, x1, wx = 0, 0, 0
					} else if x1 >= w {
						x0, x1, wx = w-1, w-1, 0
					}
					top := (1-wx)*src[y0*w+x0] + wx*src[y0*w+x1]
					bot := (1-wx)*src[y1*w+x0] + wx*src[y1*w+x1]
					dst[oy*op.outW+ox] = (1-wy)*top + wy*bot
				}
			}
		}
	}

	result.creator = op
	result.requiresGrad = a.requiresGrad
	return result
}

func (op *InterpolateOp) Backward(gradOut *Tensor) []*Tensor {
	a := op.inputs[0]
	batch, c, h, w := a.Shape[0], a.Shape[1], a.Shape[2], a.Shape[3]
	scaleY := float64(h) / float64(op.outH)
	scaleX := float64(w) / float64(op.outW)
	g := mustNew(a.Shape)

	for n := 0; n < batch; n++ {
		for ch := 0; ch < c; ch++ {
			dst := g.Data[((n*c+ch)*h)*w : ((n*c+ch)*h+h)*w]
			src := gradOut.Data[((n*c+ch)*op.outH)*op.outW : ((n*c+ch)*op.outH+op.outH)*op.outW]
			for oy := 0; oy < op.outH; oy++ {
				sy := sourcePos(oy, scaleY)
				y0 := int(math.Floor(sy))
				wy := float32(sy - float64(y0))
				y1 := y0 + 1
				if y0 < 0 {
					y0, y1, wy = 0, 0, 0
				} else if y1 >= h {
					y0, y1, wy = h-1, h-1, 0
				}
				for ox := 0; ox < op.outW; ox++ {
					sx := sourcePos(ox, scaleX)
					x0 := int(math.Floor(sx))
					wx := float32(sx - float64(x0))
					x1 := x0 + 1
					if x0 < 0 {
						x0, x1, wx = 0, 0, 0
					} else if x1 >= w {
						x0, x1, wx = w-1, w-1, 0
					}
					gv := src[oy*op.outW+ox]
					dst[y0*w+x0] += gv * (1 - wy) * (1 - wx)
					dst[y0*w+x1] += gv * (1 - wy) * wx
					dst[y1*w+x0] += gv * wy * (1 - wx)
					dst[y1*w+x1] += gv * wy * wx
				}
			}
		}
	}
	return []*Tensor{g}
}

// InterpolateAutograd resizes to (outH, outW) with gradient tracking.
func InterpolateAutograd(a *Tensor, outH, outW int) *Tensor {
	op := &InterpolateOp{outH: outH, outW: outW}
	return op.Forward(a)
}

// AvgPool2DOp averages over kernel windows. The divisor is always the full
// kernel area, including padded positions.
type AvgPool2DOp struct {
	inputs  []*Tensor
	kernel  int
	stride  int
	padding int
}

func (op *AvgPool2DOp) Inputs() []*Tensor { return op.inputs }

func (op *AvgPool2DOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) != 1 {
		panic("AvgPool2DOp requires exactly 1 input")
	}
	a := inputs[0]
	if len(a.Shape) != 4 {
		panic(fmt.Sprintf("AvgPool2DOp requires a 4D tensor, got shape %v", a.Shape))
	}
	op.inputs = inputs

	batch, c, h, w := a.Shape[0], a.Shape[1], a.Shape[2], a.Shape[3]
	k, s, p := op.kernel, op.stride, op.padding
	outH := (h+2*p-k)/s + 1
	outW := (w+2*p-k)/s + 1
	if outH <= 0 || outW <= 0 {
		panic(fmt.Sprintf("AvgPool2DOp output would be empty for input %v, kernel %d, stride %d", a.Shape, k, s))
	}
	norm := 1.0 / float32(k*k)
	result := mustNew([]int{batch, c, outH, outW})

	for n := 0; n < batch; n++ {
		for ch := 0; ch < c; ch++ {
			src := a.Data[((n*c+ch)*h)*w : ((n*c+ch)*h+h)*w]
			dst := result.Data[((n*c+ch)*outH)*outW : ((n*c+ch)*outH+outH)*outW]
			for oy := 0; oy < outH; oy++ {
				for ox := 0; ox < outW; ox++ {
					var sum float32
					for ky := 0; ky < k; ky++ {
						iy := oy*s - p + ky
						if iy < 0 || iy >= h {
							continue
						}
						for kx := 0; kx < k; kx++ {
							ix := ox*s - p + kx
							if ix < 0 || ix >= w {
								continue
							}
							sum += src[iy*w+ix]
						}
					}
					dst[oy*outW+ox] = sum * norm
				}
			}
		}
	}

	result.creator = op
	result.requiresGrad = a.requiresGrad
	return result
}

func (op *AvgPool2DOp) Backward(gradOut *Tensor) []*Tensor {
	a := op.inputs[0]
	batch, c, h, w := a.Shape[0], a.Shape[1], a.Shape[2], a.Shape[3]
	k, s, p := op.kernel, op.stride, op.padding
	outH, outW := gradOut.Shape[2], gradOut.Shape[3]
	norm := 1.0 / float32(k*k)
	g := mustNew(a.Shape)

	for n := 0; n < batch; n++ {
		for ch := 0; ch < c; ch++ {
			dst := g.Data[((n*c+ch)*h)*w : ((n*c+ch)*h+h)*w]
			src := gradOut.Data[((n*c+ch)*outH)*outW : ((n*c+ch)*outH+outH)*outW]
			for oy := 0; oy < outH; oy++ {
				for ox := 0; ox < outW; ox++ {
					gv := src[oy*outW+ox] * norm
					for ky := 0; ky < k; ky++ {
						iy := oy*s - p + ky
						if iy < 0 || iy >= h {
							continue
						}
						for kx := 0; kx < k; kx++ {
							ix := ox*s - p + kx
							if ix < 0 || ix >= w {
								continue
							}
							dst[iy*w+ix] += gv
						}
					}
				}
			}
		}
	}
	return []*Tensor{g}
}

// AvgPool2DAutograd average-pools with gradient tracking.
func AvgPool2DAutograd(a *Tensor, kernel, stride, padding int) *Tensor {
	op := &AvgPool2DOp{kernel: kernel, stride: stride, padding: padding}
	return op.Forward(a)
}

// WarpOp samples an image at positions displaced by a flow field:
// out(x, y) = im(x + u, y + v) with bilinear interpolation, where the flow
// tensor holds (u, v) as its two channels in pixel units. Samples falling
// entirely outside the image produce zero.
type WarpOp struct {
	inputs []*Tensor
}

func (op *WarpOp) Inputs() []*Tensor { return op.inputs }

func (op *WarpOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) != 2 {
		panic("WarpOp requires image and flow inputs")
	}
	im, flow := inputs[0], inputs[1]
	if len(im.Shape) != 4 || len(flow.Shape) != 4 {
		panic("WarpOp requires 4D tensors")
	}
	if flow.Shape[1] != 2 {
		panic(fmt.Sprintf("WarpOp flow must have 2 channels, got %d", flow.Shape[1]))
	}
	if im.Shape[0] != flow.Shape[0] || im.Shape[2] != flow.Shape[2] || im.Shape[3] != flow.Shape[3] {
		panic(fmt.Sprintf("WarpOp image/flow shape mismatch: %v vs %v", im.Shape, flow.Shape))
	}
	op.inputs = inputs

	batch, c, h, w := im.Shape[0], im.Shape[1], im.Shape[2], im.Shape[3]
	plane := h * w
	result := mustNew(im.Shape)

	for n := 0; n < batch; n++ {
		u := flow.Data[(n*2)*plane : (n*2+1)*plane]
		v := flow.Data[(n*2+1)*plane : (n*2+2)*plane]
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				i := y*w + x
				sx := float64(x) + float64(u[i])
				sy := float64(y) + float64(v[i])
				x0 := int(math.Floor(sx))
				y0 := int(math.Floor(sy))
				if x0 < -1 || x0 >= w || y0 < -1 || y0 >= h {
					continue
				}
				wx := float32(sx - float64(x0))
				wy := float32(sy - float64(y0))
				for ch := 0; ch < c; ch++ {
					src := im.Data[(n*c+ch)*plane : (n*c+ch+1)*plane]
					result.Data[(n*c+ch)*plane+i] = bilinearAt(src, h, w, x0, y0, wx, wy)
				}
			}
		}
	}

	result.creator = op
	result.requiresGrad = im.requiresGrad || flow.requiresGrad
	return result
}

// bilinearAt samples at integer corner (x0, y0) with fractional weights,
// treating out-of-range corners as zero.
func bilinearAt(src []float32, h, w, x0, y0 int, wx, wy float32) float32 {
	at := func(y, x int) float32 {
		if y < 0 || y >= h || x < 0 || x >= w {
			return 0
		}
		return src[y*w+x]
	}
	top := (1-wx)*at(y0, x0) + wx*at(y0, x0+1)
	bot := (1-wx)*at(y0+1, x0) + wx*at(y0+1, x0+1)
	return (1-wy)*top + wy*bot
}

func (op *WarpOp) Backward(gradOut *Tensor) []*Tensor {
	im, flow := op.inputs[0], op.inputs[1]
	batch, c, h, w := im.Shape[0], im.Shape[1], im.Shape[2], im.Shape[3]
	plane := h * w
	gradIm := mustNew(im.Shape)
	gradFlow := mustNew(flow.Shape)

	at := func(src []float32, y, x int) float32 {
		if y < 0 || y >= h || x < 0 || x >= w {
			return 0
		}
		return src[y*w+x]
	}

	for n := 0; n < batch; n++ {
		u := flow.Data[(n*2)*plane : (n*2+1)*plane]
		v := flow.Data[(n*2+1)*plane : (n*2+2)*plane]
		gu := gradFlow.Data[(n*2)*plane : (n*2+1)*plane]
		gv := gradFlow.Data[(n*2+1)*plane : (n*2+2)*plane]
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				i := y*w + x
				sx := float64(x) + float64(u[i])
				sy := float64(y) + float64(v[i])
				x0 := int(math.Floor(sx))
				y0 := int(math.Floor(sy))
				if x0 < -1 || x0 >= w || y0 < -1 || y0 >= h {
					continue
				}
				wx := float32(sx - float64(x0))
				wy := float32(sy - float64(y0))
				for ch := 0; ch < c; ch++ {
					src := im.Data[(n*c+ch)*plane : (n*c+ch+1)*plane]
					dst := gradIm.Data[(n*c+ch)*plane : (n*c+ch+1)*plane]
					g := gradOut.Data[(n*c+ch)*plane+i]
					if g == 0 {
						continue
					}

					// Scatter bilinear weights into the image gradient.
					scatter := func(y, x int, wgt float32) {
						if y < 0 || y >= h || x < 0 || x >= w {
							return
						}
						dst[y*w+x] += g * wgt
					}
					scatter(y0, x0, (1-wy)*(1-wx))
					scatter(y0, x0+1, (1-wy)*wx)
					scatter(y0+1, x0, wy*(1-wx))
					scatter(y0+1, x0+1, wy*wx)

					// Flow gradient from differentiating the bilinear weights.
					i00 := at(src, y0, x0)
					i01 := at(src, y0, x0+1)
					i10 := at(src, y0+1, x0)
					i11 := at(src, y0+1, x0+1)
					gu[i] += g * ((1-wy)*(i01-i00) + wy*(i11-i10))
					gv[i] += g * ((1-wx)*(i10-i00) + wx*(i11-i01))
				}
			}
		}
	}
	return []*Tensor{gradIm, gradFlow}
}

// WarpAutograd warps im by flow with gradient tracking.
func WarpAutograd(im, flow *Tensor) *Tensor {
	op := &WarpOp{}
	return op.Forward(im, flow)
}

// InBoundsMask returns a (batch, 1, H, W) mask holding 1 where the flow
// displacement lands inside the image and 0 elsewhere. The mask carries no
// gradient; it is used to exclude occluded or out-of-frame samples from
// photometric penalties.
func InBoundsMask(flow *Tensor) *Tensor {
	batch, h, w := flow.Shape[0], flow.Shape[2], flow.Shape[3]
	plane := h * w
	mask := mustNew([]int{batch, 1, h, w})
	for n := 0; n < batch; n++ {
		u := flow.Data[(n*2)*plane : (n*2+1)*plane]
		v := flow.Data[(n*2+1)*plane : (n*2+2)*plane]
		dst := mask.Data[n*plane : (n+1)*plane]
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				i := y*w + x
				sx := float64(x) + float64(u[i])
				sy := float64(y) + float64(v[i])
				if sx >= 0 && sx <= float64(w-1) && sy >= 0 && sy <= float64(h-1) {
					dst[i] = 1
				}
			}
		}
	}
	return mask
}
