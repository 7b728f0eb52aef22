package tensor

import (
	"fmt"
)

// Conv2DOp implements 2D convolution over NCHW tensors. Weight layout is
// (outC, inC, kH, kW); bias may be omitted by passing two inputs only.
type Conv2DOp struct {
	inputs  []*Tensor
	stride  int
	padding int
}

func (op *Conv2DOp) Inputs() []*Tensor { return op.inputs }

func (op *Conv2DOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) != 2 && len(inputs) != 3 {
		panic("Conv2DOp requires input and weight, with optional bias")
	}
	in, weight := inputs[0], inputs[1]
	if len(in.Shape) != 4 || len(weight.Shape) != 4 {
		panic(fmt.Sprintf("Conv2DOp requires 4D input and weight, got %v and %v", in.Shape, weight.Shape))
	}
	if in.Shape[1] != weight.Shape[1] {
		panic(fmt.Sprintf("Conv2DOp channel mismatch: input has %d, weight expects %d", in.Shape[1], weight.Shape[1]))
	}
	op.inputs = inputs

	batch, inC, h, w := in.Shape[0], in.Shape[1], in.Shape[2], in.Shape[3]
	outC, kH, kW := weight.Shape[0], weight.Shape[2], weight.Shape[3]
	s, p := op.stride, op.padding
	outH := (h+2*p-kH)/s + 1
	outW := (w+2*p-kW)/s + 1
	if outH <= 0 || outW <= 0 {
		panic(fmt.Sprintf("Conv2DOp output would be empty for input %v, kernel %dx%d, stride %d, padding %d",
			in.Shape, kH, kW, s, p))
	}

	var bias *Tensor
	if len(inputs) == 3 {
		bias = inputs[2]
		if bias.NumElems != outC {
			panic(fmt.Sprintf("Conv2DOp bias has %d elements, want %d", bias.NumElems, outC))
		}
	}

	result := mustNew([]int{batch, outC, outH, outW})
	forEach(batch*outC, func(job int) {
		n := job / outC
		co := job % outC
		for oh := 0; oh < outH; oh++ {
			iy0 := oh*s - p
			for ow := 0; ow < outW; ow++ {
				ix0 := ow*s - p
				var sum float32
				if bias != nil {
					sum = bias.Data[co]
				}
				for ci := 0; ci < inC; ci++ {
					inBase := ((n*inC + ci) * h) * w
					wBase := ((co*inC + ci) * kH) * kW
					for ky := 0; ky < kH; ky++ {
						iy := iy0 + ky
						if iy < 0 || iy >= h {
							continue
						}
						rowIn := in.Data[inBase+iy*w : inBase+(iy+1)*w]
						rowW := weight.Data[wBase+ky*kW : wBase+(ky+1)*kW]
						if ix0 >= 0 && ix0+kW <= w {
							sum += dot(rowIn[ix0:ix0+kW], rowW)
							continue
						}
						for kx := 0; kx < kW; kx++ {
							ix := ix0 + kx
							if ix < 0 || ix >= w {
								continue
							}
							sum += rowIn[ix] * rowW[kx]
						}
					}
				}
				result.Data[((n*outC+co)*outH+oh)*outW+ow] = sum
			}
		}
	})

	result.creator = op
	grad := in.requiresGrad || weight.requiresGrad
	if bias != nil {
		grad = grad || bias.requiresGrad
	}
	result.requiresGrad = grad
	return result
}

func (op *Conv2DOp) Backward(gradOut *Tensor) []*Tensor {
	in, weight := op.inputs[0], op.inputs[1]
	batch, inC, h, w := in.Shape[0], in.Shape[1], in.Shape[2], in.Shape[3]
	outC, kH, kW := weight.Shape[0], weight.Shape[2], weight.Shape[3]
	outH, outW := gradOut.Shape[2], gradOut.Shape[3]
	s, p := op.stride, op.padding

	gradIn := mustNew(in.Shape)
	gradWeight := mustNew(weight.Shape)
	var gradBias *Tensor
	if len(op.inputs) == 3 {
		gradBias = mustNew(op.inputs[2].Shape)
	}

	for n := 0; n < batch; n++ {
		for co := 0; co < outC; co++ {
			for oh := 0; oh < outH; oh++ {
				iy0 := oh*s - p
				for ow := 0; ow < outW; ow++ {
					g := gradOut.Data[((n*outC+co)*outH+oh)*outW+ow]
					if g == 0 {
						continue
					}
					if gradBias != nil {
						gradBias.Data[co] += g
					}
					ix0 := ow*s - p
					for ci := 0; ci < inC; ci++ {
						inBase := ((n*inC + ci) * h) * w
						wBase := ((co*inC + ci) * kH) * kW
						for ky := 0; ky < kH; ky++ {
							iy := iy0 + ky
							if iy < 0 || iy >= h {
								continue
							}
							for kx := 0; kx < kW; kx++ {
								ix := ix0 + kx
								if ix < 0 || ix >= w {
									continue
								}
								gradIn.Data[inBase+iy*w+ix] += g * weight.Data[wBase+ky*kW+kx]
								gradWeight.Data[wBase+ky*kW+kx] += g * in.Data[inBase+iy*w+ix]
							}
						}
					}
				}
			}
		}
	}

	grads := []*Tensor{gradIn, gradWeight}
	if gradBias != nil {
		grads = append(grads, gradBias)
	}
	return grads
}

// Conv2DAutograd convolves input with weight and bias, tracking gradients.
// Pass a nil bias to skip the bias term.
func Conv2DAutograd(input, weight, bias *Tensor, stride, padding int) *Tensor {
	op := &Conv2DOp{stride: stride, padding: padding}
	if bias == nil {
		return op.Forward(input, weight)
	}
	return op.Forward(input, weight, bias)
}
