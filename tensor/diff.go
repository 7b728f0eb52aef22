package tensor

import "fmt"

// DiffXOp computes horizontal forward differences:
// out(x) = in(x+1) - in(x), with the last column zero.
type DiffXOp struct {
	inputs []*Tensor
}

func (op *DiffXOp) Inputs() []*Tensor { return op.inputs }

func (op *DiffXOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) != 1 {
		panic("DiffXOp requires exactly 1 input")
	}
	a := inputs[0]
	if len(a.Shape) != 4 {
		panic(fmt.Sprintf("DiffXOp requires a 4D tensor, got shape %v", a.Shape))
	}
	op.inputs = inputs

	batch, c, h, w := a.Shape[0], a.Shape[1], a.Shape[2], a.Shape[3]
	result := mustNew(a.Shape)
	for n := 0; n < batch*c; n++ {
		for y := 0; y < h; y++ {
			row := a.Data[(n*h+y)*w : (n*h+y+1)*w]
			out := result.Data[(n*h+y)*w : (n*h+y+1)*w]
			for x := 0; x < w-1; x++ {
				out[x] = row[x+1] - row[x]
			}
		}
	}
	result.creator = op
	result.requiresGrad = a.requiresGrad
	return result
}

func (op *DiffXOp) Backward(gradOut *Tensor) []*Tensor {
	a := op.inputs[0]
	batch, c, h, w := a.Shape[0], a.Shape[1], a.Shape[2], a.Shape[3]
	g := mustNew(a.Shape)
	for n := 0; n < batch*c; n++ {
		for y := 0; y < h; y++ {
			src := gradOut.Data[(n*h+y)*w : (n*h+y+1)*w]
			dst := g.Data[(n*h+y)*w : (n*h+y+1)*w]
			for x := 0; x < w-1; x++ {
				dst[x+1] += src[x]
				dst[x] -= src[x]
			}
		}
	}
	return []*Tensor{g}
}

// DiffYOp computes vertical forward differences:
// out(y) = in(y+1) - in(y), with the last row zero.
type DiffYOp struct {
	inputs []*Tensor
}

func (op *DiffYOp) Inputs() []*Tensor { return op.inputs }

func (op *DiffYOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) != 1 {
		panic("DiffYOp requires exactly 1 input")
	}
	a := inputs[0]
	if len(a.Shape) != 4 {
		panic(fmt.Sprintf("DiffYOp requires a 4D tensor, got shape %v", a.Shape))
	}
	op.inputs = inputs

	batch, c, h, w := a.Shape[0], a.Shape[1], a.Shape[2], a.Shape[3]
	result := mustNew(a.Shape)
	for n := 0; n < batch*c; n++ {
		base := n * h * w
		for y := 0; y < h-1; y++ {
			for x := 0; x < w; x++ {
				result.Data[base+y*w+x] = a.Data[base+(y+1)*w+x] - a.Data[base+y*w+x]
			}
		}
	}
	result.creator = op
	result.requiresGrad = a.requiresGrad
	return result
}

func (op *DiffYOp) Backward(gradOut *Tensor) []*Tensor {
	a := op.inputs[0]
	batch, c, h, w := a.Shape[0], a.Shape[1], a.Shape[2], a.Shape[3]
	g := mustNew(a.Shape)
	for n := 0; n < batch*c; n++ {
		base := n * h * w
		for y := 0; y < h-1; y++ {
			for x := 0; x < w; x++ {
				g.Data[base+(y+1)*w+x] += gradOut.Data[base+y*w+x]
				g.Data[base+y*w+x] -= gradOut.Data[base+y*w+x]
			}
		}
	}
	return []*Tensor{g}
}

// DiffXAutograd computes horizontal forward differences with gradient tracking.
func DiffXAutograd(a *Tensor) *Tensor {
	op := &DiffXOp{}
	return op.Forward(a)
}

// DiffYAutograd computes vertical forward differences with gradient tracking.
func DiffYAutograd(a *Tensor) *Tensor {
	op := &DiffYOp{}
	return op.Forward(a)
}
