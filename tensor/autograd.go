package tensor

import (
	"fmt"
	"math"
)

// AddOp implements elementwise addition.
type AddOp struct {
	inputs []*Tensor
}

func (op *AddOp) Inputs() []*Tensor { return op.inputs }

func (op *AddOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) != 2 {
		panic("AddOp requires exactly 2 inputs")
	}
	a, b := inputs[0], inputs[1]
	op.inputs = inputs

	result, err := Add(a, b)
	if err != nil {
		panic(fmt.Sprintf("forward pass failed: %v", err))
	}
	result.creator = op
	result.requiresGrad = a.requiresGrad || b.requiresGrad
	return result
}

func (op *AddOp) Backward(gradOut *Tensor) []*Tensor {
	// d(a + b)/da = 1, d(a + b)/db = 1
	ga := mustNew(gradOut.Shape)
	gb := mustNew(gradOut.Shape)
	copy(ga.Data, gradOut.Data)
	copy(gb.Data, gradOut.Data)
	return []*Tensor{ga, gb}
}

// SubOp implements elementwise subtraction.
type SubOp struct {
	inputs []*Tensor
}

func (op *SubOp) Inputs() []*Tensor { return op.inputs }

func (op *SubOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) != 2 {
		panic("SubOp requires exactly 2 inputs")
	}
	a, b := inputs[0], inputs[1]
	op.inputs = inputs

	result, err := Sub(a, b)
	if err != nil {
		panic(fmt.Sprintf("forward pass failed: %v", err))
	}
	result.creator = op
	result.requiresGrad = a.requiresGrad || b.requiresGrad
	return result
}

func (op *SubOp) Backward(gradOut *Tensor) []*Tensor {
	ga := mustNew(gradOut.Shape)
	gb := mustNew(gradOut.Shape)
	for i, g := range gradOut.Data {
		ga.Data[i] = g
		gb.Data[i] = -g
	}
	return []*Tensor{ga, gb}
}

// MulOp implements elementwise multiplication.
type MulOp struct {
	inputs []*Tensor
}

func (op *MulOp) Inputs() []*Tensor { return op.inputs }

func (op *MulOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) != 2 {
		panic("MulOp requires exactly 2 inputs")
	}
	a, b := inputs[0], inputs[1]
	op.inputs = inputs

	result, err := Mul(a, b)
	if err != nil {
		panic(fmt.Sprintf("forward pass failed: %v", err))
	}
	result.creator = op
	result.requiresGrad = a.requiresGrad || b.requiresGrad
	return result
}

func (op *MulOp) Backward(gradOut *Tensor) []*Tensor {
	a, b := op.inputs[0], op.inputs[1]
	ga := mustNew(gradOut.Shape)
	gb := mustNew(gradOut.Shape)
	for i, g := range gradOut.Data {
		ga.Data[i] = g * b.Data[i]
		gb.Data[i] = g * a.Data[i]
	}
	return []*Tensor{ga, gb}
}

// DivOp implements elementwise division.
type DivOp struct {
	inputs []*Tensor
}

func (op *DivOp) Inputs() []*Tensor { return op.inputs }

func (op *DivOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) != 2 {
		panic("DivOp requires exactly 2 inputs")
	}
	a, b := inputs[0], inputs[1]
	op.inputs = inputs

	result, err := Div(a, b)
	if err != nil {
		panic(fmt.Sprintf("forward pass failed: %v", err))
	}
	result.creator = op
	result.requiresGrad = a.requiresGrad || b.requiresGrad
	return result
}

func (op *DivOp) Backward(gradOut *Tensor) []*Tensor {
	a, b := op.inputs[0], op.inputs[1]
	ga := mustNew(gradOut.Shape)
	gb := mustNew(gradOut.Shape)
	for i, g := range gradOut.Data {
		ga.Data[i] = g / b.Data[i]
		gb.Data[i] = -g * a.Data[i] / (b.Data[i] * b.Data[i])
	}
	return []*Tensor{ga, gb}
}

// ScaleOp multiplies a tensor by a constant.
type ScaleOp struct {
	inputs []*Tensor
	factor float32
}

func (op *ScaleOp) Inputs() []*Tensor { return op.inputs }

func (op *ScaleOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) != 1 {
		panic("ScaleOp requires exactly 1 input")
	}
	a := inputs[0]
	op.inputs = inputs

	result := Scale(a, op.factor)
	result.creator = op
	result.requiresGrad = a.requiresGrad
	return result
}

func (op *ScaleOp) Backward(gradOut *Tensor) []*Tensor {
	g := mustNew(gradOut.Shape)
	for i, v := range gradOut.Data {
		g.Data[i] = v * op.factor
	}
	return []*Tensor{g}
}

// AddScalarOp adds a constant to every element.
type AddScalarOp struct {
	inputs []*Tensor
	value  float32
}

func (op *AddScalarOp) Inputs() []*Tensor { return op.inputs }

func (op *AddScalarOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) != 1 {
		panic("AddScalarOp requires exactly 1 input")
	}
	a := inputs[0]
	op.inputs = inputs

	result := AddScalar(a, op.value)
	result.creator = op
	result.requiresGrad = a.requiresGrad
	return result
}

func (op *AddScalarOp) Backward(gradOut *Tensor) []*Tensor {
	g := mustNew(gradOut.Shape)
	copy(g.Data, gradOut.Data)
	return []*Tensor{g}
}

// PowScalarOp raises non-negative elements to a constant power. It backs the
// generalized Charbonnier penalties, whose inputs are squared magnitudes
// offset by a small epsilon, so the domain stays strictly positive.
type PowScalarOp struct {
	inputs   []*Tensor
	exponent float32
}

func (op *PowScalarOp) Inputs() []*Tensor { return op.inputs }

func (op *PowScalarOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) != 1 {
		panic("PowScalarOp requires exactly 1 input")
	}
	a := inputs[0]
	op.inputs = inputs

	result := PowScalar(a, op.exponent)
	result.creator = op
	result.requiresGrad = a.requiresGrad
	return result
}

func (op *PowScalarOp) Backward(gradOut *Tensor) []*Tensor {
	a := op.inputs[0]
	g := mustNew(gradOut.Shape)
	p := float64(op.exponent)
	for i, v := range gradOut.Data {
		g.Data[i] = v * float32(p*math.Pow(float64(a.Data[i]), p-1))
	}
	return []*Tensor{g}
}

// SqrtOp takes the elementwise square root. Callers keep the input strictly
// positive (an epsilon under the root) so the backward pass stays finite.
type SqrtOp struct {
	inputs []*Tensor
	output *Tensor
}

func (op *SqrtOp) Inputs() []*Tensor { return op.inputs }

func (op *SqrtOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) != 1 {
		panic("SqrtOp requires exactly 1 input")
	}
	a := inputs[0]
	op.inputs = inputs

	result := Sqrt(a)
	op.output = result
	result.creator = op
	result.requiresGrad = a.requiresGrad
	return result
}

func (op *SqrtOp) Backward(gradOut *Tensor) []*Tensor {
	g := mustNew(gradOut.Shape)
	for i, v := range gradOut.Data {
		g.Data[i] = v * 0.5 / op.output.Data[i]
	}
	return []*Tensor{g}
}

// SumOp reduces a tensor to the scalar sum of its elements.
type SumOp struct {
	inputs []*Tensor
}

func (op *SumOp) Inputs() []*Tensor { return op.inputs }

func (op *SumOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) != 1 {
		panic("SumOp requires exactly 1 input")
	}
	a := inputs[0]
	op.inputs = inputs

	result := FromScalar(SumAll(a))
	result.creator = op
	result.requiresGrad = a.requiresGrad
	return result
}

func (op *SumOp) Backward(gradOut *Tensor) []*Tensor {
	a := op.inputs[0]
	g := mustNew(a.Shape)
	for i := range g.Data {
		g.Data[i] = gradOut.Data[0]
	}
	return []*Tensor{g}
}

// MeanOp reduces a tensor to the scalar mean of its elements.
type MeanOp struct {
	inputs []*Tensor
}

func (op *MeanOp) Inputs() []*Tensor { return op.inputs }

func (op *MeanOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) != 1 {
		panic("MeanOp requires exactly 1 input")
	}
	a := inputs[0]
	op.inputs = inputs

	result := FromScalar(MeanAll(a))
	result.creator = op
	result.requiresGrad = a.requiresGrad
	return result
}

func (op *MeanOp) Backward(gradOut *Tensor) []*Tensor {
	a := op.inputs[0]
	g := mustNew(a.Shape)
	scale := gradOut.Data[0] / float32(a.NumElems)
	for i := range g.Data {
		g.Data[i] = scale
	}
	return []*Tensor{g}
}

// SumChannelsOp sums a (batch, C, H, W) tensor over its channel dimension,
// producing (batch, 1, H, W).
type SumChannelsOp struct {
	inputs []*Tensor
}

func (op *SumChannelsOp) Inputs() []*Tensor { return op.inputs }

func (op *SumChannelsOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) != 1 {
		panic("SumChannelsOp requires exactly 1 input")
	}
	a := inputs[0]
	if len(a.Shape) != 4 {
		panic(fmt.Sprintf("SumChannelsOp requires a 4D tensor, got shape %v", a.Shape))
	}
	op.inputs = inputs

	b, c, h, w := a.Shape[0], a.Shape[1], a.Shape[2], a.Shape[3]
	result := mustNew([]int{b, 1, h, w})
	plane := h * w
	for n := 0; n < b; n++ {
		dst := result.Data[n*plane : (n+1)*plane]
		for ch := 0; ch < c; ch++ {
			src := a.Data[(n*c+ch)*plane : (n*c+ch+1)*plane]
			for i := range dst {
				dst[i] += src[i]
			}
		}
	}
	result.creator = op
	result.requiresGrad = a.requiresGrad
	return result
}

func (op *SumChannelsOp) Backward(gradOut *Tensor) []*Tensor {
	a := op.inputs[0]
	b, c, h, w := a.Shape[0], a.Shape[1], a.Shape[2], a.Shape[3]
	g := mustNew(a.Shape)
	plane := h * w
	for n := 0; n < b; n++ {
		src := gradOut.Data[n*plane : (n+1)*plane]
		for ch := 0; ch < c; ch++ {
			dst := g.Data[(n*c+ch)*plane : (n*c+ch+1)*plane]
			copy(dst, src)
		}
	}
	return []*Tensor{g}
}

// ConcatChannelsOp concatenates two 4D tensors along the channel dimension.
type ConcatChannelsOp struct {
	inputs []*Tensor
}

func (op *ConcatChannelsOp) Inputs() []*Tensor { return op.inputs }

func (op *ConcatChannelsOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) != 2 {
		panic("ConcatChannelsOp requires exactly 2 inputs")
	}
	a, b := inputs[0], inputs[1]
	if len(a.Shape) != 4 || len(b.Shape) != 4 {
		panic("ConcatChannelsOp requires 4D tensors")
	}
	if a.Shape[0] != b.Shape[0] || a.Shape[2] != b.Shape[2] || a.Shape[3] != b.Shape[3] {
		panic(fmt.Sprintf("ConcatChannelsOp shape mismatch: %v vs %v", a.Shape, b.Shape))
	}
	op.inputs = inputs

	batch, ca, cb := a.Shape[0], a.Shape[1], b.Shape[1]
	h, w := a.Shape[2], a.Shape[3]
	plane := h * w
	result := mustNew([]int{batch, ca + cb, h, w})
	for n := 0; n < batch; n++ {
		copy(result.Data[n*(ca+cb)*plane:], a.Data[n*ca*plane:(n+1)*ca*plane])
		copy(result.Data[(n*(ca+cb)+ca)*plane:], b.Data[n*cb*plane:(n+1)*cb*plane])
	}
	result.creator = op
	result.requiresGrad = a.requiresGrad || b.requiresGrad
	return result
}

func (op *ConcatChannelsOp) Backward(gradOut *Tensor) []*Tensor {
	a, b := op.inputs[0], op.inputs[1]
	batch, ca, cb := a.Shape[0], a.Shape[1], b.Shape[1]
	plane := a.Shape[2] * a.Shape[3]
	ga := mustNew(a.Shape)
	gb := mustNew(b.Shape)
	for n := 0; n < batch; n++ {
		copy(ga.Data[n*ca*plane:(n+1)*ca*plane], gradOut.Data[n*(ca+cb)*plane:])
		copy(gb.Data[n*cb*plane:(n+1)*cb*plane], gradOut.Data[(n*(ca+cb)+ca)*plane:])
	}
	return []*Tensor{ga, gb}
}

// High-level autograd entry points.

// AddAutograd performs addition with gradient tracking.
func AddAutograd(a, b *Tensor) *Tensor {
	op := &AddOp{}
	return op.Forward(a, b)
}

// SubAutograd performs subtraction with gradient tracking.
func SubAutograd(a, b *Tensor) *Tensor {
	op := &SubOp{}
	return op.Forward(a, b)
}

// MulAutograd performs elementwise multiplication with gradient tracking.
func MulAutograd(a, b *Tensor) *Tensor {
	op := &MulOp{}
	return op.Forward(a, b)
}

// DivAutograd performs elementwise division with gradient tracking.
func DivAutograd(a, b *Tensor) *Tensor {
	op := &DivOp{}
	return op.Forward(a, b)
}

// ScaleAutograd multiplies by a constant with gradient tracking.
func ScaleAutograd(a *Tensor, factor float32) *Tensor {
	op := &ScaleOp{factor: factor}
	return op.Forward(a)
}

// AddScalarAutograd adds a constant with gradient tracking.
func AddScalarAutograd(a *Tensor, value float32) *Tensor {
	op := &AddScalarOp{value: value}
	return op.Forward(a)
}

// PowScalarAutograd raises to a constant power with gradient tracking.
func PowScalarAutograd(a *Tensor, exponent float32) *Tensor {
	op := &PowScalarOp{exponent: exponent}
	return op.Forward(a)
}

// SqrtAutograd takes the elementwise square root with gradient tracking.
func SqrtAutograd(a *Tensor) *Tensor {
	op := &SqrtOp{}
	return op.Forward(a)
}

// SumAutograd reduces to the scalar sum with gradient tracking.
func SumAutograd(a *Tensor) *Tensor {
	op := &SumOp{}
	return op.Forward(a)
}

// MeanAutograd reduces to the scalar mean with gradient tracking.
func MeanAutograd(a *Tensor) *Tensor {
	op := &MeanOp{}
	return op.Forward(a)
}

// SumChannelsAutograd sums over the channel dimension with gradient tracking.
func SumChannelsAutograd(a *Tensor) *Tensor {
	op := &SumChannelsOp{}
	return op.Forward(a)
}

// ConcatChannelsAutograd concatenates along channels with gradient tracking.
func ConcatChannelsAutograd(a, b *Tensor) *Tensor {
	op := &ConcatChannelsOp{}
	return op.Forward(a, b)
}
