package tensor

// ReLUOp implements the rectified linear activation.
type ReLUOp struct {
	inputs []*Tensor
}

func (op *ReLUOp) Inputs() []*Tensor { return op.inputs }

func (op *ReLUOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) != 1 {
		panic("ReLUOp requires exactly 1 input")
	}
	a := inputs[0]
	op.inputs = inputs

	result := mustNew(a.Shape)
	for i, v := range a.Data {
		if v > 0 {
			result.Data[i] = v
		}
	}
	result.creator = op
	result.requiresGrad = a.requiresGrad
	return result
}

func (op *ReLUOp) Backward(gradOut *Tensor) []*Tensor {
	a := op.inputs[0]
	g := mustNew(gradOut.Shape)
	for i, v := range gradOut.Data {
		if a.Data[i] > 0 {
			g.Data[i] = v
		}
	}
	return []*Tensor{g}
}

// LeakyReLUOp implements the leaky rectified linear activation used
// throughout the FlowNet encoder/decoder stacks.
type LeakyReLUOp struct {
	inputs []*Tensor
	slope  float32
}

func (op *LeakyReLUOp) Inputs() []*Tensor { return op.inputs }

func (op *LeakyReLUOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) != 1 {
		panic("LeakyReLUOp requires exactly 1 input")
	}
	a := inputs[0]
	op.inputs = inputs

	result := mustNew(a.Shape)
	for i, v := range a.Data {
		if v > 0 {
			result.Data[i] = v
		} else {
			result.Data[i] = v * op.slope
		}
	}
	result.creator = op
	result.requiresGrad = a.requiresGrad
	return result
}

func (op *LeakyReLUOp) Backward(gradOut *Tensor) []*Tensor {
	a := op.inputs[0]
	g := mustNew(gradOut.Shape)
	for i, v := range gradOut.Data {
		if a.Data[i] > 0 {
			g.Data[i] = v
		} else {
			g.Data[i] = v * op.slope
		}
	}
	return []*Tensor{g}
}

// ReLUAutograd applies ReLU with gradient tracking.
func ReLUAutograd(a *Tensor) *Tensor {
	op := &ReLUOp{}
	return op.Forward(a)
}

// LeakyReLUAutograd applies LeakyReLU with the given negative slope.
func LeakyReLUAutograd(a *Tensor, negativeSlope float32) *Tensor {
	op := &LeakyReLUOp{slope: negativeSlope}
	return op.Forward(a)
}
