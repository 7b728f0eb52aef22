package tensor

import (
	"fmt"
)

// Operation is implemented by every differentiable op. Forward builds the
// result tensor and records it as created by the op; Backward routes the
// incoming gradient to each input, in input order.
type Operation interface {
	Forward(...*Tensor) *Tensor
	Backward(gradOut *Tensor) []*Tensor
	Inputs() []*Tensor
}

// Tensor is an NCHW-friendly dense float32 tensor with reverse-mode
// autograd. Gradients accumulate into grad; creator links the tensor back
// into the computation graph that produced it.
type Tensor struct {
	Shape        []int
	Strides      []int
	Data         []float32
	NumElems     int
	requiresGrad bool
	grad         *Tensor
	creator      Operation
}

func (t *Tensor) String() string {
	return fmt.Sprintf("Tensor(shape=%v, elements=%d)", t.Shape, t.NumElems)
}

func (t *Tensor) RequiresGrad() bool {
	return t.requiresGrad
}

func (t *Tensor) SetRequiresGrad(requires bool) {
	t.requiresGrad = requires
}

func (t *Tensor) Grad() *Tensor {
	return t.grad
}

// Detach returns a copy sharing no autograd state with the graph.
func (t *Tensor) Detach() *Tensor {
	out := mustNew(t.Shape)
	copy(out.Data, t.Data)
	return out
}

// ZeroGrad clears the accumulated gradient.
func (t *Tensor) ZeroGrad() {
	if t.grad != nil {
		for i := range t.grad.Data {
			t.grad.Data[i] = 0
		}
	}
}

// ZeroGrads clears gradients for a set of tensors (typically model parameters).
func ZeroGrads(tensors []*Tensor) {
	for _, t := range tensors {
		t.ZeroGrad()
	}
}

// Item returns the value of a single-element tensor.
func (t *Tensor) Item() (float32, error) {
	if t.NumElems != 1 {
		return 0, fmt.Errorf("Item requires a single-element tensor, got shape %v", t.Shape)
	}
	return t.Data[0], nil
}

// At returns the element at the given indices.
func (t *Tensor) At(indices ...int) (float32, error) {
	if len(indices) != len(t.Shape) {
		return 0, fmt.Errorf("expected %d indices, got %d", len(t.Shape), len(indices))
	}
	idx := 0
	for i, v := range indices {
		if v < 0 || v >= t.Shape[i] {
			return 0, fmt.Errorf("index %d out of range for dimension %d (size %d)", v, i, t.Shape[i])
		}
		idx += v * t.Strides[i]
	}
	return t.Data[idx], nil
}

// SetAt stores value at the given indices.
func (t *Tensor) SetAt(value float32, indices ...int) error {
	if len(indices) != len(t.Shape) {
		return fmt.Errorf("expected %d indices, got %d", len(t.Shape), len(indices))
	}
	idx := 0
	for i, v := range indices {
		if v < 0 || v >= t.Shape[i] {
			return fmt.Errorf("index %d out of range for dimension %d (size %d)", v, i, t.Shape[i])
		}
		idx += v * t.Strides[i]
	}
	t.Data[idx] = value
	return nil
}

// Clone returns a deep copy carrying the same requiresGrad flag but no
// graph linkage.
func (t *Tensor) Clone() (*Tensor, error) {
	out, err := NewTensor(append([]int{}, t.Shape...), nil)
	if err != nil {
		return nil, err
	}
	copy(out.Data, t.Data)
	out.requiresGrad = t.requiresGrad
	return out, nil
}

// Reshape returns a view-copy with a new shape of equal element count.
func (t *Tensor) Reshape(newShape []int) (*Tensor, error) {
	n := 1
	for _, d := range newShape {
		n *= d
	}
	if n != t.NumElems {
		return nil, fmt.Errorf("cannot reshape %v (%d elements) to %v (%d elements)",
			t.Shape, t.NumElems, newShape, n)
	}
	out, err := NewTensor(newShape, nil)
	if err != nil {
		return nil, err
	}
	copy(out.Data, t.Data)
	return out, nil
}

// Backward runs reverse-mode differentiation from a scalar tensor,
// accumulating gradients into every reachable tensor with requiresGrad set.
func (t *Tensor) Backward() error {
	if t.NumElems != 1 {
		return fmt.Errorf("Backward requires a scalar loss tensor, got shape %v", t.Shape)
	}

	// Topological order of the creator graph, leaves last.
	var order []*Tensor
	visited := make(map[*Tensor]bool)
	var visit func(n *Tensor)
	visit = func(n *Tensor) {
		if visited[n] {
			return
		}
		visited[n] = true
		if n.creator != nil {
			for _, in := range n.creator.Inputs() {
				visit(in)
			}
		}
		order = append(order, n)
	}
	visit(t)

	// Pending upstream gradients per node during the sweep.
	pending := make(map[*Tensor]*Tensor)
	seed := mustNew([]int{1})
	seed.Data[0] = 1
	pending[t] = seed

	for i := len(order) - 1; i >= 0; i-- {
		node := order[i]
		g := pending[node]
		if g == nil {
			continue
		}
		if node.requiresGrad {
			if node.grad == nil {
				node.grad = mustNew(node.Shape)
			}
			for j := range node.grad.Data {
				node.grad.Data[j] += g.Data[j]
			}
		}
		if node.creator == nil {
			continue
		}
		inputGrads := node.creator.Backward(g)
		inputs := node.creator.Inputs()
		if len(inputGrads) != len(inputs) {
			return fmt.Errorf("operation returned %d gradients for %d inputs", len(inputGrads), len(inputs))
		}
		for j, in := range inputs {
			ig := inputGrads[j]
			if ig == nil {
				continue
			}
			if acc, ok := pending[in]; ok {
				for k := range acc.Data {
					acc.Data[k] += ig.Data[k]
				}
			} else {
				pending[in] = ig
			}
		}
	}
	return nil
}

func calculateStrides(shape []int) []int {
	if len(shape) == 0 {
		return []int{}
	}
	strides := make([]int, len(shape))
	stride := 1
	for i := len(shape) - 1; i >= 0; i-- {
		strides[i] = stride
		stride *= shape[i]
	}
	return strides
}

func calculateNumElements(shape []int) int {
	if len(shape) == 0 {
		return 0
	}
	elements := 1
	for _, dim := range shape {
		elements *= dim
	}
	return elements
}

func validateShape(shape []int) error {
	if len(shape) == 0 {
		return fmt.Errorf("invalid shape: empty")
	}
	for i, dim := range shape {
		if dim <= 0 {
			return fmt.Errorf("invalid shape: dimension %d has size %d, must be positive", i, dim)
		}
	}
	return nil
}

func shapesEqual(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
