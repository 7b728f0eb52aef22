package tensor

import (
	"fmt"
	"math/rand"
)

// Package-level random source for deterministic initialization across runs.
var globalRng = rand.New(rand.NewSource(1))

// SetRandomSeed resets the package random source, making weight
// initialization reproducible.
func SetRandomSeed(seed int64) {
	globalRng = rand.New(rand.NewSource(seed))
}

// NewTensor creates a tensor with the given shape. When data is non-nil it
// is adopted as the backing storage and must have exactly the right length.
func NewTensor(shape []int, data []float32) (*Tensor, error) {
	if err := validateShape(shape); err != nil {
		return nil, err
	}
	n := calculateNumElements(shape)
	if data == nil {
		data = make([]float32, n)
	} else if len(data) != n {
		return nil, fmt.Errorf("data length %d does not match shape %v (%d elements)", len(data), shape, n)
	}
	return &Tensor{
		Shape:    append([]int{}, shape...),
		Strides:  calculateStrides(shape),
		Data:     data,
		NumElems: n,
	}, nil
}

// mustNew is the internal constructor for shapes already known valid.
func mustNew(shape []int) *Tensor {
	t, err := NewTensor(append([]int{}, shape...), nil)
	if err != nil {
		panic(fmt.Sprintf("tensor: %v", err))
	}
	return t
}

// Zeros creates a zero-filled tensor.
func Zeros(shape []int) (*Tensor, error) {
	return NewTensor(shape, nil)
}

// Ones creates a one-filled tensor.
func Ones(shape []int) (*Tensor, error) {
	t, err := NewTensor(shape, nil)
	if err != nil {
		return nil, err
	}
	for i := range t.Data {
		t.Data[i] = 1
	}
	return t, nil
}

// Full creates a tensor filled with value.
func Full(shape []int, value float32) (*Tensor, error) {
	t, err := NewTensor(shape, nil)
	if err != nil {
		return nil, err
	}
	for i := range t.Data {
		t.Data[i] = value
	}
	return t, nil
}

// FromScalar creates a single-element tensor.
func FromScalar(value float32) *Tensor {
	t := mustNew([]int{1})
	t.Data[0] = value
	return t
}

// RandomNormal creates a tensor with normally distributed values.
func RandomNormal(shape []int, mean, std float32) (*Tensor, error) {
	t, err := NewTensor(shape, nil)
	if err != nil {
		return nil, err
	}
	for i := range t.Data {
		t.Data[i] = float32(globalRng.NormFloat64())*std + mean
	}
	return t, nil
}

// RandomUniform creates a tensor with values drawn uniformly from [low, high).
func RandomUniform(shape []int, low, high float32) (*Tensor, error) {
	t, err := NewTensor(shape, nil)
	if err != nil {
		return nil, err
	}
	for i := range t.Data {
		t.Data[i] = float32(globalRng.Float64())*(high-low) + low
	}
	return t, nil
}
