package tensor

import (
	"fmt"
	"math"
)

func checkCompatibility(t1, t2 *Tensor) error {
	if !shapesEqual(t1.Shape, t2.Shape) {
		return fmt.Errorf("shape mismatch: %v vs %v", t1.Shape, t2.Shape)
	}
	return nil
}

// Add performs elementwise addition without gradient tracking.
func Add(t1, t2 *Tensor) (*Tensor, error) {
	if err := checkCompatibility(t1, t2); err != nil {
		return nil, err
	}
	out := mustNew(t1.Shape)
	for i := range out.Data {
		out.Data[i] = t1.Data[i] + t2.Data[i]
	}
	return out, nil
}

// Sub performs elementwise subtraction without gradient tracking.
func Sub(t1, t2 *Tensor) (*Tensor, error) {
	if err := checkCompatibility(t1, t2); err != nil {
		return nil, err
	}
	out := mustNew(t1.Shape)
	for i := range out.Data {
		out.Data[i] = t1.Data[i] - t2.Data[i]
	}
	return out, nil
}

// Mul performs elementwise multiplication without gradient tracking.
func Mul(t1, t2 *Tensor) (*Tensor, error) {
	if err := checkCompatibility(t1, t2); err != nil {
		return nil, err
	}
	out := mustNew(t1.Shape)
	for i := range out.Data {
		out.Data[i] = t1.Data[i] * t2.Data[i]
	}
	return out, nil
}

// Div performs elementwise division without gradient tracking.
func Div(t1, t2 *Tensor) (*Tensor, error) {
	if err := checkCompatibility(t1, t2); err != nil {
		return nil, err
	}
	out := mustNew(t1.Shape)
	for i := range out.Data {
		out.Data[i] = t1.Data[i] / t2.Data[i]
	}
	return out, nil
}

// Scale multiplies every element by s without gradient tracking.
func Scale(t *Tensor, s float32) *Tensor {
	out := mustNew(t.Shape)
	for i := range out.Data {
		out.Data[i] = t.Data[i] * s
	}
	return out
}

// AddScalar adds s to every element without gradient tracking.
func AddScalar(t *Tensor, s float32) *Tensor {
	out := mustNew(t.Shape)
	for i := range out.Data {
		out.Data[i] = t.Data[i] + s
	}
	return out
}

// PowScalar raises every element to the power p without gradient tracking.
// Inputs are expected to be non-negative.
func PowScalar(t *Tensor, p float32) *Tensor {
	out := mustNew(t.Shape)
	for i := range out.Data {
		out.Data[i] = float32(math.Pow(float64(t.Data[i]), float64(p)))
	}
	return out
}

// Sqrt takes the elementwise square root without gradient tracking.
func Sqrt(t *Tensor) *Tensor {
	out := mustNew(t.Shape)
	for i := range out.Data {
		out.Data[i] = float32(math.Sqrt(float64(t.Data[i])))
	}
	return out
}

// Clamp limits every element to [min, max] without gradient tracking.
func Clamp(t *Tensor, min, max float32) *Tensor {
	out := mustNew(t.Shape)
	for i := range out.Data {
		v := t.Data[i]
		if v < min {
			v = min
		} else if v > max {
			v = max
		}
		out.Data[i] = v
	}
	return out
}

// SumAll returns the sum of all elements.
func SumAll(t *Tensor) float32 {
	var sum float32
	for _, v := range t.Data {
		sum += v
	}
	return sum
}

// MeanAll returns the mean of all elements.
func MeanAll(t *Tensor) float32 {
	return SumAll(t) / float32(t.NumElems)
}
