package models

import (
	"math"

	"github.com/flowkit/flowtrain/tensor"
)

// leakySlope is the negative-side slope shared by every activated layer.
const leakySlope = 0.1

// convLayer is a 2D convolution with optional leaky-ReLU activation.
// Weights use Kaiming-style initialization; biases start at zero.
type convLayer struct {
	name      string
	weight    *tensor.Tensor
	bias      *tensor.Tensor
	stride    int
	padding   int
	activated bool
}

func newConv(name string, inC, outC, kernel, stride int, activated bool) *convLayer {
	fanIn := inC * kernel * kernel
	std := float32(math.Sqrt(2.0 / float64(fanIn)))
	weight, err := tensor.RandomNormal([]int{outC, inC, kernel, kernel}, 0, std)
	if err != nil {
		panic(err)
	}
	bias, err := tensor.Zeros([]int{outC})
	if err != nil {
		panic(err)
	}
	weight.SetRequiresGrad(true)
	bias.SetRequiresGrad(true)
	return &convLayer{
		name:      name,
		weight:    weight,
		bias:      bias,
		stride:    stride,
		padding:   kernel / 2,
		activated: activated,
	}
}

func (l *convLayer) forward(x *tensor.Tensor) *tensor.Tensor {
	out := tensor.Conv2DAutograd(x, l.weight, l.bias, l.stride, l.padding)
	if l.activated {
		out = tensor.LeakyReLUAutograd(out, leakySlope)
	}
	return out
}

// upsampleTo doubles a feature map to the spatial size of ref by bilinear
// interpolation. Used in place of transposed convolutions in the decoder.
func upsampleTo(x, ref *tensor.Tensor) *tensor.Tensor {
	return tensor.InterpolateAutograd(x, ref.Shape[2], ref.Shape[3])
}

// concat3 chains the binary channel concatenation for decoder inputs.
func concat3(a, b, c *tensor.Tensor) *tensor.Tensor {
	return tensor.ConcatChannelsAutograd(tensor.ConcatChannelsAutograd(a, b), c)
}
