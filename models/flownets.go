package models

import (
	"github.com/flowkit/flowtrain/tensor"
)

func init() {
	list := map[string]func() FlowModel{
		"flownets":      func() FlowModel { return NewFlowNetS(flowNetSChannels) },
		"flownets_thin": func() FlowModel { return NewFlowNetS(flowNetSThinChannels) },
	}
	for name, constructor := range list {
		if err := Register(name, constructor); err != nil {
			panic(err.Error())
		}
	}
}

// Encoder widths for the two registered FlowNetS sizes, from conv1 to conv6.
var (
	flowNetSChannels     = [6]int{16, 32, 64, 96, 128, 192}
	flowNetSThinChannels = [6]int{8, 16, 32, 48, 64, 96}
)

// decoderWidth sets the feature channels produced by each upconv stage.
const decoderWidth = 16

// FlowNetS is an encoder/decoder flow network in the FlowNet "simple"
// topology: a contracting stack of strided convolutions over the stacked
// image pair, then an expanding path that upsamples, concatenates encoder
// skip features with the coarser flow estimate, and predicts a refined flow
// at each level. Forward returns five predictions, finest first, at 1/4
// through 1/64 of the input resolution.
type FlowNetS struct {
	conv1, conv2  *convLayer
	conv3, conv31 *convLayer
	conv4, conv41 *convLayer
	conv5, conv51 *convLayer
	conv6, conv61 *convLayer

	upconv5, upconv4, upconv3, upconv2 *convLayer

	predict6, predict5, predict4, predict3, predict2 *convLayer
}

// NewFlowNetS builds the network with the given encoder widths and random
// initial weights.
func NewFlowNetS(c [6]int) *FlowNetS {
	m := &FlowNetS{
		conv1:  newConv("conv1", 6, c[0], 7, 2, true),
		conv2:  newConv("conv2", c[0], c[1], 5, 2, true),
		conv3:  newConv("conv3", c[1], c[2], 5, 2, true),
		conv31: newConv("conv3_1", c[2], c[2], 3, 1, true),
		conv4:  newConv("conv4", c[2], c[3], 3, 2, true),
		conv41: newConv("conv4_1", c[3], c[3], 3, 1, true),
		conv5:  newConv("conv5", c[3], c[4], 3, 2, true),
		conv51: newConv("conv5_1", c[4], c[4], 3, 1, true),
		conv6:  newConv("conv6", c[4], c[5], 3, 2, true),
		conv61: newConv("conv6_1", c[5], c[5], 3, 1, true),
	}

	m.upconv5 = newConv("upconv5", c[5], decoderWidth, 3, 1, true)
	m.upconv4 = newConv("upconv4", c[4]+decoderWidth+2, decoderWidth, 3, 1, true)
	m.upconv3 = newConv("upconv3", c[3]+decoderWidth+2, decoderWidth, 3, 1, true)
	m.upconv2 = newConv("upconv2", c[2]+decoderWidth+2, decoderWidth, 3, 1, true)

	m.predict6 = newConv("predict_flow6", c[5], 2, 3, 1, false)
	m.predict5 = newConv("predict_flow5", c[4]+decoderWidth+2, 2, 3, 1, false)
	m.predict4 = newConv("predict_flow4", c[3]+decoderWidth+2, 2, 3, 1, false)
	m.predict3 = newConv("predict_flow3", c[2]+decoderWidth+2, 2, 3, 1, false)
	m.predict2 = newConv("predict_flow2", c[1]+decoderWidth+2, 2, 3, 1, false)
	return m
}

// Forward expects (batch, 6, H, W) input with H and W divisible by 64.
func (m *FlowNetS) Forward(input *tensor.Tensor) []*tensor.Tensor {
	out1 := m.conv1.forward(input)
	out2 := m.conv2.forward(out1)
	out3 := m.conv31.forward(m.conv3.forward(out2))
	out4 := m.conv41.forward(m.conv4.forward(out3))
	out5 := m.conv51.forward(m.conv5.forward(out4))
	out6 := m.conv61.forward(m.conv6.forward(out5))

	flow6 := m.predict6.forward(out6)

	cat5 := concat3(out5, upsampleTo(m.upconv5.forward(out6), out5), upsampleTo(flow6, out5))
	flow5 := m.predict5.forward(cat5)

	cat4 := concat3(out4, upsampleTo(m.upconv4.forward(cat5), out4), upsampleTo(flow5, out4))
	flow4 := m.predict4.forward(cat4)

	cat3 := concat3(out3, upsampleTo(m.upconv3.forward(cat4), out3), upsampleTo(flow4, out3))
	flow3 := m.predict3.forward(cat3)

	cat2 := concat3(out2, upsampleTo(m.upconv2.forward(cat3), out2), upsampleTo(flow3, out2))
	flow2 := m.predict2.forward(cat2)

	return []*tensor.Tensor{flow2, flow3, flow4, flow5, flow6}
}

func (m *FlowNetS) layers() []*convLayer {
	return []*convLayer{
		m.conv1, m.conv2, m.conv3, m.conv31, m.conv4, m.conv41,
		m.conv5, m.conv51, m.conv6, m.conv61,
		m.upconv5, m.upconv4, m.upconv3, m.upconv2,
		m.predict6, m.predict5, m.predict4, m.predict3, m.predict2,
	}
}

// WeightParameters returns the convolution kernels.
func (m *FlowNetS) WeightParameters() []*tensor.Tensor {
	params := make([]*tensor.Tensor, 0, len(m.layers()))
	for _, l := range m.layers() {
		params = append(params, l.weight)
	}
	return params
}

// BiasParameters returns the convolution biases.
func (m *FlowNetS) BiasParameters() []*tensor.Tensor {
	params := make([]*tensor.Tensor, 0, len(m.layers()))
	for _, l := range m.layers() {
		params = append(params, l.bias)
	}
	return params
}

// NamedParameters lists every trainable tensor keyed "<layer>.weight" or
// "<layer>.bias", in a fixed order.
func (m *FlowNetS) NamedParameters() []NamedParameter {
	var params []NamedParameter
	for _, l := range m.layers() {
		params = append(params,
			NamedParameter{Name: l.name + ".weight", Tensor: l.weight},
			NamedParameter{Name: l.name + ".bias", Tensor: l.bias},
		)
	}
	return params
}

// Train enables gradient tracking on all parameters.
func (m *FlowNetS) Train() { m.setGrad(true) }

// Eval disables gradient tracking so validation forward passes stay out of
// the autograd graph.
func (m *FlowNetS) Eval() { m.setGrad(false) }

func (m *FlowNetS) setGrad(enabled bool) {
	for _, l := range m.layers() {
		l.weight.SetRequiresGrad(enabled)
		l.bias.SetRequiresGrad(enabled)
	}
}
