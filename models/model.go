// Package models defines the optical-flow network interface, a registry of
// architectures selectable by name, and the built-in FlowNet-style
// encoder/decoder networks.
package models

import (
	"fmt"
	"sort"

	"github.com/flowkit/flowtrain/tensor"
)

// FlowModel is a network that maps a channel-concatenated image pair of
// shape (batch, 6, H, W) to a pyramid of flow fields, finest level first.
// Predicted flow is in internally normalized units; callers rescale by the
// divisor configured for the run.
type FlowModel interface {
	// Forward runs the network. The returned slice is ordered finest first
	// and every entry has shape (batch, 2, h_i, w_i).
	Forward(input *tensor.Tensor) []*tensor.Tensor

	// WeightParameters and BiasParameters partition the trainable tensors
	// so the optimizer can apply weight decay to weights only.
	WeightParameters() []*tensor.Tensor
	BiasParameters() []*tensor.Tensor

	// NamedParameters exposes every trainable tensor with a stable name
	// for checkpointing.
	NamedParameters() []NamedParameter

	// Train and Eval toggle gradient tracking on the parameters.
	Train()
	Eval()
}

// NamedParameter pairs a parameter tensor with its state-dict key.
type NamedParameter struct {
	Name   string
	Tensor *tensor.Tensor
}

var architectures = map[string]func() FlowModel{}

// Register makes an architecture constructor available under name. It
// returns an error if the name is already taken.
func Register(name string, constructor func() FlowModel) error {
	if _, ok := architectures[name]; ok {
		return fmt.Errorf("models: architecture %q already registered", name)
	}
	architectures[name] = constructor
	return nil
}

// Create instantiates a registered architecture by name.
func Create(name string) (FlowModel, error) {
	constructor, ok := architectures[name]
	if !ok {
		return nil, fmt.Errorf("models: unknown architecture %q (have %v)", name, Architectures())
	}
	return constructor(), nil
}

// Architectures lists the registered names in sorted order.
func Architectures() []string {
	names := make([]string, 0, len(architectures))
	for name := range architectures {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
