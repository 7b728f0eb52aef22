package training

import (
	"github.com/flowkit/flowtrain/models"
	"github.com/flowkit/flowtrain/tensor"
)

// BidirectionalForward runs the model once per flow direction: forward on
// concat(im1, im2) and backward on concat(im2, im1). No caching, always two
// full passes per batch.
func BidirectionalForward(model models.FlowModel, im1, im2 *tensor.Tensor) (predFw, predBw []*tensor.Tensor) {
	predFw = model.Forward(tensor.ConcatChannelsAutograd(im1, im2))
	predBw = model.Forward(tensor.ConcatChannelsAutograd(im2, im1))
	return predFw, predBw
}
