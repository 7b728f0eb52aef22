package losses

import (
	"github.com/flowkit/flowtrain/tensor"
)

// fbCoeff down-weights the forward-backward term relative to the others.
// That term is noisy early in training when both flows are near random.
const fbCoeff = 0.001

// Terms holds the detached per-term values of a combined loss, for
// metric reporting. Disabled terms stay at zero.
type Terms struct {
	Census float32
	Smooth float32
	SSIM   float32
	FB     float32
	Photo  float32
}

// UnflowLoss combines the bidirectional self-supervised loss terms over the
// forward and backward flow pyramids. Disabled terms contribute an additive
// zero rather than being skipped, so the weighted sum always has the same
// shape. Returns the tracked total and the detached per-term values.
func UnflowLoss(im1, im2 *tensor.Tensor, predFw, predBw []*tensor.Tensor, divFlow float32, cfg Config) (*tensor.Tensor, Terms) {
	var terms Terms

	censusTotal := tensor.FromScalar(0)
	if cfg.Census {
		censusTotal, _ = Multiscale(predFw, predBw, divFlow, cfg.MultiscaleCensus, func(fw, bw *tensor.Tensor) *tensor.Tensor {
			lossFw := TernaryLoss(im2, im1, fw, cfg.CensusMaxDistance)
			lossBw := TernaryLoss(im1, im2, bw, cfg.CensusMaxDistance)
			return tensor.AddAutograd(lossFw, lossBw)
		})
		censusTotal = tensor.ScaleAutograd(censusTotal, cfg.PhotoWeight)
		terms.Census = scalarValue(censusTotal)
	}

	smoothTotal := tensor.FromScalar(0)
	if cfg.Smooth {
		smoothTotal, _ = Multiscale(predFw, predBw, divFlow, cfg.MultiscaleSmooth, func(fw, bw *tensor.Tensor) *tensor.Tensor {
			// Plain smoothness in both directions; the edge-aware variant
			// belongs to the single-direction objective only.
			return tensor.AddAutograd(SmoothnessLoss(fw, cfg), SmoothnessLoss(bw, cfg))
		})
		smoothTotal = tensor.ScaleAutograd(smoothTotal, cfg.SmoothWeight)
		terms.Smooth = scalarValue(smoothTotal)
	}

	ssimTotal := tensor.FromScalar(0)
	if cfg.SSIM {
		ssimTotal, _ = Multiscale(predFw, predBw, divFlow, cfg.MultiscaleSSIM, func(fw, bw *tensor.Tensor) *tensor.Tensor {
			return SSIMLoss(im1, im2, bw)
		})
		terms.SSIM = scalarValue(ssimTotal)
	}

	fbTotal := tensor.FromScalar(0)
	if cfg.FB {
		fbTotal, _ = Multiscale(predFw, predBw, divFlow, cfg.MultiscaleFB, func(fw, bw *tensor.Tensor) *tensor.Tensor {
			return ForwardBackwardLoss(fw, bw, cfg)
		})
		fbTotal = tensor.ScaleAutograd(fbTotal, fbCoeff*cfg.FBWeight)
		terms.FB = scalarValue(fbTotal)
	}

	total := tensor.AddAutograd(censusTotal, smoothTotal)
	total = tensor.AddAutograd(total, ssimTotal)
	total = tensor.AddAutograd(total, fbTotal)
	return total, terms
}

// SelfSupervisedLoss is the single-direction variant: photometric plus
// smoothness over the forward pyramid only, no backward pass required.
func SelfSupervisedLoss(im1, im2 *tensor.Tensor, predFw []*tensor.Tensor, divFlow float32, cfg Config) (*tensor.Tensor, Terms) {
	var terms Terms

	photoTotal, _ := Multiscale(predFw, predFw, divFlow, cfg.MultiscalePhoto, func(fw, _ *tensor.Tensor) *tensor.Tensor {
		return PhotometricLoss(im1, im2, fw, cfg)
	})
	photoTotal = tensor.ScaleAutograd(photoTotal, cfg.PhotoWeight)
	terms.Photo = scalarValue(photoTotal)

	smoothTotal := tensor.FromScalar(0)
	if cfg.Smooth {
		smoothTotal, _ = Multiscale(predFw, predFw, divFlow, cfg.MultiscaleSmooth, func(fw, _ *tensor.Tensor) *tensor.Tensor {
			if cfg.WeightedSmooth {
				return WeightedSmoothnessLoss(im1, fw, cfg)
			}
			return SmoothnessLoss(fw, cfg)
		})
		smoothTotal = tensor.ScaleAutograd(smoothTotal, cfg.SmoothWeight)
		terms.Smooth = scalarValue(smoothTotal)
	}

	total := tensor.AddAutograd(photoTotal, smoothTotal)
	return total, terms
}
