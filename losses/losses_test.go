package losses

import (
	"math"
	"testing"

	"github.com/flowkit/flowtrain/tensor"
)

const tol = 1e-4

func constFlow(t *testing.T, b, h, w int, u, v float32) *tensor.Tensor {
	t.Helper()
	flow, err := tensor.Zeros([]int{b, 2, h, w})
	if err != nil {
		t.Fatalf("failed to create flow tensor: %v", err)
	}
	plane := h * w
	for n := 0; n < b; n++ {
		base := n * 2 * plane
		for i := 0; i < plane; i++ {
			flow.Data[base+i] = u
			flow.Data[base+plane+i] = v
		}
	}
	return flow
}

func gradientImage(t *testing.T, b, c, h, w int) *tensor.Tensor {
	t.Helper()
	im, err := tensor.Zeros([]int{b, c, h, w})
	if err != nil {
		t.Fatalf("failed to create image tensor: %v", err)
	}
	plane := h * w
	for n := 0; n < b; n++ {
		for ch := 0; ch < c; ch++ {
			base := (n*c + ch) * plane
			for y := 0; y < h; y++ {
				for x := 0; x < w; x++ {
					im.Data[base+y*w+x] = float32(x+y*2+ch) / float32(h+w)
				}
			}
		}
	}
	return im
}

func value(t *testing.T, loss *tensor.Tensor) float32 {
	t.Helper()
	v, err := loss.Item()
	if err != nil {
		t.Fatalf("loss is not a scalar: %v", err)
	}
	return v
}

func TestSmoothnessLossConstantFlowIsZero(t *testing.T) {
	cfg := DefaultConfig()
	flow := constFlow(t, 1, 8, 8, 3.5, -1.25)

	got := value(t, SmoothnessLoss(flow, cfg))
	if got != 0 {
		t.Errorf("smoothness of constant flow = %v, want exactly 0", got)
	}
}

func TestSmoothnessLossDiscontinuityIsPositive(t *testing.T) {
	cfg := DefaultConfig()
	flow := constFlow(t, 1, 8, 8, 0, 0)
	// Sharp step in u across the vertical midline.
	for y := 0; y < 8; y++ {
		for x := 4; x < 8; x++ {
			flow.Data[y*8+x] = 5
		}
	}

	got := value(t, SmoothnessLoss(flow, cfg))
	if got <= 0 {
		t.Errorf("smoothness of discontinuous flow = %v, want > 0", got)
	}
}

func TestWeightedSmoothnessRelaxedAtImageEdges(t *testing.T) {
	cfg := DefaultConfig()
	flow := constFlow(t, 1, 8, 8, 0, 0)
	for y := 0; y < 8; y++ {
		for x := 4; x < 8; x++ {
			flow.Data[y*8+x] = 5
		}
	}

	flat := gradientImage(t, 1, 3, 8, 8)
	// An image edge aligned with the flow discontinuity.
	edged, err := flat.Clone()
	if err != nil {
		t.Fatal(err)
	}
	for ch := 0; ch < 3; ch++ {
		for y := 0; y < 8; y++ {
			for x := 4; x < 8; x++ {
				edged.Data[ch*64+y*8+x] += 0.9
			}
		}
	}

	plain := value(t, WeightedSmoothnessLoss(flat, flow, cfg))
	relaxed := value(t, WeightedSmoothnessLoss(edged, flow, cfg))
	if relaxed >= plain {
		t.Errorf("edge-aware smoothness %v not below uniform-image smoothness %v", relaxed, plain)
	}
}

func TestTernaryLossIdentityIsZero(t *testing.T) {
	im := gradientImage(t, 1, 3, 8, 8)
	flow := constFlow(t, 1, 8, 8, 0, 0)

	got := value(t, TernaryLoss(im, im, flow, 1))
	if got != 0 {
		t.Errorf("census loss for identity = %v, want exactly 0", got)
	}
}

func TestTernaryLossUncompensatedShiftIsPositive(t *testing.T) {
	im1 := gradientImage(t, 1, 3, 8, 8)
	im2, err := tensor.Zeros([]int{1, 3, 8, 8})
	if err != nil {
		t.Fatal(err)
	}
	// im2 is im1 shifted two pixels right, but the flow stays zero.
	for ch := 0; ch < 3; ch++ {
		for y := 0; y < 8; y++ {
			for x := 2; x < 8; x++ {
				im2.Data[ch*64+y*8+x] = im1.Data[ch*64+y*8+x-2]
			}
		}
	}
	flow := constFlow(t, 1, 8, 8, 0, 0)

	got := value(t, TernaryLoss(im2, im1, flow, 1))
	if got <= 0 {
		t.Errorf("census loss for uncompensated shift = %v, want > 0", got)
	}
}

func TestForwardBackwardLossRoundTripIsZero(t *testing.T) {
	cfg := DefaultConfig()
	fw := constFlow(t, 1, 8, 8, 2, 1)
	bw := constFlow(t, 1, 8, 8, -2, -1)

	got := value(t, ForwardBackwardLoss(fw, bw, cfg))
	if math.Abs(float64(got)) > tol {
		t.Errorf("forward-backward loss for exact round trip = %v, want ~0", got)
	}
}

func TestForwardBackwardLossInconsistentIsPositive(t *testing.T) {
	cfg := DefaultConfig()
	fw := constFlow(t, 1, 8, 8, 2, 1)
	bw := constFlow(t, 1, 8, 8, 1, 1)

	got := value(t, ForwardBackwardLoss(fw, bw, cfg))
	if got <= 0 {
		t.Errorf("forward-backward loss for inconsistent flows = %v, want > 0", got)
	}
}

func TestPhotometricLossIdentityIsZero(t *testing.T) {
	cfg := DefaultConfig()
	im := gradientImage(t, 1, 3, 8, 8)
	flow := constFlow(t, 1, 8, 8, 0, 0)

	got := value(t, PhotometricLoss(im, im, flow, cfg))
	if got != 0 {
		t.Errorf("photometric loss for identity = %v, want exactly 0", got)
	}
}

func TestSSIMLossIdenticalImagesNearZero(t *testing.T) {
	im := gradientImage(t, 1, 3, 8, 8)
	flow := constFlow(t, 1, 8, 8, 0, 0)

	got := value(t, SSIMLoss(im, im, flow))
	if math.Abs(float64(got)) > tol {
		t.Errorf("SSIM loss for identical images = %v, want ~0", got)
	}
}

func TestMultiscaleScalesByDivFlow(t *testing.T) {
	fw := constFlow(t, 1, 4, 4, 1, 0)
	bw := constFlow(t, 1, 4, 4, 1, 0)

	// fn reports the mean u component, so the result exposes the scaling.
	fn := func(scaledFw, _ *tensor.Tensor) *tensor.Tensor {
		return tensor.MeanAutograd(scaledFw)
	}
	total, levels := Multiscale([]*tensor.Tensor{fw}, []*tensor.Tensor{bw}, 20, true, fn)

	got := value(t, total)
	if math.Abs(float64(got-10)) > tol { // mean over (u, v) = (20, 0) is 10
		t.Errorf("scaled level mean = %v, want 10", got)
	}
	if len(levels) != 1 || math.Abs(float64(levels[0]-10)) > tol {
		t.Errorf("per-level values = %v, want [10]", levels)
	}
}

func TestMultiscaleFinestOnlyWhenDisabled(t *testing.T) {
	fine := constFlow(t, 1, 8, 8, 1, 0)
	coarse := constFlow(t, 1, 4, 4, 1, 0)
	pyramid := []*tensor.Tensor{fine, coarse}

	calls := 0
	fn := func(fw, _ *tensor.Tensor) *tensor.Tensor {
		calls++
		return tensor.MeanAutograd(fw)
	}

	_, levels := Multiscale(pyramid, pyramid, 1, false, fn)
	if calls != 1 {
		t.Errorf("loss term evaluated %d times with multiscale off, want 1", calls)
	}
	if len(levels) != 1 {
		t.Errorf("per-level list has %d entries, want 1", len(levels))
	}

	calls = 0
	_, levels = Multiscale(pyramid, pyramid, 1, true, fn)
	if calls != 2 {
		t.Errorf("loss term evaluated %d times with multiscale on, want 2", calls)
	}
	if len(levels) != 2 {
		t.Errorf("per-level list has %d entries, want 2", len(levels))
	}
}

func TestUnflowLossZeroPyramidIdenticalImages(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Census = true
	cfg.Smooth = true
	cfg.SSIM = false
	cfg.FB = false

	im := gradientImage(t, 1, 3, 8, 8)
	predFw := []*tensor.Tensor{constFlow(t, 1, 8, 8, 0, 0), constFlow(t, 1, 4, 4, 0, 0)}
	predBw := []*tensor.Tensor{constFlow(t, 1, 8, 8, 0, 0), constFlow(t, 1, 4, 4, 0, 0)}

	total, terms := UnflowLoss(im, im, predFw, predBw, 20, cfg)
	got := value(t, total)
	if got != 0 {
		t.Errorf("combined loss = %v, want exactly 0", got)
	}
	if terms.Census != 0 || terms.Smooth != 0 {
		t.Errorf("per-term values = %+v, want all zero", terms)
	}
	if terms.SSIM != 0 || terms.FB != 0 {
		t.Errorf("disabled terms reported nonzero: %+v", terms)
	}
}

func TestUnflowLossBackwardProducesFlowGradients(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FB = true

	im1 := gradientImage(t, 1, 3, 8, 8)
	im2, err := tensor.RandomUniform([]int{1, 3, 8, 8}, 0, 1)
	if err != nil {
		t.Fatal(err)
	}

	fw := constFlow(t, 1, 8, 8, 0.5, -0.5)
	bw := constFlow(t, 1, 8, 8, -0.5, 0.5)
	fw.SetRequiresGrad(true)
	bw.SetRequiresGrad(true)

	total, _ := UnflowLoss(im1, im2, []*tensor.Tensor{fw}, []*tensor.Tensor{bw}, 1, cfg)
	if err := total.Backward(); err != nil {
		t.Fatalf("backward failed: %v", err)
	}

	for name, flow := range map[string]*tensor.Tensor{"forward": fw, "backward": bw} {
		grad := flow.Grad()
		if grad == nil {
			t.Fatalf("%s flow has no gradient", name)
		}
		finite := false
		for _, g := range grad.Data {
			if math.IsNaN(float64(g)) || math.IsInf(float64(g), 0) {
				t.Fatalf("%s flow gradient contains NaN/Inf", name)
			}
			if g != 0 {
				finite = true
			}
		}
		if !finite {
			t.Errorf("%s flow gradient is identically zero", name)
		}
	}
}

func TestUnflowSmoothTermIgnoresImageContent(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Census = false
	cfg.SSIM = false
	cfg.FB = false
	cfg.Smooth = true

	flow := constFlow(t, 1, 8, 8, 0, 0)
	for y := 0; y < 8; y++ {
		for x := 4; x < 8; x++ {
			flow.Data[y*8+x] = 5
		}
	}
	pyramid := []*tensor.Tensor{flow}

	flat := gradientImage(t, 1, 3, 8, 8)
	edged, err := flat.Clone()
	if err != nil {
		t.Fatal(err)
	}
	// An image edge aligned with the flow discontinuity. The bidirectional
	// objective uses plain smoothness, so it must not react to it.
	for ch := 0; ch < 3; ch++ {
		for y := 0; y < 8; y++ {
			for x := 4; x < 8; x++ {
				edged.Data[ch*64+y*8+x] += 0.9
			}
		}
	}

	_, flatTerms := UnflowLoss(flat, flat, pyramid, pyramid, 1, cfg)
	_, edgedTerms := UnflowLoss(edged, edged, pyramid, pyramid, 1, cfg)
	if flatTerms.Smooth <= 0 {
		t.Fatalf("smooth term = %v, want > 0", flatTerms.Smooth)
	}
	if flatTerms.Smooth != edgedTerms.Smooth {
		t.Errorf("smooth term changed with image content: %v vs %v", flatTerms.Smooth, edgedTerms.Smooth)
	}
}

func TestUnflowSSIMTermBackwardDirectionOnly(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Census = false
	cfg.Smooth = false
	cfg.FB = false
	cfg.SSIM = true

	im1 := gradientImage(t, 1, 3, 8, 8)
	im2, err := tensor.RandomUniform([]int{1, 3, 8, 8}, 0, 1)
	if err != nil {
		t.Fatal(err)
	}
	fw := constFlow(t, 1, 8, 8, 2, 0)
	bw := constFlow(t, 1, 8, 8, 0.5, -0.5)

	_, terms := UnflowLoss(im1, im2, []*tensor.Tensor{fw}, []*tensor.Tensor{bw}, 1, cfg)
	want := value(t, SSIMLoss(im1, im2, bw))
	if want <= 0 {
		t.Fatalf("reference SSIM value = %v, want > 0", want)
	}
	if math.Abs(float64(terms.SSIM-want)) > tol {
		t.Errorf("SSIM term = %v, want one backward-warp evaluation %v", terms.SSIM, want)
	}
}

func TestUnflowForwardBackwardTermCountedOnce(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Census = false
	cfg.Smooth = false
	cfg.SSIM = false
	cfg.FB = true

	im := gradientImage(t, 1, 3, 8, 8)
	fw := constFlow(t, 1, 8, 8, 2, 1)
	bw := constFlow(t, 1, 8, 8, 1, 1)

	_, terms := UnflowLoss(im, im, []*tensor.Tensor{fw}, []*tensor.Tensor{bw}, 1, cfg)
	want := fbCoeff * cfg.FBWeight * value(t, ForwardBackwardLoss(fw, bw, cfg))
	if want <= 0 {
		t.Fatalf("reference forward-backward value = %v, want > 0", want)
	}
	if math.Abs(float64(terms.FB-want)) > tol {
		t.Errorf("forward-backward term = %v, want one evaluation %v", terms.FB, want)
	}
}

func TestSelfSupervisedLossIdentityIsZeroPhoto(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Smooth = false

	im := gradientImage(t, 1, 3, 8, 8)
	pred := []*tensor.Tensor{constFlow(t, 1, 8, 8, 0, 0)}

	total, terms := SelfSupervisedLoss(im, im, pred, 20, cfg)
	if got := value(t, total); got != 0 {
		t.Errorf("self-supervised identity loss = %v, want exactly 0", got)
	}
	if terms.Photo != 0 {
		t.Errorf("photometric term = %v, want 0", terms.Photo)
	}
}

func TestRealEPEConstantOffset(t *testing.T) {
	pred := constFlow(t, 1, 8, 8, 3, 4)
	target := constFlow(t, 1, 8, 8, 0, 0)

	// Dense: every pixel contributes the 3-4-5 norm.
	if got := RealEPE(pred, target, false); math.Abs(float64(got-5)) > tol {
		t.Errorf("dense EPE = %v, want 5", got)
	}
	// Sparse: an all-zero target has no valid pixels at all.
	if got := RealEPE(pred, target, true); got != 0 {
		t.Errorf("sparse EPE with empty target = %v, want 0", got)
	}
}

func TestRealEPESparseSkipsInvalidPixels(t *testing.T) {
	pred := constFlow(t, 1, 4, 4, 2, 0)
	target := constFlow(t, 1, 4, 4, 0, 0)
	// Two valid pixels with ground truth (1, 0): error 1 each.
	target.Data[0] = 1
	target.Data[5] = 1

	if got := RealEPE(pred, target, true); math.Abs(float64(got-1)) > tol {
		t.Errorf("sparse EPE = %v, want 1", got)
	}
}

func TestRealEPEUpsamplesPrediction(t *testing.T) {
	pred := constFlow(t, 1, 4, 4, 3, 4)
	target := constFlow(t, 1, 8, 8, 0, 0)

	if got := RealEPE(pred, target, false); math.Abs(float64(got-5)) > tol {
		t.Errorf("EPE after upsampling = %v, want 5", got)
	}
}

func TestMultiscaleEPEPerfectPredictionNearZero(t *testing.T) {
	target := constFlow(t, 1, 8, 8, 1, -1)
	pyramid := []*tensor.Tensor{
		constFlow(t, 1, 8, 8, 1, -1),
		constFlow(t, 1, 4, 4, 1, -1),
	}

	got := value(t, MultiscaleEPE(pyramid, target, nil, false))
	if math.Abs(float64(got)) > tol {
		t.Errorf("multiscale EPE for perfect pyramid = %v, want ~0", got)
	}
}

func TestMultiscaleEPEWeightsOrderedFinestFirst(t *testing.T) {
	target := constFlow(t, 1, 4, 4, 0, 0)
	badFine := constFlow(t, 1, 4, 4, 1, 0)
	goodCoarse := constFlow(t, 1, 2, 2, 0, 0)

	weights := []float32{0.5, 4}
	got := value(t, MultiscaleEPE([]*tensor.Tensor{badFine, goodCoarse}, target, weights, false))
	// Only the finest level carries error: 16 pixels of unit norm / batch 1,
	// weighted 0.5.
	if math.Abs(float64(got-8)) > 0.01 {
		t.Errorf("weighted multiscale EPE = %v, want 8", got)
	}
}

func TestMultiscaleEPESparseComparesAtFullResolution(t *testing.T) {
	target := constFlow(t, 1, 4, 4, 0, 0)
	// Two labeled pixels in the same downscaling cell, u = 1 and u = 2.
	// Pooling the target would keep only one of them.
	target.Data[0] = 1
	target.Data[1] = 2

	pred := constFlow(t, 1, 2, 2, 2, 0)
	pred.SetRequiresGrad(true)

	loss := MultiscaleEPE([]*tensor.Tensor{pred}, target, nil, true)
	// Upsampled to 4x4 the prediction matches one labeled pixel and misses
	// the other by 1, so the finest level contributes its weight once.
	want := SupervisedWeights[0]
	got := value(t, loss)
	if math.Abs(float64(got-want)) > 5e-4 {
		t.Errorf("sparse multiscale EPE = %v, want %v", got, want)
	}

	if err := loss.Backward(); err != nil {
		t.Fatalf("backward failed: %v", err)
	}
	grad := pred.Grad()
	if grad == nil {
		t.Fatal("prediction has no gradient")
	}
	nonzero := false
	for _, g := range grad.Data {
		if g != 0 {
			nonzero = true
		}
	}
	if !nonzero {
		t.Error("gradient through the upsampled level is identically zero")
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"zero smooth exponent", func(c *Config) { c.SmoothExp = 0 }, true},
		{"negative photo exponent", func(c *Config) { c.PhotoExp = -1 }, true},
		{"zero census distance", func(c *Config) { c.CensusMaxDistance = 0 }, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tc.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestRobustPenaltyExactZeroAtZero(t *testing.T) {
	zero, err := tensor.Zeros([]int{1, 1, 2, 2})
	if err != nil {
		t.Fatal(err)
	}
	p := robustPenalty(zero, 0.38)
	for i, v := range p.Data {
		if v != 0 {
			t.Fatalf("penalty at zero input, element %d = %v, want exactly 0", i, v)
		}
	}
}
