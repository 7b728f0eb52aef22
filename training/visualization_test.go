package training

import (
	"bytes"
	"image/png"
	"math"
	"testing"

	"github.com/flowkit/flowtrain/datasets"
	"github.com/flowkit/flowtrain/tensor"
)

func TestFlow2RGB(t *testing.T) {
	flow, err := tensor.Zeros([]int{2, 2, 2})
	if err != nil {
		t.Fatal(err)
	}
	// Pixel 0 moves right at the saturation magnitude.
	flow.Data[0] = flowVizMax

	rgb, err := Flow2RGB(flow, flowVizMax)
	if err != nil {
		t.Fatal(err)
	}
	if rgb.Shape[0] != 3 || rgb.Shape[1] != 2 || rgb.Shape[2] != 2 {
		t.Fatalf("shape %v, want (3, 2, 2)", rgb.Shape)
	}

	// Zero flow renders mid gray.
	if rgb.Data[1] != 0.5 || rgb.Data[4+1] != 0.5 || rgb.Data[8+1] != 0.5 {
		t.Errorf("zero-flow pixel not gray: %v %v %v", rgb.Data[1], rgb.Data[5], rgb.Data[9])
	}
	// Saturated rightward motion maxes red and empties half the green.
	if rgb.Data[0] != 1 {
		t.Errorf("red at moving pixel = %v, want 1", rgb.Data[0])
	}
	if math.Abs(float64(rgb.Data[4]-0)) > 1e-6 {
		t.Errorf("green at moving pixel = %v, want 0", rgb.Data[4])
	}

	if _, err := Flow2RGB(rgb, 1); err == nil {
		t.Error("expected error for non-flow shape, got nil")
	}
}

func TestDenormalizeImage(t *testing.T) {
	im, err := tensor.Zeros([]int{3, 1, 1}) // normalized zero = channel mean
	if err != nil {
		t.Fatal(err)
	}
	out, err := DenormalizeImage(im)
	if err != nil {
		t.Fatal(err)
	}
	for c := 0; c < 3; c++ {
		if math.Abs(float64(out.Data[c]-datasets.ImageMean[c])) > 1e-6 {
			t.Errorf("channel %d = %v, want %v", c, out.Data[c], datasets.ImageMean[c])
		}
	}
}

func TestEncodePNG(t *testing.T) {
	rgb, err := tensor.Full([]int{3, 4, 6}, 0.25)
	if err != nil {
		t.Fatal(err)
	}
	data, err := EncodePNG(rgb)
	if err != nil {
		t.Fatal(err)
	}

	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("output is not valid PNG: %v", err)
	}
	bounds := img.Bounds()
	if bounds.Dx() != 6 || bounds.Dy() != 4 {
		t.Errorf("decoded size %dx%d, want 6x4", bounds.Dx(), bounds.Dy())
	}
}

func TestSliceSample(t *testing.T) {
	batch, err := tensor.Zeros([]int{2, 2, 3, 3})
	if err != nil {
		t.Fatal(err)
	}
	for i := 18; i < 36; i++ {
		batch.Data[i] = 1
	}

	second, err := sliceSample(batch, 1)
	if err != nil {
		t.Fatal(err)
	}
	for i, v := range second.Data {
		if v != 1 {
			t.Fatalf("element %d = %v, want 1", i, v)
		}
	}
}
