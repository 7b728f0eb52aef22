package training

import (
	"bytes"
	"image"
	"image/color"
	"image/png"

	"github.com/pkg/errors"

	"github.com/flowkit/flowtrain/datasets"
	"github.com/flowkit/flowtrain/tensor"
)

// flowVizMax is the displacement magnitude mapped to full color saturation
// in flow visualizations.
const flowVizMax = 10

// Flow2RGB renders a (2, H, W) flow field as a (3, H, W) RGB map in
// [0, 1]: horizontal motion shifts red against blue, vertical motion the
// reverse, and zero flow is mid gray.
func Flow2RGB(flow *tensor.Tensor, maxValue float32) (*tensor.Tensor, error) {
	if len(flow.Shape) != 3 || flow.Shape[0] != 2 {
		return nil, errors.Errorf("flow has shape %v, want (2, H, W)", flow.Shape)
	}
	if maxValue <= 0 {
		maxValue = flowVizMax
	}
	h, w := flow.Shape[1], flow.Shape[2]
	plane := h * w

	rgb, err := tensor.Full([]int{3, h, w}, 0.5)
	if err != nil {
		return nil, err
	}
	for i := 0; i < plane; i++ {
		u := flow.Data[i] / maxValue
		v := flow.Data[plane+i] / maxValue
		rgb.Data[i] = clamp01(0.5 + u)
		rgb.Data[plane+i] = clamp01(0.5 - 0.5*(u+v))
		rgb.Data[2*plane+i] = clamp01(0.5 + v)
	}
	return rgb, nil
}

// DenormalizeImage undoes the dataset input normalization so an input
// tensor can be rendered: the channel mean is added back and values are
// clipped to [0, 1].
func DenormalizeImage(im *tensor.Tensor) (*tensor.Tensor, error) {
	if len(im.Shape) != 3 || im.Shape[0] != 3 {
		return nil, errors.Errorf("image has shape %v, want (3, H, W)", im.Shape)
	}
	out, err := im.Clone()
	if err != nil {
		return nil, err
	}
	plane := im.Shape[1] * im.Shape[2]
	for c := 0; c < 3; c++ {
		for i := 0; i < plane; i++ {
			out.Data[c*plane+i] = clamp01(out.Data[c*plane+i] + datasets.ImageMean[c])
		}
	}
	return out, nil
}

// EncodePNG converts a (3, H, W) tensor in [0, 1] to PNG bytes for the
// tracking sidecar.
func EncodePNG(rgb *tensor.Tensor) ([]byte, error) {
	if len(rgb.Shape) != 3 || rgb.Shape[0] != 3 {
		return nil, errors.Errorf("tensor has shape %v, want (3, H, W)", rgb.Shape)
	}
	h, w := rgb.Shape[1], rgb.Shape[2]
	plane := h * w

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := y*w + x
			img.SetRGBA(x, y, color.RGBA{
				R: byteValue(rgb.Data[i]),
				G: byteValue(rgb.Data[plane+i]),
				B: byteValue(rgb.Data[2*plane+i]),
				A: 255,
			})
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, errors.Wrap(err, "failed to encode PNG")
	}
	return buf.Bytes(), nil
}

// sliceSample extracts element n of a batched (B, C, H, W) tensor as a
// (C, H, W) view copy.
func sliceSample(batch *tensor.Tensor, n int) (*tensor.Tensor, error) {
	if len(batch.Shape) != 4 {
		return nil, errors.Errorf("tensor has shape %v, want 4D batch", batch.Shape)
	}
	c, h, w := batch.Shape[1], batch.Shape[2], batch.Shape[3]
	out, err := tensor.Zeros([]int{c, h, w})
	if err != nil {
		return nil, err
	}
	size := c * h * w
	copy(out.Data, batch.Data[n*size:(n+1)*size])
	return out, nil
}

func clamp01(v float32) float32 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func byteValue(v float32) uint8 {
	return uint8(clamp01(v) * 254.999)
}
