package datasets

import (
	"bufio"
	"fmt"
	"image"
	"image/color"
	"io"
	"os"
	"path/filepath"
	"strings"

	// Register the decoders used by the common flow datasets.
	_ "image/jpeg"
	_ "image/png"

	"github.com/pkg/errors"

	"github.com/flowkit/flowtrain/tensor"
)

// ImageMean is the per-channel mean subtracted from inputs, in [0, 1]
// units. Visualizations add it back before rendering.
var ImageMean = [3]float32{0.45, 0.432, 0.411}

// LoadImage reads an image file and converts it to a normalized (3, H, W)
// tensor: values scaled to [0, 1] with the channel mean removed. PPM is
// decoded directly; other formats go through the registered image decoders.
func LoadImage(path string) (*tensor.Tensor, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open image")
	}
	defer f.Close()

	var img image.Image
	if strings.EqualFold(filepath.Ext(path), ".ppm") {
		img, err = decodePPM(bufio.NewReader(f))
	} else {
		img, _, err = image.Decode(bufio.NewReader(f))
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to decode %s", filepath.Base(path))
	}
	return imageToTensor(img), nil
}

func imageToTensor(img image.Image) *tensor.Tensor {
	bounds := img.Bounds()
	h, w := bounds.Dy(), bounds.Dx()
	out, err := tensor.Zeros([]int{3, h, w})
	if err != nil {
		panic(err)
	}
	plane := h * w
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, b, _ := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			i := y*w + x
			out.Data[i] = float32(r)/65535 - ImageMean[0]
			out.Data[plane+i] = float32(g)/65535 - ImageMean[1]
			out.Data[2*plane+i] = float32(b)/65535 - ImageMean[2]
		}
	}
	return out
}

// decodePPM reads binary P6 (color) and P5 (grayscale) netpbm images, the
// formats shipped with the FlyingChairs dataset.
func decodePPM(r *bufio.Reader) (image.Image, error) {
	magic, err := ppmToken(r)
	if err != nil {
		return nil, err
	}
	if magic != "P6" && magic != "P5" {
		return nil, errors.Errorf("unsupported netpbm magic %q", magic)
	}

	var w, h, maxVal int
	for _, dst := range []*int{&w, &h, &maxVal} {
		tok, err := ppmToken(r)
		if err != nil {
			return nil, err
		}
		if _, err := fmt.Sscanf(tok, "%d", dst); err != nil {
			return nil, errors.Wrapf(err, "bad netpbm header field %q", tok)
		}
	}
	if w <= 0 || h <= 0 || maxVal <= 0 || maxVal > 255 {
		return nil, errors.Errorf("unsupported netpbm geometry %dx%d max %d", w, h, maxVal)
	}

	channels := 3
	if magic == "P5" {
		channels = 1
	}
	raw := make([]byte, w*h*channels)
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, errors.Wrap(err, "truncated netpbm pixel data")
	}

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := (y*w + x) * channels
			var c color.RGBA
			if channels == 3 {
				c = color.RGBA{raw[i], raw[i+1], raw[i+2], 255}
			} else {
				c = color.RGBA{raw[i], raw[i], raw[i], 255}
			}
			img.SetRGBA(x, y, c)
		}
	}
	return img, nil
}

// ppmToken reads the next whitespace-delimited header token, skipping
// comment lines.
func ppmToken(r *bufio.Reader) (string, error) {
	var sb strings.Builder
	for {
		b, err := r.ReadByte()
		if err != nil {
			return "", errors.Wrap(err, "truncated netpbm header")
		}
		switch {
		case b == '#':
			if _, err := r.ReadString('\n'); err != nil {
				return "", errors.Wrap(err, "truncated netpbm comment")
			}
		case b == ' ' || b == '\t' || b == '\n' || b == '\r':
			if sb.Len() > 0 {
				return sb.String(), nil
			}
		default:
			sb.WriteByte(b)
		}
	}
}
