// Package datasets loads optical-flow training data: image pairs with
// ground-truth flow fields, train/test splitting, and batched iteration.
package datasets

import (
	"encoding/binary"
	"io"
	"math"
	"os"

	"github.com/pkg/errors"
)

// floMagic is the sanity-check header of the Middlebury .flo format. The
// bytes spell "PIEH" when read as ASCII.
const floMagic = 202021.25

// FlowField is a dense two-channel flow map in pixel units, stored row
// major with u and v interleaved per pixel.
type FlowField struct {
	Width  int
	Height int
	Data   []float32 // len = Width*Height*2, (u, v) per pixel
}

// ReadFlo parses a Middlebury .flo file.
func ReadFlo(path string) (*FlowField, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open flow file")
	}
	defer f.Close()
	return decodeFlo(f)
}

func decodeFlo(r io.Reader) (*FlowField, error) {
	var header struct {
		Magic  float32
		Width  int32
		Height int32
	}
	if err := binary.Read(r, binary.LittleEndian, &header); err != nil {
		return nil, errors.Wrap(err, "failed to read flow header")
	}
	if header.Magic != floMagic {
		return nil, errors.Errorf("bad flow magic %v, want %v", header.Magic, floMagic)
	}
	if header.Width <= 0 || header.Height <= 0 || header.Width > 1<<15 || header.Height > 1<<15 {
		return nil, errors.Errorf("implausible flow dimensions %dx%d", header.Width, header.Height)
	}

	field := &FlowField{
		Width:  int(header.Width),
		Height: int(header.Height),
		Data:   make([]float32, int(header.Width)*int(header.Height)*2),
	}
	if err := binary.Read(r, binary.LittleEndian, field.Data); err != nil {
		return nil, errors.Wrap(err, "failed to read flow data")
	}
	return field, nil
}

// WriteFlo writes a flow field in the Middlebury .flo format.
func WriteFlo(path string, field *FlowField) error {
	if len(field.Data) != field.Width*field.Height*2 {
		return errors.Errorf("flow data has %d values, want %d", len(field.Data), field.Width*field.Height*2)
	}
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "failed to create flow file")
	}
	defer f.Close()

	header := struct {
		Magic  float32
		Width  int32
		Height int32
	}{floMagic, int32(field.Width), int32(field.Height)}
	if err := binary.Write(f, binary.LittleEndian, header); err != nil {
		return errors.Wrap(err, "failed to write flow header")
	}
	if err := binary.Write(f, binary.LittleEndian, field.Data); err != nil {
		return errors.Wrap(err, "failed to write flow data")
	}
	return nil
}

// At returns the (u, v) displacement at a pixel.
func (f *FlowField) At(x, y int) (u, v float32) {
	i := (y*f.Width + x) * 2
	return f.Data[i], f.Data[i+1]
}

// MaxMagnitude returns the largest displacement norm in the field, used to
// normalize flow visualizations.
func (f *FlowField) MaxMagnitude() float32 {
	var maxSq float64
	for i := 0; i < len(f.Data); i += 2 {
		u := float64(f.Data[i])
		v := float64(f.Data[i+1])
		if sq := u*u + v*v; sq > maxSq {
			maxSq = sq
		}
	}
	return float32(math.Sqrt(maxSq))
}
