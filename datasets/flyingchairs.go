package datasets

import (
	"bufio"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/flowkit/flowtrain/tensor"
)

// imageExtensions are tried in order when resolving the image pair next to
// a flow file.
var imageExtensions = []string{".ppm", ".png", ".jpg"}

// sampleTriplet names the three files of one training sample.
type sampleTriplet struct {
	im1  string
	im2  string
	flow string
}

// FlowDirDataset is a directory of FlyingChairs-style samples: for each
// "<id>_flow.flo" there is an "<id>_img1" and "<id>_img2" image.
type FlowDirDataset struct {
	root    string
	samples []sampleTriplet
}

// NewFlowDirDataset scans root for flow files and their image pairs.
func NewFlowDirDataset(root string) (*FlowDirDataset, error) {
	flows, err := filepath.Glob(filepath.Join(root, "*_flow.flo"))
	if err != nil {
		return nil, errors.Wrap(err, "failed to scan dataset directory")
	}
	sort.Strings(flows)

	ds := &FlowDirDataset{root: root}
	for _, flowPath := range flows {
		id := strings.TrimSuffix(filepath.Base(flowPath), "_flow.flo")
		im1, ok1 := resolveImage(root, id+"_img1")
		im2, ok2 := resolveImage(root, id+"_img2")
		if !ok1 || !ok2 {
			return nil, errors.Errorf("sample %s is missing an image pair", id)
		}
		ds.samples = append(ds.samples, sampleTriplet{im1: im1, im2: im2, flow: flowPath})
	}
	if len(ds.samples) == 0 {
		return nil, errors.Errorf("no samples found under %s", root)
	}
	return ds, nil
}

func resolveImage(root, stem string) (string, bool) {
	for _, ext := range imageExtensions {
		path := filepath.Join(root, stem+ext)
		if _, err := os.Stat(path); err == nil {
			return path, true
		}
	}
	return "", false
}

// Len returns the number of samples.
func (d *FlowDirDataset) Len() int {
	return len(d.samples)
}

// Get loads one sample from disk. Images come back normalized; flow stays
// in pixel units.
func (d *FlowDirDataset) Get(idx int) (im1, im2, flow *tensor.Tensor, err error) {
	if idx < 0 || idx >= len(d.samples) {
		return nil, nil, nil, errors.Errorf("sample index %d out of range [0, %d)", idx, len(d.samples))
	}
	s := d.samples[idx]

	if im1, err = LoadImage(s.im1); err != nil {
		return nil, nil, nil, err
	}
	if im2, err = LoadImage(s.im2); err != nil {
		return nil, nil, nil, err
	}

	field, err := ReadFlo(s.flow)
	if err != nil {
		return nil, nil, nil, err
	}
	flow, err = flowToTensor(field)
	if err != nil {
		return nil, nil, nil, err
	}
	return im1, im2, flow, nil
}

// flowToTensor converts interleaved (u, v) pixels to a planar (2, H, W)
// tensor.
func flowToTensor(field *FlowField) (*tensor.Tensor, error) {
	out, err := tensor.Zeros([]int{2, field.Height, field.Width})
	if err != nil {
		return nil, err
	}
	plane := field.Height * field.Width
	for i := 0; i < plane; i++ {
		out.Data[i] = field.Data[2*i]
		out.Data[plane+i] = field.Data[2*i+1]
	}
	return out, nil
}

// Split divides the dataset into train and test subsets by ratio. Shuffling
// uses the given seed so a split is reproducible across runs.
func (d *FlowDirDataset) Split(trainRatio float64, seed int64) (train, test *FlowDirDataset) {
	indices := make([]int, len(d.samples))
	for i := range indices {
		indices[i] = i
	}
	rng := rand.New(rand.NewSource(seed))
	rng.Shuffle(len(indices), func(i, j int) {
		indices[i], indices[j] = indices[j], indices[i]
	})

	cut := int(float64(len(indices)) * trainRatio)
	return d.subset(indices[:cut]), d.subset(indices[cut:])
}

// SplitFromFile divides the dataset by a split file: one line per sample,
// "1" marking a training sample, anything else test.
func (d *FlowDirDataset) SplitFromFile(path string) (train, test *FlowDirDataset, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to open split file")
	}
	defer f.Close()

	var trainIdx, testIdx []int
	scanner := bufio.NewScanner(f)
	for i := 0; scanner.Scan(); i++ {
		if i >= len(d.samples) {
			return nil, nil, errors.Errorf("split file has more lines than the %d samples", len(d.samples))
		}
		if strings.TrimSpace(scanner.Text()) == "1" {
			trainIdx = append(trainIdx, i)
		} else {
			testIdx = append(testIdx, i)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, errors.Wrap(err, "failed to read split file")
	}
	return d.subset(trainIdx), d.subset(testIdx), nil
}

func (d *FlowDirDataset) subset(indices []int) *FlowDirDataset {
	sub := &FlowDirDataset{root: d.root}
	for _, i := range indices {
		sub.samples = append(sub.samples, d.samples[i])
	}
	return sub
}
