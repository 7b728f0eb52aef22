package datasets

import (
	"math/rand"
	"sync"

	"github.com/pkg/errors"

	"github.com/flowkit/flowtrain/tensor"
)

// Dataset interface defines methods that all flow datasets must implement
type Dataset interface {
	Len() int // Total number of samples
	// Get returns a single sample: two images (3, H, W) and the target
	// flow (2, H, W) in pixel units.
	Get(idx int) (im1, im2, flow *tensor.Tensor, err error)
}

// Batch represents a batch of image pairs with target flow
type Batch struct {
	Images1 *tensor.Tensor // (batch, 3, H, W)
	Images2 *tensor.Tensor // (batch, 3, H, W)
	Flow    *tensor.Tensor // (batch, 2, H, W)
}

// DataLoader provides batching and shuffling over a Dataset
type DataLoader struct {
	dataset   Dataset
	batchSize int
	shuffle   bool
	indices   []int
	position  int
	mutex     sync.Mutex
	rng       *rand.Rand
}

// NewDataLoader creates a new DataLoader
func NewDataLoader(dataset Dataset, batchSize int, shuffle bool, seed int64) *DataLoader {
	indices := make([]int, dataset.Len())
	for i := range indices {
		indices[i] = i
	}
	return &DataLoader{
		dataset:   dataset,
		batchSize: batchSize,
		shuffle:   shuffle,
		indices:   indices,
		rng:       rand.New(rand.NewSource(seed)),
	}
}

// Len returns the number of batches in an epoch
func (dl *DataLoader) Len() int {
	return (dl.dataset.Len() + dl.batchSize - 1) / dl.batchSize
}

// Reset resets the data loader for a new epoch
func (dl *DataLoader) Reset() {
	dl.mutex.Lock()
	defer dl.mutex.Unlock()

	dl.position = 0
	if dl.shuffle {
		for i := len(dl.indices) - 1; i > 0; i-- {
			j := dl.rng.Intn(i + 1)
			dl.indices[i], dl.indices[j] = dl.indices[j], dl.indices[i]
		}
	}
}

// Next returns the next batch or nil when the epoch is complete
func (dl *DataLoader) Next() (*Batch, error) {
	dl.mutex.Lock()
	defer dl.mutex.Unlock()

	if dl.position >= len(dl.indices) {
		return nil, nil // End of epoch
	}

	batchEnd := dl.position + dl.batchSize
	if batchEnd > len(dl.indices) {
		batchEnd = len(dl.indices)
	}
	batchIndices := dl.indices[dl.position:batchEnd]
	dl.position = batchEnd

	batch, err := dl.loadBatch(batchIndices)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load batch")
	}
	return batch, nil
}

// HasNext returns true if there are more batches in the current epoch
func (dl *DataLoader) HasNext() bool {
	dl.mutex.Lock()
	defer dl.mutex.Unlock()
	return dl.position < len(dl.indices)
}

func (dl *DataLoader) loadBatch(indices []int) (*Batch, error) {
	var batch *Batch
	for i, idx := range indices {
		im1, im2, flow, err := dl.dataset.Get(idx)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to load sample %d", idx)
		}
		if batch == nil {
			var err error
			batch, err = newBatch(len(indices), im1, im2, flow)
			if err != nil {
				return nil, err
			}
		}
		if err := stackInto(batch.Images1, im1, i); err != nil {
			return nil, err
		}
		if err := stackInto(batch.Images2, im2, i); err != nil {
			return nil, err
		}
		if err := stackInto(batch.Flow, flow, i); err != nil {
			return nil, err
		}
	}
	return batch, nil
}

func newBatch(size int, im1, im2, flow *tensor.Tensor) (*Batch, error) {
	images1, err := tensor.Zeros(append([]int{size}, im1.Shape...))
	if err != nil {
		return nil, err
	}
	images2, err := tensor.Zeros(append([]int{size}, im2.Shape...))
	if err != nil {
		return nil, err
	}
	flows, err := tensor.Zeros(append([]int{size}, flow.Shape...))
	if err != nil {
		return nil, err
	}
	return &Batch{Images1: images1, Images2: images2, Flow: flows}, nil
}

func stackInto(dst, sample *tensor.Tensor, batchIndex int) error {
	if len(sample.Data)*dst.Shape[0] != len(dst.Data) {
		return errors.Errorf("sample has %d values, batch slot expects %d",
			len(sample.Data), len(dst.Data)/dst.Shape[0])
	}
	copy(dst.Data[batchIndex*len(sample.Data):], sample.Data)
	return nil
}
