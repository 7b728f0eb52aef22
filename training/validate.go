package training

import (
	"fmt"

	"github.com/flowkit/flowtrain/datasets"
	"github.com/flowkit/flowtrain/losses"
	"github.com/flowkit/flowtrain/tensor"
)

// vizBatches is how many leading validation batches emit image artifacts.
const vizBatches = 3

// Validate iterates the held-out set with gradient tracking disabled and
// returns the mean endpoint error in pixels. The leading batches send
// visualization artifacts to the tracking sidecar.
func (t *Trainer) Validate(data DataSource, epoch int) (float32, error) {
	epeMeter := NewAverageMeter()

	t.model.Eval()
	defer t.model.Train()
	data.Reset()

	for i := 0; data.HasNext(); i++ {
		batch, err := data.Next()
		if err != nil {
			return 0, err
		}
		if batch == nil {
			break
		}

		pred := t.model.Forward(tensor.ConcatChannelsAutograd(batch.Images1, batch.Images2))
		target := tensor.Scale(batch.Flow, 1/t.cfg.DivFlow)
		epe := t.cfg.DivFlow * losses.RealEPE(pred[0], target, t.cfg.Sparse)
		epeMeter.Update(epe, batch.Images1.Shape[0])

		if i < vizBatches {
			t.emitVisualization(i, epoch == 0, batch, pred[0])
		}

		if t.cfg.PrintFreq > 0 && i%t.cfg.PrintFreq == 0 {
			fmt.Printf("Test: [%d/%d]\t EPE %s\n", i, data.Len(), epeMeter)
		}
	}

	fmt.Printf(" * EPE %.3f\n", epeMeter.Avg)
	return epeMeter.Avg, nil
}

// emitVisualization sends the predicted flow image for the first sample of
// a batch, plus the ground truth and both inputs on the first epoch.
// Failures are diagnostic only and ignored.
func (t *Trainer) emitVisualization(index int, firstEpoch bool, batch *datasets.Batch, pred *tensor.Tensor) {
	if t.tracker == nil {
		return
	}

	if firstEpoch {
		if gt, err := sliceSample(batch.Flow, 0); err == nil {
			if rgb, err := Flow2RGB(gt, flowVizMax); err == nil {
				t.sendImage(fmt.Sprintf("GroundTruth_%d", index), rgb)
			}
		}
		for k, images := range []*tensor.Tensor{batch.Images1, batch.Images2} {
			if im, err := sliceSample(images, 0); err == nil {
				if denorm, err := DenormalizeImage(im); err == nil {
					t.sendImage(fmt.Sprintf("Input_%d_%d", index, k), denorm)
				}
			}
		}
	}

	predScaled := tensor.Scale(pred.Detach(), t.cfg.DivFlow)
	if sample, err := sliceSample(predScaled, 0); err == nil {
		if rgb, err := Flow2RGB(sample, flowVizMax); err == nil {
			t.sendImage(fmt.Sprintf("Output_%d", index), rgb)
		}
	}
}

func (t *Trainer) sendImage(name string, rgb *tensor.Tensor) {
	data, err := EncodePNG(rgb)
	if err != nil {
		return
	}
	_ = t.tracker.AddImage(name, t.state.Epoch, "png", data)
}
