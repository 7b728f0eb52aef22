package training

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/flowkit/flowtrain/checkpoints"
	"github.com/flowkit/flowtrain/datasets"
	"github.com/flowkit/flowtrain/losses"
	"github.com/flowkit/flowtrain/models"
	"github.com/flowkit/flowtrain/tensor"
)

// DataSource yields the batches of one epoch. Reset starts a new pass;
// Next returns nil when the pass is exhausted.
type DataSource interface {
	Len() int
	Reset()
	HasNext() bool
	Next() (*datasets.Batch, error)
}

// TrainingState tracks the mutable bookkeeping of a run. It is owned by
// the training loop's single goroutine.
type TrainingState struct {
	Epoch   int
	Iter    int // global iteration counter across epochs
	BestEPE float32
	bestSet bool
}

// RecordEPE folds a validation EPE into the best-seen value. The first
// observation always becomes the initial best.
func (s *TrainingState) RecordEPE(epe float32) (isBest bool) {
	if !s.bestSet || epe < s.BestEPE {
		s.BestEPE = epe
		s.bestSet = true
		return true
	}
	return false
}

// Trainer owns one training run: the model, its optimizer and schedule,
// checkpointing, and metric reporting.
type Trainer struct {
	cfg       RunConfig
	model     models.FlowModel
	optimizer Optimizer
	scheduler LRScheduler
	saver     *checkpoints.CheckpointSaver
	tracker   *TrackingService

	state TrainingState
}

// NewTrainer validates the configuration and assembles a run around the
// model. The tracker may be nil when no metrics reporting is wanted.
func NewTrainer(cfg RunConfig, model models.FlowModel, saver *checkpoints.CheckpointSaver, tracker *TrackingService) (*Trainer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid run configuration")
	}

	solverCfg := SolverConfig{
		LearningRate: cfg.LearningRate,
		Momentum:     cfg.Momentum,
		Beta:         cfg.Beta,
		Epsilon:      1e-8,
	}
	groups := []ParamGroup{
		{Params: model.WeightParameters(), WeightDecay: cfg.WeightDecay},
		{Params: model.BiasParameters(), WeightDecay: cfg.BiasDecay},
	}
	optimizer, err := NewOptimizer(cfg.Solver, solverCfg, groups)
	if err != nil {
		return nil, err
	}

	var scheduler LRScheduler = &NoOpScheduler{}
	if len(cfg.Milestones) > 0 {
		scheduler = NewMultiStepLRScheduler(cfg.Milestones, cfg.Gamma)
	}

	return &Trainer{
		cfg:       cfg,
		model:     model,
		optimizer: optimizer,
		scheduler: scheduler,
		saver:     saver,
		tracker:   tracker,
		state:     TrainingState{Epoch: cfg.StartEpoch},
	}, nil
}

// State returns a copy of the run bookkeeping.
func (t *Trainer) State() TrainingState {
	return t.state
}

// Optimizer exposes the solver, mainly for UI and tests.
func (t *Trainer) Optimizer() Optimizer {
	return t.optimizer
}

// Resume restores model weights, optimizer state, and best-EPE bookkeeping
// from a checkpoint.
func (t *Trainer) Resume(ckpt *checkpoints.Checkpoint) error {
	if ckpt.Arch != "" && ckpt.Arch != t.cfg.Arch {
		return errors.Errorf("checkpoint is for architecture %q, run uses %q", ckpt.Arch, t.cfg.Arch)
	}
	if err := checkpoints.LoadWeights(t.model, ckpt.Weights); err != nil {
		return err
	}
	if ckpt.OptimizerState != nil {
		if err := t.optimizer.LoadState(ckpt.OptimizerState); err != nil {
			return err
		}
	}
	t.state.Epoch = ckpt.Epoch
	if ckpt.BestEPE > 0 {
		t.state.BestEPE = ckpt.BestEPE
		t.state.bestSet = true
	}
	return nil
}

// Run executes the configured epochs: train, validate, and checkpoint per
// epoch. Collaborator failures abort the run.
func (t *Trainer) Run(train, val DataSource) error {
	for epoch := t.state.Epoch; epoch < t.cfg.Epochs; epoch++ {
		t.state.Epoch = epoch
		t.optimizer.UpdateLearningRate(t.scheduler.GetLR(epoch, t.cfg.LearningRate))

		trainLoss, trainEPE, err := t.TrainEpoch(train, epoch)
		if err != nil {
			return errors.Wrapf(err, "epoch %d failed", epoch)
		}

		valEPE, err := t.Validate(val, epoch)
		if err != nil {
			return errors.Wrapf(err, "validation after epoch %d failed", epoch)
		}

		fmt.Printf(" * Epoch %d done\t Loss %.4f\t Train EPE %.4f\t Val EPE %.4f\n",
			epoch, trainLoss, trainEPE, valEPE)
		t.trackScalar("mean_loss", epoch, float64(trainLoss))
		t.trackScalar("mean_EPE", epoch, float64(valEPE))

		isBest := t.state.RecordEPE(valEPE)
		if t.saver != nil {
			ckpt := t.buildCheckpoint(epoch)
			if err := t.saver.SaveTrainingCheckpoint(ckpt, t.cfg.SavePath, isBest); err != nil {
				return errors.Wrapf(err, "failed to checkpoint epoch %d", epoch)
			}
		}
	}
	return nil
}

func (t *Trainer) buildCheckpoint(epoch int) *checkpoints.Checkpoint {
	return &checkpoints.Checkpoint{
		Epoch:          epoch + 1,
		Arch:           t.cfg.Arch,
		BestEPE:        t.state.BestEPE,
		DivFlow:        t.cfg.DivFlow,
		Weights:        checkpoints.ExtractWeights(t.model),
		OptimizerState: t.optimizer.GetState(),
	}
}

// stepResult carries the outcome of one optimization step.
type stepResult struct {
	loss  *tensor.Tensor
	terms losses.Terms
	diag  *tensor.Tensor // finest prediction used for the EPE diagnostic
}

// step runs the variant-specific forward and loss computation for a batch.
func (t *Trainer) step(batch *datasets.Batch) (stepResult, error) {
	im1, im2 := batch.Images1, batch.Images2

	switch t.cfg.Mode {
	case ModeUnflow:
		predFw, predBw := BidirectionalForward(t.model, im1, im2)
		loss, terms := losses.UnflowLoss(im1, im2, predFw, predBw, t.cfg.DivFlow, t.cfg.Loss)
		return stepResult{loss: loss, terms: terms, diag: predBw[0]}, nil

	case ModeSelfSupervised:
		pred := t.model.Forward(tensor.ConcatChannelsAutograd(im1, im2))
		loss, terms := losses.SelfSupervisedLoss(im1, im2, pred, t.cfg.DivFlow, t.cfg.Loss)
		return stepResult{loss: loss, terms: terms, diag: pred[0]}, nil

	case ModeSupervised:
		pred := t.model.Forward(tensor.ConcatChannelsAutograd(im1, im2))
		target := tensor.Scale(batch.Flow, 1/t.cfg.DivFlow)
		loss := losses.MultiscaleEPE(pred, target, t.cfg.MultiscaleWeights, t.cfg.Sparse)
		return stepResult{loss: loss, diag: pred[0]}, nil

	default:
		return stepResult{}, errors.Errorf("unknown training mode %d", t.cfg.Mode)
	}
}

// TrainEpoch runs up to EpochSize optimization steps over the data source
// and returns the epoch's mean loss and mean EPE diagnostic.
func (t *Trainer) TrainEpoch(data DataSource, epoch int) (float32, float32, error) {
	lossMeter := NewAverageMeter()
	epeMeter := NewAverageMeter()

	t.model.Train()
	data.Reset()

	batches := data.Len()
	if t.cfg.EpochSize > 0 && t.cfg.EpochSize < batches {
		batches = t.cfg.EpochSize
	}

	for i := 0; i < batches && data.HasNext(); i++ {
		batch, err := data.Next()
		if err != nil {
			return 0, 0, err
		}
		if batch == nil {
			break
		}
		batchSize := batch.Images1.Shape[0]

		result, err := t.step(batch)
		if err != nil {
			return 0, 0, err
		}

		// The diagnostic compares real displacements, outside the graph.
		target := tensor.Scale(batch.Flow, 1/t.cfg.DivFlow)
		epe := t.cfg.DivFlow * losses.RealEPE(result.diag.Detach(), target, t.cfg.Sparse)

		t.optimizer.ZeroGrad()
		if err := result.loss.Backward(); err != nil {
			return 0, 0, errors.Wrap(err, "backward pass failed")
		}
		if err := t.optimizer.Step(); err != nil {
			return 0, 0, errors.Wrap(err, "optimizer step failed")
		}

		lossValue, err := result.loss.Item()
		if err != nil {
			return 0, 0, errors.Wrap(err, "loss is not a scalar")
		}
		lossMeter.Update(lossValue, batchSize)
		epeMeter.Update(epe, batchSize)

		t.trackScalar("train_loss", t.state.Iter, float64(lossValue))
		t.trackScalar("train_EPE", t.state.Iter, float64(epe))
		if t.cfg.Mode != ModeSupervised {
			t.trackTerms(result.terms)
		}

		if t.cfg.PrintFreq > 0 && i%t.cfg.PrintFreq == 0 {
			fmt.Printf("Epoch: [%d][%d/%d]\t Loss %s\t EPE %s\n",
				epoch, i, batches, lossMeter, epeMeter)
		}
		if t.cfg.DebugFreq > 0 && i > 0 && i%t.cfg.DebugFreq == 0 && t.cfg.Mode != ModeSupervised {
			fmt.Printf("[DEBUG] census %.4f smooth %.4f ssim %.4f fb %.4f photo %.4f\n",
				result.terms.Census, result.terms.Smooth, result.terms.SSIM,
				result.terms.FB, result.terms.Photo)
		}
		t.state.Iter++
	}

	return lossMeter.Avg, epeMeter.Avg, nil
}

func (t *Trainer) trackScalar(name string, step int, value float64) {
	if t.tracker == nil {
		return
	}
	// Metric delivery is best effort and never interrupts training.
	_ = t.tracker.AddScalar(name, step, value)
}

func (t *Trainer) trackTerms(terms losses.Terms) {
	t.trackScalar("train_loss_census", t.state.Iter, float64(terms.Census))
	t.trackScalar("train_loss_smooth", t.state.Iter, float64(terms.Smooth))
	if t.cfg.Loss.SSIM {
		t.trackScalar("train_loss_ssim", t.state.Iter, float64(terms.SSIM))
	}
	if t.cfg.Loss.FB {
		t.trackScalar("train_loss_fb", t.state.Iter, float64(terms.FB))
	}
	if t.cfg.Mode == ModeSelfSupervised {
		t.trackScalar("train_loss_photo", t.state.Iter, float64(terms.Photo))
	}
}
