// Command flowtrain trains an optical-flow network on a directory of image
// pairs with ground-truth flow, in one of three modes: supervised endpoint
// error, single-direction self-supervision, or bidirectional unflow.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/flowkit/flowtrain/checkpoints"
	"github.com/flowkit/flowtrain/datasets"
	"github.com/flowkit/flowtrain/models"
	"github.com/flowkit/flowtrain/training"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "flowtrain: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := training.DefaultRunConfig()

	var (
		dataPath   = flag.String("data", "", "path to the dataset directory (required)")
		arch       = flag.String("arch", cfg.Arch, "network architecture: "+strings.Join(models.Architectures(), ", "))
		solver     = flag.String("solver", cfg.Solver, "solver: adam or sgd")
		mode       = flag.String("mode", cfg.Mode.String(), "training mode: supervised, selfsupervised, or unflow")
		epochs     = flag.Int("epochs", cfg.Epochs, "number of epochs")
		startEpoch = flag.Int("start-epoch", 0, "first epoch index, for resumed runs")
		epochSize  = flag.Int("epoch-size", cfg.EpochSize, "iterations per epoch (0 uses the dataset length)")
		batchSize  = flag.Int("batch-size", cfg.BatchSize, "samples per batch")
		lr         = flag.Float64("lr", float64(cfg.LearningRate), "initial learning rate")
		momentum   = flag.Float64("momentum", float64(cfg.Momentum), "momentum for sgd, beta1 for adam")
		beta       = flag.Float64("beta", float64(cfg.Beta), "beta2 for adam")
		decay      = flag.Float64("weight-decay", float64(cfg.WeightDecay), "weight decay on kernels")
		biasDecay  = flag.Float64("bias-decay", float64(cfg.BiasDecay), "weight decay on biases")
		milestones = flag.String("milestones", intsToCSV(cfg.Milestones), "comma-separated epochs with LR decay")
		gamma      = flag.Float64("gamma", float64(cfg.Gamma), "LR decay factor at each milestone")
		divFlow    = flag.Float64("div-flow", float64(cfg.DivFlow), "flow normalization divisor")
		weights    = flag.String("multiscale-weights", "", "comma-separated supervised loss weights, finest first")
		sparse     = flag.Bool("sparse", false, "ground-truth flow is sparse (zeros mark missing pixels)")
		printFreq  = flag.Int("print-freq", cfg.PrintFreq, "iterations between progress lines")
		splitRatio = flag.Float64("split-ratio", 0.8, "train fraction when no split file is given")
		splitFile  = flag.String("split-file", "", "split file: one line per sample, 1 marks training")
		seed       = flag.Int64("seed", 1, "shuffle seed")
		prefetch   = flag.Int("prefetch", 2, "batches to decode ahead of the training loop")
		savePath   = flag.String("save-path", "checkpoints", "directory for checkpoints")
		binaryCkpt = flag.Bool("binary-checkpoints", false, "save checkpoints in the binary format")
		pretrained = flag.String("pretrained", "", "checkpoint to load weights from")
		evaluate   = flag.Bool("evaluate", false, "run validation only and exit")
		trackURL   = flag.String("track-url", "", "experiment tracking sidecar URL (empty disables)")

		noCensus = flag.Bool("no-census", false, "disable the census loss term")
		noSmooth = flag.Bool("no-smooth", false, "disable the smoothness loss term")
		ssim     = flag.Bool("ssim", false, "enable the SSIM loss term")
		fb       = flag.Bool("fb", false, "enable the forward-backward consistency term")
	)
	flag.Parse()

	if *dataPath == "" {
		return fmt.Errorf("-data is required")
	}

	cfg.Arch = *arch
	cfg.Solver = *solver
	cfg.Epochs = *epochs
	cfg.StartEpoch = *startEpoch
	cfg.EpochSize = *epochSize
	cfg.BatchSize = *batchSize
	cfg.LearningRate = float32(*lr)
	cfg.Momentum = float32(*momentum)
	cfg.Beta = float32(*beta)
	cfg.WeightDecay = float32(*decay)
	cfg.BiasDecay = float32(*biasDecay)
	cfg.Gamma = float32(*gamma)
	cfg.DivFlow = float32(*divFlow)
	cfg.Sparse = *sparse
	cfg.PrintFreq = *printFreq
	cfg.SavePath = *savePath
	cfg.Loss.Census = !*noCensus
	cfg.Loss.Smooth = !*noSmooth
	cfg.Loss.SSIM = *ssim
	cfg.Loss.FB = *fb

	var err error
	if cfg.Mode, err = training.ParseMode(*mode); err != nil {
		return err
	}
	if cfg.Milestones, err = parseInts(*milestones); err != nil {
		return fmt.Errorf("bad -milestones: %w", err)
	}
	if cfg.MultiscaleWeights, err = parseFloats(*weights); err != nil {
		return fmt.Errorf("bad -multiscale-weights: %w", err)
	}

	var pretrainedCkpt *checkpoints.Checkpoint
	if *pretrained != "" {
		if pretrainedCkpt, err = loaderFor(*pretrained).LoadCheckpoint(*pretrained); err != nil {
			return err
		}
		// The record knows what it was trained as.
		if pretrainedCkpt.Arch != "" {
			cfg.Arch = pretrainedCkpt.Arch
		}
	}

	model, err := models.Create(cfg.Arch)
	if err != nil {
		return err
	}

	format := checkpoints.FormatJSON
	if *binaryCkpt {
		format = checkpoints.FormatBinary
	}
	saver := checkpoints.NewCheckpointSaver(format)

	tracker := training.NewTrackingService(trackingConfig(*trackURL))
	if *trackURL != "" {
		tracker.Enable()
		if err := tracker.CheckHealth(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: %v\n", err)
		}
	}

	// Each run checkpoints into its own directory so repeated runs with the
	// same flags never clobber each other.
	if !*evaluate {
		runDir := fmt.Sprintf("%s_%s_%s",
			time.Now().Format("0102_1504"), cfg.Arch, tracker.RunID()[:8])
		cfg.SavePath = filepath.Join(*savePath, runDir)
		fmt.Printf("=> checkpoints in %s\n", cfg.SavePath)
	}

	trainer, err := training.NewTrainer(cfg, model, saver, tracker)
	if err != nil {
		return err
	}

	if pretrainedCkpt != nil {
		if err := trainer.Resume(pretrainedCkpt); err != nil {
			return err
		}
		fmt.Printf("=> loaded checkpoint %s (epoch %d)\n", *pretrained, pretrainedCkpt.Epoch)
	}

	dataset, err := datasets.NewFlowDirDataset(*dataPath)
	if err != nil {
		return err
	}
	var trainSet, valSet *datasets.FlowDirDataset
	if *splitFile != "" {
		trainSet, valSet, err = dataset.SplitFromFile(*splitFile)
		if err != nil {
			return err
		}
	} else {
		trainSet, valSet = dataset.Split(*splitRatio, *seed)
	}
	fmt.Printf("=> %d samples found, %d train and %d test\n",
		dataset.Len(), trainSet.Len(), valSet.Len())

	valLoader := datasets.NewDataLoader(valSet, cfg.BatchSize, false, *seed)
	if *evaluate {
		epe, err := trainer.Validate(valLoader, cfg.StartEpoch)
		if err != nil {
			return err
		}
		fmt.Printf("=> validation EPE %.3f\n", epe)
		return nil
	}

	trainLoader := datasets.NewPrefetchLoader(
		datasets.NewDataLoader(trainSet, cfg.BatchSize, true, *seed), *prefetch)
	defer trainLoader.Stop()
	return trainer.Run(trainLoader, valLoader)
}

func trackingConfig(url string) training.TrackingConfig {
	cfg := training.DefaultTrackingConfig()
	if url != "" {
		cfg.BaseURL = url
	}
	return cfg
}

// loaderFor picks the checkpoint format from the file extension.
func loaderFor(path string) *checkpoints.CheckpointSaver {
	if filepath.Ext(path) == checkpoints.FormatBinary.Ext() {
		return checkpoints.NewCheckpointSaver(checkpoints.FormatBinary)
	}
	return checkpoints.NewCheckpointSaver(checkpoints.FormatJSON)
}

func parseInts(csv string) ([]int, error) {
	if csv == "" {
		return nil, nil
	}
	var out []int
	for _, part := range strings.Split(csv, ",") {
		v, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func parseFloats(csv string) ([]float32, error) {
	if csv == "" {
		return nil, nil
	}
	var out []float32
	for _, part := range strings.Split(csv, ",") {
		v, err := strconv.ParseFloat(strings.TrimSpace(part), 32)
		if err != nil {
			return nil, err
		}
		out = append(out, float32(v))
	}
	return out, nil
}

func intsToCSV(values []int) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ",")
}
