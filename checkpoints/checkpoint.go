// Package checkpoints persists and restores training runs: model weights,
// optimizer state, and the metadata needed to resume or evaluate a run
// (epoch, architecture name, best validation EPE, flow divisor).
package checkpoints

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"

	"github.com/flowkit/flowtrain/models"
)

// CheckpointFormat defines the serialization format
type CheckpointFormat int

const (
	FormatJSON CheckpointFormat = iota
	FormatBinary
)

func (cf CheckpointFormat) String() string {
	switch cf {
	case FormatJSON:
		return "JSON"
	case FormatBinary:
		return "Binary"
	default:
		return "Unknown"
	}
}

// Ext returns the file extension used for the format.
func (cf CheckpointFormat) Ext() string {
	if cf == FormatBinary {
		return ".ckpt"
	}
	return ".json"
}

// Checkpoint represents a complete training state: architecture, weights,
// optimizer state, and run metadata.
type Checkpoint struct {
	Epoch   int     `json:"epoch"`
	Arch    string  `json:"arch"`
	BestEPE float32 `json:"best_epe"`
	DivFlow float32 `json:"div_flow"`

	Weights []WeightTensor `json:"state_dict"`

	OptimizerState *OptimizerState `json:"optimizer_state,omitempty"`

	Metadata CheckpointMetadata `json:"metadata"`
}

// WeightTensor represents a model parameter tensor with its data
type WeightTensor struct {
	Name  string    `json:"name"`
	Shape []int     `json:"shape"`
	Data  []float32 `json:"data"`
}

// OptimizerState captures optimizer-specific state (momentum, variance, etc.)
type OptimizerState struct {
	Type       string             `json:"type"` // "SGD", "Adam", etc.
	Parameters map[string]float64 `json:"parameters"`
	StepCount  uint64             `json:"step_count"`
	StateData  []OptimizerTensor  `json:"state_data"`
}

// OptimizerTensor represents optimizer state tensors (momentum, variance, etc.)
type OptimizerTensor struct {
	Name      string    `json:"name"`
	Shape     []int     `json:"shape"`
	Data      []float32 `json:"data"`
	StateType string    `json:"state_type"` // "momentum", "m", "v"
}

// CheckpointMetadata contains checkpoint metadata
type CheckpointMetadata struct {
	Version     string    `json:"version"`
	Framework   string    `json:"framework"`
	CreatedAt   time.Time `json:"created_at"`
	Description string    `json:"description,omitempty"`
}

// CheckpointSaver handles saving model checkpoints in the supported formats
type CheckpointSaver struct {
	format CheckpointFormat
}

// NewCheckpointSaver creates a new checkpoint saver for the specified format
func NewCheckpointSaver(format CheckpointFormat) *CheckpointSaver {
	return &CheckpointSaver{
		format: format,
	}
}

// Format returns the saver's serialization format.
func (cs *CheckpointSaver) Format() CheckpointFormat {
	return cs.format
}

// SaveCheckpoint saves a complete training checkpoint to path.
func (cs *CheckpointSaver) SaveCheckpoint(checkpoint *Checkpoint, path string) error {
	if checkpoint.Metadata.Framework == "" {
		checkpoint.Metadata.Framework = "flowtrain"
		checkpoint.Metadata.Version = "1.0.0"
		checkpoint.Metadata.CreatedAt = time.Now()
	}
	switch cs.format {
	case FormatJSON:
		return cs.saveJSON(checkpoint, path)
	case FormatBinary:
		return cs.saveBinary(checkpoint, path)
	default:
		return errors.Errorf("unsupported checkpoint format: %s", cs.format)
	}
}

// LoadCheckpoint restores a checkpoint from path.
func (cs *CheckpointSaver) LoadCheckpoint(path string) (*Checkpoint, error) {
	switch cs.format {
	case FormatJSON:
		return cs.loadJSON(path)
	case FormatBinary:
		return cs.loadBinary(path)
	default:
		return nil, errors.Errorf("unsupported checkpoint format: %s", cs.format)
	}
}

func (cs *CheckpointSaver) saveJSON(checkpoint *Checkpoint, path string) error {
	file, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "failed to create checkpoint file")
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(checkpoint); err != nil {
		return errors.Wrap(err, "failed to encode checkpoint")
	}
	return nil
}

func (cs *CheckpointSaver) loadJSON(path string) (*Checkpoint, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open checkpoint file")
	}
	defer file.Close()

	var checkpoint Checkpoint
	if err := json.NewDecoder(file).Decode(&checkpoint); err != nil {
		return nil, errors.Wrap(err, "failed to decode checkpoint")
	}
	return &checkpoint, nil
}

// SaveTrainingCheckpoint writes the rolling checkpoint for a run and, when
// isBest is set, a duplicate marked as the best model so far.
func (cs *CheckpointSaver) SaveTrainingCheckpoint(checkpoint *Checkpoint, dir string, isBest bool) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(err, "failed to create checkpoint directory")
	}

	path := filepath.Join(dir, "checkpoint"+cs.format.Ext())
	if err := cs.SaveCheckpoint(checkpoint, path); err != nil {
		return err
	}
	if !isBest {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(err, "failed to reread checkpoint for best copy")
	}
	best := filepath.Join(dir, "model_best"+cs.format.Ext())
	if err := os.WriteFile(best, data, 0o644); err != nil {
		return errors.Wrap(err, "failed to write best checkpoint")
	}
	return nil
}

// ExtractWeights captures a model's named parameters as checkpoint weight
// tensors. Data is copied so later optimizer steps do not mutate the record.
func ExtractWeights(model models.FlowModel) []WeightTensor {
	params := model.NamedParameters()
	weights := make([]WeightTensor, 0, len(params))
	for _, p := range params {
		data := make([]float32, len(p.Tensor.Data))
		copy(data, p.Tensor.Data)
		shape := make([]int, len(p.Tensor.Shape))
		copy(shape, p.Tensor.Shape)
		weights = append(weights, WeightTensor{Name: p.Name, Shape: shape, Data: data})
	}
	return weights
}

// LoadWeights restores checkpoint weight tensors into a model by name.
// Every model parameter must be present with a matching shape.
func LoadWeights(model models.FlowModel, weights []WeightTensor) error {
	byName := make(map[string]WeightTensor, len(weights))
	for _, w := range weights {
		byName[w.Name] = w
	}
	for _, p := range model.NamedParameters() {
		w, ok := byName[p.Name]
		if !ok {
			return errors.Errorf("checkpoint is missing parameter %q", p.Name)
		}
		if !sameShape(w.Shape, p.Tensor.Shape) {
			return errors.Errorf("parameter %q has shape %v in checkpoint, want %v",
				p.Name, w.Shape, p.Tensor.Shape)
		}
		copy(p.Tensor.Data, w.Data)
	}
	return nil
}

func sameShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
