package checkpoints

import (
	"encoding/json"
	"os"

	"github.com/pkg/errors"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// The binary format wraps the checkpoint record in a protobuf Struct, which
// keeps the wire representation self-describing without a schema file. A
// binary checkpoint can always be converted back to the JSON form.

func (cs *CheckpointSaver) saveBinary(checkpoint *Checkpoint, path string) error {
	jsonData, err := json.Marshal(checkpoint)
	if err != nil {
		return errors.Wrap(err, "failed to marshal checkpoint")
	}

	var fields map[string]interface{}
	if err := json.Unmarshal(jsonData, &fields); err != nil {
		return errors.Wrap(err, "failed to stage checkpoint fields")
	}

	record, err := structpb.NewStruct(fields)
	if err != nil {
		return errors.Wrap(err, "failed to build checkpoint struct")
	}
	data, err := proto.Marshal(record)
	if err != nil {
		return errors.Wrap(err, "failed to marshal checkpoint struct")
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrap(err, "failed to write checkpoint file")
	}
	return nil
}

func (cs *CheckpointSaver) loadBinary(path string) (*Checkpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read checkpoint file")
	}

	var record structpb.Struct
	if err := proto.Unmarshal(data, &record); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal checkpoint struct")
	}

	jsonData, err := json.Marshal(record.AsMap())
	if err != nil {
		return nil, errors.Wrap(err, "failed to restage checkpoint fields")
	}
	var checkpoint Checkpoint
	if err := json.Unmarshal(jsonData, &checkpoint); err != nil {
		return nil, errors.Wrap(err, "failed to decode checkpoint")
	}
	return &checkpoint, nil
}
