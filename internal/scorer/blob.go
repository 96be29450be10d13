package scorer

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/himanishpuri/LoopProfiler/pkg/utils"
)

const (
	blobFormat  = "loopprofiler/forest"
	blobVersion = 1
)

// ErrCorruptModel marks a model file that could not be loaded. Any
// format or version mismatch counts as corrupt.
var ErrCorruptModel = errors.New("corrupt model file")

type modelBlob struct {
	Format    string       `msgpack:"format"`
	Version   int          `msgpack:"version"`
	RunID     string       `msgpack:"run_id"`
	TrainedAt time.Time    `msgpack:"trained_at"`
	Samples   int          `msgpack:"samples"`
	Config    ForestConfig `msgpack:"config"`
	Forest    *Forest      `msgpack:"forest"`
}

func (m *model) blob() *modelBlob {
	return &modelBlob{
		Format:    blobFormat,
		Version:   blobVersion,
		RunID:     m.runID,
		TrainedAt: m.trainedAt,
		Samples:   m.samples,
		Config:    m.config,
		Forest:    m.forest,
	}
}

func saveModel(path string, m *model) error {
	return writeBlob(path, m.blob())
}

func writeBlob(path string, b *modelBlob) error {
	data, err := msgpack.Marshal(b)
	if err != nil {
		return fmt.Errorf("encoding model: %w", err)
	}
	if err := utils.AtomicWriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing model: %w", err)
	}
	return nil
}

// loadModel returns nil, nil when path does not exist. Any other read
// failure is reported as ErrCorruptModel.
func loadModel(path string) (*model, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptModel, err)
	}

	var b modelBlob
	if err := msgpack.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptModel, err)
	}
	if b.Format != blobFormat || b.Version != blobVersion {
		return nil, fmt.Errorf("%w: format %q version %d", ErrCorruptModel, b.Format, b.Version)
	}
	if err := b.Forest.check(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptModel, err)
	}
	return &model{
		forest:    b.Forest,
		runID:     b.RunID,
		trainedAt: b.TrainedAt,
		samples:   b.Samples,
		config:    b.Config,
	}, nil
}

// check validates the tree structure so a damaged file cannot cause an
// out-of-range walk at predict time.
func (f *Forest) check() error {
	if f == nil || len(f.Trees) == 0 {
		return errors.New("no trees")
	}
	if f.Inputs != Inputs {
		return fmt.Errorf("forest expects %d inputs, want %d", f.Inputs, Inputs)
	}
	for t, tree := range f.Trees {
		n := int32(len(tree.Nodes))
		if n == 0 {
			return fmt.Errorf("tree %d is empty", t)
		}
		for i, node := range tree.Nodes {
			if node.Feature < 0 {
				if !(node.Positive >= 0 && node.Positive <= 1) {
					return fmt.Errorf("tree %d node %d: bad leaf value", t, i)
				}
				continue
			}
			// Children always follow their parent.
			if node.Feature >= f.Inputs || node.Left <= int32(i) || node.Right <= int32(i) || node.Left >= n || node.Right >= n {
				return fmt.Errorf("tree %d node %d: bad split", t, i)
			}
		}
	}
	return nil
}
