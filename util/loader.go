package util

import (
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/nvr-ai/go-tensordecode/inference"
	"github.com/nvr-ai/go-tensordecode/tensor"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// TensorDump is one output tensor written out by an inference backend.
type TensorDump struct {
	// Name is the output layer name.
	Name string `json:"name" yaml:"name"`
	// DType is one of float32, int32, int64 or uint8.
	DType string `json:"dtype" yaml:"dtype"`
	// Shape is the tensor shape.
	Shape []int `json:"shape" yaml:"shape"`
	// Data holds the elements in row-major order.
	Data []float64 `json:"data" yaml:"data"`
}

// View converts the dump to a tensor view of its declared type.
func (d TensorDump) View() (tensor.View, error) {
	switch strings.ToLower(d.DType) {
	case "", "float32":
		data := make([]float32, len(d.Data))
		for i, x := range d.Data {
			data[i] = float32(x)
		}
		return tensor.New(data, d.Shape...)
	case "int32":
		data := make([]int32, len(d.Data))
		for i, x := range d.Data {
			data[i] = int32(x)
		}
		return tensor.New(data, d.Shape...)
	case "int64":
		data := make([]int64, len(d.Data))
		for i, x := range d.Data {
			data[i] = int64(x)
		}
		return tensor.New(data, d.Shape...)
	case "uint8":
		data := make([]uint8, len(d.Data))
		for i, x := range d.Data {
			data[i] = uint8(x)
		}
		return tensor.New(data, d.Shape...)
	default:
		return tensor.View{}, errors.Wrapf(tensor.ErrUnsupportedDType, "dump %s has dtype %q", d.Name, d.DType)
	}
}

// TensorFile represents the outputs of one frame read from a file.
type TensorFile struct {
	// Path is the path to the file.
	Path string `json:"-" yaml:"-"`
	// Frame is the frame number of the file.
	Frame int `json:"-" yaml:"-"`
	// BatchIndex selects the batch item of the frame.
	BatchIndex int `json:"batch_index" yaml:"batch_index"`
	// Outputs are the output tensors in model order.
	Outputs []TensorDump `json:"outputs" yaml:"outputs"`
}

// Views converts every output to a tensor view.
func (f TensorFile) Views() ([]tensor.View, error) {
	views := make([]tensor.View, 0, len(f.Outputs))
	for i, out := range f.Outputs {
		v, err := out.View()
		if err != nil {
			return nil, errors.Wrapf(err, "%s output %d", f.Path, i)
		}
		views = append(views, v)
	}
	return views, nil
}

// PipelineFrame converts the file to a pipeline frame identified by its frame number.
func (f TensorFile) PipelineFrame() (inference.Frame, error) {
	views, err := f.Views()
	if err != nil {
		return inference.Frame{}, err
	}
	return inference.Frame{
		ID:         strconv.Itoa(f.Frame),
		Outputs:    views,
		BatchIndex: f.BatchIndex,
	}, nil
}

// LoadDirectoryTensorFiles reads all tensor dump files from a directory.
//
// Files are named frame-<n>.yaml, frame-<n>.yml or frame-<n>.json. JSON files are read with the
// YAML decoder.
//
// Arguments:
// - dir: Directory path containing tensor dump files.
//
// Returns:
// - []TensorFile: Slice of TensorFile, ordered by frame number.
// - error: Error if loading fails.
func LoadDirectoryTensorFiles(dir string) ([]TensorFile, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "read directory %s", dir)
	}

	var dumps []TensorFile
	for _, file := range files {
		if file.IsDir() {
			continue
		}

		ext := filepath.Ext(file.Name())
		switch ext {
		case ".yaml", ".yml", ".json":
			path := filepath.Join(dir, file.Name())
			data, readErr := os.ReadFile(path)
			if readErr != nil {
				return nil, errors.Wrapf(readErr, "read %s", path)
			}
			frame, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(file.Name(), "frame-"), ext))
			if err != nil {
				return nil, errors.Wrapf(err, "frame number of %s", path)
			}

			var dump TensorFile
			if err := yaml.Unmarshal(data, &dump); err != nil {
				return nil, errors.Wrapf(err, "parse %s", path)
			}
			dump.Path = path
			dump.Frame = frame
			dumps = append(dumps, dump)
		}
	}

	sort.Slice(dumps, func(i, j int) bool {
		return dumps[i].Frame < dumps[j].Frame
	})

	return dumps, nil
}
