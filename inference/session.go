// Package inference - ONNX Runtime sessions as frame sources.
package inference

import (
	"sync"
	"time"

	"github.com/nvr-ai/go-tensordecode/tensor"
	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
)

// Session wraps an ONNX Runtime session with preallocated input and output tensors.
//
// The output tensors are read back as tensor views after each Run, so a session can feed a
// pipeline directly. Creating the native environment and the tensors stays with the caller.
type Session struct {
	Session *ort.AdvancedSession
	Inputs  []ort.ArbitraryTensor
	Outputs []ort.ArbitraryTensor

	mu        sync.Mutex
	runs      int64
	totalTime time.Duration
}

// NewSession creates a session bound to the given tensors.
//
// Arguments:
//   - modelPath: Path to the ONNX model file.
//   - inputNames: Names of the input layers.
//   - outputNames: Names of the output layers.
//   - inputs: Input tensors, in inputNames order.
//   - outputs: Output tensors, in outputNames order.
//
// Returns:
//   - *Session: The session. The caller owns it and must call Close.
//   - error: The error if any.
func NewSession(
	modelPath string,
	inputNames []string,
	outputNames []string,
	inputs []ort.ArbitraryTensor,
	outputs []ort.ArbitraryTensor,
) (*Session, error) {
	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, errors.Wrap(err, "create ORT session options")
	}
	defer options.Destroy()

	if err := options.SetGraphOptimizationLevel(ort.GraphOptimizationLevelEnableExtended); err != nil {
		return nil, errors.Wrap(err, "set graph optimization level")
	}

	session, err := ort.NewAdvancedSession(modelPath, inputNames, outputNames, inputs, outputs, options)
	if err != nil {
		return nil, errors.Wrapf(err, "create ORT session for %s", modelPath)
	}

	return &Session{
		Session: session,
		Inputs:  inputs,
		Outputs: outputs,
	}, nil
}

// Run executes the model once and records its duration.
func (s *Session) Run() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Session == nil {
		return errors.New("session is closed")
	}

	start := time.Now()
	err := s.Session.Run()
	s.runs++
	s.totalTime += time.Since(start)

	return errors.Wrap(err, "run ORT session")
}

// AverageRunTime returns the mean duration of Run, or zero before the first run.
func (s *Session) AverageRunTime() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.runs == 0 {
		return 0
	}
	return s.totalTime / time.Duration(s.runs)
}

// OutputViews returns the output tensors as views.
//
// The views share the tensor memory and are only valid until the next Run or Close.
func (s *Session) OutputViews() ([]tensor.View, error) {
	views := make([]tensor.View, 0, len(s.Outputs))
	for i, out := range s.Outputs {
		v, err := FromORT(out)
		if err != nil {
			return nil, errors.Wrapf(err, "output %d", i)
		}
		views = append(views, v)
	}
	return views, nil
}

// Frame runs the model and wraps its outputs as a frame.
//
// Arguments:
//   - id: The frame identifier.
//   - batchIndex: The batch item the frame selects.
//
// Returns:
//   - Frame: The frame. Its outputs are valid until the next Run or Close.
//   - error: The error if any.
func (s *Session) Frame(id string, batchIndex int) (Frame, error) {
	if err := s.Run(); err != nil {
		return Frame{}, err
	}
	views, err := s.OutputViews()
	if err != nil {
		return Frame{}, err
	}
	return Frame{ID: id, Outputs: views, BatchIndex: batchIndex}, nil
}

// Close releases the resources associated with the Session.
//
// Returns:
//   - error: The error from destroying the native session, if any.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, input := range s.Inputs {
		input.Destroy()
	}
	s.Inputs = nil

	for _, output := range s.Outputs {
		output.Destroy()
	}
	s.Outputs = nil

	if s.Session != nil {
		err := s.Session.Destroy()
		s.Session = nil
		if err != nil {
			return errors.Wrap(err, "destroy ORT session")
		}
	}

	return nil
}

// FromORT converts an ONNX Runtime tensor to a view over its data.
//
// Arguments:
//   - t: A float32, int32, int64 or uint8 tensor.
//
// Returns:
//   - tensor.View: A view sharing the tensor memory.
//   - error: tensor.ErrUnsupportedDType for other element types.
func FromORT(t ort.ArbitraryTensor) (tensor.View, error) {
	if t == nil {
		return tensor.View{}, errors.New("nil tensor")
	}

	shape := make([]int, len(t.GetShape()))
	for i, d := range t.GetShape() {
		shape[i] = int(d)
	}

	switch ot := t.(type) {
	case *ort.Tensor[float32]:
		return tensor.New(ot.GetData(), shape...)
	case *ort.Tensor[int32]:
		return tensor.New(ot.GetData(), shape...)
	case *ort.Tensor[int64]:
		return tensor.New(ot.GetData(), shape...)
	case *ort.Tensor[uint8]:
		return tensor.New(ot.GetData(), shape...)
	default:
		return tensor.View{}, errors.Wrapf(tensor.ErrUnsupportedDType, "ORT tensor %T", t)
	}
}
