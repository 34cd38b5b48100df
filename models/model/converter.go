package model

import (
	"github.com/nvr-ai/go-tensordecode/models/postprocess"
	"github.com/nvr-ai/go-tensordecode/tensor"
)

// Converter turns the output tensors of a model into detection records.
//
// Configure is called with the first frame's outputs, and again only when a reconfigurable
// decoder meets new output shapes. The returned FrameDecoder is immutable and safe for
// concurrent use.
type Converter interface {
	// Name returns the converter name.
	Name() Name
	// Configure resolves the output layout against the first seen outputs.
	Configure(outputs []tensor.View, info Info) (FrameDecoder, error)
}

// FrameDecoder decodes the outputs of one inference request.
type FrameDecoder interface {
	// Decode returns the records of batch item batchIndex. On error no records are returned.
	Decode(outputs []tensor.View, batchIndex int) ([]postprocess.Record, error)
	// Suppression returns the NMS configuration to apply to decoded records, if any.
	Suppression() (postprocess.NMSConfig, bool)
	// Reconfigurable reports whether a change in output shapes should trigger Configure again.
	Reconfigurable() bool
}
