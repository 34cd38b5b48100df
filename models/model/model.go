// Package model - Converter names, declared parameters and model description shared by the decoders.
package model

// Name is the unique identifier of an output converter.
type Name string

const (
	// ConverterDetection is the generic detection converter with layout heuristics.
	ConverterDetection Name = "detection"
	// ConverterYOLO is the grid-based YOLO v3/v4/v5 converter.
	ConverterYOLO Name = "yolo"
)

// Declared parameter keys.
const (
	KeyLabels          = "labels"
	KeyLabelsFile      = "labels-file"
	KeyLabelSet        = "label-set"
	KeyThreshold       = "threshold"
	KeyIoUThreshold    = "iou-threshold"
	KeyNMS             = "nms"
	KeyClassAwareNMS   = "class-aware-nms"
	KeyVersion         = "version"
	KeyAnchors         = "anchors"
	KeyMasks           = "masks"
	KeyCellsNumber     = "cells-number"
	KeyCellsNumberX    = "cells-number-x"
	KeyCellsNumberY    = "cells-number-y"
	KeyBoxesPerCell    = "bbox-number-on-cell"
	KeyClasses         = "classes"
	KeySoftmax         = "do-cls-softmax"
	KeySigmoid         = "output-sigmoid-activation"
	KeyBoxIndex        = "box-index"
	KeyConfidenceIndex = "confidence-index"
	KeyLabelIndex      = "label-index"
	KeyImageIDIndex    = "imageid-index"
	KeyMaskIndex       = "mask-index"
	KeyBoxOffset       = "box-offset"
	KeyConfidenceOff   = "confidence-offset"
	KeyLabelOffset     = "label-offset"
	KeyImageIDOffset   = "imageid-offset"
)

// Defaults of the declared parameters.
const (
	DefaultThreshold    = 0.5
	DefaultIoUThreshold = 0.5
)

// Info describes the model that produced the output tensors.
//
// It is supplied by the inference backend and is consulted when absolute box coordinates
// must be normalized, when mask provenance is attached and when records are published.
type Info interface {
	// Name returns the model name used for provenance.
	Name() string
	// InputSize returns the model input image width and height. ok is false when unknown.
	InputSize() (width, height int, ok bool)
	// InputLayers returns the names of the model input layers.
	InputLayers() []string
	// OutputLayers returns the names of the model output layers, in tensor order.
	OutputLayers() []string
}

// StaticInfo is an Info with fixed values.
type StaticInfo struct {
	ModelName string   `json:"name" yaml:"name"`
	Width     int      `json:"width" yaml:"width"`
	Height    int      `json:"height" yaml:"height"`
	Inputs    []string `json:"inputs" yaml:"inputs"`
	Outputs   []string `json:"outputs" yaml:"outputs"`
}

// Name returns the model name.
func (s StaticInfo) Name() string { return s.ModelName }

// InputSize returns the configured input size. ok is false when either dimension is not positive.
func (s StaticInfo) InputSize() (int, int, bool) {
	return s.Width, s.Height, s.Width > 0 && s.Height > 0
}

// InputLayers returns the input layer names.
func (s StaticInfo) InputLayers() []string { return s.Inputs }

// OutputLayers returns the output layer names.
func (s StaticInfo) OutputLayers() []string { return s.Outputs }
