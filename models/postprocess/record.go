// Package postprocess - Detection records, overlap metrics and Non-Maximum Suppression.
package postprocess

import (
	"fmt"
	"math"

	"github.com/nvr-ai/go-tensordecode/tensor"
)

// MaskFormat is the format name attached to per-object mask tensors.
const MaskFormat = "mask"

// Mask is a per-object segmentation tensor attached to a record.
type Mask struct {
	// Data is the mask slice of the object, sharing memory with the output tensor.
	Data tensor.View
	// LayerName is the model layer that produced the mask.
	LayerName string
	// Format describes the contents of Data.
	Format string
}

// Record is a single detected object in normalized image coordinates.
type Record struct {
	XMin float64 `json:"x_min" yaml:"x_min"`
	YMin float64 `json:"y_min" yaml:"y_min"`
	XMax float64 `json:"x_max" yaml:"x_max"`
	YMax float64 `json:"y_max" yaml:"y_max"`
	// Confidence is the final score of the object.
	Confidence float64 `json:"confidence" yaml:"confidence"`
	// LabelID is the class index, or -1 when the model does not produce one.
	LabelID int `json:"label_id" yaml:"label_id"`
	// Label is the class name, empty when the index is not in the labels table.
	Label string `json:"label,omitempty" yaml:"label,omitempty"`
	// Mask is set when the model produces per-object masks.
	Mask *Mask `json:"-" yaml:"-"`
}

// NewRecord creates a record from corner coordinates.
//
// Coordinates are clamped into [0,1] and swapped when a minimum exceeds its maximum, so
// every record satisfies 0 ≤ XMin ≤ XMax ≤ 1 and 0 ≤ YMin ≤ YMax ≤ 1. NaN coordinates clamp to 0.
//
// Arguments:
//   - xmin, ymin, xmax, ymax: Corners in normalized coordinates.
//   - confidence: Score of the object.
//   - labelID: Class index, -1 when unknown.
//   - label: Class name.
//
// Returns:
//   - Record: The canonical record.
//
// @example
// r := postprocess.NewRecord(-0.1, 0.2, 0.5, 1.3, 0.9, 1, "person")
// fmt.Println(r.XMin, r.YMax) // 0 1
func NewRecord(xmin, ymin, xmax, ymax, confidence float64, labelID int, label string) Record {
	xmin, xmax = clamp01(xmin), clamp01(xmax)
	ymin, ymax = clamp01(ymin), clamp01(ymax)
	if xmin > xmax {
		xmin, xmax = xmax, xmin
	}
	if ymin > ymax {
		ymin, ymax = ymax, ymin
	}
	return Record{
		XMin:       xmin,
		YMin:       ymin,
		XMax:       xmax,
		YMax:       ymax,
		Confidence: confidence,
		LabelID:    labelID,
		Label:      label,
	}
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

// Width returns the horizontal extent of the box.
func (r Record) Width() float64 { return r.XMax - r.XMin }

// Height returns the vertical extent of the box.
func (r Record) Height() float64 { return r.YMax - r.YMin }

// Area returns the area of the box.
func (r Record) Area() float64 { return r.Width() * r.Height() }

// IoU calculates the Intersection over Union of two records.
//
// Records whose overlap is empty or degenerate in either dimension have an IoU of 0.
//
// Arguments:
//   - other: The record to compare with.
//
// Returns:
//   - float64: The IoU in [0,1].
//
// @example
// a := postprocess.NewRecord(0, 0, 0.5, 0.5, 0.9, 0, "")
// b := postprocess.NewRecord(0.25, 0.25, 0.75, 0.75, 0.8, 0, "")
// iou := a.IoU(b) // 1/7
func (r Record) IoU(other Record) float64 {
	iw := min(r.XMax, other.XMax) - max(r.XMin, other.XMin)
	ih := min(r.YMax, other.YMax) - max(r.YMin, other.YMin)
	if iw <= 0 || ih <= 0 {
		return 0
	}
	inter := iw * ih
	union := r.Area() + other.Area() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

// String formats the record for logs.
func (r Record) String() string {
	return fmt.Sprintf("Object %s[%d] (confidence %f): (%f, %f), (%f, %f)",
		r.Label, r.LabelID, r.Confidence, r.XMin, r.YMin, r.XMax, r.YMax)
}
