package model

import (
	"github.com/nvr-ai/go-tensordecode/models/postprocess"
	"github.com/pkg/errors"
)

// LabelSet names a built-in class table.
type LabelSet string

const (
	// LabelSetCOCO is the 80 COCO classes with a background class at index 0, as emitted by
	// TensorFlow and Caffe SSD exports.
	LabelSetCOCO LabelSet = "coco"
	// LabelSetYOLO is the 80 COCO classes without background. YOLO models index directly into it.
	LabelSetYOLO LabelSet = "yolo"
	// LabelSetVOC is the 20 Pascal VOC classes with a background class at index 0.
	LabelSetVOC LabelSet = "voc"
)

// Background is the name of the background class of the COCO and VOC sets.
const Background = "__background__"

var cocoNames = []string{
	"person", "bicycle", "car", "motorcycle", "airplane", "bus", "train", "truck", "boat",
	"traffic light", "fire hydrant", "stop sign", "parking meter", "bench", "bird", "cat", "dog",
	"horse", "sheep", "cow", "elephant", "bear", "zebra", "giraffe", "backpack", "umbrella",
	"handbag", "tie", "suitcase", "frisbee", "skis", "snowboard", "sports ball", "kite",
	"baseball bat", "baseball glove", "skateboard", "surfboard", "tennis racket", "bottle",
	"wine glass", "cup", "fork", "knife", "spoon", "bowl", "banana", "apple", "sandwich",
	"orange", "broccoli", "carrot", "hot dog", "pizza", "donut", "cake", "chair", "couch",
	"potted plant", "bed", "dining table", "toilet", "tv", "laptop", "mouse", "remote",
	"keyboard", "cell phone", "microwave", "oven", "toaster", "sink", "refrigerator", "book",
	"clock", "vase", "scissors", "teddy bear", "hair drier", "toothbrush",
}

var vocNames = []string{
	"aeroplane", "bicycle", "bird", "boat", "bottle", "bus", "car", "cat", "chair", "cow",
	"diningtable", "dog", "horse", "motorbike", "person", "pottedplant", "sheep", "sofa", "train",
	"tvmonitor",
}

// LabelSets returns the built-in label set names.
func LabelSets() []LabelSet {
	return []LabelSet{LabelSetCOCO, LabelSetYOLO, LabelSetVOC}
}

// Labels returns a copy of the class table of the set.
//
// Returns:
//   - Labels: The class names indexed by class id.
//   - error: postprocess.ErrInvalidConfig for unknown sets.
func (s LabelSet) Labels() (Labels, error) {
	switch s {
	case LabelSetCOCO:
		return append(Labels{Background}, cocoNames...), nil
	case LabelSetYOLO:
		return append(Labels(nil), cocoNames...), nil
	case LabelSetVOC:
		return append(Labels{Background}, vocNames...), nil
	default:
		return nil, errors.Wrapf(postprocess.ErrInvalidConfig, "unknown label set %q", string(s))
	}
}
