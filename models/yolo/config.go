// Package yolo - Grid-based YOLO v3, v4 and v5 output decoding.
package yolo

import (
	"fmt"

	"github.com/nvr-ai/go-tensordecode/models/model"
	"github.com/nvr-ai/go-tensordecode/models/postprocess"
	"github.com/pkg/errors"
)

// Layout is the arrangement of grid cells and box entries in an output tensor.
type Layout int

const (
	// Other is a layout whose cell axes are unknown, such as a flattened tensor.
	Other Layout = iota
	// NBCyCx is [batch, boxes*(classes+5), cells_y, cells_x].
	NBCyCx
	// NCyCxB is [batch, cells_y, cells_x, boxes*(classes+5)].
	NCyCxB
	// BCyCx is [boxes*(classes+5), cells_y, cells_x].
	BCyCx
	// CyCxB is [cells_y, cells_x, boxes*(classes+5)].
	CyCxB
)

// String returns the layout name.
func (l Layout) String() string {
	switch l {
	case NBCyCx:
		return "NBCyCx"
	case NCyCxB:
		return "NCyCxB"
	case BCyCx:
		return "BCyCx"
	case CyCxB:
		return "CyCxB"
	default:
		return "Other"
	}
}

// CellsIndexes returns the axes holding the number of cells along x and y.
// Both are 0 for the Other layout.
func (l Layout) CellsIndexes() (x, y int) {
	switch l {
	case NBCyCx:
		return 3, 2
	case NCyCxB, BCyCx:
		return 2, 1
	case CyCxB:
		return 1, 0
	default:
		return 0, 0
	}
}

const (
	// DefaultClasses is the class count of COCO, used when neither classes nor labels are declared.
	DefaultClasses = 80
	// DefaultDownsampleDegree is the ratio of the input size to the coarsest grid.
	DefaultDownsampleDegree = 32
	// coords is the number of box entries before the confidence entry.
	coords = 4
)

var (
	// AnchorsV3 are the default anchors of YOLO v3 and v5.
	AnchorsV3 = []float64{10, 13, 16, 30, 33, 23, 30, 61, 62, 45, 59, 119, 116, 90, 156, 198, 373, 326}
	// AnchorsV4 are the default anchors of YOLO v4.
	AnchorsV4 = []float64{12, 16, 19, 36, 40, 28, 36, 75, 76, 55, 72, 146, 142, 110, 192, 243, 459, 401}
	// DefaultMasks groups anchors from the coarsest to the finest grid.
	DefaultMasks = []int{6, 7, 8, 3, 4, 5, 0, 1, 2}
)

// Config is the complete YOLO decoding configuration.
type Config struct {
	Version      int
	Classes      int
	CellsX       int
	CellsY       int
	BoxesPerCell int
	Anchors      []float64
	Masks        []int
	Layout       Layout
	ImageWidth   int
	ImageHeight  int

	Threshold     float64
	IoUThreshold  float64
	Sigmoid       bool
	Softmax       bool
	NMS           bool
	ClassAwareNMS bool

	BatchSize        int
	DownsampleDegree int
}

// EntriesPerBox is the number of values predicted per box: 4 coordinates, 1 confidence and the class scores.
func (c Config) EntriesPerBox() int { return c.Classes + coords + 1 }

// String summarizes the configuration for logs.
func (c Config) String() string {
	return fmt.Sprintf("v%d classes=%d cells=%dx%d boxes=%d layout=%s image=%dx%d",
		c.Version, c.Classes, c.CellsX, c.CellsY, c.BoxesPerCell, c.Layout, c.ImageWidth, c.ImageHeight)
}

// FromParams reads the declared YOLO parameters and fills version-specific defaults.
//
// Cell counts and boxes per cell stay 0 when not declared and are derived later from the
// output shapes.
//
// Arguments:
//   - params: Declared parameters.
//   - labels: The labels table, used to derive and check the class count.
//
// Returns:
//   - Config: The declared configuration.
//   - error: postprocess.ErrInvalidConfig for unsupported or contradictory values.
func FromParams(params model.Params, labels model.Labels) (Config, error) {
	c := Config{BatchSize: 1, DownsampleDegree: DefaultDownsampleDegree}
	var err error

	if c.Version, err = params.Int(model.KeyVersion, 0); err != nil {
		return c, err
	}
	if c.Version < 3 || c.Version > 5 {
		return c, errors.Wrapf(postprocess.ErrInvalidConfig, "yolo version %d is not supported", c.Version)
	}

	if c.Classes, err = params.Int(model.KeyClasses, 0); err != nil {
		return c, err
	}
	switch {
	case c.Classes < 0:
		return c, errors.Wrapf(postprocess.ErrInvalidConfig, "%s: %d", model.KeyClasses, c.Classes)
	case c.Classes == 0 && len(labels) > 0:
		c.Classes = len(labels)
	case c.Classes == 0:
		c.Classes = DefaultClasses
	case len(labels) > 0 && len(labels) != c.Classes:
		return c, errors.Wrapf(postprocess.ErrInvalidConfig,
			"number of classes (%d) is not equal to the number of labels (%d)", c.Classes, len(labels))
	}

	cells, err := params.Int(model.KeyCellsNumber, 0)
	if err != nil {
		return c, err
	}
	if c.CellsX, err = params.Int(model.KeyCellsNumberX, cells); err != nil {
		return c, err
	}
	if c.CellsY, err = params.Int(model.KeyCellsNumberY, cells); err != nil {
		return c, err
	}
	if c.BoxesPerCell, err = params.Int(model.KeyBoxesPerCell, 0); err != nil {
		return c, err
	}
	if c.CellsX < 0 || c.CellsY < 0 || c.BoxesPerCell < 0 {
		return c, errors.Wrap(postprocess.ErrInvalidConfig, "cell and box counts must not be negative")
	}

	if c.Anchors, err = params.Floats(model.KeyAnchors); err != nil {
		return c, err
	}
	if len(c.Anchors) == 0 {
		if c.Version == 4 {
			c.Anchors = append([]float64(nil), AnchorsV4...)
		} else {
			c.Anchors = append([]float64(nil), AnchorsV3...)
		}
	}
	if len(c.Anchors)%2 != 0 {
		return c, errors.Wrapf(postprocess.ErrInvalidConfig, "%d anchors do not form pairs", len(c.Anchors))
	}

	if c.Masks, err = params.Ints(model.KeyMasks); err != nil {
		return c, err
	}
	if len(c.Masks) == 0 {
		c.Masks = append([]int(nil), DefaultMasks...)
	}

	if c.Threshold, err = params.Threshold(model.KeyThreshold, model.DefaultThreshold); err != nil {
		return c, err
	}
	if c.IoUThreshold, err = params.Threshold(model.KeyIoUThreshold, model.DefaultIoUThreshold); err != nil {
		return c, err
	}
	if c.Sigmoid, err = params.Bool(model.KeySigmoid, true); err != nil {
		return c, err
	}
	if c.Softmax, err = params.Bool(model.KeySoftmax, true); err != nil {
		return c, err
	}
	if c.NMS, err = params.Bool(model.KeyNMS, true); err != nil {
		return c, err
	}
	if c.ClassAwareNMS, err = params.Bool(model.KeyClassAwareNMS, false); err != nil {
		return c, err
	}

	return c, nil
}
