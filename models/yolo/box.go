package yolo

import (
	"github.com/chewxy/math32"
	"github.com/nvr-ai/go-tensordecode/models/postprocess"
	"github.com/pkg/errors"
)

// Cell locates a grid cell in an output of SideW x SideH cells.
type Cell struct {
	Col, Row     int
	SideW, SideH int
}

// RawBox is the predicted box of one anchor before activation.
type RawBox struct {
	X, Y, W, H float32
}

func (r RawBox) finite() bool {
	for _, v := range [4]float32{r.X, r.Y, r.W, r.H} {
		if math32.IsNaN(v) || math32.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// BoxDecoder converts a cell-relative prediction into a normalized box.
type BoxDecoder interface {
	// DecodeBox returns the normalized corners of the box predicted by anchor boxIndex of the cell.
	// maskGroup is the first anchor mask of the grid scale.
	DecodeBox(cell Cell, raw RawBox, maskGroup, boxIndex int) (xmin, ymin, xmax, ymax float64, err error)
}

// NewBoxDecoder returns the box parameterization of a YOLO version.
func NewBoxDecoder(c Config) BoxDecoder {
	base := anchorBox{
		anchors: c.Anchors,
		width:   float32(c.ImageWidth),
		height:  float32(c.ImageHeight),
		sigmoid: c.Sigmoid,
	}
	if c.Version == 5 {
		return ScaledDecoder{base}
	}
	return DarknetDecoder{base}
}

func sigmoid(x float32) float32 {
	return 1 / (1 + math32.Exp(-x))
}

type anchorBox struct {
	anchors []float64
	width   float32
	height  float32
	sigmoid bool
}

func (a anchorBox) anchor(maskGroup, boxIndex int) (float32, float32, error) {
	i := 2*maskGroup + 2*boxIndex
	if i < 0 || i+1 >= len(a.anchors) {
		return 0, 0, errors.Wrapf(postprocess.ErrInvalidAnchorIndex, "anchor %d of %d values", i, len(a.anchors))
	}
	return float32(a.anchors[i]), float32(a.anchors[i+1]), nil
}

// corners converts a center and size in input pixels to normalized corners.
func (a anchorBox) corners(x, y, w, h float32) (float64, float64, float64, float64) {
	x -= w / 2
	y -= h / 2
	x /= a.width
	w /= a.width
	y /= a.height
	h /= a.height
	return float64(x), float64(y), float64(x + w), float64(y + h)
}

// DarknetDecoder is the box parameterization of YOLO v3 and v4.
type DarknetDecoder struct {
	anchorBox
}

// DecodeBox implements BoxDecoder.
func (d DarknetDecoder) DecodeBox(cell Cell, raw RawBox, maskGroup, boxIndex int) (float64, float64, float64, float64, error) {
	if d.sigmoid {
		raw.X = sigmoid(raw.X)
		raw.Y = sigmoid(raw.Y)
	}
	x := (float32(cell.Col) + raw.X) / float32(cell.SideW) * d.width
	y := (float32(cell.Row) + raw.Y) / float32(cell.SideH) * d.height

	aw, ah, err := d.anchor(maskGroup, boxIndex)
	if err != nil {
		return 0, 0, 0, 0, err
	}
	w := math32.Exp(raw.W) * aw
	h := math32.Exp(raw.H) * ah

	xmin, ymin, xmax, ymax := d.corners(x, y, w, h)
	return xmin, ymin, xmax, ymax, nil
}

// ScaledDecoder is the box parameterization of YOLO v5.
type ScaledDecoder struct {
	anchorBox
}

// DecodeBox implements BoxDecoder.
func (d ScaledDecoder) DecodeBox(cell Cell, raw RawBox, maskGroup, boxIndex int) (float64, float64, float64, float64, error) {
	if d.sigmoid {
		raw.X = sigmoid(raw.X)
		raw.Y = sigmoid(raw.Y)
	}
	x := (float32(cell.Col) + 2*raw.X - 0.5) / float32(cell.SideW) * d.width
	y := (float32(cell.Row) + 2*raw.Y - 0.5) / float32(cell.SideH) * d.height

	aw, ah, err := d.anchor(maskGroup, boxIndex)
	if err != nil {
		return 0, 0, 0, 0, err
	}
	w := math32.Pow(sigmoid(raw.W)*2, 2) * aw
	h := math32.Pow(sigmoid(raw.H)*2, 2) * ah

	xmin, ymin, xmax, ymax := d.corners(x, y, w, h)
	return xmin, ymin, xmax, ymax, nil
}
