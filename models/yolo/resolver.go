package yolo

import (
	"github.com/nvr-ai/go-tensordecode/models/postprocess"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

func shapeSize(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

// minShape returns the shape with the fewest elements. Ties keep the first.
func minShape(shapes [][]int) []int {
	best := shapes[0]
	for _, s := range shapes[1:] {
		if shapeSize(s) < shapeSize(best) {
			best = s
		}
	}
	return best
}

// MasksMap groups the flat masks list per grid scale.
//
// Masks are split into consecutive groups of boxesPerCell. The first group belongs to the grid
// whose smaller side is minCells, and each following group to a grid twice as fine.
//
// @example
// m := yolo.MasksMap([]int{6, 7, 8, 3, 4, 5, 0, 1, 2}, 13, 3)
// // map[13:[6 7 8] 26:[3 4 5] 52:[0 1 2]]
func MasksMap(masks []int, minCells, boxesPerCell int) map[int][]int {
	out := make(map[int][]int)
	if boxesPerCell <= 0 {
		return out
	}
	side := minCells
	var group []int
	for i, m := range masks {
		if i != 0 && i%boxesPerCell == 0 {
			out[side] = group
			group = nil
			side *= 2
		}
		group = append(group, m)
	}
	out[side] = group
	return out
}

// Resolver derives the grid configuration of a YOLO model from its output shapes.
type Resolver struct {
	log *logrus.Entry
}

// NewResolver creates a resolver that reports its decisions to log.
func NewResolver(log *logrus.Entry) *Resolver {
	if log == nil {
		l := logrus.New()
		l.SetLevel(logrus.PanicLevel)
		log = logrus.NewEntry(l)
	}
	return &Resolver{log: log}
}

// Resolve completes a declared configuration against the first seen output shapes.
//
// Arguments:
//   - shapes: Shapes of every output tensor of the model.
//   - declared: The configuration read from declared parameters.
//   - imageWidth, imageHeight: The model input size.
//
// Returns:
//   - Config: The configuration with layout, cells and boxes per cell set.
//   - error: postprocess.ErrAutoConfigurationFailed when the shapes and the parameters disagree.
func (r *Resolver) Resolve(shapes [][]int, declared Config, imageWidth, imageHeight int) (Config, error) {
	c := declared
	if len(shapes) == 0 {
		return c, errors.Wrap(postprocess.ErrAutoConfigurationFailed, "no output shapes")
	}
	if imageWidth <= 0 || imageHeight <= 0 {
		return c, errors.Wrap(postprocess.ErrAutoConfigurationFailed, "model input size is unknown")
	}
	c.ImageWidth, c.ImageHeight = imageWidth, imageHeight
	if c.BatchSize <= 0 {
		c.BatchSize = 1
	}
	if c.DownsampleDegree <= 0 {
		c.DownsampleDegree = DefaultDownsampleDegree
	}

	boxes := len(c.Anchors) / (len(shapes) * 2)
	if c.BoxesPerCell > 0 {
		boxes = c.BoxesPerCell
	}
	if boxes == 0 {
		return c, errors.Wrapf(postprocess.ErrAutoConfigurationFailed,
			"%d anchors cannot serve %d outputs", len(c.Anchors), len(shapes))
	}

	layout, err := detectLayout(minShape(shapes), boxes*c.EntriesPerBox())
	if err != nil {
		return c, err
	}
	c.Layout = layout

	if c.CellsX == 0 || c.CellsY == 0 || c.BoxesPerCell == 0 {
		if !r.autoConfigure(&c, minShape(shapes), boxes) {
			return c, errors.Wrap(postprocess.ErrAutoConfigurationFailed,
				"cannot determine grid parameters, declare cells-number and bbox-number-on-cell")
		}
		r.log.WithFields(logrus.Fields{
			"cells_x": c.CellsX,
			"cells_y": c.CellsY,
			"boxes":   c.BoxesPerCell,
		}).Info("auto-configuration result")
	}

	if err := verify(c, shapes); err != nil {
		return c, err
	}
	return c, nil
}

// detectLayout locates the boxes*(classes+5) axis of the smallest output.
func detectLayout(shape []int, boxEntries int) (Layout, error) {
	if len(shape) <= 1 {
		return Other, nil
	}
	axis := -1
	for i, d := range shape {
		if d == boxEntries {
			axis = i
			break
		}
	}
	if axis < 0 {
		return Other, nil
	}

	switch {
	case len(shape) == 3 && axis == 0:
		return BCyCx, nil
	case len(shape) == 3 && axis == 2:
		return CyCxB, nil
	case len(shape) == 4 && axis == 1:
		return NBCyCx, nil
	case len(shape) == 4 && axis == 3:
		return NCyCxB, nil
	}
	return Other, errors.Wrapf(postprocess.ErrAutoConfigurationFailed,
		"unsupported layout of output shape %v: box entries on axis %d", shape, axis)
}

// autoConfigure derives the cell counts, first from the shape and then from the input size.
func (r *Resolver) autoConfigure(c *Config, shape []int, boxes int) bool {
	size := shapeSize(shape)
	r.log.WithFields(logrus.Fields{
		"layout": c.Layout.String(),
		"boxes":  boxes,
		"shape":  shape,
	}).Info("auto-configuration")

	if c.Layout != Other {
		ix, iy := c.Layout.CellsIndexes()
		cx, cy := shape[ix], shape[iy]
		if c.BatchSize*cx*cy*boxes*c.EntriesPerBox() == size {
			c.CellsX, c.CellsY, c.BoxesPerCell = cx, cy, boxes
			return true
		}
	}

	cx := c.ImageWidth / c.DownsampleDegree
	cy := c.ImageHeight / c.DownsampleDegree
	r.log.WithFields(logrus.Fields{
		"cells_x":    cx,
		"cells_y":    cy,
		"downsample": c.DownsampleDegree,
	}).Info("auto-configuration from input size")
	if c.BatchSize*cx*cy*boxes*c.EntriesPerBox() != size {
		return false
	}
	c.CellsX, c.CellsY, c.BoxesPerCell = cx, cy, boxes
	return true
}

// verify checks the configuration against every output shape.
func verify(c Config, shapes [][]int) error {
	shape := minShape(shapes)
	estimated := c.BatchSize * c.CellsX * c.CellsY * c.BoxesPerCell * c.EntriesPerBox()
	if shapeSize(shape) != estimated {
		return errors.Wrapf(postprocess.ErrAutoConfigurationFailed,
			"size of the output tensor (%d) does not match the estimated (%d)", shapeSize(shape), estimated)
	}

	ix, iy := c.Layout.CellsIndexes()
	if ix == 0 && iy == 0 {
		return nil
	}

	masks := MasksMap(c.Masks, min(c.CellsX, c.CellsY), c.BoxesPerCell)
	for _, s := range shapes {
		if len(s) <= max(ix, iy) {
			return errors.Wrapf(postprocess.ErrAutoConfigurationFailed, "output shape %v does not fit layout %s", s, c.Layout)
		}
		side := min(s[ix], s[iy])
		if _, ok := masks[side]; !ok {
			return errors.Wrapf(postprocess.ErrAutoConfigurationFailed,
				"no anchor mask for a grid of %d cells in output %v", side, s)
		}
	}

	if c.CellsX != shape[ix] {
		return errors.Wrapf(postprocess.ErrAutoConfigurationFailed,
			"number of cells along x (%d) does not match the output (%d)", c.CellsX, shape[ix])
	}
	if c.CellsY != shape[iy] {
		return errors.Wrapf(postprocess.ErrAutoConfigurationFailed,
			"number of cells along y (%d) does not match the output (%d)", c.CellsY, shape[iy])
	}
	return nil
}
