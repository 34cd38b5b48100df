// Package test - Deterministic model outputs for end-to-end decoding tests.
package test

import (
	"math/rand"

	"github.com/nvr-ai/go-tensordecode/tensor"
)

// SSDDetection is one row of a DetectionOutput tensor.
type SSDDetection struct {
	ImageID    int
	Label      int
	Confidence float32
	XMin, YMin float32
	XMax, YMax float32
}

// Row returns the seven values of the detection in output order.
func (d SSDDetection) Row() []float32 {
	return []float32{float32(d.ImageID), float32(d.Label), d.Confidence, d.XMin, d.YMin, d.XMax, d.YMax}
}

// SSDOutput builds a [1, 1, N, 7] DetectionOutput tensor from rows.
//
// Arguments:
// - rows: The detections, in output order.
//
// Returns:
// - A view over the generated data.
//
// @example
// out, err := test.SSDOutput(test.SSDDetection{Label: 1, Confidence: 0.9, XMax: 0.5, YMax: 0.5})
func SSDOutput(rows ...SSDDetection) (tensor.View, error) {
	data := make([]float32, 0, 7*len(rows))
	for _, r := range rows {
		data = append(data, r.Row()...)
	}
	return tensor.New(data, 1, 1, len(rows), 7)
}

// MockOutputGenerator creates deterministic model outputs for idempotent testing.
//
// @example
// gen := NewMockOutputGenerator()
// rows := gen.GenerateSSD(100, 4)
type MockOutputGenerator struct {
	rng *rand.Rand
}

// NewMockOutputGenerator creates a generator with a fixed seed.
func NewMockOutputGenerator() *MockOutputGenerator {
	return &MockOutputGenerator{
		rng: rand.New(rand.NewSource(42)), // Deterministic seed for reproducibility.
	}
}

// GenerateSSD creates n random normalized detections spread over batches images.
//
// Arguments:
// - n: Number of detections.
// - batches: Number of images the detections are spread over.
//
// Returns:
// - Detections ordered by image id, as inference backends emit them.
func (g *MockOutputGenerator) GenerateSSD(n, batches int) []SSDDetection {
	rows := make([]SSDDetection, n)
	for i := range rows {
		x, y := g.rng.Float32()*0.8, g.rng.Float32()*0.8
		rows[i] = SSDDetection{
			ImageID:    i * batches / n,
			Label:      g.rng.Intn(20),
			Confidence: g.rng.Float32(),
			XMin:       x,
			YMin:       y,
			XMax:       x + 0.01 + g.rng.Float32()*0.19,
			YMax:       y + 0.01 + g.rng.Float32()*0.19,
		}
	}
	return rows
}

// YOLOGrid is a channel-major YOLO region output of shape [1, boxes*(classes+5), side, side].
type YOLOGrid struct {
	Side    int
	Boxes   int
	Classes int
	Data    []float32
}

// NewYOLOGrid creates a grid whose objectness logits are all background.
//
// Arguments:
// - side: Number of cells along each axis.
// - boxes: Boxes per cell.
// - classes: Number of classes.
// - background: Objectness logit of empty boxes.
//
// Returns:
// - The grid.
func NewYOLOGrid(side, boxes, classes int, background float32) *YOLOGrid {
	g := &YOLOGrid{
		Side:    side,
		Boxes:   boxes,
		Classes: classes,
		Data:    make([]float32, side*side*boxes*(classes+5)),
	}
	for row := 0; row < side; row++ {
		for col := 0; col < side; col++ {
			for box := 0; box < boxes; box++ {
				g.Data[g.index(row, col, box, 4)] = background
			}
		}
	}
	return g
}

func (g *YOLOGrid) index(row, col, box, entry int) int {
	square := g.Side * g.Side
	return square*(box*(g.Classes+5)+entry) + row*g.Side + col
}

// Set writes raw box logits, objectness and one class logit into a cell.
//
// Arguments:
// - row, col: The cell.
// - box: The box within the cell.
// - raw: x, y, w and h logits.
// - objectness: The objectness logit.
// - class: The class id.
// - score: The class logit.
func (g *YOLOGrid) Set(row, col, box int, raw [4]float32, objectness float32, class int, score float32) {
	for i, v := range raw {
		g.Data[g.index(row, col, box, i)] = v
	}
	g.Data[g.index(row, col, box, 4)] = objectness
	g.Data[g.index(row, col, box, 5+class)] = score
}

// View returns the grid as an NCHW tensor view.
func (g *YOLOGrid) View() (tensor.View, error) {
	return tensor.New(g.Data, 1, g.Boxes*(g.Classes+5), g.Side, g.Side)
}
