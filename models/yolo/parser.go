package yolo

import (
	"math"

	"github.com/chewxy/math32"
	"github.com/nvr-ai/go-tensordecode/models/model"
	"github.com/nvr-ai/go-tensordecode/models/postprocess"
	"github.com/nvr-ai/go-tensordecode/tensor"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Parser decodes the grid of one YOLO output tensor.
type Parser struct {
	config Config
	boxes  BoxDecoder
	masks  map[int][]int
	labels model.Labels
	log    *logrus.Entry
}

// NewParser creates a parser for a resolved configuration. The box parameterization is chosen
// once from the configured version.
func NewParser(c Config, labels model.Labels, log *logrus.Entry) *Parser {
	if log == nil {
		l := logrus.New()
		l.SetLevel(logrus.PanicLevel)
		log = logrus.NewEntry(l)
	}
	return &Parser{
		config: c,
		boxes:  NewBoxDecoder(c),
		masks:  MasksMap(c.Masks, min(c.CellsX, c.CellsY), c.BoxesPerCell),
		labels: labels,
		log:    log,
	}
}

// Config returns the configuration of the parser.
func (p *Parser) Config() Config { return p.config }

// grid returns the number of cells of an output along x and y.
func (p *Parser) grid(v tensor.View) (int, int) {
	c := p.config
	if c.Layout != Other {
		ix, iy := c.Layout.CellsIndexes()
		return v.Dim(ix), v.Dim(iy)
	}
	base := c.CellsX * c.CellsY * c.BoxesPerCell * c.EntriesPerBox()
	if base == 0 {
		return 0, 0
	}
	multiplier := int(math.Sqrt(float64(v.Size()/base)) + 0.5)
	return c.CellsX * multiplier, c.CellsY * multiplier
}

func float32Data(v tensor.View) ([]float32, error) {
	if data, err := v.Float32s(); err == nil {
		return data, nil
	}
	if v.DType() != tensor.Float32 {
		return nil, errors.Wrapf(postprocess.ErrUnsupportedDType, "yolo output is %s", v.DType())
	}
	data := make([]float32, v.Size())
	for i := range data {
		x, err := v.Float32Flat(i)
		if err != nil {
			return nil, err
		}
		data[i] = x
	}
	return data, nil
}

// Parse decodes every box of every cell of one output tensor.
//
// Scores that are not numbers never pass the threshold, and non-finite box values fail the
// output. Entries are addressed channel-major: entry e of box b in cell loc is at
// side²*(b*(classes+5)+e) + loc, with loc = row*sideW + col.
//
// Arguments:
//   - v: One output tensor.
//
// Returns:
//   - []postprocess.Record: Records at or above the threshold, in grid order.
//   - error: On any inconsistency no records are returned.
func (p *Parser) Parse(v tensor.View) ([]postprocess.Record, error) {
	c := p.config
	blob, err := float32Data(v)
	if err != nil {
		return nil, err
	}

	sideW, sideH := p.grid(v)
	square := sideW * sideH
	if square == 0 {
		return nil, errors.Wrapf(postprocess.ErrMalformedOutput, "output %v has an empty grid", v.Shape())
	}
	if need := square * c.BoxesPerCell * c.EntriesPerBox(); need > len(blob) {
		return nil, errors.Wrapf(postprocess.ErrMalformedOutput,
			"output %v holds %d values, grid %dx%d needs %d", v.Shape(), len(blob), sideW, sideH, need)
	}
	mask, ok := p.masks[min(sideW, sideH)]
	if !ok || len(mask) == 0 {
		return nil, errors.Wrapf(postprocess.ErrMalformedOutput, "no anchor mask for a grid of %dx%d", sideW, sideH)
	}

	entries := c.EntriesPerBox()
	index := func(box, entry, loc int) int {
		return square*(box*entries+entry) + loc
	}

	scores := make([]float32, c.Classes)
	var records []postprocess.Record

	for loc := 0; loc < square; loc++ {
		row, col := loc/sideW, loc%sideW
		for box := 0; box < c.BoxesPerCell; box++ {
			boxConf := blob[index(box, coords, loc)]
			if c.Sigmoid {
				boxConf = sigmoid(boxConf)
			}
			if !(float64(boxConf) >= c.Threshold) {
				continue
			}

			for k := range scores {
				scores[k] = blob[index(box, coords+1+k, loc)]
			}
			if c.Softmax {
				softmax(scores)
			}
			classID, classScore := 0, float32(0)
			for k, s := range scores {
				if s > classScore {
					classID, classScore = k, s
				}
			}

			confidence := boxConf * classScore
			if !(float64(confidence) >= c.Threshold) {
				continue
			}

			raw := RawBox{
				X: blob[index(box, 0, loc)],
				Y: blob[index(box, 1, loc)],
				W: blob[index(box, 2, loc)],
				H: blob[index(box, 3, loc)],
			}
			if !raw.finite() {
				return nil, errors.Wrapf(postprocess.ErrMalformedOutput,
					"box %d of cell (%d,%d) has non-finite coordinates %+v", box, col, row, raw)
			}
			cell := Cell{Col: col, Row: row, SideW: sideW, SideH: sideH}
			xmin, ymin, xmax, ymax, err := p.boxes.DecodeBox(cell, raw, mask[0], box)
			if err != nil {
				return nil, err
			}

			label, ok := p.labels.Lookup(classID)
			if !ok && len(p.labels) > 0 {
				p.log.WithFields(logrus.Fields{"label_id": classID, "labels": len(p.labels)}).Warn("label id out of range")
			}
			records = append(records, postprocess.NewRecord(xmin, ymin, xmax, ymax, float64(confidence), classID, label))
		}
	}

	return records, nil
}

// softmax normalizes scores in place.
func softmax(scores []float32) {
	var sum float32
	for i, s := range scores {
		scores[i] = math32.Exp(s)
		sum += scores[i]
	}
	if sum <= 0 {
		return
	}
	for i := range scores {
		scores[i] /= sum
	}
}
