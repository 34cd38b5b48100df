package detection

import (
	"github.com/chewxy/math32"
	"github.com/nvr-ai/go-tensordecode/models/model"
	"github.com/nvr-ai/go-tensordecode/models/postprocess"
	"github.com/nvr-ai/go-tensordecode/tensor"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// NormalizedLimit separates normalized box coordinates from absolute pixel coordinates.
// A box whose four values are all below the limit is taken as already normalized.
const NormalizedLimit = 2.0

// Decoder reads detection records out of output tensors following a LayoutPlan.
type Decoder struct {
	plan      LayoutPlan
	labels    model.Labels
	threshold float64
	info      model.Info
	log       *logrus.Entry
	// reconfigurable is set for plans inferred from shapes.
	reconfigurable bool
}

// NewDecoder creates a decoder for a resolved plan.
//
// Arguments:
//   - plan: The layout of the outputs.
//   - labels: Class names indexed by label id.
//   - threshold: Records with a confidence below the threshold are dropped.
//   - info: Model description used to normalize absolute coordinates. May be nil.
//   - log: Logger for per-record tracing. May be nil.
//
// Returns:
//   - *Decoder: The decoder.
func NewDecoder(plan LayoutPlan, labels model.Labels, threshold float64, info model.Info, log *logrus.Entry) *Decoder {
	if log == nil {
		l := logrus.New()
		l.SetLevel(logrus.PanicLevel)
		log = logrus.NewEntry(l)
	}
	return &Decoder{plan: plan, labels: labels, threshold: threshold, info: info, log: log}
}

// Plan returns the layout the decoder follows.
func (d *Decoder) Plan() LayoutPlan { return d.plan }

// Suppression reports that generic layouts are not suppressed.
func (d *Decoder) Suppression() (postprocess.NMSConfig, bool) {
	return postprocess.NMSConfig{}, false
}

// Reconfigurable reports whether the plan was inferred from output shapes.
func (d *Decoder) Reconfigurable() bool { return d.reconfigurable }

// roleTensor is an output tensor addressed as rows of objects.
type roleTensor struct {
	view tensor.View
	// rowWidth is the number of elements per object.
	rowWidth int
	objects  int
}

func (d *Decoder) rows(v tensor.View) roleTensor {
	rt := roleTensor{view: v}
	axis := d.plan.NumObjectsAxis
	switch {
	case axis >= 0 && axis < v.Rank():
		rt.objects, rt.rowWidth = 1, 1
		for _, dim := range v.Shape()[:axis+1] {
			rt.objects *= dim
		}
		for _, dim := range v.Shape()[axis+1:] {
			rt.rowWidth *= dim
		}
	case axis >= 0:
		rt.objects = -1
	case v.Rank() > 1:
		rt.rowWidth = v.LastDim()
		if rt.rowWidth > 0 {
			rt.objects = v.Size() / rt.rowWidth
		}
	default:
		rt.rowWidth = 1
		rt.objects = v.Size()
	}
	return rt
}

type roles struct {
	box, confidence, label, imageID *roleTensor
	mask                            *tensor.View
	objects                         int
}

// bind validates the outputs against the plan and resolves each role tensor.
func (d *Decoder) bind(outputs []tensor.View) (roles, error) {
	p := d.plan
	var r roles
	r.objects = -1

	bindOne := func(name string, index, offset, fields int) (*roleTensor, error) {
		if index == Absent {
			return nil, nil
		}
		if index < 0 || index >= len(outputs) {
			return nil, errors.Wrapf(postprocess.ErrMalformedOutput, "%s index %d with %d outputs", name, index, len(outputs))
		}
		rt := d.rows(outputs[index])
		if rt.objects < 0 {
			return nil, errors.Wrapf(postprocess.ErrMalformedOutput, "%s tensor %v has no objects axis %d",
				name, outputs[index].Shape(), p.NumObjectsAxis)
		}
		if offset < 0 || offset+fields > rt.rowWidth {
			return nil, errors.Wrapf(postprocess.ErrMalformedOutput, "%s offset %d outside row of %d", name, offset, rt.rowWidth)
		}
		if r.objects >= 0 && rt.objects != r.objects {
			return nil, errors.Wrapf(postprocess.ErrMalformedOutput, "%s tensor holds %d objects, expected %d",
				name, rt.objects, r.objects)
		}
		r.objects = rt.objects
		return &rt, nil
	}

	var err error
	if r.box, err = bindOne("box", p.BoxIndex, p.BoxOffset, 4); err != nil {
		return r, err
	}
	if r.box == nil {
		return r, errors.Wrap(postprocess.ErrMalformedOutput, "layout has no box tensor")
	}
	if r.confidence, err = bindOne("confidence", p.ConfidenceIndex, p.ConfidenceOffset, 1); err != nil {
		return r, err
	}
	if r.label, err = bindOne("label", p.LabelIndex, p.LabelOffset, 1); err != nil {
		return r, err
	}
	if r.imageID, err = bindOne("imageid", p.ImageIDIndex, p.ImageIDOffset, 1); err != nil {
		return r, err
	}

	if r.box.view.DType() != tensor.Float32 {
		return r, errors.Wrapf(postprocess.ErrUnsupportedDType, "box tensor is %s", r.box.view.DType())
	}
	if r.confidence != nil && r.confidence.view.DType() != tensor.Float32 {
		return r, errors.Wrapf(postprocess.ErrUnsupportedDType, "confidence tensor is %s", r.confidence.view.DType())
	}
	if r.label != nil {
		switch r.label.view.DType() {
		case tensor.Float32, tensor.Int32, tensor.Int64:
		default:
			return r, errors.Wrapf(postprocess.ErrUnsupportedDType, "label tensor is %s", r.label.view.DType())
		}
		if r.label.view.Rank() == 1 && p.LabelOffset != 0 {
			return r, errors.Wrapf(postprocess.ErrMalformedOutput, "label offset %d on a rank-1 label tensor", p.LabelOffset)
		}
	}

	if p.MaskIndex != Absent {
		if p.MaskIndex < 0 || p.MaskIndex >= len(outputs) {
			return r, errors.Wrapf(postprocess.ErrMalformedOutput, "mask index %d with %d outputs", p.MaskIndex, len(outputs))
		}
		m := outputs[p.MaskIndex]
		if m.Rank() == 0 || m.Dim(0) < r.objects {
			return r, errors.Wrapf(postprocess.ErrMalformedOutput, "mask tensor %v holds fewer than %d objects",
				m.Shape(), r.objects)
		}
		r.mask = &m
	}

	return r, nil
}

func (rt *roleTensor) float32At(object, offset int) (float32, error) {
	return rt.view.Float32Flat(object*rt.rowWidth + offset)
}

func (rt *roleTensor) int64At(object, offset int) (int64, error) {
	return rt.view.Int64Flat(object*rt.rowWidth + offset)
}

// Decode emits the records of batch item batchIndex.
//
// Objects are visited in tensor order. An object is dropped when its image id differs from
// batchIndex or its confidence is below the threshold or not a number. A negative image id ends
// the object list. A non-finite box coordinate fails the frame.
//
// Arguments:
//   - outputs: The output tensors in model order.
//   - batchIndex: The batch item to keep.
//
// Returns:
//   - []postprocess.Record: The decoded records.
//   - error: On any inconsistency no records are returned.
func (d *Decoder) Decode(outputs []tensor.View, batchIndex int) ([]postprocess.Record, error) {
	r, err := d.bind(outputs)
	if err != nil {
		return nil, err
	}
	p := d.plan

	var records []postprocess.Record
	for i := 0; i < r.objects; i++ {
		if r.imageID != nil {
			imageID, err := r.imageID.float32At(i, p.ImageIDOffset)
			if err != nil {
				return nil, errors.Wrap(postprocess.ErrMalformedOutput, err.Error())
			}
			if imageID < 0 {
				break
			}
			if imageID != float32(batchIndex) {
				continue
			}
		}

		confidence := float32(1)
		if r.confidence != nil {
			confidence, err = r.confidence.float32At(i, p.ConfidenceOffset)
			if err != nil {
				return nil, errors.Wrap(postprocess.ErrMalformedOutput, err.Error())
			}
			if !(float64(confidence) >= d.threshold) {
				continue
			}
		}

		labelID := int64(-1)
		if r.label != nil {
			labelID, err = r.label.int64At(i, p.LabelOffset)
			if err != nil {
				return nil, errors.Wrap(postprocess.ErrMalformedOutput, err.Error())
			}
		}

		var box [4]float32
		for k := range box {
			if box[k], err = r.box.float32At(i, p.BoxOffset+k); err != nil {
				return nil, errors.Wrap(postprocess.ErrMalformedOutput, err.Error())
			}
			if math32.IsNaN(box[k]) || math32.IsInf(box[k], 0) {
				return nil, errors.Wrapf(postprocess.ErrMalformedOutput, "object %d has a non-finite box coordinate %v", i, box[k])
			}
		}
		coords, err := d.normalize(box)
		if err != nil {
			return nil, err
		}

		label, _ := d.labels.Lookup(int(labelID))
		rec := postprocess.NewRecord(coords[0], coords[1], coords[2], coords[3], float64(confidence), int(labelID), label)

		if r.mask != nil {
			slice, err := r.mask.Slice(i, 1)
			if err != nil {
				return nil, errors.Wrap(postprocess.ErrMalformedOutput, err.Error())
			}
			rec.Mask = &postprocess.Mask{Data: slice, LayerName: d.layerName(p.MaskIndex), Format: postprocess.MaskFormat}
		}

		d.log.WithFields(logrus.Fields{"object": i, "record": rec.String()}).Trace("decoded object")
		records = append(records, rec)
	}

	return records, nil
}

// normalize converts absolute pixel boxes to normalized coordinates.
func (d *Decoder) normalize(box [4]float32) ([4]float64, error) {
	out := [4]float64{float64(box[0]), float64(box[1]), float64(box[2]), float64(box[3])}
	if box[0] < NormalizedLimit && box[1] < NormalizedLimit && box[2] < NormalizedLimit && box[3] < NormalizedLimit {
		return out, nil
	}

	if d.info == nil {
		return out, errors.Wrap(postprocess.ErrMalformedOutput, "absolute box coordinates without model input size")
	}
	w, h, ok := d.info.InputSize()
	if !ok {
		return out, errors.Wrapf(postprocess.ErrMalformedOutput, "absolute box coordinates without model input size for %q",
			d.info.Name())
	}
	out[0] /= float64(w)
	out[1] /= float64(h)
	out[2] /= float64(w)
	out[3] /= float64(h)
	return out, nil
}

func (d *Decoder) layerName(index int) string {
	if d.info == nil {
		return ""
	}
	layers := d.info.OutputLayers()
	if index < 0 || index >= len(layers) {
		return ""
	}
	return layers[index]
}
