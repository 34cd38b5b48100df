package tensor

import (
	"github.com/pkg/errors"
	gtensor "gorgonia.org/tensor"
)

// FromDense wraps a gorgonia dense tensor without copying its data.
//
// Views over other dense tensors are materialized first, so the returned view always
// describes a dense buffer.
//
// Arguments:
//   - d: The dense tensor. Supported element types are float32, int32, int64 and uint8.
//
// Returns:
//   - View: A view sharing the dense tensor's backing array.
//   - error: ErrUnsupportedDType for other element types.
//
// @example
// d := gtensor.New(gtensor.WithShape(1, 7), gtensor.WithBacking([]float32{0, 1, 0.9, 0.1, 0.1, 0.4, 0.4}))
// v, err := tensor.FromDense(d)
func FromDense(d *gtensor.Dense) (View, error) {
	if d == nil {
		return View{}, errors.New("nil dense tensor")
	}
	if d.IsView() {
		m, ok := d.Materialize().(*gtensor.Dense)
		if !ok {
			return View{}, errors.New("materialized tensor is not dense")
		}
		d = m
	}

	shape := []int(d.Shape().Clone())
	data := d.Data()
	if d.IsScalar() {
		shape = nil
		switch s := data.(type) {
		case float32:
			data = []float32{s}
		case int32:
			data = []int32{s}
		case int64:
			data = []int64{s}
		case uint8:
			data = []uint8{s}
		}
	}

	switch d.Dtype() {
	case gtensor.Float32, gtensor.Int32, gtensor.Int64, gtensor.Uint8:
	default:
		return View{}, errors.Wrapf(ErrUnsupportedDType, "dense %s", d.Dtype())
	}

	strides := ContiguousStrides(shape)
	if !d.IsScalar() && len(d.Strides()) == len(shape) {
		strides = append([]int(nil), d.Strides()...)
	}
	return NewStrided(data, shape, strides, 0)
}
