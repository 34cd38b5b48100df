// Package tensor - Read-only, strided views over model output tensors.
package tensor

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

var (
	// ErrShapeMismatch is returned when a backing buffer cannot hold the declared shape.
	ErrShapeMismatch = errors.New("shape mismatch")
	// ErrOutOfRange is returned when an element read falls outside the view.
	ErrOutOfRange = errors.New("index out of range")
	// ErrUnsupportedDType is returned for element types a view cannot hold or read.
	ErrUnsupportedDType = errors.New("unsupported data type")
)

// DType is the element type of a tensor.
type DType int

const (
	// Float32 is a 32-bit IEEE float element.
	Float32 DType = iota
	// Int32 is a signed 32-bit integer element.
	Int32
	// Int64 is a signed 64-bit integer element.
	Int64
	// UInt8 is an unsigned byte element.
	UInt8
)

// String returns the lowercase name of the element type.
func (d DType) String() string {
	switch d {
	case Float32:
		return "float32"
	case Int32:
		return "int32"
	case Int64:
		return "int64"
	case UInt8:
		return "uint8"
	default:
		return fmt.Sprintf("dtype(%d)", int(d))
	}
}

// IsFloat reports whether the element type is a floating point type.
func (d DType) IsFloat() bool {
	return d == Float32
}

// View is an immutable view over a typed buffer owned by the producer of the tensor.
//
// Strides are counted in elements. A view never copies or mutates its backing buffer.
type View struct {
	dtype   DType
	shape   []int
	strides []int
	offset  int

	f32 []float32
	i32 []int32
	i64 []int64
	u8  []uint8
}

// New creates a contiguous row-major view over data.
//
// Arguments:
//   - data: One of []float32, []int32, []int64 or []uint8.
//   - shape: Dimension sizes, outermost first.
//
// Returns:
//   - View: The view.
//   - error: ErrUnsupportedDType for other slice types, ErrShapeMismatch when data is too short.
//
// @example
// v, err := tensor.New([]float32{1, 2, 3, 4, 5, 6}, 2, 3)
// x, _ := v.Float32At(1, 2) // 6
func New(data any, shape ...int) (View, error) {
	return NewStrided(data, shape, ContiguousStrides(shape), 0)
}

// NewStrided creates a view with explicit element strides and a starting offset.
//
// Arguments:
//   - data: One of []float32, []int32, []int64 or []uint8.
//   - shape: Dimension sizes, outermost first.
//   - strides: Element stride of each dimension. Must have the same length as shape.
//   - offset: Index of the first element in data.
//
// Returns:
//   - View: The view.
//   - error: An error if the layout does not fit the buffer.
func NewStrided(data any, shape, strides []int, offset int) (View, error) {
	if len(shape) != len(strides) {
		return View{}, errors.Wrapf(ErrShapeMismatch, "rank %d with %d strides", len(shape), len(strides))
	}
	for i, d := range shape {
		if d < 0 {
			return View{}, errors.Wrapf(ErrShapeMismatch, "negative dimension %d at axis %d", d, i)
		}
	}

	v := View{
		shape:   append([]int(nil), shape...),
		strides: append([]int(nil), strides...),
		offset:  offset,
	}

	var length int
	switch d := data.(type) {
	case []float32:
		v.dtype, v.f32, length = Float32, d, len(d)
	case []int32:
		v.dtype, v.i32, length = Int32, d, len(d)
	case []int64:
		v.dtype, v.i64, length = Int64, d, len(d)
	case []uint8:
		v.dtype, v.u8, length = UInt8, d, len(d)
	default:
		return View{}, errors.Wrapf(ErrUnsupportedDType, "%T", data)
	}

	if v.Size() == 0 {
		return v, nil
	}
	last := offset
	for i, d := range shape {
		last += (d - 1) * strides[i]
	}
	if offset < 0 || last >= length || last < 0 {
		return View{}, errors.Wrapf(ErrShapeMismatch, "shape %v needs element %d, buffer holds %d", shape, last, length)
	}
	return v, nil
}

// ContiguousStrides returns the row-major element strides of shape.
func ContiguousStrides(shape []int) []int {
	strides := make([]int, len(shape))
	acc := 1
	for i := len(shape) - 1; i >= 0; i-- {
		strides[i] = acc
		acc *= shape[i]
	}
	return strides
}

// DType returns the element type.
func (v View) DType() DType { return v.dtype }

// Shape returns a copy of the dimension sizes.
func (v View) Shape() []int { return append([]int(nil), v.shape...) }

// Strides returns a copy of the element strides.
func (v View) Strides() []int { return append([]int(nil), v.strides...) }

// Rank returns the number of dimensions.
func (v View) Rank() int { return len(v.shape) }

// Dim returns the size of axis i, or 0 when i is out of range.
func (v View) Dim(i int) int {
	if i < 0 || i >= len(v.shape) {
		return 0
	}
	return v.shape[i]
}

// LastDim returns the size of the innermost axis, or 0 for a rank-0 view.
func (v View) LastDim() int {
	if len(v.shape) == 0 {
		return 0
	}
	return v.shape[len(v.shape)-1]
}

// Size returns the number of logical elements. A rank-0 view holds one element.
func (v View) Size() int {
	n := 1
	for _, d := range v.shape {
		n *= d
	}
	return n
}

// Contiguous reports whether the view is laid out row-major without gaps.
func (v View) Contiguous() bool {
	want := ContiguousStrides(v.shape)
	for i := range want {
		if v.shape[i] > 1 && v.strides[i] != want[i] {
			return false
		}
	}
	return true
}

// Float32s returns the backing elements of a contiguous float32 view.
//
// Returns:
//   - []float32: The Size() elements of the view, sharing memory with the producer.
//   - error: ErrUnsupportedDType when the view is not a contiguous float32 view.
func (v View) Float32s() ([]float32, error) {
	if v.dtype != Float32 || !v.Contiguous() {
		return nil, errors.Wrapf(ErrUnsupportedDType, "contiguous float32 required, have %s", v.dtype)
	}
	return v.f32[v.offset : v.offset+v.Size()], nil
}

// flat maps a row-major logical index to a backing buffer index.
func (v View) flat(i int) (int, error) {
	if i < 0 || i >= v.Size() {
		return 0, errors.Wrapf(ErrOutOfRange, "flat index %d, size %d", i, v.Size())
	}
	pos := v.offset
	for axis := len(v.shape) - 1; axis >= 0; axis-- {
		d := v.shape[axis]
		pos += (i % d) * v.strides[axis]
		i /= d
	}
	return pos, nil
}

// at maps a multi-dimensional index to a backing buffer index.
func (v View) at(idx []int) (int, error) {
	if len(idx) != len(v.shape) {
		return 0, errors.Wrapf(ErrOutOfRange, "%d indices for rank %d", len(idx), len(v.shape))
	}
	pos := v.offset
	for axis, i := range idx {
		if i < 0 || i >= v.shape[axis] {
			return 0, errors.Wrapf(ErrOutOfRange, "index %d on axis %d of size %d", i, axis, v.shape[axis])
		}
		pos += i * v.strides[axis]
	}
	return pos, nil
}

func (v View) float32Raw(pos int) float32 {
	switch v.dtype {
	case Float32:
		return v.f32[pos]
	case Int32:
		return float32(v.i32[pos])
	case Int64:
		return float32(v.i64[pos])
	default:
		return float32(v.u8[pos])
	}
}

func (v View) int64Raw(pos int) int64 {
	switch v.dtype {
	case Float32:
		return int64(v.f32[pos])
	case Int32:
		return int64(v.i32[pos])
	case Int64:
		return v.i64[pos]
	default:
		return int64(v.u8[pos])
	}
}

// Float32At reads the element at a multi-dimensional index as float32.
func (v View) Float32At(idx ...int) (float32, error) {
	pos, err := v.at(idx)
	if err != nil {
		return 0, err
	}
	return v.float32Raw(pos), nil
}

// Int64At reads the element at a multi-dimensional index as int64.
// Float elements are truncated toward zero.
func (v View) Int64At(idx ...int) (int64, error) {
	pos, err := v.at(idx)
	if err != nil {
		return 0, err
	}
	return v.int64Raw(pos), nil
}

// Float32Flat reads the element at a row-major logical index as float32.
func (v View) Float32Flat(i int) (float32, error) {
	pos, err := v.flat(i)
	if err != nil {
		return 0, err
	}
	return v.float32Raw(pos), nil
}

// Int64Flat reads the element at a row-major logical index as int64.
func (v View) Int64Flat(i int) (int64, error) {
	pos, err := v.flat(i)
	if err != nil {
		return 0, err
	}
	return v.int64Raw(pos), nil
}

// Slice returns the sub-view [start, start+n) along axis 0. The rank is preserved.
//
// Arguments:
//   - start: First index on axis 0.
//   - n: Number of entries to keep.
//
// Returns:
//   - View: A view sharing the backing buffer.
//   - error: ErrOutOfRange when the range is outside axis 0.
func (v View) Slice(start, n int) (View, error) {
	if len(v.shape) == 0 {
		return View{}, errors.Wrap(ErrOutOfRange, "cannot slice a rank-0 view")
	}
	if start < 0 || n < 0 || start+n > v.shape[0] {
		return View{}, errors.Wrapf(ErrOutOfRange, "slice [%d,%d) of axis size %d", start, start+n, v.shape[0])
	}
	out := v
	out.shape = v.Shape()
	out.strides = v.Strides()
	out.shape[0] = n
	out.offset = v.offset + start*v.strides[0]
	return out, nil
}

// String describes the view without its data.
func (v View) String() string {
	return fmt.Sprintf("tensor<%s>%v", v.dtype, v.shape)
}

// SameShape reports whether a and b have identical dimensions.
func SameShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// ShapeSignature returns a stable textual key of the shapes and element types of views.
func ShapeSignature(views []View) string {
	var sb strings.Builder
	for i, v := range views {
		if i > 0 {
			sb.WriteByte(';')
		}
		sb.WriteString(v.String())
	}
	return sb.String()
}

// Shapes returns the shapes of views in order.
func Shapes(views []View) [][]int {
	out := make([][]int, len(views))
	for i, v := range views {
		out[i] = v.Shape()
	}
	return out
}
