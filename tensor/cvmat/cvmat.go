// Package cvmat - Adapts OpenCV DNN output blobs to tensor views.
package cvmat

import (
	"github.com/nvr-ai/go-tensordecode/tensor"
	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

// FromMat wraps the data of a continuous single channel Mat as a tensor view.
//
// The Mat must outlive the returned view: the view shares the Mat's memory.
// N-dimensional blobs returned by gocv.Net.Forward keep all of their dimensions.
//
// Arguments:
//   - mat: A CV_32FC1, CV_32SC1 or CV_8UC1 Mat.
//
// Returns:
//   - tensor.View: A view over the Mat data.
//   - error: tensor.ErrUnsupportedDType for other Mat types.
//
// @example
// blob := net.Forward("detection_out")
// defer blob.Close()
// v, err := cvmat.FromMat(&blob)
func FromMat(mat *gocv.Mat) (tensor.View, error) {
	if mat == nil || mat.Empty() {
		return tensor.View{}, errors.New("empty mat")
	}
	if !mat.IsContinuous() {
		return tensor.View{}, errors.New("mat is not continuous")
	}

	shape := mat.Size()

	switch mat.Type() {
	case gocv.MatTypeCV32FC1:
		data, err := mat.DataPtrFloat32()
		if err != nil {
			return tensor.View{}, errors.Wrap(err, "mat data")
		}
		return tensor.New(data, shape...)
	case gocv.MatTypeCV32SC1:
		data, err := mat.DataPtrInt32()
		if err != nil {
			return tensor.View{}, errors.Wrap(err, "mat data")
		}
		return tensor.New(data, shape...)
	case gocv.MatTypeCV8UC1:
		data, err := mat.DataPtrUint8()
		if err != nil {
			return tensor.View{}, errors.Wrap(err, "mat data")
		}
		return tensor.New(data, shape...)
	default:
		return tensor.View{}, errors.Wrapf(tensor.ErrUnsupportedDType, "mat type %v", mat.Type())
	}
}
