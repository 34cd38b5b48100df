// Package detection - Generic detection output decoding driven by tensor-shape heuristics.
package detection

import (
	"fmt"

	"github.com/nvr-ai/go-tensordecode/models/model"
	"github.com/nvr-ai/go-tensordecode/models/postprocess"
	"github.com/nvr-ai/go-tensordecode/tensor"
	"github.com/pkg/errors"
)

// Absent marks a role that no output tensor carries.
const Absent = -1

// LayoutPlan maps detection fields to output tensors and offsets within a tensor row.
type LayoutPlan struct {
	// Rule is the name of the heuristic that produced the plan, or "explicit".
	Rule string

	BoxIndex        int
	ConfidenceIndex int
	LabelIndex      int
	ImageIDIndex    int
	MaskIndex       int

	BoxOffset        int
	ConfidenceOffset int
	LabelOffset      int
	ImageIDOffset    int

	// NumObjectsAxis is the last axis counting objects, or -1 to use size / last dimension. The
	// object count of a tensor is the product of its dimensions up to and including this axis.
	NumObjectsAxis int
}

// String describes the plan for logs.
func (p LayoutPlan) String() string {
	return fmt.Sprintf("%s{box=%d@%d conf=%d@%d label=%d@%d imageid=%d@%d mask=%d objects-axis=%d}",
		p.Rule,
		p.BoxIndex, p.BoxOffset,
		p.ConfidenceIndex, p.ConfidenceOffset,
		p.LabelIndex, p.LabelOffset,
		p.ImageIDIndex, p.ImageIDOffset,
		p.MaskIndex, p.NumObjectsAxis)
}

func emptyPlan(rule string) LayoutPlan {
	return LayoutPlan{
		Rule:            rule,
		BoxIndex:        Absent,
		ConfidenceIndex: Absent,
		LabelIndex:      Absent,
		ImageIDIndex:    Absent,
		MaskIndex:       Absent,
		NumObjectsAxis:  Absent,
	}
}

// tensorInfo is the shape and element type of an output, all a rule may look at.
type tensorInfo struct {
	shape []int
	dtype tensor.DType
}

func (t tensorInfo) rank() int { return len(t.shape) }

func (t tensorInfo) lastDim() int {
	if len(t.shape) == 0 {
		return 0
	}
	return t.shape[len(t.shape)-1]
}

type rule struct {
	name  string
	match func(ts []tensorInfo) bool
	build func(ts []tensorInfo) LayoutPlan
}

// rules are evaluated in order; the first match wins.
var rules = []rule{
	{
		name: "packed-box-confidence",
		match: func(ts []tensorInfo) bool {
			return len(ts) == 1 && ts[0].lastDim() == 5
		},
		build: func([]tensorInfo) LayoutPlan {
			p := emptyPlan("packed-box-confidence")
			p.BoxIndex, p.ConfidenceIndex = 0, 0
			p.BoxOffset, p.ConfidenceOffset = 0, 4
			return p
		},
	},
	{
		name: "detection-output",
		match: func(ts []tensorInfo) bool {
			return len(ts) == 1 && ts[0].lastDim() == 7
		},
		build: func([]tensorInfo) LayoutPlan {
			p := emptyPlan("detection-output")
			p.ImageIDIndex, p.LabelIndex, p.ConfidenceIndex, p.BoxIndex = 0, 0, 0, 0
			p.ImageIDOffset, p.LabelOffset, p.ConfidenceOffset, p.BoxOffset = 0, 1, 2, 3
			return p
		},
	},
	{
		name: "boxes-labels",
		match: func(ts []tensorInfo) bool {
			if len(ts) != 2 || ts[0].lastDim() != 5 {
				return false
			}
			return tensor.SameShape(ts[0].shape[:ts[0].rank()-1], ts[1].shape)
		},
		build: func(ts []tensorInfo) LayoutPlan {
			p := emptyPlan("boxes-labels")
			p.BoxIndex, p.ConfidenceIndex, p.LabelIndex = 0, 0, 1
			p.BoxOffset, p.ConfidenceOffset, p.LabelOffset = 0, 4, 0
			// The label tensor is the box tensor without its field axis, so every axis of the
			// label tensor counts objects in both, batch axes included.
			p.NumObjectsAxis = ts[1].rank() - 1
			return p
		},
	},
	{
		name: "boxes-scores-labels-masks",
		match: func(ts []tensorInfo) bool {
			if len(ts) != 3 && len(ts) != 5 {
				return false
			}
			p, ok := classifyByRank(ts[:3])
			return ok && p.BoxIndex != Absent
		},
		build: func(ts []tensorInfo) LayoutPlan {
			p, _ := classifyByRank(ts[:3])
			return p
		},
	},
}

// classifyByRank assigns a role to each tensor from its rank, element type and last dimension.
//
// Each role is taken by at most one tensor; a second candidate for the same role rejects the
// set. A rank-1 float score tensor takes precedence over the fifth column of a [N,5] box tensor,
// wherever it appears.
func classifyByRank(ts []tensorInfo) (LayoutPlan, bool) {
	p := emptyPlan("boxes-scores-labels-masks")
	p.NumObjectsAxis = 0
	claim := func(dst *int, i int) bool {
		if *dst != Absent {
			return false
		}
		*dst = i
		return true
	}

	packedScores := false
	for i, t := range ts {
		var ok bool
		switch {
		case t.rank() == 1 && t.dtype.IsFloat():
			ok = claim(&p.ConfidenceIndex, i)
		case t.rank() == 1:
			ok = claim(&p.LabelIndex, i)
		case t.rank() == 2:
			ok = claim(&p.BoxIndex, i)
			packedScores = t.lastDim() == 5
		case t.rank() == 3:
			ok = claim(&p.MaskIndex, i)
		}
		if !ok {
			return LayoutPlan{}, false
		}
	}
	if packedScores && p.ConfidenceIndex == Absent {
		p.ConfidenceIndex, p.ConfidenceOffset = p.BoxIndex, 4
	}
	return p, true
}

// RuleNames returns the layout heuristics in evaluation order.
func RuleNames() []string {
	names := make([]string, len(rules))
	for i, r := range rules {
		names[i] = r.name
	}
	return names
}

// Resolve infers the layout plan of a set of output tensors.
//
// Arguments:
//   - outputs: The output tensors in model order.
//
// Returns:
//   - LayoutPlan: The plan of the first matching heuristic.
//   - error: postprocess.ErrUnsupportedLayout when no heuristic matches.
//
// @example
// plan, err := detection.Resolve([]tensor.View{ssdOut}) // detection-output plan for [1,1,200,7]
func Resolve(outputs []tensor.View) (LayoutPlan, error) {
	ts := make([]tensorInfo, len(outputs))
	for i, o := range outputs {
		ts[i] = tensorInfo{shape: o.Shape(), dtype: o.DType()}
	}
	for _, r := range rules {
		if r.match(ts) {
			return r.build(ts), nil
		}
	}
	return LayoutPlan{}, errors.Wrapf(postprocess.ErrUnsupportedLayout,
		"no layout rule matches %s", tensor.ShapeSignature(outputs))
}

// PlanFromParams returns the explicitly declared layout, if any.
//
// A layout is declared when box-index is set to a non-negative value. Unset indices mean the
// role is absent and unset offsets default to 0.
//
// Returns:
//   - LayoutPlan: The declared plan.
//   - bool: False when no layout is declared.
//   - error: postprocess.ErrInvalidConfig for malformed values.
func PlanFromParams(p model.Params) (LayoutPlan, bool, error) {
	box, err := p.Int(model.KeyBoxIndex, Absent)
	if err != nil || box < 0 {
		return LayoutPlan{}, false, err
	}

	plan := emptyPlan("explicit")
	plan.BoxIndex = box

	ints := []struct {
		key string
		dst *int
		def int
	}{
		{model.KeyConfidenceIndex, &plan.ConfidenceIndex, Absent},
		{model.KeyLabelIndex, &plan.LabelIndex, Absent},
		{model.KeyImageIDIndex, &plan.ImageIDIndex, Absent},
		{model.KeyMaskIndex, &plan.MaskIndex, Absent},
		{model.KeyBoxOffset, &plan.BoxOffset, 0},
		{model.KeyConfidenceOff, &plan.ConfidenceOffset, 0},
		{model.KeyLabelOffset, &plan.LabelOffset, 0},
		{model.KeyImageIDOffset, &plan.ImageIDOffset, 0},
	}
	for _, f := range ints {
		v, err := p.Int(f.key, f.def)
		if err != nil {
			return LayoutPlan{}, false, err
		}
		if v < Absent || (f.def == 0 && v < 0) {
			return LayoutPlan{}, false, errors.Wrapf(postprocess.ErrInvalidConfig, "%s: %d", f.key, v)
		}
		*f.dst = v
	}
	return plan, true, nil
}
