package detection

import (
	"errors"
	"math"
	"testing"

	"github.com/nvr-ai/go-tensordecode/models/model"
	"github.com/nvr-ai/go-tensordecode/models/postprocess"
	"github.com/nvr-ai/go-tensordecode/tensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func view(t *testing.T, data any, shape ...int) tensor.View {
	t.Helper()
	v, err := tensor.New(data, shape...)
	require.NoError(t, err)
	return v
}

func decode(t *testing.T, params model.Params, info model.Info, outputs ...tensor.View) ([]postprocess.Record, error) {
	t.Helper()
	c, err := NewConverter(params, nil)
	require.NoError(t, err)
	d, err := c.Configure(outputs, info)
	if err != nil {
		return nil, err
	}
	return d.Decode(outputs, 0)
}

func TestRuleOrder(t *testing.T) {
	assert.Equal(t, []string{
		"packed-box-confidence",
		"detection-output",
		"boxes-labels",
		"boxes-scores-labels-masks",
	}, RuleNames())
}

func TestResolve(t *testing.T) {
	tests := []struct {
		name    string
		outputs []tensor.View
		rule    string
		check   func(t *testing.T, p LayoutPlan)
		wantErr error
	}{
		{
			name:    "packed box and confidence",
			outputs: []tensor.View{view(t, make([]float32, 10), 2, 5)},
			rule:    "packed-box-confidence",
			check: func(t *testing.T, p LayoutPlan) {
				assert.Equal(t, 4, p.ConfidenceOffset)
				assert.Equal(t, Absent, p.LabelIndex)
				assert.Equal(t, Absent, p.ImageIDIndex)
			},
		},
		{
			name:    "detection output",
			outputs: []tensor.View{view(t, make([]float32, 14), 1, 1, 2, 7)},
			rule:    "detection-output",
			check: func(t *testing.T, p LayoutPlan) {
				assert.Equal(t, 3, p.BoxOffset)
				assert.Equal(t, 2, p.ConfidenceOffset)
				assert.Equal(t, 1, p.LabelOffset)
				assert.Equal(t, 0, p.ImageIDOffset)
			},
		},
		{
			name: "boxes and labels",
			outputs: []tensor.View{
				view(t, make([]float32, 15), 1, 3, 5),
				view(t, make([]int64, 3), 1, 3),
			},
			rule: "boxes-labels",
			check: func(t *testing.T, p LayoutPlan) {
				assert.Equal(t, 1, p.LabelIndex)
				assert.Equal(t, 1, p.NumObjectsAxis)
			},
		},
		{
			name: "boxes, labels and masks",
			outputs: []tensor.View{
				view(t, make([]int64, 2), 2),
				view(t, make([]float32, 10), 2, 5),
				view(t, make([]float32, 8), 2, 2, 2),
			},
			rule: "boxes-scores-labels-masks",
			check: func(t *testing.T, p LayoutPlan) {
				assert.Equal(t, 0, p.LabelIndex)
				assert.Equal(t, 1, p.BoxIndex)
				assert.Equal(t, 1, p.ConfidenceIndex)
				assert.Equal(t, 2, p.MaskIndex)
				assert.Equal(t, 0, p.NumObjectsAxis)
			},
		},
		{
			name: "boxes and separate scores",
			outputs: []tensor.View{
				view(t, make([]float32, 8), 2, 4),
				view(t, make([]float32, 2), 2),
				view(t, make([]int32, 2), 2),
				view(t, make([]float32, 1), 1),
				view(t, make([]float32, 1), 1),
			},
			rule: "boxes-scores-labels-masks",
			check: func(t *testing.T, p LayoutPlan) {
				assert.Equal(t, 0, p.BoxIndex)
				assert.Equal(t, 1, p.ConfidenceIndex)
				assert.Equal(t, 0, p.ConfidenceOffset)
				assert.Equal(t, 2, p.LabelIndex)
				assert.Equal(t, Absent, p.MaskIndex)
			},
		},
		{
			name: "separate scores win over the packed column",
			outputs: []tensor.View{
				view(t, make([]float32, 10), 2, 5),
				view(t, make([]float32, 2), 2),
				view(t, make([]int64, 2), 2),
			},
			rule: "boxes-scores-labels-masks",
			check: func(t *testing.T, p LayoutPlan) {
				assert.Equal(t, 0, p.BoxIndex)
				assert.Equal(t, 1, p.ConfidenceIndex)
				assert.Equal(t, 0, p.ConfidenceOffset)
			},
		},
		{
			name: "separate scores before the packed boxes",
			outputs: []tensor.View{
				view(t, make([]float32, 2), 2),
				view(t, make([]float32, 10), 2, 5),
				view(t, make([]int64, 2), 2),
			},
			rule: "boxes-scores-labels-masks",
			check: func(t *testing.T, p LayoutPlan) {
				assert.Equal(t, 1, p.BoxIndex)
				assert.Equal(t, 0, p.ConfidenceIndex)
				assert.Equal(t, 0, p.ConfidenceOffset)
			},
		},
		{
			name: "two box tensors",
			outputs: []tensor.View{
				view(t, make([]float32, 8), 2, 4),
				view(t, make([]float32, 8), 2, 4),
				view(t, make([]int64, 2), 2),
			},
			wantErr: postprocess.ErrUnsupportedLayout,
		},
		{
			name: "two score tensors",
			outputs: []tensor.View{
				view(t, make([]float32, 8), 2, 4),
				view(t, make([]float32, 2), 2),
				view(t, make([]float32, 2), 2),
			},
			wantErr: postprocess.ErrUnsupportedLayout,
		},
		{
			name: "four tensors",
			outputs: []tensor.View{
				view(t, make([]float32, 4), 4),
				view(t, make([]float32, 4), 4),
				view(t, make([]float32, 4), 4),
				view(t, make([]float32, 4), 4),
			},
			wantErr: postprocess.ErrUnsupportedLayout,
		},
		{
			name: "two tensors with mismatched shapes",
			outputs: []tensor.View{
				view(t, make([]float32, 15), 1, 3, 5),
				view(t, make([]int64, 4), 1, 4),
			},
			wantErr: postprocess.ErrUnsupportedLayout,
		},
		{
			name: "three tensors of rank four",
			outputs: []tensor.View{
				view(t, make([]float32, 1), 1, 1, 1, 1),
				view(t, make([]float32, 1), 1, 1, 1, 1),
				view(t, make([]float32, 1), 1, 1, 1, 1),
			},
			wantErr: postprocess.ErrUnsupportedLayout,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := Resolve(tt.outputs)
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.rule, p.Rule)
			tt.check(t, p)
		})
	}
}

func TestDecodeDetectionOutput(t *testing.T) {
	t.Run("row above threshold", func(t *testing.T) {
		out := view(t, []float32{0, 3, 0.9, 0.1, 0.2, 0.3, 0.4}, 1, 1, 1, 7)
		records, err := decode(t, model.Params{model.KeyThreshold: 0.5}, nil, out)
		require.NoError(t, err)
		require.Len(t, records, 1)

		r := records[0]
		assert.Equal(t, 3, r.LabelID)
		assert.InDelta(t, 0.9, r.Confidence, 1e-6)
		assert.InDelta(t, 0.1, r.XMin, 1e-6)
		assert.InDelta(t, 0.2, r.YMin, 1e-6)
		assert.InDelta(t, 0.3, r.XMax, 1e-6)
		assert.InDelta(t, 0.4, r.YMax, 1e-6)
		assert.Empty(t, r.Label)
	})

	t.Run("row below threshold", func(t *testing.T) {
		out := view(t, []float32{0, 3, 0.3, 0.1, 0.2, 0.3, 0.4}, 1, 1, 1, 7)
		records, err := decode(t, model.Params{model.KeyThreshold: 0.5}, nil, out)
		require.NoError(t, err)
		assert.Empty(t, records)
	})

	t.Run("label text", func(t *testing.T) {
		out := view(t, []float32{0, 1, 0.9, 0.1, 0.2, 0.3, 0.4}, 1, 7)
		records, err := decode(t, model.Params{model.KeyLabels: []any{"background", "person"}}, nil, out)
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.Equal(t, "person", records[0].Label)
	})

	t.Run("batch isolation and end sentinel", func(t *testing.T) {
		out := view(t, []float32{
			0, 1, 0.9, 0.1, 0.1, 0.2, 0.2,
			1, 2, 0.9, 0.3, 0.3, 0.4, 0.4,
			0, 3, 0.8, 0.5, 0.5, 0.6, 0.6,
			-1, 0, 0, 0, 0, 0, 0,
			0, 4, 0.9, 0.7, 0.7, 0.8, 0.8,
		}, 1, 1, 5, 7)

		c, err := NewConverter(model.Params{}, nil)
		require.NoError(t, err)
		d, err := c.Configure([]tensor.View{out}, nil)
		require.NoError(t, err)

		batch0, err := d.Decode([]tensor.View{out}, 0)
		require.NoError(t, err)
		require.Len(t, batch0, 2)
		assert.Equal(t, 1, batch0[0].LabelID)
		assert.Equal(t, 3, batch0[1].LabelID)

		batch1, err := d.Decode([]tensor.View{out}, 1)
		require.NoError(t, err)
		require.Len(t, batch1, 1)
		assert.Equal(t, 2, batch1[0].LabelID)
	})

	t.Run("idempotent", func(t *testing.T) {
		out := view(t, []float32{0, 3, 0.9, 0.1, 0.2, 0.3, 0.4}, 1, 7)
		a, err := decode(t, model.Params{}, nil, out)
		require.NoError(t, err)
		b, err := decode(t, model.Params{}, nil, out)
		require.NoError(t, err)
		assert.Equal(t, a, b)
	})
}

func TestDecodeNormalizedLimit(t *testing.T) {
	info := model.StaticInfo{ModelName: "ssd", Width: 100, Height: 200}

	t.Run("just below the limit is normalized", func(t *testing.T) {
		out := view(t, []float32{0.1, 0.1, 1.999, 1.999, 0.9}, 1, 5)
		records, err := decode(t, model.Params{}, info, out)
		require.NoError(t, err)
		require.Len(t, records, 1)
		// Clamped, not divided by the input size.
		assert.InDelta(t, 1, records[0].XMax, 1e-9)
		assert.InDelta(t, 0.1, records[0].XMin, 1e-6)
	})

	t.Run("at the limit is absolute", func(t *testing.T) {
		out := view(t, []float32{0.5, 0.5, 2, 1.5, 0.9}, 1, 5)
		records, err := decode(t, model.Params{}, info, out)
		require.NoError(t, err)
		require.Len(t, records, 1)
		r := records[0]
		assert.InDelta(t, 0.005, r.XMin, 1e-6)
		assert.InDelta(t, 0.0025, r.YMin, 1e-6)
		assert.InDelta(t, 0.02, r.XMax, 1e-6)
		assert.InDelta(t, 0.0075, r.YMax, 1e-6)
	})

	t.Run("absolute without input size", func(t *testing.T) {
		out := view(t, []float32{10, 20, 30, 40, 0.9}, 1, 5)
		_, err := decode(t, model.Params{}, nil, out)
		assert.True(t, errors.Is(err, postprocess.ErrMalformedOutput))
	})
}

func TestDecodeBoxesLabels(t *testing.T) {
	boxes := view(t, []float32{
		0.1, 0.1, 0.2, 0.2, 0.9,
		0.3, 0.3, 0.4, 0.4, 0.2,
		0.5, 0.5, 0.6, 0.6, 0.7,
	}, 1, 3, 5)
	labels := view(t, []int64{5, 6, 7}, 1, 3)

	records, err := decode(t, model.Params{}, nil, boxes, labels)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, 5, records[0].LabelID)
	assert.Equal(t, 7, records[1].LabelID)
	for _, r := range records {
		assert.GreaterOrEqual(t, r.Confidence, 0.5)
	}
}

func TestDecodeBatchedBoxesLabels(t *testing.T) {
	boxes := view(t, []float32{
		0.1, 0.1, 0.2, 0.2, 0.9,
		0.3, 0.3, 0.4, 0.4, 0.8,
		0.5, 0.5, 0.6, 0.6, 0.7,
		0.7, 0.7, 0.8, 0.8, 0.6,
	}, 2, 2, 5)
	labels := view(t, []int64{1, 2, 3, 4}, 2, 2)

	records, err := decode(t, model.Params{}, nil, boxes, labels)
	require.NoError(t, err)
	require.Len(t, records, 4)
	for i, r := range records {
		assert.Equal(t, i+1, r.LabelID)
	}
	assert.InDelta(t, 0.7, records[3].XMin, 1e-6)
}

func TestDecodeNonFiniteValues(t *testing.T) {
	nan := float32(math.NaN())
	inf := float32(math.Inf(1))

	t.Run("confidence not a number is dropped", func(t *testing.T) {
		out := view(t, []float32{0, 3, nan, nan, 0.2, 0.3, 0.4}, 1, 1, 1, 7)
		records, err := decode(t, model.Params{model.KeyThreshold: 0.5}, nil, out)
		require.NoError(t, err)
		assert.Empty(t, records)
	})

	t.Run("box not a number", func(t *testing.T) {
		out := view(t, []float32{0, 3, 0.9, nan, 0.2, 0.3, 0.4}, 1, 1, 1, 7)
		records, err := decode(t, model.Params{model.KeyThreshold: 0.5}, nil, out)
		assert.Nil(t, records)
		assert.True(t, errors.Is(err, postprocess.ErrMalformedOutput), "got %v", err)
	})

	t.Run("infinite box", func(t *testing.T) {
		info := model.StaticInfo{ModelName: "ssd", Width: 100, Height: 100}
		out := view(t, []float32{0.1, 0.1, inf, 0.5, 0.9}, 1, 5)
		records, err := decode(t, model.Params{}, info, out)
		assert.Nil(t, records)
		assert.True(t, errors.Is(err, postprocess.ErrMalformedOutput), "got %v", err)
	})
}

func TestDecodeWithMasks(t *testing.T) {
	labels := view(t, []int32{1, 2}, 2)
	boxes := view(t, []float32{
		0.1, 0.1, 0.2, 0.2, 0.9,
		0.3, 0.3, 0.4, 0.4, 0.8,
	}, 2, 5)
	masks := view(t, []float32{1, 1, 1, 1, 2, 2, 2, 2}, 2, 2, 2)
	info := model.StaticInfo{Outputs: []string{"labels", "boxes", "masks"}}

	records, err := decode(t, model.Params{}, info, labels, boxes, masks)
	require.NoError(t, err)
	require.Len(t, records, 2)

	m := records[1].Mask
	require.NotNil(t, m)
	assert.Equal(t, "masks", m.LayerName)
	assert.Equal(t, postprocess.MaskFormat, m.Format)
	assert.Equal(t, []int{1, 2, 2}, m.Data.Shape())
	x, err := m.Data.Float32At(0, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, float32(2), x)
}

func TestDecodeErrors(t *testing.T) {
	t.Run("unsupported label type", func(t *testing.T) {
		boxes := view(t, []float32{0.1, 0.1, 0.2, 0.2, 0.9}, 1, 5)
		labels := view(t, []uint8{1}, 1)
		_, err := decode(t, model.Params{}, nil, boxes, labels)
		assert.True(t, errors.Is(err, postprocess.ErrUnsupportedDType), "got %v", err)
	})

	t.Run("object count mismatch", func(t *testing.T) {
		labels := view(t, []int64{1, 2, 3}, 3)
		boxes := view(t, make([]float32, 10), 2, 5)
		masks := view(t, make([]float32, 8), 2, 2, 2)
		_, err := decode(t, model.Params{}, nil, labels, boxes, masks)
		assert.True(t, errors.Is(err, postprocess.ErrMalformedOutput), "got %v", err)
	})

	t.Run("index beyond outputs", func(t *testing.T) {
		out := view(t, make([]float32, 7), 1, 7)
		_, err := decode(t, model.Params{model.KeyBoxIndex: 0, model.KeyLabelIndex: 3}, nil, out)
		assert.True(t, errors.Is(err, postprocess.ErrMalformedOutput), "got %v", err)
	})

	t.Run("no rule", func(t *testing.T) {
		out := view(t, make([]float32, 6), 1, 6)
		_, err := decode(t, model.Params{}, nil, out)
		assert.True(t, errors.Is(err, postprocess.ErrUnsupportedLayout), "got %v", err)
	})
}

func TestExplicitPlan(t *testing.T) {
	// Rows of [x_min, y_min, x_max, y_max, label, score].
	out := view(t, []float32{
		0.1, 0.2, 0.3, 0.4, 2, 0.95,
		0.5, 0.5, 0.6, 0.6, 1, 0.1,
	}, 2, 6)

	params := model.Params{
		model.KeyBoxIndex:        0,
		model.KeyConfidenceIndex: 0,
		model.KeyConfidenceOff:   5,
		model.KeyLabelIndex:      0,
		model.KeyLabelOffset:     4,
	}
	plan, ok, err := PlanFromParams(params)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 0, plan.BoxOffset)
	assert.Equal(t, Absent, plan.ImageIDIndex)

	records, err := decode(t, params, nil, out)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, 2, records[0].LabelID)
	assert.InDelta(t, 0.95, records[0].Confidence, 1e-6)

	_, ok, err = PlanFromParams(model.Params{})
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, err = PlanFromParams(model.Params{model.KeyBoxIndex: 0, model.KeyBoxOffset: -2})
	assert.True(t, errors.Is(err, postprocess.ErrInvalidConfig))
}
