package inference

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/nvr-ai/go-tensordecode/models"
	"github.com/nvr-ai/go-tensordecode/models/model"
	"github.com/nvr-ai/go-tensordecode/models/postprocess"
	"github.com/nvr-ai/go-tensordecode/tensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingConverter counts Configure calls of the wrapped converter.
type countingConverter struct {
	model.Converter
	calls atomic.Int32
}

func (c *countingConverter) Configure(outputs []tensor.View, info model.Info) (model.FrameDecoder, error) {
	c.calls.Add(1)
	return c.Converter.Configure(outputs, info)
}

type staticDecoder struct {
	records []postprocess.Record
	nms     *postprocess.NMSConfig
	err     error
}

func (d *staticDecoder) Decode([]tensor.View, int) ([]postprocess.Record, error) {
	if d.err != nil {
		return nil, d.err
	}
	return append([]postprocess.Record(nil), d.records...), nil
}

func (d *staticDecoder) Suppression() (postprocess.NMSConfig, bool) {
	if d.nms == nil {
		return postprocess.NMSConfig{}, false
	}
	return *d.nms, true
}

func (d *staticDecoder) Reconfigurable() bool { return false }

type staticConverter struct {
	decoder model.FrameDecoder
	err     error
}

func (c *staticConverter) Name() model.Name { return "static" }

func (c *staticConverter) Configure([]tensor.View, model.Info) (model.FrameDecoder, error) {
	if c.err != nil {
		return nil, c.err
	}
	return c.decoder, nil
}

func ssdFrame(t *testing.T, id string, rows ...[]float32) Frame {
	t.Helper()
	var data []float32
	for _, r := range rows {
		data = append(data, r...)
	}
	v, err := tensor.New(data, 1, 1, len(rows), 7)
	require.NoError(t, err)
	return Frame{ID: id, Outputs: []tensor.View{v}}
}

func detectionConverter(t *testing.T) *countingConverter {
	t.Helper()
	c, err := models.NewConverter(model.ConverterDetection, nil, nil)
	require.NoError(t, err)
	return &countingConverter{Converter: c}
}

func TestPipelineConfiguresOnceUnderConcurrentFrames(t *testing.T) {
	conv := detectionConverter(t)
	pipeline, err := NewBuilder().WithConverter(conv).Build()
	require.NoError(t, err)
	assert.False(t, pipeline.Configured())

	frame := ssdFrame(t, "f", []float32{0, 3, 0.9, 0.1, 0.1, 0.4, 0.4})

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			records, err := pipeline.Process(frame)
			assert.NoError(t, err)
			assert.Len(t, records, 1)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), conv.calls.Load())
	assert.True(t, pipeline.Configured())
	assert.Equal(t, Stats{Frames: 32, Detections: 32}, pipeline.Stats())
}

func TestPipelineConfigurationFailureIsSticky(t *testing.T) {
	conv := &countingConverter{Converter: &staticConverter{err: postprocess.ErrUnsupportedLayout}}
	pipeline := NewBuilder().WithConverter(conv).MustBuild()

	frame := ssdFrame(t, "f", []float32{0, 3, 0.9, 0.1, 0.1, 0.4, 0.4})
	for i := 0; i < 3; i++ {
		records, err := pipeline.Process(frame)
		assert.Nil(t, records)
		assert.True(t, errors.Is(err, postprocess.ErrUnsupportedLayout))
	}

	assert.Equal(t, int32(1), conv.calls.Load())
	assert.False(t, pipeline.Configured())
	assert.Equal(t, int64(3), pipeline.Stats().Failures)
}

func TestPipelineReconfiguresOnLayoutChange(t *testing.T) {
	conv := detectionConverter(t)
	pipeline := NewBuilder().WithConverter(conv).MustBuild()

	row := []float32{0, 3, 0.9, 0.1, 0.1, 0.4, 0.4}
	one := ssdFrame(t, "one", row)
	two := ssdFrame(t, "two", row, []float32{0, 5, 0.8, 0.5, 0.5, 0.9, 0.9})

	records, err := pipeline.Process(one)
	require.NoError(t, err)
	assert.Len(t, records, 1)

	records, err = pipeline.Process(two)
	require.NoError(t, err)
	assert.Len(t, records, 2)
	assert.Equal(t, int32(2), conv.calls.Load())

	t.Run("unresolvable layout fails the frame only", func(t *testing.T) {
		odd, err := tensor.New(make([]float32, 6), 1, 6)
		require.NoError(t, err)

		records, err := pipeline.Process(Frame{ID: "odd", Outputs: []tensor.View{odd}})
		assert.Nil(t, records)
		assert.True(t, errors.Is(err, postprocess.ErrUnsupportedLayout))

		records, err = pipeline.Process(two)
		require.NoError(t, err)
		assert.Len(t, records, 2)
	})
}

func TestPipelineAppliesSuppression(t *testing.T) {
	decoder := &staticDecoder{
		records: []postprocess.Record{
			postprocess.NewRecord(0.1, 0.1, 0.5, 0.5, 0.8, 1, "car"),
			postprocess.NewRecord(0.1, 0.1, 0.52, 0.5, 0.9, 1, "car"),
			postprocess.NewRecord(0.6, 0.6, 0.9, 0.9, 0.7, 1, "car"),
		},
		nms: &postprocess.NMSConfig{IoUThreshold: 0.5},
	}
	pipeline := NewBuilder().WithConverter(&staticConverter{decoder: decoder}).MustBuild()

	records, err := pipeline.Process(Frame{ID: "f"})
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, 0.9, records[0].Confidence)
	assert.Equal(t, 0.7, records[1].Confidence)

	for i := range records {
		for j := i + 1; j < len(records); j++ {
			assert.LessOrEqual(t, records[i].IoU(records[j]), 0.5)
		}
	}
}

func TestPipelineSinkReceivesProvenance(t *testing.T) {
	sink := &CollectingSink{}
	cfg := Config{
		Converter: model.ConverterDetection,
		Model: model.StaticInfo{
			ModelName: "ssd-mobilenet",
			Outputs:   []string{"detection_out"},
		},
		Params: model.Params{model.KeyLabels: []any{"bg", "person", "bike", "car"}},
	}
	pipeline, err := NewBuilder().WithConfig(cfg).WithSink(sink).Build()
	require.NoError(t, err)

	_, err = pipeline.Process(ssdFrame(t, "f1", []float32{0, 3, 0.9, 0.1, 0.1, 0.4, 0.4}))
	require.NoError(t, err)

	got := sink.Attachments()
	require.Len(t, got, 1)
	assert.Equal(t, "f1", got[0].FrameID)
	assert.Equal(t, Provenance{ModelName: "ssd-mobilenet", LayerNames: []string{"detection_out"}}, got[0].Provenance)
	require.Len(t, got[0].Records, 1)
	assert.Equal(t, "car", got[0].Records[0].Label)
}

func TestPipelineFrameErrors(t *testing.T) {
	t.Run("decode", func(t *testing.T) {
		sink := &CollectingSink{}
		decoder := &staticDecoder{err: postprocess.ErrMalformedOutput}
		pipeline := NewBuilder().WithConverter(&staticConverter{decoder: decoder}).WithSink(sink).MustBuild()

		records, err := pipeline.Process(Frame{ID: "f"})
		assert.Nil(t, records)
		assert.True(t, errors.Is(err, postprocess.ErrMalformedOutput))
		assert.Empty(t, sink.Attachments())
		assert.True(t, pipeline.Configured())
	})

	t.Run("sink", func(t *testing.T) {
		failed := errors.New("sink closed")
		decoder := &staticDecoder{records: []postprocess.Record{postprocess.NewRecord(0, 0, 1, 1, 1, 0, "")}}
		pipeline := NewBuilder().
			WithConverter(&staticConverter{decoder: decoder}).
			WithSink(SinkFunc(func(Frame, Provenance, []postprocess.Record) error { return failed })).
			MustBuild()

		records, err := pipeline.Process(Frame{ID: "f"})
		assert.Nil(t, records)
		assert.True(t, errors.Is(err, failed))
		assert.Equal(t, Stats{Frames: 1, Failures: 1}, pipeline.Stats())
	})
}

func TestBuilderErrors(t *testing.T) {
	_, err := NewBuilder().Build()
	assert.Error(t, err)

	_, err = NewBuilder().WithConfig(Config{Converter: "ssd-v9"}).Build()
	assert.True(t, errors.Is(err, postprocess.ErrInvalidConfig))

	_, err = NewBuilder().WithConfig(Config{}).Build()
	assert.True(t, errors.Is(err, postprocess.ErrInvalidConfig))

	assert.Panics(t, func() { NewBuilder().WithConverter(nil).MustBuild() })
}
