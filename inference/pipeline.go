// Package inference - Decoding pipeline from model output tensors to detection records.
package inference

import (
	"sync"
	"sync/atomic"

	"github.com/nvr-ai/go-tensordecode/models/model"
	"github.com/nvr-ai/go-tensordecode/models/postprocess"
	"github.com/nvr-ai/go-tensordecode/tensor"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Frame is the output of one completed inference request.
type Frame struct {
	// ID identifies the frame in logs and sinks.
	ID string
	// Outputs are the model output tensors in model order.
	Outputs []tensor.View
	// BatchIndex selects the batch item of the request the frame belongs to.
	BatchIndex int
}

// Stats are the pipeline counters.
type Stats struct {
	Frames     int64 `json:"frames"`
	Detections int64 `json:"detections"`
	Failures   int64 `json:"failures"`
}

// configuration is the Configured state of a pipeline. A failed configuration is final.
type configuration struct {
	decoder   model.FrameDecoder
	signature string
	err       error
}

// Pipeline decodes frames with a converter that is configured lazily by the first frame.
//
// The pipeline starts Unconfigured. The first Process call configures it under a lock; every
// later call reads the frozen configuration without locking. Process is safe for concurrent use.
type Pipeline struct {
	converter model.Converter
	info      model.Info
	sink      Sink
	log       *logrus.Entry

	mu     sync.Mutex
	config atomic.Pointer[configuration]

	frames     atomic.Int64
	detections atomic.Int64
	failures   atomic.Int64
}

// Configured reports whether the first frame has configured the pipeline successfully.
func (p *Pipeline) Configured() bool {
	c := p.config.Load()
	return c != nil && c.err == nil
}

// Stats returns a snapshot of the pipeline counters.
func (p *Pipeline) Stats() Stats {
	return Stats{
		Frames:     p.frames.Load(),
		Detections: p.detections.Load(),
		Failures:   p.failures.Load(),
	}
}

func (p *Pipeline) usable(c *configuration, signature string) bool {
	if c == nil {
		return false
	}
	return c.err != nil || c.signature == signature || !c.decoder.Reconfigurable()
}

// configure returns the configuration for outputs, building it on first use.
func (p *Pipeline) configure(frame Frame) (*configuration, error) {
	signature := tensor.ShapeSignature(frame.Outputs)
	if c := p.config.Load(); p.usable(c, signature) {
		return c, c.err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	current := p.config.Load()
	if p.usable(current, signature) {
		return current, current.err
	}

	log := p.log.WithFields(logrus.Fields{"frame": frame.ID, "outputs": signature})
	decoder, err := p.converter.Configure(frame.Outputs, p.info)
	if err != nil {
		if current == nil {
			log.WithError(err).Error("pipeline configuration failed")
			failed := &configuration{err: errors.Wrap(err, "configure pipeline")}
			p.config.Store(failed)
			return failed, failed.err
		}
		// The previous layout stays in place for frames that still match it.
		log.WithError(err).Error("output layout changed and could not be resolved")
		return nil, errors.Wrap(err, "reconfigure pipeline")
	}

	next := &configuration{decoder: decoder, signature: signature}
	p.config.Store(next)
	if current == nil {
		log.Info("pipeline configured")
	} else {
		log.WithField("previous", current.signature).Info("pipeline reconfigured")
	}
	return next, nil
}

// Process decodes one frame and hands the records to the sink.
//
// Configuration errors are returned for every frame once the first configuration fails.
// Decoding errors affect the current frame only.
//
// Arguments:
//   - frame: The frame to decode.
//
// Returns:
//   - []postprocess.Record: The records of the frame after suppression.
//   - error: On error no records are returned and nothing is sent to the sink.
func (p *Pipeline) Process(frame Frame) ([]postprocess.Record, error) {
	p.frames.Add(1)

	c, err := p.configure(frame)
	if err != nil {
		p.failures.Add(1)
		return nil, err
	}

	records, err := c.decoder.Decode(frame.Outputs, frame.BatchIndex)
	if err != nil {
		p.failures.Add(1)
		p.log.WithFields(logrus.Fields{"frame": frame.ID}).WithError(err).Error("frame decoding failed")
		return nil, errors.Wrapf(err, "decode frame %s", frame.ID)
	}

	if nms, ok := c.decoder.Suppression(); ok {
		records = postprocess.ApplyNMS(records, nms)
	}

	if p.sink != nil {
		if err := p.sink.Attach(frame, p.provenance(), records); err != nil {
			p.failures.Add(1)
			return nil, errors.Wrapf(err, "attach records of frame %s", frame.ID)
		}
	}

	p.detections.Add(int64(len(records)))
	p.log.WithFields(logrus.Fields{"frame": frame.ID, "records": len(records)}).Debug("frame decoded")
	return records, nil
}

func (p *Pipeline) provenance() Provenance {
	if p.info == nil {
		return Provenance{}
	}
	return Provenance{
		ModelName:  p.info.Name(),
		LayerNames: p.info.OutputLayers(),
	}
}
