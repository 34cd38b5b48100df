package detection

import (
	"github.com/nvr-ai/go-tensordecode/models/model"
	"github.com/nvr-ai/go-tensordecode/tensor"
	"github.com/sirupsen/logrus"
)

// Converter configures generic detection decoders from declared parameters.
type Converter struct {
	labels    model.Labels
	threshold float64
	explicit  *LayoutPlan
	log       *logrus.Entry
}

// NewConverter reads the generic converter parameters.
//
// Arguments:
//   - params: Declared parameters: labels or labels-file, threshold and optional index/offset overrides.
//   - logger: Logger for configuration and tracing. May be nil.
//
// Returns:
//   - *Converter: The converter.
//   - error: postprocess.ErrInvalidConfig when a parameter is malformed.
func NewConverter(params model.Params, logger *logrus.Logger) (*Converter, error) {
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.PanicLevel)
	}

	labels, err := model.LabelsFromParams(params)
	if err != nil {
		return nil, err
	}
	threshold, err := params.Threshold(model.KeyThreshold, model.DefaultThreshold)
	if err != nil {
		return nil, err
	}

	c := &Converter{
		labels:    labels,
		threshold: threshold,
		log:       logger.WithField("converter", model.ConverterDetection),
	}

	plan, ok, err := PlanFromParams(params)
	if err != nil {
		return nil, err
	}
	if ok {
		c.explicit = &plan
	}
	return c, nil
}

// Name returns the converter name.
func (c *Converter) Name() model.Name { return model.ConverterDetection }

// Configure returns a decoder for the declared layout, or for the layout inferred from outputs.
func (c *Converter) Configure(outputs []tensor.View, info model.Info) (model.FrameDecoder, error) {
	if c.explicit != nil {
		c.log.WithField("plan", c.explicit.String()).Info("using declared output layout")
		return NewDecoder(*c.explicit, c.labels, c.threshold, info, c.log), nil
	}

	plan, err := Resolve(outputs)
	if err != nil {
		return nil, err
	}
	c.log.WithFields(logrus.Fields{
		"plan":    plan.String(),
		"outputs": tensor.ShapeSignature(outputs),
	}).Info("resolved output layout")

	d := NewDecoder(plan, c.labels, c.threshold, info, c.log)
	d.reconfigurable = true
	return d, nil
}
