package yolo

import (
	"github.com/nvr-ai/go-tensordecode/models/model"
	"github.com/nvr-ai/go-tensordecode/models/postprocess"
	"github.com/nvr-ai/go-tensordecode/tensor"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Converter configures YOLO decoders from declared parameters and the first seen outputs.
type Converter struct {
	declared Config
	labels   model.Labels
	log      *logrus.Entry
}

// NewConverter reads the YOLO parameters.
//
// Arguments:
//   - params: Declared parameters. version is required.
//   - logger: Logger for configuration and warnings. May be nil.
//
// Returns:
//   - *Converter: The converter.
//   - error: postprocess.ErrInvalidConfig when a parameter is malformed.
//
// @example
// c, err := yolo.NewConverter(model.Params{"version": 3, "labels-file": "coco.names"}, logger)
func NewConverter(params model.Params, logger *logrus.Logger) (*Converter, error) {
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.PanicLevel)
	}
	labels, err := model.LabelsFromParams(params)
	if err != nil {
		return nil, err
	}
	declared, err := FromParams(params, labels)
	if err != nil {
		return nil, err
	}
	return &Converter{
		declared: declared,
		labels:   labels,
		log:      logger.WithField("converter", model.ConverterYOLO),
	}, nil
}

// Name returns the converter name.
func (c *Converter) Name() model.Name { return model.ConverterYOLO }

// Configure resolves the grid configuration against the first seen outputs.
func (c *Converter) Configure(outputs []tensor.View, info model.Info) (model.FrameDecoder, error) {
	var width, height int
	if info != nil {
		width, height, _ = info.InputSize()
	}

	config, err := NewResolver(c.log).Resolve(tensor.Shapes(outputs), c.declared, width, height)
	if err != nil {
		return nil, err
	}

	c.log.WithFields(logrus.Fields{
		"config":    config.String(),
		"softmax":   config.Softmax,
		"sigmoid":   config.Sigmoid,
		"threshold": config.Threshold,
	}).Info("yolo parser created")

	return &Decoder{
		parser:    NewParser(config, c.labels, c.log),
		signature: tensor.ShapeSignature(outputs),
	}, nil
}

// Decoder decodes every output of a YOLO model with one frozen configuration.
type Decoder struct {
	parser    *Parser
	signature string
}

// Config returns the resolved configuration.
func (d *Decoder) Config() Config { return d.parser.Config() }

// Decode parses each output tensor and concatenates their records in output order.
func (d *Decoder) Decode(outputs []tensor.View, _ int) ([]postprocess.Record, error) {
	if sig := tensor.ShapeSignature(outputs); sig != d.signature {
		return nil, errors.Wrapf(postprocess.ErrMalformedOutput, "outputs changed from %s to %s", d.signature, sig)
	}
	var records []postprocess.Record
	for _, v := range outputs {
		r, err := d.parser.Parse(v)
		if err != nil {
			return nil, err
		}
		records = append(records, r...)
	}
	return records, nil
}

// Suppression returns the configured NMS.
func (d *Decoder) Suppression() (postprocess.NMSConfig, bool) {
	c := d.parser.Config()
	return postprocess.NMSConfig{IoUThreshold: c.IoUThreshold, ClassAware: c.ClassAwareNMS}, c.NMS
}

// Reconfigurable reports false: the grid configuration is frozen after the first frame.
func (d *Decoder) Reconfigurable() bool { return false }
