// Package inference - Fluent construction of decoding pipelines.
package inference

import (
	"github.com/nvr-ai/go-tensordecode/models"
	"github.com/nvr-ai/go-tensordecode/models/model"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Builder builds pipelines with a fluent API.
type Builder struct {
	config    *Config
	converter model.Converter
	info      model.Info
	sink      Sink
	logger    *logrus.Logger
	err       error
}

// NewBuilder creates a new pipeline builder.
//
// Returns:
//   - *Builder: The pipeline builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// WithConfig sets the converter and the model description from a configuration.
//
// Arguments:
//   - cfg: The pipeline configuration.
//
// Returns:
//   - *Builder: The pipeline builder.
func (b *Builder) WithConfig(cfg Config) *Builder {
	if b.HasError() {
		return b
	}
	if err := cfg.Validate(); err != nil {
		b.err = err
		return b
	}
	b.config = &cfg
	if b.info == nil {
		b.info = cfg.Model
	}
	return b
}

// WithConverter sets a converter directly instead of creating one from the configuration.
//
// Arguments:
//   - c: The converter.
//
// Returns:
//   - *Builder: The pipeline builder.
func (b *Builder) WithConverter(c model.Converter) *Builder {
	if b.HasError() {
		return b
	}
	if c == nil {
		b.err = errors.New("nil converter")
		return b
	}
	b.converter = c
	return b
}

// WithModelInfo sets the model description, overriding the one from the configuration.
//
// Arguments:
//   - info: The model description.
//
// Returns:
//   - *Builder: The pipeline builder.
func (b *Builder) WithModelInfo(info model.Info) *Builder {
	if b.HasError() {
		return b
	}
	b.info = info
	return b
}

// WithSink sets the sink that receives decoded records.
func (b *Builder) WithSink(s Sink) *Builder {
	if b.HasError() {
		return b
	}
	b.sink = s
	return b
}

// WithLogger sets the logger. Without one the pipeline logs nothing.
func (b *Builder) WithLogger(l *logrus.Logger) *Builder {
	if b.HasError() {
		return b
	}
	b.logger = l
	return b
}

// HasError checks if the builder has errors.
//
// Returns:
//   - bool: True if there are errors, false otherwise.
func (b *Builder) HasError() bool {
	return b.err != nil
}

// MustBuild builds the pipeline and panics if there is an error.
//
// Returns:
//   - *Pipeline: The pipeline.
func (b *Builder) MustBuild() *Pipeline {
	p, err := b.Build()
	if err != nil {
		panic(err)
	}
	return p
}

// Build builds the pipeline. The pipeline configures itself on its first frame.
//
// Returns:
//   - *Pipeline: The pipeline.
//   - error: The error if any.
func (b *Builder) Build() (*Pipeline, error) {
	if b.HasError() {
		return nil, b.err
	}

	logger := b.logger
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.PanicLevel)
	}

	converter := b.converter
	if converter == nil {
		if b.config == nil {
			return nil, errors.New("converter not configured")
		}
		c, err := models.NewConverter(b.config.Converter, b.config.Params, logger)
		if err != nil {
			return nil, errors.Wrap(err, "create converter")
		}
		converter = c
	}

	fields := logrus.Fields{"converter": converter.Name()}
	if b.info != nil {
		fields["model"] = b.info.Name()
	}

	return &Pipeline{
		converter: converter,
		info:      b.info,
		sink:      b.sink,
		log:       logger.WithFields(fields),
	}, nil
}
