// Package models - registry for output converters.
package models

import (
	"github.com/nvr-ai/go-tensordecode/models/detection"
	"github.com/nvr-ai/go-tensordecode/models/model"
	"github.com/nvr-ai/go-tensordecode/models/postprocess"
	"github.com/nvr-ai/go-tensordecode/models/yolo"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Names returns the registered converter names.
func Names() []model.Name {
	return []model.Name{model.ConverterDetection, model.ConverterYOLO}
}

// NewConverter creates an output converter by name.
//
// This factory is the single place converter names are mapped to implementations, so callers
// configure a pipeline from a name and a parameter map alone.
//
// Arguments:
//   - name: The converter name.
//   - params: Declared converter parameters.
//   - logger: Logger passed to the converter. May be nil.
//
// Returns:
//   - model.Converter: The converter.
//   - error: postprocess.ErrInvalidConfig for unknown names or malformed parameters.
//
// Example:
//
// ```go
//
//	c, err := models.NewConverter(model.ConverterYOLO, model.Params{"version": 4}, logger)
//	if err != nil {
//	    log.Fatalf("Failed to create converter: %v", err)
//	}
//
// ```
func NewConverter(name model.Name, params model.Params, logger *logrus.Logger) (model.Converter, error) {
	if params == nil {
		params = model.Params{}
	}
	switch name {
	case model.ConverterDetection:
		c, err := detection.NewConverter(params, logger)
		if err != nil {
			return nil, err
		}
		return c, nil
	case model.ConverterYOLO:
		c, err := yolo.NewConverter(params, logger)
		if err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, errors.Wrapf(postprocess.ErrInvalidConfig, "unsupported converter name: %q", name)
	}
}
