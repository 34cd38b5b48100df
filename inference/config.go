package inference

import (
	"os"

	"github.com/nvr-ai/go-tensordecode/models/model"
	"github.com/nvr-ai/go-tensordecode/models/postprocess"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config declares a decoding pipeline.
type Config struct {
	// Converter selects the output converter.
	Converter model.Name `json:"converter" yaml:"converter"`
	// Model describes the model whose outputs are decoded.
	Model model.StaticInfo `json:"model" yaml:"model"`
	// Params are the converter parameters.
	Params model.Params `json:"params" yaml:"params"`
}

// Validate checks the fields every converter needs.
func (c Config) Validate() error {
	if c.Converter == "" {
		return errors.Wrap(postprocess.ErrInvalidConfig, "converter is required")
	}
	if c.Model.Width < 0 || c.Model.Height < 0 {
		return errors.Wrapf(postprocess.ErrInvalidConfig, "negative model input size %dx%d", c.Model.Width, c.Model.Height)
	}
	return nil
}

// LoadConfig reads a pipeline configuration from a YAML or JSON file.
//
// Arguments:
//   - path: The configuration file.
//
// Returns:
//   - Config: The validated configuration.
//   - error: The error if any.
//
// @example
// cfg, err := inference.LoadConfig("configs/ssd.yaml")
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrapf(err, "read config %s", path)
	}

	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Config{}, errors.Wrapf(postprocess.ErrInvalidConfig, "parse config %s: %v", path, err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, errors.Wrapf(err, "config %s", path)
	}
	return c, nil
}
