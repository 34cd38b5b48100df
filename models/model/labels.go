package model

import (
	"bufio"
	"os"
	"strings"

	"github.com/nvr-ai/go-tensordecode/models/postprocess"
	"github.com/pkg/errors"
)

// Labels maps class indices to class names.
type Labels []string

// Lookup returns the name of class id.
//
// Returns:
//   - string: The class name, empty when id is outside the table.
//   - bool: True when id is inside the table.
func (l Labels) Lookup(id int) (string, bool) {
	if id < 0 || id >= len(l) {
		return "", false
	}
	return l[id], true
}

// LoadLabelsFile reads a labels file with one class name per line.
//
// Surrounding whitespace is trimmed and blank lines are skipped.
//
// Arguments:
//   - path: Path to the labels file.
//
// Returns:
//   - Labels: The class names in file order.
//   - error: An error if the file cannot be read.
//
// @example
// labels, err := model.LoadLabelsFile("coco.names")
func LoadLabelsFile(path string) (Labels, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open labels file %s", path)
	}
	defer f.Close()

	var labels Labels
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		labels = append(labels, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "read labels file %s", path)
	}
	return labels, nil
}

// LabelsFromParams returns the labels declared inline, through a labels file or by naming a
// built-in label set.
//
// Declaring more than one of labels, labels-file and label-set is a configuration error.
func LabelsFromParams(p Params) (Labels, error) {
	declared := 0
	for _, key := range []string{KeyLabels, KeyLabelsFile, KeyLabelSet} {
		if p.Has(key) {
			declared++
		}
	}
	if declared > 1 {
		return nil, errors.Wrapf(postprocess.ErrInvalidConfig,
			"%s, %s and %s are mutually exclusive", KeyLabels, KeyLabelsFile, KeyLabelSet)
	}

	switch {
	case p.Has(KeyLabelsFile):
		v, ok := p[KeyLabelsFile].(string)
		if !ok || v == "" {
			return nil, errors.Wrapf(postprocess.ErrInvalidConfig, "%s must be a path", KeyLabelsFile)
		}
		return LoadLabelsFile(v)
	case p.Has(KeyLabelSet):
		v, ok := p[KeyLabelSet].(string)
		if !ok {
			return nil, errors.Wrapf(postprocess.ErrInvalidConfig, "%s must be a name", KeyLabelSet)
		}
		return LabelSet(v).Labels()
	}

	labels, err := p.Strings(KeyLabels)
	if err != nil {
		return nil, err
	}
	return Labels(labels), nil
}
