package postprocess

import "github.com/pkg/errors"

// Error taxonomy shared by every decoding path. Errors returned by this module wrap one of these
// sentinels, so callers match them with errors.Is.
var (
	// ErrUnsupportedLayout is returned when no layout rule accepts the output tensors.
	ErrUnsupportedLayout = errors.New("unsupported output layout")
	// ErrMalformedOutput is returned when tensors disagree with the resolved layout or configuration.
	ErrMalformedOutput = errors.New("malformed output")
	// ErrAutoConfigurationFailed is returned when grid parameters cannot be derived or verified.
	ErrAutoConfigurationFailed = errors.New("auto-configuration failed")
	// ErrUnsupportedDType is returned when a role tensor has an element type the decoder cannot read.
	ErrUnsupportedDType = errors.New("unsupported data type")
	// ErrInvalidAnchorIndex is returned when an anchor lookup falls outside the anchors list.
	ErrInvalidAnchorIndex = errors.New("invalid anchor index")
	// ErrInvalidConfig is returned for declared parameters that are malformed or contradictory.
	ErrInvalidConfig = errors.New("invalid configuration")
)
