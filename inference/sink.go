package inference

import (
	"sync"

	"github.com/nvr-ai/go-tensordecode/models/postprocess"
)

// Provenance identifies the model that produced a set of records.
type Provenance struct {
	ModelName  string   `json:"model" yaml:"model"`
	LayerNames []string `json:"layers,omitempty" yaml:"layers,omitempty"`
}

// Sink receives the records of each decoded frame.
type Sink interface {
	Attach(frame Frame, prov Provenance, records []postprocess.Record) error
}

// SinkFunc adapts a function to a Sink.
type SinkFunc func(frame Frame, prov Provenance, records []postprocess.Record) error

// Attach calls f.
func (f SinkFunc) Attach(frame Frame, prov Provenance, records []postprocess.Record) error {
	return f(frame, prov, records)
}

// Attachment is one frame's worth of records kept by a CollectingSink.
type Attachment struct {
	FrameID    string               `json:"frame"`
	Provenance Provenance           `json:"provenance"`
	Records    []postprocess.Record `json:"records"`
}

// CollectingSink keeps every attachment in memory. It is safe for concurrent use.
type CollectingSink struct {
	mu          sync.Mutex
	attachments []Attachment
}

// Attach stores a copy of the records.
func (s *CollectingSink) Attach(frame Frame, prov Provenance, records []postprocess.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.attachments = append(s.attachments, Attachment{
		FrameID:    frame.ID,
		Provenance: prov,
		Records:    append([]postprocess.Record(nil), records...),
	})
	return nil
}

// Attachments returns the collected attachments in arrival order.
func (s *CollectingSink) Attachments() []Attachment {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]Attachment(nil), s.attachments...)
}
