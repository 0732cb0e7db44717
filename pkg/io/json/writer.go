// Package json writes pipeline reports as JSON documents.
package json

import (
	"encoding/json"
	"io"

	"github.com/hed1ad/devicescore/pkg/pipeline"
)

// Writer encodes reports as indented JSON.
type Writer struct {
	closer  io.Closer
	encoder *json.Encoder
}

// Option configures a JSON writer.
type Option func(*Writer)

// WithIndent sets the indentation used for nested values; empty disables it.
func WithIndent(indent string) Option {
	return func(w *Writer) {
		w.encoder.SetIndent("", indent)
	}
}

// NewWriter creates a Writer over dst. Close closes dst when it is an io.Closer.
func NewWriter(dst io.Writer, opts ...Option) *Writer {
	w := &Writer{encoder: json.NewEncoder(dst)}
	w.encoder.SetIndent("", "  ")
	if c, ok := dst.(io.Closer); ok {
		w.closer = c
	}

	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Write encodes report.
func (w *Writer) Write(report *pipeline.Report) error {
	return w.encoder.Encode(report)
}

// Close releases resources.
func (w *Writer) Close() error {
	if w.closer != nil {
		return w.closer.Close()
	}
	return nil
}
