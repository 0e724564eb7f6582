// Package export writes decoded records to NDJSON and Parquet files.
package export

import (
	"encoding/json"
	"io"
	"sync"

	"example.com/uploadcore/internal/records"
)

type flusher interface {
	Flush() error
}

// NDJSONWriter streams newline-delimited JSON objects to the underlying writer.
type NDJSONWriter struct {
	mu      sync.Mutex
	writer  io.Writer
	flusher flusher
	count   int
}

// NewNDJSONWriter wraps w. If w has a Flush method, such as a bufio.Writer,
// it is flushed after every object.
func NewNDJSONWriter(w io.Writer) *NDJSONWriter {
	var f flusher
	if fl, ok := w.(flusher); ok {
		f = fl
	}
	return &NDJSONWriter{writer: w, flusher: f}
}

// WriteObject marshals v and writes it followed by a newline.
func (w *NDJSONWriter) WriteObject(v any) error {
	if w == nil {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	data = append(data, '\n')
	if _, err := w.writer.Write(data); err != nil {
		return err
	}
	w.count++
	if w.flusher != nil {
		return w.flusher.Flush()
	}
	return nil
}

func (w *NDJSONWriter) WriteRecords(recs []records.Record) error {
	for _, r := range recs {
		if err := w.WriteObject(r); err != nil {
			return err
		}
	}
	return nil
}

// Count is the number of objects written.
func (w *NDJSONWriter) Count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.count
}
