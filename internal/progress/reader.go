// Package progress counts bytes flowing through layer downloads.
package progress

import (
	"errors"
	"io"
)

// DefaultStep is the number of bytes between two progress reports.
const DefaultStep = 256 << 10

// Callback receives the cumulative byte count and the expected total
// (-1 if unknown).
type Callback func(transferred, total int64)

// Reader wraps an io.Reader and reports progress every Step bytes and once
// more when the stream ends.
type Reader struct {
	reader   io.Reader
	callback Callback
	total    int64
	step     int64

	read     int64
	reported int64
	done     bool
}

// NewReader creates a progress-tracking reader reporting every DefaultStep
// bytes. A nil callback disables reporting.
func NewReader(r io.Reader, total int64, callback Callback) *Reader {
	return NewReaderStep(r, total, DefaultStep, callback)
}

// NewReaderStep is NewReader with an explicit report interval in bytes.
// A step below 1 reports after every Read.
func NewReaderStep(r io.Reader, total, step int64, callback Callback) *Reader {
	if step < 1 {
		step = 1
	}
	return &Reader{
		reader:   r,
		callback: callback,
		total:    total,
		step:     step,
	}
}

// Read implements io.Reader.
func (r *Reader) Read(p []byte) (int, error) {
	n, err := r.reader.Read(p)
	r.read += int64(n)
	if r.callback == nil || r.done {
		return n, err
	}
	switch {
	case errors.Is(err, io.EOF):
		r.done = true
		r.report()
	case n > 0 && r.read-r.reported >= r.step:
		r.report()
	}
	return n, err
}

func (r *Reader) report() {
	r.reported = r.read
	r.callback(r.read, r.total)
}

// N returns the number of bytes read so far.
func (r *Reader) N() int64 {
	return r.read
}

// Close closes the underlying reader if it implements io.Closer.
func (r *Reader) Close() error {
	if closer, ok := r.reader.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}
