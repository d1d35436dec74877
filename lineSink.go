package tracelog

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/gzip"
)

// LineSinkOptions are used to customize a LineSink.
type LineSinkOptions struct {

	// Gzip compresses the output stream.
	Gzip bool `koanf:"gzip" yaml:"gzip"`

	// GzipLevel is the compression level, from gzip.HuffmanOnly (-2) to
	// gzip.BestCompression (9). The default, 0, is gzip.DefaultCompression.
	GzipLevel int `koanf:"gzip_level" yaml:"gzip_level" validate:"gte=-2,lte=9"`
}

// LineSink serializes writes of whole lines to an io.Writer, so records
// written from concurrent goroutines never interleave.
type LineSink struct {
	mu  sync.Mutex
	dst io.Writer
	w   io.Writer
	gz  *gzip.Writer
}

// NewLineSink returns a LineSink writing to w. The sink owns w: Close closes
// it if it is an io.Closer. Wrap writers that must stay open, such as
// os.Stdout, to hide their Close method:
//
//	out, err := tracelog.NewLineSink(struct{ io.Writer }{os.Stdout}, opts)
func NewLineSink(w io.Writer, opts *LineSinkOptions) (*LineSink, error) {
	if w == nil {
		return nil, errors.New("valid io.Writer required")
	}

	s := &LineSink{dst: w, w: w}
	if opts == nil || !opts.Gzip {
		return s, nil
	}

	level := opts.GzipLevel
	if level == 0 {
		level = gzip.DefaultCompression
	}
	gz, err := gzip.NewWriterLevel(w, level)
	if err != nil {
		return nil, fmt.Errorf("failed to create gzip writer: %w", err)
	}
	s.gz, s.w = gz, gz
	return s, nil
}

// Write writes p in a single call to the underlying writer. p is expected to
// hold whole lines.
func (s *LineSink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

// Flush flushes compressed data to the underlying writer. It is a no-op
// without compression.
func (s *LineSink) Flush() error {
	if s.gz == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gz.Flush()
}

// Close flushes and closes the compressor, if any, and then closes the
// underlying writer if it is an io.Closer.
func (s *LineSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var err error
	if s.gz != nil {
		err = s.gz.Close()
	}
	if c, ok := s.dst.(io.Closer); ok {
		err = errors.Join(err, c.Close())
	}
	return err
}
