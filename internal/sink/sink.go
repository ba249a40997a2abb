// Package sink writes rendered events as lines into an optionally
// compressed stream.
package sink

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression names a stream codec.
type Compression string

const (
	CompressionNone Compression = "none"
	CompressionGzip Compression = "gzip"
	CompressionZstd Compression = "zstd"
	CompressionLZ4  Compression = "lz4"
)

// ParseCompression parses a codec name. An empty name means no compression.
func ParseCompression(name string) (Compression, error) {
	switch c := Compression(name); c {
	case "":
		return CompressionNone, nil
	case CompressionNone, CompressionGzip, CompressionZstd, CompressionLZ4:
		return c, nil
	default:
		return "", fmt.Errorf("unknown compression %q (valid: gzip, zstd, lz4, none)", name)
	}
}

// Ext returns the file name suffix conventionally used for c.
func (c Compression) Ext() string {
	switch c {
	case CompressionGzip:
		return ".gz"
	case CompressionZstd:
		return ".zst"
	case CompressionLZ4:
		return ".lz4"
	}
	return ""
}

func newEncoder(w io.Writer, c Compression) (io.WriteCloser, error) {
	switch c {
	case CompressionNone:
		return nil, nil
	case CompressionGzip:
		return gzip.NewWriterLevel(w, gzip.DefaultCompression)
	case CompressionZstd:
		return zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	case CompressionLZ4:
		return lz4.NewWriter(w), nil
	}
	return nil, fmt.Errorf("unsupported compression %q", c)
}

// Sink is a line writer safe for concurrent use. Lines are never
// interleaved.
type Sink struct {
	mu    sync.Mutex
	buf   *bufio.Writer
	enc   io.WriteCloser
	file  io.Closer
	lines int64
	bytes int64
	err   error
}

// New returns a sink writing to w through codec c. Closing the sink does not
// close w.
func New(w io.Writer, c Compression) (*Sink, error) {
	enc, err := newEncoder(w, c)
	if err != nil {
		return nil, err
	}
	s := &Sink{enc: enc}
	if enc != nil {
		s.buf = bufio.NewWriterSize(enc, 64<<10)
	} else {
		s.buf = bufio.NewWriterSize(w, 64<<10)
	}
	return s, nil
}

// Create opens path for writing, "-" meaning stdout, and returns a sink over
// it. The file is closed with the sink.
func Create(path string, c Compression) (*Sink, error) {
	if path == "-" {
		return New(os.Stdout, c)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create output %s: %w", path, err)
	}
	s, err := New(f, c)
	if err != nil {
		f.Close()
		return nil, err
	}
	s.file = f
	return s, nil
}

// WriteLine appends line and a newline. After the first write error every
// later call returns it.
func (s *Sink) WriteLine(line string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	n, err := s.buf.WriteString(line)
	if err == nil {
		err = s.buf.WriteByte('\n')
		n++
	}
	if err != nil {
		s.err = fmt.Errorf("write output: %w", err)
		return s.err
	}
	s.lines++
	s.bytes += int64(n)
	return nil
}

// Lines returns the number of lines written.
func (s *Sink) Lines() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lines
}

// Bytes returns the uncompressed size written.
func (s *Sink) Bytes() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bytes
}

// Close flushes buffered lines, finishes the compressed stream and closes the
// file opened by Create.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	if s.err == nil {
		errs = append(errs, s.buf.Flush())
	}
	if s.enc != nil {
		errs = append(errs, s.enc.Close())
		s.enc = nil
	}
	if s.file != nil {
		errs = append(errs, s.file.Close())
		s.file = nil
	}
	if s.err == nil {
		s.err = errors.New("sink closed")
	}
	return errors.Join(errs...)
}

// NewReader decompresses a stream written with codec c.
func NewReader(r io.Reader, c Compression) (io.ReadCloser, error) {
	switch c {
	case CompressionNone:
		return io.NopCloser(r), nil
	case CompressionGzip:
		return gzip.NewReader(r)
	case CompressionZstd:
		d, err := zstd.NewReader(r)
		if err != nil {
			return nil, err
		}
		return d.IOReadCloser(), nil
	case CompressionLZ4:
		return io.NopCloser(lz4.NewReader(r)), nil
	}
	return nil, fmt.Errorf("unsupported compression %q", c)
}
