package source

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/basekick-labs/dynaload/internal/dataset"
	"github.com/basekick-labs/dynaload/internal/storage"
	"github.com/rs/zerolog"
)

// FileSource decodes one object from a storage backend
type FileSource struct {
	backend storage.Backend
	path    string
	format  dataset.Format
	logger  zerolog.Logger
}

// NewFileSource reads path from backend. FormatAuto picks the decoder from
// the path's extension.
func NewFileSource(backend storage.Backend, path string, format dataset.Format, logger zerolog.Logger) *FileSource {
	return &FileSource{
		backend: backend,
		path:    path,
		format:  format,
		logger:  logger,
	}
}

// Load reads and decodes the object
func (s *FileSource) Load(ctx context.Context) (*dataset.Dataset, error) {
	format := s.format
	if format == "" || format == dataset.FormatAuto {
		detected, err := dataset.DetectFormat(s.path)
		if err != nil {
			return nil, err
		}
		format = detected
	}

	start := time.Now()
	info, err := s.backend.Stat(ctx, s.path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", s.Describe(), err)
	}
	s.logger.Info().
		Str("source", s.Describe()).
		Int64("size", info.Size).
		Time("last_modified", info.LastModified).
		Msg("Reading dataset object")

	pr, pw := io.Pipe()
	counter := &countingWriter{w: pw}
	readErr := make(chan error, 1)
	go func() {
		err := s.backend.ReadTo(ctx, s.path, counter)
		pw.CloseWithError(err)
		readErr <- err
	}()

	ds, decodeErr := dataset.Decode(pr, format)
	if decodeErr == nil {
		_, decodeErr = io.Copy(io.Discard, pr)
	}
	// Unblocks ReadTo when decoding stopped before the end of the object
	pr.Close()

	err = <-readErr
	switch {
	case err != nil && counter.err == nil:
		return nil, fmt.Errorf("read %s: %w", s.Describe(), err)
	case decodeErr != nil:
		return nil, fmt.Errorf("decode %s as %s: %w", s.Describe(), format, decodeErr)
	}

	s.logger.Info().
		Str("source", s.Describe()).
		Str("format", string(format)).
		Int64("bytes", counter.n).
		Int("rows", ds.Len()).
		Int("columns", len(ds.Columns)).
		Dur("duration", time.Since(start)).
		Msg("Loaded dataset")

	return ds, nil
}

// Describe names the object, e.g. "s3:quotes/options.csv"
func (s *FileSource) Describe() string {
	return s.backend.Type() + ":" + s.path
}

// Close releases the storage backend
func (s *FileSource) Close() error {
	return s.backend.Close()
}

// countingWriter tracks bytes written and the first write error
type countingWriter struct {
	w   io.Writer
	n   int64
	err error
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	if err != nil && c.err == nil {
		c.err = err
	}
	return n, err
}
