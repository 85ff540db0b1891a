package loader

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
)

// ErrSizeExceeded is returned when an input is larger than the configured
// upload limit.
var ErrSizeExceeded = errors.New("input exceeds maximum upload size")

// UnknownSize is reported by sources that cannot tell their length upfront.
const UnknownSize int64 = -1

// Source is a re-openable byte stream. Every call to Open starts a fresh
// pass from the beginning, which lets readers count rows before yielding
// them without buffering the input.
type Source interface {
	Name() string
	Size(ctx context.Context) (int64, error)
	Open(ctx context.Context) (io.ReadCloser, error)
}

// OpenLimited opens src and enforces maxBytes. Sources with a known size are
// rejected before any byte is read; otherwise the returned reader fails with
// ErrSizeExceeded once the limit is crossed. maxBytes <= 0 disables the check.
func OpenLimited(ctx context.Context, src Source, maxBytes int64) (io.ReadCloser, error) {
	if maxBytes > 0 {
		size, err := src.Size(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to stat %s: %w", src.Name(), err)
		}
		if size > maxBytes {
			return nil, fmt.Errorf("%s is %d bytes, limit %d: %w", src.Name(), size, maxBytes, ErrSizeExceeded)
		}
	}

	rc, err := src.Open(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", src.Name(), err)
	}
	if maxBytes <= 0 {
		return rc, nil
	}
	return &limitedReadCloser{rc: rc, remaining: maxBytes}, nil
}

type limitedReadCloser struct {
	rc        io.ReadCloser
	remaining int64
}

func (l *limitedReadCloser) Read(p []byte) (int, error) {
	if l.remaining < 0 {
		return 0, ErrSizeExceeded
	}
	// Read one byte past the limit so an input of exactly maxBytes passes.
	if int64(len(p)) > l.remaining+1 {
		p = p[:l.remaining+1]
	}
	n, err := l.rc.Read(p)
	l.remaining -= int64(n)
	if l.remaining < 0 {
		return n, ErrSizeExceeded
	}
	return n, err
}

func (l *limitedReadCloser) Close() error {
	return l.rc.Close()
}

// BytesSource serves an in-memory payload.
type BytesSource struct {
	name string
	data []byte
}

func NewBytesSource(name string, data []byte) *BytesSource {
	return &BytesSource{name: name, data: data}
}

func (s *BytesSource) Name() string {
	return s.name
}

func (s *BytesSource) Size(ctx context.Context) (int64, error) {
	return int64(len(s.data)), nil
}

func (s *BytesSource) Open(ctx context.Context) (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(s.data)), nil
}
