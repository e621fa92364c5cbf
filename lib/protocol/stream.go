// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package protocol

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// StdioPath names stdin (for OpenStream) or stdout (for CreateStream)
// instead of a file.
const StdioPath = "-"

// Compression identifies the compression applied to a message stream
// file. It is chosen from the file extension.
type Compression string

const (
	CompressionNone Compression = ""
	CompressionGzip Compression = "gzip"
	CompressionZstd Compression = "zstd"
	CompressionLZ4  Compression = "lz4"
)

// CompressionForPath returns the compression implied by path's
// extension: .gz, .zst, .lz4, or none.
func CompressionForPath(path string) Compression {
	switch filepath.Ext(path) {
	case ".gz":
		return CompressionGzip
	case ".zst":
		return CompressionZstd
	case ".lz4":
		return CompressionLZ4
	default:
		return CompressionNone
	}
}

// StreamWriter writes framed messages to a file. Not safe for
// concurrent use.
type StreamWriter struct {
	path       string
	file       *os.File // nil for stdout
	compressor io.WriteCloser
	buffered   *bufio.Writer
}

// CreateStream creates (truncating) the file at path for writing framed
// messages. The path "-" writes to stdout, uncompressed, flushing after
// every message so a reader on the other end of a pipe sees each one
// immediately.
func CreateStream(path string) (*StreamWriter, error) {
	if path == StdioPath {
		return &StreamWriter{path: path, buffered: bufio.NewWriter(os.Stdout)}, nil
	}

	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating message stream %s: %w", path, err)
	}

	stream := &StreamWriter{path: path, file: file}
	var sink io.Writer = file
	switch CompressionForPath(path) {
	case CompressionGzip:
		stream.compressor = gzip.NewWriter(file)
	case CompressionZstd:
		encoder, err := zstd.NewWriter(file)
		if err != nil {
			file.Close()
			return nil, fmt.Errorf("creating zstd encoder for %s: %w", path, err)
		}
		stream.compressor = encoder
	case CompressionLZ4:
		stream.compressor = lz4.NewWriter(file)
	}
	if stream.compressor != nil {
		sink = stream.compressor
	}
	stream.buffered = bufio.NewWriter(sink)
	return stream, nil
}

// Write encodes message and appends it as one frame.
func (s *StreamWriter) Write(message any) error {
	if err := WriteMessage(s.buffered, message); err != nil {
		return fmt.Errorf("writing to %s: %w", s.path, err)
	}
	if s.file == nil {
		return s.buffered.Flush()
	}
	return nil
}

// Close flushes buffered frames, finishes the compressed stream, and
// closes the file. Stdout is flushed but not closed.
func (s *StreamWriter) Close() error {
	var errs []error
	if err := s.buffered.Flush(); err != nil {
		errs = append(errs, err)
	}
	if s.compressor != nil {
		if err := s.compressor.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if s.file != nil {
		if err := s.file.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("closing message stream %s: %w", s.path, err)
	}
	return nil
}

// StreamReader reads framed messages from a file.
type StreamReader struct {
	path         string
	file         *os.File // nil for stdin
	decompressor io.Closer
	reader       *bufio.Reader
}

// OpenStream opens the file at path for reading framed messages. The
// path "-" reads stdin, uncompressed.
func OpenStream(path string) (*StreamReader, error) {
	if path == StdioPath {
		return &StreamReader{path: path, reader: bufio.NewReader(os.Stdin)}, nil
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening message stream %s: %w", path, err)
	}

	stream := &StreamReader{path: path, file: file}
	var source io.Reader = file
	switch CompressionForPath(path) {
	case CompressionGzip:
		decompressor, err := gzip.NewReader(file)
		if err != nil {
			file.Close()
			return nil, fmt.Errorf("opening gzip stream %s: %w", path, err)
		}
		stream.decompressor = decompressor
		source = decompressor
	case CompressionZstd:
		decoder, err := zstd.NewReader(file)
		if err != nil {
			file.Close()
			return nil, fmt.Errorf("opening zstd stream %s: %w", path, err)
		}
		readCloser := decoder.IOReadCloser()
		stream.decompressor = readCloser
		source = readCloser
	case CompressionLZ4:
		source = lz4.NewReader(file)
	}
	stream.reader = bufio.NewReader(source)
	return stream, nil
}

// ReadRequest reads the next request. Returns io.EOF at the end of the
// stream.
func (s *StreamReader) ReadRequest() (*Request, error) {
	return ReadRequest(s.reader)
}

// ReadResponse reads the next response. Returns io.EOF at the end of
// the stream.
func (s *StreamReader) ReadResponse() (*Response, error) {
	return ReadResponse(s.reader)
}

// Close releases the decompressor and the file. Stdin is not closed.
func (s *StreamReader) Close() error {
	var errs []error
	if s.decompressor != nil {
		if err := s.decompressor.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if s.file != nil {
		if err := s.file.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
