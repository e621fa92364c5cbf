// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/posterior/loom/lib/codec"
)

// frameHeaderLength is the size of the length prefix.
const frameHeaderLength = 4

// MaxFrameLength is the largest payload accepted in either direction.
// A sample response for thousands of high-dimensional rows is the
// largest message in practice; 256 MB leaves room for that while
// still rejecting a corrupted length prefix before allocating.
const MaxFrameLength = 256 * 1024 * 1024

// WriteFrame writes payload with its little-endian length prefix in a
// single Write call, so one frame is never interleaved with another.
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) > MaxFrameLength {
		return fmt.Errorf("%w: %d bytes exceeds maximum %d", ErrFrameTooLarge, len(payload), MaxFrameLength)
	}
	buffer := make([]byte, frameHeaderLength+len(payload))
	binary.LittleEndian.PutUint32(buffer[:frameHeaderLength], uint32(len(payload)))
	copy(buffer[frameHeaderLength:], payload)
	if _, err := w.Write(buffer); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// ReadFrame reads one complete frame from r and returns its payload.
// It returns io.EOF, unwrapped, only when the stream ends cleanly on a
// frame boundary. A stream that ends inside a frame returns an error
// matching ErrTruncated.
func ReadFrame(r io.Reader) ([]byte, error) {
	var header [frameHeaderLength]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: header: %w", ErrTruncated, err)
		}
		return nil, fmt.Errorf("read frame header: %w", err)
	}

	payloadLength := binary.LittleEndian.Uint32(header[:])
	if payloadLength > MaxFrameLength {
		return nil, fmt.Errorf("%w: header announces %d bytes, maximum %d",
			ErrFrameTooLarge, payloadLength, MaxFrameLength)
	}

	payload := make([]byte, payloadLength)
	if payloadLength > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil, fmt.Errorf("%w: payload of %d bytes: %w", ErrTruncated, payloadLength, io.ErrUnexpectedEOF)
			}
			return nil, fmt.Errorf("read frame payload: %w", err)
		}
	}
	return payload, nil
}

// WriteMessage CBOR-encodes message and writes it as one frame.
func WriteMessage(w io.Writer, message any) error {
	payload, err := codec.Marshal(message)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	return WriteFrame(w, payload)
}

// DecodeRequest decodes and validates a request frame payload.
func DecodeRequest(payload []byte) (*Request, error) {
	var request Request
	if err := codec.Unmarshal(payload, &request); err != nil {
		return nil, fmt.Errorf("%w: decode request: %w", ErrMalformedMessage, err)
	}
	if err := request.Validate(); err != nil {
		return nil, err
	}
	return &request, nil
}

// DecodeResponse decodes a response frame payload. Payload arity is
// left to the caller, which knows what kind of request it sent.
func DecodeResponse(payload []byte) (*Response, error) {
	var response Response
	if err := codec.Unmarshal(payload, &response); err != nil {
		return nil, fmt.Errorf("%w: decode response: %w", ErrMalformedMessage, err)
	}
	return &response, nil
}

// ReadRequest reads one framed request from r.
func ReadRequest(r io.Reader) (*Request, error) {
	payload, err := ReadFrame(r)
	if err != nil {
		return nil, err
	}
	return DecodeRequest(payload)
}

// ReadResponse reads one framed response from r.
func ReadResponse(r io.Reader) (*Response, error) {
	payload, err := ReadFrame(r)
	if err != nil {
		return nil, err
	}
	return DecodeResponse(payload)
}
