// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/posterior/loom/lib/clock"
	"github.com/posterior/loom/lib/codec"
	"github.com/posterior/loom/lib/protocol"
)

const (
	// DefaultKillTimeout is how long Close waits after SIGTERM before
	// sending SIGKILL, when Options.KillTimeout is zero.
	DefaultKillTimeout = 5 * time.Second

	// DefaultSendQueue is the capacity of the outgoing request queue
	// when Options.SendQueue is zero.
	DefaultSendQueue = 64
)

// Process is the child process behind a transport's pipes.
type Process interface {
	// Terminate asks the process to exit.
	Terminate() error
	// Kill forces the process to exit.
	Kill() error
	// Wait blocks until the process has exited and releases its
	// resources. It is called once, after the output has been read to
	// the end.
	Wait() error
}

// Options configures a Transport. The zero value is usable.
type Options struct {
	// Logger receives lifecycle and failure records. Nil discards.
	Logger *slog.Logger

	// Clock times the shutdown grace periods. Nil uses the real clock.
	Clock clock.Clock

	// CloseTimeout is how long Close waits for the server to end its
	// output after its input is closed. Zero terminates immediately.
	CloseTimeout time.Duration

	// KillTimeout is how long Close waits after SIGTERM before SIGKILL.
	// Zero means DefaultKillTimeout.
	KillTimeout time.Duration

	// SendQueue bounds the number of encoded requests waiting for the
	// writer. Zero means DefaultSendQueue.
	SendQueue int
}

// received is one entry of the response queue: a decoded response, or
// the error decoding its frame.
type received struct {
	response *protocol.Response
	err      error
}

// Transport is a framed, ordered message channel to one query server.
// Send and Receive may be called from different goroutines, but each
// is meant for one caller at a time.
type Transport struct {
	logger       *slog.Logger
	clock        clock.Clock
	closeTimeout time.Duration
	killTimeout  time.Duration

	sink    io.WriteCloser
	source  io.ReadCloser
	process Process

	outgoing   chan []byte
	done       chan struct{}
	writerDone chan struct{}
	readerDone chan struct{}
	ready      chan struct{}

	mu       sync.Mutex
	queue    []received
	readErr  error
	writeErr error
	closed   bool
}

// New starts a transport writing requests to sink and reading responses
// from source. process may be nil when there is no child to manage;
// Close then closes source itself once the grace period ends.
func New(sink io.WriteCloser, source io.ReadCloser, process Process, options Options) *Transport {
	logger := options.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	clk := options.Clock
	if clk == nil {
		clk = clock.Real()
	}
	killTimeout := options.KillTimeout
	if killTimeout <= 0 {
		killTimeout = DefaultKillTimeout
	}
	sendQueue := options.SendQueue
	if sendQueue <= 0 {
		sendQueue = DefaultSendQueue
	}

	t := &Transport{
		logger:       logger,
		clock:        clk,
		closeTimeout: options.CloseTimeout,
		killTimeout:  killTimeout,
		sink:         sink,
		source:       source,
		process:      process,
		outgoing:     make(chan []byte, sendQueue),
		done:         make(chan struct{}),
		writerDone:   make(chan struct{}),
		readerDone:   make(chan struct{}),
		ready:        make(chan struct{}, 1),
	}
	go t.writeLoop()
	go t.readLoop()
	return t
}

// Send validates and encodes request, then queues it for the writer.
// Encoding failures are returned immediately and nothing is sent. Send
// blocks only while the outgoing queue is full.
func (t *Transport) Send(ctx context.Context, request *protocol.Request) error {
	if err := request.Validate(); err != nil {
		return err
	}
	payload, err := codec.Marshal(request)
	if err != nil {
		return fmt.Errorf("encoding request %s: %w", request.ID, err)
	}
	if len(payload) > protocol.MaxFrameLength {
		return fmt.Errorf("request %s: %w: %d bytes", request.ID, protocol.ErrFrameTooLarge, len(payload))
	}

	t.mu.Lock()
	closed, writeErr := t.closed, t.writeErr
	t.mu.Unlock()
	if closed {
		return ErrTransportClosed
	}
	if writeErr != nil {
		return fmt.Errorf("%w: %w", ErrTransportClosed, writeErr)
	}

	select {
	case t.outgoing <- payload:
		return nil
	case <-t.done:
		return ErrTransportClosed
	case <-t.writerDone:
		return t.writeFailure()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Receive returns the next response in arrival order. A frame that
// does not decode yields an error matching protocol.ErrMalformedMessage
// in that response's place. Once the output has ended and every queued
// response has been returned, Receive fails with ErrTransportClosed.
func (t *Transport) Receive(ctx context.Context) (*protocol.Response, error) {
	for {
		t.mu.Lock()
		if t.closed {
			t.mu.Unlock()
			return nil, ErrTransportClosed
		}
		if len(t.queue) > 0 {
			next := t.queue[0]
			t.queue[0] = received{}
			t.queue = t.queue[1:]
			t.mu.Unlock()
			return next.response, next.err
		}
		readErr := t.readErr
		t.mu.Unlock()

		if readErr != nil {
			return nil, readErr
		}

		select {
		case <-t.ready:
		case <-t.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Close shuts the server down and releases the pipes. It returns the
// server's exit error when the server exited on its own with a failure;
// a server that had to be signalled is logged, not reported. Calling
// Close again returns nil.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()
	close(t.done)

	// Closing the server's input is its signal to finish. Queued
	// requests are abandoned.
	if err := t.sink.Close(); err != nil {
		t.logger.Debug("closing query server input", "error", err)
	}
	<-t.writerDone

	stop := t.awaitOutputEnd()

	var waitErr error
	if t.process != nil {
		waitErr = t.process.Wait()
	}
	t.source.Close()

	switch {
	case stop == stopSignalled:
		t.logger.Warn("query server stopped by signal", "exit", waitErr)
		return nil
	case stop == stopOutputClosed:
		t.logger.Warn("query server output still open after close timeout, closed it",
			"close_timeout", t.closeTimeout)
		return nil
	case waitErr != nil:
		t.logger.Error("query server exited with failure", "error", waitErr)
		return fmt.Errorf("query server exited: %w", waitErr)
	default:
		t.logger.Info("query server stopped")
		return nil
	}
}

// outputEnd records how the server's output came to an end during
// Close.
type outputEnd int

const (
	// stopClean: the server closed its output by itself.
	stopClean outputEnd = iota
	// stopOutputClosed: no process to signal; the output pipe was
	// closed from this side.
	stopOutputClosed
	// stopSignalled: the server was sent SIGTERM, and SIGKILL if
	// needed.
	stopSignalled
)

// awaitOutputEnd waits for the reader to reach the end of the server's
// output, escalating from patience to SIGTERM to SIGKILL. Without a
// process it closes the output pipe instead of signalling.
func (t *Transport) awaitOutputEnd() outputEnd {
	if t.waitReader(t.closeTimeout) {
		return stopClean
	}

	if t.process == nil {
		t.source.Close()
		<-t.readerDone
		return stopOutputClosed
	}

	t.logger.Warn("query server still running after its input closed, terminating",
		"close_timeout", t.closeTimeout)
	if err := t.process.Terminate(); err != nil {
		t.logger.Debug("terminating query server", "error", err)
	}
	if t.waitReader(t.killTimeout) {
		return stopSignalled
	}

	t.logger.Warn("query server ignored SIGTERM, killing", "kill_timeout", t.killTimeout)
	if err := t.process.Kill(); err != nil {
		t.logger.Debug("killing query server", "error", err)
	}
	if t.waitReader(t.killTimeout) {
		return stopSignalled
	}

	// The process group is gone but something still holds the output
	// pipe open.
	t.source.Close()
	<-t.readerDone
	return stopSignalled
}

// waitReader waits up to timeout for the reader goroutine to finish.
func (t *Transport) waitReader(timeout time.Duration) bool {
	if timeout <= 0 {
		select {
		case <-t.readerDone:
			return true
		default:
			return false
		}
	}
	select {
	case <-t.readerDone:
		return true
	case <-t.clock.After(timeout):
		return false
	}
}

func (t *Transport) writeLoop() {
	defer close(t.writerDone)
	for {
		select {
		case <-t.done:
			return
		case payload := <-t.outgoing:
			if err := protocol.WriteFrame(t.sink, payload); err != nil {
				t.mu.Lock()
				closed := t.closed
				t.writeErr = err
				t.mu.Unlock()
				if !closed {
					t.logger.Warn("writing to query server failed", "error", err)
				}
				return
			}
		}
	}
}

func (t *Transport) writeFailure() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.writeErr != nil {
		return fmt.Errorf("%w: %w", ErrTransportClosed, t.writeErr)
	}
	return ErrTransportClosed
}

func (t *Transport) readLoop() {
	defer close(t.readerDone)
	for {
		payload, err := protocol.ReadFrame(t.source)
		if err != nil {
			t.finishReading(err)
			return
		}

		response, err := protocol.DecodeResponse(payload)
		if err != nil {
			diagnostic, diagnoseErr := codec.Diagnose(payload)
			if diagnoseErr != nil {
				diagnostic = fmt.Sprintf("%d undecodable bytes", len(payload))
			}
			t.logger.Warn("malformed response from query server", "error", err, "payload", diagnostic)
		}
		t.deliver(received{response: response, err: err})
	}
}

func (t *Transport) finishReading(err error) {
	var readErr error
	if errors.Is(err, io.EOF) {
		readErr = fmt.Errorf("%w: query server output ended", ErrTransportClosed)
	} else {
		readErr = fmt.Errorf("%w: reading query server output: %w", ErrTransportClosed, err)
	}

	t.mu.Lock()
	t.readErr = readErr
	closed := t.closed
	t.mu.Unlock()

	if !closed {
		t.logger.Warn("query server output ended unexpectedly", "error", err)
	}
	t.notify()
}

func (t *Transport) deliver(item received) {
	t.mu.Lock()
	t.queue = append(t.queue, item)
	t.mu.Unlock()
	t.notify()
}

func (t *Transport) notify() {
	select {
	case t.ready <- struct{}{}:
	default:
	}
}
