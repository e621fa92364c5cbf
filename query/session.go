// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package query

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/posterior/loom/lib/clock"
	"github.com/posterior/loom/lib/config"
	"github.com/posterior/loom/lib/protocol"
	"github.com/posterior/loom/lib/row"
	"github.com/posterior/loom/transport"
)

// Session is an open connection to one query server.
type Session struct {
	transport *transport.Transport
	schema    row.Schema
	logger    *slog.Logger
	clock     clock.Clock
	hook      Hook

	bufferDepth int
	sampleCount int
	modelDigest string

	// transcriptMu orders transcript writes against Close.
	transcriptMu sync.Mutex
	requests     Recorder
	responses    Recorder
	closers      []io.Closer

	closed atomic.Bool

	// Touched only by the goroutine running operations.
	lastID  uint64
	pending []pendingRequest
}

// pendingRequest is one entry of the FIFO of outstanding requests.
type pendingRequest struct {
	info    RoundTripInfo
	ctx     context.Context
	token   HookToken
	started time.Time
	// abandoned entries belong to a call that stopped waiting; their
	// responses are read and discarded before anything newer.
	abandoned bool
}

// NewSession returns a session over an established transport. The
// session takes ownership of the transport and closes it on Close.
func NewSession(t *transport.Transport, schema row.Schema, opts ...Option) *Session {
	resolved := defaultOptions()
	for _, opt := range opts {
		opt(&resolved)
	}
	return newSession(t, schema, resolved)
}

func newSession(t *transport.Transport, schema row.Schema, resolved options) *Session {
	return &Session{
		transport:   t,
		schema:      schema,
		logger:      resolved.logger,
		clock:       resolved.clock,
		hook:        resolved.hook,
		bufferDepth: resolved.bufferDepth,
		sampleCount: resolved.sampleCount,
		requests:    resolved.requests,
		responses:   resolved.responses,
	}
}

// Open starts the query server cfg describes and returns a session
// connected to it. Configured transcript files are created and closed
// with the session. A missing server binary or input file fails with
// transport.ErrFileNotFound before anything is started.
func Open(ctx context.Context, cfg *config.Config, schema row.Schema, opts ...Option) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid query configuration: %w", err)
	}
	closeTimeout, err := cfg.Session.CloseTimeoutDuration()
	if err != nil {
		return nil, err
	}

	resolved := defaultOptions()
	WithBufferDepth(cfg.Session.BufferDepth)(&resolved)
	WithSampleCount(cfg.Session.SampleCount)(&resolved)

	var closers []io.Closer
	closeAll := func() {
		for _, closer := range closers {
			closer.Close()
		}
	}
	for _, transcript := range []struct {
		path   string
		target *Recorder
	}{
		{cfg.Session.Transcript.Requests, &resolved.requests},
		{cfg.Session.Transcript.Responses, &resolved.responses},
	} {
		if transcript.path == "" {
			continue
		}
		stream, err := protocol.CreateStream(transcript.path)
		if err != nil {
			closeAll()
			return nil, err
		}
		closers = append(closers, stream)
		*transcript.target = stream
	}

	// Explicit options win over the configuration file.
	for _, opt := range opts {
		opt(&resolved)
	}

	t, err := transport.Spawn(ctx, transport.Command{
		Binary:        cfg.Server.ServerBinary(),
		Arguments:     cfg.Server.Arguments(),
		RequiredFiles: cfg.Server.Files(),
	}, transport.Options{
		Logger:       resolved.logger,
		Clock:        resolved.clock,
		CloseTimeout: closeTimeout,
	})
	if err != nil {
		closeAll()
		return nil, err
	}

	session := newSession(t, schema, resolved)
	session.closers = closers

	digest, err := cfg.Server.ModelDigest()
	if err != nil {
		session.Close()
		return nil, err
	}
	session.modelDigest = digest

	session.logger.Info("query session opened",
		"model", cfg.Server.Model,
		"model_digest", digest,
		"features", schema.FeatureCount(),
		"debug", cfg.Server.Debug,
	)
	return session, nil
}

// Schema returns the schema rows are encoded with.
func (s *Session) Schema() row.Schema { return s.schema }

// ModelDigest returns the hex BLAKE3 digest of the model file for
// sessions created by Open, and "" otherwise.
func (s *Session) ModelDigest() string { return s.modelDigest }

// Close stops the server and closes any transcript files. Operations
// blocked in another goroutine fail with ErrClosed. Calling Close again
// returns nil.
func (s *Session) Close() error {
	if s.closed.Swap(true) {
		return nil
	}

	errs := []error{s.transport.Close()}

	s.transcriptMu.Lock()
	for _, closer := range s.closers {
		errs = append(errs, closer.Close())
	}
	s.requests, s.responses, s.closers = nil, nil, nil
	s.transcriptMu.Unlock()

	s.logger.Info("query session closed")
	return errors.Join(errs...)
}

// send assigns the next request ID, notifies the hook, and hands the
// request to the transport. On success the request joins the pending
// FIFO.
func (s *Session) send(ctx context.Context, request *protocol.Request, pipelined bool) error {
	if s.closed.Load() {
		return ErrClosed
	}

	s.lastID++
	request.ID = strconv.FormatUint(s.lastID, 10)
	info := RoundTripInfo{
		ID:        request.ID,
		Kind:      request.Kind(),
		InFlight:  len(s.pending),
		Pipelined: pipelined,
	}

	entry := pendingRequest{info: info, ctx: ctx, started: s.clock.Now()}
	if s.hook != nil {
		entry.ctx, entry.token = s.hook.OnRoundTripStart(ctx, info)
	}

	err := s.record(request, true)
	if err == nil {
		err = s.transport.Send(ctx, request)
	}
	if err != nil {
		err = s.translate(err)
		s.finish(entry, err)
		return err
	}

	s.pending = append(s.pending, entry)
	s.logger.Debug("query sent", "id", info.ID, "kind", info.Kind, "in_flight", info.InFlight)
	return nil
}

// receive reads the response to the oldest live pending request and
// checks it: the ID must match (or be empty), server errors become
// *protocol.ServerError, and check validates the payload. A context
// cancellation leaves the request pending but abandoned.
func (s *Session) receive(ctx context.Context, check func(*protocol.Response) error) (*protocol.Response, error) {
	if err := s.discardAbandoned(ctx); err != nil {
		return nil, err
	}
	if len(s.pending) == 0 {
		return nil, fmt.Errorf("%w: receive with no request outstanding", ErrProtocolViolation)
	}

	response, err := s.transport.Receive(ctx)
	if err != nil {
		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			s.pending[0].abandoned = true
			return nil, err
		}
		err = s.translate(err)
		s.finish(s.pop(), err)
		return nil, err
	}

	entry := s.pop()
	err = s.checkResponse(entry, response, check)
	s.finish(entry, err)
	if err != nil {
		return nil, err
	}
	return response, nil
}

func (s *Session) checkResponse(entry pendingRequest, response *protocol.Response, check func(*protocol.Response) error) error {
	if response.ID != "" && response.ID != entry.info.ID {
		return fmt.Errorf("%w: expected response to request %s, got response to %q",
			ErrProtocolViolation, entry.info.ID, response.ID)
	}
	if err := s.record(response, false); err != nil {
		return err
	}
	if err := response.Err(); err != nil {
		return err
	}
	if check != nil {
		return check(response)
	}
	return nil
}

// discardAbandoned reads and drops responses owed to calls that gave
// up waiting, so the next response belongs to a live request.
func (s *Session) discardAbandoned(ctx context.Context) error {
	for len(s.pending) > 0 && s.pending[0].abandoned {
		response, err := s.transport.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
				return err
			}
			err = s.translate(err)
			s.finish(s.pop(), err)
			return err
		}
		entry := s.pop()
		s.finish(entry, s.checkResponse(entry, response, nil))
	}
	return nil
}

// abandonPending marks every outstanding request abandoned and drains
// as many of their responses as ctx allows. Whatever is left is
// drained before the next receive.
func (s *Session) abandonPending(ctx context.Context) {
	for i := range s.pending {
		s.pending[i].abandoned = true
	}
	if ctx.Err() == nil {
		s.discardAbandoned(ctx)
	}
}

func (s *Session) pop() pendingRequest {
	entry := s.pending[0]
	s.pending[0] = pendingRequest{}
	s.pending = s.pending[1:]
	return entry
}

// finish logs the end of a round trip and notifies the hook.
func (s *Session) finish(entry pendingRequest, err error) {
	elapsed := s.clock.Now().Sub(entry.started)
	if err != nil {
		s.logger.Debug("query failed", "id", entry.info.ID, "kind", entry.info.Kind,
			"duration", elapsed, "abandoned", entry.abandoned, "error", err)
	} else {
		s.logger.Debug("query answered", "id", entry.info.ID, "kind", entry.info.Kind,
			"duration", elapsed, "abandoned", entry.abandoned)
	}
	if s.hook != nil {
		s.hook.OnRoundTripEnd(entry.ctx, entry.token, entry.info, err)
	}
}

// translate reports transport failures after Close as ErrClosed.
func (s *Session) translate(err error) error {
	if s.closed.Load() && errors.Is(err, transport.ErrTransportClosed) {
		return ErrClosed
	}
	return err
}

// record appends message to the request or response transcript.
func (s *Session) record(message any, isRequest bool) error {
	s.transcriptMu.Lock()
	defer s.transcriptMu.Unlock()
	recorder := s.responses
	if isRequest {
		recorder = s.requests
	}
	if recorder == nil || s.closed.Load() {
		return nil
	}
	if err := recorder.Write(message); err != nil {
		return fmt.Errorf("recording transcript: %w", err)
	}
	return nil
}

// violation formats an ErrProtocolViolation for request kind.
func violation(kind, format string, args ...any) error {
	return fmt.Errorf("%w: %s response: %s", ErrProtocolViolation, kind, fmt.Sprintf(format, args...))
}
