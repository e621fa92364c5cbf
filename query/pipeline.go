// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package query

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"slices"

	"github.com/posterior/loom/lib/protocol"
	"github.com/posterior/loom/lib/row"
	"github.com/posterior/loom/transport"
)

// BatchScore scores rows lazily, keeping up to bufferDepth requests in
// flight. Scores are yielded in input order, each paired with the error
// for that row, if any. A row that fails to encode or that the server
// rejects yields an error in its place and the batch continues; a
// transport failure or protocol violation ends it. If the consumer
// stops early the responses still in flight are drained, so the
// session can be used again.
func (s *Session) BatchScore(ctx context.Context, rows iter.Seq[row.Row], bufferDepth int) iter.Seq2[float64, error] {
	return func(yield func(float64, error) bool) {
		responses := pipeline(ctx, s, rows, bufferDepth, s.scoreRequest, checkScore)
		for response, err := range responses {
			if err != nil {
				if !yield(0, err) {
					return
				}
				continue
			}
			if !yield(response.Score.Score, nil) {
				return
			}
		}
	}
}

// Similar returns, for each row, up to rowLimit stored rows ranked by
// similarity to it. Requests are pipelined at the session's buffer
// depth. The first failure ends the call.
func (s *Session) Similar(ctx context.Context, rows []row.Row, rowLimit int) ([][]RowScore, error) {
	empty := row.Unobserved(s.schema.FeatureCount())
	build := func(r row.Row) (*protocol.Request, error) {
		return s.scoreDerivativeRequest(r, empty, rowLimit)
	}

	results := make([][]RowScore, 0, len(rows))
	responses := pipeline(ctx, s, slices.Values(rows), s.bufferDepth, build, checkScoreDerivative(rowLimit))
	for response, err := range responses {
		if err != nil {
			return nil, fmt.Errorf("similar rows for row %d: %w", len(results), err)
		}
		results = append(results, rowScores(response.ScoreDerivative))
	}
	return results, nil
}

// pipeline sends one request per input with at most depth outstanding
// and yields the checked responses in input order. An input whose
// request cannot be built yields its error in position, after every
// earlier response.
func pipeline[T any](
	ctx context.Context,
	s *Session,
	inputs iter.Seq[T],
	depth int,
	build func(T) (*protocol.Request, error),
	check func(*protocol.Response) error,
) iter.Seq2[*protocol.Response, error] {
	return func(yield func(*protocol.Response, error) bool) {
		if depth < 1 {
			yield(nil, fmt.Errorf("buffer depth must be positive, got %d", depth))
			return
		}

		outstanding := 0
		// next yields the oldest outstanding response. It reports
		// false when the pipeline must stop, either because the
		// consumer stopped or because the session cannot continue.
		next := func() bool {
			response, err := s.receive(ctx, check)
			outstanding--
			if !yield(response, err) {
				return false
			}
			return err == nil || !fatal(err)
		}
		stop := func() {
			if outstanding > 0 {
				s.abandonPending(ctx)
			}
		}

		for input := range inputs {
			request, err := build(input)
			if err != nil {
				for outstanding > 0 {
					if !next() {
						stop()
						return
					}
				}
				if !yield(nil, err) {
					return
				}
				continue
			}

			if outstanding == depth {
				if !next() {
					stop()
					return
				}
			}
			if err := s.send(ctx, request, true); err != nil {
				for outstanding > 0 {
					if !next() {
						stop()
						return
					}
				}
				yield(nil, err)
				return
			}
			outstanding++
		}

		for outstanding > 0 {
			if !next() {
				stop()
				return
			}
		}
	}
}

// fatal reports whether err leaves the session unable to continue a
// pipeline: the transport is gone, the caller gave up, or the stream
// can no longer be trusted to be aligned.
func fatal(err error) bool {
	return errors.Is(err, transport.ErrTransportClosed) ||
		errors.Is(err, ErrProtocolViolation) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}
