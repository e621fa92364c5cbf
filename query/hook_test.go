// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package query

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"

	"github.com/posterior/loom/lib/protocol"
	"github.com/posterior/loom/lib/row"
)

type hookEnd struct {
	info  RoundTripInfo
	token HookToken
	err   error
}

// recordingHook keeps every start and end it sees. Tokens are the
// request IDs.
type recordingHook struct {
	mu     sync.Mutex
	starts []RoundTripInfo
	ends   []hookEnd
}

func (h *recordingHook) OnRoundTripStart(ctx context.Context, info RoundTripInfo) (context.Context, HookToken) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.starts = append(h.starts, info)
	return ctx, info.ID
}

func (h *recordingHook) OnRoundTripEnd(ctx context.Context, token HookToken, info RoundTripInfo, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ends = append(h.ends, hookEnd{info: info, token: token, err: err})
}

func (h *recordingHook) counts() (starts, ends int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.starts), len(h.ends)
}

func TestHook_PipelinedRoundTrips(t *testing.T) {
	t.Parallel()

	hook := &recordingHook{}
	session, _ := newModelSession(t, 20, WithHook(hook))
	rows := testRows()[:4]

	for _, err := range session.BatchScore(context.Background(), slices.Values(rows), 2) {
		if err != nil {
			t.Fatalf("BatchScore: %v", err)
		}
	}

	if len(hook.starts) != 4 || len(hook.ends) != 4 {
		t.Fatalf("got %d starts and %d ends, want 4 of each", len(hook.starts), len(hook.ends))
	}
	wantInFlight := []int{0, 1, 1, 1}
	for i, info := range hook.starts {
		if info.Kind != "score" {
			t.Errorf("start %d kind = %q, want score", i, info.Kind)
		}
		if !info.Pipelined {
			t.Errorf("start %d not marked pipelined", i)
		}
		if info.InFlight != wantInFlight[i] {
			t.Errorf("start %d in flight = %d, want %d", i, info.InFlight, wantInFlight[i])
		}
	}
	for i, end := range hook.ends {
		if end.info.ID != hook.starts[i].ID {
			t.Errorf("end %d is for request %s, want %s", i, end.info.ID, hook.starts[i].ID)
		}
		if end.token != end.info.ID {
			t.Errorf("end %d token = %v, want %v", i, end.token, end.info.ID)
		}
		if end.err != nil {
			t.Errorf("end %d error: %v", i, end.err)
		}
	}
}

func TestHook_SeesFailures(t *testing.T) {
	t.Parallel()

	hook := &recordingHook{}
	session, _ := newModelSession(t, 21, WithHook(hook))

	negative := row.Row{row.Absent(), row.Count(-4), row.Absent(), row.Absent(), row.Absent()}
	if _, err := session.Score(context.Background(), negative); err == nil {
		t.Fatal("expected a server error")
	}

	if len(hook.ends) != 1 {
		t.Fatalf("got %d ends, want 1", len(hook.ends))
	}
	end := hook.ends[0]
	if end.info.Pipelined {
		t.Error("a single Score is marked pipelined")
	}
	if !errors.Is(end.err, protocol.ErrServer) {
		t.Errorf("end error = %v, want a server error", end.err)
	}
}
