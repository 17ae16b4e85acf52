package fetch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/durationpb"

	"github.com/vietddude/statsync/internal/core/domain"
	"github.com/vietddude/statsync/internal/indexing/throttle"
	"github.com/vietddude/statsync/internal/infra/source"
)

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	return nil
}

// scriptedSource returns the scripted errors in order, then a result.
type scriptedSource struct {
	errs   []error
	result *domain.ResultSet
	calls  int
}

func (s *scriptedSource) Fetch(ctx context.Context, params map[string]string) (*domain.ResultSet, error) {
	s.calls++
	if s.calls <= len(s.errs) {
		return nil, s.errs[s.calls-1]
	}
	return s.result, nil
}

func okResult() *domain.ResultSet {
	return &domain.ResultSet{Tables: []domain.Table{{Name: "A", Columns: []string{"X"}, Rows: [][]any{{1}}}}}
}

func gameItem(id string) domain.WorkItem {
	return domain.WorkItem{
		Source: "boxscore",
		Keys:   []domain.Key{{Column: "game_id", Param: "GameID", Kind: domain.KindGameID, Value: id}},
	}
}

func newTestFetcher(clock *fakeClock) *Fetcher {
	pacer := throttle.NewPacer(throttle.Config{MinDelay: 0}, clock)
	return New(Config{MaxAttempts: 3, InitialBackoff: 2 * time.Second, MaxBackoff: 30 * time.Second}, pacer, clock)
}

func TestFetch_InvalidParamsNeverCallsSource(t *testing.T) {
	clock := &fakeClock{}
	src := &scriptedSource{result: okResult()}

	out := newTestFetcher(clock).Fetch(context.Background(), src, gameItem("12"))

	if out.OK() || out.Class != domain.ClassPermanent {
		t.Fatalf("outcome = %+v, want permanent failure", out)
	}
	if !errors.Is(out.Err, ErrInvalidParams) {
		t.Errorf("err = %v, want ErrInvalidParams", out.Err)
	}
	if src.calls != 0 {
		t.Errorf("source called %d times, want 0", src.calls)
	}
}

func TestFetch_RetriesTransientThenSucceeds(t *testing.T) {
	clock := &fakeClock{}
	src := &scriptedSource{
		errs:   []error{&source.HTTPError{StatusCode: 503}},
		result: okResult(),
	}

	out := newTestFetcher(clock).Fetch(context.Background(), src, gameItem("0022300001"))

	if !out.OK() {
		t.Fatalf("expected success, got %v", out.Err)
	}
	if out.Attempts != 2 || src.calls != 2 {
		t.Errorf("attempts = %d, calls = %d, want 2", out.Attempts, src.calls)
	}
	if len(clock.sleeps) != 1 || clock.sleeps[0] != 2*time.Second {
		t.Errorf("sleeps = %v, want [2s]", clock.sleeps)
	}
}

func TestFetch_TransientExhausted(t *testing.T) {
	clock := &fakeClock{}
	timeout := errors.New("read: connection timed out")
	src := &scriptedSource{errs: []error{timeout, timeout, timeout, timeout}}

	out := newTestFetcher(clock).Fetch(context.Background(), src, gameItem("0022300001"))

	if out.OK() || out.Class != domain.ClassTransient {
		t.Fatalf("outcome = %+v, want transient failure", out)
	}
	if src.calls != 3 {
		t.Errorf("calls = %d, want 3", src.calls)
	}
	want := []time.Duration{2 * time.Second, 4 * time.Second}
	if len(clock.sleeps) != len(want) {
		t.Fatalf("sleeps = %v, want %v", clock.sleeps, want)
	}
	for i := range want {
		if clock.sleeps[i] != want[i] {
			t.Errorf("sleep[%d] = %v, want %v", i, clock.sleeps[i], want[i])
		}
	}
	if !errors.Is(out.Err, timeout) {
		t.Errorf("err = %v, want wrapped cause", out.Err)
	}
}

func TestFetch_PermanentStopsImmediately(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"not found", &source.HTTPError{StatusCode: 404}},
		{"bad request", &source.HTTPError{StatusCode: 400}},
		{"empty response", source.ErrEmptyResponse},
		{"grpc invalid argument", status.Error(codes.InvalidArgument, "bad id")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := &fakeClock{}
			src := &scriptedSource{errs: []error{tt.err}, result: okResult()}

			out := newTestFetcher(clock).Fetch(context.Background(), src, gameItem("0022300001"))

			if out.Class != domain.ClassPermanent {
				t.Errorf("class = %q, want permanent", out.Class)
			}
			if src.calls != 1 {
				t.Errorf("calls = %d, want 1", src.calls)
			}
		})
	}
}

func TestFetch_EmptyResultIsPermanent(t *testing.T) {
	clock := &fakeClock{}
	src := &scriptedSource{result: &domain.ResultSet{}}

	out := newTestFetcher(clock).Fetch(context.Background(), src, gameItem("0022300001"))

	if out.Class != domain.ClassPermanent || !errors.Is(out.Err, source.ErrEmptyResponse) {
		t.Errorf("outcome = %+v, want permanent empty response", out)
	}
}

func TestFetch_HonorsServerRetryHint(t *testing.T) {
	st, err := status.New(codes.Unavailable, "overloaded").WithDetails(
		&errdetails.RetryInfo{RetryDelay: durationpb.New(10 * time.Second)},
	)
	if err != nil {
		t.Fatalf("WithDetails failed: %v", err)
	}
	clock := &fakeClock{}
	src := &scriptedSource{errs: []error{st.Err()}, result: okResult()}

	out := newTestFetcher(clock).Fetch(context.Background(), src, gameItem("0022300001"))

	if !out.OK() {
		t.Fatalf("expected success, got %v", out.Err)
	}
	if len(clock.sleeps) != 1 || clock.sleeps[0] != 10*time.Second {
		t.Errorf("sleeps = %v, want [10s]", clock.sleeps)
	}
}

func TestFetch_CancelledContext(t *testing.T) {
	clock := &fakeClock{}
	src := &scriptedSource{result: okResult()}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := newTestFetcher(clock).Fetch(ctx, src, gameItem("0022300001"))

	if !errors.Is(out.Err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", out.Err)
	}
	if src.calls != 0 {
		t.Errorf("calls = %d, want 0", src.calls)
	}
}
