package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type mockSink struct {
	mu         sync.Mutex
	numbers    []uint64
	blockTimes []float64
}

func (m *mockSink) SetBlockNumber(n uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.numbers = append(m.numbers, n)
}

func (m *mockSink) SetBlockTime(seconds float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blockTimes = append(m.blockTimes, seconds)
}

// sequenceSource returns the configured heights in order, then repeats the
// last one. Entries with a non-nil error fail.
type sequenceSource struct {
	mu      sync.Mutex
	heights []uint64
	errs    []error
	calls   int
}

func (s *sequenceSource) GetBlockNumber(ctx context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	s.calls++
	if i < len(s.errs) && s.errs[i] != nil {
		return 0, s.errs[i]
	}
	if i >= len(s.heights) {
		i = len(s.heights) - 1
	}
	return s.heights[i], nil
}

func (s *sequenceSource) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func TestObserve_BlockCadence(t *testing.T) {
	sink := &mockSink{}
	m := New(Config{Sink: sink})
	t0 := time.Unix(1_700_000_000, 0)

	type sample struct {
		at        int
		blockTime float64
	}
	var samples []sample

	heights := []uint64{100, 100, 101, 103}
	for i, h := range heights {
		before := len(sink.blockTimes)
		m.Observe(h, t0.Add(time.Duration(i)*time.Second))
		if len(sink.blockTimes) > before {
			samples = append(samples, sample{at: i, blockTime: sink.blockTimes[len(sink.blockTimes)-1]})
		}
	}

	want := []sample{{at: 2, blockTime: 2}, {at: 3, blockTime: 1}}
	if len(samples) != len(want) {
		t.Fatalf("block time samples = %+v, want %+v", samples, want)
	}
	for i := range want {
		if samples[i] != want[i] {
			t.Errorf("sample %d = %+v, want %+v", i, samples[i], want[i])
		}
	}

	// the block number is published for the baseline too
	wantNumbers := []uint64{100, 101, 103}
	if len(sink.numbers) != len(wantNumbers) {
		t.Fatalf("numbers = %v, want %v", sink.numbers, wantNumbers)
	}
	for i := range wantNumbers {
		if sink.numbers[i] != wantNumbers[i] {
			t.Errorf("numbers = %v, want %v", sink.numbers, wantNumbers)
		}
	}

	state, ok := m.State()
	if !ok || state.Number != 103 || !state.ObservedAt.Equal(t0.Add(3*time.Second)) || state.BlockTime != time.Second {
		t.Errorf("state = %+v", state)
	}
}

func TestObserve_NoChangeKeepsTimestamp(t *testing.T) {
	m := New(Config{})
	t0 := time.Unix(1_700_000_000, 0)

	if !m.Observe(5, t0) {
		t.Error("first observation should count as a change")
	}
	if m.Observe(5, t0.Add(3*time.Second)) {
		t.Error("same height reported as change")
	}
	state, _ := m.State()
	if !state.ObservedAt.Equal(t0) {
		t.Errorf("ObservedAt moved to %v on an unchanged height", state.ObservedAt)
	}
}

func TestObserve_Listeners(t *testing.T) {
	m := New(Config{})
	t0 := time.Unix(1_700_000_000, 0)

	type event struct {
		number    uint64
		blockTime time.Duration
	}
	var events []event
	m.OnBlock(func(n uint64, bt time.Duration, at time.Time) {
		events = append(events, event{n, bt})
	})

	m.Observe(10, t0)
	m.Observe(10, t0.Add(time.Second))
	m.Observe(11, t0.Add(2*time.Second))

	want := []event{{10, 0}, {11, 2 * time.Second}}
	if len(events) != len(want) {
		t.Fatalf("events = %+v, want %+v", events, want)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Errorf("event %d = %+v, want %+v", i, events[i], want[i])
		}
	}
}

func TestLatest(t *testing.T) {
	m := New(Config{})
	if m.Latest() != nil {
		t.Error("expected nil before the first observation")
	}

	t0 := time.Unix(1_700_000_000, 0)
	m.Observe(1, t0)
	m.Observe(2, t0.Add(1500*time.Millisecond))

	info := m.Latest()
	if info == nil || info.Number != 2 || info.BlockTimeSeconds != 1.5 {
		t.Errorf("Latest() = %+v", info)
	}
}

func TestPoll_UsesClock(t *testing.T) {
	src := &sequenceSource{heights: []uint64{7, 8}}
	now := time.Unix(1_700_000_000, 0)
	sink := &mockSink{}
	m := New(Config{Client: src, Sink: sink, Now: func() time.Time { return now }})

	if changed, err := m.Poll(context.Background()); err != nil || !changed {
		t.Fatalf("Poll() = %v, %v", changed, err)
	}
	now = now.Add(4 * time.Second)
	if changed, err := m.Poll(context.Background()); err != nil || !changed {
		t.Fatalf("Poll() = %v, %v", changed, err)
	}
	if len(sink.blockTimes) != 1 || sink.blockTimes[0] != 4 {
		t.Errorf("block times = %v, want [4]", sink.blockTimes)
	}
}

func TestPoll_ErrorLeavesState(t *testing.T) {
	src := &sequenceSource{heights: []uint64{0}, errs: []error{errors.New("connection refused")}}
	m := New(Config{Client: src})

	if _, err := m.Poll(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if _, ok := m.State(); ok {
		t.Error("state set after failed poll")
	}
}

func TestRun_BacksOffOnErrorAndStops(t *testing.T) {
	src := &sequenceSource{
		heights: []uint64{0, 0, 42},
		errs:    []error{errors.New("down"), errors.New("down")},
	}
	m := New(Config{
		Client:       src,
		PollInterval: 5 * time.Millisecond,
		Backoff:      100 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	// first poll fails immediately; the second must wait out the backoff
	time.Sleep(50 * time.Millisecond)
	if got := src.callCount(); got != 1 {
		t.Errorf("calls during backoff = %d, want 1", got)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s, ok := m.State(); ok && s.Number == 42 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if s, ok := m.State(); !ok || s.Number != 42 {
		t.Errorf("monitor did not recover after errors: %+v", s)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
