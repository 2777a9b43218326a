package voice

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

// newTestManager returns a manager whose backoff sleeps are recorded
// instead of slept.
func newTestManager(t *fakeTransport, opts ...ManagerOption) (*Manager, *[]time.Duration) {
	m := NewManager(t, opts...)
	var mu sync.Mutex
	slept := &[]time.Duration{}
	m.sleep = func(_ context.Context, d time.Duration) error {
		mu.Lock()
		*slept = append(*slept, d)
		mu.Unlock()
		return nil
	}
	return m, slept
}

func TestManagerJoinFirstTry(t *testing.T) {
	t.Parallel()
	tr := &fakeTransport{}
	m, _ := newTestManager(tr)

	conn, err := m.Join(context.Background(), "g1", "c1")
	if err != nil {
		t.Fatalf("Join() error = %v", err)
	}
	if conn.ChannelID() != "c1" {
		t.Errorf("ChannelID() = %q, want %q", conn.ChannelID(), "c1")
	}
	if got := m.Conn("g1"); got != conn {
		t.Error("Conn() did not return the joined connection")
	}
}

func TestManagerJoinRetriesOnSessionInvalid(t *testing.T) {
	t.Parallel()
	tr := &fakeTransport{joinErrs: []error{
		&CloseError{Code: 4006},
		&CloseError{Code: 4006},
		nil,
	}}
	m, slept := newTestManager(tr)

	conn, err := m.Join(context.Background(), "g1", "c1")
	if err != nil {
		t.Fatalf("Join() error = %v", err)
	}
	if conn == nil {
		t.Fatal("Join() returned nil conn")
	}
	if got := tr.joinCount(); got != 3 {
		t.Errorf("transport joins = %d, want 3", got)
	}
	if len(tr.cleared) != 2 {
		t.Errorf("voice state cleared %d times, want 2", len(tr.cleared))
	}
	want := []time.Duration{time.Second, 2 * time.Second}
	if len(*slept) != len(want) {
		t.Fatalf("backoffs = %v, want %v", *slept, want)
	}
	for i, d := range want {
		if (*slept)[i] != d {
			t.Errorf("backoff[%d] = %v, want %v", i, (*slept)[i], d)
		}
	}
}

func TestManagerJoinBackoffIsCapped(t *testing.T) {
	t.Parallel()
	tr := &fakeTransport{joinErrs: []error{
		&CloseError{Code: 4006},
		&CloseError{Code: 4006},
		&CloseError{Code: 4006},
		&CloseError{Code: 4006},
		nil,
	}}
	m, slept := newTestManager(tr, WithJoinAttempts(5), WithJoinBackoffCap(5*time.Second))

	if _, err := m.Join(context.Background(), "g1", "c1"); err != nil {
		t.Fatalf("Join() error = %v", err)
	}
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second}
	if len(*slept) != len(want) {
		t.Fatalf("backoffs = %v, want %v", *slept, want)
	}
	if (*slept)[3] != 5*time.Second {
		t.Errorf("final backoff = %v, want cap 5s", (*slept)[3])
	}
}

func TestManagerJoinGivesUpAfterAttempts(t *testing.T) {
	t.Parallel()
	tr := &fakeTransport{joinErrs: []error{
		&CloseError{Code: 4006},
		&CloseError{Code: 4006},
		&CloseError{Code: 4006},
	}}
	m, _ := newTestManager(tr, WithJoinAttempts(3))

	_, err := m.Join(context.Background(), "g1", "c1")
	if err == nil {
		t.Fatal("Join() succeeded, want error")
	}
	if !strings.Contains(err.Error(), "invalidated the voice websocket") {
		t.Errorf("error = %q, want mention of invalidated websocket", err)
	}
	if got := tr.joinCount(); got != 3 {
		t.Errorf("transport joins = %d, want 3", got)
	}
}

func TestManagerJoinOtherCloseCodeFailsFast(t *testing.T) {
	t.Parallel()
	tr := &fakeTransport{joinErrs: []error{&CloseError{Code: 4014}}}
	m, slept := newTestManager(tr)

	_, err := m.Join(context.Background(), "g1", "c1")
	var closeErr *CloseError
	if !errors.As(err, &closeErr) || closeErr.Code != 4014 {
		t.Fatalf("Join() error = %v, want CloseError 4014", err)
	}
	if got := tr.joinCount(); got != 1 {
		t.Errorf("transport joins = %d, want 1", got)
	}
	if len(*slept) != 0 {
		t.Errorf("slept %v, want no backoff", *slept)
	}
}

func TestManagerJoinResetsOnAlreadyConnected(t *testing.T) {
	t.Parallel()
	tr := &fakeTransport{joinErrs: []error{ErrAlreadyConnected, nil}}
	m, slept := newTestManager(tr)

	if _, err := m.Join(context.Background(), "g1", "c1"); err != nil {
		t.Fatalf("Join() error = %v", err)
	}
	if len(tr.cleared) != 1 {
		t.Errorf("voice state cleared %d times, want 1", len(tr.cleared))
	}
	if len(*slept) != 1 || (*slept)[0] != time.Second {
		t.Errorf("backoffs = %v, want [1s]", *slept)
	}
}

func TestManagerJoinRetryHookReportsReasons(t *testing.T) {
	t.Parallel()
	tr := &fakeTransport{joinErrs: []error{
		&CloseError{Code: 4006},
		ErrAlreadyConnected,
		nil,
	}}
	var (
		mu      sync.Mutex
		reasons []string
	)
	m, _ := newTestManager(tr, WithJoinRetryHook(func(reason string) {
		mu.Lock()
		reasons = append(reasons, reason)
		mu.Unlock()
	}))

	if _, err := m.Join(context.Background(), "g1", "c1"); err != nil {
		t.Fatalf("Join() error = %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	want := []string{"session_invalid", "already_connected"}
	if len(reasons) != len(want) {
		t.Fatalf("retry reasons = %v, want %v", reasons, want)
	}
	for i := range want {
		if reasons[i] != want[i] {
			t.Errorf("reason[%d] = %q, want %q", i, reasons[i], want[i])
		}
	}
}

func TestManagerJoinSameChannelIsIdempotent(t *testing.T) {
	t.Parallel()
	tr := &fakeTransport{}
	m, _ := newTestManager(tr)

	first, err := m.Join(context.Background(), "g1", "c1")
	if err != nil {
		t.Fatalf("Join() error = %v", err)
	}
	second, err := m.Join(context.Background(), "g1", "c1")
	if err != nil {
		t.Fatalf("second Join() error = %v", err)
	}
	if first != second {
		t.Error("second Join() returned a different connection")
	}
	if got := tr.joinCount(); got != 1 {
		t.Errorf("transport joins = %d, want 1", got)
	}
}

func TestManagerConcurrentJoinsCollapse(t *testing.T) {
	t.Parallel()
	gate := make(chan struct{})
	tr := &fakeTransport{joinGate: gate}
	m, _ := newTestManager(tr)

	// Two callers race the same target while the transport is mid-dial.
	// Exactly one dial may reach the gateway and both callers must get
	// the same connection back.
	var (
		wg    sync.WaitGroup
		conns [2]Conn
		errs  [2]error
	)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conns[i], errs[i] = m.Join(context.Background(), "g1", "c1")
		}(i)
	}
	time.Sleep(20 * time.Millisecond)
	close(gate)
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("Join() #%d error = %v", i, err)
		}
	}
	if conns[0] != conns[1] {
		t.Error("concurrent joins returned different connections")
	}
	if got := tr.joinCount(); got != 1 {
		t.Errorf("transport joins = %d, want 1", got)
	}
}

func TestManagerJoinDifferentChannelMoves(t *testing.T) {
	t.Parallel()
	tr := &fakeTransport{}
	m, _ := newTestManager(tr)

	conn, err := m.Join(context.Background(), "g1", "c1")
	if err != nil {
		t.Fatalf("Join() error = %v", err)
	}
	moved, err := m.Join(context.Background(), "g1", "c2")
	if err != nil {
		t.Fatalf("Join() to other channel error = %v", err)
	}
	if moved != conn {
		t.Error("expected the existing connection to move, not a new dial")
	}
	fc := conn.(*fakeConn)
	if len(fc.moves) != 1 || fc.moves[0] != "c2" {
		t.Errorf("moves = %v, want [c2]", fc.moves)
	}
	if got := tr.joinCount(); got != 1 {
		t.Errorf("transport joins = %d, want 1", got)
	}
}

func TestManagerLeave(t *testing.T) {
	t.Parallel()
	tr := &fakeTransport{}
	m, _ := newTestManager(tr)

	conn, err := m.Join(context.Background(), "g1", "c1")
	if err != nil {
		t.Fatalf("Join() error = %v", err)
	}
	if err := m.Leave("g1"); err != nil {
		t.Fatalf("Leave() error = %v", err)
	}
	if !conn.(*fakeConn).isDisconnected() {
		t.Error("Leave() did not disconnect the connection")
	}
	if m.Conn("g1") != nil {
		t.Error("Conn() still returns a connection after Leave()")
	}
	if err := m.Leave("g1"); err != nil {
		t.Errorf("Leave() of disconnected guild error = %v, want nil", err)
	}
}

func TestManagerJoinCancelledContext(t *testing.T) {
	t.Parallel()
	tr := &fakeTransport{joinErrs: []error{&CloseError{Code: 4006}, nil}}
	m := NewManager(tr)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := m.Join(ctx, "g1", "c1")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Join() error = %v, want context.Canceled", err)
	}
}
