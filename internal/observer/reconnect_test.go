package observer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stacksignal/eventpipe/internal/pipeline/router"
)

func TestBackoffDelay(t *testing.T) {
	base := 100 * time.Millisecond
	want := []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		800 * time.Millisecond,
		1600 * time.Millisecond,
	}
	for i, expected := range want {
		if got := backoffDelay(base, i+1); got != expected {
			t.Errorf("Attempt %d: expected %v, got %v", i+1, expected, got)
		}
	}
}

func TestObserver_ReconnectExhaustion(t *testing.T) {
	registry := router.NewManager(nil)
	upstream := &stubUpstream{}

	cfg := testConfig(registry)
	cfg.Upstream = upstream

	o, _ := New(cfg)

	var mu sync.Mutex
	var transitions []State
	o.OnStateChange(func(from, to State) {
		mu.Lock()
		transitions = append(transitions, to)
		mu.Unlock()
	})

	if err := o.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer o.Stop(context.Background())
	startupCalls := upstream.callCount()

	upstream.setFail(true)
	o.Fail(errors.New("upstream connection closed"))

	var terminal error
	select {
	case terminal = <-o.Failures():
	case <-time.After(3 * time.Second):
		t.Fatal("No terminal failure signal after reconnect exhaustion")
	}
	if terminal == nil {
		t.Fatal("Expected a non-nil terminal error")
	}

	// one registration per reconnect attempt, exactly max attempts
	if got := upstream.callCount() - startupCalls; got != cfg.MaxReconnectAttempts {
		t.Errorf("Expected %d reconnect registrations, got %d", cfg.MaxReconnectAttempts, got)
	}
	if o.State() != StateStopped {
		t.Errorf("Expected stopped state after exhaustion, got %s", o.State())
	}

	mu.Lock()
	defer mu.Unlock()
	if len(transitions) == 0 || transitions[len(transitions)-1] != StateStopped {
		t.Errorf("Expected final transition to stopped, got %v", transitions)
	}
	// one entry into reconnecting; the reschedules stay in that state
	reconnecting := 0
	for _, s := range transitions {
		if s == StateReconnecting {
			reconnecting++
		}
	}
	if reconnecting != 1 {
		t.Errorf("Expected a single reconnecting transition, got %d", reconnecting)
	}
}

func TestObserver_ConcurrentFailStartsOneCycle(t *testing.T) {
	registry := router.NewManager(nil)
	upstream := &stubUpstream{}

	cfg := testConfig(registry)
	cfg.Upstream = upstream

	o, _ := New(cfg)
	if err := o.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer o.Stop(context.Background())
	startupCalls := upstream.callCount()

	upstream.setFail(true)

	// a Serve error racing an upstream failure: both report at once
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			o.Fail(errors.New("upstream connection closed"))
		}()
	}
	wg.Wait()

	select {
	case <-o.Failures():
	case <-time.After(3 * time.Second):
		t.Fatal("No terminal failure signal after reconnect exhaustion")
	}

	// a second overlapping cycle would double the registrations
	if got := upstream.callCount() - startupCalls; got != cfg.MaxReconnectAttempts {
		t.Errorf("Expected %d reconnect registrations from a single cycle, got %d",
			cfg.MaxReconnectAttempts, got)
	}
}

func TestObserver_ReconnectRecovers(t *testing.T) {
	registry := router.NewManager(nil)
	upstream := &stubUpstream{}

	cfg := testConfig(registry)
	cfg.Upstream = upstream
	// slow enough that the test can flip the stub between attempts
	cfg.ReconnectBaseDelay = 20 * time.Millisecond

	o, _ := New(cfg)
	if err := o.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer o.Stop(context.Background())

	upstream.setFail(true)
	o.Fail(errors.New("upstream connection closed"))

	// let two attempts fail, then allow the third to succeed
	waitFor(t, func() bool { return upstream.callCount() >= 3 })
	upstream.setFail(false)

	waitFor(t, func() bool { return o.State() == StateRunning })

	select {
	case err := <-o.Failures():
		t.Fatalf("Unexpected terminal failure after recovery: %v", err)
	default:
	}

	// a later failure starts a fresh attempt counter
	upstream.setFail(true)
	before := upstream.callCount()
	o.Fail(errors.New("upstream connection closed again"))
	waitFor(t, func() bool { return upstream.callCount() > before })
	upstream.setFail(false)
	waitFor(t, func() bool { return o.State() == StateRunning })
}

func TestObserver_FailIgnoredWhenNotRunning(t *testing.T) {
	registry := router.NewManager(nil)
	upstream := &stubUpstream{}

	cfg := testConfig(registry)
	cfg.Upstream = upstream

	o, _ := New(cfg)
	o.Fail(errors.New("spurious"))

	if upstream.callCount() != 0 {
		t.Errorf("Fail on a stopped observer must not reconnect, got %d calls", upstream.callCount())
	}
	if o.State() != StateStopped {
		t.Errorf("Expected stopped, got %s", o.State())
	}
}
