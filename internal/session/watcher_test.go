package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/voxform/callstream/internal/connection"
	"github.com/voxform/callstream/internal/events"
	"github.com/voxform/callstream/internal/transport"
)

// stubTransport satisfies connection.Transport for probe results.
type stubTransport struct{}

func (stubTransport) Start(ctx context.Context) error { return nil }
func (stubTransport) Stop() error                     { return nil }
func (stubTransport) Send(data []byte) error          { return nil }
func (stubTransport) On(event string, h events.Handler) *transport.Registration {
	return nil
}
func (stubTransport) Off(event string, regs ...*transport.Registration) {}
func (stubTransport) Clear()                                            {}
func (stubTransport) State() transport.State                            { return transport.StateConnected }
func (stubTransport) ConnectionID() string                              { return "stub" }
func (stubTransport) OnReconnecting(fn func(error))                     {}
func (stubTransport) OnReconnected(fn func(connID string))              {}
func (stubTransport) OnClose(fn func(error))                            {}

// fakeConnector scripts probe outcomes: each call consumes the next step.
type fakeConnector struct {
	mu        sync.Mutex
	steps     []func() (connection.Transport, error)
	calls     int
	connected bool
}

func (f *fakeConnector) EstablishConnection(ctx context.Context) (connection.Transport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := f.calls
	f.calls++
	if idx >= len(f.steps) {
		idx = len(f.steps) - 1
	}
	tr, err := f.steps[idx]()
	if tr != nil && err == nil {
		f.connected = true
	}
	return tr, err
}

func (f *fakeConnector) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeConnector) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func notReady() (connection.Transport, error) { return nil, nil }
func connects() (connection.Transport, error) { return stubTransport{}, nil }

func startWatcher(t *testing.T, cfg Config, conn Connector) *Watcher {
	t.Helper()
	w := New(cfg, conn, nil)
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		w.Stop(ctx)
	})
	return w
}

func TestWatcher_ConnectsAndFiresOnConnect(t *testing.T) {
	conn := &fakeConnector{steps: []func() (connection.Transport, error){
		notReady,
		notReady,
		connects,
	}}

	connected := make(chan struct{}, 4)
	startWatcher(t, Config{
		ProbeInterval: 5 * time.Millisecond,
		OnConnect:     func() { connected <- struct{}{} },
	}, conn)

	select {
	case <-connected:
	case <-time.After(2 * time.Second):
		t.Fatal("OnConnect never fired")
	}

	if got := conn.callCount(); got < 3 {
		t.Errorf("probe ran %d times, want at least 3 (two not-ready first)", got)
	}
}

func TestWatcher_StopsProbingOnceConnected(t *testing.T) {
	conn := &fakeConnector{steps: []func() (connection.Transport, error){connects}}

	connected := make(chan struct{}, 1)
	startWatcher(t, Config{
		ProbeInterval: 5 * time.Millisecond,
		OnConnect:     func() { connected <- struct{}{} },
	}, conn)

	select {
	case <-connected:
	case <-time.After(2 * time.Second):
		t.Fatal("watcher never connected")
	}

	calls := conn.callCount()
	time.Sleep(50 * time.Millisecond)
	if got := conn.callCount(); got != calls {
		t.Errorf("watcher kept probing while connected: %d -> %d calls", calls, got)
	}
}

func TestWatcher_KeepsProbingAfterError(t *testing.T) {
	conn := &fakeConnector{steps: []func() (connection.Transport, error){
		func() (connection.Transport, error) { return nil, errors.New("hub down") },
		connects,
	}}

	connected := make(chan struct{}, 1)
	startWatcher(t, Config{
		ProbeInterval: 5 * time.Millisecond,
		OnConnect:     func() { connected <- struct{}{} },
	}, conn)

	select {
	case <-connected:
	case <-time.After(2 * time.Second):
		t.Fatal("watcher gave up after a probe error")
	}
}

func TestWatcher_StopIsClean(t *testing.T) {
	conn := &fakeConnector{steps: []func() (connection.Transport, error){notReady}}
	w := New(Config{ProbeInterval: 5 * time.Millisecond}, conn, nil)
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := w.Stop(ctx); err != nil {
		t.Errorf("Stop failed: %v", err)
	}

	calls := conn.callCount()
	time.Sleep(30 * time.Millisecond)
	if got := conn.callCount(); got != calls {
		t.Error("watcher kept probing after Stop")
	}
}
