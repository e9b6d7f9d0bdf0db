package whatsapp

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/types"
)

type fakeStore struct {
	mu      sync.Mutex
	loads   int
	saves   int
	loadErr error
	saveErr error
}

func (s *fakeStore) Load(_ context.Context, _ string) (*store.Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loads++
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	return &store.Device{}, nil
}

func (s *fakeStore) Save(_ context.Context, _ string, _ *store.Device) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves++
	return s.saveErr
}

type sentText struct {
	to   string
	text string
}

type fakeSocket struct {
	mu           sync.Mutex
	handler      func(any)
	connectErr   error
	sendErr      error
	connected    bool
	disconnected bool
	sent         []sentText
}

func (s *fakeSocket) OnEvent(fn func(any)) {
	s.mu.Lock()
	s.handler = fn
	s.mu.Unlock()
}

func (s *fakeSocket) Connect(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.connectErr != nil {
		return s.connectErr
	}
	s.connected = true
	return nil
}

func (s *fakeSocket) state() (connected, disconnected, hooked bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected, s.disconnected, s.handler != nil
}

func (s *fakeSocket) Disconnect() {
	s.mu.Lock()
	s.disconnected = true
	s.mu.Unlock()
}

func (s *fakeSocket) SendText(_ context.Context, to types.JID, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sendErr != nil {
		return s.sendErr
	}
	s.sent = append(s.sent, sentText{to: to.String(), text: text})
	return nil
}

func (s *fakeSocket) emit(evt any) {
	s.mu.Lock()
	h := s.handler
	s.mu.Unlock()
	if h != nil {
		h(evt)
	}
}

type fakeDialer struct {
	mu         sync.Mutex
	sockets    []*fakeSocket
	versions   []store.WAVersionContainer
	dialErr    error
	connectErr error

	// hold, when set, parks the next Dial until it is closed; entered is
	// signalled once that Dial is parked.
	hold    chan struct{}
	entered chan struct{}
}

func (d *fakeDialer) holdNext() (release func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.hold = make(chan struct{})
	d.entered = make(chan struct{})
	hold := d.hold
	return func() { close(hold) }
}

func (d *fakeDialer) Dial(_ context.Context, _ *store.Device, v store.WAVersionContainer) (Socket, error) {
	d.mu.Lock()
	hold, entered := d.hold, d.entered
	d.hold, d.entered = nil, nil
	d.mu.Unlock()
	if hold != nil {
		close(entered)
		<-hold
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.dialErr != nil {
		return nil, d.dialErr
	}
	s := &fakeSocket{connectErr: d.connectErr}
	d.sockets = append(d.sockets, s)
	d.versions = append(d.versions, v)
	return s, nil
}

func (d *fakeDialer) dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sockets)
}

func (d *fakeDialer) last() *fakeSocket {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sockets[len(d.sockets)-1]
}

func (d *fakeDialer) socket(i int) *fakeSocket {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sockets[i]
}

type fakeVersions struct {
	v   store.WAVersionContainer
	err error
}

func (f fakeVersions) LatestVersion(context.Context) (store.WAVersionContainer, error) {
	return f.v, f.err
}

// countingVersions hands out a new minor version on every lookup.
type countingVersions struct {
	mu    sync.Mutex
	calls int
}

func (c *countingVersions) LatestVersion(context.Context) (store.WAVersionContainer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return store.WAVersionContainer{2, 3000, uint32(c.calls)}, nil
}

type fakeTimer struct {
	delay   time.Duration
	fn      func()
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	was := !t.stopped
	t.stopped = true
	return was
}

type fakeClock struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{delay: d, fn: f}
	c.timers = append(c.timers, t)
	return t
}

func (c *fakeClock) scheduled() []*fakeTimer {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*fakeTimer(nil), c.timers...)
}

var errBoom = errors.New("boom")
