package gateway

import (
	"bytes"
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/zsiec/wtgate/internal/webhook"
	"github.com/zsiec/wtgate/internal/webtransport"
)

var errPeerGone = errors.New("session closed by peer")

// fakeStream is a bidirectional stream carrying a fixed inbound payload.
type fakeStream struct {
	in     *bytes.Reader
	mu     sync.Mutex
	out    bytes.Buffer
	closed chan struct{}
	once   sync.Once
}

func newFakeStream(payload []byte) *fakeStream {
	return &fakeStream{in: bytes.NewReader(payload), closed: make(chan struct{})}
}

func (f *fakeStream) Read(p []byte) (int, error) { return f.in.Read(p) }

func (f *fakeStream) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.out.Write(p)
}

func (f *fakeStream) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeStream) written() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.out.String()
}

// fakeRecvStream is a peer-initiated unidirectional stream.
type fakeRecvStream struct {
	in        *bytes.Reader
	cancelled atomic.Bool
}

func newFakeRecvStream(payload []byte) *fakeRecvStream {
	return &fakeRecvStream{in: bytes.NewReader(payload)}
}

func (f *fakeRecvStream) Read(p []byte) (int, error) { return f.in.Read(p) }

func (f *fakeRecvStream) CancelRead(webtransport.StreamErrorCode) { f.cancelled.Store(true) }

// fakeSendStream is a unidirectional stream opened by the gateway.
type fakeSendStream struct {
	mu  sync.Mutex
	out bytes.Buffer
}

func (f *fakeSendStream) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.out.Write(p)
}

func (f *fakeSendStream) Close() error { return nil }

func (f *fakeSendStream) written() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.out.String()
}

// fakeConn is an established session driven by the test.
type fakeConn struct {
	bidi   chan *fakeStream
	uni    chan *fakeRecvStream
	dgrams chan []byte

	// outUni receives every stream the gateway opens, after it is finished.
	outUni chan *fakeSendStream
	// outDgrams receives every datagram the gateway sends.
	outDgrams chan []byte

	sendDatagramErr error

	gone     chan struct{}
	goneOnce sync.Once

	closeMu   sync.Mutex
	closeCode webtransport.SessionErrorCode
	closeMsg  string
	closedBy  bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		bidi:      make(chan *fakeStream),
		uni:       make(chan *fakeRecvStream),
		dgrams:    make(chan []byte),
		outUni:    make(chan *fakeSendStream, 16),
		outDgrams: make(chan []byte, 16),
		gone:      make(chan struct{}),
	}
}

// peerClose simulates the client closing the session.
func (c *fakeConn) peerClose() {
	c.goneOnce.Do(func() { close(c.gone) })
}

func (c *fakeConn) AcceptStream(ctx context.Context) (webtransport.Stream, error) {
	select {
	case s := <-c.bidi:
		return s, nil
	case <-c.gone:
		return nil, errPeerGone
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *fakeConn) AcceptUniStream(ctx context.Context) (webtransport.ReceiveStream, error) {
	select {
	case s := <-c.uni:
		return s, nil
	case <-c.gone:
		return nil, errPeerGone
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *fakeConn) ReceiveDatagram(ctx context.Context) ([]byte, error) {
	select {
	case b := <-c.dgrams:
		return b, nil
	case <-c.gone:
		return nil, errPeerGone
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *fakeConn) OpenUniStreamSync(context.Context) (webtransport.SendStream, error) {
	s := &fakeSendStream{}
	return &reportingSendStream{fakeSendStream: s, report: c.outUni}, nil
}

func (c *fakeConn) SendDatagram(b []byte) error {
	if c.sendDatagramErr != nil {
		return c.sendDatagramErr
	}
	c.outDgrams <- append([]byte(nil), b...)
	return nil
}

func (c *fakeConn) CloseWithError(code webtransport.SessionErrorCode, msg string) error {
	c.closeMu.Lock()
	c.closeCode, c.closeMsg, c.closedBy = code, msg, true
	c.closeMu.Unlock()
	c.peerClose()
	return nil
}

func (c *fakeConn) RemoteAddr() net.Addr {
	return &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 50000}
}

func (c *fakeConn) closedWith() (webtransport.SessionErrorCode, bool) {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()
	return c.closeCode, c.closedBy
}

// reportingSendStream publishes itself on Close.
type reportingSendStream struct {
	*fakeSendStream
	report chan<- *fakeSendStream
}

func (r *reportingSendStream) Close() error {
	r.report <- r.fakeSendStream
	return nil
}

// fakeIncoming is a pending session request.
type fakeIncoming struct {
	conn      *fakeConn
	acceptErr error
	finished  atomic.Bool
	rejected  atomic.Int32
	accepted  atomic.Bool
}

func (f *fakeIncoming) Authority() string  { return "localhost:4433" }
func (f *fakeIncoming) Path() string       { return "/" }
func (f *fakeIncoming) RemoteAddr() string { return "127.0.0.1:50000" }
func (f *fakeIncoming) Reject(status int)  { f.rejected.Store(int32(status)) }
func (f *fakeIncoming) Finish()            { f.finished.Store(true) }

func (f *fakeIncoming) Accept() (webtransport.Conn, error) {
	f.accepted.Store(true)
	if f.acceptErr != nil {
		return nil, f.acceptErr
	}
	return f.conn, nil
}

// fakeListener hands out queued requests.
type fakeListener struct {
	queue chan webtransport.Incoming
	err   error
}

func (l *fakeListener) Accept(ctx context.Context) (webtransport.Incoming, error) {
	if l.err != nil {
		return nil, l.err
	}
	select {
	case in := <-l.queue:
		return in, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// recorder is an Emitter that keeps every event.
type recorder struct {
	mu     sync.Mutex
	events []webhook.Event
	ch     chan webhook.Event
}

func newRecorder() *recorder {
	return &recorder{ch: make(chan webhook.Event, 1024)}
}

func (r *recorder) Emit(ev webhook.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	r.ch <- ev
}

func (r *recorder) forConn(id string) []webhook.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []webhook.Event
	for _, ev := range r.events {
		if ev.ConnectionID == id {
			out = append(out, ev)
		}
	}
	return out
}

func (r *recorder) all() []webhook.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]webhook.Event(nil), r.events...)
}

// next waits for the next event of the given type.
func (r *recorder) next(t *testing.T, typ webhook.EventType) webhook.Event {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev := <-r.ch:
			if ev.Type == typ {
				return ev
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s event", typ)
			return webhook.Event{}
		}
	}
}

// startSession runs one session against conn and returns a channel closed
// once the session goroutine has returned.
func startSession(t *testing.T, g *Gateway, in *fakeIncoming) <-chan struct{} {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	done := make(chan struct{})
	go func() {
		defer close(done)
		g.handleSession(ctx, 1, in)
	}()
	return done
}

func waitClosed(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}
