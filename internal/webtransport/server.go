package webtransport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/quic-go/quic-go"
	"github.com/quic-go/quic-go/http3"
	wt "github.com/quic-go/webtransport-go"

	"github.com/zsiec/wtgate/internal/metrics"
)

// ErrServerClosed is returned by Accept once the server has been closed.
var ErrServerClosed = errors.New("webtransport: server closed")

// Incoming is a session request whose handshake has not been finalized.
// The holder must call Finish exactly once, after the session has ended or
// been rejected, to release the underlying HTTP/3 request.
type Incoming interface {
	// Authority is the :authority the client requested.
	Authority() string
	// Path is the request path including any query.
	Path() string
	// RemoteAddr is the client's UDP address.
	RemoteAddr() string
	// Accept completes the WebTransport upgrade.
	Accept() (Conn, error)
	// Reject answers the request with an HTTP status instead of upgrading.
	Reject(status int)
	// Finish releases the request.
	Finish()
}

// Listener yields pending WebTransport sessions.
type Listener interface {
	Accept(ctx context.Context) (Incoming, error)
}

// Config holds the listen address and transport tuning for a Server.
type Config struct {
	Addr string
	// Path restricts upgrades to one request path. Empty accepts any path.
	Path      string
	TLSConfig *tls.Config
	// KeepAlive is the QUIC keep-alive period.
	KeepAlive time.Duration
	// MaxIdleTimeout closes connections idle for longer than this.
	MaxIdleTimeout time.Duration
}

// Server is a WebTransport endpoint. Each upgrade request reaching its
// HTTP/3 handler is parked until a caller pulls it with Accept.
type Server struct {
	cfg     Config
	wtSrv   *wt.Server
	upgrade func(http.ResponseWriter, *http.Request) (*wt.Session, error)

	incoming  chan *request
	closed    chan struct{}
	closeOnce sync.Once
}

// Compile-time interface check.
var _ Listener = (*Server)(nil)

// NewServer creates a Server. It does not start listening.
func NewServer(cfg Config) *Server {
	if cfg.KeepAlive == 0 {
		cfg.KeepAlive = 3 * time.Second
	}
	if cfg.MaxIdleTimeout == 0 {
		cfg.MaxIdleTimeout = 30 * time.Second
	}

	s := &Server{
		cfg:      cfg,
		incoming: make(chan *request),
		closed:   make(chan struct{}),
	}

	s.wtSrv = &wt.Server{
		H3: http3.Server{
			Addr:      cfg.Addr,
			Handler:   s,
			TLSConfig: cfg.TLSConfig,
			QUICConfig: &quic.Config{
				KeepAlivePeriod: cfg.KeepAlive,
				MaxIdleTimeout:  cfg.MaxIdleTimeout,
				EnableDatagrams: true,
			},
			EnableDatagrams: true,
		},
		// SECURITY: CheckOrigin accepts all origins. Browsers authenticate the
		// server through the pinned certificate digest; deployments that need
		// origin enforcement should do it at a proxy.
		CheckOrigin: func(_ *http.Request) bool {
			return true
		},
	}
	s.upgrade = s.wtSrv.Upgrade
	return s
}

// ListenAndServe binds the UDP socket and serves HTTP/3 until ctx is
// cancelled or a fatal error occurs. A cancelled context is not an error.
func (s *Server) ListenAndServe(ctx context.Context) error {
	conn, err := net.ListenPacket("udp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Addr, err)
	}
	defer conn.Close()
	return s.Serve(ctx, conn)
}

// Serve serves HTTP/3 on an existing packet connection until ctx is
// cancelled. The caller keeps ownership of conn.
func (s *Server) Serve(ctx context.Context, conn net.PacketConn) error {
	slog.Info("WebTransport server listening", "addr", conn.LocalAddr().String(), "path", s.cfg.Path)

	stop := context.AfterFunc(ctx, func() { s.Close() })
	defer stop()

	err := s.wtSrv.Serve(conn)
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// Close stops accepting sessions and closes the HTTP/3 server, which tears
// down every connection it carries.
func (s *Server) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closed)
		err = s.wtSrv.Close()
	})
	return err
}

// Accept blocks until a session request arrives, the server closes, or ctx
// is done.
func (s *Server) Accept(ctx context.Context) (Incoming, error) {
	select {
	case req := <-s.incoming:
		return req, nil
	case <-s.closed:
		return nil, ErrServerClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ServeHTTP parks each upgrade request until Accept picks it up and the
// session driven from it has finished.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Path != "" && r.URL.Path != s.cfg.Path {
		slog.Debug("rejecting session request for unknown path", "path", r.URL.Path, "remote", r.RemoteAddr)
		metrics.SessionErrors.WithLabelValues(metrics.KindHandshake).Inc()
		http.NotFound(w, r)
		return
	}

	req := &request{
		w:       w,
		r:       r,
		upgrade: s.upgrade,
		done:    make(chan struct{}),
	}

	select {
	case s.incoming <- req:
	case <-s.closed:
		http.Error(w, "server closing", http.StatusServiceUnavailable)
		return
	case <-r.Context().Done():
		return
	}

	<-req.done
}

// request is one parked upgrade request.
type request struct {
	w       http.ResponseWriter
	r       *http.Request
	upgrade func(http.ResponseWriter, *http.Request) (*wt.Session, error)

	done     chan struct{}
	finished sync.Once
}

func (q *request) Authority() string  { return q.r.Host }
func (q *request) Path() string       { return q.r.URL.RequestURI() }
func (q *request) RemoteAddr() string { return q.r.RemoteAddr }

func (q *request) Accept() (Conn, error) {
	sess, err := q.upgrade(q.w, q.r)
	if err != nil {
		http.Error(q.w, "webtransport upgrade failed", http.StatusBadRequest)
		return nil, fmt.Errorf("upgrade: %w", err)
	}
	return &session{s: sess}, nil
}

func (q *request) Reject(status int) {
	http.Error(q.w, http.StatusText(status), status)
}

func (q *request) Finish() {
	q.finished.Do(func() { close(q.done) })
}
