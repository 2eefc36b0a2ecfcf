package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/zsiec/wtgate/internal/metrics"
	"github.com/zsiec/wtgate/internal/webhook"
	"github.com/zsiec/wtgate/internal/webtransport"
)

// readBufferSize is the per-session stream read buffer.
const readBufferSize = 64 * 1024

// Session close codes sent to clients via CloseWithError.
const (
	closeNormal         webtransport.SessionErrorCode = 0
	closeInvalidPayload webtransport.SessionErrorCode = 1
	closeInternal       webtransport.SessionErrorCode = 2
)

type state int

const (
	statePending state = iota
	stateActive
	stateClosed
)

func (st state) String() string {
	switch st {
	case statePending:
		return "pending"
	case stateActive:
		return "active"
	case stateClosed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int(st))
}

// session is the state of one accepted WebTransport connection. It is owned
// by a single goroutine and never shared.
type session struct {
	id     string
	log    *slog.Logger
	events Emitter
	state  state
	conn   webtransport.Conn
	buf    []byte
}

// newConnectionID returns a process-unique correlation id.
func newConnectionID() string {
	return uuid.NewString()
}

func newSession(seq uint64, events Emitter) *session {
	id := newConnectionID()
	return &session{
		id:     id,
		log:    slog.With("wt", seq, "conn", id),
		events: events,
		state:  statePending,
		buf:    make([]byte, readBufferSize),
	}
}

// run completes the handshake, emits connected, and multiplexes until the
// first terminal error.
func (s *session) run(ctx context.Context, in webtransport.Incoming) error {
	s.log.Info("new session",
		"authority", in.Authority(),
		"path", in.Path(),
		"remote", in.RemoteAddr(),
	)

	if err := ctx.Err(); err != nil {
		s.state = stateClosed
		in.Reject(http.StatusServiceUnavailable)
		return fmt.Errorf("handshake: %w", err)
	}

	conn, err := in.Accept()
	if err != nil {
		s.state = stateClosed
		metrics.SessionErrors.WithLabelValues(metrics.KindHandshake).Inc()
		return fmt.Errorf("handshake: %w", err)
	}
	s.conn = conn
	s.state = stateActive

	metrics.SessionsActive.Inc()
	defer metrics.SessionsActive.Dec()

	s.log.Debug("session ready, waiting for client data", "state", s.state, "peer", conn.RemoteAddr().String())
	s.events.Emit(webhook.Connected(s.id))

	err = s.multiplex(ctx)
	s.state = stateClosed
	s.close(err)
	return err
}

// close reports err to the client as a session close code.
func (s *session) close(err error) {
	code, msg := closeInternal, "internal error"
	switch {
	case errors.Is(err, ErrInvalidUTF8):
		metrics.SessionErrors.WithLabelValues(metrics.KindDecode).Inc()
		code, msg = closeInvalidPayload, "payload is not valid UTF-8"
	case errors.Is(err, context.Canceled):
		code, msg = closeNormal, "going away"
	case webtransport.PeerClosed(err):
		return
	default:
		metrics.SessionErrors.WithLabelValues(metrics.KindIO).Inc()
	}
	if cerr := s.conn.CloseWithError(code, msg); cerr != nil {
		s.log.Debug("close session", "error", cerr)
	}
}

// describeClose renders a session's termination cause for the disconnected
// event.
func describeClose(err error) string {
	switch {
	case err == nil:
		return "session closed"
	case errors.Is(err, context.Canceled):
		return "gateway shutting down"
	case webtransport.PeerClosed(err):
		return "closed by peer: " + err.Error()
	}
	return err.Error()
}
