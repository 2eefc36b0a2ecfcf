package webtransport

import (
	"context"
	"errors"
	"io"
	"net"

	wt "github.com/quic-go/webtransport-go"
)

// SessionErrorCode is the application error code carried by a session close.
type SessionErrorCode = wt.SessionErrorCode

// StreamErrorCode is the application error code used to abort a stream.
type StreamErrorCode = wt.StreamErrorCode

// Stream is a bidirectional stream. Close finishes the send direction only.
type Stream interface {
	io.Reader
	io.Writer
	io.Closer
}

// ReceiveStream is the read-only half of a peer-initiated unidirectional stream.
type ReceiveStream interface {
	io.Reader
	CancelRead(StreamErrorCode)
}

// SendStream is a locally opened unidirectional stream. Close finishes it.
type SendStream interface {
	io.Writer
	io.Closer
}

// Conn is an established WebTransport session.
type Conn interface {
	AcceptStream(ctx context.Context) (Stream, error)
	AcceptUniStream(ctx context.Context) (ReceiveStream, error)
	OpenUniStreamSync(ctx context.Context) (SendStream, error)
	ReceiveDatagram(ctx context.Context) ([]byte, error)
	SendDatagram(b []byte) error
	CloseWithError(code SessionErrorCode, msg string) error
	RemoteAddr() net.Addr
}

// Compile-time interface check.
var _ Conn = (*session)(nil)

// session adapts *webtransport.Session to Conn.
type session struct {
	s *wt.Session
}

func (c *session) AcceptStream(ctx context.Context) (Stream, error) {
	str, err := c.s.AcceptStream(ctx)
	if err != nil {
		return nil, err
	}
	return str, nil
}

func (c *session) AcceptUniStream(ctx context.Context) (ReceiveStream, error) {
	str, err := c.s.AcceptUniStream(ctx)
	if err != nil {
		return nil, err
	}
	return str, nil
}

func (c *session) OpenUniStreamSync(ctx context.Context) (SendStream, error) {
	str, err := c.s.OpenUniStreamSync(ctx)
	if err != nil {
		return nil, err
	}
	return str, nil
}

// ReceiveDatagram returns the session's close error rather than io.EOF once
// the datagram queue has been shut down, so that every receive path reports
// the same cause.
func (c *session) ReceiveDatagram(ctx context.Context) ([]byte, error) {
	b, err := c.s.ReceiveDatagram(ctx)
	if errors.Is(err, io.EOF) {
		return nil, c.closeCause(ctx, err)
	}
	return b, err
}

// closeCause waits for the session to finish closing and returns the error
// it was closed with, or fallback if none is recorded.
func (c *session) closeCause(ctx context.Context, fallback error) error {
	select {
	case <-c.s.Context().Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	// A closed session fails AcceptUniStream with its close error immediately.
	if _, err := c.s.AcceptUniStream(ctx); err != nil {
		return err
	}
	return fallback
}

func (c *session) SendDatagram(b []byte) error {
	return c.s.SendDatagram(b)
}

func (c *session) CloseWithError(code SessionErrorCode, msg string) error {
	return c.s.CloseWithError(code, msg)
}

func (c *session) RemoteAddr() net.Addr {
	return c.s.RemoteAddr()
}
