package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"

	"github.com/zsiec/wtgate/internal/metrics"
	"github.com/zsiec/wtgate/internal/webhook"
)

// ErrInvalidUTF8 is returned when a payload is not valid UTF-8. It ends the
// session.
var ErrInvalidUTF8 = errors.New("payload is not valid UTF-8")

// ack is the reply to every payload on every channel kind.
var ack = []byte("ACK")

// handle answers one ready channel. A bidirectional stream is answered on its
// own send half, a unidirectional stream on a newly opened unidirectional
// stream, and a datagram with a datagram.
func (s *session) handle(ctx context.Context, ev channelEvent) error {
	switch ev.kind {
	case kindBidi:
		defer ev.bidi.Close()

		n, err := readPayload(ev.bidi, s.buf)
		if err != nil {
			return fmt.Errorf("read bidirectional stream: %w", err)
		}
		if n == 0 {
			return nil
		}
		if err := s.receive(webhook.TransportBidi, s.buf[:n]); err != nil {
			return err
		}
		if _, err := ev.bidi.Write(ack); err != nil {
			return fmt.Errorf("write ack on bidirectional stream: %w", err)
		}
		return nil

	case kindUni:
		n, err := readPayload(ev.uni, s.buf)
		ev.uni.CancelRead(0)
		if err != nil {
			return fmt.Errorf("read unidirectional stream: %w", err)
		}
		if n == 0 {
			return nil
		}
		if err := s.receive(webhook.TransportUni, s.buf[:n]); err != nil {
			return err
		}

		out, err := s.conn.OpenUniStreamSync(ctx)
		if err != nil {
			return fmt.Errorf("open unidirectional stream: %w", err)
		}
		if _, err := out.Write(ack); err != nil {
			out.Close()
			return fmt.Errorf("write ack on unidirectional stream: %w", err)
		}
		if err := out.Close(); err != nil {
			return fmt.Errorf("finish unidirectional stream: %w", err)
		}
		return nil

	case kindDatagram:
		if err := s.receive(webhook.TransportDatagram, ev.datagram); err != nil {
			return err
		}
		if err := s.conn.SendDatagram(ack); err != nil {
			return fmt.Errorf("send datagram: %w", err)
		}
		return nil
	}
	return fmt.Errorf("unknown channel kind %d", ev.kind)
}

// receive validates a payload and reports it.
func (s *session) receive(transport string, b []byte) error {
	if !utf8.Valid(b) {
		return fmt.Errorf("%s: %w", transport, ErrInvalidUTF8)
	}
	text := string(b)
	s.log.Debug("received", "transport", transport, "payload", text)
	metrics.Messages.WithLabelValues(transport).Inc()
	s.events.Emit(webhook.MessageReceived(s.id, transport, text))
	return nil
}

// readPayload performs a single read into buf. A stream finished by the
// peer before sending anything yields zero bytes and no error.
func readPayload(r io.Reader, buf []byte) (int, error) {
	n, err := r.Read(buf)
	if n > 0 {
		return n, nil
	}
	if err == nil || errors.Is(err, io.EOF) {
		return 0, nil
	}
	return 0, err
}
