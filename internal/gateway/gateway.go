// Package gateway drives accepted WebTransport sessions. Every session runs
// in its own goroutine: it completes the handshake, then multiplexes the
// session's bidirectional streams, unidirectional streams and datagrams,
// answering each payload with "ACK" and reporting lifecycle and message
// events to an Emitter.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/zsiec/wtgate/internal/metrics"
	"github.com/zsiec/wtgate/internal/webhook"
	"github.com/zsiec/wtgate/internal/webtransport"
)

// Emitter receives gateway events. Emit must not block.
type Emitter interface {
	Emit(ev webhook.Event)
}

// Gateway is the endpoint acceptor. Sessions are unsupervised and share
// nothing but the Emitter.
type Gateway struct {
	events Emitter
	wg     sync.WaitGroup
}

// New creates a Gateway reporting to events. A nil Emitter discards events.
func New(events Emitter) *Gateway {
	if events == nil {
		events = discard{}
	}
	return &Gateway{events: events}
}

// Serve accepts sessions from l until ctx is cancelled or l is closed, and
// spawns one goroutine per session without waiting for it. There is no cap
// on concurrent sessions. Before returning, Serve waits for running sessions
// to observe ctx and finish.
func (g *Gateway) Serve(ctx context.Context, l webtransport.Listener) error {
	defer g.wg.Wait()

	for seq := uint64(1); ; seq++ {
		in, err := l.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, webtransport.ErrServerClosed) {
				return nil
			}
			return fmt.Errorf("accept session: %w", err)
		}

		metrics.SessionsTotal.Inc()
		g.wg.Add(1)
		go func() {
			defer g.wg.Done()
			g.handleSession(ctx, seq, in)
		}()
	}
}

// handleSession owns one session from handshake to the disconnected event.
func (g *Gateway) handleSession(ctx context.Context, seq uint64, in webtransport.Incoming) {
	defer in.Finish()

	s := newSession(seq, g.events)
	err := s.run(ctx, in)

	reason := describeClose(err)
	if abnormal(err) {
		s.log.Warn("session ended", "reason", reason)
	} else {
		s.log.Info("session ended", "reason", reason)
	}
	s.events.Emit(webhook.Disconnected(s.id, reason))
}

// abnormal reports whether a session ended for a reason other than the
// client leaving or the gateway shutting down.
func abnormal(err error) bool {
	return err != nil && !errors.Is(err, context.Canceled) && !webtransport.PeerClosed(err)
}

type discard struct{}

func (discard) Emit(webhook.Event) {}
