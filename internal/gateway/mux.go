package gateway

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/zsiec/wtgate/internal/webtransport"
)

type channelKind int

const (
	kindBidi channelKind = iota
	kindUni
	kindDatagram
)

// channelEvent is one ready channel: exactly one of bidi, uni or datagram is
// set, according to kind.
type channelEvent struct {
	kind     channelKind
	bidi     webtransport.Stream
	uni      webtransport.ReceiveStream
	datagram []byte
}

// multiplex races the three receive operations of the session and handles
// one ready channel per iteration. Each receive runs in its own producer
// goroutine feeding an unbuffered channel, so a producer holds at most one
// ready item and select picks among ready producers at random. The loop
// returns on the first error from a producer or from the handler.
func (s *session) multiplex(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	ready := make(chan channelEvent)

	g.Go(func() error {
		for {
			str, err := s.conn.AcceptStream(gctx)
			if err != nil {
				return fmt.Errorf("accept bidirectional stream: %w", err)
			}
			if !offer(gctx, ready, channelEvent{kind: kindBidi, bidi: str}) {
				str.Close()
				return gctx.Err()
			}
		}
	})

	g.Go(func() error {
		for {
			str, err := s.conn.AcceptUniStream(gctx)
			if err != nil {
				return fmt.Errorf("accept unidirectional stream: %w", err)
			}
			if !offer(gctx, ready, channelEvent{kind: kindUni, uni: str}) {
				str.CancelRead(0)
				return gctx.Err()
			}
		}
	})

	g.Go(func() error {
		for {
			b, err := s.conn.ReceiveDatagram(gctx)
			if err != nil {
				return fmt.Errorf("receive datagram: %w", err)
			}
			if !offer(gctx, ready, channelEvent{kind: kindDatagram, datagram: b}) {
				return gctx.Err()
			}
		}
	})

	loopErr := s.loop(gctx, ready)
	cancel()
	waitErr := g.Wait()

	if loopErr != nil {
		return loopErr
	}
	return waitErr
}

func (s *session) loop(ctx context.Context, ready <-chan channelEvent) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-ready:
			if err := s.handle(ctx, ev); err != nil {
				return err
			}
		}
	}
}

// offer hands ev to the loop, giving up when ctx is done.
func offer(ctx context.Context, ready chan<- channelEvent, ev channelEvent) bool {
	select {
	case ready <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
