package webtransport

import (
	"errors"
	"io"

	"github.com/quic-go/quic-go"
	wt "github.com/quic-go/webtransport-go"
)

// PeerClosed reports whether err is the result of the client closing the
// session or its QUIC connection. A bare io.EOF from a receive path counts
// as a peer close.
func PeerClosed(err error) bool {
	if errors.Is(err, io.EOF) {
		return true
	}
	var se *wt.SessionError
	if errors.As(err, &se) {
		return se.Remote
	}
	var ae *quic.ApplicationError
	if errors.As(err, &ae) {
		return ae.Remote
	}
	var ie *quic.IdleTimeoutError
	return errors.As(err, &ie)
}
