package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/zsiec/wtgate/internal/metrics"
)

// newReceiver starts a webhook endpoint that forwards raw bodies to the
// returned channel.
func newReceiver(t *testing.T, status int) (*httptest.Server, <-chan []byte) {
	t.Helper()
	ch := make(chan []byte, 16)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q, want application/json", ct)
		}
		body, _ := io.ReadAll(r.Body)
		ch <- body
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv, ch
}

func recv(t *testing.T, ch <-chan []byte) []byte {
	t.Helper()
	select {
	case b := <-ch:
		return b
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for webhook delivery")
		return nil
	}
}

func TestEmitMessageReceived(t *testing.T) {
	t.Parallel()

	srv, ch := newReceiver(t, http.StatusOK)
	sink := NewSink(srv.URL)

	sink.Emit(MessageReceived("c-1", TransportBidi, "hello from browser"))

	var got map[string]any
	if err := json.Unmarshal(recv(t, ch), &got); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	want := map[string]any{
		"type":          "message_received",
		"connection_id": "c-1",
		"transport":     "webtransport/bi",
		"payload":       "hello from browser",
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("%s = %v, want %v", k, got[k], v)
		}
	}
}

func TestEmitConnectedOmitsPayload(t *testing.T) {
	t.Parallel()

	srv, ch := newReceiver(t, http.StatusNoContent)
	sink := NewSink(srv.URL)

	sink.Emit(Connected("c-2"))

	var got map[string]any
	if err := json.Unmarshal(recv(t, ch), &got); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if _, ok := got["payload"]; ok {
		t.Fatalf("payload present on connected event: %v", got)
	}
	if got["transport"] != "webtransport" {
		t.Fatalf("transport = %v, want webtransport", got["transport"])
	}
}

func TestEmitDoesNotBlock(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	t.Cleanup(func() {
		close(release)
		srv.Close()
	})

	sink := NewSink(srv.URL)
	start := time.Now()
	for range 10 {
		sink.Emit(Disconnected("c-3", "closed by peer"))
	}
	if d := time.Since(start); d > 500*time.Millisecond {
		t.Fatalf("Emit blocked for %v", d)
	}
}

func TestNilSinkIsNoop(t *testing.T) {
	t.Parallel()

	sink := NewSink("")
	if sink.Enabled() {
		t.Fatal("sink with empty URL reports enabled")
	}
	sink.Emit(Connected("c-4")) // must not panic
	if err := sink.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestCloseWaitsForDeliveries(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	delivered := make(chan struct{}, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		delivered <- struct{}{}
	}))
	t.Cleanup(srv.Close)

	sink := NewSink(srv.URL)
	sink.Emit(Disconnected("c-7", "gateway shutting down"))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := sink.Close(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Close with pending delivery = %v, want deadline exceeded", err)
	}

	close(release)
	if err := sink.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	select {
	case <-delivered:
	default:
		t.Fatal("Close returned before the delivery finished")
	}
}

func TestFailedDeliveryIsCounted(t *testing.T) {
	// Not parallel: reads shared counters.
	srv, ch := newReceiver(t, http.StatusInternalServerError)
	sink := NewSink(srv.URL)

	failed := metrics.WebhookEvents.WithLabelValues(string(EventConnected), metrics.ResultFailed)
	before := testutil.ToFloat64(failed)

	sink.Emit(Connected("c-5"))
	recv(t, ch)

	deadline := time.Now().Add(2 * time.Second)
	for testutil.ToFloat64(failed) == before {
		if time.Now().After(deadline) {
			t.Fatal("failed delivery was not counted")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestUnreachableEndpointReturnsError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	sink := NewSink(url)
	if err := sink.send(Connected("c-6")); err == nil {
		t.Fatal("expected error posting to closed endpoint")
	}
}
