// Package webhook relays gateway lifecycle and message events to an external
// HTTP endpoint. Delivery is fire-and-forget: every event is posted from its
// own goroutine, failures are logged and dropped, and nothing is retried.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/zsiec/wtgate/internal/metrics"
)

// Timeout bounds every webhook POST.
const Timeout = 3 * time.Second

// Sink posts events to a fixed URL. A nil *Sink, or one built with an empty
// URL, discards every event. A Sink is safe for concurrent use and holds no
// per-event state, so one value is shared by all sessions.
type Sink struct {
	url    string
	client *http.Client
	wg     sync.WaitGroup
}

// NewSink returns a Sink posting to url, or nil when url is empty.
func NewSink(url string) *Sink {
	if url == "" {
		return nil
	}
	return &Sink{
		url:    url,
		client: &http.Client{Timeout: Timeout},
	}
}

// Enabled reports whether Emit will deliver anything.
func (s *Sink) Enabled() bool { return s != nil && s.url != "" }

// Emit hands ev to a detached goroutine and returns immediately. The
// delivery result is deliberately discarded after being logged.
func (s *Sink) Emit(ev Event) {
	if !s.Enabled() {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.post(ev); err != nil {
			slog.Warn("webhook send failed",
				"type", ev.Type,
				"conn", ev.ConnectionID,
				"error", err,
			)
		}
	}()
}

// Close waits for in-flight deliveries until ctx is done. It must be called
// after the last Emit.
func (s *Sink) Close(ctx context.Context) error {
	if !s.Enabled() {
		return nil
	}
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("webhook drain: %w", ctx.Err())
	}
}

// post performs one delivery attempt.
func (s *Sink) post(ev Event) error {
	start := time.Now()
	err := s.send(ev)
	metrics.WebhookDuration.Observe(time.Since(start).Seconds())

	result := metrics.ResultSent
	if err != nil {
		result = metrics.ResultFailed
	}
	metrics.WebhookEvents.WithLabelValues(string(ev.Type), result).Inc()
	return err
}

func (s *Sink) send(ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}
	return nil
}
