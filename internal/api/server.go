// Package api serves the gateway's informational HTTP surface: liveness,
// ping, certificate digest introspection for browser-side pinning, the
// embedded dev UI and Prometheus metrics.
package api

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zsiec/wtgate/internal/certs"
)

//go:embed web
var webFS embed.FS

// CertSource yields the identity the WebTransport endpoint is serving.
type CertSource interface {
	Current() *certs.CertInfo
}

// Config holds the listen address and the data the API reports.
type Config struct {
	Addr            string
	Certs           CertSource
	WebTransportURL string
	// Metrics serves /metrics. Defaults to the Prometheus default registry.
	Metrics http.Handler
}

// Server is the plain-HTTP informational server.
type Server struct {
	cfg Config
	srv *http.Server
}

// NewServer creates a Server. It returns an error if required fields are
// missing.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Certs == nil {
		return nil, errors.New("api: Certs is required")
	}
	if cfg.Addr == "" {
		return nil, errors.New("api: Addr is required")
	}
	if cfg.Metrics == nil {
		cfg.Metrics = promhttp.Handler()
	}
	s := &Server{cfg: cfg}
	s.srv = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

// Handler returns the routed handler with CORS applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /api/ping", s.handlePing)
	mux.HandleFunc("GET /internal/info", s.handleInfo)
	mux.HandleFunc("GET /{$}", s.handleAsset("web/index.html", "text/html; charset=utf-8"))
	mux.HandleFunc("GET /style.css", s.handleAsset("web/style.css", "text/css"))
	mux.HandleFunc("GET /client.js", s.handleAsset("web/client.js", "application/javascript"))
	mux.Handle("GET /metrics", s.cfg.Metrics)
	return corsMiddleware(mux)
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	slog.Info("HTTP server listening", "addr", s.cfg.Addr)

	errCh := make(chan error, 1)
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.srv.Shutdown(shutdownCtx)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding JSON response", "error", err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handlePing(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"pong": true})
}

type infoResponse struct {
	CertDigestBytes  []int  `json:"cert_digest_bytes"`
	CertDigestHex    string `json:"cert_digest_hex"`
	CertDigestBase64 string `json:"cert_digest_base64"`
	NotAfter         string `json:"not_after"`
	WebTransportURL  string `json:"webtransport_url"`
}

func (s *Server) handleInfo(w http.ResponseWriter, _ *http.Request) {
	cert := s.cfg.Certs.Current()
	writeJSON(w, http.StatusOK, infoResponse{
		CertDigestBytes:  cert.FingerprintBytes(),
		CertDigestHex:    cert.FingerprintHex(),
		CertDigestBase64: cert.FingerprintBase64(),
		NotAfter:         cert.NotAfter.UTC().Format(time.RFC3339),
		WebTransportURL:  s.cfg.WebTransportURL,
	})
}

// handleAsset serves an embedded dev UI file with the certificate digest and
// WebTransport URL substituted. The digest is read per request so that a
// reloaded identity is picked up.
func (s *Server) handleAsset(name, contentType string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		data, err := webFS.ReadFile(name)
		if err != nil {
			http.Error(w, "asset not found", http.StatusNotFound)
			return
		}

		digest, _ := json.Marshal(s.cfg.Certs.Current().FingerprintBytes())
		body := strings.NewReplacer(
			"${CERT_DIGEST}", string(digest),
			"${WT_URL}", s.cfg.WebTransportURL,
		).Replace(string(data))

		w.Header().Set("Content-Type", contentType)
		w.Header().Set("Cache-Control", "no-store")
		_, _ = w.Write([]byte(body))
	}
}
