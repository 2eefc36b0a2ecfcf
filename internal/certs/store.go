package certs

import (
	"context"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
)

// Load reads a PEM certificate chain and private key from disk. The
// fingerprint covers the first (leaf) certificate of the chain.
func Load(certFile, keyFile string) (*CertInfo, error) {
	tlsCert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("load key pair: %w", err)
	}
	if len(tlsCert.Certificate) == 0 {
		return nil, errors.New("load key pair: no certificate in chain")
	}

	leaf, err := x509.ParseCertificate(tlsCert.Certificate[0])
	if err != nil {
		return nil, fmt.Errorf("parse leaf certificate: %w", err)
	}
	tlsCert.Leaf = leaf

	return &CertInfo{
		TLSCert:     tlsCert,
		Fingerprint: sha256.Sum256(tlsCert.Certificate[0]),
		NotAfter:    leaf.NotAfter,
	}, nil
}

// Store holds the identity currently served by the gateway. It is safe for
// concurrent use; handshakes read it through GetCertificate while Watch
// replaces it.
type Store struct {
	cur atomic.Pointer[CertInfo]
}

// NewStore returns a Store serving info.
func NewStore(info *CertInfo) *Store {
	s := &Store{}
	s.cur.Store(info)
	return s
}

// Current returns the identity in use.
func (s *Store) Current() *CertInfo { return s.cur.Load() }

// GetCertificate implements tls.Config.GetCertificate.
func (s *Store) GetCertificate(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	return &s.cur.Load().TLSCert, nil
}

// TLSConfig returns a server TLS config backed by the store.
func (s *Store) TLSConfig() *tls.Config {
	return &tls.Config{
		GetCertificate: s.GetCertificate,
		MinVersion:     tls.VersionTLS13,
	}
}

// Reload re-reads the key pair and swaps it in. On failure the previous
// identity stays active.
func (s *Store) Reload(certFile, keyFile string) error {
	info, err := Load(certFile, keyFile)
	if err != nil {
		return err
	}
	s.cur.Store(info)
	return nil
}

// Watch reloads the key pair whenever either file changes and blocks until
// ctx is cancelled. The parent directories are watched rather than the files
// so that atomic rename-into-place updates are observed.
func (s *Store) Watch(ctx context.Context, certFile, keyFile string) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer w.Close()

	dirs := map[string]struct{}{
		filepath.Dir(certFile): {},
		filepath.Dir(keyFile):  {},
	}
	for dir := range dirs {
		if err := w.Add(dir); err != nil {
			return fmt.Errorf("watch %s: %w", dir, err)
		}
	}

	certFile, keyFile = filepath.Clean(certFile), filepath.Clean(keyFile)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			name := filepath.Clean(ev.Name)
			if name != certFile && name != keyFile {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if err := s.Reload(certFile, keyFile); err != nil {
				slog.Warn("certificate reload failed, keeping previous identity", "error", err)
				continue
			}
			slog.Info("certificate reloaded", "fingerprint", s.Current().FingerprintHex())
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			slog.Warn("certificate watcher error", "error", err)
		}
	}
}
