// Package server implements the duckchat relay server: a TLS listener,
// a fixed two-slot session table, and the authentication and relay logic
// between the two participants.
package server

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"log/slog"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/shinyduck/duckchat/pkg/datastore"
)

// Dependencies holds external dependencies for the server.
// Server assumes ownership of Store and will Close() it on shutdown.
type Dependencies struct {
	Store datastore.DataStore
}

// Server is the two-party chat relay server.
type Server struct {
	cfg      Config
	slots    *SlotTable
	auth     *AuthService
	relay    *Relay
	metrics  *Metrics
	store    datastore.DataStore
	listener net.Listener
	ctx      context.Context
	cancel   context.CancelFunc

	shutdownOnce sync.Once
}

// New creates a new Server instance.
func New(cfg Config, deps Dependencies) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	slots := NewSlotTable()
	metrics := NewMetrics()
	return &Server{
		cfg:     cfg,
		slots:   slots,
		auth:    NewAuthService(deps.Store),
		relay:   NewRelay(slots, deps.Store, metrics),
		metrics: metrics,
		store:   deps.Store,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Slots returns the slot table.
func (s *Server) Slots() *SlotTable {
	return s.slots
}

// Metrics returns the server metrics.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// loadOrGenerateTLS loads the TLS cert/key from disk or generates a
// self-signed RSA pair into the data dir. RSA keeps the configured
// ECDHE-RSA cipher suite usable under TLS 1.2.
func loadOrGenerateTLS(cfg Config) (tls.Certificate, error) {
	certPath := cfg.CertFile
	keyPath := cfg.KeyFile

	if certPath == "" {
		certPath = filepath.Join(cfg.DataDir, "server.crt")
	}
	if keyPath == "" {
		keyPath = filepath.Join(cfg.DataDir, "server.key")
	}

	// Try loading existing cert
	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err == nil {
		slog.Info("loaded TLS certificate", "cert", certPath)
		return cert, nil
	}

	slog.Info("generating self-signed TLS certificate")
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("generate key: %w", err)
	}

	serialNumber, _ := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	template := x509.Certificate{
		SerialNumber: serialNumber,
		Subject:      pkix.Name{Organization: []string{"duckchat server"}},
		NotBefore:    time.Now(),
		NotAfter:     time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:     x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		DNSNames:     []string{"localhost"},
		IPAddresses:  []net.IP{net.ParseIP("127.0.0.1"), net.ParseIP("::1")},
	}

	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &priv.PublicKey, priv)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("create cert: %w", err)
	}

	if err := writePEM(certPath, "CERTIFICATE", certDER, 0644); err != nil {
		return tls.Certificate{}, err
	}
	if err := writePEM(keyPath, "RSA PRIVATE KEY", x509.MarshalPKCS1PrivateKey(priv), 0600); err != nil {
		return tls.Certificate{}, err
	}

	slog.Info("TLS certificate generated", "cert", certPath, "key", keyPath)

	return tls.LoadX509KeyPair(certPath, keyPath)
}

func writePEM(path, blockType string, der []byte, mode os.FileMode) error {
	out, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode) //nolint:gosec // path from server config
	if err != nil {
		return fmt.Errorf("write %s: %w", blockType, err)
	}
	if err := pem.Encode(out, &pem.Block{Type: blockType, Bytes: der}); err != nil {
		_ = out.Close()
		return fmt.Errorf("encode %s: %w", blockType, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("close %s file: %w", blockType, err)
	}
	return nil
}
