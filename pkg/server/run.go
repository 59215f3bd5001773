package server

import (
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shinyduck/duckchat/pkg/model"
	"github.com/shinyduck/duckchat/pkg/protocol"
)

// Run starts the TLS listener and blocks until a shutdown signal arrives
// or the last session disconnects. The accept loop terminating closes
// every remaining connection.
func (s *Server) Run() error {
	if s.store == nil {
		return fmt.Errorf("server: missing store dependency")
	}
	defer func() { _ = s.store.Close() }()

	cert, err := loadOrGenerateTLS(s.cfg)
	if err != nil {
		return fmt.Errorf("server: tls: %w", err)
	}

	tlsCfg := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
		// Cipher suite preference carried over from existing clients.
		// TLS 1.3 negotiates its own suites and ignores this list.
		CipherSuites: []uint16{tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384},
	}

	ln, err := tls.Listen("tcp", s.cfg.Addr, tlsCfg)
	if err != nil {
		return fmt.Errorf("server: listen: %w", err)
	}
	s.listener = ln

	slog.Info("duckchat relay listening", "addr", s.cfg.Addr)

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.acceptLoop()
	}()

	// Start Prometheus metrics HTTP endpoint
	s.StartMetricsHTTP()

	// Start periodic metrics logging (every 60s)
	s.metrics.StartPeriodicLog(60*time.Second, s.ctx.Done())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case <-sigCh:
		slog.Info("shutting down...")
		s.Shutdown()
		<-done
	case <-done:
		slog.Info("accept loop terminated")
		s.Shutdown()
	}
	return nil
}

// acceptLoop accepts connections until the listener closes. Each
// accepted socket gets its own worker goroutine.
func (s *Server) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.ctx.Done():
			default:
				slog.Debug("accept loop exiting", "err", err)
			}
			return
		}
		go s.handleConn(conn)
	}
}

// handleConn assigns a slot to the new connection and runs its session.
// With both slots occupied the socket is closed without entering the
// state machine: the client sees only a closed connection.
func (s *Server) handleConn(conn net.Conn) {
	remoteAddr := conn.RemoteAddr().String()

	cs := newConnectionSession(s, conn)
	slot, ok := s.slots.TryAcquire(cs)
	if !ok {
		s.metrics.RejectedConnections.Add(1)
		slog.Error("connection rejected: both slots occupied", "remote", remoteAddr)
		_ = conn.Close()
		return
	}

	s.metrics.TotalConnections.Add(1)
	s.metrics.ActiveConnections.Add(1)
	slog.Info("client connected", "remote", remoteAddr, "slot", slot)

	if err := cs.send(protocol.NewAssignID(slot)); err != nil {
		slog.Error("assign id write failed", "slot", slot, "err", err)
		cs.teardown()
		return
	}
	cs.setState(model.StateIDAssigned)

	cs.run()
}

// onSessionClosed runs after every session teardown. Once both slots are
// empty the listener closes and the server winds down.
func (s *Server) onSessionClosed() {
	if s.slots.IsEmpty() {
		slog.Info("both slots empty, closing listener")
		s.Shutdown()
	}
}

// Shutdown stops the listener and closes every live session. Safe to
// call more than once.
func (s *Server) Shutdown() {
	s.shutdownOnce.Do(func() {
		s.cancel()
		if s.listener != nil {
			_ = s.listener.Close()
		}
		for _, cs := range s.slots.Occupants() {
			_ = cs.conn.Close()
		}
	})
}
