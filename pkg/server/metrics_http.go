package server

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// StartMetricsHTTP starts a lightweight HTTP server that exposes /metrics
// in Prometheus text exposition format. It runs in the background and
// shuts down when the server context is cancelled. Disabled when no
// metrics address is configured.
func (s *Server) StartMetricsHTTP() {
	addr := s.cfg.MetricsAddr
	if addr == "" {
		return // metrics endpoint disabled
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", s.handleMetrics)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		slog.Info("metrics HTTP listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("metrics HTTP error", "err", err)
		}
	}()

	go func() {
		<-s.ctx.Done()
		_ = srv.Close()
	}()
}

// handleMetrics writes all metrics in Prometheus text exposition format.
func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	snap := s.metrics.Snapshot()

	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

	// Write errors to http.ResponseWriter are non-actionable; suppress errcheck.
	write := func(name, help, mtype string, value int64) {
		_, _ = fmt.Fprintf(w, "# HELP %s %s\n", name, help)
		_, _ = fmt.Fprintf(w, "# TYPE %s %s\n", name, mtype)
		_, _ = fmt.Fprintf(w, "%s %d\n", name, value)
	}

	write("duckchat_uptime_seconds", "Seconds since server start", "gauge", snap.UptimeSeconds)
	write("duckchat_active_connections", "Current live sessions", "gauge", snap.ActiveConnections)
	write("duckchat_connections_total", "Lifetime connections accepted into a slot", "counter", snap.TotalConnections)
	write("duckchat_connections_rejected_total", "Connections refused while both slots were full", "counter", snap.RejectedConnections)
	write("duckchat_disconnects_total", "Total session teardowns", "counter", snap.TotalDisconnects)
	write("duckchat_auths_success_total", "Accepted logins and signups", "counter", snap.SuccessfulAuths)
	write("duckchat_auths_failed_total", "Rejected or failed logins and signups", "counter", snap.FailedAuths)
	write("duckchat_messages_relayed_total", "Messages forwarded directly to the peer", "counter", snap.ChatMessagesRelayed)
	write("duckchat_messages_buffered_total", "Messages persisted while the peer slot was empty", "counter", snap.MessagesBuffered)
	write("duckchat_system_notices_total", "Join and leave notices broadcast", "counter", snap.SystemNotices)
	write("duckchat_protocol_violations_total", "Sessions terminated by malformed frames", "counter", snap.ProtocolViolations)
}
