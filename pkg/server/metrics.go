package server

import (
	"log/slog"
	"sync/atomic"
	"time"
)

// Metrics tracks server runtime statistics.
// All counters use atomic operations for lock-free concurrent access.
type Metrics struct {
	startTime time.Time

	// Connection counters
	TotalConnections    atomic.Int64 // lifetime connections accepted into a slot
	ActiveConnections   atomic.Int64 // current live sessions
	RejectedConnections atomic.Int64 // connections refused because both slots were full
	TotalDisconnects    atomic.Int64 // total session teardowns

	// Auth counters
	SuccessfulAuths atomic.Int64 // accepted logins and signups
	FailedAuths     atomic.Int64 // rejected or failed logins and signups

	// Relay counters
	ChatMessagesRelayed atomic.Int64 // messages forwarded directly to the peer
	MessagesBuffered    atomic.Int64 // messages persisted while the peer slot was empty
	SystemNotices       atomic.Int64 // join/leave notices broadcast

	// Protocol counters
	ProtocolViolations atomic.Int64 // sessions terminated by malformed frames
}

// NewMetrics creates a new Metrics instance with the start time set to now.
func NewMetrics() *Metrics {
	return &Metrics{startTime: time.Now()}
}

// MetricsSnapshot is a point-in-time view of all metrics.
type MetricsSnapshot struct {
	Uptime        string `json:"uptime"`
	UptimeSeconds int64  `json:"uptime_seconds"`

	ActiveConnections   int64 `json:"active_connections"`
	TotalConnections    int64 `json:"total_connections"`
	RejectedConnections int64 `json:"rejected_connections"`
	TotalDisconnects    int64 `json:"total_disconnects"`

	SuccessfulAuths int64 `json:"successful_auths"`
	FailedAuths     int64 `json:"failed_auths"`

	ChatMessagesRelayed int64 `json:"chat_messages_relayed"`
	MessagesBuffered    int64 `json:"messages_buffered"`
	SystemNotices       int64 `json:"system_notices"`

	ProtocolViolations int64 `json:"protocol_violations"`
}

// Snapshot returns a read-consistent snapshot of all metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	uptime := time.Since(m.startTime)
	return MetricsSnapshot{
		Uptime:              uptime.Truncate(time.Second).String(),
		UptimeSeconds:       int64(uptime.Seconds()),
		ActiveConnections:   m.ActiveConnections.Load(),
		TotalConnections:    m.TotalConnections.Load(),
		RejectedConnections: m.RejectedConnections.Load(),
		TotalDisconnects:    m.TotalDisconnects.Load(),
		SuccessfulAuths:     m.SuccessfulAuths.Load(),
		FailedAuths:         m.FailedAuths.Load(),
		ChatMessagesRelayed: m.ChatMessagesRelayed.Load(),
		MessagesBuffered:    m.MessagesBuffered.Load(),
		SystemNotices:       m.SystemNotices.Load(),
		ProtocolViolations:  m.ProtocolViolations.Load(),
	}
}

// LogSummary writes a periodic metrics summary to the logger.
func (m *Metrics) LogSummary() {
	s := m.Snapshot()
	slog.Info("metrics",
		"uptime", s.Uptime,
		"connections", s.ActiveConnections,
		"total_connections", s.TotalConnections,
		"rejected", s.RejectedConnections,
		"auths_ok", s.SuccessfulAuths,
		"auths_failed", s.FailedAuths,
		"relayed", s.ChatMessagesRelayed,
		"buffered", s.MessagesBuffered,
	)
}

// StartPeriodicLog logs a metrics summary at the given interval until
// stop is closed.
func (m *Metrics) StartPeriodicLog(interval time.Duration, stop <-chan struct{}) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.LogSummary()
			case <-stop:
				return
			}
		}
	}()
}
