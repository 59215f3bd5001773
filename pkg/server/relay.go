package server

import (
	"log/slog"

	"github.com/shinyduck/duckchat/pkg/datastore"
	"github.com/shinyduck/duckchat/pkg/model"
	"github.com/shinyduck/duckchat/pkg/protocol"
)

// Relay forwards chat messages between the two slots, buffers them in
// the store while the second participant is absent, and fans out system
// notices.
type Relay struct {
	slots   *SlotTable
	store   datastore.DataStore
	metrics *Metrics
}

// NewRelay creates a Relay over the given slot table and store.
func NewRelay(slots *SlotTable, store datastore.DataStore, metrics *Metrics) *Relay {
	return &Relay{slots: slots, store: store, metrics: metrics}
}

// RelayChat delivers a chat message from one slot to the other. With no
// peer connected the message is persisted instead and delivered later by
// the history flush; with a peer connected it is forwarded directly and
// not persisted again.
func (r *Relay) RelayChat(from *ConnectionSession, text string) error {
	peer := r.slots.Peer(from.Slot())
	if peer == nil {
		msg := &model.Message{
			Role:     model.RoleClient,
			Username: from.Username(),
			Content:  text,
		}
		if err := r.store.AppendMessage(msg); err != nil {
			return err
		}
		r.metrics.MessagesBuffered.Add(1)
		slog.Warn("peer slot empty, message buffered", "slot", from.Slot(), "user", from.Username())
		return nil
	}

	payload := protocol.ChatPayload{
		Role:     string(model.RoleClient),
		Username: from.Username(),
		Content:  text,
	}
	if err := peer.send(protocol.NewServerMessage(payload)); err != nil {
		return err
	}
	r.metrics.ChatMessagesRelayed.Add(1)
	return nil
}

// BroadcastSystem persists a server notice and sends it to every
// occupied slot. Persisting comes first: no client may see a notice
// that history replay would not contain.
func (r *Relay) BroadcastSystem(text string) error {
	msg := &model.Message{Role: model.RoleServer, Content: text}
	if err := r.store.AppendMessage(msg); err != nil {
		return err
	}

	payload := protocol.ChatPayload{
		Role:    string(model.RoleServer),
		Content: text,
	}
	for _, cs := range r.slots.Occupants() {
		if err := cs.send(protocol.NewServerMessage(payload)); err != nil {
			slog.Error("broadcast write failed", "slot", cs.Slot(), "err", err)
		}
	}
	r.metrics.SystemNotices.Add(1)
	return nil
}

// FlushHistory sends all persisted messages, in insertion order, as one
// batch frame. Invoked exactly once per chat, when the second
// participant authenticates.
func (r *Relay) FlushHistory(to *ConnectionSession) error {
	messages, err := r.store.ListMessages()
	if err != nil {
		return err
	}

	payloads := make([]protocol.ChatPayload, len(messages))
	for i, m := range messages {
		payloads[i] = protocol.ChatPayload{
			Role:     string(m.Role),
			Username: m.Username,
			Content:  m.Content,
		}
	}
	slog.Info("flushing history", "slot", to.Slot(), "count", len(payloads))
	return to.send(protocol.NewServerMessages(payloads))
}

// ExchangeUsernames tells each of the two sessions who it is chatting
// with.
func (r *Relay) ExchangeUsernames(a, b *ConnectionSession) {
	if err := a.send(protocol.NewExchangeUsernames(b.Username())); err != nil {
		slog.Error("username exchange failed", "slot", a.Slot(), "err", err)
	}
	if err := b.send(protocol.NewExchangeUsernames(a.Username())); err != nil {
		slog.Error("username exchange failed", "slot", b.Slot(), "err", err)
	}
}
