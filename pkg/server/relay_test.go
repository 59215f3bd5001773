package server

import (
	"errors"
	"net"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/shinyduck/duckchat/pkg/datastore"
	"github.com/shinyduck/duckchat/pkg/model"
	"github.com/shinyduck/duckchat/pkg/protocol"
)

// newRelaySession builds an authenticated session wired into the slot
// table, with a client-side sink draining its pipe.
func newRelaySession(t *testing.T, srv *Server, username string) (*ConnectionSession, *frameSink) {
	t.Helper()
	clientConn, serverConn := net.Pipe()
	t.Cleanup(func() { _ = clientConn.Close() })
	t.Cleanup(func() { _ = serverConn.Close() })

	cs := newConnectionSession(srv, serverConn)
	if _, ok := srv.slots.TryAcquire(cs); !ok {
		t.Fatal("slot table full")
	}
	cs.username = username
	cs.state = model.StateAuthenticated

	return cs, sinkFrames(clientConn)
}

func TestRelayChatBuffersWithoutPeer(t *testing.T) {
	t.Parallel()

	srv, store := newTestServer(t)
	alice, _ := newRelaySession(t, srv, "alice")

	if err := srv.relay.RelayChat(alice, "anyone there?"); err != nil {
		t.Fatalf("RelayChat: %v", err)
	}

	messages, err := store.ListMessages()
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(messages) != 1 {
		t.Fatalf("want 1 buffered message, got %d", len(messages))
	}
	got := messages[0]
	if got.Role != model.RoleClient || got.Username != "alice" || got.Content != "anyone there?" {
		t.Errorf("buffered message mismatch: %+v", got)
	}
	if srv.metrics.MessagesBuffered.Load() != 1 {
		t.Error("MessagesBuffered must count the buffered message")
	}
}

func TestRelayChatForwardsToPeer(t *testing.T) {
	t.Parallel()

	srv, store := newTestServer(t)
	alice, _ := newRelaySession(t, srv, "alice")
	_, bobSink := newRelaySession(t, srv, "bob")

	if err := srv.relay.RelayChat(alice, "hi bob"); err != nil {
		t.Fatalf("RelayChat: %v", err)
	}

	frame := bobSink.next(t, protocol.TypeServerMessage)
	want := protocol.ChatPayload{Role: "client", Username: "alice", Content: "hi bob"}
	if diff := cmp.Diff(want, frame.Message); diff != "" {
		t.Errorf("forwarded message mismatch (-want +got):\n%s", diff)
	}

	// Direct forwards are not persisted; the peer already has them.
	messages, err := store.ListMessages()
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(messages) != 0 {
		t.Errorf("want no persisted messages, got %d", len(messages))
	}
	if srv.metrics.ChatMessagesRelayed.Load() != 1 {
		t.Error("ChatMessagesRelayed must count the forwarded message")
	}
}

func TestBroadcastSystem(t *testing.T) {
	t.Parallel()

	srv, store := newTestServer(t)
	_, aliceSink := newRelaySession(t, srv, "alice")
	_, bobSink := newRelaySession(t, srv, "bob")

	if err := srv.relay.BroadcastSystem("alice joined the chat"); err != nil {
		t.Fatalf("BroadcastSystem: %v", err)
	}

	for _, sink := range []*frameSink{aliceSink, bobSink} {
		frame := sink.next(t, protocol.TypeServerMessage)
		if frame.Message.Role != "server" || frame.Message.Content != "alice joined the chat" {
			t.Errorf("notice mismatch: %+v", frame.Message)
		}
		if frame.Message.Username != "" {
			t.Errorf("server notices carry no username, got %q", frame.Message.Username)
		}
	}

	// Notices are persisted so a late joiner sees them in history.
	messages, err := store.ListMessages()
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(messages) != 1 || messages[0].Role != model.RoleServer {
		t.Errorf("want 1 persisted server notice, got %+v", messages)
	}
}

// appendFailStore fails every AppendMessage, simulating a broken disk.
type appendFailStore struct {
	datastore.DataStore
	appendErr error
}

func (s *appendFailStore) AppendMessage(*model.Message) error {
	return s.appendErr
}

func TestBroadcastSystemPersistFailureSendsNothing(t *testing.T) {
	t.Parallel()

	store := &appendFailStore{
		DataStore: datastore.NewMemory(),
		appendErr: errors.New("disk full"),
	}
	srv := New(DefaultConfig(), Dependencies{Store: store})
	t.Cleanup(srv.Shutdown)

	_, aliceSink := newRelaySession(t, srv, "alice")

	if err := srv.relay.BroadcastSystem("bob joined the chat"); err == nil {
		t.Fatal("BroadcastSystem must surface the persist failure")
	}

	// An unpersisted notice is never delivered; clients must not see
	// anything that history replay would omit.
	select {
	case frame := <-aliceSink.frames:
		t.Fatalf("client received %s frame despite persist failure", frame.Type)
	default:
	}
	if srv.metrics.SystemNotices.Load() != 0 {
		t.Error("SystemNotices must not count an unpersisted notice")
	}
}

func TestFlushHistory(t *testing.T) {
	t.Parallel()

	srv, store := newTestServer(t)

	seed := []*model.Message{
		{Role: model.RoleServer, Content: "alice joined the chat"},
		{Role: model.RoleClient, Username: "alice", Content: "anyone there?"},
		{Role: model.RoleClient, Username: "alice", Content: "hello?"},
	}
	for _, m := range seed {
		if err := store.AppendMessage(m); err != nil {
			t.Fatalf("AppendMessage: %v", err)
		}
	}

	bob, bobSink := newRelaySession(t, srv, "bob")

	if err := srv.relay.FlushHistory(bob); err != nil {
		t.Fatalf("FlushHistory: %v", err)
	}

	frame := bobSink.next(t, protocol.TypeServerMessages)
	want := []protocol.ChatPayload{
		{Role: "server", Content: "alice joined the chat"},
		{Role: "client", Username: "alice", Content: "anyone there?"},
		{Role: "client", Username: "alice", Content: "hello?"},
	}
	if diff := cmp.Diff(want, frame.Messages); diff != "" {
		t.Errorf("history batch mismatch (-want +got):\n%s", diff)
	}
}

func TestExchangeUsernames(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t)
	alice, aliceSink := newRelaySession(t, srv, "alice")
	bob, bobSink := newRelaySession(t, srv, "bob")

	srv.relay.ExchangeUsernames(alice, bob)

	if frame := aliceSink.next(t, protocol.TypeServerExchangeUsernames); frame.Username != "bob" {
		t.Errorf("alice's peer = %q, want bob", frame.Username)
	}
	if frame := bobSink.next(t, protocol.TypeServerExchangeUsernames); frame.Username != "alice" {
		t.Errorf("bob's peer = %q, want alice", frame.Username)
	}
}
