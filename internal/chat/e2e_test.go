package chat_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"main/internal/chat"
	"main/internal/history"
	"main/pkg/realtime"
)

// relay is a minimal in-process fan-out server: it tracks per-topic
// subscribers and forwards every data frame to everyone on the topic
// except its origin.
type relay struct {
	upgrader websocket.Upgrader
	srv      *httptest.Server

	mu     sync.Mutex
	topics map[string]map[*relayConn]struct{}
}

type relayConn struct {
	sock *websocket.Conn
	mu   sync.Mutex
}

func (c *relayConn) write(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sock.WriteMessage(websocket.TextMessage, payload)
}

func newRelay(t *testing.T) *relay {
	t.Helper()
	r := &relay{topics: make(map[string]map[*relayConn]struct{})}
	r.srv = httptest.NewServer(http.HandlerFunc(r.handle))
	t.Cleanup(r.srv.Close)
	return r
}

func (r *relay) endpoint() string {
	return "ws" + strings.TrimPrefix(r.srv.URL, "http")
}

func (r *relay) subscribers(topic string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.topics[topic])
}

func (r *relay) handle(w http.ResponseWriter, req *http.Request) {
	sock, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		return
	}
	conn := &relayConn{sock: sock}
	defer func() {
		r.mu.Lock()
		for _, subs := range r.topics {
			delete(subs, conn)
		}
		r.mu.Unlock()
		_ = sock.Close()
	}()

	for {
		_, payload, err := sock.ReadMessage()
		if err != nil {
			return
		}
		var frame struct {
			Topic string `json:"topic"`
			Type  string `json:"type"`
		}
		if json.Unmarshal(payload, &frame) != nil || frame.Topic == "" {
			continue
		}
		switch frame.Type {
		case "subscribe":
			r.mu.Lock()
			subs := r.topics[frame.Topic]
			if subs == nil {
				subs = make(map[*relayConn]struct{})
				r.topics[frame.Topic] = subs
			}
			subs[conn] = struct{}{}
			r.mu.Unlock()
		case "unsubscribe":
			r.mu.Lock()
			delete(r.topics[frame.Topic], conn)
			r.mu.Unlock()
		default:
			r.mu.Lock()
			peers := make([]*relayConn, 0, len(r.topics[frame.Topic]))
			for peer := range r.topics[frame.Topic] {
				if peer != conn {
					peers = append(peers, peer)
				}
			}
			r.mu.Unlock()
			for _, peer := range peers {
				_ = peer.write(payload)
			}
		}
	}
}

func newLiveSession(t *testing.T, r *relay, user string, store chat.Store) *chat.Session {
	t.Helper()
	session, err := chat.NewSession(chat.Config{
		UserID: user,
		Dialer: realtime.NewDialer(r.endpoint(), realtime.StaticToken("e2e-"+user),
			realtime.WithHandshakeTimeout(2*time.Second),
			realtime.WithWriteWait(2*time.Second),
		),
		Store:   store,
		Backoff: realtime.Backoff{Min: 5 * time.Millisecond, Max: 20 * time.Millisecond, Factor: 2},
	})
	require.NoError(t, err)
	t.Cleanup(session.Close)
	return session
}

func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func awaitLink(t *testing.T, events <-chan chat.Event, want realtime.LinkState) {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			require.True(t, ok, "event channel closed")
			if link, isLink := ev.(chat.LinkEvent); isLink && link.To == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for link state %s", want)
		}
	}
}

func awaitDelivery(t *testing.T, events <-chan chat.Event, id string, want chat.DeliveryState) chat.Message {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			require.True(t, ok, "event channel closed")
			if sc, isState := ev.(chat.MessageStateChanged); isState && sc.Message.ID == id && sc.Message.State == want {
				return sc.Message
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s on message %s", want, id)
		}
	}
}

func awaitInbound(t *testing.T, sub *chat.Subscription) chat.Message {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case ev, ok := <-sub.Events():
			require.True(t, ok, "subscription closed")
			if received, isMsg := ev.(chat.MessageReceived); isMsg {
				return received.Message
			}
		case <-deadline:
			t.Fatal("timed out waiting for an inbound message")
		}
	}
}

func awaitTopicEvent(t *testing.T, sub *chat.Subscription) chat.TopicEvent {
	t.Helper()
	select {
	case ev, ok := <-sub.Events():
		require.True(t, ok, "subscription closed")
		return ev
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for a topic event")
		return nil
	}
}

// TestSessionsExchangeAcrossLiveRelay walks a message through two real
// sessions on real sockets: send, receive, the automatic delivered
// receipt, an explicit read receipt, and both history stores.
func TestSessionsExchangeAcrossLiveRelay(t *testing.T) {
	const topic = "room:e2e"
	r := newRelay(t)
	aliceStore := history.NewMemoryStore()
	bobStore := history.NewMemoryStore()
	alice := newLiveSession(t, r, "alice", aliceStore)
	bob := newLiveSession(t, r, "bob", bobStore)
	aliceEvents := alice.Events()
	bobEvents := bob.Events()

	_, err := alice.Subscribe(topic)
	require.NoError(t, err)
	bobSub, err := bob.Subscribe(topic)
	require.NoError(t, err)

	require.NoError(t, alice.Connect(t.Context()))
	require.NoError(t, bob.Connect(t.Context()))
	awaitLink(t, aliceEvents, realtime.StateConnected)
	awaitLink(t, bobEvents, realtime.StateConnected)
	waitUntil(t, "both subscriptions on the relay", func() bool {
		return r.subscribers(topic) == 2
	})

	msg, err := alice.Send(topic, "ping")
	require.NoError(t, err)
	assert.Equal(t, chat.MessagePending, msg.State)

	awaitDelivery(t, aliceEvents, msg.ID, chat.MessageSent)

	received := awaitInbound(t, bobSub)
	assert.Equal(t, msg.ID, received.ID)
	assert.Equal(t, "ping", received.Content)
	assert.Equal(t, "alice", received.SenderID)
	assert.Equal(t, chat.KindText, received.Kind)
	assert.Equal(t, chat.MessageDelivered, received.State)
	assert.True(t, received.Inbound)

	// Receiving triggered the delivered receipt without anyone asking.
	awaitDelivery(t, aliceEvents, msg.ID, chat.MessageDelivered)

	require.NoError(t, bob.MarkRead(topic, msg.ID))
	awaitDelivery(t, aliceEvents, msg.ID, chat.MessageRead)

	tracked, ok := alice.Message(msg.ID)
	require.True(t, ok)
	assert.Equal(t, chat.MessageRead, tracked.State)

	waitUntil(t, "read state in alice's history", func() bool {
		msgs, err := alice.History(t.Context(), topic, chat.Range{})
		if err != nil {
			return false
		}
		for _, m := range msgs {
			if m.ID == msg.ID && m.State == chat.MessageRead {
				return true
			}
		}
		return false
	})
	waitUntil(t, "inbound copy in bob's history", func() bool {
		msgs, err := bob.History(t.Context(), topic, chat.Range{})
		if err != nil {
			return false
		}
		for _, m := range msgs {
			if m.ID == msg.ID && m.State == chat.MessageDelivered && m.Inbound {
				return true
			}
		}
		return false
	})
}

// TestTypingAcrossLiveRelay drives a typing burst from one session and
// watches the start and stop edges arrive at the other.
func TestTypingAcrossLiveRelay(t *testing.T) {
	const topic = "room:typing"
	r := newRelay(t)
	alice := newLiveSession(t, r, "alice", nil)
	bob := newLiveSession(t, r, "bob", nil)

	aliceSub, err := alice.Subscribe(topic)
	require.NoError(t, err)
	_, err = bob.Subscribe(topic)
	require.NoError(t, err)

	require.NoError(t, alice.Connect(t.Context()))
	require.NoError(t, bob.Connect(t.Context()))
	awaitLink(t, alice.Events(), realtime.StateConnected)
	awaitLink(t, bob.Events(), realtime.StateConnected)
	waitUntil(t, "both subscriptions on the relay", func() bool {
		return r.subscribers(topic) == 2
	})

	bob.TypingPulse(topic)
	started, ok := awaitTopicEvent(t, aliceSub).(chat.TypingStarted)
	require.True(t, ok, "expected a typing start")
	assert.Equal(t, topic, started.Topic)
	assert.Equal(t, "bob", started.UserID)
	assert.Equal(t, []string{"bob"}, alice.TypingUsers(topic))

	bob.StopTyping(topic)
	stopped, ok := awaitTopicEvent(t, aliceSub).(chat.TypingStopped)
	require.True(t, ok, "expected a typing stop")
	assert.Equal(t, "bob", stopped.UserID)
	assert.Empty(t, alice.TypingUsers(topic))
}
