// Package chat implements the client-side chat session: messaging with
// delivery tracking, typing indicators, read receipts and per-topic
// subscriptions on top of one managed realtime connection.
package chat

import (
	"context"
	stderrors "errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yanun0323/logs"

	"main/internal/netmon"
	"main/internal/obs"
	"main/pkg/exception"
	"main/pkg/realtime"
)

const (
	defaultOutboxSize      = 512
	defaultMaxSendAttempts = 5
	defaultEventBuffer     = 128
)

// Config assembles a Session. UserID and Dialer are required, the rest
// defaults to something sensible.
type Config struct {
	// UserID identifies this client as message sender.
	UserID string
	// Dialer opens transport connections.
	Dialer realtime.Dialer

	// Store persists message history. Nil disables persistence.
	Store Store
	// Monitor suspends reconnect attempts while the network is down.
	// Nil means dial whenever the backoff says so.
	Monitor *netmon.Monitor
	// Metrics receives session counters. Nil allocates a private set.
	Metrics *obs.Metrics

	// Backoff shapes reconnect delays. Zero value uses the defaults.
	Backoff realtime.Backoff
	// MaxAttempts caps consecutive failed connects. Zero retries forever.
	MaxAttempts int
	// PingInterval spaces keepalive pings. Zero disables them.
	PingInterval time.Duration
	// WarmTopicTTL unsubscribes topics nobody listened to for this long.
	// Zero keeps them warm forever.
	WarmTopicTTL time.Duration

	// OutboxSize bounds the unsent message queue. Default 512.
	OutboxSize int
	// MaxSendAttempts is the write budget per message before it fails.
	// Default 5.
	MaxSendAttempts int
	// TypingDebounce is the silence that ends a local typing burst.
	// Default 3s.
	TypingDebounce time.Duration
	// TypingTTL is how long a remote typing signal stays fresh without
	// renewal. Default 5s.
	TypingTTL time.Duration
	// EventBuffer bounds the session event channel. Default 128.
	EventBuffer int
	// TopicBuffer bounds each subscription channel. Default 64.
	TopicBuffer int
}

func (cfg *Config) normalize() error {
	if cfg.UserID == "" {
		return stderrors.New("chat: empty user id")
	}
	if cfg.Dialer == nil {
		return stderrors.New("chat: nil dialer")
	}
	if cfg.Metrics == nil {
		cfg.Metrics = obs.NewMetrics()
	}
	if cfg.OutboxSize <= 0 {
		cfg.OutboxSize = defaultOutboxSize
	}
	if cfg.MaxSendAttempts <= 0 {
		cfg.MaxSendAttempts = defaultMaxSendAttempts
	}
	if cfg.TypingDebounce <= 0 {
		cfg.TypingDebounce = defaultTypingDebounce
	}
	if cfg.TypingTTL <= 0 {
		cfg.TypingTTL = defaultTypingTTL
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = defaultEventBuffer
	}
	if cfg.TopicBuffer <= 0 {
		cfg.TopicBuffer = defaultTopicBuffer
	}
	return nil
}

// Session is one user's chat connection. It owns the transport client,
// the outbox, delivery tracking and typing state. Sessions are built
// with NewSession and shut down with Close; background workers start
// immediately, the link comes up with Connect.
type Session struct {
	cfg     Config
	codec   Codec
	client  *realtime.Client
	tracker *tracker
	outbox  *outbox
	typing  *typingCoordinator
	sink    *eventSink
	metrics *obs.Metrics
	subSeq  *obs.Sequence

	hubMu sync.Mutex
	hubs  map[string]*topicHub

	linkMu sync.Mutex
	linkUp chan struct{}
	up     bool

	lifeCtx  context.Context
	stopLife context.CancelFunc
	wg       sync.WaitGroup
	closed   atomic.Bool
}

// NewSession wires a session from cfg and starts its outbox dispatcher
// and typing sweeper. The link stays down until Connect.
func NewSession(cfg Config) (*Session, error) {
	if err := cfg.normalize(); err != nil {
		return nil, err
	}

	s := &Session{
		cfg:     cfg,
		tracker: newTracker(),
		outbox:  newOutbox(cfg.OutboxSize),
		sink:    newEventSink(cfg.EventBuffer),
		metrics: cfg.Metrics,
		subSeq:  obs.NewSequence(0),
		hubs:    make(map[string]*topicHub),
		linkUp:  make(chan struct{}),
	}
	s.typing = newTypingCoordinator(cfg.TypingDebounce, cfg.TypingTTL,
		func(topic string) { s.sendTyping(topic, true) },
		func(topic string) { s.sendTyping(topic, false) },
	)

	opt := realtime.Option{
		Dialer:        cfg.Dialer,
		Decoder:       s.codec,
		Encoder:       s.codec,
		Backoff:       cfg.Backoff,
		MaxAttempts:   cfg.MaxAttempts,
		PingInterval:  cfg.PingInterval,
		WarmTopicTTL:  cfg.WarmTopicTTL,
		OnStateChange: s.onLinkChange,
	}
	if cfg.Monitor != nil {
		opt.WaitOnline = cfg.Monitor.WaitForConnection
	}
	client, err := realtime.NewClient(opt)
	if err != nil {
		return nil, err
	}
	s.client = client

	s.lifeCtx, s.stopLife = context.WithCancel(context.Background())
	s.wg.Add(2)
	go s.dispatchOutbox(s.lifeCtx)
	go s.sweepTyping(s.lifeCtx)
	return s, nil
}

// Connect brings the link up. It returns immediately; watch Events for
// progress. ctx bounds the connection lifetime, not the session.
func (s *Session) Connect(ctx context.Context) error {
	if s.closed.Load() {
		return exception.ErrSessionClosed
	}
	return s.client.Connect(ctx)
}

// Disconnect drops the link and stops reconnecting. Queued messages,
// subscriptions and delivery state survive for the next Connect.
func (s *Session) Disconnect() {
	s.client.Disconnect()
}

// Close shuts the session down for good: the link drops, workers stop,
// every subscription channel and the event channel close. Messages
// still queued stay Pending in the tracker and the store.
func (s *Session) Close() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	s.typing.Close()
	s.client.Close()

	s.hubMu.Lock()
	hubs := make([]*topicHub, 0, len(s.hubs))
	for topic, hub := range s.hubs {
		hubs = append(hubs, hub)
		delete(s.hubs, topic)
	}
	s.hubMu.Unlock()
	for _, hub := range hubs {
		hub.close()
	}

	s.outbox.Close()
	s.stopLife()
	s.wg.Wait()
	s.sink.close()
}

// State returns the current link state.
func (s *Session) State() realtime.LinkState {
	return s.client.State()
}

// Events returns the session event stream: link transitions, delivery
// state changes and auth expiry. The channel closes on Close.
func (s *Session) Events() <-chan Event {
	return s.sink.events()
}

// Stats returns a snapshot of the session counters.
func (s *Session) Stats() obs.Snapshot {
	return s.metrics.Snapshot()
}

// TransportStats exposes the raw frame counters of the link.
func (s *Session) TransportStats() realtime.Stats {
	return s.client.Stats()
}

// PendingCount reports how many messages wait in the outbox.
func (s *Session) PendingCount() int {
	return s.outbox.Len()
}

// Message returns the tracked copy of an outbound message.
func (s *Session) Message(id string) (Message, bool) {
	return s.tracker.Get(id)
}

// History reads stored messages for topic. Without a store it returns
// nothing.
func (s *Session) History(ctx context.Context, topic string, r Range) ([]Message, error) {
	if s.cfg.Store == nil {
		return nil, nil
	}
	return s.cfg.Store.Query(ctx, topic, r)
}

// Subscribe attaches a listener to topic. The first listener registers
// the topic on the wire; later ones share the same stream. Cancelling
// the last listener keeps the topic warm so a quick return costs no
// round-trip.
func (s *Session) Subscribe(topic string) (*Subscription, error) {
	if s.closed.Load() {
		return nil, exception.ErrSessionClosed
	}
	if topic == "" {
		return nil, exception.ErrEmptyTopic
	}

	s.hubMu.Lock()
	defer s.hubMu.Unlock()
	if s.closed.Load() {
		return nil, exception.ErrSessionClosed
	}
	hub, ok := s.hubs[topic]
	if !ok {
		consumer, err := s.client.Subscribe(topic)
		if err != nil {
			return nil, err
		}
		hub = newTopicHub(topic, consumer, s.releaseHub)
		s.hubs[topic] = hub
		s.wg.Add(1)
		go s.pumpTopic(hub)
	}
	return hub.attach(s.subSeq.Next(), s.cfg.TopicBuffer), nil
}

// releaseHub retires a hub whose last listener left. The transport
// consumer detaches, which starts the warm-topic idle clock, and the
// pump drains out.
func (s *Session) releaseHub(hub *topicHub) {
	s.hubMu.Lock()
	current, ok := s.hubs[hub.topic]
	if !ok || current != hub || hub.subscriberCount() > 0 {
		s.hubMu.Unlock()
		return
	}
	delete(s.hubs, hub.topic)
	s.hubMu.Unlock()

	s.client.Unsubscribe(hub.topic, hub.consumer)
	hub.close()
}

// hubFor returns the live hub for topic, if any.
func (s *Session) hubFor(topic string) *topicHub {
	s.hubMu.Lock()
	defer s.hubMu.Unlock()
	return s.hubs[topic]
}

// onLinkChange runs on the transport loop. It flips the dispatcher
// gate, surfaces the transition as an event and tags auth expiry.
func (s *Session) onLinkChange(change realtime.StateChange) {
	s.linkMu.Lock()
	if change.To == realtime.StateConnected {
		if !s.up {
			s.up = true
			close(s.linkUp)
		}
	} else if s.up {
		s.up = false
		s.linkUp = make(chan struct{})
	}
	s.linkMu.Unlock()

	if change.To == realtime.StateConnected && change.From == realtime.StateReconnecting {
		s.metrics.IncReconnect()
	}
	logs.Infof("link %s -> %s", change.From, change.To)

	s.publish(LinkEvent{
		From:    change.From,
		To:      change.To,
		Reason:  change.Reason,
		Attempt: change.Attempt,
	})
	if change.To == realtime.StateFailed && stderrors.Is(change.Reason, exception.ErrAuthExpired) {
		s.publish(AuthExpired{Err: change.Reason})
	}
}

func (s *Session) publish(event Event) {
	if s.sink.publish(event) {
		s.metrics.IncEventDropped()
	}
}

// waitConnected parks until the link is up or ctx ends.
func (s *Session) waitConnected(ctx context.Context) bool {
	s.linkMu.Lock()
	gate := s.linkUp
	s.linkMu.Unlock()
	select {
	case <-ctx.Done():
		return false
	case <-gate:
		return true
	}
}

// sweepTyping expires remote typing signals whose renewals stopped
// arriving, emitting the stop events a lost frame never delivered.
func (s *Session) sweepTyping(ctx context.Context) {
	defer s.wg.Done()

	interval := s.cfg.TypingTTL / 2
	if interval < 100*time.Millisecond {
		interval = 100 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			for _, notice := range s.typing.ExpireRemote(now) {
				s.metrics.IncTypingNotice()
				if hub := s.hubFor(notice.topic); hub != nil {
					hub.broadcast(TypingStopped{Topic: notice.topic, UserID: notice.userID})
				}
			}
		}
	}
}
