package realtime

import (
	"context"
	stderrors "errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yanun0323/errors"

	"main/pkg/exception"
)

var (
	// ErrNilDialer is returned by NewClient when no dialer is given.
	ErrNilDialer = stderrors.New("realtime: nil dialer")
	// ErrNilDecoder is returned by NewClient when no topic decoder is given.
	ErrNilDecoder = stderrors.New("realtime: nil decoder")
	// ErrNilEncoder is returned by NewClient when no control encoder is given.
	ErrNilEncoder = stderrors.New("realtime: nil encoder")
	// ErrEmptyTopic is returned by Subscribe for an empty topic name.
	ErrEmptyTopic = stderrors.New("realtime: empty topic")
)

// Option configures a Client.
type Option struct {
	// Dialer creates connections. Required.
	Dialer Dialer
	// Decoder routes inbound payloads to topics. Required.
	Decoder TopicDecoder
	// Encoder builds subscribe and unsubscribe payloads. Required.
	Encoder ControlEncoder

	// Backoff shapes reconnect delays. Zero value means DefaultBackoff.
	Backoff Backoff
	// MaxAttempts caps consecutive failed attempts before the client
	// parks in StateFailed. Zero retries forever.
	MaxAttempts int

	// PingInterval spaces keepalive pings. Zero disables them.
	PingInterval time.Duration
	// WriteQueueSize bounds the outbound queue. Default 256.
	WriteQueueSize int
	// WriteOverflow is the outbound queue policy. Default OverflowBlock.
	WriteOverflow OverflowPolicy
	// ConsumerQueueSize bounds each consumer queue. Default 128.
	ConsumerQueueSize int
	// ConsumerOverflow is the consumer queue policy. Default
	// OverflowDropOldest so a stuck reader cannot stall the read pump.
	ConsumerOverflow OverflowPolicy

	// WarmTopicTTL evicts topics that kept no consumer for this long,
	// sending the deferred unsubscribe frame. Zero keeps them forever.
	WarmTopicTTL time.Duration

	// WaitOnline, when set, blocks before each dial while the network is
	// unreachable. It reports whether it actually waited; a true result
	// resets the backoff schedule so the next dial happens immediately.
	// Attempts spent waiting are not counted against MaxAttempts.
	WaitOnline func(ctx context.Context) (waited bool, err error)

	// OnStateChange observes link transitions. Called synchronously from
	// the run loop; implementations must not block.
	OnStateChange func(StateChange)
}

func (opt *Option) normalize() error {
	if opt.Dialer == nil {
		return ErrNilDialer
	}
	if opt.Decoder == nil {
		return ErrNilDecoder
	}
	if opt.Encoder == nil {
		return ErrNilEncoder
	}
	if opt.Backoff == (Backoff{}) {
		opt.Backoff = DefaultBackoff()
	}
	if opt.WriteQueueSize <= 0 {
		opt.WriteQueueSize = 256
	}
	if opt.ConsumerQueueSize <= 0 {
		opt.ConsumerQueueSize = 128
	}
	if opt.ConsumerOverflow == OverflowBlock {
		opt.ConsumerOverflow = OverflowDropOldest
	}
	return nil
}

// Client owns one managed connection: it dials, resubscribes registered
// topics, pumps frames, and reconnects with backoff when the link drops.
// One Client maps to exactly one connection at a time.
type Client struct {
	opt      Option
	registry *registry
	writer   *writer

	stateMu sync.Mutex
	state   LinkState
	attempt int

	runMu   sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool

	closed atomic.Bool

	framesIn      atomic.Uint64
	framesDropped atomic.Uint64
	framesOut     atomic.Uint64
	reconnects    atomic.Uint64
}

// NewClient validates the option set and builds an idle client.
func NewClient(opt Option) (*Client, error) {
	if err := opt.normalize(); err != nil {
		return nil, err
	}
	return &Client{
		opt:      opt,
		registry: newRegistry(),
		writer:   newWriter(opt.WriteQueueSize, opt.WriteOverflow),
		state:    StateDisconnected,
	}, nil
}

// Connect starts the managed run loop. It returns immediately; progress
// is observable through OnStateChange. Calling Connect on a running
// client is a no-op. ctx bounds the whole connection lifetime.
func (c *Client) Connect(ctx context.Context) error {
	if c.closed.Load() {
		return exception.ErrClientClosed
	}
	c.runMu.Lock()
	defer c.runMu.Unlock()
	if c.running {
		select {
		case <-c.done:
			// The previous loop just parked itself; restart is fine.
			c.running = false
		default:
			return nil
		}
	}
	if !c.transition(StateConnecting, nil) {
		return errors.Errorf("connect from state %s", c.State())
	}
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	c.cancel = cancel
	c.done = done
	c.running = true
	go func() {
		c.run(runCtx)
		close(done)
		c.runMu.Lock()
		if c.done == done {
			c.running = false
		}
		c.runMu.Unlock()
	}()
	return nil
}

// Disconnect stops the run loop and waits for it to settle in
// StateDisconnected. Registered topics and consumers survive, so a later
// Connect resubscribes everything.
func (c *Client) Disconnect() {
	c.runMu.Lock()
	cancel, done := c.cancel, c.done
	c.runMu.Unlock()
	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// Close disconnects and makes the client unusable.
func (c *Client) Close() {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	c.Disconnect()
	c.writer.Drain(exception.ErrClientClosed)
}

// State returns the current link state.
func (c *Client) State() LinkState {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.state
}

// Stats returns a snapshot of the client counters.
func (c *Client) Stats() Stats {
	return Stats{
		FramesIn:      c.framesIn.Load(),
		FramesDropped: c.framesDropped.Load(),
		FramesOut:     c.framesOut.Load(),
		Reconnects:    c.reconnects.Load(),
	}
}

// Subscribe attaches a new consumer to the topic, registering the topic
// on first use. When connected, the subscribe frame for a new topic goes
// out right away; otherwise it is sent during the next (re)connect.
func (c *Client) Subscribe(topic string) (*Consumer, error) {
	if topic == "" {
		return nil, ErrEmptyTopic
	}
	if c.closed.Load() {
		return nil, exception.ErrClientClosed
	}
	consumer := NewConsumer(c.opt.ConsumerQueueSize, c.opt.ConsumerOverflow)
	registered := c.registry.AddConsumer(topic, consumer)
	if registered && c.State() == StateConnected && !c.registry.Active(topic) {
		if err := c.sendControl(c.opt.Encoder.EncodeSubscribe, topic); err == nil {
			c.registry.MarkActive(topic)
		}
	}
	return consumer, nil
}

// Unsubscribe detaches a consumer and closes its queue. The topic stays
// subscribed server-side (warm) so a quick re-subscribe costs nothing;
// WarmTopicTTL reaps it later if nobody comes back.
func (c *Client) Unsubscribe(topic string, consumer *Consumer) {
	if _, ok := c.registry.RemoveConsumer(topic, consumer); ok {
		consumer.Close()
	}
}

// Topics returns the registered topics in registration order.
func (c *Client) Topics() []string {
	return c.registry.Desired()
}

// Send queues a payload for writing. done, when set, fires with nil once
// the payload hits the socket or with the error that prevented it.
// Returns ErrNotConnected while the link is down; nothing is queued then.
func (c *Client) Send(payload []byte, done func(error)) error {
	if c.closed.Load() {
		return exception.ErrClientClosed
	}
	return c.writer.Enqueue(OutboundFrame{Payload: payload, Done: done})
}

func (c *Client) sendControl(encode func(string) ([]byte, error), topic string) error {
	payload, err := encode(topic)
	if err != nil {
		return errors.Wrap(err, "encode control frame").With("topic", topic)
	}
	return c.writer.Enqueue(OutboundFrame{Payload: payload})
}

// transition moves the state machine, ignoring same-state no-ops and
// refusing illegal edges. Observers are notified outside the lock order
// of any other client mutex.
func (c *Client) transition(to LinkState, reason error) bool {
	c.stateMu.Lock()
	from := c.state
	if from == to {
		c.stateMu.Unlock()
		return true
	}
	if !from.canEnter(to) {
		c.stateMu.Unlock()
		return false
	}
	c.state = to
	attempt := c.attempt
	c.stateMu.Unlock()
	if c.opt.OnStateChange != nil {
		c.opt.OnStateChange(StateChange{From: from, To: to, Reason: reason, Attempt: attempt})
	}
	return true
}

func (c *Client) run(ctx context.Context) {
	defer c.writer.SetConnected(false)
	for {
		if ctx.Err() != nil {
			c.transition(StateDisconnected, nil)
			return
		}
		if c.opt.WaitOnline != nil {
			waited, err := c.opt.WaitOnline(ctx)
			if err != nil {
				c.transition(StateDisconnected, nil)
				return
			}
			if waited {
				c.stateMu.Lock()
				c.attempt = 0
				c.stateMu.Unlock()
			}
		}

		conn, err := c.opt.Dialer.Dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.transition(StateDisconnected, nil)
				return
			}
			if stderrors.Is(err, exception.ErrAuthExpired) {
				c.transition(StateFailed, err)
				return
			}
			if !c.failedAttempt(ctx, err) {
				return
			}
			continue
		}

		c.registry.ClearActive()
		if err := c.resubscribe(ctx, conn); err != nil {
			_ = conn.Close(CloseNormal, "resubscribe failed")
			if ctx.Err() != nil {
				c.transition(StateDisconnected, nil)
				return
			}
			if stderrors.Is(err, exception.ErrAuthExpired) {
				c.transition(StateFailed, err)
				return
			}
			if !c.failedAttempt(ctx, err) {
				return
			}
			continue
		}

		c.onConnected()
		err = c.runSession(ctx, conn)
		c.writer.SetConnected(false)
		c.writer.Drain(exception.ErrConnectionClosed)
		_ = conn.Close(CloseNormal, "session end")

		if ctx.Err() != nil {
			c.transition(StateDisconnected, nil)
			return
		}
		if stderrors.Is(err, exception.ErrAuthExpired) {
			c.transition(StateFailed, err)
			return
		}
		c.scheduleRedial(ctx, err)
	}
}

// resubscribe replays every registered topic in registration order with
// synchronous writes. It runs before the read pump starts, so no inbound
// frame is delivered ahead of a completed resubscribe.
func (c *Client) resubscribe(ctx context.Context, conn Conn) error {
	for _, topic := range c.registry.Desired() {
		payload, err := c.opt.Encoder.EncodeSubscribe(topic)
		if err != nil {
			return errors.Wrap(err, "encode subscribe").With("topic", topic)
		}
		if err := conn.Write(ctx, payload); err != nil {
			return err
		}
		c.registry.MarkActive(topic)
		c.framesOut.Add(1)
	}
	return nil
}

func (c *Client) onConnected() {
	c.stateMu.Lock()
	c.attempt = 0
	from := c.state
	c.stateMu.Unlock()
	c.writer.SetConnected(true)
	c.transition(StateConnected, nil)
	if from == StateReconnecting {
		c.reconnects.Add(1)
	}
}

// failedAttempt charges one failed connect cycle against the budget and
// schedules the next dial. It reports false once the budget is spent,
// leaving the client in StateFailed.
func (c *Client) failedAttempt(ctx context.Context, reason error) bool {
	c.stateMu.Lock()
	c.attempt++
	attempt := c.attempt
	c.stateMu.Unlock()
	if c.opt.MaxAttempts > 0 && attempt >= c.opt.MaxAttempts {
		c.transition(StateFailed, exception.ErrRetriesExhausted)
		return false
	}
	c.transition(StateReconnecting, reason)
	c.sleepBackoff(ctx, attempt)
	return true
}

// scheduleRedial waits out the backoff after a dropped session. The drop
// itself is not a failed dial, so it spends no budget.
func (c *Client) scheduleRedial(ctx context.Context, reason error) {
	c.stateMu.Lock()
	attempt := c.attempt
	c.stateMu.Unlock()
	c.transition(StateReconnecting, reason)
	c.sleepBackoff(ctx, attempt+1)
}

func (c *Client) sleepBackoff(ctx context.Context, attempt int) {
	wait := c.opt.Backoff.Next(attempt)
	if wait <= 0 {
		return
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

func (c *Client) runSession(ctx context.Context, conn Conn) error {
	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 1)
	go c.readLoop(sessionCtx, conn, errCh)

	var ping <-chan time.Time
	if c.opt.PingInterval > 0 {
		ticker := time.NewTicker(c.opt.PingInterval)
		defer ticker.Stop()
		ping = ticker.C
	}
	var evict <-chan time.Time
	if c.opt.WarmTopicTTL > 0 {
		interval := c.opt.WarmTopicTTL / 2
		if interval < time.Second {
			interval = time.Second
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		evict = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-errCh:
			return err
		case frame := <-c.writer.queue:
			if err := conn.Write(sessionCtx, frame.Payload); err != nil {
				frame.complete(err)
				return err
			}
			frame.complete(nil)
			c.framesOut.Add(1)
		case <-ping:
			if err := conn.Ping(sessionCtx); err != nil {
				return err
			}
		case now := <-evict:
			c.evictIdleTopics(now)
		}
	}
}

func (c *Client) readLoop(ctx context.Context, conn Conn, errCh chan<- error) {
	for {
		payload, err := conn.Read(ctx)
		if err != nil {
			errCh <- err
			return
		}
		topic, ok := c.opt.Decoder.DecodeTopic(payload)
		if !ok {
			c.framesDropped.Add(1)
			continue
		}
		c.framesIn.Add(1)
		c.registry.Route(Frame{Topic: topic, Payload: payload, Received: time.Now()})
	}
}

// evictIdleTopics reaps warm topics past their TTL. Evict wins over a
// concurrent Subscribe racing the unsubscribe frame; the stale topic is
// re-subscribed on the next reconnect.
func (c *Client) evictIdleTopics(now time.Time) {
	for _, topic := range c.registry.IdleExpired(c.opt.WarmTopicTTL, now) {
		if !c.registry.Evict(topic) {
			continue
		}
		payload, err := c.opt.Encoder.EncodeUnsubscribe(topic)
		if err != nil {
			continue
		}
		_ = c.writer.Enqueue(OutboundFrame{Payload: payload})
	}
}
