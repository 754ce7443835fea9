package chat

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/google/uuid"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"main/pkg/exception"
)

// Send queues a text message for topic. The returned copy is Pending;
// delivery progress arrives through Events. A full outbox refuses the
// message outright.
func (s *Session) Send(topic, content string) (Message, error) {
	return s.send(Message{
		Topic:   topic,
		Kind:    KindText,
		Content: content,
	})
}

// SendLocation queues a location message carrying the coordinates.
func (s *Session) SendLocation(topic, lat, lng string) (Message, error) {
	latValue, err := DecimalFromString(lat)
	if err != nil {
		return Message{}, err
	}
	lngValue, err := DecimalFromString(lng)
	if err != nil {
		return Message{}, err
	}
	return s.send(Message{
		Topic: topic,
		Kind:  KindLocation,
		Lat:   latValue,
		Lng:   lngValue,
	})
}

func (s *Session) send(msg Message) (Message, error) {
	if s.closed.Load() {
		return Message{}, exception.ErrSessionClosed
	}
	if msg.Topic == "" {
		return Message{}, exception.ErrEmptyTopic
	}

	msg.ID = uuid.New().String()
	msg.SenderID = s.cfg.UserID
	msg.State = MessagePending
	msg.CreatedAt = time.Now()

	payload, err := s.codec.EncodeMessage(msg)
	if err != nil {
		return Message{}, err
	}
	if err := s.tracker.Track(msg); err != nil {
		return Message{}, err
	}
	if err := s.outbox.Append(outboxEntry{messageID: msg.ID, payload: payload}); err != nil {
		s.tracker.Untrack(msg.ID)
		if stderrors.Is(err, exception.ErrOutboxFull) {
			s.metrics.IncOutboxRejection()
		}
		return Message{}, err
	}
	s.metrics.ObserveOutboxDepth(s.outbox.Len())

	// Sending ends the local typing burst without waiting for expiry.
	s.typing.StopLocal(msg.Topic)

	s.persist(msg)
	return msg, nil
}

// Retry requeues a failed message with a fresh attempt budget.
func (s *Session) Retry(id string) (Message, error) {
	if s.closed.Load() {
		return Message{}, exception.ErrSessionClosed
	}
	msg, err := s.tracker.Retry(id)
	if err != nil {
		return Message{}, err
	}
	payload, err := s.codec.EncodeMessage(msg)
	if err != nil {
		return Message{}, err
	}
	if err := s.outbox.Append(outboxEntry{messageID: msg.ID, payload: payload}); err != nil {
		if stderrors.Is(err, exception.ErrOutboxFull) {
			s.metrics.IncOutboxRejection()
		}
		return Message{}, err
	}
	s.metrics.ObserveOutboxDepth(s.outbox.Len())
	s.publish(MessageStateChanged{Message: msg})
	s.persist(msg)
	return msg, nil
}

// Discard drops a failed message instead of retrying it. The history
// store keeps its Failed record.
func (s *Session) Discard(id string) (Message, error) {
	if s.closed.Load() {
		return Message{}, exception.ErrSessionClosed
	}
	return s.tracker.Discard(id)
}

// MarkRead acknowledges an inbound message as read. The receipt rides
// the outbox so it survives an offline stretch like any message.
func (s *Session) MarkRead(topic, messageID string) error {
	if s.closed.Load() {
		return exception.ErrSessionClosed
	}
	if topic == "" {
		return exception.ErrEmptyTopic
	}
	if messageID == "" {
		return exception.ErrUnknownMessage
	}
	payload, err := s.codec.EncodeReceipt(topic, s.cfg.UserID, messageID, ReceiptRead)
	if err != nil {
		return err
	}
	if err := s.outbox.Append(outboxEntry{payload: payload}); err != nil {
		if stderrors.Is(err, exception.ErrOutboxFull) {
			s.metrics.IncOutboxRejection()
		}
		return err
	}
	s.metrics.ObserveOutboxDepth(s.outbox.Len())
	return nil
}

// TypingPulse records one local keystroke in topic. The first pulse of
// a burst puts typing-start on the wire; the burst ends on silence or
// on Send.
func (s *Session) TypingPulse(topic string) {
	if s.closed.Load() || topic == "" {
		return
	}
	s.typing.Pulse(topic)
}

// StopTyping ends the local burst explicitly.
func (s *Session) StopTyping(topic string) {
	if s.closed.Load() || topic == "" {
		return
	}
	s.typing.StopLocal(topic)
}

// TypingUsers lists peers typing in topic right now.
func (s *Session) TypingUsers(topic string) []string {
	return s.typing.TypingUsers(topic, time.Now())
}

// sendTyping puts a typing edge straight on the wire. Typing frames
// are ephemeral: while the link is down they are dropped, never queued.
func (s *Session) sendTyping(topic string, active bool) {
	payload, err := s.codec.EncodeTyping(topic, s.cfg.UserID, active)
	if err != nil {
		return
	}
	err = s.client.Send(payload, nil)
	if err != nil && !stderrors.Is(err, exception.ErrNotConnected) && !stderrors.Is(err, exception.ErrClientClosed) {
		logs.Errorf("send typing frame, err: %+v", err)
	}
}

// dispatchOutbox is the single writer draining the outbox. It sends one
// entry at a time and waits for the transport confirm before the next,
// so a requeue can never reorder the stream.
func (s *Session) dispatchOutbox(ctx context.Context) {
	defer s.wg.Done()
	for {
		if !s.waitConnected(ctx) {
			return
		}
		entry, ok := s.outbox.Pop()
		if !ok {
			return
		}
		if !s.deliver(ctx, entry) {
			return
		}
	}
}

// deliver writes one entry and settles its outcome. It reports false
// only when the session is shutting down.
func (s *Session) deliver(ctx context.Context, entry outboxEntry) bool {
	confirmed := make(chan error, 1)
	err := s.client.Send(entry.payload, func(result error) { confirmed <- result })
	if err != nil {
		// Nothing reached the transport, so this was no attempt. The
		// entry goes back to the front and we wait for the link.
		if stderrors.Is(err, exception.ErrNotConnected) {
			s.outbox.PushFront(entry)
			return true
		}
		if stderrors.Is(err, exception.ErrClientClosed) {
			s.outbox.PushFront(entry)
			return false
		}
		s.failedWrite(entry, err)
		return true
	}

	select {
	case result := <-confirmed:
		if result != nil {
			s.failedWrite(entry, result)
			return true
		}
		s.confirmWrite(entry)
		return true
	case <-ctx.Done():
		return false
	}
}

// failedWrite charges one attempt and either requeues the entry at the
// front or gives up on it.
func (s *Session) failedWrite(entry outboxEntry, cause error) {
	if entry.messageID == "" {
		entry.attempts++
		if entry.attempts >= s.cfg.MaxSendAttempts {
			logs.Errorf("drop receipt after %d attempts, err: %+v", entry.attempts, cause)
			return
		}
		s.outbox.PushFront(entry)
		return
	}

	attempts, ok := s.tracker.BumpAttempts(entry.messageID)
	if !ok {
		return
	}
	if attempts < s.cfg.MaxSendAttempts {
		s.outbox.PushFront(entry)
		return
	}

	msg, err := s.tracker.Apply(entry.messageID, MessageFailed)
	if err != nil {
		return
	}
	logs.Errorf("message %s failed after %d attempts, err: %+v", entry.messageID, attempts, cause)
	s.metrics.IncFailed()
	s.publish(MessageStateChanged{Message: msg})
	s.persist(msg)
}

// confirmWrite moves a message to Sent once the transport confirms the
// socket write.
func (s *Session) confirmWrite(entry outboxEntry) {
	if entry.messageID == "" {
		return
	}
	msg, err := s.tracker.Apply(entry.messageID, MessageSent)
	if err != nil {
		// A receipt can outrun the write confirm; the higher state wins.
		return
	}
	s.metrics.IncSent()
	s.metrics.ObserveSend(time.Since(msg.CreatedAt))
	s.publish(MessageStateChanged{Message: msg})
	s.persist(msg)
}

// persist mirrors a message into the history store.
func (s *Session) persist(msg Message) {
	if s.cfg.Store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.cfg.Store.Append(ctx, msg); err != nil {
		logs.Errorf("persist message, err: %+v", errors.Wrap(err, msg.ID))
	}
}
