package chat

import (
	stderrors "errors"
	"time"

	"github.com/yanun0323/logs"

	"main/pkg/exception"
	"main/pkg/realtime"
)

// pumpTopic drains one topic's frame stream into the hub until the
// consumer closes, on unsubscribe, warm-topic eviction or shutdown.
func (s *Session) pumpTopic(hub *topicHub) {
	defer s.wg.Done()
	start := time.Now()
	first := true
	for {
		frame, ok := hub.consumer.Next()
		if !ok {
			return
		}
		if first {
			first = false
			s.metrics.ObserveSubscribe(time.Since(start))
		}
		s.dispatchFrame(hub, frame)
	}
}

// dispatchFrame decodes and applies one inbound frame. Frames echoing
// our own sends are skipped; receipts are the exception since peers
// acknowledge our messages.
func (s *Session) dispatchFrame(hub *topicHub, frame realtime.Frame) {
	envelope, err := s.codec.DecodeFrame(frame.Payload)
	if err != nil {
		logs.Errorf("drop inbound frame, err: %+v", err)
		return
	}

	switch envelope.Type {
	case FrameMessage:
		if envelope.SenderID == s.cfg.UserID {
			return
		}
		s.handleMessage(hub, envelope)
	case FrameTypingStart:
		if envelope.SenderID == s.cfg.UserID || envelope.SenderID == "" {
			return
		}
		if s.typing.RemoteStart(envelope.Topic, envelope.SenderID, time.Now()) {
			s.metrics.IncTypingNotice()
			hub.broadcast(TypingStarted{Topic: envelope.Topic, UserID: envelope.SenderID})
		}
	case FrameTypingStop:
		if envelope.SenderID == s.cfg.UserID || envelope.SenderID == "" {
			return
		}
		if s.typing.RemoteStop(envelope.Topic, envelope.SenderID) {
			s.metrics.IncTypingNotice()
			hub.broadcast(TypingStopped{Topic: envelope.Topic, UserID: envelope.SenderID})
		}
	case FrameReceipt:
		if envelope.SenderID == s.cfg.UserID {
			return
		}
		s.handleReceipt(envelope)
	default:
		// Subscribe and unsubscribe frames are client-to-server only.
	}
}

// handleMessage applies one inbound message: dedup, acknowledge,
// persist, fan out.
func (s *Session) handleMessage(hub *topicHub, envelope Frame) {
	if envelope.ID == "" {
		logs.Errorf("drop message without id on %s", envelope.Topic)
		return
	}

	if !s.tracker.MarkSeen(envelope.ID) {
		// A redelivery means our ack may not have landed. Acknowledge
		// again but keep the message away from the application.
		s.metrics.IncDuplicateDrop()
		s.acknowledge(envelope.Topic, envelope.ID)
		return
	}

	payload, err := s.codec.DecodeMessage(envelope)
	if err != nil {
		logs.Errorf("drop malformed message %s, err: %+v", envelope.ID, err)
		return
	}

	msg := Message{
		ID:        envelope.ID,
		Topic:     envelope.Topic,
		SenderID:  envelope.SenderID,
		Kind:      payload.Kind,
		Content:   payload.Content,
		Lat:       payload.Lat,
		Lng:       payload.Lng,
		State:     MessageDelivered,
		CreatedAt: envelope.Time(),
		Inbound:   true,
	}

	s.acknowledge(msg.Topic, msg.ID)
	s.metrics.IncReceived()
	s.persist(msg)

	// A message ends its sender's typing burst implicitly.
	if s.typing.RemoteStop(msg.Topic, msg.SenderID) {
		hub.broadcast(TypingStopped{Topic: msg.Topic, UserID: msg.SenderID})
	}
	hub.broadcast(MessageReceived{Message: msg})
}

// handleReceipt advances a tracked message from a peer acknowledgment.
func (s *Session) handleReceipt(envelope Frame) {
	receipt, err := s.codec.DecodeReceipt(envelope)
	if err != nil {
		logs.Errorf("drop malformed receipt, err: %+v", err)
		return
	}

	msg, changed, err := s.tracker.ApplyReceipt(receipt.MessageID, receipt.State)
	if err != nil {
		if stderrors.Is(err, exception.ErrUnknownMessage) {
			logs.Infof("receipt for unknown message %s", receipt.MessageID)
		}
		return
	}
	if !changed {
		return
	}

	s.metrics.IncReceiptApplied()
	if msg.State == MessageDelivered {
		s.metrics.ObserveDelivery(time.Since(msg.CreatedAt))
	}
	s.publish(MessageStateChanged{Message: msg})
	s.persist(msg)
}

// acknowledge sends a delivered receipt straight over the link, best
// effort. A lost ack heals through the sender's redelivery.
func (s *Session) acknowledge(topic, messageID string) {
	payload, err := s.codec.EncodeReceipt(topic, s.cfg.UserID, messageID, ReceiptDelivered)
	if err != nil {
		return
	}
	err = s.client.Send(payload, nil)
	if err != nil && !stderrors.Is(err, exception.ErrNotConnected) && !stderrors.Is(err, exception.ErrClientClosed) {
		logs.Errorf("send delivered receipt, err: %+v", err)
	}
}
