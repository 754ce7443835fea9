package chat

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/yanun0323/decimal"
	"github.com/yanun0323/errors"

	"main/pkg/exception"
	"main/pkg/scanner"
)

// FrameType enumerates the wire frame types.
type FrameType string

const (
	FrameMessage     FrameType = "message"
	FrameTypingStart FrameType = "typing-start"
	FrameTypingStop  FrameType = "typing-stop"
	FrameReceipt     FrameType = "receipt"
	FrameSubscribe   FrameType = "subscribe"
	FrameUnsubscribe FrameType = "unsubscribe"
)

func (t FrameType) valid() bool {
	switch t {
	case FrameMessage, FrameTypingStart, FrameTypingStop, FrameReceipt,
		FrameSubscribe, FrameUnsubscribe:
		return true
	default:
		return false
	}
}

// Frame is the wire envelope shared by every frame type. Topic stays the
// first field so the fast topic scan finds it without a full decode.
type Frame struct {
	Topic     string          `json:"topic"`
	Type      FrameType       `json:"type"`
	ID        string          `json:"id,omitempty"`
	SenderID  string          `json:"senderId,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp int64           `json:"timestamp,omitempty"`
}

// Time converts the epoch-millisecond timestamp.
func (f Frame) Time() time.Time {
	if f.Timestamp <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(f.Timestamp)
}

// MessagePayload is the payload of a message frame.
type MessagePayload struct {
	Content string           `json:"content"`
	Kind    MessageKind      `json:"kind"`
	Lat     *decimal.Decimal `json:"lat,omitempty"`
	Lng     *decimal.Decimal `json:"lng,omitempty"`
}

// ReceiptState is the acknowledgment level carried by a receipt frame.
type ReceiptState string

const (
	ReceiptDelivered ReceiptState = "delivered"
	ReceiptRead      ReceiptState = "read"
)

// ReceiptPayload is the payload of a receipt frame.
type ReceiptPayload struct {
	MessageID string       `json:"messageId"`
	State     ReceiptState `json:"state"`
}

var topicKey = []byte(`"topic"`)

// Codec translates between wire frames and the domain. It satisfies both
// the topic router and the control encoder of the transport client.
type Codec struct{}

// DecodeTopic extracts the routing topic. It scans the raw bytes first
// since envelopes lead with the topic field, and falls back to a full
// decode when the scan is inconclusive.
func (Codec) DecodeTopic(payload []byte) (string, bool) {
	if topic, ok := scanner.Field(payload, topicKey); ok && len(topic) > 0 {
		return string(topic), true
	}
	var frame struct {
		Topic string `json:"topic"`
	}
	if err := json.Unmarshal(payload, &frame); err != nil || frame.Topic == "" {
		return "", false
	}
	return frame.Topic, true
}

// DecodeFrame parses and validates a full envelope.
func (Codec) DecodeFrame(payload []byte) (Frame, error) {
	var frame Frame
	if err := json.Unmarshal(payload, &frame); err != nil {
		return Frame{}, errors.Wrap(exception.ErrProtocol, err.Error())
	}
	if frame.Topic == "" {
		return Frame{}, errors.Wrap(exception.ErrProtocol, "missing topic")
	}
	if !frame.Type.valid() {
		return Frame{}, errors.Wrapf(exception.ErrProtocol, "unknown frame type %q", frame.Type)
	}
	return frame, nil
}

// DecodeMessage extracts the message payload of a message frame.
func (Codec) DecodeMessage(frame Frame) (MessagePayload, error) {
	var payload MessagePayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		return MessagePayload{}, errors.Wrap(exception.ErrProtocol, err.Error())
	}
	if payload.Kind == "" {
		payload.Kind = KindText
	}
	return payload, nil
}

// DecodeReceipt extracts the receipt payload of a receipt frame.
func (Codec) DecodeReceipt(frame Frame) (ReceiptPayload, error) {
	var payload ReceiptPayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		return ReceiptPayload{}, errors.Wrap(exception.ErrProtocol, err.Error())
	}
	if payload.MessageID == "" {
		return ReceiptPayload{}, errors.Wrap(exception.ErrProtocol, "receipt without message id")
	}
	if payload.State != ReceiptDelivered && payload.State != ReceiptRead {
		return ReceiptPayload{}, errors.Wrapf(exception.ErrProtocol, "unknown receipt state %q", payload.State)
	}
	return payload, nil
}

// EncodeMessage builds the wire frame for an outbound message.
func (Codec) EncodeMessage(msg Message) ([]byte, error) {
	payload, err := json.Marshal(MessagePayload{
		Content: msg.Content,
		Kind:    msg.Kind,
		Lat:     msg.Lat,
		Lng:     msg.Lng,
	})
	if err != nil {
		return nil, errors.Wrap(err, "encode message payload")
	}
	return json.Marshal(Frame{
		Topic:     msg.Topic,
		Type:      FrameMessage,
		ID:        msg.ID,
		SenderID:  msg.SenderID,
		Payload:   payload,
		Timestamp: msg.CreatedAt.UnixMilli(),
	})
}

// EncodeTyping builds a typing-start or typing-stop frame.
func (Codec) EncodeTyping(topic, senderID string, active bool) ([]byte, error) {
	frameType := FrameTypingStop
	if active {
		frameType = FrameTypingStart
	}
	return json.Marshal(Frame{
		Topic:     topic,
		Type:      frameType,
		SenderID:  senderID,
		Timestamp: time.Now().UnixMilli(),
	})
}

// EncodeReceipt builds a receipt frame acknowledging messageID.
func (Codec) EncodeReceipt(topic, senderID, messageID string, state ReceiptState) ([]byte, error) {
	payload, err := json.Marshal(ReceiptPayload{MessageID: messageID, State: state})
	if err != nil {
		return nil, errors.Wrap(err, "encode receipt payload")
	}
	return json.Marshal(Frame{
		Topic:     topic,
		Type:      FrameReceipt,
		SenderID:  senderID,
		Payload:   payload,
		Timestamp: time.Now().UnixMilli(),
	})
}

// EncodeSubscribe builds the control frame registering interest in topic.
func (Codec) EncodeSubscribe(topic string) ([]byte, error) {
	return json.Marshal(Frame{
		Topic:     topic,
		Type:      FrameSubscribe,
		Timestamp: time.Now().UnixMilli(),
	})
}

// EncodeUnsubscribe builds the control frame dropping interest in topic.
func (Codec) EncodeUnsubscribe(topic string) ([]byte, error) {
	return json.Marshal(Frame{
		Topic:     topic,
		Type:      FrameUnsubscribe,
		Timestamp: time.Now().UnixMilli(),
	})
}

// DecimalFromString parses a coordinate string into a decimal value.
func DecimalFromString(s string) (*decimal.Decimal, error) {
	var d decimal.Decimal
	if err := json.Unmarshal([]byte(strconv.Quote(s)), &d); err != nil {
		return nil, errors.Wrapf(err, "parse decimal %q", s)
	}
	return &d, nil
}

// DecimalString renders a coordinate for storage, empty when d is nil.
func DecimalString(d *decimal.Decimal) string {
	if d == nil {
		return ""
	}
	raw, err := json.Marshal(d)
	if err != nil {
		return ""
	}
	if s, err := strconv.Unquote(string(raw)); err == nil {
		return s
	}
	return string(raw)
}
