package chat

import (
	"encoding/json"
	stderrors "errors"
	"testing"
	"time"

	"main/pkg/exception"
)

func TestCodecDecodeTopicFastPath(t *testing.T) {
	codec := Codec{}
	payload := []byte(`{"topic":"room:general","type":"message","id":"m1"}`)

	topic, ok := codec.DecodeTopic(payload)
	if !ok {
		t.Fatal("expected topic")
	}
	if topic != "room:general" {
		t.Fatalf("expected room:general, got %q", topic)
	}
}

func TestCodecDecodeTopicFallback(t *testing.T) {
	codec := Codec{}
	// Escapes in the value defeat the byte scan but not the full decode.
	payload := []byte(`{"topic":"room:\"vip\"","type":"message"}`)

	topic, ok := codec.DecodeTopic(payload)
	if !ok || topic != `room:"vip"` {
		t.Fatalf(`expected room:"vip", got %q ok=%v`, topic, ok)
	}

	if _, ok := codec.DecodeTopic([]byte(`{"type":"message"}`)); ok {
		t.Fatal("expected no topic")
	}
	if _, ok := codec.DecodeTopic([]byte(`not json`)); ok {
		t.Fatal("expected failure on garbage")
	}
}

func TestCodecMessageRoundTrip(t *testing.T) {
	codec := Codec{}
	lat, err := DecimalFromString("25.0330")
	if err != nil {
		t.Fatalf("parse lat: %+v", err)
	}
	lng, err := DecimalFromString("121.5654")
	if err != nil {
		t.Fatalf("parse lng: %+v", err)
	}

	sent := Message{
		ID:        "m1",
		Topic:     "room:general",
		SenderID:  "alice",
		Kind:      KindLocation,
		Content:   "here",
		Lat:       lat,
		Lng:       lng,
		CreatedAt: time.UnixMilli(1700000000000),
	}
	raw, err := codec.EncodeMessage(sent)
	if err != nil {
		t.Fatalf("encode: %+v", err)
	}

	frame, err := codec.DecodeFrame(raw)
	if err != nil {
		t.Fatalf("decode frame: %+v", err)
	}
	if frame.Type != FrameMessage || frame.Topic != sent.Topic || frame.ID != sent.ID {
		t.Fatalf("envelope mismatch: %+v", frame)
	}
	if frame.SenderID != "alice" {
		t.Fatalf("expected sender alice, got %q", frame.SenderID)
	}
	if !frame.Time().Equal(sent.CreatedAt) {
		t.Fatalf("timestamp mismatch: %v vs %v", frame.Time(), sent.CreatedAt)
	}

	payload, err := codec.DecodeMessage(frame)
	if err != nil {
		t.Fatalf("decode payload: %+v", err)
	}
	if payload.Content != "here" || payload.Kind != KindLocation {
		t.Fatalf("payload mismatch: %+v", payload)
	}
	if payload.Lat == nil || payload.Lng == nil {
		t.Fatal("expected coordinates")
	}
	if DecimalString(payload.Lat) != DecimalString(lat) {
		t.Fatalf("lat mismatch: %s vs %s", DecimalString(payload.Lat), DecimalString(lat))
	}
}

func TestCodecDecodeMessageDefaultsKind(t *testing.T) {
	codec := Codec{}
	frame := Frame{
		Topic:   "room:general",
		Type:    FrameMessage,
		ID:      "m1",
		Payload: json.RawMessage(`{"content":"hi"}`),
	}
	payload, err := codec.DecodeMessage(frame)
	if err != nil {
		t.Fatalf("decode: %+v", err)
	}
	if payload.Kind != KindText {
		t.Fatalf("expected text default, got %q", payload.Kind)
	}
}

func TestCodecDecodeFrameRejectsProtocolErrors(t *testing.T) {
	codec := Codec{}
	cases := map[string][]byte{
		"garbage":       []byte(`{{`),
		"missing topic": []byte(`{"type":"message"}`),
		"unknown type":  []byte(`{"topic":"room:general","type":"presence"}`),
	}
	for name, payload := range cases {
		if _, err := codec.DecodeFrame(payload); !stderrors.Is(err, exception.ErrProtocol) {
			t.Fatalf("%s: expected protocol error, got %+v", name, err)
		}
	}
}

func TestCodecDecodeReceipt(t *testing.T) {
	codec := Codec{}
	raw, err := codec.EncodeReceipt("room:general", "bob", "m1", ReceiptRead)
	if err != nil {
		t.Fatalf("encode: %+v", err)
	}
	frame, err := codec.DecodeFrame(raw)
	if err != nil {
		t.Fatalf("decode frame: %+v", err)
	}
	receipt, err := codec.DecodeReceipt(frame)
	if err != nil {
		t.Fatalf("decode receipt: %+v", err)
	}
	if receipt.MessageID != "m1" || receipt.State != ReceiptRead {
		t.Fatalf("receipt mismatch: %+v", receipt)
	}

	bad := Frame{Payload: json.RawMessage(`{"state":"delivered"}`)}
	if _, err := codec.DecodeReceipt(bad); !stderrors.Is(err, exception.ErrProtocol) {
		t.Fatalf("expected protocol error for missing id, got %+v", err)
	}
	bad = Frame{Payload: json.RawMessage(`{"messageId":"m1","state":"seen"}`)}
	if _, err := codec.DecodeReceipt(bad); !stderrors.Is(err, exception.ErrProtocol) {
		t.Fatalf("expected protocol error for bad state, got %+v", err)
	}
}

func TestCodecControlFrames(t *testing.T) {
	codec := Codec{}
	raw, err := codec.EncodeSubscribe("room:general")
	if err != nil {
		t.Fatalf("encode subscribe: %+v", err)
	}
	frame, err := codec.DecodeFrame(raw)
	if err != nil {
		t.Fatalf("decode: %+v", err)
	}
	if frame.Type != FrameSubscribe || frame.Topic != "room:general" {
		t.Fatalf("subscribe mismatch: %+v", frame)
	}

	raw, err = codec.EncodeUnsubscribe("room:general")
	if err != nil {
		t.Fatalf("encode unsubscribe: %+v", err)
	}
	frame, err = codec.DecodeFrame(raw)
	if err != nil {
		t.Fatalf("decode: %+v", err)
	}
	if frame.Type != FrameUnsubscribe {
		t.Fatalf("unsubscribe mismatch: %+v", frame)
	}
}

func TestCodecTypingFrames(t *testing.T) {
	codec := Codec{}
	raw, err := codec.EncodeTyping("room:general", "alice", true)
	if err != nil {
		t.Fatalf("encode: %+v", err)
	}
	frame, err := codec.DecodeFrame(raw)
	if err != nil {
		t.Fatalf("decode: %+v", err)
	}
	if frame.Type != FrameTypingStart || frame.SenderID != "alice" {
		t.Fatalf("typing start mismatch: %+v", frame)
	}

	raw, _ = codec.EncodeTyping("room:general", "alice", false)
	frame, _ = codec.DecodeFrame(raw)
	if frame.Type != FrameTypingStop {
		t.Fatalf("typing stop mismatch: %+v", frame)
	}
}
