package normalize

import (
	"net/http"
	"testing"

	"github.com/nanoagent/runtime/internal/bus"
	"github.com/nanoagent/runtime/internal/events"
)

func TestSessionKeyChatScoped(t *testing.T) {
	got := SessionKey("telegram", "chat1", "")
	want := "telegram:chat1"
	if got != want {
		t.Errorf("SessionKey() = %q, want %q", got, want)
	}
}

func TestSessionKeyThreadScoped(t *testing.T) {
	got := SessionKey("slack", "chat1", "thread1")
	want := "slack:chat1:thread1"
	if got != want {
		t.Errorf("SessionKey() = %q, want %q", got, want)
	}
}

func TestSDKMessage(t *testing.T) {
	evt := SDKMessage("discord", "u1", "alice", "c1", "", "hello", map[string]string{"k": "v"})
	if evt.Message != "hello" || evt.Channel != "discord" {
		t.Fatalf("unexpected event: %+v", evt)
	}
	if evt.Sender.ID != "u1" || evt.Sender.Name != "alice" {
		t.Errorf("unexpected sender: %+v", evt.Sender)
	}
	if evt.SessionKey != "discord:c1" {
		t.Errorf("SessionKey = %q, want discord:c1", evt.SessionKey)
	}
}

func TestLowerAndRaiseRoundTrip(t *testing.T) {
	evt := events.MessageReceived{
		Message:     "hi",
		SessionKey:  "telegram:chat1",
		Channel:     "telegram",
		Sender:      events.Sender{ID: "u1"},
		Destination: events.Destination{ChatID: "chat1"},
		ChannelMeta: map[string]string{"a": "b"},
	}

	msg := Lower(evt)
	if msg.Channel != "telegram" || msg.SenderID != "u1" || msg.ChatID != "chat1" || msg.Content != "hi" {
		t.Fatalf("unexpected lowered message: %+v", msg)
	}
	if msg.SessionKeyOverride != "telegram:chat1" {
		t.Errorf("SessionKeyOverride = %q, want telegram:chat1", msg.SessionKeyOverride)
	}

	raised := Raise(msg)
	if raised.Message != evt.Message || raised.SessionKey != evt.SessionKey || raised.Channel != evt.Channel {
		t.Errorf("Raise(Lower(evt)) = %+v, want %+v", raised, evt)
	}
	if raised.Sender.ID != evt.Sender.ID || raised.Destination.ChatID != evt.Destination.ChatID {
		t.Errorf("Raise(Lower(evt)) sender/destination mismatch: %+v vs %+v", raised, evt)
	}
}

func TestRaiseWithoutSessionKeyOverride(t *testing.T) {
	msg := bus.InboundMessage{
		Channel: "system",
		ChatID:  "",
		Content: "reminder",
	}
	evt := Raise(msg)
	if evt.SessionKey != "system:" {
		t.Errorf("SessionKey = %q, want system:", evt.SessionKey)
	}
}

func TestRaiseCronMessage(t *testing.T) {
	msg := bus.InboundMessage{
		Channel:            "system",
		Content:            "do the thing",
		SessionKeyOverride: "telegram:chat1",
		Metadata:           map[string]string{"source": "cron"},
	}
	evt := Raise(msg)
	if evt.SessionKey != "telegram:chat1" {
		t.Errorf("SessionKey = %q, want telegram:chat1", evt.SessionKey)
	}
	if evt.ChannelMeta["source"] != "cron" {
		t.Errorf("ChannelMeta not carried through Raise")
	}
}

func TestDingTalkDiscardsRetry(t *testing.T) {
	headers := http.Header{}
	headers.Set("X-Dingtalk-Retry", "1")
	_, discard, err := DingTalk([]byte(`{"msgtype":"text"}`), headers)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if discard == nil || discard.Reason != events.DiscardRetry {
		t.Fatalf("expected retry discard, got %+v", discard)
	}
}

func TestDingTalkParsesTextMessage(t *testing.T) {
	payload := []byte(`{"msgtype":"text","senderId":"u1","conversationId":"c1","text":{"content":"hello"}}`)
	evt, discard, err := DingTalk(payload, http.Header{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if discard != nil {
		t.Fatalf("unexpected discard: %+v", discard)
	}
	if evt.Message != "hello" || evt.Sender.ID != "u1" || evt.Destination.ChatID != "c1" {
		t.Errorf("unexpected event: %+v", evt)
	}
}

func TestMochatDiscardsEmptyContent(t *testing.T) {
	_, discard, err := Mochat([]byte(`{"senderId":"u1","chatId":"c1","content":""}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if discard == nil || discard.Reason != events.DiscardUnsupported {
		t.Fatalf("expected unsupported discard, got %+v", discard)
	}
}
