package normalize

import (
	"fmt"
	"net/http"

	"github.com/tidwall/gjson"

	"github.com/nanoagent/runtime/internal/events"
)

// FeishuChallenge answers Feishu's URL-verification handshake synchronously,
// before any event processing: {"type":"url_verification","challenge":"..."}
// must be echoed back as {"challenge":"..."}.
func FeishuChallenge(payload []byte) ([]byte, bool) {
	root := gjson.ParseBytes(payload)
	if root.Get("type").String() != "url_verification" {
		return nil, false
	}
	challenge := root.Get("challenge").String()
	return []byte(fmt.Sprintf(`{"challenge":%q}`, challenge)), true
}

// Feishu transforms one Feishu event-callback payload into a MessageReceived
// event, or classifies it as a Discard when it's not a text message callback
// or is a redelivery the platform is retrying.
func Feishu(payload []byte, headers http.Header) (events.MessageReceived, *events.Discard, error) {
	root := gjson.ParseBytes(payload)
	if !gjson.ValidBytes(payload) {
		return events.MessageReceived{}, nil, fmt.Errorf("normalize: feishu: empty or invalid payload")
	}

	if headers.Get("X-Lark-Retry-Count") != "" {
		return events.MessageReceived{}, &events.Discard{
			Channel: "feishu",
			Reason:  events.DiscardRetry,
			Detail:  "X-Lark-Retry-Count header present",
		}, nil
	}

	eventType := root.Get("header.event_type").String()
	if eventType != "im.message.receive_v1" {
		return events.MessageReceived{}, &events.Discard{
			Channel: "feishu",
			Reason:  events.DiscardUnsupported,
			Detail:  "event_type=" + eventType,
		}, nil
	}

	senderID := root.Get("event.sender.sender_id.open_id").String()
	chatID := root.Get("event.message.chat_id").String()
	content := gjson.Get(root.Get("event.message.content").String(), "text").String()

	evt := events.MessageReceived{
		Message:     content,
		SessionKey:  SessionKey("feishu", chatID, ""),
		Channel:     "feishu",
		Sender:      events.Sender{ID: senderID},
		Destination: events.Destination{ChatID: chatID, MessageID: root.Get("event.message.message_id").String()},
		ChannelMeta: map[string]string{"event_id": root.Get("header.event_id").String()},
	}
	return evt, nil, nil
}
