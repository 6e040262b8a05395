package normalize

import (
	"fmt"
	"net/http"

	"github.com/tidwall/gjson"

	"github.com/nanoagent/runtime/internal/events"
)

// DingTalk transforms one DingTalk robot-callback payload into a
// MessageReceived event.
func DingTalk(payload []byte, headers http.Header) (events.MessageReceived, *events.Discard, error) {
	root := gjson.ParseBytes(payload)
	if !gjson.ValidBytes(payload) {
		return events.MessageReceived{}, nil, fmt.Errorf("normalize: dingtalk: empty or invalid payload")
	}

	if headers.Get("X-Dingtalk-Retry") != "" {
		return events.MessageReceived{}, &events.Discard{
			Channel: "dingtalk",
			Reason:  events.DiscardRetry,
			Detail:  "X-Dingtalk-Retry header present",
		}, nil
	}

	if root.Get("msgtype").String() != "text" {
		return events.MessageReceived{}, &events.Discard{
			Channel: "dingtalk",
			Reason:  events.DiscardUnsupported,
			Detail:  "msgtype=" + root.Get("msgtype").String(),
		}, nil
	}

	senderID := root.Get("senderId").String()
	chatID := root.Get("conversationId").String()
	content := root.Get("text.content").String()

	evt := events.MessageReceived{
		Message:     content,
		SessionKey:  SessionKey("dingtalk", chatID, ""),
		Channel:     "dingtalk",
		Sender:      events.Sender{ID: senderID},
		Destination: events.Destination{ChatID: chatID},
	}
	return evt, nil, nil
}
