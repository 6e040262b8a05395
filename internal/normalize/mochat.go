package normalize

import (
	"fmt"

	"github.com/tidwall/gjson"

	"github.com/nanoagent/runtime/internal/events"
)

// Mochat transforms one message object from a /api/messages poll response
// (already split out of the batch array by the channel adapter) into a
// MessageReceived event.
func Mochat(messagePayload []byte) (events.MessageReceived, *events.Discard, error) {
	root := gjson.ParseBytes(messagePayload)
	if !gjson.ValidBytes(messagePayload) {
		return events.MessageReceived{}, nil, fmt.Errorf("normalize: mochat: empty or invalid payload")
	}

	senderID := root.Get("senderId").String()
	chatID := root.Get("chatId").String()
	content := root.Get("content").String()
	if content == "" {
		return events.MessageReceived{}, &events.Discard{
			Channel: "mochat",
			Reason:  events.DiscardUnsupported,
			Detail:  "empty content",
		}, nil
	}

	evt := events.MessageReceived{
		Message:     content,
		SessionKey:  SessionKey("mochat", chatID, ""),
		Channel:     "mochat",
		Sender:      events.Sender{ID: senderID},
		Destination: events.Destination{ChatID: chatID},
	}
	return evt, nil, nil
}
