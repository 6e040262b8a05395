// Package normalize turns raw channel payloads into the canonical
// events.MessageReceived shape at the ingest boundary, so every channel
// adapter — webhook-based or SDK-push-based — hands the dispatch loop the
// same event regardless of the wire format it arrived in. Each per-channel
// function here is a pure transform: no bus access, no I/O, just payload in,
// event (or a discard classification) out.
package normalize

import (
	"fmt"

	"github.com/nanoagent/runtime/internal/bus"
	"github.com/nanoagent/runtime/internal/events"
)

// SessionKey applies the per-channel session scoping policy: thread-scoped
// when the channel surfaces a thread ID (Slack/Discord threads), otherwise
// chat-scoped.
func SessionKey(channel, chatID, threadID string) string {
	if threadID != "" {
		return fmt.Sprintf("%s:%s:%s", channel, chatID, threadID)
	}
	return fmt.Sprintf("%s:%s", channel, chatID)
}

// SDKMessage builds a canonical event from fields a channel adapter has
// already extracted from its native event type (Telegram, Discord and Slack
// SDK events, email's IMAP fetch, and QQ's webhook handler, which decodes its
// own struct) — there is no payload to parse here, only the same event shape
// to construct. Mochat's polled messages go through Mochat instead.
func SDKMessage(channel, senderID, senderName, chatID, threadID, content string, meta map[string]string) events.MessageReceived {
	return events.MessageReceived{
		Message:    content,
		SessionKey: SessionKey(channel, chatID, threadID),
		Channel:    channel,
		Sender:     events.Sender{ID: senderID, Name: senderName},
		Destination: events.Destination{
			ChatID:   chatID,
			ThreadID: threadID,
		},
		ChannelMeta: meta,
	}
}

// Lower converts a canonical event into the bus's plain transport shape, the
// boundary between the normalizer layer and the teacher's existing
// channel+chatID message bus.
func Lower(evt events.MessageReceived) bus.InboundMessage {
	return bus.InboundMessage{
		Channel:            evt.Channel,
		SenderID:           evt.Sender.ID,
		ChatID:             evt.Destination.ChatID,
		Content:            evt.Message,
		SessionKeyOverride: evt.SessionKey,
		Metadata:           evt.ChannelMeta,
	}
}

// Raise is Lower's inverse: it recovers a canonical event from a message the
// serve loop has pulled off the bus. SessionKey is recomputed from
// channel+chatID unless the message carried an explicit override (e.g. a
// cron job targeting a specific session).
func Raise(msg bus.InboundMessage) events.MessageReceived {
	sessionKey := msg.SessionKeyOverride
	if sessionKey == "" {
		sessionKey = SessionKey(msg.Channel, msg.ChatID, "")
	}
	return events.MessageReceived{
		Message:    msg.Content,
		SessionKey: sessionKey,
		Channel:    msg.Channel,
		Sender:     events.Sender{ID: msg.SenderID},
		Destination: events.Destination{
			ChatID: msg.ChatID,
		},
		ChannelMeta: msg.Metadata,
	}
}
