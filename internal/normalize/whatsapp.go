package normalize

import (
	"fmt"
	"net/http"
	"net/url"

	"github.com/tidwall/gjson"

	"github.com/nanoagent/runtime/internal/events"
)

// WhatsAppChallenge answers the Cloud API's GET subscription-verification
// request: it must echo back hub.challenge's raw bytes when hub.mode is
// "subscribe" and hub.verify_token matches the configured token.
func WhatsAppChallenge(query url.Values, verifyToken string) ([]byte, bool) {
	if query.Get("hub.mode") != "subscribe" || query.Get("hub.verify_token") != verifyToken {
		return nil, false
	}
	return []byte(query.Get("hub.challenge")), true
}

// WhatsApp transforms one Cloud API webhook delivery into a MessageReceived
// event. A delivery can batch several entries/changes/messages; only the
// first text message found is normalized — matching the teacher's own
// single-message-per-delivery assumption — with everything else discarded as
// unsupported.
func WhatsApp(payload []byte, headers http.Header) (events.MessageReceived, *events.Discard, error) {
	root := gjson.ParseBytes(payload)
	if !gjson.ValidBytes(payload) {
		return events.MessageReceived{}, nil, fmt.Errorf("normalize: whatsapp: empty or invalid payload")
	}

	var found gjson.Result
	root.Get("entry").ForEach(func(_, entry gjson.Result) bool {
		entry.Get("changes").ForEach(func(_, change gjson.Result) bool {
			change.Get("value.messages").ForEach(func(_, msg gjson.Result) bool {
				if msg.Get("type").String() == "text" {
					found = msg
					return false
				}
				return true
			})
			return !found.Exists()
		})
		return !found.Exists()
	})

	if !found.Exists() {
		return events.MessageReceived{}, &events.Discard{
			Channel: "whatsapp",
			Reason:  events.DiscardUnsupported,
			Detail:  "no text message in delivery",
		}, nil
	}

	senderID := found.Get("from").String()
	content := found.Get("text.body").String()

	evt := events.MessageReceived{
		Message:     content,
		SessionKey:  SessionKey("whatsapp", senderID, ""),
		Channel:     "whatsapp",
		Sender:      events.Sender{ID: senderID},
		Destination: events.Destination{ChatID: senderID, MessageID: found.Get("id").String()},
	}
	return evt, nil, nil
}
