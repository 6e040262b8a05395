// Package events defines the canonical event shapes that carry an inbound
// message from a channel normalizer through to the reply dispatcher:
// MessageReceived and ReplyReady. These are richer than internal/bus's
// InboundMessage/OutboundMessage (which stay as the teacher's plain
// channel+chatID transport shape) — normalizers produce events.MessageReceived,
// which the channel adapter lowers into a bus.InboundMessage (normalize.Lower);
// the serve loop raises it back (normalize.Raise) before handing it to the
// dispatcher.
package events

// Sender identifies who sent a message.
type Sender struct {
	ID       string
	Name     string
	Username string
}

// Destination identifies where a reply should be sent.
type Destination struct {
	ChatID    string
	MessageID string
	ThreadID  string
}

// MessageReceived is the canonical normalized inbound event.
type MessageReceived struct {
	Message     string
	SessionKey  string
	Channel     string
	Sender      Sender
	Destination Destination
	ChannelMeta map[string]string
}

// ReplyReady is emitted once HandleMessage produces a final response.
type ReplyReady struct {
	Response    string
	Channel     string
	Destination Destination
	ChannelMeta map[string]string
}

// Discard reasons used by normalizers to classify non-message payloads
// instead of producing a MessageReceived event.
const (
	DiscardUnsupported = "message.unsupported"
	DiscardTransformFailed = "transform.failed"
	DiscardRetry        = "event.retry"
)

// Discard carries a classification for a webhook payload that did not
// produce a message event — a duplicate/retry delivery, an unsupported
// payload shape, or a transform failure.
type Discard struct {
	Channel string
	Reason  string
	Detail  string
}
