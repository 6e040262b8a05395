package channels

import (
	"context"
	"encoding/json"

	"github.com/nanoagent/runtime/internal/bus"
	"github.com/nanoagent/runtime/internal/events"
)

// Channel is the interface all chat platform channels must implement. It is
// the concrete form of the ChannelHandler contract: Send/Acknowledge cover
// SendReply/Acknowledge, Start doubles as Setup for channels that need it
// (token refresh, webhook server boot, websocket open).
type Channel interface {
	Name() string
	Start(ctx context.Context) error
	Stop() error
	Send(msg bus.OutboundMessage) error
	// Acknowledge is a best-effort, no-retry receipt hint sent back to the
	// platform (e.g. a typing indicator or read receipt) as soon as a message
	// is accepted for processing, before the agent run produces a reply.
	Acknowledge(dest events.Destination, meta map[string]string) error
	IsAllowed(senderID string) bool
}

// ChannelFactory creates a Channel from JSON config and a MessageBus.
type ChannelFactory func(cfg json.RawMessage, msgBus *bus.MessageBus) (Channel, error)

var registry = map[string]ChannelFactory{}

// Register adds a channel factory to the registry.
func Register(name string, factory ChannelFactory) {
	registry[name] = factory
}

// GetFactory returns the factory for a channel name.
func GetFactory(name string) (ChannelFactory, bool) {
	f, ok := registry[name]
	return f, ok
}

// RegisteredNames returns all registered channel names.
func RegisteredNames() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	return names
}
