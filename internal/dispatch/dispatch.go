// Package dispatch fans a normalized MessageReceived event out to the
// agent: a best-effort Acknowledge, a singleton-controlled HandleMessage run,
// and a retrying SendReply, plumbed together the way the teacher's
// bus.MessageBus.DispatchOutbound subscriber loop fans OutboundMessage out to
// channels — generalized here to also fan MessageReceived out to
// Acknowledge+HandleMessage in parallel.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc"

	"github.com/nanoagent/runtime/internal/agent"
	"github.com/nanoagent/runtime/internal/bus"
	"github.com/nanoagent/runtime/internal/channels"
	"github.com/nanoagent/runtime/internal/events"
	"github.com/nanoagent/runtime/internal/singleton"
)

const sendReplyMaxAttempts = 3

// Dispatcher wires a channel manager, the agent loop, and the singleton
// controller into one MessageReceived -> ReplyReady pipeline.
type Dispatcher struct {
	channels   *channels.Manager
	loop       *agent.Loop
	controller *singleton.Controller
}

// New creates a Dispatcher over the given channel manager, agent loop, and
// singleton controller.
func New(chMgr *channels.Manager, loop *agent.Loop, controller *singleton.Controller) *Dispatcher {
	return &Dispatcher{channels: chMgr, loop: loop, controller: controller}
}

// Dispatch runs Acknowledge and HandleMessage concurrently for evt, then
// SendReply's the result if HandleMessage produced one. Acknowledge failures
// are logged, never propagated — a slow or failed typing indicator must
// never block or fail the actual reply.
func (d *Dispatcher) Dispatch(ctx context.Context, evt events.MessageReceived) {
	var wg conc.WaitGroup
	wg.Go(func() { d.Acknowledge(evt) })
	wg.Go(func() { d.handleAndReply(ctx, evt) })
	wg.Wait()
}

// Acknowledge sends a best-effort receipt hint to evt's source channel. No
// retries: a missed typing indicator is not worth delaying the real reply.
func (d *Dispatcher) Acknowledge(evt events.MessageReceived) {
	ch, ok := d.channels.ChannelByName(evt.Channel)
	if !ok {
		return
	}
	if err := ch.Acknowledge(evt.Destination, evt.ChannelMeta); err != nil {
		slog.Warn("dispatch: acknowledge failed", "channel", evt.Channel, "error", err)
	}
}

func (d *Dispatcher) handleAndReply(ctx context.Context, evt events.MessageReceived) {
	reply, err := d.HandleMessage(ctx, evt)
	if err != nil {
		d.GlobalFailureHandler(evt, err)
		return
	}
	if err := d.SendReply(reply); err != nil {
		slog.Error("dispatch: send reply failed after retries", "channel", reply.Channel, "error", err)
	}
}

// HandleMessage runs the agent loop for evt under the singleton controller:
// any run already in flight for evt.SessionKey is cancelled before this run
// is installed, so a session never has two runs committing results at once.
func (d *Dispatcher) HandleMessage(ctx context.Context, evt events.MessageReceived) (events.ReplyReady, error) {
	runCtx, release := d.controller.Acquire(ctx, evt.SessionKey)
	defer release()

	runID := uuid.NewString()
	result, err := d.loop.Run(runCtx, runID, evt.SessionKey, evt.Message, false)
	if err != nil {
		return events.ReplyReady{}, fmt.Errorf("dispatch: handle message: %w", err)
	}

	return events.ReplyReady{
		Response:    result.Response,
		Channel:     evt.Channel,
		Destination: evt.Destination,
		ChannelMeta: evt.ChannelMeta,
	}, nil
}

// SendReply delivers reply to its channel, retrying up to sendReplyMaxAttempts
// times with a short backoff before giving up.
func (d *Dispatcher) SendReply(reply events.ReplyReady) error {
	ch, ok := d.channels.ChannelByName(reply.Channel)
	if !ok {
		return fmt.Errorf("dispatch: no channel registered for %q", reply.Channel)
	}

	out := bus.OutboundMessage{
		Channel:  reply.Channel,
		ChatID:   reply.Destination.ChatID,
		Content:  reply.Response,
		Type:     "text",
		ReplyTo:  reply.Destination.MessageID,
		Metadata: reply.ChannelMeta,
	}

	var lastErr error
	for attempt := 1; attempt <= sendReplyMaxAttempts; attempt++ {
		if lastErr = ch.Send(out); lastErr == nil {
			return nil
		}
		slog.Warn("dispatch: send reply attempt failed", "channel", reply.Channel, "attempt", attempt, "error", lastErr)
		if attempt < sendReplyMaxAttempts {
			time.Sleep(time.Duration(attempt) * 500 * time.Millisecond)
		}
	}
	return fmt.Errorf("dispatch: send reply exhausted %d attempts: %w", sendReplyMaxAttempts, lastErr)
}

// failureApology is the short, fixed message sent to the user when a run
// fails unrecoverably after retry exhaustion.
const failureApology = "Sorry, something went wrong handling that message. Please try again."

// GlobalFailureHandler is the analog of a durable substrate's function.failed
// lifecycle hook: it reacts to a run that errored out of HandleMessage
// entirely (as opposed to a cancellation, which is an expected
// supersede-and-replace outcome, not a failure) by finding evt's originating
// channel and sending it a short apology, so the user never sees silent loss.
func (d *Dispatcher) GlobalFailureHandler(evt events.MessageReceived, err error) {
	if errors.Is(err, context.Canceled) {
		slog.Debug("dispatch: run superseded", "sessionKey", evt.SessionKey, "channel", evt.Channel)
		return
	}
	slog.Error("dispatch: run failed", "sessionKey", evt.SessionKey, "channel", evt.Channel, "error", err)

	ch, ok := d.channels.ChannelByName(evt.Channel)
	if !ok {
		return
	}
	out := bus.OutboundMessage{
		Channel:  evt.Channel,
		ChatID:   evt.Destination.ChatID,
		Content:  failureApology,
		Type:     "text",
		ReplyTo:  evt.Destination.MessageID,
		Metadata: evt.ChannelMeta,
	}
	if sendErr := ch.Send(out); sendErr != nil {
		slog.Error("dispatch: failed to send failure apology", "channel", evt.Channel, "error", sendErr)
	}
}
