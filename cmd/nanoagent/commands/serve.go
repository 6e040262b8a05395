package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	robfigcron "github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/nanoagent/runtime/internal/normalize"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the agent and every configured channel",
		Long: `serve loads configuration, wires the LLM provider, tools, channels,
cron jobs, and the heartbeat distillation loop together, then blocks until
interrupted (SIGINT/SIGTERM).`,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return fmt.Errorf("serve: %w", err)
	}

	rt, err := buildRuntime(cfg)
	if err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	defer rt.durableStore.Close()

	if err := rt.registerChannels(); err != nil {
		return fmt.Errorf("serve: %w", err)
	}

	if err := rt.cronSvc.LoadFromDisk(); err != nil {
		slog.Warn("serve: failed to restore persisted cron jobs", "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mcpClients, err := rt.connectMCP(ctx)
	if err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	defer func() {
		for _, c := range mcpClients {
			_ = c.Close()
		}
	}()

	heartbeatScheduler, err := startHeartbeatSchedule(ctx, rt, cfg.Agent.HeartbeatCron)
	if err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	defer heartbeatScheduler.Stop()

	rt.cronSvc.Start()
	defer rt.cronSvc.Stop()

	go rt.msgBus.DispatchOutbound(ctx)

	if err := rt.channels.StartAll(ctx); err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	defer func() {
		if err := rt.channels.StopAll(); err != nil {
			slog.Error("serve: error stopping channels", "error", err)
		}
	}()

	slog.Info("nanoagent started", "agent", cfg.Agent.Name, "workspace", cfg.Agent.Workspace, "model", cfg.Agent.Model)

	consumeInbound(ctx, rt)

	slog.Info("nanoagent shutting down")
	return nil
}

// consumeInbound drains the bus until ctx is cancelled, dispatching each
// message to the agent loop in its own goroutine so a slow run in one
// session never blocks messages arriving for another.
func consumeInbound(ctx context.Context, rt *runtime) {
	for {
		msg, err := rt.msgBus.ConsumeInbound(ctx)
		if err != nil {
			return
		}
		evt := normalize.Raise(msg)
		go rt.dispatcher.Dispatch(ctx, evt)
	}
}

// startHeartbeatSchedule registers heartbeat ticks on the configured cron
// expression. It uses a dedicated scheduler rather than internal/cron's
// Service, whose AddJob publishes chat-style inbound messages — the
// heartbeat instead triggers a Tick call directly.
func startHeartbeatSchedule(ctx context.Context, rt *runtime, expr string) (*robfigcron.Cron, error) {
	scheduler := robfigcron.New()
	_, err := scheduler.AddFunc(expr, func() { rt.heartbeatSvc.TriggerNow(ctx) })
	if err != nil {
		return nil, fmt.Errorf("invalid heartbeat schedule %q: %w", expr, err)
	}
	scheduler.Start()
	return scheduler, nil
}
