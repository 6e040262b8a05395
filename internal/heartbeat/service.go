// Package heartbeat runs the agent's periodic memory distillation: an
// adaptive, no-LLM-call pre-check decides whether there is enough new daily
// log material to justify a real distillation pass, and if so an LLM call
// folds the last 7 days of non-empty logs into curated memory before old
// logs are pruned. Generalized from the teacher's tick()'s single "phase 1
// decision" LLM call into a cheaper heuristic pre-check plus a richer,
// multi-day distillation, with each phase a durable substep.
package heartbeat

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nanoagent/runtime/internal/durable"
	"github.com/nanoagent/runtime/internal/memory"
	"github.com/nanoagent/runtime/internal/providers"
)

const (
	// LogSizeThreshold is the daily-log byte size past which a heartbeat
	// proceeds to distillation even if MaxHoursBetween hasn't elapsed yet.
	LogSizeThreshold = 4096
	// MaxHoursBetween is the longest a heartbeat goes without distilling,
	// regardless of how little today's log holds.
	MaxHoursBetween = 8
	// DistillationWindowDays is how many days of daily logs are folded into
	// one distillation pass.
	DistillationWindowDays = 7
	// DefaultRetentionDays is how long a daily log survives before pruning,
	// overridable via MEMORY_RETENTION_DAYS.
	DefaultRetentionDays = 30
)

const distillationSystemPrompt = `You distill an agent's daily activity logs into durable long-term memory. Read the existing curated memory and the recent daily logs below, then produce the complete replacement for the curated memory file: keep everything still relevant, fold in anything new and worth remembering, and drop anything stale or superseded. Write markdown. Do not include a last_heartbeat line; that is added separately.`

// Service runs the heartbeat tick on an interval.
type Service struct {
	provider      providers.Provider
	model         string
	memory        *memory.Store
	durable       *durable.Store
	retentionDays int
	interval      time.Duration

	mu      sync.Mutex
	stopCh  chan struct{}
	running bool
}

// Config holds every dependency and tunable the heartbeat needs.
type Config struct {
	Provider      providers.Provider
	Model         string
	Memory        *memory.Store
	Durable       *durable.Store
	RetentionDays int // MEMORY_RETENTION_DAYS, default DefaultRetentionDays
	Interval      time.Duration
}

func NewService(cfg Config) *Service {
	interval := cfg.Interval
	if interval == 0 {
		interval = 30 * time.Minute
	}
	retention := cfg.RetentionDays
	if retention <= 0 {
		retention = DefaultRetentionDays
	}
	return &Service{
		provider:      cfg.Provider,
		model:         cfg.Model,
		memory:        cfg.Memory,
		durable:       cfg.Durable,
		retentionDays: retention,
		interval:      interval,
		stopCh:        make(chan struct{}),
	}
}

// Start begins the ticking loop in a background goroutine.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.Tick(ctx)
			case <-s.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.running = false
	close(s.stopCh)
}

// TriggerNow runs one tick immediately, bypassing the interval ticker — used
// by the serve command's HEARTBEAT_CRON schedule and by tests.
func (s *Service) TriggerNow(ctx context.Context) {
	s.Tick(ctx)
}

// Tick runs one heartbeat attempt: a cheap pre-check, and only if it passes,
// a full durable-substep distillation. Each phase is its own named substep
// so a crash mid-distillation resumes rather than re-running the LLM call.
func (s *Service) Tick(ctx context.Context) {
	run := s.durable.NewRun("heartbeat-" + uuid.NewString())
	now := time.Now().UTC()

	shouldRun, err := durable.Step(ctx, run, "check", func(context.Context) (bool, error) {
		return s.shouldDistill(now), nil
	})
	if err != nil {
		slog.Error("heartbeat: pre-check failed", "error", err)
		return
	}
	if !shouldRun {
		slog.Debug("heartbeat: pre-check declined, skipping distillation")
		return
	}

	logs, err := durable.Step(ctx, run, "load", func(context.Context) ([]string, error) {
		return s.memory.NonEmptyLogsSince(DistillationWindowDays, now), nil
	})
	if err != nil {
		slog.Error("heartbeat: failed to load daily logs", "error", err)
		return
	}
	if len(logs) == 0 {
		slog.Debug("heartbeat: no non-empty logs in window, skipping distillation")
		return
	}

	existing := s.memory.ReadMemory()
	distilled, err := durable.Step(ctx, run, "distill", func(ctx context.Context) (string, error) {
		return s.distill(ctx, existing, logs)
	})
	if err != nil {
		slog.Error("heartbeat: distillation LLM call failed", "error", err)
		return
	}

	stamped := memory.WithHeartbeat(distilled, now)
	if _, err := durable.Step(ctx, run, "write", func(context.Context) (struct{}, error) {
		return struct{}{}, s.memory.WriteMemory(stamped)
	}); err != nil {
		slog.Error("heartbeat: failed to write curated memory", "error", err)
		return
	}

	if _, err := durable.Step(ctx, run, "prune", func(context.Context) (struct{}, error) {
		return struct{}{}, s.memory.PruneOldLogs(s.retentionDays, now)
	}); err != nil {
		slog.Error("heartbeat: failed to prune old logs", "error", err)
		return
	}

	slog.Info("heartbeat: distillation complete", "logsFolded", len(logs))
}

// shouldDistill is the adaptive, no-LLM-call pre-check: distill if today's
// log has grown past LogSizeThreshold, or if it has simply been too long
// since the last distillation, whichever comes first.
func (s *Service) shouldDistill(now time.Time) bool {
	if len(s.memory.ReadDailyLog(now)) > LogSizeThreshold {
		return true
	}
	last, ok := memory.LastHeartbeat(s.memory.ReadMemory())
	if !ok {
		return true
	}
	return now.Sub(last) > MaxHoursBetween*time.Hour
}

func (s *Service) distill(ctx context.Context, existingMemory string, logs []string) (string, error) {
	var prompt string
	if existingMemory != "" {
		prompt = "## Existing Curated Memory\n\n" + existingMemory + "\n\n"
	}
	for _, log := range logs {
		prompt += "## Daily Log\n\n" + log + "\n\n"
	}

	resp, err := s.provider.Chat(ctx, providers.ChatRequest{
		Model:        s.model,
		SystemPrompt: distillationSystemPrompt,
		Messages:     []providers.Message{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", fmt.Errorf("heartbeat: distill: %w", err)
	}
	return resp.Text(), nil
}
