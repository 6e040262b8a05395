package heartbeat

import (
	"context"
	"testing"
	"time"

	"github.com/nanoagent/runtime/internal/durable"
	"github.com/nanoagent/runtime/internal/memory"
	"github.com/nanoagent/runtime/internal/providers"
)

type mockHeartbeatProvider struct {
	response string
	calls    int
}

func (m *mockHeartbeatProvider) Chat(ctx context.Context, req providers.ChatRequest) (*providers.ChatResponse, error) {
	m.calls++
	return &providers.ChatResponse{Content: m.response, StopReason: providers.StopReasonStop}, nil
}

func newTestService(t *testing.T, provider providers.Provider) (*Service, *memory.Store, string) {
	t.Helper()
	dir := t.TempDir()
	mem := memory.NewStore(dir)
	store, err := durable.Open(":memory:")
	if err != nil {
		t.Fatalf("durable.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	svc := NewService(Config{
		Provider: provider,
		Model:    "test-model",
		Memory:   mem,
		Durable:  store,
		Interval: time.Hour,
	})
	return svc, mem, dir
}

func TestTick_SkipsWhenNoMarkerAndLogEmpty(t *testing.T) {
	provider := &mockHeartbeatProvider{response: "# Memory\n"}
	svc, mem, _ := newTestService(t, provider)

	svc.Tick(context.Background())

	if provider.calls != 0 {
		t.Errorf("expected no LLM call when there is no daily log at all, got %d calls", provider.calls)
	}
	if mem.ReadMemory() != "" {
		t.Error("expected MEMORY.md to remain untouched")
	}
}

func TestTick_DistillsWhenLogPastSizeThreshold(t *testing.T) {
	provider := &mockHeartbeatProvider{response: "# Curated\n\nDistilled content."}
	svc, mem, _ := newTestService(t, provider)

	big := make([]byte, LogSizeThreshold+1)
	for i := range big {
		big[i] = 'x'
	}
	if err := mem.AppendDailyLog(string(big)); err != nil {
		t.Fatalf("AppendDailyLog: %v", err)
	}

	svc.Tick(context.Background())

	if provider.calls != 1 {
		t.Fatalf("expected exactly one LLM call, got %d", provider.calls)
	}
	got := mem.ReadMemory()
	if got == "" {
		t.Fatal("expected MEMORY.md to be written")
	}
	if _, ok := memory.LastHeartbeat(got); !ok {
		t.Error("expected a last_heartbeat marker to be stamped")
	}
}

func TestTick_SkipsWhenBelowThresholdAndRecentlyRun(t *testing.T) {
	provider := &mockHeartbeatProvider{response: "# Curated\n"}
	svc, mem, _ := newTestService(t, provider)

	if err := mem.AppendDailyLog("small entry"); err != nil {
		t.Fatalf("AppendDailyLog: %v", err)
	}
	if err := mem.WriteMemory(memory.WithHeartbeat("# Curated\n", time.Now().UTC())); err != nil {
		t.Fatalf("WriteMemory: %v", err)
	}
	provider.calls = 0

	svc.Tick(context.Background())

	if provider.calls != 0 {
		t.Errorf("expected no LLM call when under threshold and recently run, got %d", provider.calls)
	}
}

func TestTriggerNow(t *testing.T) {
	provider := &mockHeartbeatProvider{response: "# Curated\n"}
	svc, mem, _ := newTestService(t, provider)

	big := make([]byte, LogSizeThreshold+1)
	for i := range big {
		big[i] = 'z'
	}
	if err := mem.AppendDailyLog(string(big)); err != nil {
		t.Fatalf("AppendDailyLog: %v", err)
	}

	svc.TriggerNow(context.Background())

	if provider.calls != 1 {
		t.Errorf("expected TriggerNow to run a distillation, got %d calls", provider.calls)
	}
}
