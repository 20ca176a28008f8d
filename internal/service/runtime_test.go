package service

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/legionruntime/legion/internal/config"
	"github.com/legionruntime/legion/internal/notify"
	"github.com/legionruntime/legion/internal/store"
	"github.com/legionruntime/legion/internal/tools"
	"github.com/legionruntime/legion/pkg/models"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Database.Path = ":memory:"
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.HTTPPort = 0
	cfg.Scheduler.Enabled = true
	cfg.Audit.Enabled = false
	return cfg
}

func TestNew_WiresComponents(t *testing.T) {
	rt, err := New(testConfig(), slog.Default())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if rt.Loop == nil || rt.Scheduler == nil || rt.Hub == nil || rt.Approvals == nil || rt.Notifier == nil || rt.Usage == nil {
		t.Fatalf("incomplete wiring: %+v", rt)
	}
	if rt.Memory == nil {
		t.Fatal("memory manager should exist even with embeddings disabled")
	}
	if rt.Knowledge != nil {
		t.Fatal("knowledge base requires an embedder")
	}
}

func TestNew_SchedulerDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.Scheduler.Enabled = false
	rt, err := New(cfg, slog.Default())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if rt.Scheduler != nil {
		t.Fatal("scheduler should not be built when disabled")
	}
}

func TestRuntime_StartServesHealth(t *testing.T) {
	rt, err := New(testConfig(), slog.Default())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()
	if err := rt.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := rt.Stop(stopCtx); err != nil {
			t.Errorf("Stop: %v", err)
		}
	}()

	resp, err := http.Get("http://" + rt.Addr() + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz status = %d", resp.StatusCode)
	}
}

func TestBuildRouter_RejectsUnknownProvider(t *testing.T) {
	_, _, err := buildRouter(config.AIConfig{
		DefaultProvider: "mystery",
		Providers:       map[string]config.ProviderConfig{"mystery": {}},
	}, slog.Default())
	if err == nil || !strings.Contains(err.Error(), "mystery") {
		t.Fatalf("expected unknown provider error, got %v", err)
	}
}

func TestAuditConfigMapsFileSink(t *testing.T) {
	out := auditConfig(config.AuditConfig{Enabled: true, Path: "/var/log/legion.jsonl"})
	if out.Output != "file:/var/log/legion.jsonl" {
		t.Fatalf("Output = %q", out.Output)
	}
	out = auditConfig(config.AuditConfig{Enabled: true})
	if out.Output != "stdout" {
		t.Fatalf("Output = %q, want stdout", out.Output)
	}
}

type recordingSender struct {
	sent []string
}

func (r *recordingSender) Channel() string { return "telegram" }
func (r *recordingSender) Send(_ context.Context, address, text string) error {
	r.sent = append(r.sent, address+": "+text)
	return nil
}

func TestMessenger_ResolvesContactByName(t *testing.T) {
	stores := store.NewMemoryStores()
	ctx := context.Background()
	if err := stores.Contacts.CreateContact(ctx, &models.Contact{
		ID: "c1", UserID: "u1", DisplayName: "Dana", Platform: "telegram", Address: "12345",
	}); err != nil {
		t.Fatalf("seed contact: %v", err)
	}

	sender := &recordingSender{}
	m := &messenger{
		contacts: stores.Contacts,
		senders:  map[string]notify.Sender{"telegram": sender},
		logger:   slog.Default(),
	}

	msgID, err := m.Send(ctx, &models.ToolContext{AgentID: "a1", UserID: "u1"}, &tools.OutboundMessage{
		Platform: "telegram", ContactName: "dana", Body: "status update",
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if msgID == "" {
		t.Fatal("expected a message ID")
	}
	if len(sender.sent) != 1 || !strings.Contains(sender.sent[0], "12345") {
		t.Fatalf("unexpected deliveries: %v", sender.sent)
	}
}

func TestMessenger_UnknownContact(t *testing.T) {
	m := &messenger{
		contacts: store.NewMemoryStores().Contacts,
		senders:  map[string]notify.Sender{"telegram": &recordingSender{}},
		logger:   slog.Default(),
	}
	_, err := m.Send(context.Background(), &models.ToolContext{UserID: "u1"}, &tools.OutboundMessage{
		Platform: "telegram", ContactName: "Nobody", Body: "hi",
	})
	if err == nil || !strings.Contains(err.Error(), "Nobody") {
		t.Fatalf("expected unknown contact error, got %v", err)
	}
}

func TestOrchestrator_CreateSpecialistHonorsLimits(t *testing.T) {
	stores := store.NewMemoryStores()
	ctx := context.Background()
	parent := &models.Agent{
		ID: "p1", UserID: "u1", Name: "Atlas", Status: models.AgentActive,
		Autonomy: models.AutonomySemi, CanCreateChildren: true, MaxChildren: 1,
		DailyBudget: 10,
	}
	if err := stores.Agents.Create(ctx, parent); err != nil {
		t.Fatalf("seed parent: %v", err)
	}

	o := &orchestrator{stores: stores, logger: slog.Default(), spawn: func(fn func()) { fn() }}
	tctx := &models.ToolContext{AgentID: "p1", UserID: "u1"}

	child, err := o.CreateSpecialist(ctx, tctx, "Scout", "research", "You research things.")
	if err != nil {
		t.Fatalf("CreateSpecialist: %v", err)
	}
	if child.ParentID != "p1" || child.DailyBudget != 5 {
		t.Fatalf("unexpected child: %+v", child)
	}

	if _, err := o.CreateSpecialist(ctx, tctx, "Second", "extra", ""); err == nil {
		t.Fatal("expected sub-agent limit error")
	}
}

func TestOrchestrator_RequiresPermission(t *testing.T) {
	stores := store.NewMemoryStores()
	ctx := context.Background()
	if err := stores.Agents.Create(ctx, &models.Agent{
		ID: "p1", UserID: "u1", Name: "Atlas", Status: models.AgentActive,
	}); err != nil {
		t.Fatalf("seed parent: %v", err)
	}
	o := &orchestrator{stores: stores, logger: slog.Default(), spawn: func(fn func()) { fn() }}
	if _, err := o.CreateSpecialist(ctx, &models.ToolContext{AgentID: "p1", UserID: "u1"}, "X", "", ""); err == nil {
		t.Fatal("expected permission error")
	}
}
