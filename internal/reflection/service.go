// Package reflection distills finished reasoning runs into skill experience
// and long-term memories. It is invoked fire-and-forget after the loop
// completes and is strictly best-effort: every failure is logged, none is
// surfaced back to the run.
package reflection

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/legionruntime/legion/internal/skills"
	"github.com/legionruntime/legion/internal/tools"
	"github.com/legionruntime/legion/pkg/models"
)

// MemoryWriter is the slice of the memory manager reflection needs.
type MemoryWriter interface {
	Create(ctx context.Context, m *models.Memory) error
}

// ToolCatalog resolves tool IDs to descriptors for skill attribution.
// *tools.Registry satisfies it.
type ToolCatalog interface {
	Descriptor(id string) (tools.Descriptor, bool)
}

// minActions is the floor below which a run is too trivial to reflect on.
const minActions = 2

const (
	failureImportanceBase = 0.5
	failureImportanceStep = 0.1
	failureImportanceCap  = 0.9

	// inefficientIterations and decisiveExecutions frame the efficiency
	// check: many loop turns producing few real tool runs.
	inefficientIterations = 5
	decisiveExecutions    = 3

	reflectTimeout = 30 * time.Second
)

// Cycle is the record of one finished reasoning run handed to reflection.
type Cycle struct {
	AgentID    string
	UserID     string
	SessionID  string
	Trigger    models.TriggerType
	Iterations int
	Actions    []models.ActionRecord

	// Recoveries counts tool calls that only succeeded after the recovery
	// layer retried or substituted.
	Recoveries int
}

// Service turns cycles into XP awards and learning memories.
type Service struct {
	memories MemoryWriter
	skills   *skills.Service
	catalog  ToolCatalog
	logger   *slog.Logger

	wg sync.WaitGroup
}

// NewService wires the reflection service. catalog may be nil; skill
// attribution then uses the name-based fallback only.
func NewService(memories MemoryWriter, skillSvc *skills.Service, catalog ToolCatalog, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		memories: memories,
		skills:   skillSvc,
		catalog:  catalog,
		logger:   logger.With("component", "reflection"),
	}
}

// ReflectAsync queues the reflection in the background and returns
// immediately. Use Wait during shutdown to drain queued work.
func (s *Service) ReflectAsync(c Cycle) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), reflectTimeout)
		defer cancel()
		s.Reflect(ctx, c)
	}()
}

// Wait blocks until queued reflections finish.
func (s *Service) Wait() { s.wg.Wait() }

// Reflect processes one cycle: XP for successful tool use, learnings for
// failures and inefficient runs, decision memories for approaches worth
// repeating, then the inactivity decay pass.
func (s *Service) Reflect(ctx context.Context, c Cycle) {
	if len(c.Actions) < minActions {
		return
	}

	s.awardExperience(ctx, c)

	gate := c.shouldCreateMemories()
	executed := c.executedSequence()

	if failed := c.failedTools(); len(failed) > 0 {
		s.recordFailureLearning(ctx, c, failed)
	}
	if c.Iterations > inefficientIterations && len(executed) < decisiveExecutions {
		s.recordEfficiencyLearning(ctx, c, len(executed))
	}
	if gate && len(executed) >= decisiveExecutions {
		s.recordToolChain(ctx, c, executed)
	}
	if gate && len(executed) > 0 {
		s.recordTaskPattern(ctx, c, distinct(executed))
	}

	if _, err := s.skills.Decay(ctx, c.AgentID); err != nil {
		s.logger.Warn("skill decay failed", "agent_id", c.AgentID, "error", err)
	}
}

// shouldCreateMemories is the quality gate: failures and recoveries always
// qualify; otherwise the run must be substantial (enough actions and
// iterations, with some tool variety) to be worth remembering.
func (c *Cycle) shouldCreateMemories() bool {
	if c.failedCount() > 0 {
		return true
	}
	if c.Recoveries > 0 {
		return true
	}
	if len(c.Actions) < 3 || c.Iterations < 2 {
		return false
	}
	return len(c.Actions) >= 4 && c.uniqueToolCount() >= 2
}

func (s *Service) awardExperience(ctx context.Context, c Cycle) {
	perCategory := make(map[models.SkillCategory]int)
	for _, action := range c.Actions {
		if action.Status != models.ActionExecuted {
			continue
		}
		perCategory[s.categoryFor(action.Tool)]++
	}
	if len(perCategory) == 0 {
		return
	}

	categories := make([]models.SkillCategory, 0, len(perCategory))
	for category := range perCategory {
		categories = append(categories, category)
	}
	sort.Slice(categories, func(i, j int) bool { return categories[i] < categories[j] })

	for _, category := range categories {
		uses := perCategory[category]
		note := fmt.Sprintf("%d successful tool use(s) in a %s run", uses, c.Trigger)
		if _, err := s.skills.Award(ctx, c.AgentID, category, uses*skills.XPPerSuccess, note); err != nil {
			s.logger.Warn("xp award failed",
				"agent_id", c.AgentID, "category", category, "error", err)
		}
	}
}

func (s *Service) categoryFor(toolID string) models.SkillCategory {
	if s.catalog != nil {
		if d, ok := s.catalog.Descriptor(toolID); ok && d.SkillCategory != "" {
			return d.SkillCategory
		}
	}
	return fallbackCategory(toolID)
}

// fallbackCategory groups tools by verb when the descriptor does not pin a
// category. Unrecognized tools train integration, the catch-all for
// platform and device connectors.
func fallbackCategory(toolID string) models.SkillCategory {
	id := strings.ToLower(toolID)
	switch {
	case id == "respond" || id == "requesthumaninput" ||
		strings.HasPrefix(id, "send") || strings.HasPrefix(id, "reply") || strings.HasPrefix(id, "notify"):
		return models.SkillCommunication
	case strings.HasPrefix(id, "search") || strings.HasPrefix(id, "query") ||
		strings.HasPrefix(id, "get") || strings.HasPrefix(id, "list") ||
		strings.HasPrefix(id, "read") || strings.HasPrefix(id, "check") ||
		strings.HasPrefix(id, "analyze") || strings.Contains(id, "memory"):
		return models.SkillAnalysis
	case strings.HasPrefix(id, "schedule") || strings.HasPrefix(id, "generate") ||
		strings.HasPrefix(id, "run") || strings.HasPrefix(id, "exec") ||
		strings.Contains(id, "cron") || strings.Contains(id, "workflow"):
		return models.SkillAutomation
	case id == "done" || strings.HasPrefix(id, "orchestrate") || strings.HasPrefix(id, "delegate") ||
		strings.HasPrefix(id, "create") || strings.HasPrefix(id, "update") ||
		strings.HasPrefix(id, "complete") || strings.Contains(id, "task") ||
		strings.Contains(id, "goal") || strings.Contains(id, "plan"):
		return models.SkillManagement
	default:
		return models.SkillIntegration
	}
}

func (s *Service) recordFailureLearning(ctx context.Context, c Cycle, failed []string) {
	importance := failureImportanceBase + failureImportanceStep*float64(len(failed))
	if importance > failureImportanceCap {
		importance = failureImportanceCap
	}
	content := fmt.Sprintf("Run triggered by %s had %d failing tool(s): %s.",
		c.Trigger, len(failed), strings.Join(failed, ", "))
	if msg := c.firstError(); msg != "" {
		content += " First error: " + truncate(msg, 160)
	}
	s.saveMemory(ctx, c, &models.Memory{
		Kind:       models.MemoryLearning,
		Content:    content,
		Importance: importance,
		Valence:    -0.3,
		Tags:       append([]string{"failure"}, failed...),
	})
}

func (s *Service) recordEfficiencyLearning(ctx context.Context, c Cycle, executed int) {
	content := fmt.Sprintf("Run triggered by %s took %d iterations to execute %d tool(s); prefer fewer, more decisive tool calls.",
		c.Trigger, c.Iterations, executed)
	s.saveMemory(ctx, c, &models.Memory{
		Kind:       models.MemoryLearning,
		Content:    content,
		Importance: 0.6,
		Valence:    -0.2,
		Tags:       []string{"efficiency"},
	})
}

func (s *Service) recordToolChain(ctx context.Context, c Cycle, chain []string) {
	content := fmt.Sprintf("Successful tool chain for %s: %s.",
		c.Trigger, strings.Join(chain, " -> "))
	s.saveMemory(ctx, c, &models.Memory{
		Kind:       models.MemoryDecision,
		Content:    content,
		Importance: 0.7,
		Valence:    0.2,
		Tags:       []string{"tool_chain"},
	})
}

func (s *Service) recordTaskPattern(ctx context.Context, c Cycle, toolIDs []string) {
	content := fmt.Sprintf("Approach for %s tasks: %s.",
		c.Trigger, strings.Join(toolIDs, ", "))
	s.saveMemory(ctx, c, &models.Memory{
		Kind:       models.MemoryDecision,
		Content:    content,
		Importance: 0.6,
		Tags:       []string{"task_pattern"},
	})
}

func (s *Service) saveMemory(ctx context.Context, c Cycle, mem *models.Memory) {
	mem.AgentID = c.AgentID
	mem.UserID = c.UserID
	mem.SessionID = c.SessionID
	if err := s.memories.Create(ctx, mem); err != nil {
		s.logger.Warn("reflection memory write failed",
			"agent_id", c.AgentID, "kind", mem.Kind, "error", err)
	}
}

// executedSequence returns the tool IDs of executed actions in run order,
// repeats included.
func (c *Cycle) executedSequence() []string {
	var out []string
	for _, a := range c.Actions {
		if a.Status == models.ActionExecuted {
			out = append(out, a.Tool)
		}
	}
	return out
}

// failedTools returns the distinct tools of failed or blocked actions, in
// first-failure order.
func (c *Cycle) failedTools() []string {
	seen := make(map[string]bool)
	var out []string
	for _, a := range c.Actions {
		if !actionFailed(a.Status) || seen[a.Tool] {
			continue
		}
		seen[a.Tool] = true
		out = append(out, a.Tool)
	}
	return out
}

func (c *Cycle) failedCount() int {
	n := 0
	for _, a := range c.Actions {
		if actionFailed(a.Status) {
			n++
		}
	}
	return n
}

func (c *Cycle) uniqueToolCount() int {
	seen := make(map[string]bool)
	for _, a := range c.Actions {
		seen[a.Tool] = true
	}
	return len(seen)
}

func (c *Cycle) firstError() string {
	for _, a := range c.Actions {
		if actionFailed(a.Status) && a.Error != "" {
			return a.Error
		}
	}
	return ""
}

func actionFailed(status models.ActionStatus) bool {
	switch status {
	case models.ActionFailed, models.ActionBlockedError, models.ActionBlockedPlaceholder:
		return true
	}
	return false
}

func distinct(seq []string) []string {
	seen := make(map[string]bool, len(seq))
	out := make([]string, 0, len(seq))
	for _, id := range seq {
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-3]) + "..."
}
