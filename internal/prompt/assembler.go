// Package prompt assembles the model input for a reasoning run: a system
// prompt built from the agent's personality, live state, tool surface, and
// device fleet, plus a user message phrased for the trigger that started
// the run.
package prompt

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/legionruntime/legion/internal/store"
	"github.com/legionruntime/legion/internal/tools"
	"github.com/legionruntime/legion/pkg/models"
)

// memoryTopK bounds the recent-memory section.
const memoryTopK = 5

// historyWindow bounds how many conversation lines are quoted back.
const historyWindow = 6

// openTasksShown and doneTasksShown bound the task listing.
const (
	openTasksShown = 10
	doneTasksShown = 3
)

// Knowledge lists the agent's internal document libraries. The retrieval
// service implements it; nil drops the libraries block.
type Knowledge interface {
	ListLibraries(ctx context.Context, agentID string) ([]Library, error)
}

// Library identifies one internal knowledge collection.
type Library struct {
	ID        string
	Name      string
	Documents int
}

// Prompt is the assembled model input for one run.
type Prompt struct {
	System string
	User   string
}

// Assembler builds prompts from the stores. Secondary lookups are
// best-effort: a failing store drops its section and logs rather than
// failing the run.
type Assembler struct {
	stores        store.StoreSet
	personalities *Personalities
	knowledge     Knowledge
	logger        *slog.Logger
	now           func() time.Time
}

// NewAssembler wires the assembler. personalities and knowledge may be nil.
func NewAssembler(stores store.StoreSet, personalities *Personalities, knowledge Knowledge, logger *slog.Logger) *Assembler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Assembler{
		stores:        stores,
		personalities: personalities,
		knowledge:     knowledge,
		logger:        logger.With("component", "prompt"),
		now:           time.Now,
	}
}

// Build assembles both prompt halves for one run. Sections appear in a
// fixed order and are never truncated; empty sections are dropped.
func (a *Assembler) Build(ctx context.Context, profile *models.Agent, tctx *models.TriggerContext, sel tools.Selection, tier models.Tier) Prompt {
	sections := make([]string, 0, 6)

	sections = append(sections, a.personalities.Resolve(profile))
	if s := a.agentContext(ctx, profile); s != "" {
		sections = append(sections, s)
	}
	if s := a.recentMemories(ctx, profile, tctx); s != "" {
		sections = append(sections, s)
	}
	sections = append(sections, toolSection(sel, tier))
	if s := a.localAgents(ctx, profile); s != "" {
		sections = append(sections, s)
	}
	if s := a.mobileAgents(ctx, profile); s != "" {
		sections = append(sections, s)
	}

	return Prompt{
		System: strings.TrimSpace(strings.Join(sections, "\n\n")),
		User:   a.userMessage(ctx, profile, tctx),
	}
}

func (a *Assembler) agentContext(ctx context.Context, profile *models.Agent) string {
	if profile == nil {
		return ""
	}
	lines := make([]string, 0, 24)
	lines = append(lines, "Your current state:")

	if goals, err := a.stores.Goals.ListActive(ctx, profile.ID); err != nil {
		a.logger.Warn("goal lookup failed", "agent", profile.ID, "error", err)
	} else if len(goals) > 0 {
		lines = append(lines, "Goals:")
		for _, g := range goals {
			line := "- " + g.Title
			if g.Detail != "" {
				line += ": " + truncateContent(g.Detail, 120)
			}
			lines = append(lines, line)
		}
	}

	if skills, err := a.stores.Skills.ListByAgent(ctx, profile.ID); err != nil {
		a.logger.Warn("skill lookup failed", "agent", profile.ID, "error", err)
	} else if len(skills) > 0 {
		parts := make([]string, 0, len(skills))
		for _, s := range skills {
			parts = append(parts, fmt.Sprintf("%s %s (level %d)", s.Category, skillLevelName(s.Level), s.Level))
		}
		lines = append(lines, "Skills: "+strings.Join(parts, ", ")+".")
	}

	if team, err := a.stores.Contacts.ListTeam(ctx, profile.UserID); err != nil {
		a.logger.Warn("team lookup failed", "agent", profile.ID, "error", err)
	} else if len(team) > 0 {
		noun := "members"
		if len(team) == 1 {
			noun = "member"
		}
		lines = append(lines, fmt.Sprintf("Team: %d human %s tasks can be assigned to.", len(team), noun))
	}

	lines = append(lines, a.taskLines(ctx, profile)...)
	lines = append(lines, a.scheduleLines(ctx, profile)...)

	if sources, err := a.stores.Devices.ListMonitoringSources(ctx, profile.ID); err != nil {
		a.logger.Warn("monitoring source lookup failed", "agent", profile.ID, "error", err)
	} else {
		var active []string
		for _, src := range sources {
			if !src.IsActive {
				continue
			}
			entry := src.Platform
			if src.AccountID != "" {
				entry += " (" + src.AccountID + ")"
			}
			active = append(active, entry)
		}
		if len(active) > 0 {
			lines = append(lines, "Monitored inboxes: "+strings.Join(active, ", ")+".")
		}
	}

	if a.knowledge != nil {
		if libs, err := a.knowledge.ListLibraries(ctx, profile.ID); err != nil {
			a.logger.Warn("knowledge lookup failed", "agent", profile.ID, "error", err)
		} else if len(libs) > 0 {
			lines = append(lines, "Knowledge libraries:")
			for _, lib := range libs {
				lines = append(lines, fmt.Sprintf("- [%s] %s (%d documents)", lib.ID, lib.Name, lib.Documents))
			}
			lines = append(lines, "Prefer these internal libraries over searchWeb when a topic may be covered there.")
		}
	}

	if profile.HasMaster() {
		lines = append(lines, fmt.Sprintf("You report to %s (%s).", profile.Master.Name, profile.Master.Channel))
	}

	band := models.FamiliarityBand(profile.InteractionCount)
	lines = append(lines, fmt.Sprintf("Relationship: %s. %s", band, toneGuidance(band)))

	if len(lines) == 1 {
		return ""
	}
	return strings.Join(lines, "\n")
}

func (a *Assembler) taskLines(ctx context.Context, profile *models.Agent) []string {
	tasks, err := a.stores.Tasks.ListByAssignee(ctx, profile.ID, nil)
	if err != nil {
		a.logger.Warn("task lookup failed", "agent", profile.ID, "error", err)
		return nil
	}

	var open, done []*models.Task
	for _, t := range tasks {
		if t.Status.Terminal() {
			if t.Status == models.TaskCompleted {
				done = append(done, t)
			}
			continue
		}
		open = append(open, t)
	}
	if len(open) > openTasksShown {
		open = open[len(open)-openTasksShown:]
	}
	if len(done) > doneTasksShown {
		done = done[len(done)-doneTasksShown:]
	}
	if len(open) == 0 && len(done) == 0 {
		return nil
	}

	lines := make([]string, 0, len(open)+len(done)+2)
	lines = append(lines, "Tasks:")
	for _, t := range open {
		line := fmt.Sprintf("- [%s] %s (%s", t.ID, t.Title, t.Status)
		if t.DueAt != nil {
			line += ", due " + t.DueAt.Format("2006-01-02")
		}
		line += ")"
		lines = append(lines, line)
	}
	for _, t := range done {
		lines = append(lines, fmt.Sprintf("- [%s] %s (completed)", t.ID, t.Title))
	}
	lines = append(lines, "Copy the bracketed task ID exactly when you call updateTask or completeTask.")
	return lines
}

func (a *Assembler) scheduleLines(ctx context.Context, profile *models.Agent) []string {
	schedules, err := a.stores.Schedules.ListByAgent(ctx, profile.ID)
	if err != nil {
		a.logger.Warn("schedule lookup failed", "agent", profile.ID, "error", err)
		return nil
	}
	var lines []string
	for _, s := range schedules {
		if !s.Active {
			continue
		}
		line := fmt.Sprintf("- [%s] %s (%s", s.ID, s.Name, s.Type)
		if s.NextRunAt != nil {
			line += ", next " + s.NextRunAt.UTC().Format("2006-01-02 15:04")
		}
		line += ")"
		lines = append(lines, line)
	}
	if len(lines) == 0 {
		return nil
	}
	return append([]string{"Active schedules:"}, lines...)
}

func (a *Assembler) recentMemories(ctx context.Context, profile *models.Agent, tctx *models.TriggerContext) string {
	if profile == nil {
		return ""
	}
	query, ok := memoryQuery(tctx)
	if !ok {
		return ""
	}
	memories, err := a.stores.Memories.Search(ctx, profile.ID, query, memoryTopK)
	if err != nil {
		a.logger.Warn("memory search failed", "agent", profile.ID, "error", err)
		return ""
	}
	if len(memories) == 0 {
		return ""
	}
	lines := make([]string, 0, len(memories)+1)
	lines = append(lines, "Relevant memories:")
	for _, m := range memories {
		lines = append(lines, fmt.Sprintf("- [%s] %s", m.Kind, truncateContent(m.Content, 200)))
	}
	return strings.Join(lines, "\n")
}

// memoryQuery derives the search text from the trigger: sender plus the
// first ~100 characters for messages, the custom prompt or delegated task
// otherwise. Media-only messages skip the search.
func memoryQuery(tctx *models.TriggerContext) (string, bool) {
	if tctx == nil {
		return "", false
	}
	if tctx.IsIncomingMessage() {
		if tctx.MediaOnly {
			return "", false
		}
		msg := truncateContent(strings.TrimSpace(tctx.Preview), 100)
		query := strings.TrimSpace(strings.TrimSpace(tctx.SenderName) + " " + msg)
		return query, query != ""
	}
	if prompt := strings.TrimSpace(tctx.CustomPrompt); prompt != "" {
		return truncateContent(prompt, 100), true
	}
	if task := strings.TrimSpace(tctx.SubAgentTask); task != "" {
		return truncateContent(task, 100), true
	}
	return "", false
}

func toolSection(sel tools.Selection, tier models.Tier) string {
	lines := make([]string, 0, len(sel.Tools)+8)
	lines = append(lines, "Available tools:")
	lines = append(lines, sel.PromptLines()...)
	lines = append(lines, "")
	lines = append(lines, "Respond with exactly one tool call per message, as JSON inside a fenced block:")
	lines = append(lines, "```tool")
	lines = append(lines, `{"action": "<toolId>", "params": {"<name>": "<value>"}, "reasoning": "<one short sentence>"}`)
	lines = append(lines, "```")
	lines = append(lines, "Finish with done when the work is complete, or silent when nothing needs saying.")
	lines = append(lines, tierInstruction(tier))
	return strings.Join(lines, "\n")
}

func tierInstruction(tier models.Tier) string {
	switch tier {
	case models.TierTrivial, models.TierSimple:
		return "This looks like a quick exchange. Answer directly, then finish."
	case models.TierModerate:
		return "Work through this in a few deliberate steps. Check your tools and state before answering from memory."
	default:
		return "This is a substantial task. Break it down, verify intermediate results, and summarize what you did when you finish."
	}
}

func (a *Assembler) localAgents(ctx context.Context, profile *models.Agent) string {
	if profile == nil {
		return ""
	}
	devices, err := a.stores.Devices.ListDevices(ctx, profile.UserID, models.DeviceLocal)
	if err != nil {
		a.logger.Warn("device lookup failed", "agent", profile.ID, "error", err)
		return ""
	}
	var lines []string
	for _, d := range devices {
		if !d.Online {
			continue
		}
		var details []string
		if len(d.InstalledTools) > 0 {
			details = append(details, "tools: "+strings.Join(d.InstalledTools, ", "))
		}
		if len(d.Capabilities) > 0 {
			details = append(details, "capabilities: "+strings.Join(d.Capabilities, ", "))
		}
		if len(d.MCPServers) > 0 {
			details = append(details, "MCP servers: "+strings.Join(d.MCPServers, ", "))
		}
		if len(d.MCPTools) > 0 {
			details = append(details, "MCP tools: "+strings.Join(d.MCPTools, ", "))
		}
		line := "- " + d.Name
		if len(details) > 0 {
			line += " (" + strings.Join(details, "; ") + ")"
		}
		lines = append(lines, line)
	}
	if len(lines) == 0 {
		return ""
	}
	out := append([]string{"Local agents online:"}, lines...)
	out = append(out, "Use executeOnLocalAgent for work that must happen on these machines: their installed tools, files, and MCP servers. Use your server-side tools for everything else.")
	return strings.Join(out, "\n")
}

func (a *Assembler) mobileAgents(ctx context.Context, profile *models.Agent) string {
	if profile == nil {
		return ""
	}
	devices, err := a.stores.Devices.ListDevices(ctx, profile.UserID, models.DeviceMobile)
	if err != nil {
		a.logger.Warn("mobile lookup failed", "agent", profile.ID, "error", err)
		return ""
	}
	if len(devices) == 0 {
		return ""
	}
	lines := make([]string, 0, len(devices)+2)
	lines = append(lines, "Paired phones:")
	for _, d := range devices {
		if d.Online {
			parts := []string{"online"}
			if d.BatteryPct != nil {
				parts = append(parts, fmt.Sprintf("battery %d%%", *d.BatteryPct))
			}
			if d.Connectivity != "" {
				parts = append(parts, d.Connectivity)
			}
			if d.Latitude != 0 || d.Longitude != 0 {
				parts = append(parts, fmt.Sprintf("GPS %.4f,%.4f", d.Latitude, d.Longitude))
			}
			lines = append(lines, "- "+d.Name+" ("+strings.Join(parts, ", ")+")")
		} else {
			lines = append(lines, "- "+d.Name+" (offline)")
		}
	}
	lines = append(lines, "Query them with querySMS and queryNotifications.")
	return strings.Join(lines, "\n")
}

func (a *Assembler) userMessage(ctx context.Context, profile *models.Agent, tctx *models.TriggerContext) string {
	if tctx == nil {
		return "You are awake. Review your state and decide whether anything needs action now. If nothing does, call silent."
	}
	switch tctx.Type {
	case models.TriggerIncomingMessage:
		return a.incomingMessage(ctx, profile, tctx)
	case models.TriggerEvent:
		if tctx.EventKind == models.EventIncomingMessage {
			return a.incomingMessage(ctx, profile, tctx)
		}
		return eventMessage(tctx)
	case models.TriggerSchedule:
		return scheduleMessage(tctx)
	case models.TriggerWakeUp:
		return "You were woken up for an unscheduled check-in. Review your goals and open tasks and decide whether anything needs action now. If nothing does, call silent."
	case models.TriggerPeriodicThink:
		return "Periodic think. Look over your goals, open tasks, and recent activity. Save anything worth keeping with saveMemory and adjust your schedules if priorities changed. Finish with silent unless something needs your master's attention."
	case models.TriggerHeartbeat:
		return "Heartbeat check. Verify nothing is stuck: overdue tasks, schedules that should have fired, unread agent messages. If all is well, call silent."
	case models.TriggerApprovalResume:
		return approvalResumeMessage(tctx)
	}
	return fmt.Sprintf("Trigger: %s. Decide what to do, then finish with done or silent.", tctx.Type)
}

func (a *Assembler) incomingMessage(ctx context.Context, profile *models.Agent, tctx *models.TriggerContext) string {
	lines := make([]string, 0, 16)

	sender := strings.TrimSpace(tctx.SenderName)
	if sender == "" {
		sender = tctx.SenderID
	}
	if sender == "" {
		sender = "an unknown sender"
	}
	header := "New message from " + sender
	if tctx.Platform != "" {
		header = fmt.Sprintf("New message on %s from %s", tctx.Platform, sender)
	}
	if tctx.FromMaster {
		header += " (your master)"
	}
	lines = append(lines, header+":")
	if tctx.MediaOnly {
		lines = append(lines, "[media attachment with no text]")
	} else if msg := strings.TrimSpace(tctx.Preview); msg != "" {
		lines = append(lines, msg)
	}

	if quoted := strings.TrimSpace(tctx.QuotedContent); quoted != "" {
		lines = append(lines, "", "They replied to:", truncateContent(quoted, 300))
	}

	if history := tctx.History; len(history) > 0 {
		if len(history) > historyWindow {
			history = history[len(history)-historyWindow:]
		}
		lines = append(lines, "", "Recent conversation:")
		for _, h := range history {
			who := h.Sender
			if h.FromAgent {
				who = "You"
			}
			lines = append(lines, who+": "+truncateContent(h.Content, 200))
		}
	}

	if profile != nil {
		lines = append(lines, "", a.taskState(ctx, profile, tctx.Preview))
	}

	if tctx.MediaOnly {
		lines = append(lines, "", "The message is a media attachment with no text. Acknowledge what you received. If a local agent with the right tools is online, process it there with executeOnLocalAgent; otherwise say plainly that you cannot open it here.")
	} else {
		lines = append(lines, "", "Reply with respond. Keep it natural and conversational; one message is usually enough.")
	}
	return strings.Join(lines, "\n")
}

// taskState summarizes the newest task assigned to the agent and guesses
// how the incoming message relates to it.
func (a *Assembler) taskState(ctx context.Context, profile *models.Agent, preview string) string {
	tasks, err := a.stores.Tasks.ListByAssignee(ctx, profile.ID, nil)
	if err != nil {
		a.logger.Warn("task state lookup failed", "agent", profile.ID, "error", err)
	}
	if len(tasks) == 0 {
		return "Task state: no prior task on record. Intent hint: new_intent."
	}
	last := tasks[len(tasks)-1]
	status := "pending"
	if last.Status.Terminal() {
		status = "completed"
	}
	return fmt.Sprintf("Task state: your last task %q is %s. Intent hint: %s.", last.Title, status, intentHint(preview, last, a.now()))
}

// intentHint guesses how the message relates to the last task: a short
// thanks-like message after a completed task is an acknowledgement, anything
// while a task is open or shortly after completion is a possible follow-up,
// the rest is new intent.
func intentHint(preview string, last *models.Task, now time.Time) string {
	completed := last.Status.Terminal()
	if completed && isAcknowledgement(preview) {
		return "acknowledgement"
	}
	if !completed {
		return "possible_followup"
	}
	if last.CompletedAt != nil && now.Sub(*last.CompletedAt) < 10*time.Minute {
		return "possible_followup"
	}
	return "new_intent"
}

var ackPhrases = []string{
	"thanks", "thank you", "thx", "ok", "okay", "great", "perfect",
	"nice", "cool", "got it", "awesome", "sounds good", "👍",
}

func isAcknowledgement(msg string) bool {
	msg = strings.ToLower(strings.TrimSpace(msg))
	msg = strings.TrimRight(msg, "!.? ")
	if msg == "" || len(msg) > 40 {
		return false
	}
	for _, p := range ackPhrases {
		if msg == p || strings.HasPrefix(msg, p+" ") {
			return true
		}
	}
	return false
}

func eventMessage(tctx *models.TriggerContext) string {
	extra := func(key string) string {
		if tctx.Extra == nil {
			return ""
		}
		s, _ := tctx.Extra[key].(string)
		return strings.TrimSpace(s)
	}

	switch tctx.EventKind {
	case models.EventTaskResponse:
		lines := []string{"An agent you delegated to has reported back."}
		if from := extra("from"); from != "" {
			lines = append(lines, "From: "+from)
		}
		if task := strings.TrimSpace(tctx.SubAgentTask); task != "" {
			lines = append(lines, "Task: "+task)
		}
		if resp := extra("response"); resp != "" {
			lines = append(lines, "Their report:", resp)
		}
		lines = append(lines, "Review the result. Update the matching task with completeTask or updateTask, then report to your master if they asked for this.")
		return strings.Join(lines, "\n")

	case models.EventAgentStatusChanges:
		lines := []string{"Another agent's status changed."}
		if agent := extra("agent"); agent != "" {
			lines = append(lines, "Agent: "+agent)
		}
		if status := extra("status"); status != "" {
			lines = append(lines, "New status: "+status)
		}
		lines = append(lines, "Adjust your plans if you depended on it. Otherwise call silent.")
		return strings.Join(lines, "\n")

	case models.EventOrchestratedTask:
		lines := []string{"You have been delegated a task."}
		if task := strings.TrimSpace(tctx.SubAgentTask); task != "" {
			lines = append(lines, "Task: "+task)
		}
		lines = append(lines, "Work it to completion. Your final summary is returned to the agent that delegated it, so finish with done and a concrete result.")
		return strings.Join(lines, "\n")

	case models.EventConsultation:
		lines := []string{"Another agent is consulting you."}
		if from := extra("from"); from != "" {
			lines = append(lines, "From: "+from)
		}
		if q := extra("question"); q != "" {
			lines = append(lines, "Question: "+q)
		}
		lines = append(lines, "Answer with respond. Be specific and brief; they will act on what you say.")
		return strings.Join(lines, "\n")

	case models.EventConsensusVote:
		lines := []string{"You are asked to vote in a team decision."}
		if topic := extra("topic"); topic != "" {
			lines = append(lines, "Topic: "+topic)
		}
		if options := extra("options"); options != "" {
			lines = append(lines, "Options: "+options)
		}
		lines = append(lines, "Pick exactly one option and respond with its number and one sentence of rationale.")
		return strings.Join(lines, "\n")

	case models.EventConflictRebuttal:
		lines := []string{"Another agent disputed your position."}
		if argument := extra("argument"); argument != "" {
			lines = append(lines, "Their argument: "+argument)
		}
		lines = append(lines, "Either concede with an updated answer or defend yours with evidence. Respond once.")
		return strings.Join(lines, "\n")

	case models.EventFollowUpCheckIn:
		lines := []string{"Follow-up check-in."}
		if task := extra("task"); task != "" {
			lines = append(lines, "You promised to follow up on: "+task)
		}
		lines = append(lines, "If it is resolved, close it out. If not, give a nudge or escalate to your master.")
		return strings.Join(lines, "\n")

	case models.EventProactiveOutreach:
		return "Consider whether a proactive message to your master or a contact is warranted. Only reach out if you have something genuinely useful to say; otherwise call silent."
	}
	return fmt.Sprintf("Event: %s. Decide what to do, then finish with done or silent.", tctx.EventKind)
}

func scheduleMessage(tctx *models.TriggerContext) string {
	action := tctx.ActionType
	if action == "" {
		action = models.ActionCustomPrompt
	}
	lines := make([]string, 0, 3)
	lines = append(lines, fmt.Sprintf("Scheduled run (action: %s).", action))
	if prompt := strings.TrimSpace(tctx.CustomPrompt); prompt != "" {
		lines = append(lines, prompt)
	} else {
		lines = append(lines, defaultActionPrompt(action))
	}
	return strings.Join(lines, "\n")
}

func defaultActionPrompt(action string) string {
	switch action {
	case models.ActionCheckMessages:
		return "Check for unread messages and unanswered threads. Handle what you can, escalate what you cannot."
	case models.ActionSendReport:
		return "Prepare a status report for your master: what you did, what is open, what needs their input. Send it on their channel."
	case models.ActionReviewTasks:
		return "Review your open tasks. Update stale statuses, complete what is done, and flag anything blocked."
	case models.ActionUpdateKnowledge:
		return "Refresh your knowledge: search for updates on your standing topics and save important findings with saveMemory."
	case models.ActionSelfReflect:
		return "Reflect on your recent work: what went well, what failed, what to do differently. Save the lessons with saveMemory."
	case models.ActionHealthSummary:
		return "Summarize your own health: budget used, failures, stuck tasks. Notify your master only if something needs attention."
	case models.ActionReasoningCycle:
		return "Run a full reasoning cycle over your goals and open tasks."
	case models.ActionFollowUpCheckIn:
		return "Check in on the task you promised to follow up on. If it is resolved, close it out; if not, give a nudge."
	case models.ActionProactiveOutreach:
		return "Consider whether a proactive message is warranted. Only reach out with something genuinely useful; otherwise call silent."
	}
	return fmt.Sprintf("Run your %s routine, then finish with done or silent.", action)
}

func approvalResumeMessage(tctx *models.TriggerContext) string {
	tool := tctx.ApprovedTool
	if tool == "" {
		tool = "the tool"
	}
	rejected, _ := tctx.Extra["rejected"].(bool)
	if rejected {
		lines := []string{fmt.Sprintf("Your request to run %s was rejected.", tool)}
		if reason, _ := tctx.Extra["rejection_reason"].(string); strings.TrimSpace(reason) != "" {
			lines = append(lines, "Reason: "+strings.TrimSpace(reason))
		}
		lines = append(lines, "Do not retry the same call. Adjust your approach or tell your master what you would do instead.")
		return strings.Join(lines, "\n")
	}

	lines := []string{fmt.Sprintf("Your request to run %s was approved and it has already been executed.", tool)}
	if result := strings.TrimSpace(tctx.ApprovalToolResult); result != "" {
		lines = append(lines, "Result:", result)
	}
	lines = append(lines, "Pick up where you left off: use the result, finish the task, and report the outcome.")
	return strings.Join(lines, "\n")
}

func skillLevelName(level int) string {
	switch {
	case level <= 1:
		return "novice"
	case level == 2:
		return "competent"
	case level == 3:
		return "skilled"
	default:
		return "expert"
	}
}

func toneGuidance(band models.Familiarity) string {
	switch band {
	case models.FamiliarityNew:
		return "You are still learning their preferences. Be polite and slightly formal."
	case models.FamiliarityDeveloping:
		return "You are getting to know them. Keep a friendly, professional tone."
	case models.FamiliarityEstablished:
		return "You know each other well. Be direct and skip the formalities."
	default:
		return "Long-standing relationship. Be candid, anticipate needs, and use the shorthand you have settled on."
	}
}

func truncateContent(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
