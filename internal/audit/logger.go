package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Logger writes audit events asynchronously. Events go through a buffered
// channel; when the buffer is full the caller writes synchronously rather
// than dropping.
type Logger struct {
	config     Config
	output     io.WriteCloser
	slogger    *slog.Logger
	buffer     chan *Event
	wg         sync.WaitGroup
	done       chan struct{}
	eventTypes map[EventType]bool
}

// NewLogger creates an audit logger. A disabled config yields a no-op
// logger that is still safe to call.
func NewLogger(config Config) (*Logger, error) {
	if !config.Enabled {
		return &Logger{config: config}, nil
	}

	if config.SampleRate == 0 {
		config.SampleRate = 1.0
	}
	if config.BufferSize == 0 {
		config.BufferSize = 1000
	}
	if config.FlushInterval == 0 {
		config.FlushInterval = 5 * time.Second
	}
	if config.MaxFieldSize == 0 {
		config.MaxFieldSize = 1024
	}

	var output io.WriteCloser
	switch {
	case config.Output == "stdout" || config.Output == "":
		output = os.Stdout
	case config.Output == "stderr":
		output = os.Stderr
	case strings.HasPrefix(config.Output, "file:"):
		path := strings.TrimPrefix(config.Output, "file:")
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open audit log file: %w", err)
		}
		output = f
	default:
		return nil, fmt.Errorf("unsupported audit output: %s", config.Output)
	}

	eventTypes := make(map[EventType]bool)
	for _, et := range config.EventTypes {
		eventTypes[et] = true
	}

	l := &Logger{
		config:     config,
		output:     output,
		buffer:     make(chan *Event, config.BufferSize),
		done:       make(chan struct{}),
		eventTypes: eventTypes,
	}

	var handler slog.Handler
	switch config.Format {
	case FormatText:
		handler = slog.NewTextHandler(output, &slog.HandlerOptions{Level: l.slogLevel()})
	default:
		handler = slog.NewJSONHandler(output, &slog.HandlerOptions{Level: l.slogLevel()})
	}
	l.slogger = slog.New(handler).With("component", "audit")

	l.wg.Add(1)
	go l.writeLoop()

	return l, nil
}

// Close flushes remaining events and closes the logger.
func (l *Logger) Close() error {
	if !l.config.Enabled {
		return nil
	}

	close(l.done)
	l.wg.Wait()

	if l.output != os.Stdout && l.output != os.Stderr {
		return l.output.Close()
	}
	return nil
}

// Log records an audit event.
func (l *Logger) Log(ctx context.Context, event *Event) {
	if !l.config.Enabled {
		return
	}
	if l.config.SampleRate < 1.0 && rand.Float64() > l.config.SampleRate {
		return
	}
	if len(l.eventTypes) > 0 && !l.eventTypes[event.Type] {
		return
	}
	if !l.shouldLog(event.Level) {
		return
	}

	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case l.buffer <- event:
	default:
		l.writeEvent(event)
	}
}

// LogRunStarted records the beginning of a reasoning run.
func (l *Logger) LogRunStarted(ctx context.Context, runID, agentID, trigger string) {
	l.Log(ctx, &Event{
		Type:    EventRunStarted,
		Level:   LevelInfo,
		RunID:   runID,
		AgentID: agentID,
		Trigger: trigger,
		Action:  "run_started",
	})
}

// LogRunCompleted records a finished run with its iteration and token use.
func (l *Logger) LogRunCompleted(ctx context.Context, runID, agentID, trigger string, iterations, tokens int, duration time.Duration) {
	l.Log(ctx, &Event{
		Type:     EventRunCompleted,
		Level:    LevelInfo,
		RunID:    runID,
		AgentID:  agentID,
		Trigger:  trigger,
		Action:   "run_completed",
		Duration: duration,
		Details: map[string]any{
			"iterations": iterations,
			"tokens":     tokens,
		},
	})
}

// LogRunFailed records a run that ended in error.
func (l *Logger) LogRunFailed(ctx context.Context, runID, agentID, trigger string, err error) {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	l.Log(ctx, &Event{
		Type:    EventRunFailed,
		Level:   LevelError,
		RunID:   runID,
		AgentID: agentID,
		Trigger: trigger,
		Action:  "run_failed",
		Error:   msg,
	})
}

// LogToolExecution records one tool call with its outcome. Parameters are
// hashed unless IncludeParams is set.
func (l *Logger) LogToolExecution(ctx context.Context, runID, agentID, toolID, status string, params map[string]any, result string, duration time.Duration) {
	eventType := EventToolExecuted
	level := LevelInfo
	switch status {
	case "failed":
		eventType = EventToolFailed
		level = LevelWarn
	case "blocked_error_content", "blocked_placeholder_text":
		eventType = EventToolBlocked
		level = LevelWarn
	}

	details := map[string]any{"status": status}
	if params != nil {
		raw, _ := json.Marshal(params)
		if l.config.IncludeParams {
			details["params"] = l.truncate(string(raw))
		} else {
			details["params_hash"] = hashString(string(raw))
		}
	}
	if result != "" {
		if l.config.IncludeResults {
			details["result"] = l.truncate(result)
		} else {
			details["result_size"] = len(result)
		}
	}

	l.Log(ctx, &Event{
		Type:     eventType,
		Level:    level,
		RunID:    runID,
		AgentID:  agentID,
		ToolID:   toolID,
		Action:   "tool_" + status,
		Details:  details,
		Duration: duration,
	})
}

// LogApproval records an approval lifecycle transition.
func (l *Logger) LogApproval(ctx context.Context, approvalID, agentID, toolID, status, note string) {
	eventType := EventApprovalRequested
	switch status {
	case "approved", "rejected":
		eventType = EventApprovalResolved
	case "expired":
		eventType = EventApprovalExpired
	}
	l.Log(ctx, &Event{
		Type:       eventType,
		Level:      LevelInfo,
		AgentID:    agentID,
		ToolID:     toolID,
		ApprovalID: approvalID,
		Action:     "approval_" + status,
		Details:    map[string]any{"note": note},
	})
}

// LogScheduleFired records a schedule trigger with its job outcome.
func (l *Logger) LogScheduleFired(ctx context.Context, scheduleID, agentID, action, status string, duration time.Duration) {
	l.Log(ctx, &Event{
		Type:       EventScheduleFired,
		Level:      LevelInfo,
		AgentID:    agentID,
		ScheduleID: scheduleID,
		Action:     "schedule_" + status,
		Duration:   duration,
		Details:    map[string]any{"action_type": action},
	})
}

// LogNotification records a master notification delivery attempt.
func (l *Logger) LogNotification(ctx context.Context, agentID, notifyType, status string, err error) {
	eventType := EventNotificationSent
	level := LevelInfo
	if err != nil {
		eventType = EventNotificationError
		level = LevelWarn
	}
	event := &Event{
		Type:    eventType,
		Level:   level,
		AgentID: agentID,
		Action:  "notification_" + status,
		Details: map[string]any{"notification_type": notifyType},
	}
	if err != nil {
		event.Error = err.Error()
	}
	l.Log(ctx, event)
}

// LogRateLimited records a run refused by the hourly cycle cap.
func (l *Logger) LogRateLimited(ctx context.Context, agentID, trigger string) {
	l.Log(ctx, &Event{
		Type:    EventRateLimited,
		Level:   LevelWarn,
		AgentID: agentID,
		Trigger: trigger,
		Action:  "rate_limited",
	})
}

// LogBudgetThreshold records a budget warning or exhaustion crossing.
func (l *Logger) LogBudgetThreshold(ctx context.Context, agentID string, fraction float64, exhausted bool) {
	l.Log(ctx, &Event{
		Type:    EventBudgetThreshold,
		Level:   LevelWarn,
		AgentID: agentID,
		Action:  "budget_threshold",
		Details: map[string]any{
			"fraction":  fraction,
			"exhausted": exhausted,
		},
	})
}

// WithRun returns a logger bound to one run's correlation fields.
func (l *Logger) WithRun(runID, agentID string) *RunLogger {
	return &RunLogger{logger: l, runID: runID, agentID: agentID}
}

func (l *Logger) writeLoop() {
	defer l.wg.Done()

	ticker := time.NewTicker(l.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case event := <-l.buffer:
			l.writeEvent(event)
		case <-ticker.C:
			l.flushBuffer()
		case <-l.done:
			l.flushBuffer()
			return
		}
	}
}

func (l *Logger) flushBuffer() {
	for {
		select {
		case event := <-l.buffer:
			l.writeEvent(event)
		default:
			return
		}
	}
}

func (l *Logger) writeEvent(event *Event) {
	attrs := []any{
		"audit_id", event.ID,
		"audit_type", event.Type,
		"action", event.Action,
		"timestamp", event.Timestamp.Format(time.RFC3339Nano),
	}

	if event.RunID != "" {
		attrs = append(attrs, "run_id", event.RunID)
	}
	if event.AgentID != "" {
		attrs = append(attrs, "agent_id", event.AgentID)
	}
	if event.UserID != "" {
		attrs = append(attrs, "user_id", event.UserID)
	}
	if event.Trigger != "" {
		attrs = append(attrs, "trigger", event.Trigger)
	}
	if event.ToolID != "" {
		attrs = append(attrs, "tool_id", event.ToolID)
	}
	if event.ApprovalID != "" {
		attrs = append(attrs, "approval_id", event.ApprovalID)
	}
	if event.ScheduleID != "" {
		attrs = append(attrs, "schedule_id", event.ScheduleID)
	}
	if event.Duration > 0 {
		attrs = append(attrs, "duration_ms", event.Duration.Milliseconds())
	}
	if event.Error != "" {
		attrs = append(attrs, "error", event.Error)
	}
	for k, v := range event.Details {
		attrs = append(attrs, k, v)
	}

	switch event.Level {
	case LevelDebug:
		l.slogger.Debug("audit", attrs...)
	case LevelWarn:
		l.slogger.Warn("audit", attrs...)
	case LevelError:
		l.slogger.Error("audit", attrs...)
	default:
		l.slogger.Info("audit", attrs...)
	}
}

func (l *Logger) shouldLog(level Level) bool {
	levels := map[Level]int{
		LevelDebug: 0,
		LevelInfo:  1,
		LevelWarn:  2,
		LevelError: 3,
	}
	return levels[level] >= levels[l.config.Level]
}

func (l *Logger) slogLevel() slog.Level {
	switch l.config.Level {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func (l *Logger) truncate(s string) string {
	if len(s) > l.config.MaxFieldSize {
		return s[:l.config.MaxFieldSize] + "...(truncated)"
	}
	return s
}

// hashString creates a SHA256 hash of a string (first 16 chars).
func hashString(s string) string {
	h := sha256.Sum256([]byte(s))
	return hex.EncodeToString(h[:])[:16]
}

// RunLogger is an audit logger bound to one reasoning run.
type RunLogger struct {
	logger  *Logger
	runID   string
	agentID string
}

// LogToolExecution records a tool call under the bound run.
func (r *RunLogger) LogToolExecution(ctx context.Context, toolID, status string, params map[string]any, result string, duration time.Duration) {
	r.logger.LogToolExecution(ctx, r.runID, r.agentID, toolID, status, params, result, duration)
}

// Global logger instance for call sites without wiring access.
var (
	globalLogger *Logger
	globalMu     sync.RWMutex
)

// SetGlobalLogger sets the process-wide audit logger.
func SetGlobalLogger(logger *Logger) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalLogger = logger
}

// GetGlobalLogger returns the process-wide audit logger, or nil.
func GetGlobalLogger() *Logger {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalLogger
}

// Log records an event using the global logger when one is set.
func Log(ctx context.Context, event *Event) {
	if l := GetGlobalLogger(); l != nil {
		l.Log(ctx, event)
	}
}
