// Package recovery wraps tool execution with bounded retries on transient
// failures, automatic substitution of equivalent tools, and a failure
// taxonomy the reasoning loop feeds back to the model instead of a raw
// error string.
package recovery

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/legionruntime/legion/internal/retry"
	"github.com/legionruntime/legion/pkg/models"
)

// Executor runs one tool call. The tools registry implements it.
type Executor interface {
	Execute(ctx context.Context, id string, params map[string]any, tctx *models.ToolContext) (*models.ToolResult, error)
}

// Outcome is the result of one recovered execution.
type Outcome struct {
	Success bool
	Result  *models.ToolResult

	// Attempts counts every execution tried, substitutes included.
	Attempts int
	// RecoveryApplied is true when success needed more than one attempt
	// or a substitute tool.
	RecoveryApplied bool
	// AlternativeTool names the substitute that produced the result.
	AlternativeTool string
	// Failure carries the classified error when Success is false.
	Failure *ToolError
}

// DefaultPolicy bounds the retry loop for tool calls.
func DefaultPolicy() retry.Policy {
	return retry.Policy{Attempts: 3, Initial: 500 * time.Millisecond, Max: 5 * time.Second, Factor: 2, Jitter: true}
}

// Strategies executes tools with recovery. Retries apply only to failures
// classified transient; a tool-reported failure counts the same as a Go
// error here.
type Strategies struct {
	exec         Executor
	policy       retry.Policy
	alternatives map[string][]string
	substitutes  map[string]string
	logger       *slog.Logger
}

// NewStrategies wires a recovering executor. A zero policy takes
// DefaultPolicy.
func NewStrategies(exec Executor, policy retry.Policy, logger *slog.Logger) *Strategies {
	if policy.Attempts == 0 {
		policy = DefaultPolicy()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Strategies{
		exec:         exec,
		policy:       policy,
		alternatives: DefaultAlternatives(),
		substitutes:  defaultSubstitutes,
		logger:       logger.With("component", "recovery"),
	}
}

// Execute runs the tool with retries and, when the failure is an
// infrastructure problem, one shot at the mapped substitute tool. It never
// returns a Go error; failures come back classified in the outcome.
func (s *Strategies) Execute(ctx context.Context, toolID string, params map[string]any, tctx *models.ToolContext) Outcome {
	result, attempts, err := s.runWithRetries(ctx, toolID, params, tctx)
	if err == nil {
		return Outcome{Success: true, Result: result, Attempts: attempts, RecoveryApplied: attempts > 1}
	}
	etype := Classify(err.Error())

	if alt, ok := s.substitutes[toolID]; ok && etype.Substitutable() && ctx.Err() == nil {
		altRes, altErr := s.exec.Execute(ctx, alt, params, tctx)
		attempts++
		if altErr == nil && altRes != nil && altRes.Success {
			s.logger.Info("tool substituted after failure",
				"tool", toolID, "alternative", alt, "error_type", etype)
			return Outcome{
				Success:         true,
				Result:          altRes,
				Attempts:        attempts,
				RecoveryApplied: true,
				AlternativeTool: alt,
			}
		}
		s.logger.Debug("substitute tool also failed", "tool", toolID, "alternative", alt)
	}

	failure := &ToolError{
		Tool:         toolID,
		Type:         etype,
		Suggestion:   suggestionFor(etype, toolID),
		Alternatives: s.alternatives[toolID],
		Err:          err,
	}
	s.logger.Warn("tool failed after recovery",
		"tool", toolID, "error_type", etype, "attempts", attempts, "error", err)
	return Outcome{Attempts: attempts, RecoveryApplied: attempts > 1, Failure: failure}
}

// runWithRetries drives the retry policy. Failures classified permanent
// stop the loop immediately via the retry package's marker.
func (s *Strategies) runWithRetries(ctx context.Context, toolID string, params map[string]any, tctx *models.ToolContext) (*models.ToolResult, int, error) {
	var last *models.ToolResult
	attempts, err := s.policy.Do(ctx, func(ctx context.Context) error {
		res, execErr := s.exec.Execute(ctx, toolID, params, tctx)
		if execErr != nil {
			if retry.IsPermanent(execErr) || !Classify(execErr.Error()).Transient() {
				return retry.Permanent(execErr)
			}
			return execErr
		}
		if res != nil && !res.Success {
			failure := errors.New(res.Error)
			if !Classify(res.Error).Transient() {
				return retry.Permanent(failure)
			}
			return failure
		}
		if res == nil {
			res = &models.ToolResult{Success: true}
		}
		last = res
		return nil
	})
	if err != nil {
		return nil, attempts, err
	}
	return last, attempts, nil
}
