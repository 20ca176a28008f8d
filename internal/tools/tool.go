// Package tools holds the runtime's tool surface: descriptors the AI is
// offered, the registry invocations go through, and the selector that
// decides which tools a given run sees. Concrete tool behavior lives behind
// small interfaces so transports and services can be swapped in tests.
package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/legionruntime/legion/pkg/models"
)

// Group buckets tools for selection and permission decisions.
type Group string

const (
	// GroupCore tools are offered on every run regardless of tier.
	GroupCore Group = "core"
	// GroupStandard tools are offered on moderate and higher tiers; the
	// Baseline flag opts individual tools into trivial and simple runs.
	GroupStandard Group = "standard"
	// GroupOutbound tools send platform messages and are offered per
	// qualifying platform.
	GroupOutbound Group = "outbound"
	// GroupOrchestration tools delegate to child agents and are offered
	// only to root agents allowed to create children.
	GroupOrchestration Group = "orchestration"
	// GroupLocal tools drive enrolled desktop agents.
	GroupLocal Group = "local"
	// GroupMobile tools query paired phones.
	GroupMobile Group = "mobile"
	// GroupCLI tools prompt authenticated coding CLI providers.
	GroupCLI Group = "cli"
)

// Descriptor describes one tool to the selector, the prompt assembler, and
// the approval gate.
type Descriptor struct {
	ID          string
	Description string

	// Required and Optional name the tool's parameters in prompt order.
	Required []string
	Optional []string

	// ParamDocs maps parameter names to one-line descriptions used in
	// native function-calling schemas. ParamTypes overrides the JSON
	// schema type for non-string parameters.
	ParamDocs  map[string]string
	ParamTypes map[string]string

	Group Group

	// Platform restricts an outbound tool to runs where that platform has
	// an active monitoring source or a connected account. Empty means any
	// qualifying platform unlocks the tool.
	Platform string

	// CLIProvider names the provider that must report authenticated
	// before the tool is offered.
	CLIProvider string

	// SkillCategory and SkillLevel gate the tool behind proficiency.
	// SkillLevel zero means ungated.
	SkillCategory models.SkillCategory
	SkillLevel    int

	// Baseline marks the tool as part of the reduced set offered on
	// trivial and simple runs.
	Baseline bool

	// Safe marks the tool auto-executable under semi-autonomous autonomy.
	Safe bool

	// ScopeMutating marks contact-scope mutations, which follow the
	// master-authority approval override.
	ScopeMutating bool
}

// PromptLine renders the compact tool listing shown in system prompts:
// id(required, [optional]) - description.
func (d Descriptor) PromptLine() string {
	args := ""
	for _, name := range d.Required {
		if args != "" {
			args += ", "
		}
		args += name
	}
	for _, name := range d.Optional {
		if args != "" {
			args += ", "
		}
		args += "[" + name + "]"
	}
	return fmt.Sprintf("%s(%s) - %s", d.ID, args, d.Description)
}

// Schema renders the descriptor's parameters as a JSON schema object for
// native function calling.
func (d Descriptor) Schema() json.RawMessage {
	props := make(map[string]any, len(d.Required)+len(d.Optional))
	for _, name := range d.Required {
		props[name] = d.paramSchema(name)
	}
	for _, name := range d.Optional {
		props[name] = d.paramSchema(name)
	}
	schema := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(d.Required) > 0 {
		schema["required"] = d.Required
	}
	raw, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return raw
}

func (d Descriptor) paramSchema(name string) map[string]string {
	typ := d.ParamTypes[name]
	if typ == "" {
		typ = "string"
	}
	p := map[string]string{"type": typ}
	if doc := d.ParamDocs[name]; doc != "" {
		p["description"] = doc
	}
	return p
}

// Tool executes one action on behalf of an agent. Execute returns a Go
// error only for faults the recovery layer may retry or reclassify; domain
// failures the AI should see come back as an unsuccessful result.
type Tool interface {
	Describe() Descriptor
	Execute(ctx context.Context, params map[string]any, tctx *models.ToolContext) (*models.ToolResult, error)
}

// Func adapts a plain function to the Tool interface.
type Func struct {
	Desc Descriptor
	Run  func(ctx context.Context, params map[string]any, tctx *models.ToolContext) (*models.ToolResult, error)
}

func (f *Func) Describe() Descriptor { return f.Desc }

func (f *Func) Execute(ctx context.Context, params map[string]any, tctx *models.ToolContext) (*models.ToolResult, error) {
	return f.Run(ctx, params, tctx)
}

// decodeParams round-trips loosely typed params into a typed input struct.
func decodeParams(params map[string]any, into any) error {
	raw, err := json.Marshal(params)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, into)
}

func okResult(payload any) *models.ToolResult {
	return &models.ToolResult{Success: true, Result: payload}
}

func errResult(format string, args ...any) *models.ToolResult {
	return &models.ToolResult{Success: false, Error: fmt.Sprintf(format, args...)}
}

func asyncResult(trackingID string) *models.ToolResult {
	return &models.ToolResult{
		Success: true,
		Result:  models.AsyncHandle{Async: true, TrackingID: trackingID},
	}
}
