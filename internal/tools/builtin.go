package tools

import (
	"errors"
	"time"

	"github.com/legionruntime/legion/internal/ai"
	"github.com/legionruntime/legion/internal/store"
	"github.com/legionruntime/legion/pkg/models"
)

func isNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}

// NextRunFunc computes a schedule's next firing time after now. The
// scheduler provides the cron-aware implementation.
type NextRunFunc func(s *models.Schedule, now time.Time) (*time.Time, error)

// Deps carries everything the builtin tools can be wired to. Nil fields
// skip the tools that need them, so a minimally configured runtime still
// boots with a working core set.
type Deps struct {
	Stores store.StoreSet

	// Router serves the CLI prompt tools. CLIProviders lists the provider
	// names to register prompt tools for.
	Router       ai.Router
	CLIProviders []string

	Search       Searcher
	Knowledge    KnowledgeBase
	Memory       MemoryAccess
	Planner      Planner
	Messenger    Messenger
	Agents       AgentManager
	Collaborator Collaborator
	Humans       HumanInput
	Devices      DeviceExecutor
	Mobile       MobileQuerier
	Documents    DocumentGenerator

	NextRun NextRunFunc
}

// RegisterBuiltins registers every builtin tool whose dependencies are
// present. Core tools are always registered.
func RegisterBuiltins(reg *Registry, deps Deps) error {
	var batch []Tool

	batch = append(batch, coreTools(deps)...)
	if deps.Search != nil {
		batch = append(batch, searchWebTool(deps.Search))
	}
	if deps.Knowledge != nil {
		batch = append(batch, searchKnowledgeTool(deps.Knowledge))
	}
	if deps.Memory != nil {
		batch = append(batch, memoryTools(deps.Memory)...)
	}
	if deps.Planner != nil {
		batch = append(batch, generatePlanTool(deps.Planner))
	}
	if deps.Messenger != nil {
		batch = append(batch, outboundTools(deps.Messenger)...)
	}
	if deps.Agents != nil {
		batch = append(batch, orchestrationTools(deps.Agents)...)
	}
	if deps.Collaborator != nil {
		batch = append(batch, collaborationTools(deps.Collaborator)...)
	}
	if deps.Stores.Contacts != nil {
		batch = append(batch, scopeTools(deps.Stores.Contacts)...)
	}
	if deps.Stores.Schedules != nil {
		batch = append(batch, scheduleTools(deps.Stores.Schedules, deps.NextRun)...)
	}
	if deps.Stores.Tasks != nil {
		batch = append(batch, taskTools(deps.Stores.Tasks)...)
	}
	if deps.Stores.Goals != nil {
		batch = append(batch, goalTools(deps.Stores.Goals)...)
	}
	if deps.Devices != nil && deps.Stores.Devices != nil {
		batch = append(batch, localAgentTools(deps.Devices, deps.Stores.Devices)...)
	}
	if deps.Mobile != nil && deps.Stores.Devices != nil {
		batch = append(batch, mobileTools(deps.Mobile, deps.Stores.Devices)...)
	}
	if deps.Router != nil {
		batch = append(batch, cliPromptTools(deps.Router, deps.CLIProviders)...)
	}
	if deps.Documents != nil {
		batch = append(batch, generateDocumentTool(deps.Documents))
	}
	if deps.Stores.Agents != nil {
		batch = append(batch, agentStatusTool(deps.Stores))
	}

	for _, t := range batch {
		if err := reg.Register(t); err != nil {
			return err
		}
	}
	return nil
}
