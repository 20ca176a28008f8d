package tools

import (
	"github.com/legionruntime/legion/internal/ai"
	"github.com/legionruntime/legion/internal/toolcall"
	"github.com/legionruntime/legion/pkg/models"
)

// Capabilities snapshots everything the selector needs to decide the tool
// surface for one run. The service layer fills it from the stores and the
// classified trigger before the loop starts.
type Capabilities struct {
	// Tier is the classified task complexity. Trivial and simple runs get
	// the reduced baseline set.
	Tier models.Tier

	// Depth is the orchestration depth of the run. Only depth zero may
	// delegate.
	Depth int

	// Platforms with an active monitoring source or a connected account.
	Platforms map[string]bool

	// OnlineDevices counts local devices currently online; PairedMobiles
	// counts enrolled phones, online or not.
	OnlineDevices int
	PairedMobiles int

	// CLIProviders that report authenticated.
	CLIProviders map[string]bool

	// SkillLevels by category. A missing category counts as level one.
	SkillLevels map[models.SkillCategory]int
}

func (c Capabilities) skillLevel(cat models.SkillCategory) int {
	if lvl, ok := c.SkillLevels[cat]; ok && lvl > 0 {
		return lvl
	}
	return 1
}

func (c Capabilities) anyPlatform() bool {
	for _, ok := range c.Platforms {
		if ok {
			return true
		}
	}
	return false
}

// Selection is the ordered tool surface chosen for one run.
type Selection struct {
	Tools []Descriptor
}

// Select applies the selection rules in order: the complexity baseline,
// then the conditional groups, then skill gates, then the autonomy
// restriction. Registration order is preserved.
func Select(reg *Registry, profile *models.Agent, caps Capabilities) Selection {
	reduced := caps.Tier == models.TierTrivial || caps.Tier == models.TierSimple
	var picked []Descriptor
	for _, d := range reg.List() {
		if !eligible(d, profile, caps, reduced) {
			continue
		}
		picked = append(picked, d)
	}
	return Selection{Tools: picked}
}

func eligible(d Descriptor, profile *models.Agent, caps Capabilities, reduced bool) bool {
	switch d.Group {
	case GroupCore:
		// Always offered.
	case GroupStandard:
		if reduced && !d.Baseline {
			return false
		}
	case GroupOrchestration:
		if caps.Depth != 0 || profile == nil || !profile.CanCreateChildren {
			return false
		}
	case GroupOutbound:
		if d.Platform != "" {
			if !caps.Platforms[d.Platform] {
				return false
			}
		} else if !caps.anyPlatform() {
			return false
		}
	case GroupLocal:
		if caps.OnlineDevices == 0 {
			return false
		}
	case GroupMobile:
		if caps.PairedMobiles == 0 {
			return false
		}
	case GroupCLI:
		if !caps.CLIProviders[d.CLIProvider] {
			return false
		}
	default:
		return false
	}

	if d.SkillLevel > 0 && caps.skillLevel(d.SkillCategory) < d.SkillLevel {
		return false
	}

	// Supervised agents never see delegation or scope mutation; everything
	// else still runs, it just queues for approval.
	if profile != nil && profile.Autonomy == models.AutonomySupervised {
		if d.Group == GroupOrchestration || d.ScopeMutating {
			return false
		}
	}
	return true
}

// IDs returns the selected tool IDs in order.
func (s Selection) IDs() []string {
	out := make([]string, len(s.Tools))
	for i, d := range s.Tools {
		out[i] = d.ID
	}
	return out
}

// Has reports whether id was selected.
func (s Selection) Has(id string) bool {
	for _, d := range s.Tools {
		if d.ID == id {
			return true
		}
	}
	return false
}

// Descriptor returns the selected descriptor for id.
func (s Selection) Descriptor(id string) (Descriptor, bool) {
	for _, d := range s.Tools {
		if d.ID == id {
			return d, true
		}
	}
	return Descriptor{}, false
}

// Schemas returns parameter-name schemas for the selected tools only.
func (s Selection) Schemas() map[string]toolcall.Schema {
	out := make(map[string]toolcall.Schema, len(s.Tools))
	for _, d := range s.Tools {
		out[d.ID] = toolcall.Schema{Required: d.Required, Optional: d.Optional}
	}
	return out
}

// PromptLines renders the compact listing embedded in system prompts.
func (s Selection) PromptLines() []string {
	out := make([]string, len(s.Tools))
	for i, d := range s.Tools {
		out[i] = d.PromptLine()
	}
	return out
}

// ToolDefs renders native function-calling definitions for the selected
// tools.
func (s Selection) ToolDefs() []ai.ToolDef {
	out := make([]ai.ToolDef, len(s.Tools))
	for i, d := range s.Tools {
		out[i] = ai.ToolDef{Name: d.ID, Description: d.Description, Schema: d.Schema()}
	}
	return out
}
