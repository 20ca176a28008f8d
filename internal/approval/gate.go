// Package approval holds the human-in-the-loop surface: the gate that
// decides which tool calls pause for the master, and the service that
// manages approval requests from creation through reply parsing and expiry.
package approval

import (
	"github.com/legionruntime/legion/internal/tools"
	"github.com/legionruntime/legion/pkg/models"
)

// NeedsApproval decides whether a tool call must be queued for the master
// instead of executing now.
//
// Outbound messaging and scope mutation follow the master-contact rule
// before any autonomy setting: a run the master started bypasses approval,
// any other run forces it. Everything else falls through to autonomy:
// autonomous agents pause only on their explicit override list,
// semi-autonomous agents pause on anything not marked safe, supervised
// agents pause on everything.
func NeedsApproval(profile *models.Agent, d tools.Descriptor, tctx *models.TriggerContext) bool {
	if profile == nil {
		return true
	}

	if d.Group == tools.GroupOutbound || d.ScopeMutating {
		return tctx == nil || !tctx.FromMaster
	}

	switch profile.Autonomy {
	case models.AutonomyFull:
		return profile.RequiresApproval(d.ID)
	case models.AutonomySemi:
		return !d.Safe
	default:
		return true
	}
}
