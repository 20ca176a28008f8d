package approval

import (
	"testing"

	"github.com/legionruntime/legion/internal/tools"
	"github.com/legionruntime/legion/pkg/models"
)

func TestNeedsApproval(t *testing.T) {
	respond := tools.Descriptor{ID: "respond", Group: tools.GroupCore, Safe: true}
	search := tools.Descriptor{ID: "searchWeb", Group: tools.GroupStandard, Safe: true}
	runCmd := tools.Descriptor{ID: "runCommand", Group: tools.GroupLocal}
	sendMsg := tools.Descriptor{ID: "sendMessage", Group: tools.GroupOutbound}
	addScope := tools.Descriptor{ID: "addContactToScope", Group: tools.GroupStandard, ScopeMutating: true}

	agent := func(a models.Autonomy, overrides ...string) *models.Agent {
		return &models.Agent{ID: "agent-1", Autonomy: a, RequireApprovalFor: overrides}
	}
	fromMaster := &models.TriggerContext{Type: models.TriggerIncomingMessage, FromMaster: true}
	fromOther := &models.TriggerContext{Type: models.TriggerIncomingMessage}

	tests := []struct {
		name    string
		profile *models.Agent
		tool    tools.Descriptor
		tctx    *models.TriggerContext
		want    bool
	}{
		{"nil profile always gates", nil, respond, fromMaster, true},

		{"outbound bypassed for master", agent(models.AutonomySupervised), sendMsg, fromMaster, false},
		{"outbound gated for non-master", agent(models.AutonomyFull), sendMsg, fromOther, true},
		{"outbound gated without trigger", agent(models.AutonomyFull), sendMsg, nil, true},
		{"scope mutation bypassed for master", agent(models.AutonomySupervised), addScope, fromMaster, false},
		{"scope mutation gated for non-master", agent(models.AutonomyFull), addScope, fromOther, true},

		{"autonomous runs freely", agent(models.AutonomyFull), runCmd, fromOther, false},
		{"autonomous honors explicit override", agent(models.AutonomyFull, "runCommand"), runCmd, fromMaster, true},
		{"autonomous override misses other tools", agent(models.AutonomyFull, "runCommand"), search, fromOther, false},

		{"semi runs safe tools", agent(models.AutonomySemi), search, fromOther, false},
		{"semi gates unsafe tools", agent(models.AutonomySemi), runCmd, fromMaster, true},

		{"supervised gates everything", agent(models.AutonomySupervised), respond, fromMaster, true},
		{"unknown autonomy gates everything", agent(models.Autonomy("weird")), respond, fromMaster, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NeedsApproval(tt.profile, tt.tool, tt.tctx); got != tt.want {
				t.Fatalf("NeedsApproval(%s) = %v, want %v", tt.tool.ID, got, tt.want)
			}
		})
	}
}
