package tools

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/legionruntime/legion/internal/store"
	"github.com/legionruntime/legion/pkg/models"
)

func seedContact(t *testing.T, contacts store.ContactStore, id, name, platform string) {
	t.Helper()
	err := contacts.CreateContact(context.Background(), &models.Contact{
		ID:          id,
		UserID:      "user-1",
		DisplayName: name,
		Platform:    platform,
		Address:     "addr-" + id,
		CreatedAt:   time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("seed contact %s: %v", id, err)
	}
}

func TestAddContactToScope_CreatesWhitelistRule(t *testing.T) {
	reg, deps := fullRegistry(t)
	seedContact(t, deps.Stores.Contacts, "c-1", "Dana", "telegram")
	ctx := context.Background()

	res, err := reg.Execute(ctx, "addContactToScope", map[string]any{"contactName": "dana"}, testToolContext())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.Success {
		t.Fatalf("result = %+v", res)
	}
	payload := res.Result.(map[string]any)
	if payload["changed"] != true || payload["contactId"] != "c-1" {
		t.Errorf("payload = %v", payload)
	}

	rule, err := deps.Stores.Contacts.GetScopeRule(ctx, "agent-1", "")
	if err != nil {
		t.Fatalf("GetScopeRule: %v", err)
	}
	if rule.Scope != models.ScopeWhitelist {
		t.Errorf("scope = %s, want whitelist", rule.Scope)
	}
	if len(rule.AllowedContactIDs) != 1 || rule.AllowedContactIDs[0] != "c-1" {
		t.Errorf("allowed = %v", rule.AllowedContactIDs)
	}
	// A fresh whitelist must not cut the agent off from its own team.
	if !rule.AllowTeamMembers {
		t.Error("fresh rule should allow team members")
	}
}

func TestAddContactToScope_AlreadyAllowed(t *testing.T) {
	reg, deps := fullRegistry(t)
	seedContact(t, deps.Stores.Contacts, "c-1", "Dana", "telegram")
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		res, err := reg.Execute(ctx, "addContactToScope", map[string]any{"contactName": "Dana"}, testToolContext())
		if err != nil || !res.Success {
			t.Fatalf("round %d: %+v, %v", i, res, err)
		}
		payload := res.Result.(map[string]any)
		if want := i == 0; payload["changed"] != want {
			t.Errorf("round %d: changed = %v, want %v", i, payload["changed"], want)
		}
	}

	rule, err := deps.Stores.Contacts.GetScopeRule(ctx, "agent-1", "")
	if err != nil {
		t.Fatalf("GetScopeRule: %v", err)
	}
	if len(rule.AllowedContactIDs) != 1 {
		t.Errorf("allowed = %v, want single entry", rule.AllowedContactIDs)
	}
}

func TestAddContactToScope_UnrestrictedIsNoop(t *testing.T) {
	reg, deps := fullRegistry(t)
	seedContact(t, deps.Stores.Contacts, "c-1", "Dana", "telegram")
	ctx := context.Background()

	err := deps.Stores.Contacts.SaveScopeRule(ctx, &models.ContactScopeRule{
		ID: "rule-1", AgentID: "agent-1", UserID: "user-1", Scope: models.ScopeUnrestricted,
	})
	if err != nil {
		t.Fatalf("SaveScopeRule: %v", err)
	}

	res, err := reg.Execute(ctx, "addContactToScope", map[string]any{"contactName": "Dana"}, testToolContext())
	if err != nil || !res.Success {
		t.Fatalf("result = %+v, %v", res, err)
	}
	if payload := res.Result.(map[string]any); payload["changed"] != false {
		t.Errorf("payload = %v, want unchanged", payload)
	}
}

func TestAddContactToScope_UnknownContact(t *testing.T) {
	reg, _ := fullRegistry(t)

	res, err := reg.Execute(context.Background(), "addContactToScope", map[string]any{"contactName": "Nobody"}, testToolContext())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Success || !strings.Contains(res.Error, "no contact named") {
		t.Errorf("result = %+v", res)
	}
}

func TestFindContact_PrefersTriggerPlatform(t *testing.T) {
	reg, deps := fullRegistry(t)
	// Same display name on two platforms.
	seedContact(t, deps.Stores.Contacts, "c-email", "Dana", "email")
	seedContact(t, deps.Stores.Contacts, "c-tg", "Dana", "telegram")
	ctx := context.Background()

	tctx := testToolContext() // platform telegram
	res, err := reg.Execute(ctx, "addContactToScope", map[string]any{"contactName": "Dana"}, tctx)
	if err != nil || !res.Success {
		t.Fatalf("result = %+v, %v", res, err)
	}
	if payload := res.Result.(map[string]any); payload["contactId"] != "c-tg" {
		t.Errorf("picked %v, want the telegram contact", payload["contactId"])
	}
}

func TestRemoveContactFromScope(t *testing.T) {
	reg, deps := fullRegistry(t)
	seedContact(t, deps.Stores.Contacts, "c-1", "Dana", "telegram")
	seedContact(t, deps.Stores.Contacts, "c-2", "Evan", "telegram")
	ctx := context.Background()

	// No rule yet: nothing to remove.
	res, err := reg.Execute(ctx, "removeContactFromScope", map[string]any{"contactName": "Dana"}, testToolContext())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Success {
		t.Fatal("removal without a rule should fail")
	}

	for _, name := range []string{"Dana", "Evan"} {
		if res, err := reg.Execute(ctx, "addContactToScope", map[string]any{"contactName": name}, testToolContext()); err != nil || !res.Success {
			t.Fatalf("add %s: %+v, %v", name, res, err)
		}
	}

	res, err = reg.Execute(ctx, "removeContactFromScope", map[string]any{"contactName": "Dana"}, testToolContext())
	if err != nil || !res.Success {
		t.Fatalf("remove = %+v, %v", res, err)
	}
	rule, err := deps.Stores.Contacts.GetScopeRule(ctx, "agent-1", "")
	if err != nil {
		t.Fatalf("GetScopeRule: %v", err)
	}
	if len(rule.AllowedContactIDs) != 1 || rule.AllowedContactIDs[0] != "c-2" {
		t.Errorf("allowed = %v, want only c-2", rule.AllowedContactIDs)
	}

	// Removing again reports no change.
	res, err = reg.Execute(ctx, "removeContactFromScope", map[string]any{"contactName": "Dana"}, testToolContext())
	if err != nil || !res.Success {
		t.Fatalf("second remove = %+v, %v", res, err)
	}
	if payload := res.Result.(map[string]any); payload["changed"] != false {
		t.Errorf("payload = %v", payload)
	}
}

func TestRemoveContactFromScope_UnrestrictedRefused(t *testing.T) {
	reg, deps := fullRegistry(t)
	seedContact(t, deps.Stores.Contacts, "c-1", "Dana", "telegram")
	ctx := context.Background()

	err := deps.Stores.Contacts.SaveScopeRule(ctx, &models.ContactScopeRule{
		ID: "rule-1", AgentID: "agent-1", UserID: "user-1", Scope: models.ScopeUnrestricted,
	})
	if err != nil {
		t.Fatalf("SaveScopeRule: %v", err)
	}

	res, err := reg.Execute(ctx, "removeContactFromScope", map[string]any{"contactName": "Dana"}, testToolContext())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Success || !strings.Contains(res.Error, "whitelist") {
		t.Errorf("result = %+v, want whitelist hint", res)
	}
}

func TestAddGroupToScope(t *testing.T) {
	reg, deps := fullRegistry(t)
	ctx := context.Background()

	res, err := reg.Execute(ctx, "addGroupToScope", map[string]any{"tag": "  Family "}, testToolContext())
	if err != nil || !res.Success {
		t.Fatalf("result = %+v, %v", res, err)
	}
	if payload := res.Result.(map[string]any); payload["tag"] != "family" {
		t.Errorf("tag = %v, want lowercased", payload["tag"])
	}

	rule, err := deps.Stores.Contacts.GetScopeRule(ctx, "agent-1", "")
	if err != nil {
		t.Fatalf("GetScopeRule: %v", err)
	}
	if rule.Scope != models.ScopeTags || len(rule.AllowedTags) != 1 || rule.AllowedTags[0] != "family" {
		t.Errorf("rule = %+v", rule)
	}

	// Case-insensitive dedup.
	res, err = reg.Execute(ctx, "addGroupToScope", map[string]any{"tag": "FAMILY"}, testToolContext())
	if err != nil || !res.Success {
		t.Fatalf("dedup result = %+v, %v", res, err)
	}
	if payload := res.Result.(map[string]any); payload["changed"] != false {
		t.Errorf("payload = %v", payload)
	}
}

func TestScopeTools_EditAccountSpecificRule(t *testing.T) {
	reg, deps := fullRegistry(t)
	seedContact(t, deps.Stores.Contacts, "c-1", "Dana", "telegram")
	ctx := context.Background()

	// An account-specific rule outranks the agent-wide default.
	err := deps.Stores.Contacts.SaveScopeRule(ctx, &models.ContactScopeRule{
		ID: "rule-acct", AgentID: "agent-1", UserID: "user-1",
		PlatformAccountID: "acct-9", Scope: models.ScopeWhitelist,
	})
	if err != nil {
		t.Fatalf("SaveScopeRule: %v", err)
	}

	tctx := testToolContext()
	tctx.AccountID = "acct-9"
	res, err := reg.Execute(ctx, "addContactToScope", map[string]any{"contactName": "Dana"}, tctx)
	if err != nil || !res.Success {
		t.Fatalf("result = %+v, %v", res, err)
	}

	rule, err := deps.Stores.Contacts.GetScopeRule(ctx, "agent-1", "acct-9")
	if err != nil {
		t.Fatalf("GetScopeRule: %v", err)
	}
	if rule.ID != "rule-acct" || len(rule.AllowedContactIDs) != 1 {
		t.Errorf("rule = %+v, want the account rule updated", rule)
	}
}
