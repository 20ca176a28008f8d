package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/legionruntime/legion/internal/store"
	"github.com/legionruntime/legion/pkg/models"
)

func scopeTools(contacts store.ContactStore) []Tool {
	return []Tool{
		addContactToScopeTool(contacts),
		removeContactFromScopeTool(contacts),
		addGroupToScopeTool(contacts),
	}
}

func addContactToScopeTool(contacts store.ContactStore) Tool {
	return &Func{
		Desc: Descriptor{
			ID:          "addContactToScope",
			Description: "Allow outbound messages to a contact.",
			Required:    []string{"contactName"},
			ParamDocs: map[string]string{
				"contactName": "Display name of the contact to allow.",
			},
			Group:         GroupStandard,
			ScopeMutating: true,
		},
		Run: func(ctx context.Context, params map[string]any, tctx *models.ToolContext) (*models.ToolResult, error) {
			name, fail := requiredName(params, "contactName")
			if fail != nil {
				return fail, nil
			}
			contact, fail, err := findContact(ctx, contacts, tctx, name)
			if err != nil || fail != nil {
				return fail, err
			}

			rule, err := effectiveRule(ctx, contacts, tctx)
			if err != nil {
				return nil, err
			}
			if rule == nil {
				rule = newScopeRule(tctx, models.ScopeWhitelist)
			}
			switch rule.Scope {
			case models.ScopeUnrestricted, models.ScopeAllContacts:
				return okResult(map[string]any{
					"contactName": contact.DisplayName,
					"scope":       string(rule.Scope),
					"changed":     false,
					"note":        "scope already allows this contact",
				}), nil
			}
			for _, id := range rule.AllowedContactIDs {
				if id == contact.ID {
					return okResult(map[string]any{
						"contactName": contact.DisplayName,
						"scope":       string(rule.Scope),
						"changed":     false,
						"note":        "contact already in scope",
					}), nil
				}
			}

			rule.AllowedContactIDs = append(rule.AllowedContactIDs, contact.ID)
			rule.UpdatedAt = time.Now().UTC()
			if err := contacts.SaveScopeRule(ctx, rule); err != nil {
				return nil, fmt.Errorf("save scope rule: %w", err)
			}
			return okResult(map[string]any{
				"contactId":   contact.ID,
				"contactName": contact.DisplayName,
				"scope":       string(rule.Scope),
				"changed":     true,
			}), nil
		},
	}
}

func removeContactFromScopeTool(contacts store.ContactStore) Tool {
	return &Func{
		Desc: Descriptor{
			ID:          "removeContactFromScope",
			Description: "Stop allowing outbound messages to a contact.",
			Required:    []string{"contactName"},
			ParamDocs: map[string]string{
				"contactName": "Display name of the contact to remove.",
			},
			Group:         GroupStandard,
			ScopeMutating: true,
		},
		Run: func(ctx context.Context, params map[string]any, tctx *models.ToolContext) (*models.ToolResult, error) {
			name, fail := requiredName(params, "contactName")
			if fail != nil {
				return fail, nil
			}
			contact, fail, err := findContact(ctx, contacts, tctx, name)
			if err != nil || fail != nil {
				return fail, err
			}

			rule, err := effectiveRule(ctx, contacts, tctx)
			if err != nil {
				return nil, err
			}
			if rule == nil {
				return errResult("no scope rule configured, nothing to remove"), nil
			}
			if rule.Scope == models.ScopeUnrestricted || rule.Scope == models.ScopeAllContacts {
				return errResult("scope is %s, restricting a single contact requires a whitelist", rule.Scope), nil
			}

			kept := rule.AllowedContactIDs[:0]
			removed := false
			for _, id := range rule.AllowedContactIDs {
				if id == contact.ID {
					removed = true
					continue
				}
				kept = append(kept, id)
			}
			if !removed {
				return okResult(map[string]any{
					"contactName": contact.DisplayName,
					"changed":     false,
					"note":        "contact was not in scope",
				}), nil
			}

			rule.AllowedContactIDs = kept
			rule.UpdatedAt = time.Now().UTC()
			if err := contacts.SaveScopeRule(ctx, rule); err != nil {
				return nil, fmt.Errorf("save scope rule: %w", err)
			}
			return okResult(map[string]any{
				"contactId":   contact.ID,
				"contactName": contact.DisplayName,
				"changed":     true,
			}), nil
		},
	}
}

func addGroupToScopeTool(contacts store.ContactStore) Tool {
	return &Func{
		Desc: Descriptor{
			ID:          "addGroupToScope",
			Description: "Allow outbound messages to every contact carrying a tag.",
			Required:    []string{"tag"},
			ParamDocs: map[string]string{
				"tag": "Contact tag to allow, for example 'family' or 'clients'.",
			},
			Group:         GroupStandard,
			ScopeMutating: true,
		},
		Run: func(ctx context.Context, params map[string]any, tctx *models.ToolContext) (*models.ToolResult, error) {
			tag, fail := requiredName(params, "tag")
			if fail != nil {
				return fail, nil
			}
			tag = strings.ToLower(tag)

			rule, err := effectiveRule(ctx, contacts, tctx)
			if err != nil {
				return nil, err
			}
			if rule == nil {
				rule = newScopeRule(tctx, models.ScopeTags)
			}
			switch rule.Scope {
			case models.ScopeUnrestricted, models.ScopeAllContacts:
				return okResult(map[string]any{
					"tag":     tag,
					"scope":   string(rule.Scope),
					"changed": false,
					"note":    "scope already allows these contacts",
				}), nil
			}
			for _, t := range rule.AllowedTags {
				if strings.EqualFold(t, tag) {
					return okResult(map[string]any{
						"tag":     tag,
						"changed": false,
						"note":    "tag already in scope",
					}), nil
				}
			}

			rule.AllowedTags = append(rule.AllowedTags, tag)
			rule.UpdatedAt = time.Now().UTC()
			if err := contacts.SaveScopeRule(ctx, rule); err != nil {
				return nil, fmt.Errorf("save scope rule: %w", err)
			}
			return okResult(map[string]any{
				"tag":     tag,
				"scope":   string(rule.Scope),
				"changed": true,
			}), nil
		},
	}
}

// requiredName extracts and trims a required string param, returning a
// domain failure when missing.
func requiredName(params map[string]any, key string) (string, *models.ToolResult) {
	v, _ := params[key].(string)
	v = strings.TrimSpace(v)
	if v == "" {
		return "", errResult("%s is required", key)
	}
	return v, nil
}

// findContact resolves a display name within the user's contacts, preferring
// a contact on the trigger's platform when names collide.
func findContact(ctx context.Context, contacts store.ContactStore, tctx *models.ToolContext, name string) (*models.Contact, *models.ToolResult, error) {
	all, err := contacts.ListContacts(ctx, tctx.UserID)
	if err != nil {
		return nil, nil, fmt.Errorf("list contacts: %w", err)
	}
	var match *models.Contact
	for _, c := range all {
		if !strings.EqualFold(strings.TrimSpace(c.DisplayName), name) {
			continue
		}
		if tctx.Platform != "" && c.Platform == tctx.Platform {
			return c, nil, nil
		}
		if match == nil {
			match = c
		}
	}
	if match == nil {
		return nil, errResult("no contact named %q", name), nil
	}
	return match, nil, nil
}

// effectiveRule resolves the cascading scope rule, mapping absence to nil.
func effectiveRule(ctx context.Context, contacts store.ContactStore, tctx *models.ToolContext) (*models.ContactScopeRule, error) {
	rule, err := contacts.GetScopeRule(ctx, tctx.AgentID, tctx.AccountID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get scope rule: %w", err)
	}
	return rule, nil
}

// newScopeRule builds the agent's default rule when none exists yet. Team
// members stay reachable so a fresh whitelist cannot strand the agent.
func newScopeRule(tctx *models.ToolContext, scope models.ScopeType) *models.ContactScopeRule {
	now := time.Now().UTC()
	return &models.ContactScopeRule{
		ID:               uuid.NewString(),
		AgentID:          tctx.AgentID,
		UserID:           tctx.UserID,
		Scope:            scope,
		AllowTeamMembers: true,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}
