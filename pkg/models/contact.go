package models

import "time"

// Contact is a person the agent may talk to on some platform.
type Contact struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	DisplayName string    `json:"display_name"`
	Platform    string    `json:"platform"` // whatsapp | telegram | email | sms
	Address     string    `json:"address"`  // phone, chat id, or email
	Tags        []string  `json:"tags,omitempty"`
	IsTeam      bool      `json:"is_team"`
	CreatedAt   time.Time `json:"created_at"`
}

// TeamMember is a human collaborator tasks can be assigned to.
type TeamMember struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	ContactID string    `json:"contact_id,omitempty"`
	Name      string    `json:"name"`
	Role      string    `json:"role,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// ScopeType decides which contacts an agent may reach out to.
type ScopeType string

const (
	ScopeUnrestricted ScopeType = "unrestricted"
	ScopeAllContacts  ScopeType = "all_user_contacts"
	ScopeWhitelist    ScopeType = "contacts_whitelist"
	ScopeTags         ScopeType = "contacts_tags"
	ScopeTeamOnly     ScopeType = "team_only"
)

// ContactScopeRule restricts an agent's outbound reach on one platform
// account. Rules cascade: a platform-specific rule wins over the default
// rule (empty PlatformAccountID). The master contact is always allowed.
type ContactScopeRule struct {
	ID                string    `json:"id"`
	AgentID           string    `json:"agent_id"`
	UserID            string    `json:"user_id"`
	PlatformAccountID string    `json:"platform_account_id,omitempty"`
	Scope             ScopeType `json:"scope"`

	AllowedContactIDs []string `json:"allowed_contact_ids,omitempty"`
	AllowedTags       []string `json:"allowed_tags,omitempty"`
	AllowTeamMembers  bool     `json:"allow_team_members"`

	// NotifyOutOfScope queues an approval instead of silently refusing
	// when a contact falls outside the scope.
	NotifyOutOfScope bool `json:"notify_out_of_scope"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ScopeDecision is the outcome of a contact-scope check.
type ScopeDecision struct {
	Allowed          bool   `json:"allowed"`
	RequiresApproval bool   `json:"requires_approval"`
	Reason           string `json:"reason,omitempty"`
}
