package models

import "time"

// DeviceKind separates desktop agents from paired phones.
type DeviceKind string

const (
	DeviceLocal  DeviceKind = "local"
	DeviceMobile DeviceKind = "mobile"
)

// Device is one enrolled local or mobile agent. Local devices expose
// installed tools and MCP servers; mobile devices report battery,
// connectivity, and GPS snapshots.
type Device struct {
	ID     string     `json:"id"`
	UserID string     `json:"user_id"`
	Kind   DeviceKind `json:"kind"`
	Name   string     `json:"name"`

	Online   bool      `json:"online"`
	LastSeen time.Time `json:"last_seen"`

	// Local agent surface.
	InstalledTools []string `json:"installed_tools,omitempty"`
	Capabilities   []string `json:"capabilities,omitempty"`
	MCPServers     []string `json:"mcp_servers,omitempty"`
	MCPTools       []string `json:"mcp_tools,omitempty"`

	// Mobile snapshot.
	BatteryPct   *int    `json:"battery_pct,omitempty"`
	Connectivity string  `json:"connectivity,omitempty"` // wifi | cellular | offline
	Latitude     float64 `json:"latitude,omitempty"`
	Longitude    float64 `json:"longitude,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// MonitoringSource is a platform inbox the runtime watches for the agent.
// An active source both feeds incoming_message triggers and unlocks the
// platform's outbound send tools.
type MonitoringSource struct {
	ID        string    `json:"id"`
	AgentID   string    `json:"agent_id"`
	UserID    string    `json:"user_id"`
	Platform  string    `json:"platform"` // whatsapp | telegram | email | sms
	AccountID string    `json:"account_id,omitempty"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

// PlatformAccount is a connected credentialed account on a platform.
type PlatformAccount struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	Platform   string    `json:"platform"`
	ExternalID string    `json:"external_id"`
	Label      string    `json:"label,omitempty"`
	Connected  bool      `json:"connected"`
	CreatedAt  time.Time `json:"created_at"`
}
