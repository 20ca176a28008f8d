package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/legionruntime/legion/pkg/models"
)

// SQLiteContactStore implements ContactStore on SQLite.
type SQLiteContactStore struct {
	db *sql.DB
}

func (s *SQLiteContactStore) CreateContact(ctx context.Context, c *models.Contact) error {
	if c == nil || c.ID == "" {
		return fmt.Errorf("contact is required")
	}
	tags, err := marshalJSON(c.Tags)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO contacts (id, user_id, display_name, platform, address, tags, is_team, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		c.ID, c.UserID, c.DisplayName, nullString(c.Platform),
		nullString(c.Address), nullString(tags), c.IsTeam, c.CreatedAt,
	)
	return err
}

func scanContact(row interface{ Scan(...any) error }) (*models.Contact, error) {
	var (
		c                       models.Contact
		platform, address, tags sql.NullString
	)
	err := row.Scan(&c.ID, &c.UserID, &c.DisplayName, &platform, &address,
		&tags, &c.IsTeam, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	c.Platform = platform.String
	c.Address = address.String
	if err := unmarshalJSON(tags.String, &c.Tags); err != nil {
		return nil, fmt.Errorf("decode contact tags: %w", err)
	}
	return &c, nil
}

func (s *SQLiteContactStore) GetContact(ctx context.Context, id string) (*models.Contact, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, display_name, platform, address, tags, is_team, created_at
		FROM contacts WHERE id = ?
	`, id)
	c, err := scanContact(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return c, err
}

func (s *SQLiteContactStore) ListContacts(ctx context.Context, userID string) ([]*models.Contact, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, display_name, platform, address, tags, is_team, created_at
		FROM contacts WHERE user_id = ? ORDER BY display_name ASC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var contacts []*models.Contact
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, err
		}
		contacts = append(contacts, c)
	}
	return contacts, rows.Err()
}

func (s *SQLiteContactStore) ListTeam(ctx context.Context, userID string) ([]*models.TeamMember, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, contact_id, name, role, created_at
		FROM team_members WHERE user_id = ? ORDER BY name ASC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var team []*models.TeamMember
	for rows.Next() {
		var (
			m               models.TeamMember
			contactID, role sql.NullString
		)
		if err := rows.Scan(&m.ID, &m.UserID, &contactID, &m.Name, &role,
			&m.CreatedAt); err != nil {
			return nil, err
		}
		m.ContactID = contactID.String
		m.Role = role.String
		team = append(team, &m)
	}
	return team, rows.Err()
}

func (s *SQLiteContactStore) AddTeamMember(ctx context.Context, m *models.TeamMember) error {
	if m == nil || m.ID == "" {
		return fmt.Errorf("team member is required")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO team_members (id, user_id, contact_id, name, role, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, m.ID, m.UserID, nullString(m.ContactID), m.Name, nullString(m.Role),
		m.CreatedAt)
	return err
}

const scopeRuleColumns = `id, agent_id, user_id, platform_account_id, scope,
	allowed_contact_ids, allowed_tags, allow_team_members,
	notify_out_of_scope, created_at, updated_at`

func (s *SQLiteContactStore) GetScopeRule(ctx context.Context, agentID, platformAccountID string) (*models.ContactScopeRule, error) {
	// Platform-specific rule first, then the agent default.
	row := s.db.QueryRowContext(ctx, `
		SELECT `+scopeRuleColumns+` FROM scope_rules
		WHERE agent_id = ? AND platform_account_id = ?
	`, agentID, platformAccountID)
	rule, err := scanScopeRule(row)
	if err == nil {
		return rule, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if platformAccountID == "" {
		return nil, ErrNotFound
	}
	row = s.db.QueryRowContext(ctx, `
		SELECT `+scopeRuleColumns+` FROM scope_rules
		WHERE agent_id = ? AND platform_account_id = ''
	`, agentID)
	rule, err = scanScopeRule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return rule, err
}

func scanScopeRule(row interface{ Scan(...any) error }) (*models.ContactScopeRule, error) {
	var (
		rule             models.ContactScopeRule
		contactIDs, tags sql.NullString
		scope            string
	)
	err := row.Scan(
		&rule.ID, &rule.AgentID, &rule.UserID, &rule.PlatformAccountID,
		&scope, &contactIDs, &tags, &rule.AllowTeamMembers,
		&rule.NotifyOutOfScope, &rule.CreatedAt, &rule.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	rule.Scope = models.ScopeType(scope)
	if err := unmarshalJSON(contactIDs.String, &rule.AllowedContactIDs); err != nil {
		return nil, fmt.Errorf("decode allowed contacts: %w", err)
	}
	if err := unmarshalJSON(tags.String, &rule.AllowedTags); err != nil {
		return nil, fmt.Errorf("decode allowed tags: %w", err)
	}
	return &rule, nil
}

func (s *SQLiteContactStore) SaveScopeRule(ctx context.Context, rule *models.ContactScopeRule) error {
	if rule == nil || rule.ID == "" {
		return fmt.Errorf("scope rule is required")
	}
	contactIDs, err := marshalJSON(rule.AllowedContactIDs)
	if err != nil {
		return err
	}
	tags, err := marshalJSON(rule.AllowedTags)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO scope_rules (`+scopeRuleColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(agent_id, platform_account_id) DO UPDATE SET
			scope = excluded.scope,
			allowed_contact_ids = excluded.allowed_contact_ids,
			allowed_tags = excluded.allowed_tags,
			allow_team_members = excluded.allow_team_members,
			notify_out_of_scope = excluded.notify_out_of_scope,
			updated_at = excluded.updated_at
	`,
		rule.ID, rule.AgentID, rule.UserID, rule.PlatformAccountID,
		string(rule.Scope), nullString(contactIDs), nullString(tags),
		rule.AllowTeamMembers, rule.NotifyOutOfScope, rule.CreatedAt,
		rule.UpdatedAt,
	)
	return err
}

// SQLiteDeviceStore implements DeviceStore on SQLite.
type SQLiteDeviceStore struct {
	db *sql.DB
}

const deviceColumns = `id, user_id, kind, name, online, last_seen,
	installed_tools, capabilities, mcp_servers, mcp_tools, battery_pct,
	connectivity, latitude, longitude, created_at`

func (s *SQLiteDeviceStore) SaveDevice(ctx context.Context, d *models.Device) error {
	if d == nil || d.ID == "" {
		return fmt.Errorf("device is required")
	}
	tools, err := marshalJSON(d.InstalledTools)
	if err != nil {
		return err
	}
	caps, err := marshalJSON(d.Capabilities)
	if err != nil {
		return err
	}
	servers, err := marshalJSON(d.MCPServers)
	if err != nil {
		return err
	}
	mcpTools, err := marshalJSON(d.MCPTools)
	if err != nil {
		return err
	}
	var battery any
	if d.BatteryPct != nil {
		battery = *d.BatteryPct
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO devices (`+deviceColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name, online = excluded.online,
			last_seen = excluded.last_seen,
			installed_tools = excluded.installed_tools,
			capabilities = excluded.capabilities,
			mcp_servers = excluded.mcp_servers, mcp_tools = excluded.mcp_tools,
			battery_pct = excluded.battery_pct,
			connectivity = excluded.connectivity,
			latitude = excluded.latitude, longitude = excluded.longitude
	`,
		d.ID, d.UserID, string(d.Kind), nullString(d.Name), d.Online,
		d.LastSeen, nullString(tools), nullString(caps), nullString(servers),
		nullString(mcpTools), battery, nullString(d.Connectivity), d.Latitude,
		d.Longitude, d.CreatedAt,
	)
	return err
}

func scanDevice(row interface{ Scan(...any) error }) (*models.Device, error) {
	var (
		d                   models.Device
		name, tools, caps   sql.NullString
		servers, mcpTools   sql.NullString
		connectivity        sql.NullString
		kind                string
		battery             sql.NullInt64
		latitude, longitude sql.NullFloat64
	)
	err := row.Scan(
		&d.ID, &d.UserID, &kind, &name, &d.Online, &d.LastSeen, &tools,
		&caps, &servers, &mcpTools, &battery, &connectivity, &latitude,
		&longitude, &d.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	d.Kind = models.DeviceKind(kind)
	d.Name = name.String
	d.Connectivity = connectivity.String
	d.Latitude = latitude.Float64
	d.Longitude = longitude.Float64
	if battery.Valid {
		pct := int(battery.Int64)
		d.BatteryPct = &pct
	}
	if err := unmarshalJSON(tools.String, &d.InstalledTools); err != nil {
		return nil, fmt.Errorf("decode installed tools: %w", err)
	}
	if err := unmarshalJSON(caps.String, &d.Capabilities); err != nil {
		return nil, fmt.Errorf("decode capabilities: %w", err)
	}
	if err := unmarshalJSON(servers.String, &d.MCPServers); err != nil {
		return nil, fmt.Errorf("decode mcp servers: %w", err)
	}
	if err := unmarshalJSON(mcpTools.String, &d.MCPTools); err != nil {
		return nil, fmt.Errorf("decode mcp tools: %w", err)
	}
	return &d, nil
}

func (s *SQLiteDeviceStore) GetDevice(ctx context.Context, id string) (*models.Device, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+deviceColumns+` FROM devices WHERE id = ?`, id)
	d, err := scanDevice(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return d, err
}

func (s *SQLiteDeviceStore) ListDevices(ctx context.Context, userID string, kind models.DeviceKind) ([]*models.Device, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+deviceColumns+` FROM devices
		WHERE user_id = ? AND (? = '' OR kind = ?)
		ORDER BY last_seen DESC
	`, userID, string(kind), string(kind))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var devices []*models.Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		devices = append(devices, d)
	}
	return devices, rows.Err()
}

func (s *SQLiteDeviceStore) ListMonitoringSources(ctx context.Context, agentID string) ([]*models.MonitoringSource, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, agent_id, user_id, platform, account_id, is_active, created_at
		FROM monitoring_sources WHERE agent_id = ?
		ORDER BY created_at ASC
	`, agentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var sources []*models.MonitoringSource
	for rows.Next() {
		var (
			src       models.MonitoringSource
			accountID sql.NullString
		)
		if err := rows.Scan(&src.ID, &src.AgentID, &src.UserID, &src.Platform,
			&accountID, &src.IsActive, &src.CreatedAt); err != nil {
			return nil, err
		}
		src.AccountID = accountID.String
		sources = append(sources, &src)
	}
	return sources, rows.Err()
}

func (s *SQLiteDeviceStore) SaveMonitoringSource(ctx context.Context, src *models.MonitoringSource) error {
	if src == nil || src.ID == "" {
		return fmt.Errorf("monitoring source is required")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO monitoring_sources (id, agent_id, user_id, platform, account_id, is_active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET is_active = excluded.is_active
	`, src.ID, src.AgentID, src.UserID, src.Platform,
		nullString(src.AccountID), src.IsActive, src.CreatedAt)
	return err
}

func (s *SQLiteDeviceStore) ListPlatformAccounts(ctx context.Context, userID string) ([]*models.PlatformAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, platform, external_id, label, connected, created_at
		FROM platform_accounts WHERE user_id = ?
		ORDER BY created_at ASC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var accounts []*models.PlatformAccount
	for rows.Next() {
		var (
			acct              models.PlatformAccount
			externalID, label sql.NullString
		)
		if err := rows.Scan(&acct.ID, &acct.UserID, &acct.Platform,
			&externalID, &label, &acct.Connected, &acct.CreatedAt); err != nil {
			return nil, err
		}
		acct.ExternalID = externalID.String
		acct.Label = label.String
		accounts = append(accounts, &acct)
	}
	return accounts, rows.Err()
}

func (s *SQLiteDeviceStore) SavePlatformAccount(ctx context.Context, acct *models.PlatformAccount) error {
	if acct == nil || acct.ID == "" {
		return fmt.Errorf("platform account is required")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO platform_accounts (id, user_id, platform, external_id, label, connected, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			external_id = excluded.external_id, label = excluded.label,
			connected = excluded.connected
	`, acct.ID, acct.UserID, acct.Platform, nullString(acct.ExternalID),
		nullString(acct.Label), acct.Connected, acct.CreatedAt)
	return err
}
