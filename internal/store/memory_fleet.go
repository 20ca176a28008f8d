package store

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/legionruntime/legion/pkg/models"
)

// MemoryContactStore provides an in-memory ContactStore.
type MemoryContactStore struct {
	mu       sync.RWMutex
	contacts map[string]*models.Contact
	team     map[string]*models.TeamMember
	rules    map[string]*models.ContactScopeRule // agentID|platformAccountID
}

// NewMemoryContactStore creates an in-memory contact store.
func NewMemoryContactStore() *MemoryContactStore {
	return &MemoryContactStore{
		contacts: make(map[string]*models.Contact),
		team:     make(map[string]*models.TeamMember),
		rules:    make(map[string]*models.ContactScopeRule),
	}
}

func cloneContact(c *models.Contact) *models.Contact {
	if c == nil {
		return nil
	}
	out := *c
	out.Tags = slices.Clone(c.Tags)
	return &out
}

func cloneScopeRule(r *models.ContactScopeRule) *models.ContactScopeRule {
	if r == nil {
		return nil
	}
	out := *r
	out.AllowedContactIDs = slices.Clone(r.AllowedContactIDs)
	out.AllowedTags = slices.Clone(r.AllowedTags)
	return &out
}

func (s *MemoryContactStore) CreateContact(ctx context.Context, c *models.Contact) error {
	if c == nil || c.ID == "" {
		return fmt.Errorf("contact is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.contacts[c.ID]; exists {
		return ErrAlreadyExists
	}
	s.contacts[c.ID] = cloneContact(c)
	return nil
}

func (s *MemoryContactStore) GetContact(ctx context.Context, id string) (*models.Contact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.contacts[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneContact(c), nil
}

func (s *MemoryContactStore) ListContacts(ctx context.Context, userID string) ([]*models.Contact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Contact
	for _, c := range s.contacts {
		if c.UserID == userID {
			out = append(out, cloneContact(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryContactStore) ListTeam(ctx context.Context, userID string) ([]*models.TeamMember, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.TeamMember
	for _, m := range s.team {
		if m.UserID == userID {
			cp := *m
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryContactStore) AddTeamMember(ctx context.Context, m *models.TeamMember) error {
	if m == nil || m.ID == "" {
		return fmt.Errorf("team member is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.team[m.ID]; exists {
		return ErrAlreadyExists
	}
	cp := *m
	s.team[m.ID] = &cp
	return nil
}

func scopeRuleKey(agentID, platformAccountID string) string {
	return agentID + "|" + platformAccountID
}

func (s *MemoryContactStore) GetScopeRule(ctx context.Context, agentID, platformAccountID string) (*models.ContactScopeRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if platformAccountID != "" {
		if r, ok := s.rules[scopeRuleKey(agentID, platformAccountID)]; ok {
			return cloneScopeRule(r), nil
		}
	}
	if r, ok := s.rules[scopeRuleKey(agentID, "")]; ok {
		return cloneScopeRule(r), nil
	}
	return nil, ErrNotFound
}

func (s *MemoryContactStore) SaveScopeRule(ctx context.Context, rule *models.ContactScopeRule) error {
	if rule == nil || rule.AgentID == "" {
		return fmt.Errorf("scope rule is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules[scopeRuleKey(rule.AgentID, rule.PlatformAccountID)] = cloneScopeRule(rule)
	return nil
}

// MemoryDeviceStore provides an in-memory DeviceStore.
type MemoryDeviceStore struct {
	mu       sync.RWMutex
	devices  map[string]*models.Device
	sources  map[string]*models.MonitoringSource
	accounts map[string]*models.PlatformAccount
}

// NewMemoryDeviceStore creates an in-memory device store.
func NewMemoryDeviceStore() *MemoryDeviceStore {
	return &MemoryDeviceStore{
		devices:  make(map[string]*models.Device),
		sources:  make(map[string]*models.MonitoringSource),
		accounts: make(map[string]*models.PlatformAccount),
	}
}

func cloneDevice(d *models.Device) *models.Device {
	if d == nil {
		return nil
	}
	out := *d
	out.InstalledTools = slices.Clone(d.InstalledTools)
	out.Capabilities = slices.Clone(d.Capabilities)
	out.MCPServers = slices.Clone(d.MCPServers)
	out.MCPTools = slices.Clone(d.MCPTools)
	if d.BatteryPct != nil {
		v := *d.BatteryPct
		out.BatteryPct = &v
	}
	return &out
}

func (s *MemoryDeviceStore) SaveDevice(ctx context.Context, d *models.Device) error {
	if d == nil || d.ID == "" {
		return fmt.Errorf("device is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.devices[d.ID] = cloneDevice(d)
	return nil
}

func (s *MemoryDeviceStore) GetDevice(ctx context.Context, id string) (*models.Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.devices[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneDevice(d), nil
}

func (s *MemoryDeviceStore) ListDevices(ctx context.Context, userID string, kind models.DeviceKind) ([]*models.Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Device
	for _, d := range s.devices {
		if d.UserID != userID {
			continue
		}
		if kind != "" && d.Kind != kind {
			continue
		}
		out = append(out, cloneDevice(d))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryDeviceStore) ListMonitoringSources(ctx context.Context, agentID string) ([]*models.MonitoringSource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.MonitoringSource
	for _, src := range s.sources {
		if src.AgentID == agentID {
			cp := *src
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryDeviceStore) SaveMonitoringSource(ctx context.Context, src *models.MonitoringSource) error {
	if src == nil || src.ID == "" {
		return fmt.Errorf("monitoring source is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *src
	s.sources[src.ID] = &cp
	return nil
}

func (s *MemoryDeviceStore) ListPlatformAccounts(ctx context.Context, userID string) ([]*models.PlatformAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.PlatformAccount
	for _, acct := range s.accounts {
		if acct.UserID == userID {
			cp := *acct
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryDeviceStore) SavePlatformAccount(ctx context.Context, acct *models.PlatformAccount) error {
	if acct == nil || acct.ID == "" {
		return fmt.Errorf("platform account is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *acct
	s.accounts[acct.ID] = &cp
	return nil
}
