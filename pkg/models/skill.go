package models

import "time"

// SkillCategory groups tools into skill lines that accrue experience.
type SkillCategory string

const (
	SkillCommunication SkillCategory = "communication"
	SkillAnalysis      SkillCategory = "analysis"
	SkillAutomation    SkillCategory = "automation"
	SkillIntegration   SkillCategory = "integration"
	SkillManagement    SkillCategory = "management"
)

// AllSkillCategories lists every category in display order.
var AllSkillCategories = []SkillCategory{
	SkillCommunication,
	SkillAnalysis,
	SkillAutomation,
	SkillIntegration,
	SkillManagement,
}

// ValidSkillCategory reports whether s names a known category.
func ValidSkillCategory(s string) bool {
	for _, c := range AllSkillCategories {
		if string(c) == s {
			return true
		}
	}
	return false
}

// XPThresholds is the cumulative XP needed for the next level: an agent at
// level L promotes when XP reaches XPThresholds[L-1].
var XPThresholds = []int{100, 300, 600, 1000}

// MaxSkillLevel caps promotion.
const MaxSkillLevel = 4

// Skill is one agent's proficiency in a category. XP normally only grows;
// inactivity decay reduces it and can drop the level back down.
type Skill struct {
	ID         string        `json:"id"`
	AgentID    string        `json:"agent_id"`
	Category   SkillCategory `json:"category"`
	XP         int           `json:"xp"`
	Level      int           `json:"level"`
	UseCount   int           `json:"use_count"`
	LastUsedAt time.Time     `json:"last_used_at"`
	CreatedAt  time.Time     `json:"created_at"`
	UpdatedAt  time.Time     `json:"updated_at"`
}

// ReadyToLevel reports whether current XP clears the next level's threshold.
func (s *Skill) ReadyToLevel() bool {
	if s.Level >= MaxSkillLevel || s.Level < 1 {
		return false
	}
	return s.XP >= XPThresholds[s.Level-1]
}

// DecayRate returns the XP fraction lost after the given idle duration:
// 5% per week beyond two idle weeks, capped at 50%. Zero inside the
// two-week grace period.
func DecayRate(idle time.Duration) float64 {
	weeks := int(idle.Hours() / (24 * 7))
	if weeks <= 2 {
		return 0
	}
	rate := 0.05 * float64(weeks-2)
	if rate > 0.5 {
		rate = 0.5
	}
	return rate
}

// ApplyDecay reduces stored XP by the decay rate for the idle time since
// LastUsedAt and levels down if XP falls below the threshold that earned
// the current level. Returns the XP lost (zero when inside grace).
func (s *Skill) ApplyDecay(now time.Time) int {
	rate := DecayRate(now.Sub(s.LastUsedAt))
	if rate == 0 {
		return 0
	}
	lost := int(float64(s.XP) * rate)
	s.XP -= lost
	for s.Level > 1 && s.XP < XPThresholds[s.Level-2] {
		s.Level--
	}
	return lost
}

// SkillEvent names a skill_history row kind.
type SkillEvent string

const (
	SkillEventXPAward   SkillEvent = "xp_award"
	SkillEventLevelUp   SkillEvent = "level_up"
	SkillEventLevelDown SkillEvent = "level_down"
	SkillEventDecay     SkillEvent = "decay"
)

// SkillHistory records one change to a skill for audit and reporting.
type SkillHistory struct {
	ID        string        `json:"id"`
	SkillID   string        `json:"skill_id"`
	AgentID   string        `json:"agent_id"`
	Category  SkillCategory `json:"category"`
	Event     SkillEvent    `json:"event"`
	XPDelta   int           `json:"xp_delta"`
	FromLevel int           `json:"from_level"`
	ToLevel   int           `json:"to_level"`
	Note      string        `json:"note,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
}
