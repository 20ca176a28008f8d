// Package skills maintains per-agent proficiency: XP awards with level
// promotion, inactivity decay with demotion, and the history ledger behind
// both. Levels gate which tools the selector offers.
package skills

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/legionruntime/legion/internal/store"
	"github.com/legionruntime/legion/pkg/models"
)

// XPPerSuccess is the award for one successful tool execution.
const XPPerSuccess = 5

// Service owns skill progression. It is safe for concurrent use as long as
// the underlying store is.
type Service struct {
	skills store.SkillStore
	logger *slog.Logger
	now    func() time.Time
}

// NewService wires the skill service.
func NewService(skills store.SkillStore, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		skills: skills,
		logger: logger.With("component", "skills"),
		now:    time.Now,
	}
}

// EnsureBaseline creates missing level-one skills for every category so a
// fresh agent has a full proficiency row set.
func (s *Service) EnsureBaseline(ctx context.Context, agentID string) error {
	now := s.now().UTC()
	for _, cat := range models.AllSkillCategories {
		_, err := s.skills.Get(ctx, agentID, cat)
		if err == nil {
			continue
		}
		if !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("skills: get %s: %w", cat, err)
		}
		skill := &models.Skill{
			ID:        uuid.NewString(),
			AgentID:   agentID,
			Category:  cat,
			Level:     1,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := s.skills.Save(ctx, skill); err != nil {
			return fmt.Errorf("skills: save %s: %w", cat, err)
		}
	}
	return nil
}

// Award adds XP to one category, records the use, and promotes the skill
// for every threshold the new total clears. It returns the updated skill.
func (s *Service) Award(ctx context.Context, agentID string, category models.SkillCategory, xp int, note string) (*models.Skill, error) {
	if xp <= 0 {
		return nil, fmt.Errorf("skills: award must be positive, got %d", xp)
	}
	now := s.now().UTC()

	skill, err := s.skills.Get(ctx, agentID, category)
	if errors.Is(err, store.ErrNotFound) {
		skill = &models.Skill{
			ID:        uuid.NewString(),
			AgentID:   agentID,
			Category:  category,
			Level:     1,
			CreatedAt: now,
		}
	} else if err != nil {
		return nil, fmt.Errorf("skills: get: %w", err)
	}

	skill.XP += xp
	skill.UseCount++
	skill.LastUsedAt = now
	skill.UpdatedAt = now
	s.addHistory(ctx, skill, models.SkillEventXPAward, xp, skill.Level, skill.Level, note)

	for skill.ReadyToLevel() {
		from := skill.Level
		skill.Level++
		s.addHistory(ctx, skill, models.SkillEventLevelUp, 0, from, skill.Level, "")
		s.logger.Info("skill leveled up",
			"agent_id", agentID, "category", category, "level", skill.Level, "xp", skill.XP)
	}

	if err := s.skills.Save(ctx, skill); err != nil {
		return nil, fmt.Errorf("skills: save: %w", err)
	}
	return skill, nil
}

// Decay applies inactivity decay to every skill of the agent: 5% XP per
// week idle beyond two weeks, capped at half, with demotion when the total
// drops below the level's threshold. It returns how many skills lost XP.
func (s *Service) Decay(ctx context.Context, agentID string) (int, error) {
	list, err := s.skills.ListByAgent(ctx, agentID)
	if err != nil {
		return 0, fmt.Errorf("skills: list: %w", err)
	}
	now := s.now().UTC()

	decayed := 0
	for _, skill := range list {
		if skill.LastUsedAt.IsZero() {
			// Never used, nothing earned, nothing to lose.
			continue
		}
		from := skill.Level
		idleSince := skill.LastUsedAt
		lost := skill.ApplyDecay(now)
		if lost == 0 {
			continue
		}
		// Restart the idle clock so the same idle span is not charged
		// again on the next pass.
		skill.LastUsedAt = now
		skill.UpdatedAt = now
		if err := s.skills.Save(ctx, skill); err != nil {
			return decayed, fmt.Errorf("skills: save %s: %w", skill.Category, err)
		}
		s.addHistory(ctx, skill, models.SkillEventDecay, -lost, from, skill.Level,
			fmt.Sprintf("idle since %s", idleSince.UTC().Format("2006-01-02")))
		if skill.Level < from {
			s.addHistory(ctx, skill, models.SkillEventLevelDown, 0, from, skill.Level, "decay")
			s.logger.Info("skill leveled down",
				"agent_id", agentID, "category", skill.Category, "level", skill.Level)
		}
		decayed++
	}
	return decayed, nil
}

// Levels returns the agent's current level per category for tool gating.
// Categories with no row are absent; the selector treats those as level one.
func (s *Service) Levels(ctx context.Context, agentID string) (map[models.SkillCategory]int, error) {
	list, err := s.skills.ListByAgent(ctx, agentID)
	if err != nil {
		return nil, fmt.Errorf("skills: list: %w", err)
	}
	out := make(map[models.SkillCategory]int, len(list))
	for _, skill := range list {
		out[skill.Category] = skill.Level
	}
	return out, nil
}

// History returns the most recent changes for the agent, newest first.
func (s *Service) History(ctx context.Context, agentID string, limit int) ([]*models.SkillHistory, error) {
	return s.skills.ListHistory(ctx, agentID, limit)
}

// addHistory is best-effort; a lost ledger row never blocks progression.
func (s *Service) addHistory(ctx context.Context, skill *models.Skill, event models.SkillEvent, delta, from, to int, note string) {
	h := &models.SkillHistory{
		ID:        uuid.NewString(),
		SkillID:   skill.ID,
		AgentID:   skill.AgentID,
		Category:  skill.Category,
		Event:     event,
		XPDelta:   delta,
		FromLevel: from,
		ToLevel:   to,
		Note:      note,
		CreatedAt: s.now().UTC(),
	}
	if err := s.skills.AddHistory(ctx, h); err != nil {
		s.logger.Warn("skill history write failed",
			"agent_id", skill.AgentID, "category", skill.Category, "event", event, "error", err)
	}
}
