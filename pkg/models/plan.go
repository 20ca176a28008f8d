package models

import "time"

// PlanStatus is the lifecycle of a decomposed plan.
type PlanStatus string

const (
	PlanDraft     PlanStatus = "draft"
	PlanRunning   PlanStatus = "running"
	PlanCompleted PlanStatus = "completed"
	PlanFailed    PlanStatus = "failed"
	PlanAborted   PlanStatus = "aborted"
	PlanWaiting   PlanStatus = "waiting_human"
)

// StepStatus is the lifecycle of one plan step.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
	StepBlocked   StepStatus = "blocked"
	StepSkipped   StepStatus = "skipped"
)

// MaxPlanSteps caps decomposition output.
const MaxPlanSteps = 6

// Plan is a decomposed goal: a DAG of steps, each run by a bounded mini
// reasoning loop, finished by a synthesis step that composes the results.
type Plan struct {
	ID      string     `json:"id"`
	AgentID string     `json:"agent_id"`
	UserID  string     `json:"user_id"`
	Goal    string     `json:"goal"`
	Status  PlanStatus `json:"status"`

	EstimatedComplexity string     `json:"estimated_complexity,omitempty"`
	Steps               []PlanStep `json:"steps"`
	SynthesisStep       string     `json:"synthesis_step,omitempty"`

	// ExecutionOrder is the topological sort of step IDs; ParallelGroups
	// are the waves of steps whose dependencies are all satisfied together.
	ExecutionOrder []string   `json:"execution_order,omitempty"`
	ParallelGroups [][]string `json:"parallel_groups,omitempty"`

	// RootTaskID is the task row representing the plan as a whole.
	RootTaskID string `json:"root_task_id,omitempty"`

	Summary   string    `json:"summary,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PlanStep is one node of the plan DAG. DependsOn references other steps
// by their ID.
type PlanStep struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`

	RequiredTools       []string `json:"required_tools,omitempty"`
	RequiredSkills      []string `json:"required_skills,omitempty"`
	DependsOn           []string `json:"depends_on,omitempty"`
	EstimatedIterations int      `json:"estimated_iterations,omitempty"`
	CanParallelize      bool     `json:"can_parallelize,omitempty"`
	NeedsHuman          bool     `json:"needs_human,omitempty"`

	// TaskID is the task row tracking this step once execution starts.
	TaskID string     `json:"task_id,omitempty"`
	Status StepStatus `json:"status"`
	Result string     `json:"result,omitempty"`
	Error  string     `json:"error,omitempty"`
}

func (p *Plan) step(id string) *PlanStep {
	for i := range p.Steps {
		if p.Steps[i].ID == id {
			return &p.Steps[i]
		}
	}
	return nil
}

// Ready reports whether every dependency of the named step is completed.
func (p *Plan) Ready(id string) bool {
	s := p.step(id)
	if s == nil {
		return false
	}
	for _, d := range s.DependsOn {
		dep := p.step(d)
		if dep == nil || dep.Status != StepCompleted {
			return false
		}
	}
	return true
}

// NextReady returns the first pending step whose dependencies are all
// completed, following ExecutionOrder when set, or nil when none is
// runnable.
func (p *Plan) NextReady() *PlanStep {
	order := p.ExecutionOrder
	if len(order) == 0 {
		order = make([]string, len(p.Steps))
		for i := range p.Steps {
			order[i] = p.Steps[i].ID
		}
	}
	for _, id := range order {
		s := p.step(id)
		if s != nil && s.Status == StepPending && p.Ready(id) {
			return s
		}
	}
	return nil
}

// Done reports whether every step reached a terminal state.
func (p *Plan) Done() bool {
	for i := range p.Steps {
		switch p.Steps[i].Status {
		case StepCompleted, StepFailed, StepBlocked, StepSkipped:
		default:
			return false
		}
	}
	return true
}

// TopoSort orders step IDs so dependencies precede dependents and groups
// them into waves of simultaneously-ready steps. Returns false when the
// graph has a cycle or a dangling dependency.
func (p *Plan) TopoSort() (order []string, groups [][]string, ok bool) {
	known := make(map[string]bool, len(p.Steps))
	for i := range p.Steps {
		known[p.Steps[i].ID] = true
	}
	for i := range p.Steps {
		for _, d := range p.Steps[i].DependsOn {
			if !known[d] {
				return nil, nil, false
			}
		}
	}
	done := make(map[string]bool, len(p.Steps))
	for len(order) < len(p.Steps) {
		var wave []string
		for i := range p.Steps {
			s := &p.Steps[i]
			if done[s.ID] {
				continue
			}
			ready := true
			for _, d := range s.DependsOn {
				if !done[d] {
					ready = false
					break
				}
			}
			if ready {
				wave = append(wave, s.ID)
			}
		}
		if len(wave) == 0 {
			return nil, nil, false
		}
		for _, id := range wave {
			done[id] = true
		}
		order = append(order, wave...)
		groups = append(groups, wave)
	}
	return order, groups, true
}
