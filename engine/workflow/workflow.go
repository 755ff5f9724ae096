// Package workflow defines the Workflow and WorkflowStep domain types, the
// DAG validation run before a graph is persisted, and the execution and
// schedule records a run produces.
package workflow

import (
	"strconv"
	"time"

	"github.com/compozy/orchestra/engine/core"
	"github.com/compozy/orchestra/engine/schema"
	validator "github.com/go-playground/validator/v10"
)

// RetryConfig is the per-step retry policy.
type RetryConfig struct {
	MaxRetries     int     `json:"maxRetries"     validate:"gte=0"`
	InitialDelayMs int     `json:"initialDelayMs" validate:"gt=0"`
	Multiplier     float64 `json:"multiplier"     validate:"gte=1"`
	MaxDelayMs     int     `json:"maxDelayMs"`
}

// ApprovalConfig is a step's approval gate configuration.
type ApprovalConfig struct {
	RequiredRole   string `json:"requiredRole,omitempty"`
	TimeoutMinutes int    `json:"timeoutMinutes,omitempty" validate:"omitempty,gt=0"`
}

const (
	defaultTimeoutSeconds = 300
	maxTimeoutSeconds     = 3600
)

// Step is a node of the workflow graph.
type Step struct {
	ID              core.ID         `json:"id"`
	WorkflowID      core.ID         `json:"workflow_id"`
	StepOrder       int             `json:"step_order"           validate:"gt=0"`
	Kind            core.StepKind   `json:"kind"                 validate:"required,oneof=AGENT_EXECUTION APPROVAL CONDITION PARALLEL"`
	AgentID         *core.ID        `json:"agent_id,omitempty"`
	DisplayName     string          `json:"display_name"`
	InputMapping    map[string]any  `json:"input_mapping"`
	OutputVariable  string          `json:"output_variable"`
	ConditionExpr   string          `json:"condition_expression"`
	DependsOn       []int           `json:"depends_on"`
	ApprovalConfig  *ApprovalConfig `json:"approval_config,omitempty"`
	RetryConfig     *RetryConfig    `json:"retry_config,omitempty"`
	TimeoutSeconds  int             `json:"timeout_seconds"`
}

// OutputKey returns the context key this step's result is stored under: its
// explicit output_variable, or a kind-based default by step_order --
// "approvalN" for approval gates so downstream conditions can read
// `${approvalN.approved}`, "stepN" for everything else.
func (s *Step) OutputKey() string {
	if s.OutputVariable != "" {
		return s.OutputVariable
	}
	if s.Kind == core.StepApproval {
		return "approval" + strconv.Itoa(s.StepOrder)
	}
	return "step" + strconv.Itoa(s.StepOrder)
}

// EffectiveTimeout returns TimeoutSeconds, defaulted and clamped to sane bounds.
func (s *Step) EffectiveTimeout() time.Duration {
	return s.TimeoutOrDefault(defaultTimeoutSeconds * time.Second)
}

// TimeoutOrDefault returns the step's timeout, substituting fallback when the
// step declares none, clamped to the engine-wide ceiling.
func (s *Step) TimeoutOrDefault(fallback time.Duration) time.Duration {
	d := time.Duration(s.TimeoutSeconds) * time.Second
	if s.TimeoutSeconds <= 0 {
		d = fallback
	}
	if ceiling := maxTimeoutSeconds * time.Second; d > ceiling {
		d = ceiling
	}
	return d
}

// Workflow is a named graph of steps. It carries no version number.
type Workflow struct {
	ID            core.ID             `json:"id"`
	Name          string              `json:"name"             validate:"required,min=1,max=128"`
	Description   string              `json:"description"`
	TriggerKind   core.TriggerKind    `json:"trigger_kind"     validate:"required,oneof=MANUAL SCHEDULED EVENT"`
	TriggerConfig map[string]any      `json:"trigger_config"`
	ExecutionMode core.ExecutionMode  `json:"execution_mode"   validate:"required,oneof=SYNC ASYNC"`
	InputSchema   schema.Schema       `json:"input_schema"`
	InterfaceKind core.InterfaceKind  `json:"interface_kind"`
	Public        bool                `json:"public"`
	Active        bool                `json:"active"`
	Steps         []*Step             `json:"steps"`
	CreatedAt     time.Time           `json:"created_at"`
	UpdatedAt     time.Time           `json:"updated_at"`
}

// New constructs a Workflow with a fresh ID, defaulted to active, synchronous,
// and manually triggered.
func New(name string) *Workflow {
	now := core.Now()
	return &Workflow{
		ID:            core.NewID(),
		Name:          name,
		TriggerKind:   core.TriggerManual,
		ExecutionMode: core.ExecutionModeSync,
		InterfaceKind: core.InterfaceAPI,
		Active:        true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

var validate = validator.New()

// Validate checks struct constraints plus the graph invariants: unique
// positive step orders, acyclic depends_on, and no same-wave write collisions.
func (w *Workflow) Validate() error {
	if err := validate.Struct(w); err != nil {
		return core.NewError(err, core.CodeValidation, map[string]any{"workflow": w.Name})
	}
	if err := w.validateStepOrders(); err != nil {
		return err
	}
	if err := w.validateAcyclic(); err != nil {
		return err
	}
	return w.validateNoWriteCollisions()
}

func (w *Workflow) validateStepOrders() error {
	seen := make(map[int]bool, len(w.Steps))
	for _, s := range w.Steps {
		if s.StepOrder <= 0 {
			return core.NewErrorf(core.CodeValidation, "step_order must be positive, got %d", s.StepOrder)
		}
		if seen[s.StepOrder] {
			return core.NewErrorf(core.CodeValidation, "duplicate step_order %d", s.StepOrder)
		}
		seen[s.StepOrder] = true
		if s.Kind == core.StepAgentExecution && s.AgentID == nil {
			return core.NewErrorf(core.CodeValidation, "step %d: agent_id required for AGENT_EXECUTION", s.StepOrder)
		}
	}
	return nil
}

// validateAcyclic runs a DFS over the depends_on adjacency (child -> parent
// step_orders) to reject cycles at load time.
func (w *Workflow) validateAcyclic() error {
	byOrder := make(map[int]*Step, len(w.Steps))
	for _, s := range w.Steps {
		byOrder[s.StepOrder] = s
	}
	const (
		white = 0
		gray  = 1
		black = 2
	)
	state := make(map[int]int, len(w.Steps))
	var visit func(order int) error
	visit = func(order int) error {
		switch state[order] {
		case gray:
			return core.NewErrorf(core.CodeValidation, "cyclic step dependency detected at step %d", order)
		case black:
			return nil
		}
		state[order] = gray
		step, ok := byOrder[order]
		if ok {
			for _, dep := range step.DependsOn {
				if err := visit(dep); err != nil {
					return err
				}
			}
		}
		state[order] = black
		return nil
	}
	for _, s := range w.Steps {
		if err := visit(s.StepOrder); err != nil {
			return err
		}
	}
	return nil
}

// validateNoWriteCollisions rejects workflows where two steps that could run
// in the same wave (neither depends on the other, transitively) write the
// same output key. Two concurrent steps writing one key would make the final
// context depend on scheduling order.
func (w *Workflow) validateNoWriteCollisions() error {
	ancestors := make(map[int]map[int]bool, len(w.Steps))
	byOrder := make(map[int]*Step, len(w.Steps))
	for _, s := range w.Steps {
		byOrder[s.StepOrder] = s
	}
	var ancestorsOf func(order int) map[int]bool
	ancestorsOf = func(order int) map[int]bool {
		if cached, ok := ancestors[order]; ok {
			return cached
		}
		result := map[int]bool{}
		step, ok := byOrder[order]
		if ok {
			for _, dep := range step.DependsOn {
				result[dep] = true
				for a := range ancestorsOf(dep) {
					result[a] = true
				}
			}
		}
		ancestors[order] = result
		return result
	}
	keyOwners := map[string][]int{}
	for _, s := range w.Steps {
		keyOwners[s.OutputKey()] = append(keyOwners[s.OutputKey()], s.StepOrder)
	}
	for key, owners := range keyOwners {
		for i := 0; i < len(owners); i++ {
			for j := i + 1; j < len(owners); j++ {
				a, b := owners[i], owners[j]
				aAncestors := ancestorsOf(a)
				bAncestors := ancestorsOf(b)
				if aAncestors[b] || bAncestors[a] {
					continue
				}
				return core.NewErrorf(
					core.CodeValidation,
					"steps %d and %d may run concurrently and both write output key %q",
					a, b, key,
				)
			}
		}
	}
	return nil
}

// ValidateTriggerData checks triggerData against the workflow's declared
// input schema, when one is present. Run before an execution row is opened
// so malformed trigger payloads surface as a Validation failure to the
// caller instead of a mid-run step error.
func (w *Workflow) ValidateTriggerData(triggerData map[string]any) error {
	if w.InputSchema == nil {
		return nil
	}
	return schema.ValidateAgainst(w.InputSchema, triggerData)
}

// EnsureActive returns WorkflowInactive when the workflow is disabled.
func (w *Workflow) EnsureActive() error {
	if !w.Active {
		return core.NewErrorf(core.CodeWorkflowInactive, "workflow %s is inactive", w.ID)
	}
	return nil
}

// EnsurePublic returns NotPublic unless the workflow's public flag is set.
func (w *Workflow) EnsurePublic() error {
	if !w.Public {
		return core.NewErrorf(core.CodeNotPublic, "workflow %s is not public", w.ID)
	}
	return nil
}
