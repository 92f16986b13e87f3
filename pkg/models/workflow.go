package models

import (
	"time"
)

// WorkflowStatus represents the publication state of a workflow definition.
type WorkflowStatus string

const (
	WorkflowStatusDraft     WorkflowStatus = "draft"
	WorkflowStatusPublished WorkflowStatus = "published"
	WorkflowStatusArchived  WorkflowStatus = "archived"
)

// StepType discriminates the step variants of a workflow graph.
type StepType string

const (
	StepTypeApproval         StepType = "approval"
	StepTypeAction           StepType = "action"
	StepTypeGatewayExclusive StepType = "gateway_exclusive"
	StepTypeGatewayParallel  StepType = "gateway_parallel"
	StepTypeSystemTask       StepType = "system_task"
)

// ApprovalPolicy controls how many assignees of an approval step must approve
// before the step resolves.
type ApprovalPolicy string

const (
	// ApprovalPolicyAny resolves the step on the first approval. Default.
	ApprovalPolicyAny ApprovalPolicy = "any"
	// ApprovalPolicyAll requires every assignee to approve.
	ApprovalPolicyAll ApprovalPolicy = "all"
)

// SystemAction is the effect a system_task step performs.
type SystemAction string

const (
	SystemActionWebhook     SystemAction = "webhook"
	SystemActionEmail       SystemAction = "email"
	SystemActionAutoApprove SystemAction = "auto_approve"
	SystemActionDelay       SystemAction = "delay"
)

// FieldType enumerates the value types a workflow field accepts. Carried over
// from the form model the workspace builder produces.
type FieldType string

const (
	FieldTypeString  FieldType = "string"
	FieldTypeText    FieldType = "text"
	FieldTypeAmount  FieldType = "amount"
	FieldTypeInteger FieldType = "integer"
	FieldTypeDecimal FieldType = "decimal"
	FieldTypeList    FieldType = "list"
	FieldTypeUser    FieldType = "user"
	FieldTypeEntity  FieldType = "entity"
)

// FieldDefinition describes a single input field of a workflow. Field keys are
// unique within a workflow and Position gives the display order.
type FieldDefinition struct {
	Key         string    `json:"key"`
	Label       string    `json:"label"`
	Type        FieldType `json:"type"`
	Description string    `json:"description,omitempty"`
	Required    bool      `json:"required"`
	Position    int       `json:"position"`
	Options     []string  `json:"options,omitempty"`
}

// Branch is a single outgoing edge of a gateway step. Exclusive gateways
// evaluate Condition against the request context; parallel gateways activate
// every branch and leave Condition empty.
type Branch struct {
	Condition string `json:"condition,omitempty"`
	To        string `json:"to"`
}

// StepDefinition is one node of the workflow graph. The populated fields
// depend on Type:
//
//	approval:          Assignees, Policy, Next
//	action:            Assignee, Next
//	gateway_exclusive: Branches (condition+to), Next as fallback
//	gateway_parallel:  Branches (to only), Join, Next after the join
//	system_task:       Action, Config, Next
//
// An empty Next means the path terminates and the request completes once no
// other steps remain active.
type StepDefinition struct {
	Type      StepType       `json:"type"`
	Name      string         `json:"name,omitempty"`
	Assignees []string       `json:"assignees,omitempty"`
	Policy    ApprovalPolicy `json:"policy,omitempty"`
	Assignee  string         `json:"assignee,omitempty"`
	Branches  []Branch       `json:"branches,omitempty"`
	Join      []string       `json:"join,omitempty"`
	Action    SystemAction   `json:"action,omitempty"`
	Config    map[string]any `json:"config,omitempty"`
	Next      string         `json:"next,omitempty"`
}

// AssignedTo reports whether the given user is an assignee of this step.
func (s StepDefinition) AssignedTo(userID string) bool {
	if s.Type == StepTypeAction {
		return s.Assignee == userID
	}
	for _, id := range s.Assignees {
		if id == userID {
			return true
		}
	}
	return false
}

// Workflow is a versioned definition of a request pipeline. WorkflowKey is the
// stable concept id shared by every version; ID identifies one version.
// Published workflows are immutable: edits clone a new draft version and
// in-flight requests stay pinned to the version they were created against.
type Workflow struct {
	ID          string                    `json:"id" db:"id"`
	WorkflowKey string                    `json:"workflow_key" db:"workflow_key"`
	Version     int                       `json:"version" db:"version"`
	IsLatest    bool                      `json:"is_latest" db:"is_latest"`
	Name        string                    `json:"name" db:"name"`
	Description string                    `json:"description" db:"description"`
	Status      WorkflowStatus            `json:"status" db:"status"`
	StartKey    string                    `json:"start_key" db:"start_key"`
	Fields      []FieldDefinition         `json:"fields"`
	Steps       map[string]StepDefinition `json:"steps"`
	CreatedBy   string                    `json:"created_by" db:"created_by"`
	CreatedAt   time.Time                 `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time                 `json:"updated_at" db:"updated_at"`
}

// Step returns the step definition for key.
func (w *Workflow) Step(key string) (StepDefinition, bool) {
	s, ok := w.Steps[key]
	return s, ok
}

// FieldByKey returns the field definition for key.
func (w *Workflow) FieldByKey(key string) (FieldDefinition, bool) {
	for _, f := range w.Fields {
		if f.Key == key {
			return f, true
		}
	}
	return FieldDefinition{}, false
}
