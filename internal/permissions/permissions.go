// Package permissions decides what a user may do to a request right now.
// Authorization is two-layered: the role must grant the capability, and the
// user must hold the right structural position in the request's workflow
// (assignee of a currently active step). Role alone is never sufficient for
// approve/complete.
package permissions

import (
	"relay-os/backend/pkg/models"
)

// Capability is a role-level permission. The role table below is static
// configuration; structural eligibility is checked separately per request.
type Capability string

const (
	CapViewAllRequests Capability = "view_all_requests"
	CapApproveRequest  Capability = "approve_request"
	CapCompleteRequest Capability = "complete_request"
	CapCreateRequest   Capability = "create_request"
	CapEditWorkflow    Capability = "edit_workflow"
)

var roleCapabilities = map[models.Role][]Capability{
	models.RoleAdmin: {
		CapViewAllRequests,
		CapApproveRequest,
		CapCompleteRequest,
		CapCreateRequest,
		CapEditWorkflow,
	},
	models.RoleWorkspaceManager: {
		CapApproveRequest,
		CapCompleteRequest,
		CapCreateRequest,
		CapEditWorkflow,
	},
	models.RoleFinanceApprover: {
		CapApproveRequest,
		CapCreateRequest,
	},
	models.RoleUser: {
		CapCreateRequest,
	},
}

// HasCapability reports whether the user's role grants the capability.
func HasCapability(user *models.User, cap Capability) bool {
	if user == nil {
		return false
	}
	for _, c := range roleCapabilities[user.Role] {
		if c == cap {
			return true
		}
	}
	return false
}

// Evaluator evaluates request-level permission predicates. All predicates are
// pure; the workflow passed in must be the version the request is pinned to.
type Evaluator struct{}

// NewEvaluator returns a permission evaluator.
func NewEvaluator() Evaluator {
	return Evaluator{}
}

// CanView reports whether the user may see the request at all. Visibility is
// the widest predicate: admins, the creator, anyone assigned to any step of
// the pinned workflow, and listed observers. Terminal requests stay visible
// under the same rules.
func (Evaluator) CanView(user *models.User, req *models.Request, wf *models.Workflow) bool {
	if user == nil || req == nil {
		return false
	}
	if HasCapability(user, CapViewAllRequests) {
		return true
	}
	if req.CreatedBy == user.ID {
		return true
	}
	if req.Observer(user.ID) {
		return true
	}
	if wf != nil {
		for _, step := range wf.Steps {
			if step.AssignedTo(user.ID) {
				return true
			}
		}
	}
	return false
}

// CanApprove reports whether the user may approve or reject the request right
// now, on any of its currently active approval steps.
func (e Evaluator) CanApprove(user *models.User, req *models.Request, wf *models.Workflow) bool {
	if req == nil {
		return false
	}
	for _, key := range req.Execution.ActiveSteps {
		if e.CanApproveStep(user, req, wf, key) {
			return true
		}
	}
	return false
}

// CanApproveStep reports whether the user may approve or reject the named
// step. Requires the approve capability, forbids self-approval regardless of
// role, and requires the user to be an assignee of that specific step, which
// must be an active approval step. Being assigned to a sibling branch of a
// parallel gateway grants nothing here.
func (Evaluator) CanApproveStep(user *models.User, req *models.Request, wf *models.Workflow, stepKey string) bool {
	if user == nil || req == nil || wf == nil {
		return false
	}
	if req.Status.Terminal() {
		return false
	}
	if !HasCapability(user, CapApproveRequest) {
		return false
	}
	if req.CreatedBy == user.ID {
		return false
	}
	if !req.Execution.Active(stepKey) {
		return false
	}
	step, ok := wf.Step(stepKey)
	if !ok || step.Type != models.StepTypeApproval {
		return false
	}
	return step.AssignedTo(user.ID)
}

// CanComplete reports whether the user may mark any currently active action
// step done.
func (e Evaluator) CanComplete(user *models.User, req *models.Request, wf *models.Workflow) bool {
	if req == nil {
		return false
	}
	for _, key := range req.Execution.ActiveSteps {
		if e.CanCompleteStep(user, req, wf, key) {
			return true
		}
	}
	return false
}

// CanCompleteStep reports whether the user may mark the named step done. The
// step must be an active action step and the user its assignee.
func (Evaluator) CanCompleteStep(user *models.User, req *models.Request, wf *models.Workflow, stepKey string) bool {
	if user == nil || req == nil || wf == nil {
		return false
	}
	if req.Status.Terminal() {
		return false
	}
	if !HasCapability(user, CapCompleteRequest) {
		return false
	}
	if !req.Execution.Active(stepKey) {
		return false
	}
	step, ok := wf.Step(stepKey)
	if !ok || step.Type != models.StepTypeAction {
		return false
	}
	return step.Assignee == user.ID
}

// CanEdit reports whether the user may change the request's context or cancel
// it. Admins always may while the request is running; the creator only while
// the request is still at its start step or an approver has asked for
// changes. Terminal requests are never editable.
func (Evaluator) CanEdit(user *models.User, req *models.Request, wf *models.Workflow) bool {
	if user == nil || req == nil {
		return false
	}
	if req.Status.Terminal() {
		return false
	}
	if user.IsAdmin() {
		return true
	}
	if req.CreatedBy != user.ID {
		return false
	}
	if req.ChangesRequested {
		return true
	}
	return wf != nil && req.Execution.Active(wf.StartKey)
}

// CanCancel mirrors CanEdit: the creator or an admin may cancel a running
// request.
func (e Evaluator) CanCancel(user *models.User, req *models.Request, wf *models.Workflow) bool {
	if user == nil || req == nil || req.Status.Terminal() {
		return false
	}
	if user.IsAdmin() {
		return true
	}
	return req.CreatedBy == user.ID
}

// CanComment allows commenting to anyone who can view the request, including
// on terminal requests. Comments are the one mutation terminal requests
// accept.
func (e Evaluator) CanComment(user *models.User, req *models.Request, wf *models.Workflow) bool {
	return e.CanView(user, req, wf)
}

// CanCreateRequest reports whether the user may submit requests against the
// workflow. Archived workflows accept no new requests for anyone.
func (Evaluator) CanCreateRequest(user *models.User, wf *models.Workflow) bool {
	if user == nil || wf == nil {
		return false
	}
	if wf.Status != models.WorkflowStatusPublished {
		return false
	}
	return HasCapability(user, CapCreateRequest)
}

// CanEditWorkflow reports whether the user may author workflow definitions.
func (Evaluator) CanEditWorkflow(user *models.User) bool {
	return HasCapability(user, CapEditWorkflow)
}

// FilterVisible returns the subset of requests the user may view. Workflows
// are looked up by id from the supplied map; a missing workflow narrows
// visibility rather than failing.
func (e Evaluator) FilterVisible(user *models.User, reqs []*models.Request, workflows map[string]*models.Workflow) []*models.Request {
	if user == nil {
		return nil
	}
	out := make([]*models.Request, 0, len(reqs))
	for _, req := range reqs {
		if e.CanView(user, req, workflows[req.WorkflowID]) {
			out = append(out, req)
		}
	}
	return out
}
