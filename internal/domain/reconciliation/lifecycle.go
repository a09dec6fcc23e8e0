package reconciliation

import (
	"stockrecon/internal/core/apperror"
)

// Action is a command applied to a document.
type Action string

const (
	ActionEdit                Action = "edit"
	ActionDelete              Action = "delete"
	ActionSubmit              Action = "submit"
	ActionApprove             Action = "approve"
	ActionReject              Action = "reject"
	ActionReturnForCorrection Action = "return_for_correction"
	ActionReopen              Action = "reopen"
	ActionAcceptVariance      Action = "accept_variance"
	ActionRevise              Action = "revise"
)

// Workflow maps a status and an action to the resulting status.
// Actions that do not change status (edit, delete, revise) map to themselves.
type Workflow map[Status]map[Action]Status

// Next returns the status reached by applying action in from.
func (w Workflow) Next(from Status, action Action) (Status, bool) {
	to, ok := w[from][action]
	return to, ok
}

// Allowed lists the actions legal in status.
func (w Workflow) Allowed(status Status) []Action {
	actions := make([]Action, 0, len(w[status]))
	for _, a := range orderedActions {
		if _, ok := w[status][a]; ok {
			actions = append(actions, a)
		}
	}
	return actions
}

// Transition validates action against the table.
func (w Workflow) Transition(from Status, action Action) (Status, error) {
	to, ok := w.Next(from, action)
	if !ok {
		return from, apperror.NewInvalidStateTransition(EntityName, string(from), string(action))
	}
	return to, nil
}

var orderedActions = []Action{
	ActionEdit, ActionDelete, ActionSubmit, ActionApprove, ActionReject,
	ActionReturnForCorrection, ActionReopen, ActionAcceptVariance, ActionRevise,
}

func baseWorkflow() Workflow {
	return Workflow{
		StatusDraft: {
			ActionEdit:   StatusDraft,
			ActionDelete: StatusDraft,
			ActionSubmit: StatusSubmitted,
		},
		StatusSubmitted: {
			ActionApprove:             StatusApproved,
			ActionReject:              StatusRejected,
			ActionReturnForCorrection: StatusReturnedForCorrection,
		},
		StatusReturnedForCorrection: {
			ActionEdit:   StatusReturnedForCorrection,
			ActionSubmit: StatusSubmitted,
			ActionReopen: StatusDraft,
		},
		StatusRejected: {
			ActionRevise: StatusRejected,
		},
		StatusApproved:         {},
		StatusVarianceAccepted: {},
	}
}

// physicalInventoryWorkflow allows an approved count to be sent back or
// closed by accepting its variance.
func physicalInventoryWorkflow() Workflow {
	w := baseWorkflow()
	w[StatusApproved] = map[Action]Status{
		ActionReturnForCorrection: StatusReturnedForCorrection,
		ActionAcceptVariance:      StatusVarianceAccepted,
	}
	return w
}

func stockAdjustmentWorkflow() Workflow {
	return baseWorkflow()
}
