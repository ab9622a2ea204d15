package engine

import (
	"github.com/example/nurse-dispatch/internal/models"
)

// Action is the closed set of actor-initiated request operations.
type Action interface {
	Kind() ActionKind
}

type ActionKind string

const (
	KindAssign   ActionKind = "assign"
	KindAccept   ActionKind = "accept"
	KindComplete ActionKind = "complete"
	KindCancel   ActionKind = "cancel"
)

// Assign pins a specific nurse onto a pending request (admin-driven,
// typically fed by matching proposals).
type Assign struct{ NurseID string }

// Accept lets a nurse claim a pending request for themselves.
type Accept struct{}

// Complete closes out an assigned visit.
type Complete struct{}

// Cancel withdraws a request that has not reached a terminal state.
type Cancel struct{}

func (Assign) Kind() ActionKind   { return KindAssign }
func (Accept) Kind() ActionKind   { return KindAccept }
func (Complete) Kind() ActionKind { return KindComplete }
func (Cancel) Kind() ActionKind   { return KindCancel }

// authorize is checked before edge legality, so an actor who may never
// perform the action sees Forbidden even when the state would also have
// rejected it.
func authorize(actor models.Actor, req models.ServiceRequest, act Action) bool {
	switch act.Kind() {
	case KindAssign:
		return actor.Role == models.RoleAdmin
	case KindAccept:
		return actor.Role == models.RoleNurse
	case KindComplete:
		if actor.Role == models.RoleAdmin {
			return true
		}
		return req.AssignedNurseID != "" && actor.UserID == req.AssignedNurseID
	case KindCancel:
		return actor.Role == models.RoleAdmin || actor.UserID == req.PatientID
	}
	return false
}

type edgeKey struct {
	from models.RequestState
	kind ActionKind
}

type edge struct {
	to    models.RequestState
	apply func(models.ServiceRequest, models.Actor, Action) models.ServiceRequest
}

// transitions is the whole state machine as data. Anything not listed is an
// invalid transition; completed and cancelled have no outgoing edges.
var transitions = map[edgeKey]edge{
	{models.StatePending, KindAssign}: {
		to: models.StateAssigned,
		apply: func(r models.ServiceRequest, _ models.Actor, act Action) models.ServiceRequest {
			r.AssignedNurseID = act.(Assign).NurseID
			return r
		},
	},
	{models.StatePending, KindAccept}: {
		to: models.StateAssigned,
		apply: func(r models.ServiceRequest, actor models.Actor, _ Action) models.ServiceRequest {
			r.AssignedNurseID = actor.UserID
			return r
		},
	},
	{models.StateAssigned, KindComplete}: {
		to: models.StateCompleted,
	},
	{models.StatePending, KindCancel}: {
		to: models.StateCancelled,
	},
	{models.StateAssigned, KindCancel}: {
		to: models.StateCancelled,
		apply: func(r models.ServiceRequest, _ models.Actor, _ Action) models.ServiceRequest {
			// cancelled requests carry no assignee
			r.AssignedNurseID = ""
			return r
		},
	},
}
