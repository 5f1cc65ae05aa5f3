package lifecycle

import (
	"engagement-engine/internal/models"
)

// Role identifies who is attempting a transition.
type Role string

const (
	RoleContractor Role = "contractor"
	RoleAdmin      Role = "admin"
	RoleBilling    Role = "billing"
)

// transitionRule lists who may perform a transition and whether the actor
// must be the claiming contractor.
type transitionRule struct {
	roles        []Role
	assigneeOnly bool // contractor actors must match assigned_to
}

// transitions is the exhaustive table for UpdateStatus. The open ->
// requested edge is deliberately absent: claims go through AcceptJob so the
// compare-and-set and the eligibility gate cannot be bypassed. The edges
// back to open are cancellations; they clear the claim entirely.
var transitions = map[models.JobStatus]map[models.JobStatus]transitionRule{
	models.StatusRequested: {
		models.StatusAssigned: {roles: []Role{RoleAdmin}},
		models.StatusOpen:     {roles: []Role{RoleAdmin, RoleContractor}, assigneeOnly: true},
	},
	models.StatusAssigned: {
		models.StatusPickedUp: {roles: []Role{RoleContractor}, assigneeOnly: true},
		models.StatusOpen:     {roles: []Role{RoleAdmin, RoleContractor}, assigneeOnly: true},
	},
	models.StatusPickedUp: {
		models.StatusDelivered: {roles: []Role{RoleContractor}, assigneeOnly: true},
	},
	models.StatusDelivered: {
		models.StatusPaid: {roles: []Role{RoleAdmin, RoleBilling}},
	},
}

// ruleFor looks up the transition rule, or nil when the edge is not listed.
func ruleFor(from, to models.JobStatus) *transitionRule {
	edges, ok := transitions[from]
	if !ok {
		return nil
	}
	rule, ok := edges[to]
	if !ok {
		return nil
	}
	return &rule
}

func (r *transitionRule) allows(role Role) bool {
	for _, allowed := range r.roles {
		if allowed == role {
			return true
		}
	}
	return false
}
