package ice

// RemoteRole is the role asserted by an inbound Binding request's
// ICE-CONTROLLING/ICE-CONTROLLED attribute.
type RemoteRole int

// Recognized remote roles.
const (
	RemoteRoleControlling RemoteRole = iota
	RemoteRoleControlled
)

// RoleAction is the outcome of arbitrating a role conflict (spec.md
// section 4.6).
type RoleAction int

// Recognized role-arbitration outcomes.
const (
	// RoleActionNone means the request's asserted role does not conflict
	// with the local role; proceed normally.
	RoleActionNone RoleAction = iota
	// RoleActionSwitchRole means the local agent switches roles before
	// proceeding normally. Agent.switchRole flips the role only; pair
	// priorities already computed are kept.
	RoleActionSwitchRole
	// RoleActionReject487 means the local agent keeps its role and must
	// reply with a 487 (Role Conflict) error response instead of
	// processing the check.
	RoleActionReject487
)

// ResolveRoleConflict implements RFC 8445 section 7.3.1.1's table: given
// the local agent's current role and tie-breaker, and the role/tie-
// breaker asserted by an inbound Binding request, decide whether to
// proceed, switch roles, or reject with 487.
func ResolveRoleConflict(localControlling bool, localTieBreaker uint64, remoteRole RemoteRole, remoteTieBreaker uint64) RoleAction {
	switch {
	case localControlling && remoteRole == RemoteRoleControlling:
		if localTieBreaker >= remoteTieBreaker {
			return RoleActionReject487
		}
		return RoleActionSwitchRole
	case !localControlling && remoteRole == RemoteRoleControlled:
		if localTieBreaker >= remoteTieBreaker {
			return RoleActionSwitchRole
		}
		return RoleActionReject487
	default:
		return RoleActionNone
	}
}
