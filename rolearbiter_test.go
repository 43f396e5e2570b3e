package ice

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolveRoleConflictBothControllingHigherTieBreakerWins(t *testing.T) {
	// local controlling, remote asserts controlling too: whoever has the
	// higher tie-breaker stays controlling (RFC 8445 section 7.3.1.1).
	assert.Equal(t, RoleActionReject487, ResolveRoleConflict(true, 100, RemoteRoleControlling, 50))
	assert.Equal(t, RoleActionSwitchRole, ResolveRoleConflict(true, 50, RemoteRoleControlling, 100))
}

func TestResolveRoleConflictBothControlledHigherTieBreakerWins(t *testing.T) {
	assert.Equal(t, RoleActionSwitchRole, ResolveRoleConflict(false, 100, RemoteRoleControlled, 50))
	assert.Equal(t, RoleActionReject487, ResolveRoleConflict(false, 50, RemoteRoleControlled, 100))
}

func TestResolveRoleConflictEqualTieBreakerCountsAsLocalWin(t *testing.T) {
	// a tie counts as the local tie-breaker winning: the controlling side
	// keeps its role and rejects, the controlled side switches to
	// controlling.
	assert.Equal(t, RoleActionReject487, ResolveRoleConflict(true, 42, RemoteRoleControlling, 42))
	assert.Equal(t, RoleActionSwitchRole, ResolveRoleConflict(false, 42, RemoteRoleControlled, 42))
}

func TestResolveRoleConflictNoConflictWhenRolesDiffer(t *testing.T) {
	assert.Equal(t, RoleActionNone, ResolveRoleConflict(true, 1, RemoteRoleControlled, 2))
	assert.Equal(t, RoleActionNone, ResolveRoleConflict(false, 1, RemoteRoleControlling, 2))
}
