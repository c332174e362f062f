package test

import (
	"strings"

	"github.com/alexandrekaihara/lft/api/topology"
)

// InferRole returns the Role a fixture node should default to when a test
// builds a NodeDeclaration without setting Role explicitly: names starting
// with "sw" are Switches, "ctrl" are Controllers, anything else a Host. This
// mirrors the logical-name-prefix convention the topology declaration format
// itself no longer depends on (Role is always explicit there) and exists
// only so ordering-sensitive fixtures (switches must replay before hosts)
// stay readable without spelling out Role on every literal.
func InferRole(name string) topology.Role {
	switch {
	case strings.HasPrefix(name, "sw"):
		return topology.RoleSwitch
	case strings.HasPrefix(name, "ctrl"):
		return topology.RoleController
	default:
		return topology.RoleHost
	}
}
