// Copyright 2022 SAP SE or an SAP affiliate company
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package topology

import (
	"fmt"
	"strings"

	multierr "github.com/hashicorp/go-multierror"
)

// Validate checks that d is well-formed before the driver program
// instantiates anything: every node has a name and a recognized role, node
// names are unique, every setIp/addRoute/connectToInternet operation
// carries a usable CIDR mask, every connect operation's peer is itself a
// declared node, and setController/initController are only declared on the
// role that can run them. internal/util.Validator is not reused here: that
// package itself depends on this one for Role/Operation, and reusing it
// would create an import cycle.
func (d *Declaration) Validate() error {
	var errs error

	if len(d.Nodes) == 0 {
		errs = multierr.Append(errs, fmt.Errorf("nodes must not be empty"))
	}

	declared := make(map[string]bool, len(d.Nodes))
	for _, n := range d.Nodes {
		declared[n.Name] = true
	}

	seen := make(map[string]bool, len(d.Nodes))
	for i, n := range d.Nodes {
		nameKey := fmt.Sprintf("nodes[%d].name", i)
		if strings.TrimSpace(n.Name) == "" {
			errs = multierr.Append(errs, fmt.Errorf("%s must not be empty", nameKey))
		} else if seen[n.Name] {
			errs = multierr.Append(errs, fmt.Errorf("duplicate node name %q", n.Name))
		}
		seen[n.Name] = true

		if !isKnownRole(n.Role) {
			errs = multierr.Append(errs, fmt.Errorf("nodes[%d].role: %q is not a recognized role", i, n.Role))
		}

		for j, op := range n.Operations {
			opKey := fmt.Sprintf("nodes[%d].operations[%d]", i, j)
			errs = validateOperation(errs, opKey, n, op, declared)
		}
	}
	return errs
}

func isKnownRole(r Role) bool {
	switch r {
	case RoleHost, RoleSwitch, RoleController:
		return true
	default:
		return false
	}
}

func validateCIDRMask(errs error, key string, mask int) error {
	if mask < 1 || mask > 32 {
		return multierr.Append(errs, fmt.Errorf("%s: mask %d must be between 1 and 32", key, mask))
	}
	return errs
}

func validateOperation(errs error, key string, n NodeDeclaration, op Operation, declared map[string]bool) error {
	switch op.Op {
	case TagConnect:
		if strings.TrimSpace(op.Peer) == "" {
			return multierr.Append(errs, fmt.Errorf("%s.peer must not be empty", key))
		}
		if !declared[op.Peer] {
			return multierr.Append(errs, fmt.Errorf("%s: peer %q is not a declared node", key, op.Peer))
		}
		return errs
	case TagSetIP, TagAddRoute, TagConnectToInternet:
		return validateCIDRMask(errs, key+".mask", op.Mask)
	case TagSetController:
		if n.Role != RoleSwitch {
			return multierr.Append(errs, fmt.Errorf("%s: setController is only valid on a Switch node, node %s has role %s", key, n.Name, n.Role))
		}
		return errs
	case TagInitController:
		if n.Role != RoleController {
			return multierr.Append(errs, fmt.Errorf("%s: initController is only valid on a Controller node, node %s has role %s", key, n.Name, n.Role))
		}
		return errs
	case TagSetDefaultGateway:
		return errs
	default:
		return multierr.Append(errs, fmt.Errorf("%s: unrecognized operation tag %q", key, op.Op))
	}
}
