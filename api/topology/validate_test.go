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
	"testing"

	. "github.com/onsi/gomega"
)

func validDeclaration() Declaration {
	return Declaration{
		Nodes: []NodeDeclaration{
			{Name: "sw1", Role: RoleSwitch, Operations: []Operation{
				{Op: TagSetController, ControllerIP: "10.0.0.5", ControllerPort: 6653, Protocol: "tcp"},
			}},
			{Name: "h1", Role: RoleHost, Operations: []Operation{
				{Op: TagConnect, Peer: "sw1", InterfaceName: "h1-eth0", PeerInterfaceName: "sw1-eth0"},
				{Op: TagSetIP, IP: "10.0.0.1", Mask: 24, Interface: "h1-eth0"},
			}},
		},
	}
}

func TestValidateAcceptsWellFormedDeclaration(t *testing.T) {
	g := NewWithT(t)
	d := validDeclaration()
	g.Expect(d.Validate()).To(Succeed())
}

func TestValidateRejectsEmptyNodes(t *testing.T) {
	g := NewWithT(t)
	d := Declaration{}
	g.Expect(d.Validate()).To(HaveOccurred())
}

func TestValidateRejectsDuplicateNodeName(t *testing.T) {
	g := NewWithT(t)
	d := Declaration{Nodes: []NodeDeclaration{
		{Name: "h1", Role: RoleHost},
		{Name: "h1", Role: RoleHost},
	}}
	g.Expect(d.Validate()).To(HaveOccurred())
}

func TestValidateRejectsUnknownRole(t *testing.T) {
	g := NewWithT(t)
	d := Declaration{Nodes: []NodeDeclaration{{Name: "r1", Role: Role("Router")}}}
	g.Expect(d.Validate()).To(HaveOccurred())
}

func TestValidateRejectsConnectToUndeclaredPeer(t *testing.T) {
	g := NewWithT(t)
	d := Declaration{Nodes: []NodeDeclaration{
		{Name: "h1", Role: RoleHost, Operations: []Operation{
			{Op: TagConnect, Peer: "ghost", InterfaceName: "eth0", PeerInterfaceName: "eth1"},
		}},
	}}
	g.Expect(d.Validate()).To(HaveOccurred())
}

func TestValidateRejectsOutOfRangeCIDRMask(t *testing.T) {
	g := NewWithT(t)
	d := Declaration{Nodes: []NodeDeclaration{
		{Name: "h1", Role: RoleHost, Operations: []Operation{
			{Op: TagSetIP, IP: "10.0.0.1", Mask: 33, Interface: "eth0"},
		}},
	}}
	g.Expect(d.Validate()).To(HaveOccurred())
}

func TestValidateRejectsSetControllerOnNonSwitch(t *testing.T) {
	g := NewWithT(t)
	d := Declaration{Nodes: []NodeDeclaration{
		{Name: "h1", Role: RoleHost, Operations: []Operation{
			{Op: TagSetController, ControllerIP: "10.0.0.5", ControllerPort: 6653, Protocol: "tcp"},
		}},
	}}
	g.Expect(d.Validate()).To(HaveOccurred())
}

func TestValidateRejectsInitControllerOnNonController(t *testing.T) {
	g := NewWithT(t)
	d := Declaration{Nodes: []NodeDeclaration{
		{Name: "sw1", Role: RoleSwitch, Operations: []Operation{
			{Op: TagInitController, Port: 6653, AppPath: "app.py"},
		}},
	}}
	g.Expect(d.Validate()).To(HaveOccurred())
}

func TestValidateRejectsUnknownOperationTag(t *testing.T) {
	g := NewWithT(t)
	d := Declaration{Nodes: []NodeDeclaration{
		{Name: "h1", Role: RoleHost, Operations: []Operation{{Op: OperationTag("teleport")}}},
	}}
	g.Expect(d.Validate()).To(HaveOccurred())
}
