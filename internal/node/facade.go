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

package node

import (
	"context"
	"fmt"

	"github.com/alexandrekaihara/lft/api/topology"
	"github.com/alexandrekaihara/lft/internal/lfterrors"
)

// Facade is the topology verb surface every backend must present. The
// cluster backend's *Node is the reference implementation; a
// container-runtime backend presents the same interface so the Driver
// Selector can hand either one to the rest of the system interchangeably.
type Facade interface {
	Name() string
	PodName() string
	Role() topology.Role

	Instantiate(ctx context.Context) error
	Connect(ctx context.Context, peer Facade, ifaceName, peerIfaceName string, reconnect bool) error
	ConnectPort(ctx context.Context, iface string) error
	SetIP(ctx context.Context, ip string, mask int, iface string, reconnect bool) error
	SetDefaultGateway(ctx context.Context, gatewayIP, interfaceName string, reconnect bool) error
	AddRoute(ctx context.Context, ip string, mask int, interfaceName string, reconnect bool) error
	ConnectToInternet(ctx context.Context, ip string, mask int, nodeIface, hostIface string, reconnect bool) error
	SetController(ctx context.Context, controllerIP string, controllerPort int, protocol string, reconnect bool) error
	InitController(ctx context.Context, ip string, port int, appPath string, reconnect bool) error
	IP(ctx context.Context) (string, error)

	Operations(ctx context.Context) ([]topology.Operation, error)
	EnsureBridge(ctx context.Context) error
}

var _ Facade = (*Node)(nil)

// PeerResolver looks up another Facade by its logical node name. Both the
// driver program (applying a node's initial operations) and the reconciler
// (replaying a node's journal) use one to resolve a "connect" operation's
// peer without depending on each other's bookkeeping.
type PeerResolver func(name string) (Facade, error)

// Apply dispatches a single Operation to the Facade verb that produced it.
// This is the fixed finite mapping spec.md §4.5 describes: the reconciler
// replays a journal through it with reconnect=true, and the driver program
// runs a node's initial declared operations through it with reconnect=false.
func Apply(ctx context.Context, n Facade, resolvePeer PeerResolver, op topology.Operation, reconnect bool) error {
	switch op.Op {
	case topology.TagConnect:
		peer, err := resolvePeer(op.Peer)
		if err != nil {
			return err
		}
		return n.Connect(ctx, peer, op.InterfaceName, op.PeerInterfaceName, reconnect)
	case topology.TagSetIP:
		return n.SetIP(ctx, op.IP, op.Mask, op.Interface, reconnect)
	case topology.TagSetDefaultGateway:
		return n.SetDefaultGateway(ctx, op.GatewayIP, op.IfacePeer, reconnect)
	case topology.TagAddRoute:
		return n.AddRoute(ctx, op.IP, op.Mask, op.RouteIface, reconnect)
	case topology.TagSetController:
		return n.SetController(ctx, op.ControllerIP, op.ControllerPort, op.Protocol, reconnect)
	case topology.TagInitController:
		return n.InitController(ctx, op.IP, op.Port, op.AppPath, reconnect)
	case topology.TagConnectToInternet:
		return n.ConnectToInternet(ctx, op.IP, op.Mask, op.NodeIface, op.HostIface, reconnect)
	default:
		return &lfterrors.LftError{Code: lfterrors.ErrUnknownOperation, Message: fmt.Sprintf("unrecognized operation tag %q for node %s", op.Op, n.Name())}
	}
}
