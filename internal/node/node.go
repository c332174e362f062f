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

// Package node implements the Node Facade: the logical network endpoint
// that wraps a single-replica StatefulSet/pod and issues the Effector
// primitives that build the emulated topology. Every mutating verb takes a
// reconnect flag; reconnect=true performs the live effect without
// appending a new journal entry, which is how the reconciler replays a
// node's recorded operations after its pod is recreated.
package node

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-logr/logr"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"

	"github.com/alexandrekaihara/lft/api/topology"
	"github.com/alexandrekaihara/lft/internal/effector"
	"github.com/alexandrekaihara/lft/internal/journal"
	"github.com/alexandrekaihara/lft/internal/lfterrors"
	"github.com/alexandrekaihara/lft/internal/util"
)

// PidResolver resolves the host PID backing a pod's single container.
// *identity.Resolver satisfies this; tests supply a fake.
type PidResolver interface {
	PidOf(ctx context.Context, podName string) (int, error)
}

// instantiateTimeout bounds how long Instantiate waits for a freshly
// created pod to report Running and Ready.
const instantiateTimeout = 600 * time.Second

// instantiatePollInterval is how often Instantiate polls pod status while
// waiting for readiness.
const instantiatePollInterval = time.Second

// controllerStartTimeout bounds how long InitController waits for the Ryu
// process to start listening on its OpenFlow port.
const controllerStartTimeout = 600 * time.Second

// Node is a single logical network endpoint: a Host, a Switch, or an SDN
// Controller, materialized as one pod behind a single-replica StatefulSet.
type Node struct {
	Declaration topology.NodeDeclaration
	Namespace   string

	workloadName string
	podName      string

	clientset kubernetes.Interface
	effector  effector.Effector
	resolver  PidResolver
	journal   *journal.Journal
	log       logr.Logger
}

// New builds a Node Facade for decl, bound to the given namespace and
// collaborators. It does not instantiate the underlying pod; call
// Instantiate for that.
func New(decl topology.NodeDeclaration, namespace string, clientset kubernetes.Interface, eff effector.Effector, resolver PidResolver, j *journal.Journal, log logr.Logger) *Node {
	return &Node{
		Declaration:  decl,
		Namespace:    namespace,
		workloadName: decl.Name,
		podName:      decl.Name + "-0",
		clientset:    clientset,
		effector:     eff,
		resolver:     resolver,
		journal:      j,
		log:          log.WithName("node").WithValues("name", decl.Name, "role", decl.Role),
	}
}

// Name returns the logical node name (without the "-0" pod suffix).
func (n *Node) Name() string {
	return n.workloadName
}

// PodName returns the name of the node's single pod.
func (n *Node) PodName() string {
	return n.podName
}

// Role returns the node's Role.
func (n *Node) Role() topology.Role {
	return n.Declaration.Role
}

// Instantiate creates the node's StatefulSet and waits for its pod to
// become Running and Ready. Switches additionally create their Open
// vSwitch bridge once the pod is up.
func (n *Node) Instantiate(ctx context.Context) error {
	manifest := n.buildStatefulSetManifest()
	if _, err := n.clientset.AppsV1().StatefulSets(n.Namespace).Create(ctx, manifest, metav1.CreateOptions{}); err != nil {
		return lfterrors.WrapError(err, lfterrors.ErrEffector, fmt.Sprintf("failed to create statefulset for node %s", n.workloadName))
	}
	if err := n.waitUntilReady(ctx); err != nil {
		return err
	}
	if n.Role() == topology.RoleSwitch {
		return n.createBridge(ctx)
	}
	return nil
}

func (n *Node) waitUntilReady(ctx context.Context) error {
	ready := util.RetryUntilPredicate(ctx, n.log, "waitUntilReady", func() bool {
		pod, err := n.clientset.CoreV1().Pods(n.Namespace).Get(ctx, n.podName, metav1.GetOptions{})
		if err != nil {
			return false
		}
		if pod.Status.Phase != corev1.PodRunning {
			return false
		}
		for _, c := range pod.Status.Conditions {
			if c.Type == corev1.PodReady && c.Status == corev1.ConditionTrue {
				return true
			}
		}
		return false
	}, instantiateTimeout, instantiatePollInterval)
	if !ready {
		return &lfterrors.LftError{Code: lfterrors.ErrReadinessTimeout, Message: fmt.Sprintf("pod %s did not become ready within %s", n.podName, instantiateTimeout)}
	}
	return nil
}

// Connect joins this node to peer via a veth pair: ifaceName on this node,
// peerIfaceName on peer. Both ends are created in the root namespace and
// moved into each pod's network namespace.
func (n *Node) Connect(ctx context.Context, peer Facade, ifaceName, peerIfaceName string, reconnect bool) error {
	pid1, err := n.resolver.PidOf(ctx, n.podName)
	if err != nil {
		return err
	}
	pid2, err := n.resolver.PidOf(ctx, peer.PodName())
	if err != nil {
		return err
	}

	for _, end := range []struct {
		iface string
		pid   int
	}{{ifaceName, pid1}, {peerIfaceName, pid2}} {
		_, _ = n.effector.HostRun(ctx, fmt.Sprintf("ip link delete %s", end.iface))
		_, _ = n.effector.EnterNetns(ctx, end.pid, fmt.Sprintf("ip link delete %s", end.iface))
	}

	if _, err := n.effector.HostRun(ctx, fmt.Sprintf("ip link add %s type veth peer name %s", ifaceName, peerIfaceName)); err != nil {
		return err
	}
	if _, err := n.effector.HostRun(ctx, fmt.Sprintf("ip link set %s netns %d", ifaceName, pid1)); err != nil {
		return err
	}
	if _, err := n.effector.HostRun(ctx, fmt.Sprintf("ip link set %s netns %d", peerIfaceName, pid2)); err != nil {
		return err
	}
	if _, err := n.effector.EnterNetns(ctx, pid1, fmt.Sprintf("ip link set %s up", ifaceName)); err != nil {
		return err
	}
	if _, err := n.effector.EnterNetns(ctx, pid2, fmt.Sprintf("ip link set %s up", peerIfaceName)); err != nil {
		return err
	}

	if err := n.ConnectPort(ctx, ifaceName); err != nil {
		return err
	}
	if err := peer.ConnectPort(ctx, peerIfaceName); err != nil {
		return err
	}

	if !reconnect {
		if err := n.journal.Append(ctx, n.workloadName, topology.Operation{
			Op: topology.TagConnect, Peer: peer.Name(), InterfaceName: ifaceName, PeerInterfaceName: peerIfaceName,
		}); err != nil {
			return err
		}
		if err := n.journal.Append(ctx, peer.Name(), topology.Operation{
			Op: topology.TagConnect, Peer: n.workloadName, InterfaceName: peerIfaceName, PeerInterfaceName: ifaceName,
		}); err != nil {
			return err
		}
	}
	return nil
}

// ConnectPort plugs iface into this node's Open vSwitch bridge if the node
// is a Switch; it is a no-op for every other role. Connect calls this for
// both ends of a veth pair through the Facade interface, since the peer may
// be backed by a different Facade implementation than this node.
func (n *Node) ConnectPort(ctx context.Context, iface string) error {
	if n.Role() != topology.RoleSwitch {
		return nil
	}
	return n.connectInterface(ctx, iface)
}

// SetIP assigns ip/mask to interface inside the node's pod network
// namespace.
func (n *Node) SetIP(ctx context.Context, ip string, mask int, iface string, reconnect bool) error {
	if !reconnect {
		if err := n.journal.Append(ctx, n.workloadName, topology.Operation{Op: topology.TagSetIP, IP: ip, Mask: mask, Interface: iface}); err != nil {
			return err
		}
	}
	if _, err := n.effector.ExecInPod(ctx, n.podName, fmt.Sprintf("ip addr add %s/%d dev %s", ip, mask, iface)); err != nil {
		return err
	}
	_, err := n.effector.ExecInPod(ctx, n.podName, fmt.Sprintf("ip link set %s up", iface))
	return err
}

// SetDefaultGateway installs gatewayIP as the default route out of
// interfaceName inside the node's pod.
func (n *Node) SetDefaultGateway(ctx context.Context, gatewayIP, interfaceName string, reconnect bool) error {
	if !reconnect {
		if err := n.journal.Append(ctx, n.workloadName, topology.Operation{Op: topology.TagSetDefaultGateway, GatewayIP: gatewayIP, IfacePeer: interfaceName}); err != nil {
			return err
		}
	}
	pid, err := n.resolver.PidOf(ctx, n.podName)
	if err != nil {
		return err
	}
	_, _ = n.effector.EnterNetns(ctx, pid, "ip route del default")
	_, err = n.effector.EnterNetns(ctx, pid, fmt.Sprintf("ip route add default via %s dev %s", gatewayIP, interfaceName))
	return err
}

// AddRoute installs a static route to ip/mask via interfaceName inside the
// node's pod. Journaling this operation under the addRoute tag is an
// extension over the distilled behavior; see DESIGN.md.
func (n *Node) AddRoute(ctx context.Context, ip string, mask int, interfaceName string, reconnect bool) error {
	if !reconnect {
		if err := n.journal.Append(ctx, n.workloadName, topology.Operation{Op: topology.TagAddRoute, IP: ip, Mask: mask, RouteIface: interfaceName}); err != nil {
			return err
		}
	}
	pid, err := n.resolver.PidOf(ctx, n.podName)
	if err != nil {
		return err
	}
	_, err = n.effector.EnterNetns(ctx, pid, fmt.Sprintf("ip route add %s/%d dev %s", ip, mask, interfaceName))
	return err
}

// ConnectToInternet bridges the node to the host's default route: a veth
// pair is created with one end moved into the pod and the other kept on
// the host, NAT'd through the host's default gateway interface.
func (n *Node) ConnectToInternet(ctx context.Context, ip string, mask int, nodeIface, hostIface string, reconnect bool) error {
	if !reconnect {
		if err := n.journal.Append(ctx, n.workloadName, topology.Operation{Op: topology.TagConnectToInternet, IP: ip, Mask: mask, NodeIface: nodeIface, HostIface: hostIface}); err != nil {
			return err
		}
	}
	pid, err := n.resolver.PidOf(ctx, n.podName)
	if err != nil {
		return err
	}

	_, _ = n.effector.HostRun(ctx, fmt.Sprintf("ip link del %s", nodeIface))
	_, _ = n.effector.HostRun(ctx, fmt.Sprintf("ip link del %s", hostIface))
	if _, err := n.effector.HostRun(ctx, fmt.Sprintf("ip link add %s type veth peer name %s", nodeIface, hostIface)); err != nil {
		return err
	}
	if _, err := n.effector.HostRun(ctx, fmt.Sprintf("ip link set %s netns %d", nodeIface, pid)); err != nil {
		return err
	}
	if _, err := n.effector.EnterNetns(ctx, pid, fmt.Sprintf("ip link set %s up", nodeIface)); err != nil {
		return err
	}

	if n.Role() == topology.RoleSwitch {
		if err := n.createPort(ctx, nodeIface); err != nil {
			return err
		}
	}

	if _, err := n.effector.HostRun(ctx, fmt.Sprintf("ip link set %s up", hostIface)); err != nil {
		return err
	}
	if _, err := n.effector.HostRun(ctx, fmt.Sprintf("ip addr add %s/%d dev %s", ip, mask, hostIface)); err != nil {
		return err
	}
	hostGatewayOut, err := n.effector.HostRun(ctx, "ip route show default | awk '{print $5}'")
	if err != nil {
		return err
	}
	hostGateway := strings.TrimSpace(hostGatewayOut)

	if _, err := n.effector.HostRun(ctx, fmt.Sprintf("iptables -t nat -I POSTROUTING -o %s -j MASQUERADE", hostGateway)); err != nil {
		return err
	}
	if _, err := n.effector.HostRun(ctx, fmt.Sprintf("iptables -A FORWARD -i %s -o %s -j ACCEPT", hostIface, hostGateway)); err != nil {
		return err
	}
	_, err = n.effector.HostRun(ctx, fmt.Sprintf("iptables -A FORWARD -i %s -o %s -j ACCEPT", hostGateway, hostIface))
	return err
}

// SetController binds this switch's Open vSwitch bridge to a remote
// OpenFlow controller. Only valid when Role is RoleSwitch.
func (n *Node) SetController(ctx context.Context, controllerIP string, controllerPort int, protocol string, reconnect bool) error {
	if n.Role() != topology.RoleSwitch {
		return fmt.Errorf("setController is only valid for switch nodes, got role %s", n.Role())
	}
	if !reconnect {
		if err := n.journal.Append(ctx, n.workloadName, topology.Operation{
			Op: topology.TagSetController, ControllerIP: controllerIP, ControllerPort: controllerPort, Protocol: protocol,
		}); err != nil {
			return err
		}
	}
	bridge := n.bridgeName()
	if _, err := n.effector.ExecInPod(ctx, n.podName, fmt.Sprintf("ovs-vsctl del-controller %s || true", bridge)); err != nil {
		return err
	}
	if _, err := n.effector.ExecInPod(ctx, n.podName, fmt.Sprintf("ovs-vsctl set-controller %s %s:%s:%d", bridge, protocol, controllerIP, controllerPort)); err != nil {
		return err
	}
	_, err := n.effector.ExecInPod(ctx, n.podName, fmt.Sprintf("ovs-vsctl set-fail-mode %s secure", bridge))
	return err
}

// InitController launches the Ryu SDN controller application inside this
// node's pod and waits for it to start listening on port. Only valid when
// Role is RoleController.
func (n *Node) InitController(ctx context.Context, ip string, port int, appPath string, reconnect bool) error {
	if n.Role() != topology.RoleController {
		return fmt.Errorf("initController is only valid for controller nodes, got role %s", n.Role())
	}
	resolvedIP := ip
	if resolvedIP == "" {
		var err error
		resolvedIP, err = n.IP(ctx)
		if err != nil {
			return err
		}
	}
	if !reconnect {
		if err := n.journal.Append(ctx, n.workloadName, topology.Operation{Op: topology.TagInitController, IP: resolvedIP, Port: port, AppPath: appPath}); err != nil {
			return err
		}
	}
	if _, err := n.effector.ExecInPod(ctx, n.podName, fmt.Sprintf("nohup ryu-manager --ofp-tcp-listen-port %d %s > /tmp/ryu.log 2>&1 &", port, appPath)); err != nil {
		return err
	}
	return n.waitForRyu(ctx, port)
}

func (n *Node) waitForRyu(ctx context.Context, port int) error {
	portStr := fmt.Sprintf("%d", port)
	ready := util.RetryUntilPredicate(ctx, n.log, "waitForRyu", func() bool {
		out, err := n.effector.ExecInPod(ctx, n.podName, "ss -lntp")
		if err != nil {
			return false
		}
		return strings.Contains(out, portStr)
	}, controllerStartTimeout, time.Second)
	if !ready {
		return &lfterrors.LftError{Code: lfterrors.ErrReadinessTimeout, Message: fmt.Sprintf("ryu controller did not start listening on port %d within %s", port, controllerStartTimeout)}
	}
	return nil
}

// IP returns this controller's own pod cluster IP, resolved via the
// Kubernetes API rather than shelling `hostname -i` inside the pod, since
// the process already holds a clientset.
func (n *Node) IP(ctx context.Context) (string, error) {
	pod, err := n.clientset.CoreV1().Pods(n.Namespace).Get(ctx, n.podName, metav1.GetOptions{})
	if err != nil {
		return "", lfterrors.WrapError(err, lfterrors.ErrIdentity, fmt.Sprintf("failed to read pod %s for its ip", n.podName))
	}
	if pod.Status.PodIP == "" {
		return "", &lfterrors.LftError{Code: lfterrors.ErrIdentity, Message: fmt.Sprintf("pod %s has no assigned ip yet", n.podName)}
	}
	return pod.Status.PodIP, nil
}

// Operations returns the sequence of operations durably recorded for this
// node, in the order the reconciler must replay them.
func (n *Node) Operations(ctx context.Context) ([]topology.Operation, error) {
	return n.journal.Read(ctx, n.workloadName)
}

// EnsureBridge creates this node's Open vSwitch bridge if it does not
// already exist. It is a no-op for non-Switch roles. The reconciler calls
// this before replaying a switch's journal, since a recreated pod starts
// without its bridge.
func (n *Node) EnsureBridge(ctx context.Context) error {
	if n.Role() != topology.RoleSwitch {
		return nil
	}
	return n.createBridge(ctx)
}

// bridgeName is the Open vSwitch bridge name for a switch node: its
// workload name, matching the distilled source's nodeName[:-2] slice off
// the pod suffix.
func (n *Node) bridgeName() string {
	return n.workloadName
}

// createBridge creates this switch's Open vSwitch bridge if it does not
// already exist. It is idempotent so that a reconciler replay after pod
// recreation does not fail on an existing bridge.
func (n *Node) createBridge(ctx context.Context) error {
	bridge := n.bridgeName()
	if _, err := n.effector.ExecInPod(ctx, n.podName, fmt.Sprintf("ovs-vsctl br-exists %s", bridge)); err == nil {
		return nil
	}
	if _, err := n.effector.ExecInPod(ctx, n.podName, fmt.Sprintf("ovs-vsctl add-br %s", bridge)); err != nil {
		return err
	}
	_, err := n.effector.ExecInPod(ctx, n.podName, fmt.Sprintf("ip link set %s up", bridge))
	return err
}

// connectInterface plugs iface into this switch's bridge as an Open
// vSwitch port. Called by Connect for either end that is a switch.
func (n *Node) connectInterface(ctx context.Context, iface string) error {
	bridge := n.bridgeName()
	if _, err := n.effector.ExecInPod(ctx, n.podName, fmt.Sprintf("ovs-vsctl add-port %s %s", bridge, iface)); err != nil {
		return err
	}
	_, err := n.effector.ExecInPod(ctx, n.podName, fmt.Sprintf("ip link set %s up", iface))
	return err
}

// createPort plugs the pod-side end of the internet-gateway veth into this
// switch's bridge. Called by ConnectToInternet when this node is a switch.
func (n *Node) createPort(ctx context.Context, iface string) error {
	_, err := n.effector.ExecInPod(ctx, n.podName, fmt.Sprintf("ovs-vsctl add-port %s %s", n.bridgeName(), iface))
	return err
}

func (n *Node) buildStatefulSetManifest() *appsv1.StatefulSet {
	image := n.Declaration.Image
	if image == "" {
		image = topology.DefaultImages[n.Role()]
	}
	resources := corev1.ResourceList{}
	if n.Declaration.Resources.CPU != "" {
		resources[corev1.ResourceCPU] = resourceQuantity(n.Declaration.Resources.CPU)
	}
	if n.Declaration.Resources.Memory != "" {
		resources[corev1.ResourceMemory] = resourceQuantity(n.Declaration.Resources.Memory)
	}

	securityContext := &corev1.SecurityContext{
		Capabilities: &corev1.Capabilities{Add: []corev1.Capability{"NET_ADMIN", "NET_RAW"}},
	}
	if n.Declaration.Privileged {
		privileged := true
		securityContext.Privileged = &privileged
	}

	labels := map[string]string{topology.DefaultLabelKey: topology.DefaultLabelValue}
	replicas := int32(1)

	return &appsv1.StatefulSet{
		ObjectMeta: metav1.ObjectMeta{
			Name:      n.workloadName,
			Namespace: n.Namespace,
			Labels:    labels,
		},
		Spec: appsv1.StatefulSetSpec{
			ServiceName: n.workloadName,
			Replicas:    &replicas,
			Selector:    &metav1.LabelSelector{MatchLabels: labels},
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: labels},
				Spec: corev1.PodSpec{
					RestartPolicy: corev1.RestartPolicyAlways,
					Containers: []corev1.Container{
						{
							Name:            "main",
							Image:           image,
							Stdin:           true,
							TTY:             true,
							SecurityContext: securityContext,
							Resources: corev1.ResourceRequirements{
								Limits: resources,
							},
						},
					},
				},
			},
		},
	}
}

func resourceQuantity(s string) resource.Quantity {
	return resource.MustParse(s)
}
